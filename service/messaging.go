package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/ebelyak/sealwire/cache"
	"github.com/ebelyak/sealwire/models"
	"github.com/ebelyak/sealwire/store"
)

// conversationWindow is how many envelopes a conversation read returns.
// Matches the cache's hot window so a complete cache can serve reads
// alone.
const conversationWindow = 100

var (
	ErrRecipientNotFound = errors.New("recipient does not exist")
	ErrSelfSend          = errors.New("cannot message yourself")
)

type SendParams struct {
	From     models.User
	To       string
	Envelope models.Envelope
}

type ReceiveMessageMessage struct {
	Type string          `json:"type"`
	Data models.Envelope `json:"data"`
}

// SendMessage persists the envelope, then kicks off cache fill and
// recipient fan-out in the background. The caller gets the stored
// envelope (with id and createdAt) as soon as the append lands; live
// delivery rides on pub/sub and is best effort.
func (s *Service) SendMessage(ctx context.Context, params SendParams) (models.Envelope, error) {
	env := params.Envelope
	env.From = params.From.Username
	env.To = params.To

	if env.To == env.From {
		return models.Envelope{}, ErrSelfSend
	}
	if err := ValidateEnvelopePayload(env); err != nil {
		return models.Envelope{}, err
	}

	if _, err := s.Store.GetUser(ctx, env.To); err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return models.Envelope{}, ErrRecipientNotFound
		}
		return models.Envelope{}, fmt.Errorf("recipient lookup failed: %w", err)
	}

	stored, err := s.Store.AppendEnvelope(ctx, env)
	if err != nil {
		return models.Envelope{}, err
	}

	// Async side-effects - return to caller as soon as the append is durable
	go func() {
		convKey := store.ConversationKey(stored.From, stored.To)

		envBytes, err := json.Marshal(stored)
		if err != nil {
			log.WithError(err).Error("failed to marshal stored envelope")
			return
		}

		if err := s.Cache.AddEnvelope(context.Background(), convKey, stored.Id, stored.CreatedAt, envBytes); err != nil {
			log.WithError(err).WithField("conversation", convKey).Warn("cache fill failed")
		}

		msg := ReceiveMessageMessage{
			Type: "receive_message",
			Data: stored,
		}
		msgBytes, _ := json.Marshal(msg)
		if err := s.Cache.Publish(context.Background(), InboxChannel(stored.To), msgBytes); err != nil {
			log.WithError(err).WithField("to", stored.To).Warn("delivery publish failed")
		}
	}()

	return stored, nil
}

// InboxChannel is the pub/sub channel carrying live envelopes for one
// recipient.
func InboxChannel(username string) string {
	return "inbox:" + username
}

// Conversation returns the recent window between the caller and the
// counterpart, oldest first. Serves straight from the cache when its
// window is marked complete, otherwise reads the store, merges anything
// newer the cache saw, and backfills the cache for the next read.
func (s *Service) Conversation(ctx context.Context, userA, userB string) ([]models.Envelope, error) {
	convKey := store.ConversationKey(userA, userB)

	cachedRaw, cacheErr := s.Cache.GetEnvelopes(ctx, convKey)
	cached := []models.Envelope{}
	if cacheErr == nil {
		for _, b := range cachedRaw {
			var env models.Envelope
			if err := json.Unmarshal(b, &env); err == nil {
				cached = append(cached, env)
			}
		}
	}

	isComplete, _ := s.Cache.IsConversationComplete(ctx, convKey)
	if isComplete && cacheErr == nil {
		return cached, nil
	}

	stored, err := s.Store.Conversation(ctx, userA, userB, conversationWindow)
	if err != nil {
		return nil, err
	}

	final := mergeEnvelopes(stored, cached)
	if len(final) > conversationWindow {
		final = final[len(final)-conversationWindow:]
	}

	batchItems := make([]cache.EnvelopeCacheItem, 0, len(stored))
	for _, env := range stored {
		envBytes, _ := json.Marshal(env)
		batchItems = append(batchItems, cache.EnvelopeCacheItem{
			EnvelopeId: env.Id,
			Score:      env.CreatedAt,
			Data:       envBytes,
		})
	}

	if len(batchItems) > 0 {
		s.Cache.AddEnvelopesBatch(ctx, convKey, batchItems)
	}
	// Mark complete even when currently empty
	s.Cache.SetConversationComplete(ctx, convKey)

	return final, nil
}

// mergeEnvelopes zips two createdAt-ascending slices, deduplicating by
// envelope id. Cache entries win on equal ids so a fresher marshal is
// kept.
func mergeEnvelopes(stored []models.Envelope, cached []models.Envelope) []models.Envelope {
	final := make([]models.Envelope, 0, len(stored)+len(cached))
	i, j := 0, 0
	for i < len(stored) && j < len(cached) {
		switch {
		case stored[i].Id == cached[j].Id:
			final = append(final, cached[j])
			i++
			j++
		case stored[i].CreatedAt < cached[j].CreatedAt:
			final = append(final, stored[i])
			i++
		default:
			final = append(final, cached[j])
			j++
		}
	}
	if i < len(stored) {
		final = append(final, stored[i:]...)
	}
	if j < len(cached) {
		final = append(final, cached[j:]...)
	}
	return final
}

// Conversations lists the caller's counterparts, most recently active
// first. Always derived from the envelope log.
func (s *Service) Conversations(ctx context.Context, username string) ([]models.ConversationSummary, error) {
	return s.Store.ConversationsFor(ctx, username)
}
