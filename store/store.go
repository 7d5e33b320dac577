package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ebelyak/sealwire/models"
)

// MessageStore is the durable record of identities and envelopes.
// Envelopes are append-only: no edits, no deletes. Implementations
// must assign CreatedAt strictly increasing per store instance and make
// AppendEnvelope atomic under concurrent senders.
type MessageStore interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, username string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	// UpdateLastSeen records the offline timestamp written when a
	// user's last live connection drops.
	UpdateLastSeen(ctx context.Context, username string, lastSeen int64) error

	AppendEnvelope(ctx context.Context, env models.Envelope) (models.Envelope, error)
	// Conversation returns envelopes between the pair in either
	// direction: the most recent `limit`, presented oldest first.
	Conversation(ctx context.Context, userA, userB string, limit int) ([]models.Envelope, error)
	// ConversationsFor aggregates one summary per counterpart, newest
	// conversation first. Always recomputed from envelopes.
	ConversationsFor(ctx context.Context, username string) ([]models.ConversationSummary, error)
}

// Custom error types for clarity
var (
	ErrItemNotFound  = errors.New("item does not exist")
	ErrAlreadyExists = errors.New("item already exists")
	ErrValidation    = errors.New("envelope failed validation")
	ErrUnavailable   = errors.New("store unavailable")
)

// ConversationKey is the canonical key for the unordered user pair:
// the two usernames sorted and joined with '#'.
func ConversationKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + "#" + userB
}

// ValidateEnvelope enforces the fields AppendEnvelope requires.
func ValidateEnvelope(env models.Envelope) error {
	switch {
	case env.From == "":
		return fmt.Errorf("%w: missing from", ErrValidation)
	case env.To == "":
		return fmt.Errorf("%w: missing to", ErrValidation)
	case len(env.EncryptedContent) == 0:
		return fmt.Errorf("%w: missing encryptedContent", ErrValidation)
	case len(env.EncryptedKey) == 0:
		return fmt.Errorf("%w: missing encryptedAESKey", ErrValidation)
	}
	switch env.MessageType {
	case models.MessageText, models.MessageFile:
	default:
		return fmt.Errorf("%w: unknown messageType %q", ErrValidation, env.MessageType)
	}
	return nil
}
