package cache

import "context"

type EnvelopeCacheItem struct {
	EnvelopeId string
	Score      int64
	Data       []byte
}

// SealwireCache is the hot path in front of the MessageStore: recent
// conversation windows plus the pub/sub fabric the delivery hub fans
// out on. Envelopes are append-only, so there is no removal.
type SealwireCache interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error

	AddEnvelope(ctx context.Context, convKey string, envelopeId string, score int64, envelopeData []byte) error
	AddEnvelopesBatch(ctx context.Context, convKey string, envelopes []EnvelopeCacheItem) error
	GetEnvelopes(ctx context.Context, convKey string) ([][]byte, error)

	SetConversationComplete(ctx context.Context, convKey string) error
	IsConversationComplete(ctx context.Context, convKey string) (bool, error)
}
