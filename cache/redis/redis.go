package redis

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ebelyak/sealwire/cache"
)

type RedisSealwireCache struct {
	client redis.UniversalClient
}

func NewRedisSealwireCache(ctx context.Context, devMode bool, redisEndpoint string) (*RedisSealwireCache, error) {
	var client redis.UniversalClient
	if devMode {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
			// AWS elasticache endpoints require TLS
			TLSConfig: &tls.Config{},
		})
	}

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return &RedisSealwireCache{client: client}, nil
}

func (redisCache *RedisSealwireCache) Publish(ctx context.Context, channel string, message []byte) error {
	if err := redisCache.client.Publish(ctx, channel, message).Err(); err != nil {
		return err
	}
	return nil
}

func (redisCache *RedisSealwireCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	pubsub := redisCache.client.Subscribe(ctx, channel)
	// Ensure subscription is established
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		log.WithField("channel", channel).Warn("pubsub subscribe failed")
		return err
	}

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

// Helper functions to generate Redis keys with hash tags for cluster compatibility
func buildConvKey(convKey string) string {
	return "conv:{" + convKey + "}"
}

func buildConvDataKey(convKey string) string {
	return "conv:{" + convKey + "}:data"
}

func buildConvCompleteKey(convKey string) string {
	return "conv:{" + convKey + "}:complete"
}

const cacheTTL = 10 * time.Minute

// recentWindow bounds how many envelopes per conversation stay hot.
const recentWindow = 100

// Split index/data layout per conversation:
// 1. ZSet ("conv:{key}"): envelope IDs ordered by CreatedAt (Score),
//    which keeps the window chronologically sorted without re-sorting
//    on read.
// 2. Hash ("conv:{key}:data"): envelope ID -> JSON blob, fetched with
//    one HMGET after reading the IDs from the ZSet.
func (redisCache *RedisSealwireCache) AddEnvelope(ctx context.Context, convKey string, envelopeId string, score int64, envelopeData []byte) error {
	key := buildConvKey(convKey)
	dataKey := buildConvDataKey(convKey)
	completeKey := buildConvCompleteKey(convKey)

	pipe := redisCache.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: envelopeId})
	pipe.HSet(ctx, dataKey, envelopeId, envelopeData)
	pipe.Expire(ctx, completeKey, cacheTTL)
	pipe.Expire(ctx, key, cacheTTL)
	pipe.Expire(ctx, dataKey, cacheTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (redisCache *RedisSealwireCache) AddEnvelopesBatch(ctx context.Context, convKey string, envelopes []cache.EnvelopeCacheItem) error {
	if len(envelopes) == 0 {
		return nil
	}

	key := buildConvKey(convKey)
	dataKey := buildConvDataKey(convKey)
	completeKey := buildConvCompleteKey(convKey)

	zMembers := make([]redis.Z, len(envelopes))
	// A flat list of key, value, key, value... is most efficient for HSet in go-redis
	hValues := make([]interface{}, len(envelopes)*2)

	for i, e := range envelopes {
		zMembers[i] = redis.Z{
			Score:  float64(e.Score),
			Member: e.EnvelopeId,
		}
		hValues[i*2] = e.EnvelopeId
		hValues[i*2+1] = e.Data
	}

	pipe := redisCache.client.Pipeline()
	pipe.ZAdd(ctx, key, zMembers...)
	pipe.HSet(ctx, dataKey, hValues...)
	pipe.Expire(ctx, completeKey, cacheTTL)
	pipe.Expire(ctx, key, cacheTTL)
	pipe.Expire(ctx, dataKey, cacheTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (redisCache *RedisSealwireCache) GetEnvelopes(ctx context.Context, convKey string) ([][]byte, error) {
	key := buildConvKey(convKey)
	dataKey := buildConvDataKey(convKey)
	completeKey := buildConvCompleteKey(convKey)

	// 1. Get the most recent IDs from the ZSet, oldest first
	ids, err := redisCache.client.ZRange(ctx, key, -recentWindow, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return [][]byte{}, nil
	}

	// 2. Fetch data from Hash
	// HMGet returns interface{}, need to cast
	dataMap, err := redisCache.client.HMGet(ctx, dataKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	// 3. Assemble result
	envelopes := make([][]byte, 0, len(ids))
	for _, item := range dataMap {
		if item == nil {
			continue // Should not happen if consistency is maintained
		}
		if s, ok := item.(string); ok {
			envelopes = append(envelopes, []byte(s))
		}
	}

	// Refresh TTL
	pipe := redisCache.client.Pipeline()
	pipe.Expire(ctx, completeKey, cacheTTL)
	pipe.Expire(ctx, key, cacheTTL)
	pipe.Expire(ctx, dataKey, cacheTTL)
	_, _ = pipe.Exec(ctx)

	return envelopes, nil
}

// SetConversationComplete marks the cached window as holding everything
// the store would return, so reads can skip the store entirely until
// the TTL lapses.
func (redisCache *RedisSealwireCache) SetConversationComplete(ctx context.Context, convKey string) error {
	completeKey := buildConvCompleteKey(convKey)
	return redisCache.client.Set(ctx, completeKey, "true", cacheTTL).Err()
}

func (redisCache *RedisSealwireCache) IsConversationComplete(ctx context.Context, convKey string) (bool, error) {
	completeKey := buildConvCompleteKey(convKey)
	val, err := redisCache.client.Exists(ctx, completeKey).Result()
	if err != nil {
		return false, err
	}
	return val > 0, nil
}
