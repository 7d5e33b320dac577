package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ebelyak/sealwire/cache"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Publish(ctx context.Context, channel string, message []byte) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *MockCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	args := m.Called(ctx, channel, handler)
	return args.Error(0)
}

func (m *MockCache) AddEnvelope(ctx context.Context, convKey string, envelopeId string, score int64, envelopeData []byte) error {
	args := m.Called(ctx, convKey, envelopeId, score, envelopeData)
	return args.Error(0)
}

func (m *MockCache) AddEnvelopesBatch(ctx context.Context, convKey string, envelopes []cache.EnvelopeCacheItem) error {
	args := m.Called(ctx, convKey, envelopes)
	return args.Error(0)
}

func (m *MockCache) GetEnvelopes(ctx context.Context, convKey string) ([][]byte, error) {
	args := m.Called(ctx, convKey)
	return args.Get(0).([][]byte), args.Error(1)
}

func (m *MockCache) SetConversationComplete(ctx context.Context, convKey string) error {
	args := m.Called(ctx, convKey)
	return args.Error(0)
}

func (m *MockCache) IsConversationComplete(ctx context.Context, convKey string) (bool, error) {
	args := m.Called(ctx, convKey)
	return args.Bool(0), args.Error(1)
}
