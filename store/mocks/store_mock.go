package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ebelyak/sealwire/models"
)

// MockMessageStore is a testify mock of store.MessageStore.
type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockMessageStore) GetUser(ctx context.Context, username string) (models.User, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockMessageStore) ListUsers(ctx context.Context) ([]models.User, error) {
	args := m.Called(ctx)
	users, _ := args.Get(0).([]models.User)
	return users, args.Error(1)
}

func (m *MockMessageStore) UpdateLastSeen(ctx context.Context, username string, lastSeen int64) error {
	args := m.Called(ctx, username, lastSeen)
	return args.Error(0)
}

func (m *MockMessageStore) AppendEnvelope(ctx context.Context, env models.Envelope) (models.Envelope, error) {
	args := m.Called(ctx, env)
	return args.Get(0).(models.Envelope), args.Error(1)
}

func (m *MockMessageStore) Conversation(ctx context.Context, userA, userB string, limit int) ([]models.Envelope, error) {
	args := m.Called(ctx, userA, userB, limit)
	envelopes, _ := args.Get(0).([]models.Envelope)
	return envelopes, args.Error(1)
}

func (m *MockMessageStore) ConversationsFor(ctx context.Context, username string) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, username)
	summaries, _ := args.Get(0).([]models.ConversationSummary)
	return summaries, args.Error(1)
}
