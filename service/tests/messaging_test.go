package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ebelyak/sealwire/models"
	"github.com/ebelyak/sealwire/service"
	"github.com/ebelyak/sealwire/store"
)

func sendParams(from, to string) service.SendParams {
	return service.SendParams{
		From: models.User{Username: from},
		To:   to,
		Envelope: models.Envelope{
			EncryptedContent: []byte("ciphertext"),
			EncryptedKey:     []byte("wrapped-content-key"),
			MessageType:      models.MessageText,
		},
	}
}

func TestSendMessage_Success(t *testing.T) {
	svc, mockStore, mockCache := setupService(t)
	ctx := context.Background()

	params := sendParams("alice", "bob")
	convKey := store.ConversationKey("alice", "bob")

	mockStore.On("GetUser", ctx, "bob").Return(models.User{Username: "bob"}, nil)
	mockStore.On("AppendEnvelope", ctx, mock.MatchedBy(func(e models.Envelope) bool {
		return e.From == "alice" && e.To == "bob"
	})).Return(models.Envelope{
		Id:               "env1",
		From:             "alice",
		To:               "bob",
		EncryptedContent: params.Envelope.EncryptedContent,
		EncryptedKey:     params.Envelope.EncryptedKey,
		MessageType:      models.MessageText,
		CreatedAt:        1000,
	}, nil)

	// Async side effects - use channels for synchronization
	addDone := wrapMockWithSignal(mockCache.On("AddEnvelope", mock.Anything, convKey, "env1", int64(1000), mock.Anything).Return(nil))
	publishDone := wrapMockWithSignal(mockCache.On("Publish", mock.Anything, service.InboxChannel("bob"), mock.Anything).Return(nil))

	stored, err := svc.SendMessage(ctx, params)

	assert.NoError(t, err)
	assert.Equal(t, "env1", stored.Id)
	assert.Equal(t, int64(1000), stored.CreatedAt)

	select {
	case <-addDone:
	case <-time.After(1 * time.Second):
		assert.Fail(t, "timed out waiting for AddEnvelope")
	}

	select {
	case <-publishDone:
	case <-time.After(1 * time.Second):
		assert.Fail(t, "timed out waiting for Publish")
	}
}

func TestSendMessage_PublishPayloadIsReceiveMessage(t *testing.T) {
	svc, mockStore, mockCache := setupService(t)
	ctx := context.Background()

	params := sendParams("alice", "bob")

	mockStore.On("GetUser", ctx, "bob").Return(models.User{Username: "bob"}, nil)
	mockStore.On("AppendEnvelope", ctx, mock.Anything).Return(models.Envelope{
		Id: "env1", From: "alice", To: "bob",
		EncryptedContent: []byte("c"), EncryptedKey: []byte("k"),
		MessageType: models.MessageText, CreatedAt: 7,
	}, nil)
	mockCache.On("AddEnvelope", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	var payload []byte
	publishDone := make(chan struct{})
	mockCache.On("Publish", mock.Anything, service.InboxChannel("bob"), mock.Anything).
		Run(func(args mock.Arguments) {
			payload = args.Get(2).([]byte)
			close(publishDone)
		}).
		Return(nil)

	_, err := svc.SendMessage(ctx, params)
	require.NoError(t, err)

	select {
	case <-publishDone:
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for Publish")
	}
	require.NotNil(t, payload)

	var msg service.ReceiveMessageMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, "receive_message", msg.Type)
	assert.Equal(t, "env1", msg.Data.Id)
	assert.Equal(t, "alice", msg.Data.From)
}

func TestSendMessage_RecipientMissing(t *testing.T) {
	svc, mockStore, mockCache := setupService(t)
	ctx := context.Background()

	mockStore.On("GetUser", ctx, "ghost").Return(models.User{}, store.ErrItemNotFound)

	_, err := svc.SendMessage(ctx, sendParams("alice", "ghost"))
	assert.ErrorIs(t, err, service.ErrRecipientNotFound)

	mockStore.AssertNotCalled(t, "AppendEnvelope", mock.Anything, mock.Anything)
	mockCache.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessage_SelfSend(t *testing.T) {
	svc, mockStore, _ := setupService(t)

	_, err := svc.SendMessage(context.Background(), sendParams("alice", "alice"))
	assert.ErrorIs(t, err, service.ErrSelfSend)
	mockStore.AssertNotCalled(t, "AppendEnvelope", mock.Anything, mock.Anything)
}

func TestSendMessage_EmptyPayload(t *testing.T) {
	svc, mockStore, _ := setupService(t)

	params := sendParams("alice", "bob")
	params.Envelope.EncryptedContent = nil

	_, err := svc.SendMessage(context.Background(), params)
	assert.Error(t, err)
	mockStore.AssertNotCalled(t, "AppendEnvelope", mock.Anything, mock.Anything)
}

func TestSendMessage_AsyncCacheFails(t *testing.T) {
	svc, mockStore, mockCache := setupService(t)
	ctx := context.Background()

	params := sendParams("alice", "bob")

	mockStore.On("GetUser", ctx, "bob").Return(models.User{Username: "bob"}, nil)
	mockStore.On("AppendEnvelope", ctx, mock.Anything).Return(models.Envelope{
		Id: "env1", From: "alice", To: "bob",
		EncryptedContent: []byte("c"), EncryptedKey: []byte("k"),
		MessageType: models.MessageText, CreatedAt: 1,
	}, nil)

	// Cache and pub/sub fail in the async goroutine
	mockCache.On("AddEnvelope", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis connection failed"))
	publishDone := wrapMockWithSignal(mockCache.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("pubsub failed")))

	stored, err := svc.SendMessage(ctx, params)

	// Should still succeed (async errors don't affect return)
	assert.NoError(t, err)
	assert.Equal(t, "env1", stored.Id)

	select {
	case <-publishDone:
	case <-time.After(1 * time.Second):
		assert.Fail(t, "timed out waiting for Publish")
	}
}

func TestSendMessage_StoreFails(t *testing.T) {
	svc, mockStore, mockCache := setupService(t)
	ctx := context.Background()

	mockStore.On("GetUser", ctx, "bob").Return(models.User{Username: "bob"}, nil)
	mockStore.On("AppendEnvelope", ctx, mock.Anything).Return(models.Envelope{}, store.ErrUnavailable)

	_, err := svc.SendMessage(ctx, sendParams("alice", "bob"))
	assert.ErrorIs(t, err, store.ErrUnavailable)

	// No fan-out when the append never landed.
	time.Sleep(50 * time.Millisecond)
	mockCache.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func cachedEnvelopeBytes(t *testing.T, env models.Envelope) []byte {
	t.Helper()
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return b
}

func TestConversation_ServedFromCompleteCache(t *testing.T) {
	svc, mockStore, mockCache := setupService(t)
	ctx := context.Background()

	convKey := store.ConversationKey("alice", "bob")
	env := models.Envelope{Id: "env1", From: "alice", To: "bob", CreatedAt: 1}

	mockCache.On("GetEnvelopes", ctx, convKey).Return([][]byte{cachedEnvelopeBytes(t, env)}, nil)
	mockCache.On("IsConversationComplete", ctx, convKey).Return(true, nil)

	envelopes, err := svc.Conversation(ctx, "alice", "bob")
	assert.NoError(t, err)
	require.Len(t, envelopes, 1)
	assert.Equal(t, "env1", envelopes[0].Id)

	mockStore.AssertNotCalled(t, "Conversation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConversation_IncompleteCacheMergesAndBackfills(t *testing.T) {
	svc, mockStore, mockCache := setupService(t)
	ctx := context.Background()

	convKey := store.ConversationKey("alice", "bob")

	// Cache has a fresher envelope the store query hasn't seen yet.
	cachedOnly := models.Envelope{Id: "env3", From: "bob", To: "alice", CreatedAt: 3}
	shared := models.Envelope{Id: "env2", From: "alice", To: "bob", CreatedAt: 2}
	storedOnly := models.Envelope{Id: "env1", From: "alice", To: "bob", CreatedAt: 1}

	mockCache.On("GetEnvelopes", ctx, convKey).Return([][]byte{
		cachedEnvelopeBytes(t, shared),
		cachedEnvelopeBytes(t, cachedOnly),
	}, nil)
	mockCache.On("IsConversationComplete", ctx, convKey).Return(false, nil)
	mockStore.On("Conversation", ctx, "alice", "bob", mock.Anything).Return([]models.Envelope{storedOnly, shared}, nil)
	mockCache.On("AddEnvelopesBatch", ctx, convKey, mock.Anything).Return(nil)
	mockCache.On("SetConversationComplete", ctx, convKey).Return(nil)

	envelopes, err := svc.Conversation(ctx, "alice", "bob")
	assert.NoError(t, err)
	require.Len(t, envelopes, 3)
	assert.Equal(t, "env1", envelopes[0].Id)
	assert.Equal(t, "env2", envelopes[1].Id)
	assert.Equal(t, "env3", envelopes[2].Id)

	mockCache.AssertCalled(t, "AddEnvelopesBatch", ctx, convKey, mock.Anything)
}

func TestConversation_EmptyMarksComplete(t *testing.T) {
	svc, mockStore, mockCache := setupService(t)
	ctx := context.Background()

	convKey := store.ConversationKey("alice", "bob")

	mockCache.On("GetEnvelopes", ctx, convKey).Return([][]byte{}, nil)
	mockCache.On("IsConversationComplete", ctx, convKey).Return(false, nil)
	mockStore.On("Conversation", ctx, "alice", "bob", mock.Anything).Return([]models.Envelope{}, nil)
	mockCache.On("SetConversationComplete", ctx, convKey).Return(nil)

	envelopes, err := svc.Conversation(ctx, "alice", "bob")
	assert.NoError(t, err)
	assert.Empty(t, envelopes)

	mockCache.AssertCalled(t, "SetConversationComplete", ctx, convKey)
	mockCache.AssertNotCalled(t, "AddEnvelopesBatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestConversations_Delegates(t *testing.T) {
	svc, mockStore, _ := setupService(t)
	ctx := context.Background()

	summaries := []models.ConversationSummary{
		{OtherUser: "bob", MessageCount: 4},
	}
	mockStore.On("ConversationsFor", ctx, "alice").Return(summaries, nil)

	got, err := svc.Conversations(ctx, "alice")
	assert.NoError(t, err)
	assert.Equal(t, summaries, got)
}
