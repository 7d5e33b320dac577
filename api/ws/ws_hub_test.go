package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebelyak/sealwire/cache"
	"github.com/ebelyak/sealwire/models"
	"github.com/ebelyak/sealwire/service"
	"github.com/ebelyak/sealwire/worker"
)

// fakePubSubCache is an in-process pub/sub fabric standing in for redis.
type fakePubSubCache struct {
	mu   sync.Mutex
	subs map[string][]fakeSub
}

type fakeSub struct {
	ctx     context.Context
	handler func(message []byte)
}

func newFakePubSubCache() *fakePubSubCache {
	return &fakePubSubCache{subs: make(map[string][]fakeSub)}
}

func (f *fakePubSubCache) Publish(ctx context.Context, channel string, message []byte) error {
	f.mu.Lock()
	subs := append([]fakeSub(nil), f.subs[channel]...)
	f.mu.Unlock()

	for _, sub := range subs {
		if sub.ctx.Err() == nil {
			sub.handler(message)
		}
	}
	return nil
}

func (f *fakePubSubCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[channel] = append(f.subs[channel], fakeSub{ctx: ctx, handler: handler})
	return nil
}

func (f *fakePubSubCache) AddEnvelope(ctx context.Context, convKey string, envelopeId string, score int64, envelopeData []byte) error {
	return nil
}

func (f *fakePubSubCache) AddEnvelopesBatch(ctx context.Context, convKey string, envelopes []cache.EnvelopeCacheItem) error {
	return nil
}

func (f *fakePubSubCache) GetEnvelopes(ctx context.Context, convKey string) ([][]byte, error) {
	return [][]byte{}, nil
}

func (f *fakePubSubCache) SetConversationComplete(ctx context.Context, convKey string) error {
	return nil
}

func (f *fakePubSubCache) IsConversationComplete(ctx context.Context, convKey string) (bool, error) {
	return false, nil
}

func setupHub() (*Hub, *worker.PresenceBatcher, *fakePubSubCache) {
	fakeCache := newFakePubSubCache()
	batcher := worker.NewPresenceBatcher(nil, 60_000)
	hub := NewHub(fakeCache, batcher)
	go hub.Run()
	return hub, batcher, fakeCache
}

func newTestClient(hub *Hub, username string) *Client {
	return &Client{
		hub:  hub,
		user: models.User{Username: username},
		Send: make(chan []byte, 128),
	}
}

type typedMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func nextMessage(t *testing.T, client *Client) typedMessage {
	t.Helper()
	select {
	case raw := <-client.Send:
		var msg typedMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ws message")
		return typedMessage{}
	}
}

func TestHubSendsActiveUsersOnOpen(t *testing.T) {
	hub, _, _ := setupHub()

	alice := newTestClient(hub, "alice")
	hub.OpenCh <- alice

	msg := nextMessage(t, alice)
	assert.Equal(t, "active_users", msg.Type)

	var data activeUsersData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, []string{"alice"}, data.Usernames)
}

func TestHubBroadcastsUserJoinedAndLeft(t *testing.T) {
	hub, batcher, _ := setupHub()

	alice := newTestClient(hub, "alice")
	hub.OpenCh <- alice
	nextMessage(t, alice) // active_users

	bob := newTestClient(hub, "bob")
	hub.OpenCh <- bob
	nextMessage(t, bob) // active_users

	joined := nextMessage(t, alice)
	assert.Equal(t, "user_joined", joined.Type)
	var joinedData presenceData
	require.NoError(t, json.Unmarshal(joined.Data, &joinedData))
	assert.Equal(t, "bob", joinedData.Username)

	// Every connection also receives the refreshed snapshot.
	snapshot := nextMessage(t, alice)
	assert.Equal(t, "active_users", snapshot.Type)
	var snapshotData activeUsersData
	require.NoError(t, json.Unmarshal(snapshot.Data, &snapshotData))
	assert.ElementsMatch(t, []string{"alice", "bob"}, snapshotData.Usernames)

	hub.CloseCh <- bob

	left := nextMessage(t, alice)
	assert.Equal(t, "user_left", left.Type)
	var leftData presenceData
	require.NoError(t, json.Unmarshal(left.Data, &leftData))
	assert.Equal(t, "bob", leftData.Username)

	snapshot = nextMessage(t, alice)
	assert.Equal(t, "active_users", snapshot.Type)
	require.NoError(t, json.Unmarshal(snapshot.Data, &snapshotData))
	assert.Equal(t, []string{"alice"}, snapshotData.Usernames)

	// Last disconnect hands the offline timestamp to the batcher.
	select {
	case update := <-batcher.UpdateCh:
		assert.Equal(t, "bob", update.Username)
		assert.NotZero(t, update.LastSeen)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for presence update")
	}
}

func TestHubSecondConnectionDoesNotRebroadcastJoin(t *testing.T) {
	hub, batcher, _ := setupHub()

	alice := newTestClient(hub, "alice")
	hub.OpenCh <- alice
	nextMessage(t, alice) // active_users

	bobFirst := newTestClient(hub, "bob")
	hub.OpenCh <- bobFirst
	nextMessage(t, bobFirst) // active_users
	nextMessage(t, alice)    // user_joined
	nextMessage(t, alice)    // active_users

	bobSecond := newTestClient(hub, "bob")
	hub.OpenCh <- bobSecond
	nextMessage(t, bobSecond) // active_users

	// Dropping one of two connections keeps bob online.
	hub.CloseCh <- bobFirst

	select {
	case update := <-batcher.UpdateCh:
		t.Fatalf("unexpected presence update: %+v", update)
	case raw := <-alice.Send:
		t.Fatalf("unexpected broadcast to alice: %s", raw)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHubDeliversInboxToAllRecipientConnections(t *testing.T) {
	hub, _, fakeCache := setupHub()

	bobPhone := newTestClient(hub, "bob")
	bobLaptop := newTestClient(hub, "bob")
	hub.OpenCh <- bobPhone
	hub.OpenCh <- bobLaptop
	nextMessage(t, bobPhone)
	nextMessage(t, bobLaptop)

	envelope := []byte(`{"type":"receive_message","data":{"id":"env1","from":"alice","to":"bob"}}`)
	require.NoError(t, fakeCache.Publish(context.Background(), service.InboxChannel("bob"), envelope))

	for _, client := range []*Client{bobPhone, bobLaptop} {
		msg := nextMessage(t, client)
		assert.Equal(t, "receive_message", msg.Type)
	}
}

func TestHubCancelsInboxSubscriptionOnLastDisconnect(t *testing.T) {
	hub, batcher, fakeCache := setupHub()

	bob := newTestClient(hub, "bob")
	hub.OpenCh <- bob
	nextMessage(t, bob)

	hub.CloseCh <- bob
	<-batcher.UpdateCh // disconnect has been fully processed

	envelope := []byte(`{"type":"receive_message","data":{}}`)
	require.NoError(t, fakeCache.Publish(context.Background(), service.InboxChannel("bob"), envelope))

	select {
	case raw := <-bob.Send:
		t.Fatalf("message delivered after disconnect: %s", raw)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHubOnlineUsersSnapshot(t *testing.T) {
	hub, _, _ := setupHub()

	assert.Empty(t, hub.OnlineUsers())

	alice := newTestClient(hub, "alice")
	bob := newTestClient(hub, "bob")
	hub.OpenCh <- alice
	hub.OpenCh <- bob
	nextMessage(t, alice)
	nextMessage(t, bob)

	online := hub.OnlineUsers()
	assert.ElementsMatch(t, []string{"alice", "bob"}, online)
}

func TestHubDeliversInboxDuringConnectionChurn(t *testing.T) {
	hub, _, fakeCache := setupHub()

	bob := newTestClient(hub, "bob")
	hub.OpenCh <- bob
	nextMessage(t, bob) // active_users

	envelope := []byte(`{"type":"receive_message","data":{"from":"alice","to":"bob"}}`)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			assert.NoError(t, fakeCache.Publish(context.Background(), service.InboxChannel("bob"), envelope))
		}
	}()

	// Connections come and go while bob's inbox is hot.
	for i := 0; i < 25; i++ {
		extra := newTestClient(hub, "alice")
		hub.OpenCh <- extra
		hub.CloseCh <- extra
	}
	wg.Wait()

	assert.Contains(t, hub.OnlineUsers(), "bob")

	delivered := false
	for !delivered {
		msg := nextMessage(t, bob)
		if msg.Type == "receive_message" {
			delivered = true
		}
	}
}

func TestHubDoesNotBlockOnSlowConnection(t *testing.T) {
	hub, _, _ := setupHub()

	// A single-slot buffer left undrained keeps this connection full.
	stalled := &Client{
		hub:  hub,
		user: models.User{Username: "alice"},
		Send: make(chan []byte, 1),
	}
	hub.OpenCh <- stalled

	bob := newTestClient(hub, "bob")
	hub.OpenCh <- bob
	nextMessage(t, bob) // active_users

	carol := newTestClient(hub, "carol")
	hub.OpenCh <- carol

	// alice's full buffer must not stall the broadcast for bob.
	joined := nextMessage(t, bob)
	assert.Equal(t, "user_joined", joined.Type)
	var joinedData presenceData
	require.NoError(t, json.Unmarshal(joined.Data, &joinedData))
	assert.Equal(t, "carol", joinedData.Username)
}

func TestHubRejectsConnectionsOverLimit(t *testing.T) {
	hub, _, _ := setupHub()

	clients := make([]*Client, 0, maxConnectionsPerUser+1)
	for i := 0; i <= maxConnectionsPerUser; i++ {
		client := newTestClient(hub, "alice")
		hub.OpenCh <- client
		clients = append(clients, client)
	}

	// The connection over the limit has its send channel closed.
	last := clients[len(clients)-1]
	select {
	case _, ok := <-last.Send:
		assert.False(t, ok, "expected closed send channel")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rejection")
	}
}
