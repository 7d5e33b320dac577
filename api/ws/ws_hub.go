package ws

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ebelyak/sealwire/cache"
	"github.com/ebelyak/sealwire/service"
	"github.com/ebelyak/sealwire/worker"
)

type presenceData struct {
	Username string `json:"username"`
}

type presenceMessage struct {
	Type string       `json:"type"`
	Data presenceData `json:"data"`
}

type activeUsersData struct {
	Usernames []string `json:"usernames"`
}

type activeUsersMessage struct {
	Type string          `json:"type"`
	Data activeUsersData `json:"data"`
}

// Hub tracks every live connection and owns delivery fan-out. A user is
// online while they hold at least one connection; the hub's registry is
// the authority on presence, the store only keeps the last-seen
// timestamp written when the final connection drops.
//
// Each online user gets exactly one pub/sub subscription on their inbox
// channel, opened with their first connection and cancelled with their
// last. Envelopes published there reach every connection the recipient
// has, on this instance or any other.
type Hub struct {
	sealwireCache   cache.SealwireCache
	presenceBatcher *worker.PresenceBatcher
	OpenCh          chan *Client
	CloseCh         chan *Client
	SnapshotCh      chan chan []string
	deliverCh       chan inboxDelivery
	userToClients   map[string]map[*Client]struct{}
	userInboxCancel map[string]context.CancelFunc
}

// inboxDelivery hands an envelope from a subscription goroutine to the
// run loop, which alone may read the connection registry.
type inboxDelivery struct {
	username string
	payload  []byte
}

func NewHub(sealwireCache cache.SealwireCache, presenceBatcher *worker.PresenceBatcher) *Hub {
	return &Hub{
		sealwireCache:   sealwireCache,
		presenceBatcher: presenceBatcher,
		OpenCh:          make(chan *Client, 256),
		CloseCh:         make(chan *Client, 256),
		SnapshotCh:      make(chan chan []string, 64),
		deliverCh:       make(chan inboxDelivery, 256),
		userToClients:   make(map[string]map[*Client]struct{}),
		userInboxCancel: make(map[string]context.CancelFunc),
	}
}

const maxConnectionsPerUser = 3

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.OpenCh:
			username := client.user.Username
			firstConnection := len(h.userToClients[username]) == 0

			if !firstConnection && len(h.userToClients[username]) >= maxConnectionsPerUser {
				log.WithField("username", username).Warnf("user reached max connections (%d)", maxConnectionsPerUser)
				close(client.Send)
				continue
			}

			if firstConnection {
				if err := h.subscribeInbox(username); err != nil {
					log.WithError(err).WithField("username", username).Error("inbox subscription failed")
					close(client.Send)
					continue
				}
				h.userToClients[username] = make(map[*Client]struct{})
			}
			h.userToClients[username][client] = struct{}{}

			if firstConnection {
				// The user just came online. Everyone hears the delta
				// and gets a refreshed snapshot, the new connection
				// included.
				h.broadcastPresence("user_joined", username)
				h.broadcastActiveUsers()
			} else {
				h.sendActiveUsers(client)
			}

		case client := <-h.CloseCh:
			username := client.user.Username
			if _, ok := h.userToClients[username][client]; !ok {
				continue
			}
			delete(h.userToClients[username], client)
			if len(h.userToClients[username]) == 0 {
				delete(h.userToClients, username)
				if cancel, ok := h.userInboxCancel[username]; ok {
					cancel()
					delete(h.userInboxCancel, username)
				}
				h.broadcastPresence("user_left", username)
				h.broadcastActiveUsers()
				h.presenceBatcher.UpdateCh <- worker.PresenceUpdate{
					Username: username,
					LastSeen: time.Now().Unix(),
				}
			}

		case delivery := <-h.deliverCh:
			for client := range h.userToClients[delivery.username] {
				trySend(client, delivery.payload)
			}

		case reply := <-h.SnapshotCh:
			online := make([]string, 0, len(h.userToClients))
			for username := range h.userToClients {
				online = append(online, username)
			}
			reply <- online
		}
	}
}

func (h *Hub) subscribeInbox(username string) error {
	ctx, cancel := context.WithCancel(context.Background())
	channel := service.InboxChannel(username)

	// The callback runs on the subscription goroutine, so it must not
	// touch the registry itself.
	err := h.sealwireCache.Subscribe(ctx, channel, func(messageBytes []byte) {
		h.deliverCh <- inboxDelivery{username: username, payload: messageBytes}
	})
	if err != nil {
		cancel()
		return err
	}

	h.userInboxCancel[username] = cancel
	return nil
}

func (h *Hub) broadcastPresence(eventType string, username string) {
	msg := presenceMessage{
		Type: eventType,
		Data: presenceData{Username: username},
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}

	for otherUser, clients := range h.userToClients {
		if otherUser == username {
			continue
		}
		for client := range clients {
			trySend(client, msgBytes)
		}
	}
}

func (h *Hub) activeUsersBytes() []byte {
	usernames := make([]string, 0, len(h.userToClients))
	for username := range h.userToClients {
		usernames = append(usernames, username)
	}

	msg := activeUsersMessage{
		Type: "active_users",
		Data: activeUsersData{Usernames: usernames},
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return msgBytes
}

func (h *Hub) sendActiveUsers(client *Client) {
	if msgBytes := h.activeUsersBytes(); msgBytes != nil {
		trySend(client, msgBytes)
	}
}

func (h *Hub) broadcastActiveUsers() {
	msgBytes := h.activeUsersBytes()
	if msgBytes == nil {
		return
	}
	for _, clients := range h.userToClients {
		for client := range clients {
			trySend(client, msgBytes)
		}
	}
}

// trySend never blocks the run loop. A connection whose buffer is full
// loses the message; the store stays the source of truth.
func trySend(client *Client, message []byte) {
	select {
	case client.Send <- message:
	default:
		log.WithField("username", client.user.Username).Warn("send buffer full, dropping message")
	}
}

// OnlineUsers answers presence queries from outside the run loop.
func (h *Hub) OnlineUsers() []string {
	reply := make(chan []string, 1)
	h.SnapshotCh <- reply
	return <-reply
}
