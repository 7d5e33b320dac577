package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/ebelyak/sealwire/models"
	"github.com/ebelyak/sealwire/service"
)

type Handler struct {
	Service *service.Service
	Hub     *Hub
}

func NewHandler(svc *service.Service, hub *Hub) *Handler {
	return &Handler{
		Service: svc,
		Hub:     hub,
	}
}

func (h *Handler) NewWsUpgrader(requiredOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == requiredOrigin
		},
		Subprotocols: []string{"sealwire-v1"},
	}
}

// ServeWS handles websocket requests from the peer. The bearer token
// rides in the second subprotocol slot since browsers cannot set
// headers on websocket upgrades.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	protocols := r.Header.Get("Sec-WebSocket-Protocol")
	protocolsSplit := strings.Split(protocols, ",")

	if len(protocolsSplit) != 2 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token := strings.TrimSpace(protocolsSplit[1])

	user, authErr := h.Service.AuthenticateToken(r.Context(), token)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("failed to upgrade ws connection")
		return
	}

	// Must upgrade the connection in order to be able to send custom close message
	if authErr != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Unauthenticated"),
		)
		conn.Close()
		return
	}

	client := NewClient(h.Hub, conn, user, h.HandleWsMessage)

	h.Hub.OpenCh <- client

	// Start pumps
	go client.ReadPump()
	go client.WritePump(shutdownCtx)
}

// Websocket message structs
type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type sendMessageData struct {
	To               string             `json:"to"`
	EncryptedContent []byte             `json:"encryptedContent"`
	EncryptedKey     []byte             `json:"encryptedAESKey"`
	MessageType      models.MessageType `json:"messageType"`
}

type responseMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (h *Handler) HandleWsMessage(client *Client, messageType int, messageBytes []byte) {
	var msg message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		log.WithError(err).Debug("invalid ws JSON")
		return
	}

	var resp responseMessage

	switch msg.Type {
	case "send_message":
		var sendMsg sendMessageData
		if err := json.Unmarshal(msg.Data, &sendMsg); err != nil {
			log.WithError(err).Debug("invalid send_message data")
			return
		}
		resp = h.handleSendMessage(client, sendMsg)

	default:
		log.WithField("type", msg.Type).Debug("unknown ws message type")
	}

	if resp.Type != "" {
		respBytes, err := json.Marshal(resp)
		if err != nil {
			log.WithError(err).Error("error marshaling ws response")
			return
		}
		client.Send <- respBytes
	}
}

// handleSendMessage runs the full send path and acks the sending
// connection with message_sent. Recipient connections get the envelope
// through the inbox subscription, not here.
func (h *Handler) handleSendMessage(client *Client, sendMsg sendMessageData) responseMessage {
	resp := responseMessage{
		Type: "message_sent",
	}

	stored, err := h.Service.SendMessage(context.Background(), service.SendParams{
		From: client.user,
		To:   sendMsg.To,
		Envelope: models.Envelope{
			EncryptedContent: sendMsg.EncryptedContent,
			EncryptedKey:     sendMsg.EncryptedKey,
			MessageType:      sendMsg.MessageType,
		},
	})

	if err != nil {
		log.WithError(err).WithField("from", client.user.Username).Warn("send message failed")
		resp.Data = map[string]any{
			"success": false,
			"error":   err.Error(),
			"to":      sendMsg.To,
		}
		return resp
	}

	resp.Data = map[string]any{
		"success":  true,
		"to":       stored.To,
		"envelope": stored,
	}

	return resp
}
