package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ebelyak/sealwire/models"
	"github.com/ebelyak/sealwire/service"
	"github.com/ebelyak/sealwire/store"
)

// PresenceSource answers who is online right now. Backed by the ws hub;
// the store only knows last-seen timestamps.
type PresenceSource interface {
	OnlineUsers() []string
}

type Handler struct {
	Service  *service.Service
	Presence PresenceSource
}

func NewHandler(svc *service.Service, presence PresenceSource) *Handler {
	return &Handler{Service: svc, Presence: presence}
}

type registerRequest struct {
	Username            string `json:"username"`
	Password            string `json:"password"`
	PublicKey           []byte `json:"publicKey"`
	EncryptedPrivateKey []byte `json:"encryptedPrivateKey"`
}

type registerResponse struct {
	Username    string `json:"username"`
	Fingerprint string `json:"fingerprint"`
	Created     int64  `json:"created"`
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.Service.Register(r.Context(), service.RegisterParams{
		Username:            req.Username,
		Password:            req.Password,
		PublicKey:           req.PublicKey,
		EncryptedPrivateKey: req.EncryptedPrivateKey,
	})
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		log.WithError(err).Info("registration rejected")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.sendResponse(w, registerResponse{
		Username:    user.Username,
		Fingerprint: user.Fingerprint,
		Created:     user.Created,
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Username            string `json:"username"`
	Token               string `json:"token"`
	PublicKey           []byte `json:"publicKey"`
	Fingerprint         string `json:"fingerprint"`
	EncryptedPrivateKey []byte `json:"encryptedPrivateKey"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, token, err := h.Service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, "invalid username or password", http.StatusUnauthorized)
		return
	}

	h.sendResponse(w, loginResponse{
		Username:            user.Username,
		Token:               token,
		PublicKey:           user.PublicKey,
		Fingerprint:         user.Fingerprint,
		EncryptedPrivateKey: user.EncryptedPrivateKey,
	})
}

func (h *Handler) HandleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	users, err := h.Service.ListUsers(r.Context())
	if err != nil {
		log.WithError(err).Error("list users failed")
		http.Error(w, "failed to list users", http.StatusInternalServerError)
		return
	}

	h.sendResponse(w, users)
}

func (h *Handler) HandleUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	username := strings.TrimPrefix(r.URL.Path, "/api/users/")
	if username == "" || strings.Contains(username, "/") {
		http.Error(w, "invalid username", http.StatusBadRequest)
		return
	}

	user, err := h.Service.GetUserProfile(r.Context(), username)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		log.WithError(err).Error("get user failed")
		http.Error(w, "failed to get user", http.StatusInternalServerError)
		return
	}

	h.sendResponse(w, user)
}

type sendMessageRequest struct {
	To               string             `json:"to"`
	EncryptedContent []byte             `json:"encryptedContent"`
	EncryptedKey     []byte             `json:"encryptedAESKey"`
	MessageType      models.MessageType `json:"messageType"`
}

func (h *Handler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	stored, err := h.Service.SendMessage(r.Context(), service.SendParams{
		From: user,
		To:   req.To,
		Envelope: models.Envelope{
			EncryptedContent: req.EncryptedContent,
			EncryptedKey:     req.EncryptedKey,
			MessageType:      req.MessageType,
		},
	})
	if err != nil {
		if errors.Is(err, service.ErrRecipientNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		log.WithError(err).Info("send message rejected")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(stored); err != nil {
		log.WithError(err).Error("failed to encode response")
	}
}

func (h *Handler) HandleConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	otherUser := strings.TrimPrefix(r.URL.Path, "/api/messages/conversation/")
	if otherUser == "" || strings.Contains(otherUser, "/") {
		http.Error(w, "invalid username", http.StatusBadRequest)
		return
	}

	envelopes, err := h.Service.Conversation(r.Context(), user.Username, otherUser)
	if err != nil {
		log.WithError(err).Error("conversation read failed")
		http.Error(w, "failed to load conversation", http.StatusInternalServerError)
		return
	}

	h.sendResponse(w, envelopes)
}

func (h *Handler) HandleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	summaries, err := h.Service.Conversations(r.Context(), user.Username)
	if err != nil {
		log.WithError(err).Error("conversations read failed")
		http.Error(w, "failed to load conversations", http.StatusInternalServerError)
		return
	}

	h.sendResponse(w, summaries)
}

// HandlePresence merges the directory with the hub's live registry.
func (h *Handler) HandlePresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	online := h.Presence.OnlineUsers()
	onlineSet := make(map[string]struct{}, len(online))
	for _, username := range online {
		onlineSet[username] = struct{}{}
	}

	users, err := h.Service.ListUsers(r.Context())
	if err != nil {
		log.WithError(err).Error("list users failed")
		http.Error(w, "failed to load presence", http.StatusInternalServerError)
		return
	}

	entries := make([]models.PresenceEntry, 0, len(users))
	for _, u := range users {
		_, isOnline := onlineSet[u.Username]
		entries = append(entries, models.PresenceEntry{
			Username: u.Username,
			Online:   isOnline,
		})
	}

	h.sendResponse(w, entries)
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	token := h.getTokenFromAuthHeader(r)
	user, err := h.Service.AuthenticateToken(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return models.User{}, false
	}
	return user, true
}

func (h *Handler) sendResponse(w http.ResponseWriter, resp any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func (h *Handler) getTokenFromAuthHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, prefix)
}
