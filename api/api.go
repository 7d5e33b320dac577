package api

import (
	"context"
	"net/http"

	"github.com/ebelyak/sealwire/api/rest"
	"github.com/ebelyak/sealwire/api/ws"
	"github.com/ebelyak/sealwire/cache"
	"github.com/ebelyak/sealwire/service"
	"github.com/ebelyak/sealwire/store"
	"github.com/ebelyak/sealwire/worker"
)

type SealwireAPI struct {
	restHandler *rest.Handler
	wsHandler   *ws.Handler
	shutdownCtx context.Context
}

func NewSealwireAPI(
	messageStore store.MessageStore,
	sealwireCache cache.SealwireCache,
	jwtSecret []byte,
	shutdownCtx context.Context,
) *SealwireAPI {
	presenceBatcher := worker.NewPresenceBatcher(messageStore, 60000)
	go presenceBatcher.Run(shutdownCtx)

	wsHub := ws.NewHub(sealwireCache, presenceBatcher)
	go wsHub.Run()

	svc := service.NewService(messageStore, sealwireCache, jwtSecret)

	restHandler := rest.NewHandler(svc, wsHub)
	wsHandler := ws.NewHandler(svc, wsHub)

	return &SealwireAPI{
		restHandler: restHandler,
		wsHandler:   wsHandler,
		shutdownCtx: shutdownCtx,
	}
}

func (sealwireAPI *SealwireAPI) RegisterRoutes(mux *http.ServeMux, requiredOrigin string) {
	// Health check endpoint (no auth required)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/api/auth/register", sealwireAPI.restHandler.HandleRegister)
	mux.HandleFunc("/api/auth/login", sealwireAPI.restHandler.HandleLogin)
	mux.HandleFunc("/api/users", sealwireAPI.restHandler.HandleUsers)
	mux.HandleFunc("/api/users/", sealwireAPI.restHandler.HandleUser)
	mux.HandleFunc("/api/presence", sealwireAPI.restHandler.HandlePresence)
	mux.HandleFunc("/api/messages/send", sealwireAPI.restHandler.HandleSendMessage)
	mux.HandleFunc("/api/messages/conversation/", sealwireAPI.restHandler.HandleConversation)
	mux.HandleFunc("/api/messages/conversations", sealwireAPI.restHandler.HandleConversations)

	wsUpgrader := sealwireAPI.wsHandler.NewWsUpgrader(requiredOrigin)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		sealwireAPI.wsHandler.ServeWS(wsUpgrader, w, r, sealwireAPI.shutdownCtx)
	})
}
