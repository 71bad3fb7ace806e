package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/fitfriends/messaging/internal/chat"
	"github.com/fitfriends/messaging/internal/config"
	"github.com/fitfriends/messaging/internal/history"
	"github.com/fitfriends/messaging/internal/store"
)

// MessagingApp is the HTTP surface of the messaging subsystem: the REST
// endpoints for conversations, members and history plus the websocket
// upgrade. All routes except the health check require a valid session
// token; the app never issues tokens itself.
type MessagingApp struct {
	log            *log.Logger
	db             store.Repository
	gw             *chat.Gateway
	history        *history.Reader
	srv            *http.Server
	signingKey     []byte
	allowedOrigins []string
}

func NewMessagingApp(mux *http.ServeMux, logger *log.Logger, gw *chat.Gateway, db store.Repository, hr *history.Reader, cfg *config.Config) *MessagingApp {
	s := &MessagingApp{
		log:            logger,
		db:             db,
		gw:             gw,
		history:        hr,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /api/health", s.health)
	mux.Handle("POST /api/conversations", s.authMiddleware(s.createConversation))
	mux.Handle("GET /api/conversations", s.authMiddleware(s.getConversation))
	mux.Handle("POST /api/conversations/members", s.authMiddleware(s.addMember))
	mux.Handle("DELETE /api/conversations/members", s.authMiddleware(s.removeMember))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("GET /api/messages/{id}", s.authMiddleware(s.getMessage))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *MessagingApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *MessagingApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
