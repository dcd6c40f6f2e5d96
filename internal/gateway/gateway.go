// ABOUTME: HTTP gateway wiring the registry, conversation service, and auth
// ABOUTME: Owns the chi router, middleware, and server lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/support-gateway/internal/auth"
	"github.com/2389/support-gateway/internal/conversation"
	"github.com/2389/support-gateway/internal/dedupe"
	"github.com/2389/support-gateway/internal/registry"
	"github.com/2389/support-gateway/internal/store"
)

// domainTokenTTL is the validity window for tokens minted at registration.
const domainTokenTTL = 90 * 24 * time.Hour

// askDedupeTTL is how long a duplicate of the same question in the same
// session is suppressed.
const askDedupeTTL = 30 * time.Second

type contextKey string

const domainContextKey contextKey = "domain"

// Server is the HTTP gateway. It authenticates widget requests with domain
// tokens and routes chat traffic through the registry.
type Server struct {
	store         store.Store
	registry      *registry.Registry
	conversations *conversation.Service
	tokens        *auth.JWTVerifier
	asks          *dedupe.Cache
	logger        *slog.Logger

	httpSrv *http.Server
}

// New creates a gateway Server listening on addr.
func New(addr string, st store.Store, reg *registry.Registry, conv *conversation.Service, tokens *auth.JWTVerifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:         st,
		registry:      reg,
		conversations: conv,
		tokens:        tokens,
		asks:          dedupe.New(askDedupeTTL),
		logger:        logger.With("component", "gateway"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Post("/api/domains", s.handleRegisterDomain)
	r.Get("/api/agents", s.handleListAgents)

	r.Group(func(r chi.Router) {
		r.Use(s.requireDomain)
		r.Post("/api/sessions", s.handleStartSession)
		r.Get("/api/sessions/{id}", s.handleGetSession)
		r.Post("/api/ask", s.handleAsk)
		r.Post("/api/knowledge-bases", s.handleAddKnowledgeBase)
		r.Get("/api/conversations/{sessionID}", s.handleGetConversation)
	})

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// requireDomain authenticates the Bearer domain token and stashes the
// registered domain in the request context. Widget requests never carry raw
// domain identifiers; the token is the only credential.
func (s *Server) requireDomain(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.sendJSONError(w, http.StatusUnauthorized, "missing domain token")
			return
		}

		domainID, err := s.tokens.Verify(token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) {
				s.sendJSONError(w, http.StatusUnauthorized, "domain token expired")
				return
			}
			s.sendJSONError(w, http.StatusUnauthorized, "invalid domain token")
			return
		}

		domain, err := s.store.GetDomain(r.Context(), domainID)
		if errors.Is(err, store.ErrNotFound) {
			s.sendJSONError(w, http.StatusUnauthorized, "unknown domain")
			return
		}
		if err != nil {
			s.logger.Error("loading domain for token", "domain_id", domainID, "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		ctx := context.WithValue(r.Context(), domainContextKey, domain)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// domainFrom returns the authenticated domain from the request context.
func domainFrom(r *http.Request) *store.Domain {
	domain, _ := r.Context().Value(domainContextKey).(*store.Domain)
	return domain
}
