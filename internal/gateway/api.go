// ABOUTME: HTTP API handlers for domain registration, sessions, and chat
// ABOUTME: Maps registry errors onto widget-friendly status codes

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/2389/support-gateway/internal/dedupe"
	"github.com/2389/support-gateway/internal/domainkey"
	"github.com/2389/support-gateway/internal/registry"
	"github.com/2389/support-gateway/internal/store"
)

// RegisterDomainRequest is the JSON request body for POST /api/domains.
type RegisterDomainRequest struct {
	Domain string `json:"domain"`
	// KnowledgeSource optionally overrides the crawl root for the domain's
	// knowledge base. Defaults to the registered domain itself.
	KnowledgeSource string `json:"knowledge_source,omitempty"`
}

// RegisterDomainResponse is the JSON response for POST /api/domains.
type RegisterDomainResponse struct {
	DomainID    string `json:"domain_id"`
	Domain      string `json:"domain"`
	DomainKey   string `json:"domain_key"`
	Token       string `json:"token"`
	AgentStatus string `json:"agent_status"`
}

// AddKnowledgeBaseRequest is the JSON request body for POST /api/knowledge-bases.
type AddKnowledgeBaseRequest struct {
	// Label names the source in agent listings. Defaults to the domain name.
	Label     string `json:"label,omitempty"`
	SourceURL string `json:"source_url"`
}

// AddKnowledgeBaseResponse is the JSON response for POST /api/knowledge-bases.
// Attached reports whether the source was wired to the agent immediately;
// false means the deployment is still in flight and the source is queued.
type AddKnowledgeBaseResponse struct {
	KBID     string `json:"kb_id"`
	Label    string `json:"label"`
	Attached bool   `json:"attached"`
}

// StartSessionRequest is the JSON request body for POST /api/sessions.
type StartSessionRequest struct {
	UserID string `json:"user_id"`
}

// SessionResponse is the JSON response for session operations.
type SessionResponse struct {
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	LastActivity string `json:"last_activity"`
}

// AskRequest is the JSON request body for POST /api/ask.
type AskRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Question  string `json:"question"`
}

// AskResponse is the JSON response for POST /api/ask.
type AskResponse struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

// TurnResponse is one conversation turn in a transcript.
type TurnResponse struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// ConversationResponse is the JSON response for GET /api/conversations/{sessionID}.
type ConversationResponse struct {
	SessionID string         `json:"session_id"`
	Turns     []TurnResponse `json:"turns"`
}

// AgentResponse is one agent record in GET /api/agents. Access keys are
// never serialized.
type AgentResponse struct {
	DomainKey      string `json:"domain_key"`
	AgentID        string `json:"agent_id"`
	Status         string `json:"status"`
	EndpointURL    string `json:"endpoint_url,omitempty"`
	KnowledgeBases int    `json:"knowledge_bases"`
	UpdatedAt      string `json:"updated_at"`
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRegisterDomain handles POST /api/domains. Registration returns
// immediately with a domain token; agent provisioning continues in the
// background so the caller never waits on the remote platform.
//
// Registering an already-known domain is not an error: the existing
// registration is reused and a fresh token is minted for it.
func (s *Server) handleRegisterDomain(w http.ResponseWriter, r *http.Request) {
	var req RegisterDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Domain == "" {
		s.sendJSONError(w, http.StatusBadRequest, "domain is required")
		return
	}

	name, key, err := domainkey.FromRaw(req.Domain)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid domain: "+req.Domain)
		return
	}

	domain := &store.Domain{
		ID:        uuid.New().String(),
		Name:      name,
		Key:       key,
		CreatedAt: time.Now(),
	}
	status := http.StatusCreated
	if err := s.store.CreateDomain(r.Context(), domain); err != nil {
		if !errors.Is(err, store.ErrDuplicateDomain) {
			s.logger.Error("creating domain", "domain", name, "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		existing, err := s.store.GetDomainByName(r.Context(), name)
		if err != nil {
			s.logger.Error("reading existing domain", "domain", name, "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		domain = existing
		status = http.StatusOK
	}

	token, err := s.tokens.Generate(domain.ID, domainTokenTTL)
	if err != nil {
		s.logger.Error("minting domain token", "domain", name, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	go s.provisionAgent(domain, req.KnowledgeSource)

	agentStatus := string(store.StatusProvisioning)
	if record, err := s.store.GetAgentRecord(r.Context(), domain.Key); err == nil {
		agentStatus = string(record.Status)
	}

	s.sendJSON(w, status, RegisterDomainResponse{
		DomainID:    domain.ID,
		Domain:      domain.Name,
		DomainKey:   domain.Key,
		Token:       token,
		AgentStatus: agentStatus,
	})
}

// provisionAgent resolves the domain's agent and registers its crawl
// knowledge base. Runs detached from the registration request; the registry
// makes repeated calls idempotent.
func (s *Server) provisionAgent(domain *store.Domain, knowledgeSource string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	record, err := s.registry.Resolve(ctx, domain.Key)
	if err != nil {
		s.logger.Error("background agent provisioning failed",
			"domain", domain.Name, "error", err)
		return
	}

	if len(record.KnowledgeBaseIDs) > 0 {
		return
	}
	if kbs, err := s.store.ListKnowledgeBases(ctx, domain.Key); err == nil && len(kbs) > 0 {
		return
	}

	source := knowledgeSource
	if source == "" {
		source = "https://" + domain.Name
	}
	kbID, err := s.registry.RegisterKnowledgeBase(ctx, domain.Key, domain.Name+" site", source)
	if err != nil {
		s.logger.Warn("registering crawl knowledge base failed",
			"domain", domain.Name, "source", source, "error", err)
		return
	}
	s.logger.Info("crawl knowledge base registered",
		"domain", domain.Name, "kb_id", kbID)
}

// handleAddKnowledgeBase handles POST /api/knowledge-bases. Adds an extra
// crawl source to the authenticated domain's knowledge after registration,
// on top of the site crawl set up when the domain was registered. The source
// is attached right away when the agent is running; otherwise it is queued
// and picked up when the deployment completes.
func (s *Server) handleAddKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	domain := domainFrom(r)

	var req AddKnowledgeBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SourceURL == "" {
		s.sendJSONError(w, http.StatusBadRequest, "source_url is required")
		return
	}
	if !strings.HasPrefix(req.SourceURL, "http://") && !strings.HasPrefix(req.SourceURL, "https://") {
		s.sendJSONError(w, http.StatusBadRequest, "source_url must be an http(s) URL")
		return
	}
	label := req.Label
	if label == "" {
		label = domain.Name + " source"
	}

	kbID, err := s.registry.RegisterKnowledgeBase(r.Context(), domain.Key, label, req.SourceURL)
	if err != nil {
		status, message := registryErrorStatus(err)
		s.logger.Warn("adding knowledge base failed",
			"domain", domain.Name, "source", req.SourceURL, "error", err)
		s.sendJSONError(w, status, message)
		return
	}

	attached := false
	if record, err := s.store.GetAgentRecord(r.Context(), domain.Key); err == nil {
		for _, id := range record.KnowledgeBaseIDs {
			if id == kbID {
				attached = true
				break
			}
		}
	}

	s.sendJSON(w, http.StatusCreated, AddKnowledgeBaseResponse{
		KBID:     kbID,
		Label:    label,
		Attached: attached,
	})
}

// handleStartSession handles POST /api/sessions.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	domain := domainFrom(r)

	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	session, err := s.conversations.StartSession(r.Context(), req.UserID, domain.Key)
	if err != nil {
		s.logger.Error("starting session", "domain", domain.Name, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.sendJSON(w, http.StatusCreated, sessionResponse(session))
}

// handleGetSession handles GET /api/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionForDomain(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	s.sendJSON(w, http.StatusOK, sessionResponse(session))
}

// handleAsk handles POST /api/ask. The question is answered by the domain's
// remote agent; the exchange is recorded only after a successful answer, so
// the transcript never contains unanswered questions.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	domain := domainFrom(r)

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" || req.Question == "" {
		s.sendJSONError(w, http.StatusBadRequest, "session_id and question are required")
		return
	}

	session, ok := s.sessionForDomain(w, r, req.SessionID)
	if !ok {
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = session.UserID
	}

	askKey := dedupe.Key(req.SessionID, req.Question)
	if s.asks.Seen(askKey) {
		s.sendJSONError(w, http.StatusConflict, "duplicate submission, the question is already being answered")
		return
	}

	answer, err := s.registry.Chat(r.Context(), domain.Key, req.Question)
	if err != nil {
		// A failed ask must stay retryable; only a delivered answer is
		// suppressed as a duplicate.
		s.asks.Forget(askKey)
		status, message := registryErrorStatus(err)
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "5")
		}
		if status == http.StatusInternalServerError {
			s.logger.Error("chat failed", "domain", domain.Name, "error", err)
		} else {
			s.logger.Warn("chat rejected", "domain", domain.Name, "status", status, "error", err)
		}
		s.sendJSONError(w, status, message)
		return
	}

	if err := s.conversations.RecordExchange(r.Context(), session.ID, userID, req.Question, answer); err != nil {
		// The user already has the answer; losing the transcript entry is
		// not worth failing the request.
		s.logger.Error("recording exchange", "session_id", session.ID, "error", err)
	}

	s.sendJSON(w, http.StatusOK, AskResponse{SessionID: session.ID, Answer: answer})
}

// handleGetConversation handles GET /api/conversations/{sessionID}.
// With ?format=html the transcript is rendered to HTML.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionForDomain(w, r, chi.URLParam(r, "sessionID"))
	if !ok {
		return
	}

	turns, err := s.conversations.History(r.Context(), session.ID, 0)
	if err != nil {
		s.logger.Error("reading conversation history", "session_id", session.ID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if r.URL.Query().Get("format") == "html" {
		s.sendTranscriptHTML(w, session, turns)
		return
	}

	resp := ConversationResponse{SessionID: session.ID, Turns: make([]TurnResponse, 0, len(turns))}
	for _, turn := range turns {
		resp.Turns = append(resp.Turns, TurnResponse{
			Role:      turn.Role,
			Content:   turn.Content,
			CreatedAt: turn.CreatedAt.Format(time.RFC3339),
		})
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleListAgents handles GET /api/agents.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	records, err := s.registry.ListAgents(r.Context())
	if err != nil {
		s.logger.Error("listing agents", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]AgentResponse, 0, len(records))
	for _, record := range records {
		resp = append(resp, AgentResponse{
			DomainKey:      record.DomainKey,
			AgentID:        record.AgentID,
			Status:         string(record.Status),
			EndpointURL:    record.EndpointURL,
			KnowledgeBases: len(record.KnowledgeBaseIDs),
			UpdatedAt:      record.UpdatedAt.Format(time.RFC3339),
		})
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// sessionForDomain loads a session and verifies it belongs to the
// authenticated domain. A session from another domain is indistinguishable
// from a missing one.
func (s *Server) sessionForDomain(w http.ResponseWriter, r *http.Request, sessionID string) (*store.Session, bool) {
	domain := domainFrom(r)

	session, err := s.conversations.GetSession(r.Context(), sessionID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("reading session", "session_id", sessionID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	if session.DomainKey != domain.Key {
		s.sendJSONError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return session, true
}

// registryErrorStatus maps registry errors onto HTTP statuses and
// widget-facing messages.
func registryErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, registry.ErrNotRegistered):
		return http.StatusNotFound, "domain is not registered"
	case errors.Is(err, registry.ErrStillProvisioning):
		return http.StatusServiceUnavailable, "your support agent is still being set up, please try again shortly"
	case errors.Is(err, registry.ErrProvisioningFailed):
		return http.StatusBadGateway, "agent provisioning failed, the domain must be re-registered"
	case errors.Is(err, registry.ErrCredentialInvalid):
		return http.StatusBadGateway, "could not authenticate with the support agent"
	case errors.Is(err, registry.ErrRemoteUnavailable):
		return http.StatusBadGateway, "the support agent is temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func sessionResponse(session *store.Session) SessionResponse {
	return SessionResponse{
		SessionID:    session.ID,
		UserID:       session.UserID,
		Status:       session.Status,
		CreatedAt:    session.CreatedAt.Format(time.RFC3339),
		LastActivity: session.LastActivity.Format(time.RFC3339),
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
