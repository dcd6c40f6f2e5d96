// ABOUTME: ConversationService is the central layer for session and turn persistence
// ABOUTME: All chat exchanges flow through here - history is the source of truth

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/support-gateway/internal/store"
)

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	CreateSession(ctx context.Context, session *store.Session) error
	GetSession(ctx context.Context, id string) (*store.Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	ListSessions(ctx context.Context, domainKey string, limit int) ([]*store.Session, error)
	SaveTurn(ctx context.Context, turn *store.ConversationTurn) error
	GetSessionTurns(ctx context.Context, sessionID string, limit int) ([]*store.ConversationTurn, error)
}

// Service owns session and conversation-turn persistence. The registry's
// caller invokes it after each successful chat turn; the registry itself
// never touches conversation storage.
type Service struct {
	store  ConversationStore
	logger *slog.Logger
}

// New creates a new conversation Service
func New(s ConversationStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  s,
		logger: logger.With("component", "conversation"),
	}
}

// StartSession creates a new active session for a user against a domain.
func (s *Service) StartSession(ctx context.Context, userID, domainKey string) (*store.Session, error) {
	now := time.Now()
	session := &store.Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		DomainKey:    domainKey,
		CreatedAt:    now,
		LastActivity: now,
		Status:       store.SessionActive,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("session started", "session_id", session.ID, "user_id", userID)
	return session, nil
}

// GetSession retrieves a session by ID.
func (s *Service) GetSession(ctx context.Context, id string) (*store.Session, error) {
	return s.store.GetSession(ctx, id)
}

// ListSessions returns recent sessions for a domain key (all domains if empty).
func (s *Service) ListSessions(ctx context.Context, domainKey string, limit int) ([]*store.Session, error) {
	return s.store.ListSessions(ctx, domainKey, limit)
}

// RecordExchange appends the user question and the assistant answer as two
// ordered turns and refreshes the session's last-activity time. Turns are
// append-only; nothing here is ever mutated afterwards.
func (s *Service) RecordExchange(ctx context.Context, sessionID, userID, question, answer string) error {
	now := time.Now()

	userTurn := &store.ConversationTurn{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		UserID:    userID,
		Role:      store.RoleUser,
		Content:   question,
		CreatedAt: now,
	}
	if err := s.store.SaveTurn(ctx, userTurn); err != nil {
		return fmt.Errorf("recording user turn: %w", err)
	}

	assistantTurn := &store.ConversationTurn{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		UserID:    userID,
		Role:      store.RoleAssistant,
		Content:   answer,
		CreatedAt: now.Add(time.Microsecond), // preserve ordering within the exchange
	}
	if err := s.store.SaveTurn(ctx, assistantTurn); err != nil {
		return fmt.Errorf("recording assistant turn: %w", err)
	}

	if err := s.store.TouchSession(ctx, sessionID, now); err != nil {
		s.logger.Warn("failed to touch session", "session_id", sessionID, "error", err)
	}

	s.logger.Debug("exchange recorded", "session_id", sessionID, "user_id", userID)
	return nil
}

// History returns the session's turns in timestamp order.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]*store.ConversationTurn, error) {
	return s.store.GetSessionTurns(ctx, sessionID, limit)
}
