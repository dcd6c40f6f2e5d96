// ABOUTME: Store interface and data types for support-gateway persistence
// ABOUTME: Defines Domain, AgentRecord, Session structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateDomain is returned when registering a domain name that already exists
var ErrDuplicateDomain = errors.New("domain already registered")

// ErrDuplicateAgent is returned when inserting an agent record for a domain key
// that already has one. Callers racing on creation re-read the winner's record.
var ErrDuplicateAgent = errors.New("agent record already exists")

// DeploymentStatus is the provisioning lifecycle state of a remote agent.
type DeploymentStatus string

// Deployment status values. FAILED is terminal; DEGRADED means the stored
// credential or endpoint was rejected after the agent had reached RUNNING.
const (
	StatusUnknown      DeploymentStatus = "UNKNOWN"
	StatusProvisioning DeploymentStatus = "PROVISIONING"
	StatusRunning      DeploymentStatus = "RUNNING"
	StatusDegraded     DeploymentStatus = "DEGRADED"
	StatusFailed       DeploymentStatus = "FAILED"
)

// Terminal reports whether no further automatic transitions can occur.
func (s DeploymentStatus) Terminal() bool {
	return s == StatusFailed
}

// Domain is a registered tenant. Immutable after creation.
type Domain struct {
	ID        string
	Name      string // normalized: lowercase, no scheme, no www. prefix
	Key       string // deterministic key derived from Name (domainkey.Derive)
	CreatedAt time.Time
}

// AgentRecord associates a domain key with a remotely-hosted agent.
// At most one record exists per domain key (enforced by the store).
type AgentRecord struct {
	DomainKey            string
	AgentID              string // remote agent identifier
	EndpointURL          string // empty until deployment reaches RUNNING
	AccessKey            string // opaque secret, empty until first mint
	CredentialVerifiedAt time.Time
	KnowledgeBaseIDs     []string
	Status               DeploymentStatus
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Clone returns a deep copy so cached records can be handed out without
// exposing shared mutable state.
func (r *AgentRecord) Clone() *AgentRecord {
	cp := *r
	cp.KnowledgeBaseIDs = append([]string(nil), r.KnowledgeBaseIDs...)
	return &cp
}

// KnowledgeBaseRecord associates a domain key with a remote knowledge base.
type KnowledgeBaseRecord struct {
	DomainKey string
	KBID      string
	Label     string
	CreatedAt time.Time
}

// Session status values.
const (
	SessionActive = "active"
	SessionClosed = "closed"
)

// Session is a conversation context for one end user against one domain.
type Session struct {
	ID           string
	UserID       string
	DomainKey    string
	CreatedAt    time.Time
	LastActivity time.Time
	Status       string
}

// Turn role values.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn is one message within a session. Append-only, ordered by
// timestamp, never mutated after write.
type ConversationTurn struct {
	ID        string
	SessionID string
	UserID    string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Store defines the interface for gateway persistence.
type Store interface {
	// Domains
	CreateDomain(ctx context.Context, domain *Domain) error
	GetDomain(ctx context.Context, id string) (*Domain, error)
	GetDomainByName(ctx context.Context, name string) (*Domain, error)
	GetDomainByKey(ctx context.Context, key string) (*Domain, error)
	ListDomains(ctx context.Context) ([]*Domain, error)

	// Agent records. CreateAgentRecord has insert-if-absent semantics:
	// it returns ErrDuplicateAgent when a record for the domain key exists.
	CreateAgentRecord(ctx context.Context, record *AgentRecord) error
	GetAgentRecord(ctx context.Context, domainKey string) (*AgentRecord, error)
	UpdateAgentRecord(ctx context.Context, record *AgentRecord) error
	ListAgentRecords(ctx context.Context) ([]*AgentRecord, error)

	// Knowledge bases
	CreateKnowledgeBase(ctx context.Context, kb *KnowledgeBaseRecord) error
	ListKnowledgeBases(ctx context.Context, domainKey string) ([]*KnowledgeBaseRecord, error)

	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	ListSessions(ctx context.Context, domainKey string, limit int) ([]*Session, error)

	// Conversation turns (append-only audit of each exchange)
	SaveTurn(ctx context.Context, turn *ConversationTurn) error
	GetSessionTurns(ctx context.Context, sessionID string, limit int) ([]*ConversationTurn, error)

	// Close releases any resources held by the store
	Close() error
}
