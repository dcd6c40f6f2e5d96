// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	domains     map[string]*Domain                // keyed by domain ID
	domainNames map[string]string                 // keyed by domain name -> domain ID
	domainKeys  map[string]string                 // keyed by domain key -> domain ID
	agents      map[string]*AgentRecord           // keyed by domain key
	kbs         map[string][]*KnowledgeBaseRecord // keyed by domain key
	sessions    map[string]*Session               // keyed by session ID
	turns       map[string][]*ConversationTurn    // keyed by session ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		domains:     make(map[string]*Domain),
		domainNames: make(map[string]string),
		domainKeys:  make(map[string]string),
		agents:      make(map[string]*AgentRecord),
		kbs:         make(map[string][]*KnowledgeBaseRecord),
		sessions:    make(map[string]*Session),
		turns:       make(map[string][]*ConversationTurn),
	}
}

// CreateDomain stores a new domain.
func (m *MockStore) CreateDomain(ctx context.Context, domain *Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.domainNames[domain.Name]; exists {
		return ErrDuplicateDomain
	}

	d := *domain
	m.domains[d.ID] = &d
	m.domainNames[d.Name] = d.ID
	m.domainKeys[d.Key] = d.ID
	return nil
}

// GetDomain retrieves a domain by ID.
func (m *MockStore) GetDomain(ctx context.Context, id string) (*Domain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.domains[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *d
	return &result, nil
}

// GetDomainByName retrieves a domain by its normalized name.
func (m *MockStore) GetDomainByName(ctx context.Context, name string) (*Domain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.domainNames[name]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.domains[id]
	return &result, nil
}

// GetDomainByKey retrieves a domain by its derived key.
func (m *MockStore) GetDomainByKey(ctx context.Context, key string) (*Domain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.domainKeys[key]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.domains[id]
	return &result, nil
}

// ListDomains returns all domains ordered by creation time.
func (m *MockStore) ListDomains(ctx context.Context) ([]*Domain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	domains := make([]*Domain, 0, len(m.domains))
	for _, d := range m.domains {
		result := *d
		domains = append(domains, &result)
	}
	sort.Slice(domains, func(i, j int) bool {
		return domains[i].CreatedAt.Before(domains[j].CreatedAt)
	})
	return domains, nil
}

// CreateAgentRecord stores a new agent record with insert-if-absent semantics.
func (m *MockStore) CreateAgentRecord(ctx context.Context, record *AgentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agents[record.DomainKey]; exists {
		return ErrDuplicateAgent
	}
	m.agents[record.DomainKey] = record.Clone()
	return nil
}

// GetAgentRecord retrieves the agent record for a domain key.
func (m *MockStore) GetAgentRecord(ctx context.Context, domainKey string) (*AgentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.agents[domainKey]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// UpdateAgentRecord overwrites the stored record for its domain key.
func (m *MockStore) UpdateAgentRecord(ctx context.Context, record *AgentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[record.DomainKey]; !ok {
		return ErrNotFound
	}
	m.agents[record.DomainKey] = record.Clone()
	return nil
}

// ListAgentRecords returns all agent records ordered by creation time.
func (m *MockStore) ListAgentRecords(ctx context.Context) ([]*AgentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*AgentRecord, 0, len(m.agents))
	for _, r := range m.agents {
		records = append(records, r.Clone())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// CreateKnowledgeBase records a knowledge base for a domain key.
func (m *MockStore) CreateKnowledgeBase(ctx context.Context, kb *KnowledgeBaseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.kbs[kb.DomainKey] {
		if existing.KBID == kb.KBID {
			return nil // INSERT OR IGNORE semantics
		}
	}
	k := *kb
	m.kbs[kb.DomainKey] = append(m.kbs[kb.DomainKey], &k)
	return nil
}

// ListKnowledgeBases returns all knowledge bases for a domain key.
func (m *MockStore) ListKnowledgeBases(ctx context.Context, domainKey string) ([]*KnowledgeBaseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kbs := make([]*KnowledgeBaseRecord, 0, len(m.kbs[domainKey]))
	for _, kb := range m.kbs[domainKey] {
		k := *kb
		kbs = append(kbs, &k)
	}
	return kbs, nil
}

// CreateSession stores a new session.
func (m *MockStore) CreateSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := *session
	m.sessions[s.ID] = &s
	return nil
}

// GetSession retrieves a session by ID.
func (m *MockStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *s
	return &result, nil
}

// TouchSession updates a session's last-activity timestamp.
func (m *MockStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.LastActivity = at
	return nil
}

// ListSessions returns sessions for a domain key ordered by most recent activity.
func (m *MockStore) ListSessions(ctx context.Context, domainKey string, limit int) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if domainKey != "" && s.DomainKey != domainKey {
			continue
		}
		result := *s
		sessions = append(sessions, &result)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// SaveTurn appends a conversation turn.
func (m *MockStore) SaveTurn(ctx context.Context, turn *ConversationTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := *turn
	m.turns[t.SessionID] = append(m.turns[t.SessionID], &t)
	return nil
}

// GetSessionTurns returns conversation turns for a session ordered by timestamp.
func (m *MockStore) GetSessionTurns(ctx context.Context, sessionID string, limit int) ([]*ConversationTurn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 200
	}

	turns := make([]*ConversationTurn, 0, len(m.turns[sessionID]))
	for _, t := range m.turns[sessionID] {
		result := *t
		turns = append(turns, &result)
	}
	sort.Slice(turns, func(i, j int) bool {
		return turns[i].CreatedAt.Before(turns[j].CreatedAt)
	})
	if len(turns) > limit {
		turns = turns[:limit]
	}
	return turns, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
