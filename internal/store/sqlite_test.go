// ABOUTME: Tests for the SQLite store implementation.
// ABOUTME: Runs against in-memory databases; covers constraints and round trips.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testDomain(name, key string) *Domain {
	return &Domain{
		ID:        "dom-" + key,
		Name:      name,
		Key:       key,
		CreatedAt: time.Now(),
	}
}

func testAgentRecord(domainKey string) *AgentRecord {
	now := time.Now()
	return &AgentRecord{
		DomainKey: domainKey,
		AgentID:   "agent-" + domainKey,
		Status:    StatusProvisioning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLiteStore_CreateAndGetDomain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	domain := testDomain("example.com", "key1")
	require.NoError(t, s.CreateDomain(ctx, domain))

	got, err := s.GetDomain(ctx, domain.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Name, got.Name)
	assert.Equal(t, domain.Key, got.Key)
	assert.WithinDuration(t, domain.CreatedAt, got.CreatedAt, time.Second)
}

func TestSQLiteStore_GetDomainByNameAndKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateDomain(ctx, testDomain("example.com", "key1")))

	byName, err := s.GetDomainByName(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, "key1", byName.Key)

	byKey, err := s.GetDomainByKey(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, "example.com", byKey.Name)
}

func TestSQLiteStore_DomainNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetDomain(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetDomainByName(ctx, "missing.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetDomainByKey(ctx, "missing-key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_DuplicateDomain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateDomain(ctx, testDomain("example.com", "key1")))

	// Same name, different ID and key
	dup := testDomain("example.com", "key2")
	dup.ID = "dom-other"
	assert.ErrorIs(t, s.CreateDomain(ctx, dup), ErrDuplicateDomain)
}

func TestSQLiteStore_ListDomains(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateDomain(ctx, testDomain("a.com", "key-a")))
	require.NoError(t, s.CreateDomain(ctx, testDomain("b.com", "key-b")))

	domains, err := s.ListDomains(ctx)
	require.NoError(t, err)
	assert.Len(t, domains, 2)
}

func TestSQLiteStore_AgentRecordRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	record := &AgentRecord{
		DomainKey:            "key1",
		AgentID:              "agent-1",
		EndpointURL:          "https://agent-1.agents.example",
		AccessKey:            "secret-1",
		CredentialVerifiedAt: now,
		KnowledgeBaseIDs:     []string{"kb-1", "kb-2"},
		Status:               StatusRunning,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, s.CreateAgentRecord(ctx, record))

	got, err := s.GetAgentRecord(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, record.AgentID, got.AgentID)
	assert.Equal(t, record.EndpointURL, got.EndpointURL)
	assert.Equal(t, record.AccessKey, got.AccessKey)
	assert.Equal(t, []string{"kb-1", "kb-2"}, got.KnowledgeBaseIDs)
	assert.Equal(t, StatusRunning, got.Status)
	assert.WithinDuration(t, now, got.CredentialVerifiedAt, time.Second)
}

func TestSQLiteStore_AgentRecordNoCredential(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A provisioning record has no credential; verified-at stays zero
	require.NoError(t, s.CreateAgentRecord(ctx, testAgentRecord("key1")))

	got, err := s.GetAgentRecord(ctx, "key1")
	require.NoError(t, err)
	assert.Empty(t, got.AccessKey)
	assert.True(t, got.CredentialVerifiedAt.IsZero())
	assert.Empty(t, got.KnowledgeBaseIDs)
}

func TestSQLiteStore_DuplicateAgentRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAgentRecord(ctx, testAgentRecord("key1")))

	dup := testAgentRecord("key1")
	dup.AgentID = "agent-other"
	assert.ErrorIs(t, s.CreateAgentRecord(ctx, dup), ErrDuplicateAgent)

	// The original record wins
	got, err := s.GetAgentRecord(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, "agent-key1", got.AgentID)
}

func TestSQLiteStore_UpdateAgentRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record := testAgentRecord("key1")
	require.NoError(t, s.CreateAgentRecord(ctx, record))

	record.Status = StatusRunning
	record.EndpointURL = "https://agent.example"
	record.AccessKey = "fresh-secret"
	record.CredentialVerifiedAt = time.Now()
	record.KnowledgeBaseIDs = []string{"kb-9"}
	record.UpdatedAt = time.Now()
	require.NoError(t, s.UpdateAgentRecord(ctx, record))

	got, err := s.GetAgentRecord(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, "https://agent.example", got.EndpointURL)
	assert.Equal(t, "fresh-secret", got.AccessKey)
	assert.Equal(t, []string{"kb-9"}, got.KnowledgeBaseIDs)
}

func TestSQLiteStore_UpdateMissingAgentRecord(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateAgentRecord(context.Background(), testAgentRecord("ghost"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListAgentRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAgentRecord(ctx, testAgentRecord("key1")))
	require.NoError(t, s.CreateAgentRecord(ctx, testAgentRecord("key2")))

	records, err := s.ListAgentRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestSQLiteStore_KnowledgeBases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	kb := &KnowledgeBaseRecord{
		DomainKey: "key1",
		KBID:      "kb-1",
		Label:     "example.com site",
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateKnowledgeBase(ctx, kb))

	// Re-inserting the same pair is a no-op, not an error
	require.NoError(t, s.CreateKnowledgeBase(ctx, kb))

	kbs, err := s.ListKnowledgeBases(ctx, "key1")
	require.NoError(t, err)
	require.Len(t, kbs, 1)
	assert.Equal(t, "kb-1", kbs[0].KBID)
	assert.Equal(t, "example.com site", kbs[0].Label)

	other, err := s.ListKnowledgeBases(ctx, "key2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLiteStore_SessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	session := &Session{
		ID:           "sess-1",
		UserID:       "user-1",
		DomainKey:    "key1",
		CreatedAt:    now,
		LastActivity: now,
		Status:       SessionActive,
	}
	require.NoError(t, s.CreateSession(ctx, session))

	got, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, SessionActive, got.Status)

	later := now.Add(time.Hour)
	require.NoError(t, s.TouchSession(ctx, "sess-1", later))

	got, err = s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.WithinDuration(t, later, got.LastActivity, time.Second)
}

func TestSQLiteStore_TouchMissingSession(t *testing.T) {
	s := newTestStore(t)

	err := s.TouchSession(context.Background(), "ghost", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListSessionsFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	for i, key := range []string{"key1", "key1", "key2"} {
		require.NoError(t, s.CreateSession(ctx, &Session{
			ID:           "sess-" + string(rune('a'+i)),
			UserID:       "user-1",
			DomainKey:    key,
			CreatedAt:    now,
			LastActivity: now.Add(time.Duration(i) * time.Minute),
			Status:       SessionActive,
		}))
	}

	all, err := s.ListSessions(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	key1, err := s.ListSessions(ctx, "key1", 0)
	require.NoError(t, err)
	assert.Len(t, key1, 2)

	// Most recent activity first
	assert.Equal(t, "sess-b", key1[0].ID)
}

func TestSQLiteStore_TurnsOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.CreateSession(ctx, &Session{
		ID: "sess-1", UserID: "user-1", DomainKey: "key1",
		CreatedAt: now, LastActivity: now, Status: SessionActive,
	}))

	for i, content := range []string{"question", "answer", "followup"} {
		role := RoleUser
		if i == 1 {
			role = RoleAssistant
		}
		require.NoError(t, s.SaveTurn(ctx, &ConversationTurn{
			ID:        "turn-" + string(rune('a'+i)),
			SessionID: "sess-1",
			UserID:    "user-1",
			Role:      role,
			Content:   content,
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	turns, err := s.GetSessionTurns(ctx, "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "question", turns[0].Content)
	assert.Equal(t, "answer", turns[1].Content)
	assert.Equal(t, "followup", turns[2].Content)
}

func TestSQLiteStore_TurnLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.CreateSession(ctx, &Session{
		ID: "sess-1", UserID: "user-1", DomainKey: "key1",
		CreatedAt: now, LastActivity: now, Status: SessionActive,
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveTurn(ctx, &ConversationTurn{
			ID:        "turn-" + string(rune('a'+i)),
			SessionID: "sess-1",
			UserID:    "user-1",
			Role:      RoleUser,
			Content:   "q",
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	turns, err := s.GetSessionTurns(ctx, "sess-1", 2)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}
