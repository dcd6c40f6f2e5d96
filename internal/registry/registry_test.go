// ABOUTME: Tests for registry resolution, credential rotation, and chat flow.
// ABOUTME: Uses the mock store and mock provider with scripted behavior.

package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/support-gateway/internal/provider"
	"github.com/2389/support-gateway/internal/store"
)

const testKey = "key-example"

// fastConfig keeps poller timing tight so tests finish quickly.
func fastConfig() Config {
	return Config{
		CredentialTTL:   15 * time.Minute,
		PollInterval:    2 * time.Millisecond,
		PollMaxInterval: 10 * time.Millisecond,
		PollBudget:      500 * time.Millisecond,
	}
}

func newTestRegistry(t *testing.T, cfg Config) (*Registry, *store.MockStore, *provider.Mock) {
	t.Helper()

	st := store.NewMockStore()
	require.NoError(t, st.CreateDomain(context.Background(), &store.Domain{
		ID:        "dom-1",
		Name:      "example.com",
		Key:       testKey,
		CreatedAt: time.Now(),
	}))

	mock := provider.NewMock()
	r := New(st, mock, cfg, nil)
	t.Cleanup(r.Close)
	return r, st, mock
}

// runningAgent scripts the mock to create agents that are immediately usable.
func runningAgent(mock *provider.Mock) {
	mock.CreateAgentFunc = func(domainName string) (*provider.Agent, error) {
		return &provider.Agent{
			ID:          "agent-1",
			EndpointURL: "https://agent-1.agents.example",
			State:       provider.DeploymentRunning,
		}, nil
	}
}

func TestResolve_UnregisteredDomain(t *testing.T) {
	r, _, _ := newTestRegistry(t, fastConfig())

	_, err := r.Resolve(context.Background(), "never-registered")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestResolve_CreatesOnce(t *testing.T) {
	r, _, mock := newTestRegistry(t, fastConfig())
	runningAgent(mock)
	ctx := context.Background()

	first, err := r.Resolve(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", first.AgentID)
	assert.Equal(t, store.StatusRunning, first.Status)

	// Second resolve must be a cache hit, not a second remote create
	second, err := r.Resolve(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, first.AgentID, second.AgentID)
	assert.Equal(t, 1, mock.Calls()["create_agent"])
}

func TestResolve_ConcurrentCreatesOne(t *testing.T) {
	r, _, mock := newTestRegistry(t, fastConfig())
	runningAgent(mock)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	results := make([]*store.AgentRecord, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(ctx, testKey)
		}(i)
	}
	wg.Wait()

	// Every caller converges on the same agent; exactly one remote create
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "agent-1", results[i].AgentID)
	}
	assert.Equal(t, 1, mock.Calls()["create_agent"])
}

func TestResolve_StoreHitWarmsCache(t *testing.T) {
	r, st, mock := newTestRegistry(t, fastConfig())
	ctx := context.Background()

	// Record already in the store, e.g. written by a previous process
	now := time.Now()
	require.NoError(t, st.CreateAgentRecord(ctx, &store.AgentRecord{
		DomainKey:   testKey,
		AgentID:     "agent-prior",
		EndpointURL: "https://prior.agents.example",
		Status:      store.StatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}))

	record, err := r.Resolve(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "agent-prior", record.AgentID)
	assert.Equal(t, 0, mock.Calls()["create_agent"])
}

func TestResolve_AdoptsRaceWinner(t *testing.T) {
	r, st, mock := newTestRegistry(t, fastConfig())
	ctx := context.Background()

	// Simulate another process winning the insert between our store read and
	// our create: the store rejects our record as a duplicate.
	mock.CreateAgentFunc = func(domainName string) (*provider.Agent, error) {
		now := time.Now()
		_ = st.CreateAgentRecord(ctx, &store.AgentRecord{
			DomainKey: testKey,
			AgentID:   "agent-winner",
			Status:    store.StatusRunning,
			CreatedAt: now,
			UpdatedAt: now,
		})
		return &provider.Agent{ID: "agent-loser", State: provider.DeploymentRunning, EndpointURL: "https://x"}, nil
	}

	record, err := r.Resolve(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "agent-winner", record.AgentID)
}

func TestResolve_ProviderDown(t *testing.T) {
	r, _, mock := newTestRegistry(t, fastConfig())
	mock.CreateAgentFunc = func(domainName string) (*provider.Agent, error) {
		return nil, errors.New("connection refused")
	}

	_, err := r.Resolve(context.Background(), testKey)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
}

func TestEnsureUsableCredential_MintsWhenMissing(t *testing.T) {
	r, _, mock := newTestRegistry(t, fastConfig())
	runningAgent(mock)
	ctx := context.Background()

	record, err := r.Resolve(ctx, testKey)
	require.NoError(t, err)
	require.Empty(t, record.AccessKey)

	record, err = r.EnsureUsableCredential(ctx, record)
	require.NoError(t, err)
	assert.NotEmpty(t, record.AccessKey)
	assert.Equal(t, 1, mock.Calls()["mint_key"])

	// A freshly verified credential is reused, not re-minted
	record, err = r.EnsureUsableCredential(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, 1, mock.Calls()["mint_key"])
}

func TestEnsureUsableCredential_RotatesStale(t *testing.T) {
	cfg := fastConfig()
	cfg.CredentialTTL = time.Minute
	r, _, mock := newTestRegistry(t, cfg)
	runningAgent(mock)
	ctx := context.Background()

	record, err := r.Resolve(ctx, testKey)
	require.NoError(t, err)
	record, err = r.EnsureUsableCredential(ctx, record)
	require.NoError(t, err)
	firstKey := record.AccessKey

	// Age the verification past the TTL
	record.CredentialVerifiedAt = time.Now().Add(-2 * time.Minute)

	record, err = r.EnsureUsableCredential(ctx, record)
	require.NoError(t, err)
	assert.NotEqual(t, firstKey, record.AccessKey)
	assert.Equal(t, 2, mock.Calls()["mint_key"])
}

func TestEnsureUsableCredential_MintFailureDegrades(t *testing.T) {
	r, st, mock := newTestRegistry(t, fastConfig())
	runningAgent(mock)
	mock.MintAccessKeyFunc = func(agentID, keyName string) (string, error) {
		return "", errors.New("control plane down")
	}
	ctx := context.Background()

	record, err := r.Resolve(ctx, testKey)
	require.NoError(t, err)

	_, err = r.EnsureUsableCredential(ctx, record)
	assert.ErrorIs(t, err, ErrCredentialInvalid)

	stored, err := st.GetAgentRecord(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDegraded, stored.Status)
}

func TestChat_Success(t *testing.T) {
	r, _, mock := newTestRegistry(t, fastConfig())
	runningAgent(mock)
	mock.ChatFunc = func(endpointURL, accessKey string, messages []provider.Message) (string, error) {
		require.Len(t, messages, 1)
		assert.Equal(t, "user", messages[0].Role)
		return "hello from " + endpointURL, nil
	}

	answer, err := r.Chat(context.Background(), testKey, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello from https://agent-1.agents.example", answer)
}

func TestChat_StillProvisioning(t *testing.T) {
	r, _, _ := newTestRegistry(t, fastConfig())

	// Default mock creates provisioning agents with no endpoint
	_, err := r.Chat(context.Background(), testKey, "hi")
	assert.ErrorIs(t, err, ErrStillProvisioning)
	assert.True(t, Retryable(err))
}

func TestChat_FailedDeployment(t *testing.T) {
	r, st, mock := newTestRegistry(t, fastConfig())
	runningAgent(mock)
	ctx := context.Background()

	record, err := r.Resolve(ctx, testKey)
	require.NoError(t, err)

	record.Status = store.StatusFailed
	record.UpdatedAt = time.Now()
	require.NoError(t, st.UpdateAgentRecord(ctx, record))
	require.NoError(t, r.Hydrate(ctx)) // refresh cache from store

	_, err = r.Chat(ctx, testKey, "hi")
	assert.ErrorIs(t, err, ErrProvisioningFailed)
	assert.False(t, Retryable(err))
}

func TestChat_UnauthorizedRotatesOnceAndRetries(t *testing.T) {
	r, st, mock := newTestRegistry(t, fastConfig())
	runningAgent(mock)
	ctx := context.Background()

	calls := 0
	mock.ChatFunc = func(endpointURL, accessKey string, messages []provider.Message) (string, error) {
		calls++
		if calls == 1 {
			return "", &provider.APIError{StatusCode: 401, Body: "revoked"}
		}
		return "recovered", nil
	}

	answer, err := r.Chat(ctx, testKey, "hi")
	require.NoError(t, err)
	assert.Equal(t, "recovered", answer)
	assert.Equal(t, 2, calls)

	// initial mint + rotation after the 401
	assert.Equal(t, 2, mock.Calls()["mint_key"])

	// Rotation repaired the record
	stored, err := st.GetAgentRecord(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, stored.Status)
}

func TestChat_UnauthorizedTwiceFails(t *testing.T) {
	r, st, mock := newTestRegistry(t, fastConfig())
	runningAgent(mock)
	mock.ChatFunc = func(endpointURL, accessKey string, messages []provider.Message) (string, error) {
		return "", &provider.APIError{StatusCode: 401, Body: "revoked"}
	}
	ctx := context.Background()

	_, err := r.Chat(ctx, testKey, "hi")
	assert.ErrorIs(t, err, ErrCredentialInvalid)

	// Exactly one synchronous rotation, then give up
	assert.Equal(t, 2, mock.Calls()["chat"])

	stored, err := st.GetAgentRecord(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDegraded, stored.Status)
}

func TestChat_RemoteErrorNotRetried(t *testing.T) {
	r, _, mock := newTestRegistry(t, fastConfig())
	runningAgent(mock)
	mock.ChatFunc = func(endpointURL, accessKey string, messages []provider.Message) (string, error) {
		return "", errors.New("gateway timeout")
	}

	_, err := r.Chat(context.Background(), testKey, "hi")
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.Equal(t, 1, mock.Calls()["chat"])
}

func TestAttachKnowledgeBase_RejectedWhileProvisioning(t *testing.T) {
	r, _, mock := newTestRegistry(t, fastConfig())
	ctx := context.Background()

	_, err := r.Resolve(ctx, testKey)
	require.NoError(t, err)

	err = r.AttachKnowledgeBase(ctx, testKey, "kb-1")
	assert.ErrorIs(t, err, ErrStillProvisioning)
	assert.Equal(t, 0, mock.Calls()["attach_kb"])
}

func TestAttachKnowledgeBase_Running(t *testing.T) {
	r, st, mock := newTestRegistry(t, fastConfig())
	runningAgent(mock)
	ctx := context.Background()

	_, err := r.Resolve(ctx, testKey)
	require.NoError(t, err)

	require.NoError(t, r.AttachKnowledgeBase(ctx, testKey, "kb-1"))
	assert.Equal(t, 1, mock.Calls()["attach_kb"])

	stored, err := st.GetAgentRecord(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"kb-1"}, stored.KnowledgeBaseIDs)

	// Attaching the same KB again must not duplicate the ID
	require.NoError(t, r.AttachKnowledgeBase(ctx, testKey, "kb-1"))
	stored, err = st.GetAgentRecord(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"kb-1"}, stored.KnowledgeBaseIDs)
}

func TestRegisterKnowledgeBase_ImmediateWhenRunning(t *testing.T) {
	r, _, mock := newTestRegistry(t, fastConfig())
	runningAgent(mock)
	ctx := context.Background()

	kbID, err := r.RegisterKnowledgeBase(ctx, testKey, "example.com site", "https://example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, kbID)
	assert.Equal(t, 1, mock.Calls()["create_kb"])
	assert.Equal(t, 1, mock.Calls()["attach_kb"])
}

func TestListAgents(t *testing.T) {
	r, _, mock := newTestRegistry(t, fastConfig())
	runningAgent(mock)
	ctx := context.Background()

	_, err := r.Resolve(ctx, testKey)
	require.NoError(t, err)

	agents, err := r.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "agent-1", agents[0].AgentID)
}

func TestHydrate_WarmsCache(t *testing.T) {
	st := store.NewMockStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("key-%d", i)
		now := time.Now()
		require.NoError(t, st.CreateAgentRecord(ctx, &store.AgentRecord{
			DomainKey: key,
			AgentID:   fmt.Sprintf("agent-%d", i),
			Status:    store.StatusRunning,
			CreatedAt: now,
			UpdatedAt: now,
		}))
	}

	mock := provider.NewMock()
	r := New(st, mock, fastConfig(), nil)
	defer r.Close()

	require.NoError(t, r.Hydrate(ctx))

	// Cached records resolve without touching store-miss paths
	record, err := r.Resolve(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", record.AgentID)
	assert.Equal(t, 0, mock.Calls()["create_agent"])
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrStillProvisioning))
	assert.True(t, Retryable(ErrCredentialInvalid))
	assert.True(t, Retryable(ErrRemoteUnavailable))
	assert.False(t, Retryable(ErrNotRegistered))
	assert.False(t, Retryable(ErrProvisioningFailed))
	assert.False(t, Retryable(nil))
}
