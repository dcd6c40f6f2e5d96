// ABOUTME: Agent registry reconciling an in-process cache, the durable store,
// ABOUTME: and the remote provider, with credential rotation on the chat path.

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/support-gateway/internal/provider"
	"github.com/2389/support-gateway/internal/store"
)

// Config holds registry timing knobs.
type Config struct {
	// CredentialTTL is how long a minted credential is trusted without
	// re-verification. Zero means 15 minutes.
	CredentialTTL time.Duration

	// PollInterval is the initial delay between deployment status checks.
	// The poller doubles it up to PollMaxInterval. Zero means 5 seconds.
	PollInterval time.Duration

	// PollMaxInterval caps the poll backoff. Zero means 30 seconds.
	PollMaxInterval time.Duration

	// PollBudget bounds the total wall-clock time spent polling one
	// deployment before it is marked FAILED. Zero means 3 minutes.
	PollBudget time.Duration
}

func (c Config) withDefaults() Config {
	if c.CredentialTTL <= 0 {
		c.CredentialTTL = 15 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PollMaxInterval <= 0 {
		c.PollMaxInterval = 30 * time.Second
	}
	if c.PollBudget <= 0 {
		c.PollBudget = 3 * time.Minute
	}
	return c
}

// Registry owns AgentRecord and KnowledgeBaseRecord lifecycle. It resolves a
// domain key through cache, durable store, and remote creation, guarantees a
// usable credential before chat, and reconciles deployment state in the
// background.
//
// The durable store is the source of truth; the cache is rebuildable and is
// overwritten from the store whenever the two are observed to disagree.
type Registry struct {
	store    store.Store
	provider provider.Client
	cfg      Config
	logger   *slog.Logger

	mu    sync.RWMutex
	cache map[string]*store.AgentRecord

	createMu sync.Mutex
	creating map[string]*sync.Mutex // per-domain-key create locks

	pollMu  sync.Mutex
	pollers map[string]context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

// New creates a Registry. Call Hydrate to warm the cache from the store, and
// Close to stop background pollers.
func New(s store.Store, p provider.Client, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    s,
		provider: p,
		cfg:      cfg.withDefaults(),
		logger:   logger.With("component", "registry"),
		cache:    make(map[string]*store.AgentRecord),
		creating: make(map[string]*sync.Mutex),
		pollers:  make(map[string]context.CancelFunc),
	}
}

// Hydrate loads all agent records from the durable store into the cache and
// restarts pollers for records still provisioning. Called once at startup.
func (r *Registry) Hydrate(ctx context.Context) error {
	records, err := r.store.ListAgentRecords(ctx)
	if err != nil {
		return fmt.Errorf("hydrating registry: %w", err)
	}

	for _, record := range records {
		r.cachePut(record)
		if record.Status == store.StatusProvisioning || record.Status == store.StatusUnknown {
			r.startPoller(record.DomainKey, record.AgentID)
		}
	}

	r.logger.Info("registry hydrated", "agents", len(records))
	return nil
}

// Resolve returns the agent record for a domain key, looking up the cache,
// then the durable store, then creating the agent remotely. A newly created
// record is in PROVISIONING and carries no confirmed credential yet; a
// background poller is started for it.
//
// At most one remote create is in flight per domain key: a per-key lock
// serializes local racers and the store's unique constraint arbitrates
// anything else, with the loser re-reading the winner's record.
func (r *Registry) Resolve(ctx context.Context, domainKey string) (*store.AgentRecord, error) {
	if record := r.cacheGet(domainKey); record != nil {
		return record, nil
	}

	record, err := r.store.GetAgentRecord(ctx, domainKey)
	if err == nil {
		r.cachePut(record)
		return record.Clone(), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("reading agent record: %w", err)
	}

	// Absent from cache and store: create, holding the per-key lock.
	lock := r.keyLock(domainKey)
	lock.Lock()
	defer lock.Unlock()

	// Another local caller may have won while we waited.
	if record := r.cacheGet(domainKey); record != nil {
		return record, nil
	}
	record, err = r.store.GetAgentRecord(ctx, domainKey)
	if err == nil {
		r.cachePut(record)
		return record.Clone(), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("reading agent record: %w", err)
	}

	return r.createAgent(ctx, domainKey)
}

// createAgent provisions a remote agent and writes the record through to the
// store and cache. Must be called with the domain key's create lock held.
func (r *Registry) createAgent(ctx context.Context, domainKey string) (*store.AgentRecord, error) {
	domain, err := r.store.GetDomainByKey(ctx, domainKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, domainKey)
	}
	if err != nil {
		return nil, fmt.Errorf("reading domain: %w", err)
	}

	remote, err := r.provider.CreateAgent(ctx, domain.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: creating agent for %s: %v", ErrRemoteUnavailable, domain.Name, err)
	}

	now := time.Now()
	record := &store.AgentRecord{
		DomainKey:   domainKey,
		AgentID:     remote.ID,
		EndpointURL: remote.EndpointURL,
		Status:      store.StatusProvisioning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if remote.State == provider.DeploymentRunning && remote.EndpointURL != "" {
		record.Status = store.StatusRunning
	}

	if err := r.store.CreateAgentRecord(ctx, record); err != nil {
		if errors.Is(err, store.ErrDuplicateAgent) {
			// Lost a cross-process race; the winner's record is authoritative.
			existing, rerr := r.store.GetAgentRecord(ctx, domainKey)
			if rerr != nil {
				return nil, fmt.Errorf("re-reading agent record after race: %w", rerr)
			}
			r.cachePut(existing)
			r.logger.Info("lost agent creation race, adopting existing record",
				"domain_key", domainKey,
				"agent_id", existing.AgentID)
			return existing.Clone(), nil
		}
		return nil, fmt.Errorf("persisting agent record: %w", err)
	}

	r.cachePut(record)
	r.logger.Info("agent record created",
		"domain_key", domainKey,
		"agent_id", record.AgentID,
		"status", record.Status)

	if record.Status == store.StatusProvisioning {
		r.startPoller(domainKey, record.AgentID)
	}
	return record.Clone(), nil
}

// EnsureUsableCredential returns the record with a credential that is valid
// for immediate use, minting a fresh one from the provider if the stored
// credential is absent, stale, or the record is DEGRADED. On mint failure the
// record is marked DEGRADED and ErrCredentialInvalid is returned.
//
// Keys are only ever taken from the dedicated minting call; credentials
// embedded in list/describe responses are never trusted.
func (r *Registry) EnsureUsableCredential(ctx context.Context, record *store.AgentRecord) (*store.AgentRecord, error) {
	if record.AccessKey != "" &&
		record.Status != store.StatusDegraded &&
		time.Since(record.CredentialVerifiedAt) < r.cfg.CredentialTTL {
		return record, nil
	}
	return r.rotateCredential(ctx, record)
}

// rotateCredential mints and persists a fresh access key.
func (r *Registry) rotateCredential(ctx context.Context, record *store.AgentRecord) (*store.AgentRecord, error) {
	updated := record.Clone()

	key, err := r.provider.MintAccessKey(ctx, record.AgentID, "key-"+record.DomainKey)
	if err != nil {
		updated.Status = store.StatusDegraded
		updated.UpdatedAt = time.Now()
		if perr := r.persist(ctx, updated); perr != nil {
			r.logger.Error("failed to persist degraded record",
				"domain_key", record.DomainKey, "error", perr)
		}
		r.logger.Warn("credential mint failed",
			"domain_key", record.DomainKey,
			"agent_id", record.AgentID,
			"error", err)
		return nil, fmt.Errorf("%w: minting key for %s: %v", ErrCredentialInvalid, record.DomainKey, err)
	}

	now := time.Now()
	updated.AccessKey = key
	updated.CredentialVerifiedAt = now
	updated.UpdatedAt = now
	if updated.Status == store.StatusDegraded {
		// Successful rotation repairs a degraded record.
		updated.Status = store.StatusRunning
	}

	if err := r.persist(ctx, updated); err != nil {
		return nil, fmt.Errorf("persisting rotated credential: %w", err)
	}

	r.logger.Info("credential rotated",
		"domain_key", record.DomainKey,
		"agent_id", record.AgentID)
	return updated, nil
}

// Chat resolves the domain's agent, guarantees a usable credential, and issues
// the remote chat call. If the call is rejected as unauthorized despite a
// recently-verified credential, the record is marked DEGRADED and exactly one
// rotation-and-retry is attempted before failing with ErrCredentialInvalid.
func (r *Registry) Chat(ctx context.Context, domainKey, message string) (string, error) {
	record, err := r.Resolve(ctx, domainKey)
	if err != nil {
		return "", err
	}

	switch record.Status {
	case store.StatusFailed:
		return "", fmt.Errorf("%w: %s", ErrProvisioningFailed, domainKey)
	case store.StatusUnknown, store.StatusProvisioning:
		return "", fmt.Errorf("%w: %s", ErrStillProvisioning, domainKey)
	}

	record, err = r.EnsureUsableCredential(ctx, record)
	if err != nil {
		return "", err
	}

	messages := []provider.Message{{Role: "user", Content: message}}

	answer, err := r.provider.ChatCompletion(ctx, record.EndpointURL, record.AccessKey, messages)
	if err == nil {
		return answer, nil
	}
	if !provider.IsUnauthorized(err) {
		return "", fmt.Errorf("%w: chat for %s: %v", ErrRemoteUnavailable, domainKey, err)
	}

	// Race with external revocation: degrade, rotate once, retry once.
	r.logger.Warn("chat rejected as unauthorized, rotating credential",
		"domain_key", domainKey,
		"agent_id", record.AgentID)
	degraded := record.Clone()
	degraded.Status = store.StatusDegraded
	degraded.UpdatedAt = time.Now()
	if perr := r.persist(ctx, degraded); perr != nil {
		r.logger.Error("failed to persist degraded record",
			"domain_key", domainKey, "error", perr)
	}

	record, err = r.rotateCredential(ctx, degraded)
	if err != nil {
		return "", err
	}

	answer, err = r.provider.ChatCompletion(ctx, record.EndpointURL, record.AccessKey, messages)
	if err != nil {
		if provider.IsUnauthorized(err) {
			final := record.Clone()
			final.Status = store.StatusDegraded
			final.UpdatedAt = time.Now()
			if perr := r.persist(ctx, final); perr != nil {
				r.logger.Error("failed to persist degraded record",
					"domain_key", domainKey, "error", perr)
			}
			return "", fmt.Errorf("%w: chat rejected after rotation for %s", ErrCredentialInvalid, domainKey)
		}
		return "", fmt.Errorf("%w: chat retry for %s: %v", ErrRemoteUnavailable, domainKey, err)
	}
	return answer, nil
}

// RegisterKnowledgeBase provisions a remote knowledge base for the domain and
// queues it for attachment. If the agent is already RUNNING it is attached
// immediately; otherwise the background poller attaches it once the
// deployment is confirmed.
func (r *Registry) RegisterKnowledgeBase(ctx context.Context, domainKey, label, sourceURL string) (string, error) {
	record, err := r.Resolve(ctx, domainKey)
	if err != nil {
		return "", err
	}
	if record.Status == store.StatusFailed {
		return "", fmt.Errorf("%w: %s", ErrProvisioningFailed, domainKey)
	}

	kbID, err := r.provider.CreateKnowledgeBase(ctx, label, sourceURL)
	if err != nil {
		return "", fmt.Errorf("%w: creating knowledge base: %v", ErrRemoteUnavailable, err)
	}

	kb := &store.KnowledgeBaseRecord{
		DomainKey: domainKey,
		KBID:      kbID,
		Label:     label,
		CreatedAt: time.Now(),
	}
	if err := r.store.CreateKnowledgeBase(ctx, kb); err != nil {
		return "", fmt.Errorf("recording knowledge base: %w", err)
	}

	if record.Status == store.StatusRunning {
		if err := r.AttachKnowledgeBase(ctx, domainKey, kbID); err != nil {
			return "", err
		}
	} else {
		r.logger.Info("knowledge base queued until deployment completes",
			"domain_key", domainKey, "kb_id", kbID)
	}
	return kbID, nil
}

// AttachKnowledgeBase attaches an already-provisioned knowledge base to the
// domain's agent. Attachment is only permitted once the deployment is
// RUNNING; earlier attempts are rejected with ErrStillProvisioning.
func (r *Registry) AttachKnowledgeBase(ctx context.Context, domainKey, kbID string) error {
	record, err := r.Resolve(ctx, domainKey)
	if err != nil {
		return err
	}
	if record.Status != store.StatusRunning {
		return fmt.Errorf("%w: cannot attach knowledge base while %s", ErrStillProvisioning, record.Status)
	}

	if err := r.provider.AttachKnowledgeBase(ctx, record.AgentID, kbID); err != nil {
		return fmt.Errorf("%w: attaching knowledge base %s: %v", ErrRemoteUnavailable, kbID, err)
	}

	updated := record.Clone()
	if !containsString(updated.KnowledgeBaseIDs, kbID) {
		updated.KnowledgeBaseIDs = append(updated.KnowledgeBaseIDs, kbID)
	}
	updated.UpdatedAt = time.Now()
	if err := r.persist(ctx, updated); err != nil {
		return fmt.Errorf("persisting attachment: %w", err)
	}

	r.logger.Info("knowledge base attached", "domain_key", domainKey, "kb_id", kbID)
	return nil
}

// ListAgents returns all known agent records from the durable store.
func (r *Registry) ListAgents(ctx context.Context) ([]*store.AgentRecord, error) {
	return r.store.ListAgentRecords(ctx)
}

// Close cancels all background pollers and waits for them to exit.
func (r *Registry) Close() {
	r.pollMu.Lock()
	r.closed = true
	for _, cancel := range r.pollers {
		cancel()
	}
	r.pollMu.Unlock()

	r.wg.Wait()
}

// persist writes the record to the durable store first, then publishes it to
// the cache. The store is authoritative; the cache only ever sees records the
// store has accepted.
func (r *Registry) persist(ctx context.Context, record *store.AgentRecord) error {
	if err := r.store.UpdateAgentRecord(ctx, record); err != nil {
		return err
	}
	r.cachePut(record)
	return nil
}

// cacheGet returns a clone of the cached record, or nil.
func (r *Registry) cacheGet(domainKey string) *store.AgentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.cache[domainKey]
	if !ok {
		return nil
	}
	return record.Clone()
}

// cachePut publishes a fully-formed clone of the record. Readers never see
// partially-initialized state.
func (r *Registry) cachePut(record *store.AgentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[record.DomainKey] = record.Clone()
}

// keyLock returns the create lock for a domain key, allocating it on first use.
func (r *Registry) keyLock(domainKey string) *sync.Mutex {
	r.createMu.Lock()
	defer r.createMu.Unlock()

	lock, ok := r.creating[domainKey]
	if !ok {
		lock = &sync.Mutex{}
		r.creating[domainKey] = lock
	}
	return lock
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
