// ABOUTME: Background deployment poller with bounded backoff per domain key
// ABOUTME: Confirms RUNNING, attaches queued knowledge bases, or persists FAILED

package registry

import (
	"context"
	"errors"
	"time"

	"github.com/2389/support-gateway/internal/provider"
	"github.com/2389/support-gateway/internal/store"
)

// startPoller launches the deployment poller for a domain key unless one is
// already running. Duplicate pollers per key are forbidden.
func (r *Registry) startPoller(domainKey, agentID string) {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()

	if r.closed {
		return
	}
	if _, running := r.pollers[domainKey]; running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.pollers[domainKey] = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.removePoller(domainKey)
		r.pollDeployment(ctx, domainKey, agentID)
	}()

	r.logger.Info("deployment poller started", "domain_key", domainKey, "agent_id", agentID)
}

// removePoller discards the poller registration for a domain key.
func (r *Registry) removePoller(domainKey string) {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()

	if cancel, ok := r.pollers[domainKey]; ok {
		cancel()
		delete(r.pollers, domainKey)
	}
}

// pollDeployment repeatedly checks remote deployment status with exponential
// backoff until the agent is RUNNING, the deployment fails, or the wall-clock
// budget is exhausted. Transient provider errors are retried within the same
// budget; they never propagate to a caller.
func (r *Registry) pollDeployment(ctx context.Context, domainKey, agentID string) {
	deadline := time.Now().Add(r.cfg.PollBudget)
	delay := r.cfg.PollInterval

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("deployment poller cancelled", "domain_key", domainKey)
			return
		case <-time.After(delay):
		}

		if time.Now().After(deadline) {
			r.logger.Error("deployment polling budget exhausted",
				"domain_key", domainKey,
				"agent_id", agentID,
				"budget", r.cfg.PollBudget)
			r.markFailed(domainKey)
			return
		}

		remote, err := r.provider.GetAgent(ctx, agentID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("deployment status check failed, backing off",
				"domain_key", domainKey,
				"agent_id", agentID,
				"error", err)
			delay = r.nextDelay(delay)
			continue
		}

		switch remote.State {
		case provider.DeploymentRunning:
			if remote.EndpointURL == "" {
				// Running without an endpoint is not yet usable.
				delay = r.nextDelay(delay)
				continue
			}
			r.markRunning(ctx, domainKey, remote.EndpointURL)
			return

		case provider.DeploymentFailed:
			r.logger.Error("remote deployment failed",
				"domain_key", domainKey,
				"agent_id", agentID)
			r.markFailed(domainKey)
			return

		default:
			delay = r.nextDelay(delay)
		}
	}
}

// nextDelay doubles the backoff up to the configured cap.
func (r *Registry) nextDelay(current time.Duration) time.Duration {
	next := current * 2
	if next > r.cfg.PollMaxInterval {
		next = r.cfg.PollMaxInterval
	}
	return next
}

// markRunning persists RUNNING with the confirmed endpoint and attaches every
// knowledge base queued for the domain. Attachment only happens here or after
// this point; earlier attachment attempts are rejected.
func (r *Registry) markRunning(ctx context.Context, domainKey, endpointURL string) {
	record, err := r.store.GetAgentRecord(ctx, domainKey)
	if err != nil {
		r.logger.Error("reading record to mark running", "domain_key", domainKey, "error", err)
		return
	}

	attached := record.KnowledgeBaseIDs
	queued, err := r.store.ListKnowledgeBases(ctx, domainKey)
	if err != nil {
		r.logger.Error("listing queued knowledge bases", "domain_key", domainKey, "error", err)
		queued = nil
	}
	for _, kb := range queued {
		if containsString(attached, kb.KBID) {
			continue
		}
		if err := r.provider.AttachKnowledgeBase(ctx, record.AgentID, kb.KBID); err != nil {
			r.logger.Warn("attaching queued knowledge base failed",
				"domain_key", domainKey,
				"kb_id", kb.KBID,
				"error", err)
			continue
		}
		attached = append(attached, kb.KBID)
		r.logger.Info("queued knowledge base attached",
			"domain_key", domainKey,
			"kb_id", kb.KBID)
	}

	// The attach calls above take wall-clock time. Re-read before writing so
	// a credential rotated in the meantime is not overwritten with the stale
	// copy from the first read.
	record, err = r.store.GetAgentRecord(ctx, domainKey)
	if err != nil {
		r.logger.Error("re-reading record to mark running", "domain_key", domainKey, "error", err)
		return
	}
	record.EndpointURL = endpointURL
	record.Status = store.StatusRunning
	for _, kbID := range attached {
		if !containsString(record.KnowledgeBaseIDs, kbID) {
			record.KnowledgeBaseIDs = append(record.KnowledgeBaseIDs, kbID)
		}
	}
	record.UpdatedAt = time.Now()

	if err := r.persist(ctx, record); err != nil {
		r.logger.Error("persisting running record", "domain_key", domainKey, "error", err)
		return
	}

	r.logger.Info("deployment confirmed running",
		"domain_key", domainKey,
		"agent_id", record.AgentID,
		"endpoint", endpointURL)
}

// markFailed persists the terminal FAILED status. The registration remains in
// the store for operator diagnosis but the agent will not serve chat.
func (r *Registry) markFailed(domainKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	record, err := r.store.GetAgentRecord(ctx, domainKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Error("reading record to mark failed", "domain_key", domainKey, "error", err)
		}
		return
	}

	record.Status = store.StatusFailed
	record.UpdatedAt = time.Now()
	if err := r.persist(ctx, record); err != nil {
		r.logger.Error("persisting failed record", "domain_key", domainKey, "error", err)
	}
}
