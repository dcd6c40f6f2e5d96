// Package registry maintains the association between registered domains and
// remotely-hosted support agents, and reconciles local state with the remote
// provider.
//
// # Overview
//
// An inbound chat request carries a domain key. The registry resolves it to an
// AgentRecord through a three-tier lookup:
//
//  1. In-process cache: O(1), no I/O, avoids repeated store round-trips
//  2. Durable store: survives process restarts, source of truth
//  3. Remote creation: the expensive fallback, at most once per domain key
//
// # Deployment State Machine
//
//	UNKNOWN -> PROVISIONING   on create request
//	PROVISIONING -> RUNNING   when polling confirms the deployment
//	PROVISIONING -> FAILED    when the polling budget is exhausted
//	RUNNING -> DEGRADED       when a chat call is rejected as unauthorized
//	DEGRADED -> RUNNING       after successful credential rotation
//
// FAILED is terminal and requires manual re-registration.
//
// # Concurrency
//
// The registry is called from concurrent request handlers. A per-domain-key
// lock plus the store's unique constraint guarantee at most one remote create
// per key: N concurrent Resolve calls for an unknown key produce exactly one
// remote agent, with losers converging on the winner's record.
//
// Exactly one background poller runs per provisioning domain key. Pollers are
// tracked in a map so duplicates cannot start, retry with exponential backoff
// inside a bounded wall-clock budget, and are cancelled at terminal status.
//
// # Credentials
//
// A credential is trusted while its last-verified timestamp is younger than
// the configured TTL. Stale or missing credentials are rotated through the
// provider's dedicated minting call before use. On an unauthorized chat
// response the registry degrades the record, rotates once, retries once, and
// then surfaces ErrCredentialInvalid; it never retries more than once
// synchronously.
//
// # Error Taxonomy
//
//   - ErrNotRegistered: no registered domain for the key (fatal)
//   - ErrStillProvisioning: agent exists but is not RUNNING (retry later)
//   - ErrCredentialInvalid: rotation attempted and failed (bounded retries)
//   - ErrProvisioningFailed: terminal, manual intervention required
//   - ErrRemoteUnavailable: transient, retried only by the background poller
//
// Synchronous paths fail fast; only the poller performs automatic retries.
package registry
