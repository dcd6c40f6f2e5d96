// ABOUTME: Error taxonomy for agent resolution and reconciliation
// ABOUTME: Sentinel errors distinguishing fatal, retryable, and terminal failures

package registry

import "errors"

var (
	// ErrNotRegistered means the domain key has no registered domain.
	// Fatal for the caller; the domain must be registered first.
	ErrNotRegistered = errors.New("domain not registered")

	// ErrStillProvisioning means the agent exists but has not reached RUNNING.
	// Retryable by the caller after a delay.
	ErrStillProvisioning = errors.New("agent still provisioning")

	// ErrCredentialInvalid means a credential refresh was attempted and failed.
	// Retryable a bounded number of times before treating as permanent.
	ErrCredentialInvalid = errors.New("agent credential invalid")

	// ErrProvisioningFailed means remote creation or deployment never succeeded
	// within budget. Terminal; requires manual re-registration.
	ErrProvisioningFailed = errors.New("agent provisioning failed")

	// ErrRemoteUnavailable is a transient provider or network error. Only the
	// background poller retries these automatically.
	ErrRemoteUnavailable = errors.New("remote provider unavailable")
)

// Retryable reports whether the caller may retry the operation later without
// operator intervention.
func Retryable(err error) bool {
	return errors.Is(err, ErrStillProvisioning) ||
		errors.Is(err, ErrCredentialInvalid) ||
		errors.Is(err, ErrRemoteUnavailable)
}
