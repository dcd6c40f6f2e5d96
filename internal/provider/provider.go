// ABOUTME: Boundary contract for the remote agent-hosting provider
// ABOUTME: Defines the Client interface, deployment states, and error classification

package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnauthorized indicates the remote provider rejected the supplied
// credential. It is distinguishable from other failures so callers can
// rotate the credential and retry.
var ErrUnauthorized = errors.New("unauthorized")

// DeploymentState is the coarse deployment state reported by the provider.
type DeploymentState string

// Deployment states. Provider-specific status strings are collapsed into
// these three by the client implementation.
const (
	DeploymentProvisioning DeploymentState = "provisioning"
	DeploymentRunning      DeploymentState = "running"
	DeploymentFailed       DeploymentState = "failed"
)

// Agent describes a remotely-hosted conversational agent.
type Agent struct {
	ID          string
	EndpointURL string // empty until the deployment is running
	State       DeploymentState
}

// Message is a single chat message in provider wire order.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the narrow contract the registry consumes. Implementations of the
// actual hosting platform live behind it; tests substitute a Mock.
//
// MintAccessKey is deliberately its own call. Credentials embedded in
// list/describe responses are frequently stale, so a key is only ever taken
// from the dedicated minting response.
type Client interface {
	CreateAgent(ctx context.Context, domainName string) (*Agent, error)
	GetAgent(ctx context.Context, agentID string) (*Agent, error)
	MintAccessKey(ctx context.Context, agentID, keyName string) (string, error)
	CreateKnowledgeBase(ctx context.Context, name, baseURL string) (string, error)
	AttachKnowledgeBase(ctx context.Context, agentID, kbID string) error
	ChatCompletion(ctx context.Context, endpointURL, accessKey string, messages []Message) (string, error)
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps authentication failures to ErrUnauthorized so callers can use
// errors.Is without inspecting status codes.
func (e *APIError) Unwrap() error {
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return ErrUnauthorized
	}
	return nil
}

// IsUnauthorized reports whether err represents a rejected credential.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
