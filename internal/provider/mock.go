// ABOUTME: Mock provider Client implementation for testing
// ABOUTME: Tracks call counts and lets tests script deployment and auth behavior

package provider

import (
	"context"
	"fmt"
	"sync"
)

// Mock is an in-memory Client implementation for testing. Behavior is scripted
// through the exported function fields; unset fields use sensible defaults.
// Call counts are tracked per method.
type Mock struct {
	mu sync.Mutex

	CreateAgentFunc   func(domainName string) (*Agent, error)
	GetAgentFunc      func(agentID string) (*Agent, error)
	MintAccessKeyFunc func(agentID, keyName string) (string, error)
	CreateKBFunc      func(name, baseURL string) (string, error)
	AttachKBFunc      func(agentID, kbID string) error
	ChatFunc          func(endpointURL, accessKey string, messages []Message) (string, error)

	CreateAgentCalls int
	GetAgentCalls    int
	MintKeyCalls     int
	CreateKBCalls    int
	AttachKBCalls    int
	ChatCalls        int

	nextAgent int
}

// NewMock creates a Mock whose defaults provision agents that are immediately
// running with a valid key. Tests override the function fields to script
// slower deployments or failures.
func NewMock() *Mock {
	return &Mock{}
}

// CreateAgent implements Client.
func (m *Mock) CreateAgent(ctx context.Context, domainName string) (*Agent, error) {
	m.mu.Lock()
	m.CreateAgentCalls++
	m.nextAgent++
	n := m.nextAgent
	fn := m.CreateAgentFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(domainName)
	}
	return &Agent{
		ID:          fmt.Sprintf("agent-%d", n),
		EndpointURL: "",
		State:       DeploymentProvisioning,
	}, nil
}

// GetAgent implements Client.
func (m *Mock) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	m.mu.Lock()
	m.GetAgentCalls++
	fn := m.GetAgentFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(agentID)
	}
	return &Agent{
		ID:          agentID,
		EndpointURL: "https://" + agentID + ".agents.example",
		State:       DeploymentRunning,
	}, nil
}

// MintAccessKey implements Client.
func (m *Mock) MintAccessKey(ctx context.Context, agentID, keyName string) (string, error) {
	m.mu.Lock()
	m.MintKeyCalls++
	n := m.MintKeyCalls
	fn := m.MintAccessKeyFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(agentID, keyName)
	}
	return fmt.Sprintf("secret-%s-%d", agentID, n), nil
}

// CreateKnowledgeBase implements Client.
func (m *Mock) CreateKnowledgeBase(ctx context.Context, name, baseURL string) (string, error) {
	m.mu.Lock()
	m.CreateKBCalls++
	n := m.CreateKBCalls
	fn := m.CreateKBFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(name, baseURL)
	}
	return fmt.Sprintf("kb-%d", n), nil
}

// AttachKnowledgeBase implements Client.
func (m *Mock) AttachKnowledgeBase(ctx context.Context, agentID, kbID string) error {
	m.mu.Lock()
	m.AttachKBCalls++
	fn := m.AttachKBFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(agentID, kbID)
	}
	return nil
}

// ChatCompletion implements Client.
func (m *Mock) ChatCompletion(ctx context.Context, endpointURL, accessKey string, messages []Message) (string, error) {
	m.mu.Lock()
	m.ChatCalls++
	fn := m.ChatFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(endpointURL, accessKey, messages)
	}
	return "mock answer", nil
}

// Calls returns a snapshot of all call counters, for assertions.
func (m *Mock) Calls() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{
		"create_agent": m.CreateAgentCalls,
		"get_agent":    m.GetAgentCalls,
		"mint_key":     m.MintKeyCalls,
		"create_kb":    m.CreateKBCalls,
		"attach_kb":    m.AttachKBCalls,
		"chat":         m.ChatCalls,
	}
}
