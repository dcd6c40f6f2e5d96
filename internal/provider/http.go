// ABOUTME: HTTP client for a Gradient-style agent-hosting control plane
// ABOUTME: Implements agent creation, key minting, KB attachment, and chat calls

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPClient implements Client against an HTTP/JSON control plane.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewHTTPClient creates a provider client for the given control-plane base URL.
// apiKey authenticates control-plane calls; per-agent chat calls use the
// agent's own minted access key instead.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  slog.Default().With("component", "provider"),
	}
}

// agentEnvelope is the provider's agent response shape.
type agentEnvelope struct {
	Agent struct {
		UUID       string `json:"uuid"`
		Deployment struct {
			Status string `json:"status"`
			URL    string `json:"url"`
		} `json:"deployment"`
	} `json:"agent"`
}

// toAgent collapses the provider's deployment status strings into a
// DeploymentState.
func (e *agentEnvelope) toAgent() *Agent {
	state := DeploymentProvisioning
	switch e.Agent.Deployment.Status {
	case "STATUS_RUNNING":
		state = DeploymentRunning
	case "STATUS_FAILED", "STATUS_CANCELED":
		state = DeploymentFailed
	}
	return &Agent{
		ID:          e.Agent.UUID,
		EndpointURL: e.Agent.Deployment.URL,
		State:       state,
	}
}

// CreateAgent provisions a new agent for a domain. The returned agent is
// typically still provisioning and has no endpoint URL yet.
func (c *HTTPClient) CreateAgent(ctx context.Context, domainName string) (*Agent, error) {
	body := map[string]any{
		"name":        fmt.Sprintf("Support Agent - %s", domainName),
		"instruction": supportInstruction(domainName),
		"description": fmt.Sprintf("Customer support agent for %s", domainName),
		"tags":        []string{"customer-support", domainName},
	}

	var env agentEnvelope
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/v2/gen-ai/agents", c.apiKey, body, &env); err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}

	c.logger.Info("created remote agent", "agent_id", env.Agent.UUID, "domain", domainName)
	return env.toAgent(), nil
}

// GetAgent fetches current deployment status and endpoint URL for an agent.
func (c *HTTPClient) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	var env agentEnvelope
	url := fmt.Sprintf("%s/v2/gen-ai/agents/%s", c.baseURL, agentID)
	if err := c.do(ctx, http.MethodGet, url, c.apiKey, nil, &env); err != nil {
		return nil, fmt.Errorf("fetching agent: %w", err)
	}
	return env.toAgent(), nil
}

// MintAccessKey creates a fresh access key for an agent. The secret is only
// ever read from this dedicated response, never from agent list/describe
// payloads.
func (c *HTTPClient) MintAccessKey(ctx context.Context, agentID, keyName string) (string, error) {
	body := map[string]any{"name": keyName}

	var resp struct {
		APIKeyInfo struct {
			SecretKey string `json:"secret_key"`
		} `json:"api_key_info"`
	}
	url := fmt.Sprintf("%s/v2/gen-ai/agents/%s/api_keys", c.baseURL, agentID)
	if err := c.do(ctx, http.MethodPost, url, c.apiKey, body, &resp); err != nil {
		return "", fmt.Errorf("minting access key: %w", err)
	}
	if resp.APIKeyInfo.SecretKey == "" {
		return "", fmt.Errorf("minting access key: empty secret in response")
	}

	c.logger.Info("minted access key", "agent_id", agentID, "key_name", keyName)
	return resp.APIKeyInfo.SecretKey, nil
}

// CreateKnowledgeBase provisions a knowledge base seeded with a web-crawler
// data source for the given base URL.
func (c *HTTPClient) CreateKnowledgeBase(ctx context.Context, name, baseURL string) (string, error) {
	body := map[string]any{
		"name": name,
		"datasources": []map[string]any{
			{
				"web_crawler_data_source": map[string]any{
					"base_url":        baseURL,
					"crawling_option": "SCOPED",
				},
			},
		},
	}

	var resp struct {
		KnowledgeBase struct {
			UUID string `json:"uuid"`
		} `json:"knowledge_base"`
	}
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/v2/gen-ai/knowledge_bases", c.apiKey, body, &resp); err != nil {
		return "", fmt.Errorf("creating knowledge base: %w", err)
	}

	c.logger.Info("created knowledge base", "kb_id", resp.KnowledgeBase.UUID, "name", name)
	return resp.KnowledgeBase.UUID, nil
}

// AttachKnowledgeBase attaches a knowledge base to a running agent. Attaching
// before the deployment is running fails with a not-found error on the remote
// side, so callers gate this on deployment state.
func (c *HTTPClient) AttachKnowledgeBase(ctx context.Context, agentID, kbID string) error {
	url := fmt.Sprintf("%s/v2/gen-ai/agents/%s/knowledge_bases/%s", c.baseURL, agentID, kbID)
	if err := c.do(ctx, http.MethodPost, url, c.apiKey, nil, nil); err != nil {
		return fmt.Errorf("attaching knowledge base: %w", err)
	}

	c.logger.Info("attached knowledge base", "agent_id", agentID, "kb_id", kbID)
	return nil
}

// ChatCompletion sends messages to an agent's chat endpoint using its minted
// access key. A 401/403 response surfaces as ErrUnauthorized.
func (c *HTTPClient) ChatCompletion(ctx context.Context, endpointURL, accessKey string, messages []Message) (string, error) {
	body := map[string]any{
		"messages":         messages,
		"provide_citations": true,
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.do(ctx, http.MethodPost, endpointURL+"/api/v1/chat/completions", accessKey, body, &resp); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// do executes one JSON request/response round trip. Non-2xx responses become
// *APIError so callers can classify authentication failures.
func (c *HTTPClient) do(ctx context.Context, method, url, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// supportInstruction is the shared system instruction for per-domain agents.
// Session and user context is supplied per request, not baked in here.
func supportInstruction(domainName string) string {
	return fmt.Sprintf(`You are a helpful customer support assistant for %s.

Guidelines:
1. Use your knowledge base from the site's content to answer questions accurately.
2. Provide helpful, accurate, and friendly responses.
3. If you don't know the answer, say so honestly.
4. When citing information from the knowledge base, mention that it's from the website.

This agent serves multiple users and sessions; user-specific context arrives with each request.`, domainName)
}
