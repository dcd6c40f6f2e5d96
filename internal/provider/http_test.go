// ABOUTME: Tests for the HTTP provider client against httptest servers.
// ABOUTME: Covers status collapsing, key minting, and unauthorized classification.

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.HandlerFunc) (*HTTPClient, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewHTTPClient(srv.URL, "control-plane-key", 5*time.Second), srv
}

func agentJSON(uuid, status, url string) string {
	return fmt.Sprintf(`{"agent":{"uuid":%q,"deployment":{"status":%q,"url":%q}}}`, uuid, status, url)
}

func TestHTTPClient_CreateAgent(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, agentJSON("agent-123", "STATUS_WAITING_FOR_DEPLOYMENT", ""))
	})
	defer srv.Close()

	agent, err := client.CreateAgent(context.Background(), "example.com")
	require.NoError(t, err)

	assert.Equal(t, "/v2/gen-ai/agents", gotPath)
	assert.Equal(t, "Bearer control-plane-key", gotAuth)
	assert.Contains(t, gotBody["name"], "example.com")
	assert.NotEmpty(t, gotBody["instruction"])

	assert.Equal(t, "agent-123", agent.ID)
	assert.Equal(t, DeploymentProvisioning, agent.State)
	assert.Empty(t, agent.EndpointURL)
}

func TestHTTPClient_GetAgent_StatusCollapsing(t *testing.T) {
	tests := []struct {
		status string
		want   DeploymentState
	}{
		{"STATUS_RUNNING", DeploymentRunning},
		{"STATUS_FAILED", DeploymentFailed},
		{"STATUS_CANCELED", DeploymentFailed},
		{"STATUS_WAITING_FOR_DEPLOYMENT", DeploymentProvisioning},
		{"STATUS_DEPLOYING", DeploymentProvisioning},
		{"", DeploymentProvisioning},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, agentJSON("agent-123", tt.status, "https://agent.example"))
			})
			defer srv.Close()

			agent, err := client.GetAgent(context.Background(), "agent-123")
			require.NoError(t, err)
			assert.Equal(t, tt.want, agent.State)
		})
	}
}

func TestHTTPClient_GetAgent_Path(t *testing.T) {
	var gotPath string
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, agentJSON("agent-123", "STATUS_RUNNING", "https://agent.example"))
	})
	defer srv.Close()

	_, err := client.GetAgent(context.Background(), "agent-123")
	require.NoError(t, err)
	assert.Equal(t, "/v2/gen-ai/agents/agent-123", gotPath)
}

func TestHTTPClient_MintAccessKey(t *testing.T) {
	var gotPath string
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"api_key_info":{"secret_key":"sk-fresh"}}`)
	})
	defer srv.Close()

	key, err := client.MintAccessKey(context.Background(), "agent-123", "key-abc")
	require.NoError(t, err)
	assert.Equal(t, "sk-fresh", key)
	assert.Equal(t, "/v2/gen-ai/agents/agent-123/api_keys", gotPath)
}

func TestHTTPClient_MintAccessKey_EmptySecret(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"api_key_info":{}}`)
	})
	defer srv.Close()

	_, err := client.MintAccessKey(context.Background(), "agent-123", "key-abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty secret")
}

func TestHTTPClient_CreateKnowledgeBase(t *testing.T) {
	var gotBody map[string]any
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"knowledge_base":{"uuid":"kb-42"}}`)
	})
	defer srv.Close()

	kbID, err := client.CreateKnowledgeBase(context.Background(), "example.com site", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "kb-42", kbID)

	// The crawl source must carry the base URL
	sources := gotBody["datasources"].([]any)
	require.Len(t, sources, 1)
	crawler := sources[0].(map[string]any)["web_crawler_data_source"].(map[string]any)
	assert.Equal(t, "https://example.com", crawler["base_url"])
}

func TestHTTPClient_AttachKnowledgeBase(t *testing.T) {
	var gotPath string
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	require.NoError(t, client.AttachKnowledgeBase(context.Background(), "agent-123", "kb-42"))
	assert.Equal(t, "/v2/gen-ai/agents/agent-123/knowledge_bases/kb-42", gotPath)
}

func TestHTTPClient_ChatCompletion(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/api/v1/chat/completions", r.URL.Path)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"the answer"}}]}`)
	}))
	defer srv.Close()

	client := NewHTTPClient("https://unused.control.plane", "control-plane-key", 5*time.Second)
	answer, err := client.ChatCompletion(context.Background(), srv.URL, "agent-access-key",
		[]Message{{Role: "user", Content: "question"}})
	require.NoError(t, err)

	assert.Equal(t, "the answer", answer)
	// Chat uses the agent's minted key, not the control-plane key
	assert.Equal(t, "Bearer agent-access-key", gotAuth)
}

func TestHTTPClient_ChatCompletion_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	client := NewHTTPClient("https://unused.control.plane", "key", 5*time.Second)
	_, err := client.ChatCompletion(context.Background(), srv.URL, "k", []Message{{Role: "user", Content: "q"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty choices")
}

func TestHTTPClient_UnauthorizedClassification(t *testing.T) {
	for _, code := range []int{401, 403} {
		t.Run(fmt.Sprintf("%d", code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(code)
				fmt.Fprint(w, `{"error":"bad key"}`)
			}))
			defer srv.Close()

			client := NewHTTPClient("https://unused.control.plane", "key", 5*time.Second)
			_, err := client.ChatCompletion(context.Background(), srv.URL, "stale-key",
				[]Message{{Role: "user", Content: "q"}})
			assert.True(t, IsUnauthorized(err))
		})
	}
}

func TestHTTPClient_ServerErrorNotUnauthorized(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	_, err := client.GetAgent(context.Background(), "agent-123")
	require.Error(t, err)
	assert.False(t, IsUnauthorized(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}
