package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartmetal/internal/config"
	"smartmetal/internal/llm"
	"smartmetal/internal/llm/openai"
	"smartmetal/internal/port"
)

func newTestClient(serverURL string) *openai.Client {
	cfg := &config.ModelProviderConfig{
		Provider:     "openai",
		APIKey:       "test-openai-key",
		DefaultModel: "gpt-4o",
		TimeoutSecs:  30,
	}
	return openai.NewClientWithEndpoint(cfg, serverURL)
}

var request = port.CompletionRequest{
	Messages: []port.Message{
		{Role: port.RoleSystem, Content: "You normalize line items."},
		{Role: port.RoleUser, Content: "Items: ..."},
	},
	MaxOutputTokens: 3000,
}

func TestOpenAIClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-openai-key", r.Header.Get("Authorization"))

		var reqBody map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))
		assert.Equal(t, "gpt-4o", reqBody["model"])
		assert.Equal(t, float64(3000), reqBody["max_tokens"])

		messages := reqBody["messages"].([]interface{})
		assert.Len(t, messages, 2)
		assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "gpt-4o-2024-08-06",
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": `{"line_items":[]}`}, "finish_reason": "stop"},
			},
		})
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).Complete(context.Background(), request)

	require.NoError(t, err)
	assert.Equal(t, `{"line_items":[]}`, resp.Text)
	assert.Equal(t, "gpt-4o-2024-08-06", resp.Model)
	assert.False(t, resp.Truncated)
}

func TestOpenAIClient_Complete_Truncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"line_items\":["},"finish_reason":"length"}]}`))
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).Complete(context.Background(), request)

	require.NoError(t, err)
	assert.True(t, resp.Truncated)
}

func TestOpenAIClient_Complete_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), request)

	assert.ErrorIs(t, err, llm.ErrEmptyResponse)
}

func TestOpenAIClient_Complete_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), request)

	var rlErr *llm.RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, "openai", rlErr.Provider)
}

func TestOpenAIClient_NewClient_BaseURL(t *testing.T) {
	var hit bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = r.URL.Path == "/v1/chat/completions"
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{}"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	client := openai.NewClient(&config.ModelProviderConfig{Provider: "openai", BaseURL: server.URL + "/v1/"})
	_, err := client.Complete(context.Background(), request)

	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "openai:gpt-4o", client.Name())
}
