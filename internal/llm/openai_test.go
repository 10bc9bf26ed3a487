package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockOpenAI(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		resp := map[string]interface{}{
			"id":    "chatcmpl-test",
			"model": "gpt-4o-mini",
			"choices": []map[string]interface{}{
				{
					"message":       map[string]string{"role": "assistant", "content": content},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 7},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIGenerate(t *testing.T) {
	srv := newMockOpenAI(t, "the policy allows twenty days", http.StatusOK)
	p := NewOpenAIProviderWithBaseURL("test-key", srv.URL)

	resp, err := p.Generate(context.Background(), &Request{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: "user", Content: "vacation days?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "the policy allows twenty days", resp.Content)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 7, resp.OutputTokens)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestOpenAIGenerate_ServerError(t *testing.T) {
	srv := newMockOpenAI(t, "", http.StatusInternalServerError)
	p := NewOpenAIProviderWithBaseURL("test-key", srv.URL)

	_, err := p.Generate(context.Background(), &Request{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	assert.Error(t, err)
}

func TestNew_SelectsProvider(t *testing.T) {
	p, err := New(Config{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	p, err = New(Config{Provider: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())

	_, err = New(Config{Provider: "bedrock"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
