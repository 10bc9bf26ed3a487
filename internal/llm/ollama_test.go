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

func TestOllamaGenerate(t *testing.T) {
	var gotPath string
	var gotReq ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"message": map[string]string{"role": "assistant", "content": "local answer"},
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL)
	resp, err := p.Generate(context.Background(), &Request{
		Model:       "llama3",
		Messages:    []Message{{Role: "user", Content: "hello"}},
		Temperature: 0.1,
		MaxTokens:   300,
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/chat", gotPath)
	assert.Equal(t, "llama3", gotReq.Model)
	assert.False(t, gotReq.Stream)
	assert.InDelta(t, 0.1, gotReq.Options.Temperature, 1e-9)
	assert.Equal(t, "local answer", resp.Content)
}

func TestOllamaGenerate_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL)
	_, err := p.Generate(context.Background(), &Request{Model: "llama3"})
	assert.Error(t, err)
}

func TestNewOllamaProvider_DefaultURL(t *testing.T) {
	p := NewOllamaProvider("")
	assert.Equal(t, "http://localhost:11434", p.baseURL)
}
