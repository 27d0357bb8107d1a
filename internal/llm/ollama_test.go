package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
)

func TestOllamaComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.False(t, req.Stream)
		if assert.NotNil(t, req.Options) {
			assert.Equal(t, 200, req.Options.NumPredict)
		}
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, domain.RoleSystem, req.Messages[0].Role, "system message should be passed through")
		}
		w.Write([]byte(`{"message":{"role":"assistant","content":"damp in the cellar"},"prompt_eval_count":30,"eval_count":4}`))
	}))
	defer server.Close()

	c := NewOllama(server.URL, "llama3.1", 0)
	got, err := c.Complete(context.Background(), Request{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleUser, Content: "any damp?"},
		},
		MaxTokens: 200,
	})
	require.NoError(t, err)
	assert.Equal(t, "damp in the cellar", got.Text)
	assert.Equal(t, 30, got.InputTokens)
	assert.Equal(t, 4, got.OutputTokens)
}

func TestOllamaComplete_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	c := NewOllama(server.URL, "missing", 0)
	_, err := c.Complete(context.Background(), Request{Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}}})
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.NoError(t, err, "default backend should be ollama")

	_, err = New(Config{Backend: BackendAnthropic})
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "anthropic without key")

	p, err := New(Config{Backend: BackendAnthropic, APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &Anthropic{}, p)

	_, err = New(Config{Backend: "gpt"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "unknown backend")
}
