package hermes

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{URL: "nats://localhost:4222"}.withDefaults()

	assert.Equal(t, "surveyor", cfg.Name)
	assert.Equal(t, 60, cfg.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.ReconnectWait)
	assert.Equal(t, 5*time.Second, cfg.DrainTimeout)
}

func TestConfigDefaults_KeepExplicitValues(t *testing.T) {
	cfg := Config{Name: "surveyor-2", MaxReconnects: -1, ReconnectWait: time.Second}.withDefaults()

	assert.Equal(t, "surveyor-2", cfg.Name)
	assert.Equal(t, -1, cfg.MaxReconnects, "negative means reconnect forever")
	assert.Equal(t, time.Second, cfg.ReconnectWait)
}

func TestConfigOptions_Token(t *testing.T) {
	base := Config{}.withDefaults()
	withToken := base
	withToken.Token = "secret"

	closed := make(chan struct{})
	assert.Len(t, withToken.options(slog.Default(), closed), len(base.options(slog.Default(), closed))+1)
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(Config{}, slog.Default())
	assert.Error(t, err)
}

func TestNewJSONMsg(t *testing.T) {
	msg, err := newJSONMsg(SubjectDocumentIndexed, DocumentIndexed{DocumentID: "doc-1", Chunks: 2})
	require.NoError(t, err)

	assert.Equal(t, SubjectDocumentIndexed, msg.Subject)
	assert.Equal(t, "application/json", msg.Header.Get("Content-Type"))

	var evt DocumentIndexed
	require.NoError(t, json.Unmarshal(msg.Data, &evt))
	assert.Equal(t, "doc-1", evt.DocumentID)
	assert.Equal(t, 2, evt.Chunks)
}

func TestNewJSONMsg_EncodeError(t *testing.T) {
	_, err := newJSONMsg("x", map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}
