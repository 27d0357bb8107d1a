//go:build integration

package hermes

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIntegrationClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	client, err := NewClient(Config{URL: url, Token: os.Getenv("NATS_TOKEN")}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestIntegration_PubSub(t *testing.T) {
	client := newIntegrationClient(t)

	received := make(chan map[string]string, 1)
	require.NoError(t, client.Subscribe("surveyor.test.>", func(subject string, data []byte) {
		var msg map[string]string
		json.Unmarshal(data, &msg)
		received <- msg
	}))

	// Give subscription time to propagate
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, client.Publish("surveyor.test.ping", map[string]string{
		"message": "hello from integration test",
	}))

	select {
	case msg := <-received:
		assert.Equal(t, "hello from integration test", msg["message"])
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestIntegration_HandlerPanicKeepsSubscription(t *testing.T) {
	client := newIntegrationClient(t)

	received := make(chan string, 2)
	require.NoError(t, client.Subscribe("surveyor.test.panic.>", func(subject string, _ []byte) {
		if subject == "surveyor.test.panic.first" {
			panic("boom")
		}
		received <- subject
	}))
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, client.Publish("surveyor.test.panic.first", map[string]string{}))
	require.NoError(t, client.Publish("surveyor.test.panic.second", map[string]string{}))

	select {
	case subject := <-received:
		assert.Equal(t, "surveyor.test.panic.second", subject)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not survive a handler panic")
	}
}

func TestIntegration_DocumentIndexedRoundTrip(t *testing.T) {
	client := newIntegrationClient(t)

	received := make(chan DocumentIndexed, 1)
	require.NoError(t, client.Subscribe(SubjectDocumentIndexed, func(_ string, data []byte) {
		var evt DocumentIndexed
		if err := json.Unmarshal(data, &evt); err == nil {
			received <- evt
		}
	}))
	time.Sleep(100 * time.Millisecond)

	require.True(t, client.Connected(), "expected connection to be up")
	require.NoError(t, client.Publish(SubjectDocumentIndexed, DocumentIndexed{DocumentID: "doc-it", Chunks: 2}))

	select {
	case evt := <-received:
		assert.Equal(t, "doc-it", evt.DocumentID)
		assert.Equal(t, 2, evt.Chunks)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for indexed event")
	}
}
