package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
	"github.com/MikeSquared-Agency/surveyor/internal/extraction"
	"github.com/MikeSquared-Agency/surveyor/internal/guard"
	"github.com/MikeSquared-Agency/surveyor/internal/hermes"
	"github.com/MikeSquared-Agency/surveyor/internal/llm"
	"github.com/MikeSquared-Agency/surveyor/internal/memory"
	"github.com/MikeSquared-Agency/surveyor/internal/prompt"
	"github.com/MikeSquared-Agency/surveyor/internal/retriever"
	"github.com/MikeSquared-Agency/surveyor/internal/store/memstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type axisEmbedder struct {
	mu   sync.Mutex
	down bool
}

func (e *axisEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.down {
		return nil, domain.ErrProviderUnavailable
	}
	v := []float32{0.01, 0.01}
	v[0] += float32(strings.Count(text, "roof"))
	v[1] += float32(strings.Count(text, "damp"))
	return v, nil
}

func (e *axisEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *axisEmbedder) Dimensions() int { return 2 }
func (e *axisEmbedder) Model() string   { return "axis" }

type fakeLLM struct {
	mu    sync.Mutex
	reply llm.Completion
	reqs  []llm.Request
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.reply, nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakePublisher struct {
	mu     sync.Mutex
	events map[string][]any
}

func (p *fakePublisher) Publish(subject string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = map[string][]any{}
	}
	p.events[subject] = append(p.events[subject], data)
	return nil
}

type fakeExtractor struct {
	result extraction.Result
	err    error
}

func (f *fakeExtractor) Extract(ctx context.Context, docID uuid.UUID) (extraction.Result, error) {
	return f.result, f.err
}

type fixture struct {
	assistant *Assistant
	store     *memstore.Store
	embedder  *axisEmbedder
	model     *fakeLLM
	publisher *fakePublisher
}

func newFixture(ext Extractor) *fixture {
	f := &fixture{
		store:     memstore.New(domain.MetricCosine),
		embedder:  &axisEmbedder{},
		model:     &fakeLLM{reply: llm.Completion{Text: "The roof needs re-pointing.", InputTokens: 120, OutputTokens: 7}},
		publisher: &fakePublisher{},
	}
	logger := discardLogger()
	mem := memory.NewManager(f.store, memory.NewSummarizer(nil, memory.DefaultLimits(), logger), memory.DefaultLimits(), logger)
	f.assistant = New(Config{
		Retriever: retriever.New(f.store, f.embedder, logger),
		Memory:    mem,
		Builder:   prompt.NewBuilder(prompt.DefaultLimits()),
		LLM:       f.model,
		Extractor: ext,
		Publisher: f.publisher,
		Logger:    logger,
	})
	return f
}

func TestIngestDocument_PublishesIndexedEvent(t *testing.T) {
	f := newFixture(nil)
	doc := uuid.New()

	res, err := f.assistant.IngestDocument(context.Background(), DocumentRef{
		ID:          doc,
		SectionType: "roof",
		Text:        "The roof has slipped tiles along the north slope.",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 1, res.Embedded)

	events := f.publisher.events[hermes.SubjectDocumentIndexed]
	require.Len(t, events, 1)
	evt := events[0].(hermes.DocumentIndexed)
	assert.Equal(t, doc.String(), evt.DocumentID)
	assert.Equal(t, 1, evt.Chunks)

	chunks, err := f.store.ListChunks(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "roof", chunks[0].Metadata[domain.MetaSectionType])
}

func TestIngestDocument_FetchesTextWhenMissing(t *testing.T) {
	f := newFixture(&fakeExtractor{result: extraction.Result{Text: "Rising damp in the cellar.", PageCount: 3}})
	doc := uuid.New()

	res, err := f.assistant.IngestDocument(context.Background(), DocumentRef{ID: doc})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)

	chunks, err := f.store.ListChunks(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Rising damp in the cellar.", chunks[0].Text)
	assert.EqualValues(t, 3, chunks[0].Metadata[domain.MetaPageCount])
}

func TestIngestDocument_RejectsBadInput(t *testing.T) {
	ctx := context.Background()

	_, err := newFixture(nil).assistant.IngestDocument(ctx, DocumentRef{Text: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = newFixture(nil).assistant.IngestDocument(ctx, DocumentRef{ID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "no text and no extractor")

	_, err = newFixture(nil).assistant.IngestDocument(ctx, DocumentRef{ID: uuid.New(), Text: "x", PageCount: extraction.MaxPages + 1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = newFixture(&fakeExtractor{err: domain.ErrNotFound}).assistant.IngestDocument(ctx, DocumentRef{ID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHandleDocumentExtracted(t *testing.T) {
	f := newFixture(nil)
	doc := uuid.New()

	data, err := json.Marshal(hermes.DocumentExtracted{DocumentID: doc.String(), Text: "Damp patches under the bay window."})
	require.NoError(t, err)
	f.assistant.HandleDocumentExtracted(hermes.SubjectDocumentExtracted, data)

	n, err := f.store.CountDocumentChunks(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Malformed payloads are logged and dropped.
	f.assistant.HandleDocumentExtracted(hermes.SubjectDocumentExtracted, []byte("{"))
	f.assistant.HandleDocumentExtracted(hermes.SubjectDocumentExtracted, []byte(`{"document_id":"nope"}`))
}

func TestChat_UsesRetrievedContext(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	roofDoc, dampDoc := uuid.New(), uuid.New()

	_, err := f.assistant.IngestDocument(ctx, DocumentRef{ID: roofDoc, Text: "The roof has slipped tiles along the north slope."})
	require.NoError(t, err)
	_, err = f.assistant.IngestDocument(ctx, DocumentRef{ID: dampDoc, Text: "Rising damp in the cellar walls."})
	require.NoError(t, err)

	resp, err := f.assistant.Chat(ctx, ChatRequest{
		SessionID:   uuid.New(),
		UserID:      uuid.New(),
		Message:     "What is wrong with the roof?",
		DocumentIDs: []uuid.UUID{roofDoc},
		RecentTurns: []domain.Turn{{Role: domain.RoleUser, Content: "Hello"}, {Role: domain.RoleAssistant, Content: "Hi, how can I help?"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "The roof needs re-pointing.", resp.Reply)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, roofDoc, resp.Sources[0].DocumentID)
	assert.Equal(t, 1, resp.Prompt.ChunksIncluded)
	assert.Equal(t, 2, resp.Prompt.TurnsIncluded)
	assert.Equal(t, 1, resp.TotalTurns)
	assert.False(t, resp.ContextUnavailable)
	assert.Equal(t, 7, resp.Completion.OutputTokens)
	assert.Equal(t, 1, resp.Usage.Chunks)
	assert.Equal(t, resp.Prompt.TotalTokens+7, resp.Usage.Tokens)

	require.Equal(t, 1, f.model.calls())
	msgs := f.model.reqs[0].Messages
	assert.Equal(t, domain.RoleSystem, msgs[0].Role)
	assert.Equal(t, "What is wrong with the roof?", msgs[len(msgs)-1].Content)

	var sawContext bool
	for _, m := range msgs {
		if strings.HasPrefix(m.Content, prompt.ContextHeader) {
			sawContext = true
			assert.Contains(t, m.Content, "slipped tiles")
			assert.NotContains(t, m.Content, "cellar")
		}
	}
	assert.True(t, sawContext)
	assert.LessOrEqual(t, prompt.EstimateMessages(msgs), prompt.DefaultLimits().Ceiling)
}

func TestChat_EmbeddingOutageAnswersWithoutContext(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	_, err := f.assistant.IngestDocument(ctx, DocumentRef{ID: uuid.New(), Text: "The roof is sound."})
	require.NoError(t, err)

	f.embedder.mu.Lock()
	f.embedder.down = true
	f.embedder.mu.Unlock()

	resp, err := f.assistant.Chat(ctx, ChatRequest{Message: "Is the roof ok?"})
	require.NoError(t, err)
	assert.True(t, resp.ContextUnavailable)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, 0, resp.Prompt.ChunksIncluded)
}

func TestChat_AttachmentLimit(t *testing.T) {
	f := newFixture(nil)

	_, err := f.assistant.Chat(context.Background(), ChatRequest{
		Message:     "Look at these",
		Attachments: []string{"a", "b", "c", "d", "e", "f"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLimitExceeded)

	var lim *guard.LimitExceededError
	require.True(t, errors.As(err, &lim))
	assert.Equal(t, guard.Attachments, lim.Dimension)
	assert.Equal(t, 1, lim.Over())
	assert.Equal(t, 0, f.model.calls())
}

func TestChat_TokenCeilingFromRequestGuard(t *testing.T) {
	f := newFixture(nil)
	g := guard.New(guard.Limits{Tokens: 10})
	ctx := guard.NewContext(context.Background(), g)

	_, err := f.assistant.Chat(ctx, ChatRequest{Message: "Summarise the survey findings please."})
	require.Error(t, err)

	var lim *guard.LimitExceededError
	require.True(t, errors.As(err, &lim))
	assert.Equal(t, guard.Tokens, lim.Dimension)
	assert.Equal(t, 0, f.model.calls())

	_, sticky := g.Checkpoint()
	assert.ErrorIs(t, sticky, domain.ErrLimitExceeded)
}

func TestChat_EstimatesOutputTokensWhenBackendOmitsThem(t *testing.T) {
	f := newFixture(nil)
	f.model.reply = llm.Completion{Text: strings.Repeat("x", 40)}

	resp, err := f.assistant.Chat(context.Background(), ChatRequest{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 10, resp.Completion.OutputTokens)
}

func TestChat_RequiresMessage(t *testing.T) {
	_, err := newFixture(nil).assistant.Chat(context.Background(), ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
