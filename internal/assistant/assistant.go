// Package assistant runs the two request pipelines: indexing a document and answering
// a chat turn from retrieved context under the request's resource guard.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
	"github.com/MikeSquared-Agency/surveyor/internal/extraction"
	"github.com/MikeSquared-Agency/surveyor/internal/guard"
	"github.com/MikeSquared-Agency/surveyor/internal/hermes"
	"github.com/MikeSquared-Agency/surveyor/internal/llm"
	"github.com/MikeSquared-Agency/surveyor/internal/memory"
	"github.com/MikeSquared-Agency/surveyor/internal/prompt"
	"github.com/MikeSquared-Agency/surveyor/internal/retriever"
	"github.com/MikeSquared-Agency/surveyor/internal/tokens"
)

const (
	DefaultSystemPrompt = "You are a building survey assistant. Answer using the provided context and conversation. " +
		"If the context does not contain the answer, say so."

	defaultMaxOutputTokens = 1024
	eventTimeout           = 5 * time.Minute
)

// Retriever is the chunk index.
type Retriever interface {
	Ingest(ctx context.Context, docID uuid.UUID, text string, metadata map[string]any) (retriever.IngestResult, error)
	Retrieve(ctx context.Context, query string, filter retriever.Filter, k int) ([]domain.ScoredChunk, error)
}

// Memory supplies the bounded history of a session.
type Memory interface {
	GetBoundedContext(ctx context.Context, sessionID, userID uuid.UUID, recentTurns []domain.Turn, projectID *uuid.UUID) (memory.BoundedContext, error)
}

// Extractor fetches document text.
type Extractor interface {
	Extract(ctx context.Context, docID uuid.UUID) (extraction.Result, error)
}

// Publisher emits events. *hermes.Client satisfies it.
type Publisher interface {
	Publish(subject string, data any) error
}

// Config wires an Assistant. Extractor, Publisher and LLM are optional.
type Config struct {
	Retriever    Retriever
	Memory       Memory
	Builder      *prompt.Builder
	LLM          llm.Provider
	Extractor    Extractor
	Publisher    Publisher
	GuardLimits  guard.Limits
	SystemPrompt string
	Logger       *slog.Logger
}

type Assistant struct {
	retriever    Retriever
	memory       Memory
	builder      *prompt.Builder
	llm          llm.Provider
	extractor    Extractor
	publisher    Publisher
	guardLimits  guard.Limits
	systemPrompt string
	logger       *slog.Logger
}

func New(cfg Config) *Assistant {
	if cfg.Builder == nil {
		cfg.Builder = prompt.NewBuilder(prompt.DefaultLimits())
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &Assistant{
		retriever:    cfg.Retriever,
		memory:       cfg.Memory,
		builder:      cfg.Builder,
		llm:          cfg.LLM,
		extractor:    cfg.Extractor,
		publisher:    cfg.Publisher,
		guardLimits:  cfg.GuardLimits,
		systemPrompt: cfg.SystemPrompt,
		logger:       cfg.Logger,
	}
}

// DocumentRef identifies a document to index. Text is fetched when empty.
type DocumentRef struct {
	ID          uuid.UUID `json:"document_id"`
	SectionType string    `json:"section_type,omitempty"`
	Text        string    `json:"text,omitempty"`
	PageCount   int       `json:"page_count,omitempty"`
}

// IngestDocument indexes one document and announces the result.
func (a *Assistant) IngestDocument(ctx context.Context, ref DocumentRef) (retriever.IngestResult, error) {
	if ref.ID == uuid.Nil {
		return retriever.IngestResult{}, fmt.Errorf("%w: document id is required", domain.ErrInvalidInput)
	}

	text, pages := ref.Text, ref.PageCount
	if text == "" {
		if a.extractor == nil {
			return retriever.IngestResult{}, fmt.Errorf("%w: no text supplied and no extraction service configured", domain.ErrInvalidInput)
		}
		res, err := a.extractor.Extract(ctx, ref.ID)
		if err != nil {
			return retriever.IngestResult{}, fmt.Errorf("extract document: %w", err)
		}
		text, pages = res.Text, res.PageCount
	}
	if pages > extraction.MaxPages {
		return retriever.IngestResult{}, fmt.Errorf("%w: document has %d pages, limit is %d", domain.ErrInvalidInput, pages, extraction.MaxPages)
	}

	meta := map[string]any{}
	if pages > 0 {
		meta[domain.MetaPageCount] = pages
	}
	if ref.SectionType != "" {
		meta[domain.MetaSectionType] = ref.SectionType
	}

	res, err := a.retriever.Ingest(ctx, ref.ID, text, meta)
	if err != nil {
		return retriever.IngestResult{}, err
	}

	if a.publisher != nil {
		evt := hermes.DocumentIndexed{
			DocumentID: ref.ID.String(),
			Chunks:     res.Chunks,
			Embedded:   res.Embedded,
			Oversized:  res.Oversized,
			IndexedAt:  time.Now().UTC(),
		}
		if err := a.publisher.Publish(hermes.SubjectDocumentIndexed, evt); err != nil {
			a.logger.Warn("failed to publish indexed event", "document_id", ref.ID, "error", err)
		}
	}
	return res, nil
}

// HandleDocumentExtracted is the NATS handler for surveyor.document.extracted.
func (a *Assistant) HandleDocumentExtracted(subject string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	var evt hermes.DocumentExtracted
	if err := json.Unmarshal(data, &evt); err != nil {
		a.logger.Error("failed to parse document event", "subject", subject, "error", err)
		return
	}

	docID, err := uuid.Parse(evt.DocumentID)
	if err != nil {
		a.logger.Error("invalid document id", "document_id", evt.DocumentID, "error", err)
		return
	}

	a.logger.Info("indexing document", "document_id", docID, "section_type", evt.SectionType)

	res, err := a.IngestDocument(ctx, DocumentRef{
		ID:          docID,
		SectionType: evt.SectionType,
		Text:        evt.Text,
		PageCount:   evt.PageCount,
	})
	if err != nil {
		a.logger.Error("document indexing failed", "document_id", docID, "error", err)
		return
	}
	a.logger.Info("document indexed", "document_id", docID, "chunks", res.Chunks)
}

// ChatRequest is one user turn.
type ChatRequest struct {
	SessionID   uuid.UUID     `json:"session_id"`
	UserID      uuid.UUID     `json:"user_id"`
	ProjectID   *uuid.UUID    `json:"project_id,omitempty"`
	Message     string        `json:"message"`
	RecentTurns []domain.Turn `json:"recent_turns,omitempty"`
	DocumentIDs []uuid.UUID   `json:"document_ids,omitempty"`
	SectionType string        `json:"section_type,omitempty"`
	Attachments []string      `json:"attachments,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// Source points at a chunk that was placed in the prompt.
type Source struct {
	DocumentID uuid.UUID `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Score      float64   `json:"score"`
}

type ChatResponse struct {
	Reply              string          `json:"reply"`
	Sources            []Source        `json:"sources"`
	Prompt             PromptStats     `json:"prompt"`
	Completion         CompletionStats `json:"completion"`
	Usage              guard.Usage     `json:"usage"`
	TotalTurns         int             `json:"total_turns"`
	Summarized         bool            `json:"summarized"`
	ContextUnavailable bool            `json:"context_unavailable,omitempty"`
}

type PromptStats struct {
	TotalTokens     int  `json:"total_tokens"`
	Truncated       bool `json:"truncated"`
	ChunksIncluded  int  `json:"chunks_included"`
	TurnsIncluded   int  `json:"turns_included"`
	SummaryIncluded bool `json:"summary_included"`
}

// CompletionStats is the backend's token accounting for the reply.
type CompletionStats struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Chat answers one turn. A crossed resource ceiling aborts the request and is returned
// unchanged so callers can match domain.ErrLimitExceeded.
func (a *Assistant) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if req.Message == "" {
		return ChatResponse{}, fmt.Errorf("%w: message is required", domain.ErrInvalidInput)
	}
	if a.llm == nil {
		return ChatResponse{}, fmt.Errorf("%w: no completion backend configured", domain.ErrProviderUnavailable)
	}

	g := guard.FromContext(ctx)
	if g == nil {
		g = guard.New(a.guardLimits)
	}
	if err := g.Charge(0, len(req.Attachments), 0); err != nil {
		return ChatResponse{}, err
	}

	var resp ChatResponse

	hits, err := a.retriever.Retrieve(ctx, req.Message, retriever.Filter{DocumentIDs: req.DocumentIDs, SectionType: req.SectionType}, a.builder.Limits().MaxChunks)
	switch {
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		a.logger.Warn("retrieval unavailable, answering without document context", "session_id", req.SessionID, "error", err)
		resp.ContextUnavailable = true
	case err != nil:
		return ChatResponse{}, fmt.Errorf("retrieve: %w", err)
	}
	if err := g.Charge(len(hits), 0, 0); err != nil {
		return ChatResponse{}, err
	}

	bounded := memory.BoundedContext{RecentTurns: req.RecentTurns}
	if req.SessionID != uuid.Nil && a.memory != nil {
		bounded, err = a.memory.GetBoundedContext(ctx, req.SessionID, req.UserID, req.RecentTurns, req.ProjectID)
		if err != nil {
			return ChatResponse{}, fmt.Errorf("bounded context: %w", err)
		}
	}
	resp.TotalTurns = bounded.TotalTurns
	resp.Summarized = bounded.Summarized

	built := a.builder.Build(prompt.Request{
		SystemPrompt: a.systemPrompt,
		UserMessage:  req.Message,
		Chunks:       hits,
		Summary:      bounded.Summary,
		RecentTurns:  bounded.RecentTurns,
	})
	if err := prompt.Validate(built.Messages, a.builder.Limits().Ceiling); err != nil {
		return ChatResponse{}, fmt.Errorf("validate prompt: %w", err)
	}
	if err := g.Charge(0, 0, built.TotalTokens); err != nil {
		return ChatResponse{}, err
	}
	resp.Prompt = PromptStats{
		TotalTokens:     built.TotalTokens,
		Truncated:       built.Truncated,
		ChunksIncluded:  built.ChunksIncluded,
		TurnsIncluded:   built.TurnsIncluded,
		SummaryIncluded: built.SummaryIncluded,
	}
	for _, h := range hits[:built.ChunksIncluded] {
		resp.Sources = append(resp.Sources, Source{DocumentID: h.DocumentID, ChunkIndex: h.Index, Score: h.Score})
	}

	maxOut := req.MaxTokens
	if maxOut <= 0 {
		maxOut = defaultMaxOutputTokens
	}
	out, err := a.llm.Complete(ctx, llm.Request{
		Messages:    built.Messages,
		Temperature: req.Temperature,
		MaxTokens:   maxOut,
	})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("complete: %w", err)
	}

	outputTokens := out.OutputTokens
	if outputTokens == 0 {
		outputTokens = tokens.Estimate(out.Text)
	}
	if err := g.Charge(0, 0, outputTokens); err != nil {
		return ChatResponse{}, err
	}

	resp.Reply = out.Text
	resp.Completion = CompletionStats{InputTokens: out.InputTokens, OutputTokens: outputTokens}
	resp.Usage, _ = g.Checkpoint()

	a.logger.Info("chat turn answered",
		"session_id", req.SessionID,
		"prompt_tokens", built.TotalTokens,
		"output_tokens", outputTokens,
		"chunks", built.ChunksIncluded,
		"truncated", built.Truncated,
	)
	return resp, nil
}
