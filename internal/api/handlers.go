package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/surveyor/internal/assistant"
	"github.com/MikeSquared-Agency/surveyor/internal/domain"
	"github.com/MikeSquared-Agency/surveyor/internal/guard"
	"github.com/MikeSquared-Agency/surveyor/internal/prompt"
	"github.com/MikeSquared-Agency/surveyor/internal/retriever"
)

type errorBody struct {
	Error     string          `json:"error"`
	Dimension guard.Dimension `json:"dimension,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Used      int             `json:"used,omitempty"`
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: err.Error()}
	status := http.StatusInternalServerError

	var lim *guard.LimitExceededError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.As(err, &lim):
		status = http.StatusTooManyRequests
		body.Dimension, body.Limit, body.Used = lim.Dimension, lim.Limit, lim.Used
	case errors.Is(err, domain.ErrLimitExceeded):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrEmbeddingUnavailable), errors.Is(err, domain.ErrProviderUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, body)
}

// decode reads an optional JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	case errors.As(err, &tooLarge):
		return fmt.Errorf("request body over %d bytes: %w", tooLarge.Limit, err)
	}
	return fmt.Errorf("%w: invalid JSON: %v", domain.ErrInvalidInput, err)
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s: %v", domain.ErrInvalidInput, name, err)
	}
	return id, nil
}

type ingestRequest struct {
	SectionType string `json:"section_type"`
	Text        string `json:"text"`
	PageCount   int    `json:"page_count"`
}

// ingestDocument handles POST /api/v1/documents/{id}/ingest
func (s *Server) ingestDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ingestRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.Assistant.IngestDocument(r.Context(), assistant.DocumentRef{
		ID:          id,
		SectionType: req.SectionType,
		Text:        req.Text,
		PageCount:   req.PageCount,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// deleteDocument handles DELETE /api/v1/documents/{id}
func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.deps.Retriever.DeleteDocument(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document_id": id, "deleted": n})
}

type retrieveRequest struct {
	Query       string      `json:"query"`
	K           int         `json:"k"`
	DocumentIDs []uuid.UUID `json:"document_ids"`
	SectionType string      `json:"section_type"`
}

// retrieve handles POST /api/v1/retrieve
func (s *Server) retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Query == "" {
		s.writeError(w, r, fmt.Errorf("%w: query is required", domain.ErrInvalidInput))
		return
	}

	hits, err := s.deps.Retriever.Retrieve(r.Context(), req.Query, retriever.Filter{
		DocumentIDs: req.DocumentIDs,
		SectionType: req.SectionType,
	}, req.K)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if g := guard.FromContext(r.Context()); g != nil {
		if err := g.Charge(len(hits), 0, 0); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if hits == nil {
		hits = []domain.ScoredChunk{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": hits, "count": len(hits)})
}

type contextRequest struct {
	UserID      uuid.UUID     `json:"user_id"`
	ProjectID   *uuid.UUID    `json:"project_id"`
	RecentTurns []domain.Turn `json:"recent_turns"`
}

// boundedContext handles POST /api/v1/context/{session}
func (s *Server) boundedContext(w http.ResponseWriter, r *http.Request) {
	session, err := uuidParam(r, "session")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req contextRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	bc, err := s.deps.Memory.GetBoundedContext(r.Context(), session, req.UserID, req.RecentTurns, req.ProjectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bc)
}

// buildPrompt handles POST /api/v1/prompt
func (s *Server) buildPrompt(w http.ResponseWriter, r *http.Request) {
	var req prompt.Request
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res := s.deps.Builder.Build(req)
	if g := guard.FromContext(r.Context()); g != nil {
		if err := g.Charge(res.ChunksIncluded, 0, res.TotalTokens); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, res)
}

// chat handles POST /api/v1/chat
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req assistant.ChatRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.deps.Assistant.Chat(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type backfillRequest struct {
	BatchSize int `json:"batch_size"`
}

// backfillEmbeddings handles POST /api/v1/backfill/embeddings
func (s *Server) backfillEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	report, err := s.deps.Backfill.Run(r.Context(), req.BatchSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
