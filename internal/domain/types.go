// Package domain holds the records shared by the retrieval and prompt-assembly core.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Chunk is one bounded, ordered slice of a document's text.
type Chunk struct {
	ID         uuid.UUID      `json:"id"`
	DocumentID uuid.UUID      `json:"document_id"`
	Index      int            `json:"chunk_index"`
	Text       string         `json:"chunk_text"`
	TokenCount int            `json:"token_count"`
	Embedding  []float32      `json:"-"` // nil when the embedding call failed
	Metadata   map[string]any `json:"chunk_metadata,omitempty"`
	Oversized  bool           `json:"oversized,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// HasEmbedding reports whether the chunk is reachable by similarity search.
func (c Chunk) HasEmbedding() bool { return len(c.Embedding) > 0 }

// ScoredChunk is a retrieval hit. Score grows with relevance; Distance is the raw
// metric value from the store.
type ScoredChunk struct {
	Chunk
	Distance float64 `json:"distance"`
	Score    float64 `json:"score"`
}

// ConversationMemory is the running summary state of one chat session.
type ConversationMemory struct {
	SessionID       uuid.UUID  `json:"session_id"`
	UserID          uuid.UUID  `json:"user_id"`
	ProjectID       *uuid.UUID `json:"project_id,omitempty"`
	Summary         *string    `json:"summary_memory,omitempty"`
	TurnCount       int        `json:"turn_count"`
	LastSummaryTurn int        `json:"last_summary_turn"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// SummaryText returns the summary or "" before the first summarization.
func (m ConversationMemory) SummaryText() string {
	if m.Summary == nil {
		return ""
	}
	return *m.Summary
}

// Roles used in turns and prompt messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of a chat session.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message is one entry of the final model input.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Metadata keys understood by the retriever and store filters.
const (
	MetaSectionType = "section_type"
	MetaPageCount   = "page_count"
	MetaPageNumber  = "page_number"
)

// ChunkFilter narrows a similarity search. Zero values match everything.
type ChunkFilter struct {
	DocumentIDs []uuid.UUID `json:"document_ids,omitempty"`
	SectionType string      `json:"section_type,omitempty"`
}

// Matches reports whether c passes the filter.
func (f ChunkFilter) Matches(c Chunk) bool {
	if len(f.DocumentIDs) > 0 {
		found := false
		for _, id := range f.DocumentIDs {
			if id == c.DocumentID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.SectionType != "" {
		st, _ := c.Metadata[MetaSectionType].(string)
		if st != f.SectionType {
			return false
		}
	}
	return true
}

// MemoryKey identifies the memory record of one session. UserID and ProjectID are only
// used when the record is first created.
type MemoryKey struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
	ProjectID *uuid.UUID
}
