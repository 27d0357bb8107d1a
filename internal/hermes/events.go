// Package hermes carries surveyor's asynchronous events over NATS.
package hermes

import "time"

const (
	// SubjectDocumentExtracted is published by the extraction service when a document's
	// text is ready to be indexed.
	SubjectDocumentExtracted = "surveyor.document.extracted"

	// SubjectDocumentIndexed is published after a document's chunks are stored.
	SubjectDocumentIndexed = "surveyor.document.indexed"

	// SubjectAgentRegistered announces the service on startup.
	SubjectAgentRegistered = "surveyor.agent.registered"

	// QueueGroup spreads extracted-document events over every running instance.
	QueueGroup = "surveyor"
)

// DocumentExtracted asks for a document to be (re)indexed. Text is optional; without
// it the text is fetched from the extraction service.
type DocumentExtracted struct {
	DocumentID  string `json:"document_id"`
	SectionType string `json:"section_type,omitempty"`
	Text        string `json:"text,omitempty"`
	PageCount   int    `json:"page_count,omitempty"`
}

// DocumentIndexed reports the outcome of an ingestion.
type DocumentIndexed struct {
	DocumentID string    `json:"document_id"`
	Chunks     int       `json:"chunks"`
	Embedded   int       `json:"embedded"`
	Oversized  int       `json:"oversized"`
	IndexedAt  time.Time `json:"indexed_at"`
}

type AgentRegistered struct {
	AgentID        string   `json:"agent_id"`
	Name           string   `json:"name"`
	Role           string   `json:"role"`
	Capabilities   []string `json:"capabilities"`
	EmbeddingModel string   `json:"embedding_model"`
}
