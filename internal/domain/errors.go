package domain

import "errors"

var (
	// ErrProviderUnavailable indicates the embedding or completion backend could not be reached.
	// Callers may retry; it is never converted into an empty result.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrEmbeddingUnavailable indicates one embedding could not be produced. During ingestion
	// it degrades a single chunk; during retrieval it means the search could not run.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrLimitExceeded indicates a per-request resource ceiling was crossed. Fatal to the request.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrOversizedChunk marks a single unsplittable unit above the chunk ceiling. Warning only.
	ErrOversizedChunk = errors.New("oversized chunk")

	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)
