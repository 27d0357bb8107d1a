// Package extraction fetches plain text for a stored document from the text-extraction
// service.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
)

// MaxPages is the largest document the service will index.
const MaxPages = 50

// Result is the extracted text of one document.
type Result struct {
	Text      string `json:"text"`
	PageCount int    `json:"page_count"`
}

type Client struct {
	baseURL  string
	maxPages int
	client   *http.Client
}

// New creates a client for the service at baseURL. maxPages <= 0 uses MaxPages.
func New(baseURL string, maxPages int) *Client {
	if maxPages <= 0 {
		maxPages = MaxPages
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxPages: maxPages,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Extract fetches the text of docID. Documents over the page limit are rejected with
// domain.ErrInvalidInput; an unknown document is domain.ErrNotFound.
func (c *Client) Extract(ctx context.Context, docID uuid.UUID) (Result, error) {
	if c.baseURL == "" {
		return Result{}, fmt.Errorf("%w: EXTRACTION_URL not configured for document %s", domain.ErrInvalidInput, docID)
	}

	url := fmt.Sprintf("%s/api/v1/documents/%s/text", c.baseURL, docID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build extraction request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: extraction request failed: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Result{}, fmt.Errorf("document %s: %w", docID, domain.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return Result{}, fmt.Errorf("%w: extraction returned %d for document %s", domain.ErrProviderUnavailable, resp.StatusCode, docID)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read extraction response: %w", err)
	}

	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return Result{}, fmt.Errorf("parse extraction response: %w", err)
	}
	if res.PageCount > c.maxPages {
		return Result{}, fmt.Errorf("%w: document %s has %d pages, limit is %d", domain.ErrInvalidInput, docID, res.PageCount, c.maxPages)
	}
	return res, nil
}
