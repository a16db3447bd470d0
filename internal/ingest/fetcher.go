// Package ingest talks to the document-ingestion collaborator.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dpmorr/llm-structured-extraction/internal/common"
)

// Fetcher supplies raw document text by id. Implementations return
// common.ErrUnavailable when the document cannot be served; callers
// substitute a placeholder and proceed.
type Fetcher interface {
	FetchDocumentText(ctx context.Context, documentID uuid.UUID) (string, error)
}

// HTTPFetcher reads documents from the ingestion service's REST surface.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
	Log     *slog.Logger
}

func NewHTTPFetcher(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
		Log:     logger,
	}
}

func (f *HTTPFetcher) FetchDocumentText(ctx context.Context, documentID uuid.UUID) (string, error) {
	if f.BaseURL == "" {
		return "", common.ErrUnavailable
	}
	url := fmt.Sprintf("%s/api/documents/%s/", f.BaseURL, documentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", common.WrapError(err, "build document request")
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		f.Log.Warn("document fetch failed", "document_id", documentID, "error", err)
		return "", common.ErrUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.Log.Warn("document fetch status", "document_id", documentID, "status", resp.StatusCode)
		return "", common.ErrUnavailable
	}
	var doc struct {
		RawText string `json:"raw_text"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", common.ErrUnavailable
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", common.ErrUnavailable
	}
	return doc.RawText, nil
}

// StaticFetcher serves a fixed text, for tests and the one-shot CLI.
type StaticFetcher struct {
	Text string
	Err  error
}

func (f StaticFetcher) FetchDocumentText(context.Context, uuid.UUID) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return f.Text, nil
}
