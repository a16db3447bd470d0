package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpmorr/llm-structured-extraction/internal/common"
)

func TestHTTPFetcher(t *testing.T) {
	docID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/documents/"+docID.String()+"/", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"raw_text": "Invoice from Acme"})
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, time.Second, nil)
	text, err := f.FetchDocumentText(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, "Invoice from Acme", text)
}

func TestHTTPFetcherUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, time.Second, nil)
	_, err := f.FetchDocumentText(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrUnavailable)

	unconfigured := NewHTTPFetcher("", time.Second, nil)
	_, err = unconfigured.FetchDocumentText(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrUnavailable)
}

func TestStaticFetcher(t *testing.T) {
	f := StaticFetcher{Text: "hello"}
	text, err := f.FetchDocumentText(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	failing := StaticFetcher{Err: common.ErrUnavailable}
	_, err = failing.FetchDocumentText(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrUnavailable)
}
