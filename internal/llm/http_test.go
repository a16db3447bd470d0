package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpmorr/llm-structured-extraction/internal/common"
)

func TestSendJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	raw, err := SendJSON(context.Background(), srv.Client(), srv.URL,
		map[string]string{"hello": "world"}, map[string]string{"X-Api-Key": "secret"}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(raw))
}

func TestSendJSONStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{status: http.StatusTooManyRequests, retryable: true},
		{status: http.StatusRequestTimeout, retryable: true},
		{status: http.StatusBadGateway, retryable: true},
		{status: http.StatusInternalServerError, retryable: true},
		{status: 522, retryable: true},
		{status: http.StatusUnauthorized, retryable: false},
		{status: http.StatusBadRequest, retryable: false},
		{status: http.StatusNotFound, retryable: false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		_, err := SendJSON(context.Background(), srv.Client(), srv.URL, nil, nil, nil)
		srv.Close()

		require.Error(t, err, "status %d", tt.status)
		assert.Equal(t, tt.retryable, errors.Is(err, common.ErrProviderRetryable), "status %d", tt.status)
	}
}

func TestSendJSONContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := SendJSON(ctx, srv.Client(), srv.URL, nil, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
