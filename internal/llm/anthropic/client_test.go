package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpmorr/llm-structured-extraction/internal/llm"
)

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "extract fields", body["system"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": `{"fields": {"total": `},
				{"type": "text", "text": `{"value": 12.5, "confidence": 0.8}}}`},
			},
			"usage": map[string]int{"input_tokens": 90, "output_tokens": 25},
		})
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL}, nil)
	completion, err := client.Complete(context.Background(), llm.CompletionRequest{
		System:     "extract fields",
		Prompt:     "Document Text: ...",
		SchemaJSON: "{}",
	})
	require.NoError(t, err)

	require.Contains(t, completion.Fields, "total")
	assert.JSONEq(t, `12.5`, string(completion.Fields["total"].Value))
	assert.Equal(t, 90, completion.Usage.PromptTokens)
	assert.Equal(t, 25, completion.Usage.CompletionTokens)
}

func TestCompleteTemperatureFallback(t *testing.T) {
	var sent float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		sent = body["temperature"].(float64)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": `{"fields": {}}`},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Temperature: 0.2}, nil)

	_, err := client.Complete(context.Background(), llm.CompletionRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.InDelta(t, 0.2, sent, 1e-6, "unset request temperature falls back to config")

	_, err = client.Complete(context.Background(), llm.CompletionRequest{Prompt: "x", Temperature: 0.7})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, sent, 1e-6, "request temperature wins when set")
}

func TestCompleteNoTextContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"content": []any{}})
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	_, err := client.Complete(context.Background(), llm.CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no text content")
}
