package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dpmorr/llm-structured-extraction/internal/llm"
)

// Complete implements llm.Completer using text-only chat/completions with
// a JSON response format. The schema is carried in a trailing system
// message and the payload is validated upstream against the compiled
// schema.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	rid := uuid.New().String()
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}

	c.log.Info("llm.complete.start",
		"req_id", rid,
		"provider", c.Name(),
		"model", model,
		"temp", temperature,
		"fields", len(req.Fields),
		"prompt_len", len(req.Prompt),
	)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	body := map[string]any{
		"model":           model,
		"temperature":     temperature,
		"max_tokens":      maxTokens,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": req.System},
			{"role": "user", "content": req.Prompt},
			{"role": "system", "content": "JSON Schema for the \"fields\" values:\n" + req.SchemaJSON},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := llm.SendJSON(ctx, c.http, endpoint, body, map[string]string{
		"Authorization": "Bearer " + c.cfg.APIKey,
	}, c.log)
	if err != nil {
		c.log.Error("llm.complete.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return nil, fmt.Errorf("no choices in openai response")
	}

	fields, err := llm.ParseEnvelope(cc.Choices[0].Message.Content)
	if err != nil {
		c.log.Error("llm.complete.envelope_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	c.log.Info("llm.complete.ok",
		"req_id", rid,
		"fields", len(fields),
		"prompt_tokens", cc.Usage.PromptTokens,
		"completion_tokens", cc.Usage.CompletionTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &llm.Completion{
		Fields: fields,
		Usage: llm.Usage{
			PromptTokens:     cc.Usage.PromptTokens,
			CompletionTokens: cc.Usage.CompletionTokens,
		},
		Raw: raw,
	}, nil
}
