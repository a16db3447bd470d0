package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dpmorr/llm-structured-extraction/internal/llm"
)

const apiVersion = "2023-06-01"

// Config for the Anthropic-style client.
type Config struct {
	APIKey      string // if empty, falls back to env ANTHROPIC_API_KEY
	BaseURL     string // default https://api.anthropic.com
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger,
	}
}

func (c *Client) Name() string { return "anthropic" }

// Complete implements llm.Completer over the messages API. Anthropic has
// no JSON response format, so the envelope shape is enforced by prompt and
// recovered by the shared parser.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	rid := uuid.New().String()
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	c.log.Info("llm.complete.start",
		"req_id", rid,
		"provider", c.Name(),
		"model", model,
		"fields", len(req.Fields),
		"prompt_len", len(req.Prompt),
	)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}

	body := map[string]any{
		"model":       model,
		"max_tokens":  maxTokens,
		"temperature": temperature,
		"system":      req.System,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": req.Prompt +
					"\n\nJSON Schema for the \"fields\" values:\n" + req.SchemaJSON +
					"\n\nRespond with the JSON object only.",
			},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/messages"
	raw, err := llm.SendJSON(ctx, c.http, endpoint, body, map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": apiVersion,
	}, c.log)
	if err != nil {
		c.log.Error("llm.complete.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	var mr struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &mr); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}
	var content string
	for _, block := range mr.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	if content == "" {
		return nil, fmt.Errorf("no text content in anthropic response")
	}

	fields, err := llm.ParseEnvelope(content)
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
		"prompt_tokens", mr.Usage.InputTokens,
		"completion_tokens", mr.Usage.OutputTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &llm.Completion{
		Fields: fields,
		Usage: llm.Usage{
			PromptTokens:     mr.Usage.InputTokens,
			CompletionTokens: mr.Usage.OutputTokens,
		},
		Raw: raw,
	}, nil
}
