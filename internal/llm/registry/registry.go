// Package registry resolves a job's provider name to a Completer built
// from application configuration.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/dpmorr/llm-structured-extraction/constants"
	"github.com/dpmorr/llm-structured-extraction/internal/common"
	"github.com/dpmorr/llm-structured-extraction/internal/entity"
	"github.com/dpmorr/llm-structured-extraction/internal/llm"
	"github.com/dpmorr/llm-structured-extraction/internal/llm/anthropic"
	"github.com/dpmorr/llm-structured-extraction/internal/llm/openai"
)

// Registry builds provider clients on demand from static credentials.
type Registry struct {
	cfg common.LLMConfig
	log *slog.Logger
}

func New(cfg common.LLMConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{cfg: cfg, log: logger}
}

// Supported reports whether a provider name has a Completer binding.
func (r *Registry) Supported(p constants.Provider) bool {
	switch p {
	case constants.ProviderOpenAI, constants.ProviderAnthropic:
		return true
	}
	return false
}

// Completer returns the provider binding for a job's LLM configuration.
func (r *Registry) Completer(cfg entity.LLMConfig) (llm.Completer, error) {
	switch cfg.Provider {
	case constants.ProviderOpenAI:
		return openai.NewClient(openai.Config{
			APIKey:      r.cfg.OpenAIAPIKey,
			BaseURL:     r.cfg.OpenAIBaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   r.cfg.MaxTokens,
			Timeout:     r.cfg.Timeout,
		}, r.log), nil
	case constants.ProviderAnthropic:
		return anthropic.NewClient(anthropic.Config{
			APIKey:      r.cfg.AnthropicAPIKey,
			BaseURL:     r.cfg.AnthropicBaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   r.cfg.MaxTokens,
			Timeout:     r.cfg.Timeout,
		}, r.log), nil
	}
	return nil, common.NewAppError("UNSUPPORTED_PROVIDER",
		fmt.Sprintf("no completer for provider %q", cfg.Provider), common.ErrInvalidInput)
}
