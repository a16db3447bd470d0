package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpmorr/llm-structured-extraction/constants"
	"github.com/dpmorr/llm-structured-extraction/internal/common"
	"github.com/dpmorr/llm-structured-extraction/internal/entity"
)

func TestSupported(t *testing.T) {
	r := New(common.LLMConfig{}, nil)
	assert.True(t, r.Supported(constants.ProviderOpenAI))
	assert.True(t, r.Supported(constants.ProviderAnthropic))
	assert.False(t, r.Supported("gemini"))
}

func TestCompleter(t *testing.T) {
	r := New(common.LLMConfig{OpenAIAPIKey: "a", AnthropicAPIKey: "b"}, nil)

	c, err := r.Completer(entity.LLMConfig{Provider: constants.ProviderOpenAI, Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())

	c, err = r.Completer(entity.LLMConfig{Provider: constants.ProviderAnthropic, Model: "claude-3-5-haiku-latest"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", c.Name())

	_, err = r.Completer(entity.LLMConfig{Provider: "gemini"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}
