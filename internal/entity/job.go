package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/dpmorr/llm-structured-extraction/constants"
)

// LLMConfig is the per-job model configuration.
type LLMConfig struct {
	Provider    constants.Provider `json:"provider"`
	Model       string             `json:"model"`
	Temperature float32            `json:"temperature"`
}

// Job represents an extraction job for data transfer between layers.
// Owned exclusively by the controller; mutated only through state-machine
// transitions.
type Job struct {
	ID         uuid.UUID        `json:"id"`
	DocumentID uuid.UUID        `json:"document_id"`
	Schema     ExtractionSchema `json:"schema"`
	Context    string           `json:"context,omitempty"`
	LLM        LLMConfig        `json:"llm"`

	Status      constants.JobStatus `json:"status"`
	CurrentPass int                 `json:"current_pass"`
	TotalPasses int                 `json:"total_passes"`

	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
	Truncated       bool     `json:"truncated"`

	ErrorMessage *string `json:"error_message,omitempty"`
	RetryCount   int     `json:"retry_count"`
	MaxRetries   int     `json:"max_retries"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	ProjectID *uuid.UUID `json:"project_id,omitempty"`
	Tags      []string   `json:"tags,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AddUsage increments the job's token counters by one provider call's usage.
func (j *Job) AddUsage(prompt, completion int) {
	j.PromptTokens += prompt
	j.CompletionTokens += completion
	j.TotalTokens += prompt + completion
}
