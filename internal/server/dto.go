package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dpmorr/llm-structured-extraction/constants"
	"github.com/dpmorr/llm-structured-extraction/internal/common"
	"github.com/dpmorr/llm-structured-extraction/internal/entity"
)

type fieldSpecDTO struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Example     any    `json:"example,omitempty"`
}

type createJobRequest struct {
	DocumentID        string         `json:"document_id"`
	SchemaName        string         `json:"schema_name"`
	SchemaDescription string         `json:"schema_description"`
	Fields            []fieldSpecDTO `json:"fields"`
	Context           string         `json:"context"`
	LLMProvider       string         `json:"llm_provider"`
	LLMModel          string         `json:"llm_model"`
	Temperature       *float32       `json:"temperature"`
	TotalPasses       *int           `json:"total_passes"`
	ProjectID         *string        `json:"project_id"`
	Tags              []string       `json:"tags"`
}

// toJob validates the request and builds a pending job. Validation errors
// wrap ErrInvalidInput so the boundary maps them to 400.
func (r createJobRequest) toJob(cfg *common.Config) (*entity.Job, error) {
	docID, err := uuid.Parse(r.DocumentID)
	if err != nil {
		return nil, common.NewAppError("BAD_DOCUMENT_ID", "document_id must be a UUID", common.ErrInvalidInput)
	}
	if r.SchemaName == "" {
		return nil, common.NewAppError("BAD_SCHEMA_NAME", "schema_name is required", common.ErrInvalidInput)
	}

	fields := make([]entity.FieldSpec, 0, len(r.Fields))
	for _, f := range r.Fields {
		fields = append(fields, entity.FieldSpec{
			Name:        f.Name,
			Description: f.Description,
			Type:        constants.FieldType(f.Type),
			Required:    f.Required,
			Example:     f.Example,
		})
	}

	passes := cfg.Extraction.DefaultPasses
	if r.TotalPasses != nil {
		passes = *r.TotalPasses
	}
	if passes < 1 || passes > cfg.Extraction.MaxPasses {
		return nil, common.NewAppError("BAD_TOTAL_PASSES",
			fmt.Sprintf("total_passes must be in [1,%d]", cfg.Extraction.MaxPasses),
			common.ErrInvalidInput)
	}

	provider := r.LLMProvider
	if provider == "" {
		provider = cfg.LLM.DefaultProvider
	}
	model := r.LLMModel
	if model == "" {
		model = cfg.LLM.DefaultModel
	}
	temperature := cfg.LLM.Temperature
	if r.Temperature != nil {
		temperature = *r.Temperature
	}

	var projectID *uuid.UUID
	if r.ProjectID != nil && *r.ProjectID != "" {
		id, err := uuid.Parse(*r.ProjectID)
		if err != nil {
			return nil, common.NewAppError("BAD_PROJECT_ID", "project_id must be a UUID", common.ErrInvalidInput)
		}
		projectID = &id
	}

	return &entity.Job{
		ID:         uuid.New(),
		DocumentID: docID,
		Schema: entity.ExtractionSchema{
			Name:        r.SchemaName,
			Description: r.SchemaDescription,
			Fields:      fields,
		},
		Context: r.Context,
		LLM: entity.LLMConfig{
			Provider:    constants.Provider(provider),
			Model:       model,
			Temperature: temperature,
		},
		Status:      constants.JobStatusPending,
		TotalPasses: passes,
		MaxRetries:  cfg.Extraction.MaxRetries,
		ProjectID:   projectID,
		Tags:        r.Tags,
	}, nil
}

type tokenUsageDTO struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

type jobResponse struct {
	JobID           string        `json:"job_id"`
	DocumentID      string        `json:"document_id"`
	SchemaName      string        `json:"schema_name"`
	Status          string        `json:"status"`
	CurrentPass     int           `json:"current_pass"`
	TotalPasses     int           `json:"total_passes"`
	ConfidenceScore *float64      `json:"confidence_score,omitempty"`
	Truncated       bool          `json:"truncated"`
	TokenUsage      tokenUsageDTO `json:"token_usage"`
	ErrorMessage    *string       `json:"error_message,omitempty"`
	RetryCount      int           `json:"retry_count"`
	MaxRetries      int           `json:"max_retries"`
	Provider        string        `json:"llm_provider"`
	Model           string        `json:"llm_model"`
	ProjectID       *string       `json:"project_id,omitempty"`
	Tags            []string      `json:"tags,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

func toJobResponse(job *entity.Job) jobResponse {
	var projectID *string
	if job.ProjectID != nil {
		s := job.ProjectID.String()
		projectID = &s
	}
	return jobResponse{
		JobID:           job.ID.String(),
		DocumentID:      job.DocumentID.String(),
		SchemaName:      job.Schema.Name,
		Status:          string(job.Status),
		CurrentPass:     job.CurrentPass,
		TotalPasses:     job.TotalPasses,
		ConfidenceScore: job.ConfidenceScore,
		Truncated:       job.Truncated,
		TokenUsage: tokenUsageDTO{
			Prompt:     job.PromptTokens,
			Completion: job.CompletionTokens,
			Total:      job.TotalTokens,
		},
		ErrorMessage: job.ErrorMessage,
		RetryCount:   job.RetryCount,
		MaxRetries:   job.MaxRetries,
		Provider:     string(job.LLM.Provider),
		Model:        job.LLM.Model,
		ProjectID:    projectID,
		Tags:         job.Tags,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	}
}

type fieldResultDTO struct {
	FieldName        string          `json:"field_name"`
	FieldType        string          `json:"field_type"`
	Pass             int             `json:"pass"`
	Value            json.RawMessage `json:"value"`
	Confidence       float64         `json:"confidence"`
	SourceText       string          `json:"source_text,omitempty"`
	PageNumber       *int            `json:"page_number,omitempty"`
	IsValid          bool            `json:"is_valid"`
	ValidationErrors []string        `json:"validation_errors,omitempty"`
}

func toFieldResultDTO(r entity.FieldResult) fieldResultDTO {
	value := r.Value
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	return fieldResultDTO{
		FieldName:        r.FieldName,
		FieldType:        string(r.FieldType),
		Pass:             r.Pass,
		Value:            value,
		Confidence:       r.Confidence,
		SourceText:       r.SourceText,
		PageNumber:       r.PageNumber,
		IsValid:          r.IsValid,
		ValidationErrors: r.ValidationErrors,
	}
}

type validationRecordDTO struct {
	Pass         int                 `json:"pass_number"`
	Action       string              `json:"action"`
	IsValid      bool                `json:"is_valid"`
	FieldErrors  map[string][]string `json:"field_errors,omitempty"`
	RepairFields []string            `json:"repair_fields,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

type jobResultsResponse struct {
	JobID           string                `json:"job_id"`
	Status          string                `json:"status"`
	Results         []fieldResultDTO      `json:"results"`
	ConfidenceScore *float64              `json:"confidence_score,omitempty"`
	TokenUsage      tokenUsageDTO         `json:"token_usage"`
	ErrorMessage    *string               `json:"error_message,omitempty"`
	History         []validationRecordDTO `json:"validation_history"`
}

type listJobsResponse struct {
	Jobs  []jobResponse `json:"jobs"`
	Count int           `json:"count"`
}
