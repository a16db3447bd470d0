// Package pipeline implements the extraction state machine: the pass-1
// extractor, the repairer for later passes, the result validator, and the
// controller that drives a job from pending to a terminal status.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/dpmorr/llm-structured-extraction/internal/common"
	"github.com/dpmorr/llm-structured-extraction/internal/entity"
	"github.com/dpmorr/llm-structured-extraction/internal/ingest"
	"github.com/dpmorr/llm-structured-extraction/internal/llm"
	"github.com/dpmorr/llm-structured-extraction/internal/schema"
)

// Extractor performs the first pass: one completion call covering every
// schema field, producing exactly one FieldResult per field.
type Extractor struct {
	Log  *slog.Logger
	Docs ingest.Fetcher
	Cfg  common.ExtractionConfig
}

// Run fetches the document text, prompts the model across all fields and
// returns the full pass-1 result set plus the raw provider response.
// Mutates job's truncation flag and token counters only.
func (e *Extractor) Run(ctx context.Context, job *entity.Job, compiled *schema.Compiled, completer llm.Completer) ([]entity.FieldResult, json.RawMessage, error) {
	start := time.Now()
	docText := e.fetchDocument(ctx, job)

	prompt, truncated := llm.BuildExtractionPrompt(llm.PromptInput{
		Schema:       job.Schema,
		Context:      job.Context,
		DocumentText: docText,
		CharBudget:   e.Cfg.PromptCharBudget,
	})
	if truncated {
		job.Truncated = true
		e.Log.Info("extract.document.truncated", "job_id", job.ID, "char_budget", e.Cfg.PromptCharBudget)
	}

	req := llm.CompletionRequest{
		Fields:      job.Schema.Fields,
		System:      llm.BuildSystemPrompt(),
		Prompt:      prompt,
		SchemaJSON:  compiled.PromptJSON(),
		Model:       job.LLM.Model,
		Temperature: job.LLM.Temperature,
	}

	e.Log.Info("llm.extract.start", "job_id", job.ID, "provider", completer.Name(),
		"model", job.LLM.Model, "fields", len(job.Schema.Fields))

	completion, err := completeWithRetries(ctx, e.Log, e.Cfg, completer, compiled, req)
	if err != nil {
		e.Log.Error("llm.extract.failed", "job_id", job.ID, "error", err)
		return nil, nil, err
	}
	job.AddUsage(completion.Usage.PromptTokens, completion.Usage.CompletionTokens)

	results := buildResults(job, 1, completion)
	e.Log.Info("llm.extract.done", "job_id", job.ID, "fields", len(results),
		"prompt_tokens", completion.Usage.PromptTokens,
		"completion_tokens", completion.Usage.CompletionTokens,
		"elapsed_ms", time.Since(start).Milliseconds())
	return results, completion.Raw, nil
}

// fetchDocument returns the raw document text, or the placeholder when
// the ingestion collaborator cannot serve it.
func (e *Extractor) fetchDocument(ctx context.Context, job *entity.Job) string {
	text, err := e.Docs.FetchDocumentText(ctx, job.DocumentID)
	if err != nil {
		if !errors.Is(err, common.ErrUnavailable) {
			e.Log.Warn("extract.document.fetch_error", "job_id", job.ID, "error", err)
		} else {
			e.Log.Warn("extract.document.unavailable", "job_id", job.ID, "document_id", job.DocumentID)
		}
		return llm.DocumentPlaceholder
	}
	return text
}

// buildResults materializes one FieldResult per schema field in
// declaration order. normalizeCompletion has already guaranteed an entry
// for every field.
func buildResults(job *entity.Job, pass int, completion *llm.Completion) []entity.FieldResult {
	results := make([]entity.FieldResult, 0, len(job.Schema.Fields))
	for _, spec := range job.Schema.Fields {
		fv := completion.Fields[spec.Name]
		results = append(results, entity.FieldResult{
			JobID:      job.ID,
			FieldName:  spec.Name,
			FieldType:  spec.Type,
			Pass:       pass,
			Value:      fv.Value,
			Confidence: fv.Confidence,
			SourceText: fv.SourceText,
			PageNumber: fv.PageNumber,
		})
	}
	return results
}
