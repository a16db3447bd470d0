package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/dpmorr/llm-structured-extraction/internal/common"
	"github.com/dpmorr/llm-structured-extraction/internal/entity"
	"github.com/dpmorr/llm-structured-extraction/internal/ingest"
	"github.com/dpmorr/llm-structured-extraction/internal/llm"
	"github.com/dpmorr/llm-structured-extraction/internal/schema"
)

// Repairer performs passes 2..N: a focused re-extraction of only the
// fields the previous pass's validation flagged, with valid prior rows
// carried forward so every pass stores a complete result set.
type Repairer struct {
	Log  *slog.Logger
	Docs ingest.Fetcher
	Cfg  common.ExtractionConfig
}

// Run re-extracts record.RepairFields and returns the full result set for
// the pass: fresh rows for the repaired fields plus carried-forward copies
// of every prior row that was already valid.
func (r *Repairer) Run(ctx context.Context, job *entity.Job, compiled *schema.Compiled,
	completer llm.Completer, prior []entity.FieldResult, record *entity.ValidationRecord,
	pass int) ([]entity.FieldResult, json.RawMessage, error) {

	start := time.Now()
	subset, err := compiled.Subset(record.RepairFields)
	if err != nil {
		return nil, nil, err
	}

	priorByName := make(map[string]entity.FieldResult, len(prior))
	for _, res := range prior {
		priorByName[res.FieldName] = res
	}

	repairFields := make([]llm.RepairField, 0, len(subset.Schema.Fields))
	for _, spec := range subset.Schema.Fields {
		rf := llm.RepairField{Spec: spec}
		if prev, ok := priorByName[spec.Name]; ok {
			rf.PriorValue = string(prev.Value)
			rf.Reasons = prev.ValidationErrors
		}
		repairFields = append(repairFields, rf)
	}

	docText := r.fetchDocument(ctx, job)
	prompt, truncated := llm.BuildRepairPrompt(llm.PromptInput{
		Schema:       subset.Schema,
		Context:      job.Context,
		DocumentText: docText,
		CharBudget:   r.Cfg.PromptCharBudget,
	}, repairFields)
	if truncated {
		job.Truncated = true
	}

	req := llm.CompletionRequest{
		Fields:      subset.Schema.Fields,
		System:      llm.BuildSystemPrompt(),
		Prompt:      prompt,
		SchemaJSON:  subset.PromptJSON(),
		Model:       job.LLM.Model,
		Temperature: job.LLM.Temperature,
	}

	r.Log.Info("llm.repair.start", "job_id", job.ID, "pass", pass,
		"provider", completer.Name(), "fields", strings.Join(record.RepairFields, ","))

	completion, err := completeWithRetries(ctx, r.Log, r.Cfg, completer, subset, req)
	if err != nil {
		r.Log.Error("llm.repair.failed", "job_id", job.ID, "pass", pass, "error", err)
		return nil, nil, err
	}
	job.AddUsage(completion.Usage.PromptTokens, completion.Usage.CompletionTokens)

	results := r.assemblePass(job, pass, completion, prior, record.RepairFields)
	r.Log.Info("llm.repair.done", "job_id", job.ID, "pass", pass,
		"repaired", len(record.RepairFields),
		"elapsed_ms", time.Since(start).Milliseconds())
	return results, completion.Raw, nil
}

// assemblePass builds the complete row set for a repair pass in schema
// declaration order. Only the flagged fields take fresh rows; a model
// that volunteers answers outside the repair subset is ignored, since
// those values never went through normalization. Everything else is the
// prior row carried forward under the new pass number. Earlier pass rows
// are never touched.
func (r *Repairer) assemblePass(job *entity.Job, pass int, completion *llm.Completion,
	prior []entity.FieldResult, repairFields []string) []entity.FieldResult {

	repairing := make(map[string]bool, len(repairFields))
	for _, name := range repairFields {
		repairing[name] = true
	}
	priorByName := make(map[string]entity.FieldResult, len(prior))
	for _, res := range prior {
		priorByName[res.FieldName] = res
	}

	results := make([]entity.FieldResult, 0, len(job.Schema.Fields))
	for _, spec := range job.Schema.Fields {
		if fv, ok := completion.Fields[spec.Name]; ok && repairing[spec.Name] {
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
			continue
		}
		prev := priorByName[spec.Name]
		results = append(results, prev.CarryForward(pass))
	}
	return results
}

func (r *Repairer) fetchDocument(ctx context.Context, job *entity.Job) string {
	text, err := r.Docs.FetchDocumentText(ctx, job.DocumentID)
	if err != nil {
		r.Log.Warn("repair.document.unavailable", "job_id", job.ID, "document_id", job.DocumentID)
		return llm.DocumentPlaceholder
	}
	return text
}
