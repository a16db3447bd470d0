package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dpmorr/llm-structured-extraction/constants"
	"github.com/dpmorr/llm-structured-extraction/internal/common"
	"github.com/dpmorr/llm-structured-extraction/internal/entity"
	"github.com/dpmorr/llm-structured-extraction/internal/ingest"
	"github.com/dpmorr/llm-structured-extraction/internal/llm"
	"github.com/dpmorr/llm-structured-extraction/internal/repository"
	"github.com/dpmorr/llm-structured-extraction/internal/schema"
)

// CompleterResolver maps a job's model configuration to a provider client.
type CompleterResolver interface {
	Completer(cfg entity.LLMConfig) (llm.Completer, error)
}

// Controller drives one job through the pass loop:
// pending -> processing -> validating -> {completed | repairing} -> ... ->
// {completed | failed}. Each pass commits atomically; termination is
// best-effort, so a job that exhausts its pass budget still completes with
// whatever validity the final pass achieved.
type Controller struct {
	Log      *slog.Logger
	Store    repository.Store
	Resolver CompleterResolver
	Cfg      common.ExtractionConfig

	extractor *Extractor
	repairer  *Repairer
	validator Validator
}

func NewController(logger *slog.Logger, store repository.Store, resolver CompleterResolver,
	docs ingest.Fetcher, cfg common.ExtractionConfig) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		Log:      logger,
		Store:    store,
		Resolver: resolver,
		Cfg:      cfg,

		extractor: &Extractor{Log: logger, Docs: docs, Cfg: cfg},
		repairer:  &Repairer{Log: logger, Docs: docs, Cfg: cfg},
		validator: Validator{Threshold: cfg.ConfidenceThreshold},
	}
}

// Run executes a pending job to a terminal status. Safe to call from a
// single worker per job; cancellation is cooperative and observed at pass
// boundaries.
func (c *Controller) Run(ctx context.Context, jobID uuid.UUID) error {
	job, err := c.Store.GetJob(ctx, jobID)
	if err != nil {
		return common.WrapError(err, "load job")
	}
	if job.Status != constants.JobStatusPending {
		// Duplicate enqueue or restart race. Terminal rows stay untouched.
		c.Log.Warn("job.run.skipped", "job_id", job.ID, "status", job.Status)
		return nil
	}

	if c.Cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Cfg.JobTimeout)
		defer cancel()
	}

	compiled, err := schema.Compile(job.Schema)
	if err != nil {
		return c.fail(job, "SCHEMA", err)
	}
	completer, err := c.Resolver.Completer(job.LLM)
	if err != nil {
		return c.fail(job, "PROVIDER", err)
	}

	start := time.Now()
	c.Log.Info("job.run.start", "job_id", job.ID, "document_id", job.DocumentID,
		"provider", job.LLM.Provider, "passes", job.TotalPasses)

	var (
		prior  []entity.FieldResult
		record *entity.ValidationRecord
	)
	for pass := 1; pass <= job.TotalPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return c.fail(job, "TIMEOUT", c.deadlineError(err))
		}

		if pass == 1 {
			job.Status = constants.JobStatusProcessing
		} else {
			job.Status = constants.JobStatusRepairing
		}
		job.CurrentPass = pass
		if err := c.Store.UpdateJob(ctx, job); err != nil {
			return common.WrapError(err, "update job status")
		}

		var (
			results []entity.FieldResult
			raw     json.RawMessage
			action  constants.ValidationAction
		)
		if pass == 1 {
			results, raw, err = c.extractor.Run(ctx, job, compiled, completer)
			action = constants.ActionValidate
		} else {
			results, raw, err = c.repairer.Run(ctx, job, compiled, completer, prior, record, pass)
			action = constants.ActionRepair
		}
		if err != nil {
			if ctx.Err() != nil {
				return c.fail(job, "TIMEOUT", c.deadlineError(ctx.Err()))
			}
			return c.fail(job, "PASS", fmt.Errorf("pass %d: %w", pass, err))
		}

		job.Status = constants.JobStatusValidating
		if err := c.Store.UpdateJob(ctx, job); err != nil {
			return common.WrapError(err, "update job status")
		}

		rec := c.validator.Validate(compiled, job.ID, pass, action, results)
		rec.RawResponse = raw

		final := rec.IsValid || pass == job.TotalPasses
		if final {
			c.complete(job, results)
		} else {
			job.Status = constants.JobStatusRepairing
		}
		if err := c.Store.CommitPass(ctx, job, results, rec); err != nil {
			return common.WrapError(err, fmt.Sprintf("commit pass %d", pass))
		}
		c.Log.Info("job.pass.committed", "job_id", job.ID, "pass", pass,
			"valid", rec.IsValid, "repair_fields", len(rec.RepairFields))

		if final {
			c.Log.Info("job.run.done", "job_id", job.ID, "passes", pass,
				"confidence", job.ConfidenceScore, "all_valid", rec.IsValid,
				"total_tokens", job.TotalTokens,
				"elapsed_ms", time.Since(start).Milliseconds())
			return nil
		}
		prior, record = results, rec
	}
	return nil
}

// Retry moves a failed job back to pending so the queue can pick it up
// again. Fails with InvalidState for non-failed jobs and with
// RetryLimitExceeded once the budget is spent.
func (c *Controller) Retry(ctx context.Context, jobID uuid.UUID) (*entity.Job, error) {
	job, err := c.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != constants.JobStatusFailed {
		return nil, common.NewAppError("RETRY_INVALID_STATE",
			fmt.Sprintf("job is %s, only failed jobs can be retried", job.Status),
			common.ErrInvalidState)
	}
	if job.RetryCount >= job.MaxRetries {
		return nil, common.NewAppError("RETRY_LIMIT",
			fmt.Sprintf("retry limit %d reached", job.MaxRetries),
			common.ErrRetryLimitExceeded)
	}

	rec := &entity.ValidationRecord{
		JobID:  job.ID,
		Pass:   job.CurrentPass,
		Action: constants.ActionRetry,
	}
	if err := c.Store.AppendRecord(ctx, rec); err != nil {
		return nil, common.WrapError(err, "append retry record")
	}

	job.RetryCount++
	job.Status = constants.JobStatusPending
	job.CurrentPass = 0
	job.ErrorMessage = nil
	job.ConfidenceScore = nil
	job.CompletedAt = nil
	if err := c.Store.UpdateJob(ctx, job); err != nil {
		return nil, common.WrapError(err, "reset job")
	}
	c.Log.Info("job.retry", "job_id", job.ID, "retry_count", job.RetryCount)
	return job, nil
}

// complete stamps the terminal completed state. The confidence score is
// the mean over the final pass's fields, valid or not.
func (c *Controller) complete(job *entity.Job, results []entity.FieldResult) {
	score := meanConfidence(results)
	now := time.Now().UTC()
	job.Status = constants.JobStatusCompleted
	job.ConfidenceScore = &score
	job.CompletedAt = &now
}

func (c *Controller) fail(job *entity.Job, stage string, cause error) error {
	msg := cause.Error()
	job.Status = constants.JobStatusFailed
	job.ErrorMessage = &msg
	// The run context may already be expired; the terminal write must land.
	if err := c.Store.UpdateJob(context.Background(), job); err != nil {
		c.Log.Error("job.fail.update_error", "job_id", job.ID, "error", err)
	}
	c.Log.Error("job.run.failed", "job_id", job.ID, "stage", stage, "error", cause)
	return cause
}

func (c *Controller) deadlineError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return common.NewAppError("JOB_TIMEOUT",
			fmt.Sprintf("job exceeded its %s budget", c.Cfg.JobTimeout), common.ErrTimedOut)
	}
	return common.WrapError(err, "job cancelled")
}

func meanConfidence(results []entity.FieldResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Confidence
	}
	return sum / float64(len(results))
}
