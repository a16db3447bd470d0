package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/avast/retry-go/v4"

	"github.com/dpmorr/llm-structured-extraction/internal/common"
	"github.com/dpmorr/llm-structured-extraction/internal/entity"
	"github.com/dpmorr/llm-structured-extraction/internal/llm"
	"github.com/dpmorr/llm-structured-extraction/internal/schema"
)

// completeWithRetries runs one completion call under both retry policies:
// transient provider errors are retried in place with backoff, and schema
// violations are retried with a reformulated prompt. Each bound is
// configured independently; exhausting either surfaces the last error as
// a pass failure.
func completeWithRetries(ctx context.Context, log *slog.Logger, cfg common.ExtractionConfig,
	completer llm.Completer, compiled *schema.Compiled, req llm.CompletionRequest) (*llm.Completion, error) {

	schemaAttempts := cfg.SchemaAttempts
	if schemaAttempts < 1 {
		schemaAttempts = 1
	}
	providerAttempts := cfg.ProviderAttempts
	if providerAttempts < 1 {
		providerAttempts = 1
	}

	basePrompt := req.Prompt
	var lastErr error
	for attempt := 1; attempt <= schemaAttempts; attempt++ {
		if attempt > 1 {
			req.Prompt = basePrompt + llm.ReformulateNote(attempt, lastErr.Error())
			log.Warn("completion reformulated after schema violation",
				"provider", completer.Name(), "attempt", attempt, "error", lastErr)
		}

		completion, err := retry.DoWithData(func() (*llm.Completion, error) {
			return completer.Complete(ctx, req)
		},
			retry.Context(ctx),
			retry.Attempts(providerAttempts),
			retry.Delay(cfg.RetryBaseDelay),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				return errors.Is(err, common.ErrProviderRetryable)
			}),
			retry.OnRetry(func(n uint, err error) {
				log.Warn("provider call retried",
					"provider", completer.Name(), "attempt", n+1, "error", err)
			}),
		)
		if err == nil {
			err = normalizeCompletion(compiled, req.Fields, completion)
			if err == nil {
				return completion, nil
			}
		}
		lastErr = err
		if !errors.Is(err, common.ErrSchemaViolation) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("schema attempts exhausted: %w", lastErr)
}

// normalizeCompletion fills nulls for unanswered fields, coerces every
// value into its declared type, clamps confidences, and shape-checks the
// whole set against the compiled validator. Any mismatch is a schema
// violation so the caller can reformulate.
func normalizeCompletion(compiled *schema.Compiled, fields []entity.FieldSpec, completion *llm.Completion) error {
	if completion.Fields == nil {
		completion.Fields = make(map[string]llm.FieldValue, len(fields))
	}
	values := make(map[string]json.RawMessage, len(fields))
	for _, spec := range fields {
		fv, ok := completion.Fields[spec.Name]
		if !ok {
			fv = llm.FieldValue{Value: json.RawMessage("null"), Confidence: 0}
		}
		coerced, err := compiled.Coerce(spec.Name, fv.Value)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrSchemaViolation, err)
		}
		fv.Value = coerced
		fv.Confidence = clamp01(fv.Confidence)
		completion.Fields[spec.Name] = fv
		values[spec.Name] = coerced
	}
	if err := compiled.ValidateValues(values); err != nil {
		return fmt.Errorf("%w: %v", common.ErrSchemaViolation, err)
	}
	return nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
