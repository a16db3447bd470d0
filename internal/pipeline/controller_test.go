package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpmorr/llm-structured-extraction/constants"
	"github.com/dpmorr/llm-structured-extraction/internal/common"
	"github.com/dpmorr/llm-structured-extraction/internal/entity"
	"github.com/dpmorr/llm-structured-extraction/internal/ingest"
	"github.com/dpmorr/llm-structured-extraction/internal/llm"
	"github.com/dpmorr/llm-structured-extraction/internal/repository"
)

type stubResolver struct {
	c   llm.Completer
	err error
}

func (s stubResolver) Completer(entity.LLMConfig) (llm.Completer, error) { return s.c, s.err }

func testCfg() common.ExtractionConfig {
	return common.ExtractionConfig{
		ConfidenceThreshold: 0.70,
		ProviderAttempts:    3,
		SchemaAttempts:      2,
		RetryBaseDelay:      time.Millisecond,
		JobTimeout:          time.Minute,
	}
}

func newTestController(store repository.Store, completer llm.Completer, cfg common.ExtractionConfig) *Controller {
	return NewController(nil, store, stubResolver{c: completer}, ingest.StaticFetcher{Text: "Invoice from Acme, total 12.50"}, cfg)
}

func newTestJob(t *testing.T, store repository.Store, passes int) *entity.Job {
	t.Helper()
	job := &entity.Job{
		DocumentID: uuid.New(),
		Schema: entity.ExtractionSchema{
			Name: "invoice",
			Fields: []entity.FieldSpec{
				{Name: "vendor", Type: constants.FieldTypeString, Required: true},
				{Name: "total", Type: constants.FieldTypeNumber, Required: true},
				{Name: "notes", Type: constants.FieldTypeString},
			},
		},
		LLM:         entity.LLMConfig{Provider: "openai", Model: "gpt-4o-mini"},
		Status:      constants.JobStatusPending,
		TotalPasses: passes,
		MaxRetries:  2,
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func fv(value string, confidence float64) llm.FieldValue {
	return llm.FieldValue{Value: json.RawMessage(value), Confidence: confidence}
}

func completion(fields map[string]llm.FieldValue) *llm.Completion {
	return &llm.Completion{
		Fields: fields,
		Usage:  llm.Usage{PromptTokens: 100, CompletionTokens: 50},
		Raw:    json.RawMessage(`{"scripted":true}`),
	}
}

func goodCompletion() *llm.Completion {
	return completion(map[string]llm.FieldValue{
		"vendor": fv(`"Acme"`, 0.95),
		"total":  fv(`12.5`, 0.80),
		"notes":  fv(`null`, 0.75),
	})
}

func TestRunSinglePassSuccess(t *testing.T) {
	store := repository.NewMemoryStore()
	mock := llm.NewMockCompleter(goodCompletion())
	c := newTestController(store, mock, testCfg())
	job := newTestJob(t, store, 2)

	require.NoError(t, c.Run(context.Background(), job.ID))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, got.CurrentPass, "valid pass 1 short-circuits the budget")
	require.NotNil(t, got.ConfidenceScore)
	assert.InDelta(t, (0.95+0.80+0.75)/3, *got.ConfidenceScore, 1e-9)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 150, got.TotalTokens)

	results, err := store.ListFieldResults(context.Background(), job.ID, 1)
	require.NoError(t, err)
	require.Len(t, results, 3, "one row per schema field")

	records, err := store.ListValidationRecords(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, constants.ActionValidate, records[0].Action)
	assert.True(t, records[0].IsValid)
	assert.JSONEq(t, `{"scripted":true}`, string(records[0].RawResponse))
	assert.Equal(t, 1, mock.Calls())
}

func TestRunRepairCarriesForwardValidRows(t *testing.T) {
	store := repository.NewMemoryStore()
	mock := llm.NewMockCompleter(
		completion(map[string]llm.FieldValue{
			"vendor": fv(`"Acme"`, 0.95),
			"total":  fv(`12.5`, 0.40), // below threshold, triggers repair
			"notes":  fv(`"net 30"`, 0.80),
		}),
		completion(map[string]llm.FieldValue{
			"total": fv(`12.5`, 0.90),
		}),
	)
	c := newTestController(store, mock, testCfg())
	job := newTestJob(t, store, 3)

	require.NoError(t, c.Run(context.Background(), job.ID))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.CurrentPass)
	require.NotNil(t, got.ConfidenceScore)
	assert.InDelta(t, (0.95+0.90+0.80)/3, *got.ConfidenceScore, 1e-9)
	assert.Equal(t, 300, got.TotalTokens, "both passes count")

	pass1, err := store.ListFieldResults(context.Background(), job.ID, 1)
	require.NoError(t, err)
	require.Len(t, pass1, 3, "earlier passes stay intact")

	pass2, err := store.ListFieldResults(context.Background(), job.ID, 2)
	require.NoError(t, err)
	require.Len(t, pass2, 3, "repair pass stores a complete set")

	byName := map[string]entity.FieldResult{}
	for _, r := range pass2 {
		byName[r.FieldName] = r
	}
	assert.InDelta(t, 0.90, byName["total"].Confidence, 1e-9, "repaired row is fresh")
	assert.InDelta(t, 0.95, byName["vendor"].Confidence, 1e-9, "valid row carried forward")
	for _, p1 := range pass1 {
		if p1.FieldName == "vendor" {
			assert.NotEqual(t, p1.ID, byName["vendor"].ID, "carry-forward mints a new row")
			assert.Equal(t, string(p1.Value), string(byName["vendor"].Value))
		}
	}

	records, err := store.ListValidationRecords(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, constants.ActionValidate, records[0].Action)
	assert.False(t, records[0].IsValid)
	assert.Equal(t, []string{"total"}, records[0].RepairFields)
	assert.Equal(t, constants.ActionRepair, records[1].Action)
	assert.True(t, records[1].IsValid)

	// The repair call only asked for the invalid field.
	assert.Len(t, mock.LastRequest.Fields, 1)
	assert.Equal(t, "total", mock.LastRequest.Fields[0].Name)
}

func TestRunRepairIgnoresUnrequestedFields(t *testing.T) {
	store := repository.NewMemoryStore()
	mock := llm.NewMockCompleter(
		completion(map[string]llm.FieldValue{
			"vendor": fv(`"Acme"`, 0.95),
			"total":  fv(`12.5`, 0.40), // below threshold, triggers repair
			"notes":  fv(`"net 30"`, 0.80),
		}),
		// The repair reply answers a field that was never flagged, with a
		// wrong type and an out-of-range confidence.
		completion(map[string]llm.FieldValue{
			"total":  fv(`12.5`, 0.90),
			"vendor": fv(`123`, 7.5),
		}),
	)
	c := newTestController(store, mock, testCfg())
	job := newTestJob(t, store, 3)

	require.NoError(t, c.Run(context.Background(), job.ID))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, got.Status)
	require.NotNil(t, got.ConfidenceScore)
	assert.InDelta(t, (0.95+0.90+0.80)/3, *got.ConfidenceScore, 1e-9)

	pass2, err := store.ListFieldResults(context.Background(), job.ID, 2)
	require.NoError(t, err)
	byName := map[string]entity.FieldResult{}
	for _, r := range pass2 {
		byName[r.FieldName] = r
	}
	assert.Equal(t, `"Acme"`, string(byName["vendor"].Value), "unrequested answer is discarded")
	assert.InDelta(t, 0.95, byName["vendor"].Confidence, 1e-9)
	assert.InDelta(t, 0.90, byName["total"].Confidence, 1e-9, "flagged field still repaired")
}

func TestRunBestEffortCompletion(t *testing.T) {
	store := repository.NewMemoryStore()
	mock := llm.NewMockCompleter(completion(map[string]llm.FieldValue{
		"vendor": fv(`"Acme"`, 0.95),
		"total":  fv(`null`, 0.10), // required and null, never repairable here
		"notes":  fv(`null`, 0.75),
	}))
	c := newTestController(store, mock, testCfg())
	job := newTestJob(t, store, 1)

	require.NoError(t, c.Run(context.Background(), job.ID))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, got.Status, "pass budget exhausted still completes")
	require.NotNil(t, got.ConfidenceScore)
	assert.InDelta(t, (0.95+0.10+0.75)/3, *got.ConfidenceScore, 1e-9)

	records, err := store.ListValidationRecords(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].IsValid, "the audit trail keeps the invalid verdict")
	assert.Equal(t, 1, mock.Calls(), "a one-pass budget never repairs")
}

func TestRunTransientProviderErrorIsRetried(t *testing.T) {
	store := repository.NewMemoryStore()
	mock := llm.NewMockCompleter(goodCompletion(), goodCompletion())
	mock.Errors = []error{fmt.Errorf("%w: status 503", common.ErrProviderRetryable), nil}
	c := newTestController(store, mock, testCfg())
	job := newTestJob(t, store, 2)

	require.NoError(t, c.Run(context.Background(), job.ID))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, mock.Calls())
}

func TestRunFatalProviderErrorFailsJob(t *testing.T) {
	store := repository.NewMemoryStore()
	mock := llm.NewMockCompleter(goodCompletion())
	mock.Errors = []error{errors.New("provider status 401: bad key")}
	c := newTestController(store, mock, testCfg())
	job := newTestJob(t, store, 2)

	err := c.Run(context.Background(), job.ID)
	require.Error(t, err)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "pass 1")
	assert.Contains(t, *got.ErrorMessage, "bad key")
	assert.Equal(t, 1, mock.Calls(), "fatal errors are not retried")
}

func TestRunSchemaViolationExhaustsReformulations(t *testing.T) {
	store := repository.NewMemoryStore()
	mock := llm.NewMockCompleter(completion(map[string]llm.FieldValue{
		"vendor": fv(`"Acme"`, 0.9),
		"total":  fv(`"not a number"`, 0.9),
		"notes":  fv(`null`, 0.9),
	}))
	c := newTestController(store, mock, testCfg())
	job := newTestJob(t, store, 2)

	err := c.Run(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrSchemaViolation))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
	assert.Equal(t, 2, mock.Calls(), "one reformulated retry, then give up")
	assert.Contains(t, mock.LastRequest.Prompt, "attempt 2", "second prompt carries the reformulation note")
}

func TestRunTimedOut(t *testing.T) {
	store := repository.NewMemoryStore()
	cfg := testCfg()
	cfg.JobTimeout = time.Nanosecond
	c := newTestController(store, llm.NewMockCompleter(goodCompletion()), cfg)
	job := newTestJob(t, store, 2)

	err := c.Run(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrTimedOut))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
}

func TestRunSkipsNonPendingJobs(t *testing.T) {
	store := repository.NewMemoryStore()
	mock := llm.NewMockCompleter(goodCompletion())
	c := newTestController(store, mock, testCfg())
	job := newTestJob(t, store, 2)

	job.Status = constants.JobStatusCompleted
	require.NoError(t, store.UpdateJob(context.Background(), job))

	require.NoError(t, c.Run(context.Background(), job.ID))
	assert.Equal(t, 0, mock.Calls())
}

func TestRetry(t *testing.T) {
	store := repository.NewMemoryStore()
	mock := llm.NewMockCompleter(goodCompletion())
	mock.Errors = []error{errors.New("boom")}
	c := newTestController(store, mock, testCfg())
	job := newTestJob(t, store, 2)

	require.Error(t, c.Run(context.Background(), job.ID))

	retried, err := c.Retry(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusPending, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Nil(t, retried.ErrorMessage)
	assert.Nil(t, retried.ConfidenceScore)

	records, err := store.ListValidationRecords(context.Background(), job.ID)
	require.NoError(t, err)
	var actions []constants.ValidationAction
	for _, r := range records {
		actions = append(actions, r.Action)
	}
	assert.Contains(t, actions, constants.ActionRetry)
}

func TestRetryInvalidState(t *testing.T) {
	store := repository.NewMemoryStore()
	c := newTestController(store, llm.NewMockCompleter(goodCompletion()), testCfg())
	job := newTestJob(t, store, 2)

	require.NoError(t, c.Run(context.Background(), job.ID))

	_, err := c.Retry(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInvalidState))
}

func TestRetryLimitExceeded(t *testing.T) {
	store := repository.NewMemoryStore()
	mock := llm.NewMockCompleter(goodCompletion())
	mock.Errors = []error{errors.New("boom")}
	c := newTestController(store, mock, testCfg())
	job := newTestJob(t, store, 2)
	job.MaxRetries = 0
	require.NoError(t, store.UpdateJob(context.Background(), job))

	require.Error(t, c.Run(context.Background(), job.ID))

	_, err := c.Retry(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrRetryLimitExceeded))
}
