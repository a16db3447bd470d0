package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/dpmorr/llm-structured-extraction/constants"
	"github.com/dpmorr/llm-structured-extraction/internal/entity"
)

// JobFilter selects jobs for listing. Nil members match everything.
type JobFilter struct {
	Status     *constants.JobStatus
	DocumentID *uuid.UUID
	ProjectID  *uuid.UUID
	Tag        *string
	Limit      int
	Offset     int
}

// Stats aggregates the job table for the stats endpoint.
type Stats struct {
	TotalJobs       int                         `json:"total_jobs"`
	CountsByStatus  map[constants.JobStatus]int `json:"counts_by_status"`
	MeanConfidence  float64                     `json:"mean_confidence"`
	MeanTotalTokens float64                     `json:"mean_total_tokens"`
}

// Store persists jobs, field results and validation records, honoring the
// append-only and per-pass uniqueness invariants. FieldResult and
// ValidationRecord rows are never updated or deleted.
type Store interface {
	CreateJob(ctx context.Context, job *entity.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	UpdateJob(ctx context.Context, job *entity.Job) error
	ListJobs(ctx context.Context, f JobFilter) ([]*entity.Job, error)

	// CommitPass atomically writes one pass's full FieldResult set, its
	// ValidationRecord, and the job row. A reader never observes a
	// partially written pass.
	CommitPass(ctx context.Context, job *entity.Job, results []entity.FieldResult, record *entity.ValidationRecord) error

	// AppendRecord writes a standalone audit record (e.g. the retry action).
	AppendRecord(ctx context.Context, rec *entity.ValidationRecord) error

	ListFieldResults(ctx context.Context, jobID uuid.UUID, pass int) ([]entity.FieldResult, error)
	ListValidationRecords(ctx context.Context, jobID uuid.UUID) ([]entity.ValidationRecord, error)

	Stats(ctx context.Context) (*Stats, error)
	Ping(ctx context.Context) error
	Close() error
}
