package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dpmorr/llm-structured-extraction/constants"
	"github.com/dpmorr/llm-structured-extraction/internal/common"
	"github.com/dpmorr/llm-structured-extraction/internal/entity"
)

// timeLayout keeps timestamps lexicographically ordered as text, which
// both drivers store and compare identically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLStore implements Store over database/sql with $N placeholders, which
// Postgres and SQLite both accept.
type SQLStore struct {
	db   *sql.DB
	pool *pgxpool.Pool // nil for sqlite
	log  *slog.Logger
}

func NewSQLStore(db *sql.DB, pool *pgxpool.Pool, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{db: db, pool: pool, log: logger}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS extraction_jobs (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		schema_json TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		llm_provider TEXT NOT NULL,
		llm_model TEXT NOT NULL,
		temperature REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		current_pass INTEGER NOT NULL DEFAULT 0,
		total_passes INTEGER NOT NULL DEFAULT 1,
		confidence_score REAL,
		truncated INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		project_id TEXT,
		tags TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON extraction_jobs (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_document_created ON extraction_jobs (document_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_project_created ON extraction_jobs (project_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS field_results (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		field_name TEXT NOT NULL,
		field_type TEXT NOT NULL,
		pass INTEGER NOT NULL,
		value TEXT NOT NULL DEFAULT 'null',
		confidence REAL NOT NULL DEFAULT 0,
		source_text TEXT NOT NULL DEFAULT '',
		page_number INTEGER,
		is_valid INTEGER NOT NULL DEFAULT 1,
		validation_errors TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		UNIQUE (job_id, field_name, pass)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_results_job_pass ON field_results (job_id, pass)`,
	`CREATE TABLE IF NOT EXISTS validation_records (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		pass INTEGER NOT NULL,
		action TEXT NOT NULL,
		is_valid INTEGER NOT NULL DEFAULT 0,
		field_errors TEXT NOT NULL DEFAULT '{}',
		repair_fields TEXT NOT NULL DEFAULT '[]',
		raw_response TEXT,
		created_at TEXT NOT NULL,
		UNIQUE (job_id, pass, action, created_at)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_records_job_pass ON validation_records (job_id, pass)`,
}

// Migrate applies the idempotent DDL.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

const jobColumns = `id, document_id, schema_json, context, llm_provider, llm_model, temperature,
	status, current_pass, total_passes, confidence_score, truncated, error_message,
	retry_count, max_retries, prompt_tokens, completion_tokens, total_tokens,
	project_id, tags, created_at, updated_at, completed_at`

func (s *SQLStore) CreateJob(ctx context.Context, job *entity.Job) error {
	now := time.Now().UTC()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = now
	job.UpdatedAt = now

	schemaJSON, err := json.Marshal(job.Schema)
	if err != nil {
		return common.WrapError(err, "encode schema")
	}
	tagsJSON, err := json.Marshal(jobTags(job))
	if err != nil {
		return common.WrapError(err, "encode tags")
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO extraction_jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		job.ID.String(), job.DocumentID.String(), string(schemaJSON), job.Context,
		string(job.LLM.Provider), job.LLM.Model, job.LLM.Temperature,
		string(job.Status), job.CurrentPass, job.TotalPasses,
		job.ConfidenceScore, boolInt(job.Truncated), job.ErrorMessage,
		job.RetryCount, job.MaxRetries,
		job.PromptTokens, job.CompletionTokens, job.TotalTokens,
		uuidPtrString(job.ProjectID), string(tagsJSON),
		job.CreatedAt.Format(timeLayout), job.UpdatedAt.Format(timeLayout), timePtrString(job.CompletedAt),
	)
	if err != nil {
		s.log.Error("job create failed", "job_id", job.ID, "error", err)
		return common.WrapError(err, "insert job")
	}
	s.log.Info("job created", "job_id", job.ID, "document_id", job.DocumentID, "schema", job.Schema.Name)
	return nil
}

func (s *SQLStore) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM extraction_jobs WHERE id = $1`, id.String())
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, common.WrapError(err, "get job")
	}
	return job, nil
}

func (s *SQLStore) UpdateJob(ctx context.Context, job *entity.Job) error {
	job.UpdatedAt = time.Now().UTC()
	return s.updateJobExec(ctx, s.db.ExecContext, job)
}

type execFunc func(ctx context.Context, query string, args ...any) (sql.Result, error)

func (s *SQLStore) updateJobExec(ctx context.Context, exec execFunc, job *entity.Job) error {
	res, err := exec(ctx, `UPDATE extraction_jobs SET
		status=$1, current_pass=$2, total_passes=$3, confidence_score=$4, truncated=$5,
		error_message=$6, retry_count=$7,
		prompt_tokens=$8, completion_tokens=$9, total_tokens=$10,
		updated_at=$11, completed_at=$12
		WHERE id = $13`,
		string(job.Status), job.CurrentPass, job.TotalPasses, job.ConfidenceScore, boolInt(job.Truncated),
		job.ErrorMessage, job.RetryCount,
		job.PromptTokens, job.CompletionTokens, job.TotalTokens,
		job.UpdatedAt.Format(timeLayout), timePtrString(job.CompletedAt),
		job.ID.String(),
	)
	if err != nil {
		s.log.Error("job update failed", "job_id", job.ID, "error", err)
		return common.WrapError(err, "update job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListJobs(ctx context.Context, f JobFilter) ([]*entity.Job, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != nil {
		where = append(where, "status = "+arg(string(*f.Status)))
	}
	if f.DocumentID != nil {
		where = append(where, "document_id = "+arg(f.DocumentID.String()))
	}
	if f.ProjectID != nil {
		where = append(where, "project_id = "+arg(f.ProjectID.String()))
	}
	if f.Tag != nil {
		// tags is a JSON array of strings; a quoted-substring match is
		// portable across both drivers. LIKE metacharacters in the tag are
		// escaped so they match literally.
		where = append(where, `tags LIKE `+arg(`%"`+escapeLike(*f.Tag)+`"%`)+` ESCAPE '\'`)
	}

	q := `SELECT ` + jobColumns + ` FROM extraction_jobs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		q += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, common.WrapError(err, "list jobs")
	}
	defer rows.Close()

	var out []*entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, common.WrapError(err, "scan job")
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *SQLStore) CommitPass(ctx context.Context, job *entity.Job, results []entity.FieldResult, record *entity.ValidationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return common.WrapError(err, "begin pass tx")
	}
	defer func() { _ = tx.Rollback() }()

	for i := range results {
		if err := insertResult(ctx, tx, &results[i]); err != nil {
			return err
		}
	}
	if err := insertRecord(ctx, tx, record); err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()
	if err := s.updateJobExec(ctx, tx.ExecContext, job); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return common.WrapError(err, "commit pass tx")
	}
	s.log.Info("pass committed",
		"job_id", job.ID, "pass", record.Pass, "action", record.Action,
		"results", len(results), "is_valid", record.IsValid)
	return nil
}

func (s *SQLStore) AppendRecord(ctx context.Context, rec *entity.ValidationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return common.WrapError(err, "begin record tx")
	}
	defer func() { _ = tx.Rollback() }()
	if err := insertRecord(ctx, tx, rec); err != nil {
		return err
	}
	return common.WrapError(tx.Commit(), "commit record tx")
}

func insertResult(ctx context.Context, tx *sql.Tx, r *entity.FieldResult) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	value := "null"
	if len(r.Value) > 0 {
		value = string(r.Value)
	}
	verrs, err := json.Marshal(sliceOrEmpty(r.ValidationErrors))
	if err != nil {
		return common.WrapError(err, "encode validation errors")
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO field_results
		(id, job_id, field_name, field_type, pass, value, confidence, source_text, page_number, is_valid, validation_errors, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID.String(), r.JobID.String(), r.FieldName, string(r.FieldType), r.Pass,
		value, r.Confidence, r.SourceText, r.PageNumber, boolInt(r.IsValid), string(verrs),
		r.CreatedAt.Format(timeLayout),
	)
	return common.WrapError(err, "insert field result")
}

func insertRecord(ctx context.Context, tx *sql.Tx, rec *entity.ValidationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	ferrs := rec.FieldErrors
	if ferrs == nil {
		ferrs = map[string][]string{}
	}
	fe, err := json.Marshal(ferrs)
	if err != nil {
		return common.WrapError(err, "encode field errors")
	}
	rf, err := json.Marshal(sliceOrEmpty(rec.RepairFields))
	if err != nil {
		return common.WrapError(err, "encode repair fields")
	}
	var raw *string
	if len(rec.RawResponse) > 0 {
		s := string(rec.RawResponse)
		raw = &s
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO validation_records
		(id, job_id, pass, action, is_valid, field_errors, repair_fields, raw_response, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.ID.String(), rec.JobID.String(), rec.Pass, string(rec.Action),
		boolInt(rec.IsValid), string(fe), string(rf), raw,
		rec.CreatedAt.Format(timeLayout),
	)
	return common.WrapError(err, "insert validation record")
}

func (s *SQLStore) ListFieldResults(ctx context.Context, jobID uuid.UUID, pass int) ([]entity.FieldResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, job_id, field_name, field_type, pass, value, confidence, source_text, page_number, is_valid, validation_errors, created_at
		FROM field_results WHERE job_id = $1 AND pass = $2 ORDER BY field_name`,
		jobID.String(), pass)
	if err != nil {
		return nil, common.WrapError(err, "list field results")
	}
	defer rows.Close()

	var out []entity.FieldResult
	for rows.Next() {
		var (
			r                      entity.FieldResult
			idStr, jobStr, ftype   string
			value, verrs, created  string
			pageNumber             sql.NullInt64
			isValid                int
		)
		if err := rows.Scan(&idStr, &jobStr, &r.FieldName, &ftype, &r.Pass,
			&value, &r.Confidence, &r.SourceText, &pageNumber, &isValid, &verrs, &created); err != nil {
			return nil, common.WrapError(err, "scan field result")
		}
		r.ID, _ = uuid.Parse(idStr)
		r.JobID, _ = uuid.Parse(jobStr)
		r.FieldType = constants.FieldType(ftype)
		r.Value = json.RawMessage(value)
		if pageNumber.Valid {
			n := int(pageNumber.Int64)
			r.PageNumber = &n
		}
		r.IsValid = isValid != 0
		if err := json.Unmarshal([]byte(verrs), &r.ValidationErrors); err != nil {
			return nil, common.WrapError(err, "decode validation errors")
		}
		r.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListValidationRecords(ctx context.Context, jobID uuid.UUID) ([]entity.ValidationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, job_id, pass, action, is_valid, field_errors, repair_fields, raw_response, created_at
		FROM validation_records WHERE job_id = $1 ORDER BY pass, created_at`,
		jobID.String())
	if err != nil {
		return nil, common.WrapError(err, "list validation records")
	}
	defer rows.Close()

	var out []entity.ValidationRecord
	for rows.Next() {
		var (
			rec                  entity.ValidationRecord
			idStr, jobStr        string
			action, fe, rf       string
			raw                  sql.NullString
			isValid              int
			created              string
		)
		if err := rows.Scan(&idStr, &jobStr, &rec.Pass, &action, &isValid, &fe, &rf, &raw, &created); err != nil {
			return nil, common.WrapError(err, "scan validation record")
		}
		rec.ID, _ = uuid.Parse(idStr)
		rec.JobID, _ = uuid.Parse(jobStr)
		rec.Action = constants.ValidationAction(action)
		rec.IsValid = isValid != 0
		if err := json.Unmarshal([]byte(fe), &rec.FieldErrors); err != nil {
			return nil, common.WrapError(err, "decode field errors")
		}
		if err := json.Unmarshal([]byte(rf), &rec.RepairFields); err != nil {
			return nil, common.WrapError(err, "decode repair fields")
		}
		if raw.Valid {
			rec.RawResponse = json.RawMessage(raw.String)
		}
		rec.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{CountsByStatus: make(map[constants.JobStatus]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM extraction_jobs GROUP BY status`)
	if err != nil {
		return nil, common.WrapError(err, "stats counts")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, common.WrapError(err, "scan status count")
		}
		stats.CountsByStatus[constants.JobStatus(status)] = n
		stats.TotalJobs += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var meanConf, meanTokens sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `SELECT AVG(confidence_score), AVG(total_tokens)
		FROM extraction_jobs WHERE status = $1 AND confidence_score IS NOT NULL`,
		string(constants.JobStatusCompleted)).Scan(&meanConf, &meanTokens)
	if err != nil {
		return nil, common.WrapError(err, "stats means")
	}
	stats.MeanConfidence = meanConf.Float64
	stats.MeanTotalTokens = meanTokens.Float64
	return stats, nil
}

// scanJob works for both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var (
		job                              entity.Job
		idStr, docStr, schemaJSON, tags  string
		provider, created, updated       string
		confidence                       sql.NullFloat64
		truncated                        int
		errMsg, projectID, completedAt   sql.NullString
	)
	err := row.Scan(&idStr, &docStr, &schemaJSON, &job.Context, &provider, &job.LLM.Model, &job.LLM.Temperature,
		(*string)(&job.Status), &job.CurrentPass, &job.TotalPasses, &confidence, &truncated, &errMsg,
		&job.RetryCount, &job.MaxRetries, &job.PromptTokens, &job.CompletionTokens, &job.TotalTokens,
		&projectID, &tags, &created, &updated, &completedAt)
	if err != nil {
		return nil, err
	}
	job.ID, _ = uuid.Parse(idStr)
	job.DocumentID, _ = uuid.Parse(docStr)
	job.LLM.Provider = constants.Provider(provider)
	if err := json.Unmarshal([]byte(schemaJSON), &job.Schema); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	if confidence.Valid {
		job.ConfidenceScore = &confidence.Float64
	}
	job.Truncated = truncated != 0
	if errMsg.Valid && errMsg.String != "" {
		job.ErrorMessage = &errMsg.String
	}
	if projectID.Valid && projectID.String != "" {
		if pid, perr := uuid.Parse(projectID.String); perr == nil {
			job.ProjectID = &pid
		}
	}
	if err := json.Unmarshal([]byte(tags), &job.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	job.CreatedAt, _ = time.Parse(timeLayout, created)
	job.UpdatedAt, _ = time.Parse(timeLayout, updated)
	if completedAt.Valid && completedAt.String != "" {
		t, _ := time.Parse(timeLayout, completedAt.String)
		job.CompletedAt = &t
	}
	return &job, nil
}

// escapeLike makes a string safe for a literal LIKE match under ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func uuidPtrString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func timePtrString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeLayout)
	return &s
}

func jobTags(job *entity.Job) []string {
	if job.Tags == nil {
		return []string{}
	}
	return job.Tags
}

func sliceOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
