package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dpmorr/llm-structured-extraction/constants"
	"github.com/dpmorr/llm-structured-extraction/internal/common"
	"github.com/dpmorr/llm-structured-extraction/internal/entity"
)

// MemoryStore is an in-memory Store for tests and the one-shot CLI.
// Pass commits are atomic under the store mutex.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]*entity.Job
	results map[uuid.UUID][]entity.FieldResult
	records map[uuid.UUID][]entity.ValidationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[uuid.UUID]*entity.Job),
		results: make(map[uuid.UUID][]entity.FieldResult),
		records: make(map[uuid.UUID][]entity.ValidationRecord),
	}
}

func (m *MemoryStore) CreateJob(_ context.Context, job *entity.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, job *entity.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateJobLocked(job)
}

func (m *MemoryStore) updateJobLocked(job *entity.Job) error {
	if _, ok := m.jobs[job.ID]; !ok {
		return common.ErrNotFound
	}
	job.UpdatedAt = time.Now().UTC()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *MemoryStore) ListJobs(_ context.Context, f JobFilter) ([]*entity.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*entity.Job
	for _, job := range m.jobs {
		if f.Status != nil && job.Status != *f.Status {
			continue
		}
		if f.DocumentID != nil && job.DocumentID != *f.DocumentID {
			continue
		}
		if f.ProjectID != nil && (job.ProjectID == nil || *job.ProjectID != *f.ProjectID) {
			continue
		}
		if f.Tag != nil && !hasTag(job.Tags, *f.Tag) {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) CommitPass(_ context.Context, job *entity.Job, results []entity.FieldResult, record *entity.ValidationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range results {
		if results[i].ID == uuid.Nil {
			results[i].ID = uuid.New()
		}
		if results[i].CreatedAt.IsZero() {
			results[i].CreatedAt = time.Now().UTC()
		}
	}
	m.results[job.ID] = append(m.results[job.ID], results...)
	m.appendRecordLocked(record)
	return m.updateJobLocked(job)
}

func (m *MemoryStore) AppendRecord(_ context.Context, rec *entity.ValidationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendRecordLocked(rec)
	return nil
}

func (m *MemoryStore) appendRecordLocked(rec *entity.ValidationRecord) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.records[rec.JobID] = append(m.records[rec.JobID], *rec)
}

func (m *MemoryStore) ListFieldResults(_ context.Context, jobID uuid.UUID, pass int) ([]entity.FieldResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []entity.FieldResult
	for _, r := range m.results[jobID] {
		if r.Pass == pass {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldName < out[j].FieldName })
	return out, nil
}

func (m *MemoryStore) ListValidationRecords(_ context.Context, jobID uuid.UUID) ([]entity.ValidationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entity.ValidationRecord, len(m.records[jobID]))
	copy(out, m.records[jobID])
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pass != out[j].Pass {
			return out[i].Pass < out[j].Pass
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{CountsByStatus: make(map[constants.JobStatus]int)}
	var confSum, tokenSum float64
	var completed int
	for _, job := range m.jobs {
		stats.CountsByStatus[job.Status]++
		stats.TotalJobs++
		if job.Status == constants.JobStatusCompleted && job.ConfidenceScore != nil {
			confSum += *job.ConfidenceScore
			tokenSum += float64(job.TotalTokens)
			completed++
		}
	}
	if completed > 0 {
		stats.MeanConfidence = confSum / float64(completed)
		stats.MeanTotalTokens = tokenSum / float64(completed)
	}
	return stats, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}
