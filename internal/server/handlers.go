package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/dpmorr/llm-structured-extraction/constants"
	"github.com/dpmorr/llm-structured-extraction/internal/common"
	"github.com/dpmorr/llm-structured-extraction/internal/repository"
	"github.com/dpmorr/llm-structured-extraction/internal/schema"
)

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	job, err := req.toJob(s.cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// Reject uncompilable schemas and unsupported providers up front so
	// the caller gets a 400 instead of a job that fails asynchronously.
	if _, err := schema.Compile(job.Schema); err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.controller.Resolver.Completer(job.LLM); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.store.CreateJob(r.Context(), job); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.queue.Enqueue(job.ID); err != nil {
		// The row stays pending; a restart sweep can pick it up.
		s.log.Warn("http.enqueue_failed", "job_id", job.ID, "error", err)
		s.writeError(w, err)
		return
	}
	s.log.Info("job.created", "job_id", job.ID, "document_id", job.DocumentID,
		"schema", job.Schema.Name, "provider", job.LLM.Provider)
	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jobs, err := s.store.ListJobs(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := listJobsResponse{Jobs: make([]jobResponse, 0, len(jobs)), Count: len(jobs)}
	for _, job := range jobs {
		out.Jobs = append(out.Jobs, toJobResponse(job))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleJobResults(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := jobResultsResponse{
		JobID:           job.ID.String(),
		Status:          string(job.Status),
		Results:         []fieldResultDTO{},
		ConfidenceScore: job.ConfidenceScore,
		TokenUsage: tokenUsageDTO{
			Prompt:     job.PromptTokens,
			Completion: job.CompletionTokens,
			Total:      job.TotalTokens,
		},
		ErrorMessage: job.ErrorMessage,
	}
	if job.CurrentPass > 0 {
		results, err := s.store.ListFieldResults(r.Context(), id, job.CurrentPass)
		if err != nil {
			s.writeError(w, err)
			return
		}
		for _, res := range results {
			resp.Results = append(resp.Results, toFieldResultDTO(res))
		}
	}
	records, err := s.store.ListValidationRecords(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	for _, rec := range records {
		resp.History = append(resp.History, validationRecordDTO{
			Pass:         rec.Pass,
			Action:       string(rec.Action),
			IsValid:      rec.IsValid,
			FieldErrors:  rec.FieldErrors,
			RepairFields: rec.RepairFields,
			CreatedAt:    rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	job, err := s.controller.Retry(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.queue.Enqueue(job.ID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func (s *Server) handleExportJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	buf, name, err := s.exporter.ResultsXLSX(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, common.NewAppError("BAD_JOB_ID", "job id must be a UUID", common.ErrInvalidInput)
	}
	return id, nil
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return common.NewAppError("BAD_JSON", "request body is not valid JSON: "+err.Error(), common.ErrInvalidInput)
	}
	return nil
}

func filterFromQuery(r *http.Request) (repository.JobFilter, error) {
	q := r.URL.Query()
	var f repository.JobFilter

	if v := q.Get("status"); v != "" {
		if !constants.IsValidStatus(v) {
			return f, common.NewAppError("BAD_STATUS", "unknown status "+v, common.ErrInvalidInput)
		}
		st := constants.JobStatus(v)
		f.Status = &st
	}
	if v := q.Get("document_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, common.NewAppError("BAD_DOCUMENT_ID", "document_id must be a UUID", common.ErrInvalidInput)
		}
		f.DocumentID = &id
	}
	if v := q.Get("project_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, common.NewAppError("BAD_PROJECT_ID", "project_id must be a UUID", common.ErrInvalidInput)
		}
		f.ProjectID = &id
	}
	if v := q.Get("tag"); v != "" {
		f.Tag = &v
	}
	f.Limit = intQuery(q.Get("limit"), 50)
	f.Offset = intQuery(q.Get("offset"), 0)
	return f, nil
}

func intQuery(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
