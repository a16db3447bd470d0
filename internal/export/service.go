// Package export renders a job's extraction results as an XLSX workbook.
package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/dpmorr/llm-structured-extraction/internal/common"
	"github.com/dpmorr/llm-structured-extraction/internal/entity"
	"github.com/dpmorr/llm-structured-extraction/internal/repository"
)

const resultsSheet = "Results"

type Service struct {
	log   *slog.Logger
	store repository.Store
}

func NewService(logger *slog.Logger, store repository.Store) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{log: logger, store: store}
}

// ResultsXLSX builds a workbook holding the job's final-pass results plus
// a summary sheet. Requires at least one committed pass.
func (s *Service) ResultsXLSX(ctx context.Context, jobID uuid.UUID) (*bytes.Buffer, string, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, "", err
	}
	if job.CurrentPass < 1 {
		return nil, "", common.NewAppError("EXPORT_NO_RESULTS",
			"job has no committed passes yet", common.ErrInvalidState)
	}
	results, err := s.store.ListFieldResults(ctx, jobID, job.CurrentPass)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(resultsSheet)
	if err != nil {
		return nil, "", common.WrapError(err, "create results sheet")
	}
	f.SetActiveSheet(index)

	headers := []string{"Field", "Type", "Value", "Confidence", "Valid", "Source Text", "Page", "Issues"}
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(resultsSheet, cell, h); err != nil {
			return nil, "", common.WrapError(err, "write header")
		}
	}
	for row, r := range results {
		page := ""
		if r.PageNumber != nil {
			page = fmt.Sprintf("%d", *r.PageNumber)
		}
		values := []any{
			r.FieldName,
			string(r.FieldType),
			string(r.Value),
			r.Confidence,
			r.IsValid,
			r.SourceText,
			page,
			strings.Join(r.ValidationErrors, "; "),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(resultsSheet, cell, v); err != nil {
				return nil, "", common.WrapError(err, "write result row")
			}
		}
	}

	if err := s.writeSummary(f, job); err != nil {
		return nil, "", err
	}
	// Drop the default sheet so Results opens first.
	_ = f.DeleteSheet("Sheet1")

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", common.WrapError(err, "serialize workbook")
	}
	name := fmt.Sprintf("extraction-%s-%s.xlsx", job.ID, time.Now().UTC().Format("20060102"))
	s.log.Info("export.xlsx", "job_id", job.ID, "pass", job.CurrentPass, "rows", len(results))
	return buf, name, nil
}

func (s *Service) writeSummary(f *excelize.File, job *entity.Job) error {
	const sheet = "Job"
	if _, err := f.NewSheet(sheet); err != nil {
		return common.WrapError(err, "create summary sheet")
	}
	confidence := ""
	if job.ConfidenceScore != nil {
		confidence = fmt.Sprintf("%.4f", *job.ConfidenceScore)
	}
	rows := [][2]any{
		{"Job ID", job.ID.String()},
		{"Document ID", job.DocumentID.String()},
		{"Schema", job.Schema.Name},
		{"Status", string(job.Status)},
		{"Passes", job.CurrentPass},
		{"Confidence", confidence},
		{"Truncated", job.Truncated},
		{"Provider", string(job.LLM.Provider)},
		{"Model", job.LLM.Model},
		{"Total Tokens", job.TotalTokens},
		{"Created", job.CreatedAt.UTC().Format(time.RFC3339)},
	}
	for i, kv := range rows {
		keyCell, _ := excelize.CoordinatesToCellName(1, i+1)
		valCell, _ := excelize.CoordinatesToCellName(2, i+1)
		if err := f.SetCellValue(sheet, keyCell, kv[0]); err != nil {
			return common.WrapError(err, "write summary")
		}
		if err := f.SetCellValue(sheet, valCell, kv[1]); err != nil {
			return common.WrapError(err, "write summary")
		}
	}
	return nil
}
