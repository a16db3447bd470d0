// Command extract runs a single extraction job from a schema file and a
// document file, without a server or database, and prints the job result
// as JSON. Useful for trying a schema against a provider.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dpmorr/llm-structured-extraction/constants"
	"github.com/dpmorr/llm-structured-extraction/internal/common"
	"github.com/dpmorr/llm-structured-extraction/internal/entity"
	"github.com/dpmorr/llm-structured-extraction/internal/ingest"
	"github.com/dpmorr/llm-structured-extraction/internal/llm/registry"
	"github.com/dpmorr/llm-structured-extraction/internal/pipeline"
	"github.com/dpmorr/llm-structured-extraction/internal/repository"
)

var (
	schemaPath   string
	documentPath string
	provider     string
	model        string
	docContext   string
	passes       int
)

func main() {
	cmd := &cobra.Command{
		Use:          "extract",
		Short:        "Run one extraction job and print the result",
		RunE:         run,
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&schemaPath, "schema", "", "path to a schema JSON file (required)")
	cmd.Flags().StringVar(&documentPath, "document", "", "path to a plain-text document file (required)")
	cmd.Flags().StringVar(&provider, "provider", "openai", "llm provider (openai|anthropic)")
	cmd.Flags().StringVar(&model, "model", "", "model name (provider default when empty)")
	cmd.Flags().StringVar(&docContext, "context", "", "extra context passed to the model")
	cmd.Flags().IntVar(&passes, "passes", 2, "total extraction passes")
	_ = cmd.MarkFlagRequired("schema")
	_ = cmd.MarkFlagRequired("document")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := common.LoadConfig("")
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	schemaBytes, err := os.ReadFile(schemaPath)
	if err != nil {
		return err
	}
	var extractionSchema entity.ExtractionSchema
	if err := json.Unmarshal(schemaBytes, &extractionSchema); err != nil {
		return common.WrapError(err, "parse schema file")
	}
	docBytes, err := os.ReadFile(documentPath)
	if err != nil {
		return err
	}

	if model == "" {
		model = cfg.LLM.DefaultModel
	}
	job := &entity.Job{
		ID:         uuid.New(),
		DocumentID: uuid.New(),
		Schema:     extractionSchema,
		Context:    docContext,
		LLM: entity.LLMConfig{
			Provider:    constants.Provider(provider),
			Model:       model,
			Temperature: cfg.LLM.Temperature,
		},
		Status:      constants.JobStatusPending,
		TotalPasses: passes,
		MaxRetries:  cfg.Extraction.MaxRetries,
	}

	store := repository.NewMemoryStore()
	ctx := context.Background()
	if err := store.CreateJob(ctx, job); err != nil {
		return err
	}

	controller := pipeline.NewController(logger, store,
		registry.New(cfg.LLM, logger),
		ingest.StaticFetcher{Text: string(docBytes)},
		cfg.Extraction)
	if err := controller.Run(ctx, job.ID); err != nil {
		return err
	}

	job, err = store.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	results, err := store.ListFieldResults(ctx, job.ID, job.CurrentPass)
	if err != nil {
		return err
	}

	out := map[string]any{
		"job_id":           job.ID,
		"status":           job.Status,
		"results":          results,
		"confidence_score": job.ConfidenceScore,
		"token_usage": map[string]int{
			"prompt":     job.PromptTokens,
			"completion": job.CompletionTokens,
			"total":      job.TotalTokens,
		},
	}
	if job.ErrorMessage != nil {
		out["error_message"] = *job.ErrorMessage
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
