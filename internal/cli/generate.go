package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"qmaster-service/internal/app"
	"qmaster-service/internal/config"
	"qmaster-service/internal/domain"
	"qmaster-service/internal/generator"
)

// NewGenerateCmd runs extraction and generation on a local file and prints the valid items.
func NewGenerateCmd(configPath *string) *cobra.Command {
	var (
		subject string
		params  = domain.DefaultGenerationParams()
	)
	cmd := &cobra.Command{
		Use:   "generate <file>",
		Short: "Generate questions from a local .pdf or .txt file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			kind := domain.SourceText
			if strings.EqualFold(filepath.Ext(args[0]), ".pdf") {
				kind = domain.SourcePDF
			}

			ctx := cmd.Context()
			text, err := generator.Extractor{MaxWords: cfg.Jobs.MaxWords}.Extract(ctx, kind, payload)
			if err != nil {
				return err
			}
			gen, err := newGenerator(ctx, cfg, logger)
			if err != nil {
				return err
			}
			items, err := gen.Generate(ctx, app.GenerationRequest{
				JobID:   uuid.NewString(),
				Subject: subject,
				Text:    text,
				Params:  params,
			})
			if err != nil {
				return fmt.Errorf("generate: %w", err)
			}

			valid := make([]domain.QuestionItem, 0, len(items))
			for _, item := range items {
				item.Subject = subject
				if item.Valid() {
					valid = append(valid, item)
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(valid)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "General", "subject stamped on the generated items")
	cmd.Flags().IntVar(&params.NumMCQ, "mcqs", params.NumMCQ, "number of multiple-choice questions")
	cmd.Flags().IntVar(&params.NumDescriptive, "descriptive", params.NumDescriptive, "number of descriptive questions")
	return cmd
}
