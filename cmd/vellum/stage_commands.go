package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vellum/internal/analyze"
	"vellum/internal/classify"
	"vellum/internal/config"
	"vellum/internal/derive"
	"vellum/internal/evaluate"
	"vellum/internal/extract"
	"vellum/internal/faces"
	"vellum/internal/inference"
	"vellum/internal/inventory"
	"vellum/internal/ocr"
	"vellum/internal/stage"
)

// stageSpec binds a subcommand to its handler constructor. Specs are listed
// in dependency order; the run command executes them in this order.
type stageSpec struct {
	name  string
	short string
	build func(cfg *config.Config, logger *slog.Logger, overwrite bool) stage.Handler
}

func stageSpecs() []stageSpec {
	return []stageSpec{
		{
			name:  "classify",
			short: "Classify downloaded files by text content",
			build: func(cfg *config.Config, logger *slog.Logger, overwrite bool) stage.Handler {
				return classify.NewHandler(logger)
			},
		},
		{
			name:  "extract",
			short: "Extract text and images from downloaded files",
			build: func(cfg *config.Config, logger *slog.Logger, overwrite bool) stage.Handler {
				return extract.NewHandler(logger)
			},
		},
		{
			name:  "derive",
			short: "Generate resized derivatives and document previews",
			build: func(cfg *config.Config, logger *slog.Logger, overwrite bool) stage.Handler {
				return derive.NewHandler(logger, cfg.Tools.Avifenc, cfg.Tools.Pdftoppm)
			},
		},
		{
			name:  "analyze",
			short: "Run visual analysis over extracted images",
			build: func(cfg *config.Config, logger *slog.Logger, overwrite bool) stage.Handler {
				return analyze.NewHandler(logger, analysisClient(cfg), overwrite)
			},
		},
		{
			name:  "evaluate",
			short: "Score extracted images for photo likelihood",
			build: func(cfg *config.Config, logger *slog.Logger, overwrite bool) stage.Handler {
				return evaluate.NewHandler(logger)
			},
		},
		{
			name:  "faces",
			short: "Detect faces in analyzed images",
			build: func(cfg *config.Config, logger *slog.Logger, overwrite bool) stage.Handler {
				client := inference.NewClient(inference.Config{
					Endpoint:       cfg.Inference.Endpoint,
					Model:          cfg.Inference.FaceModel,
					TimeoutSeconds: cfg.Inference.TimeoutSeconds,
				})
				return faces.NewHandler(logger, client, overwrite)
			},
		},
		{
			name:  "ocr",
			short: "Transcribe flagged images and scanned documents",
			build: func(cfg *config.Config, logger *slog.Logger, overwrite bool) stage.Handler {
				client := inference.NewClient(inference.Config{
					Endpoint:       cfg.Inference.Endpoint,
					Model:          cfg.Inference.OCRModel,
					TimeoutSeconds: cfg.Inference.TimeoutSeconds,
				})
				return ocr.NewHandler(logger, client, cfg.Tools.Pdftoppm, overwrite)
			},
		},
	}
}

func analysisClient(cfg *config.Config) *inference.Client {
	return inference.NewClient(inference.Config{
		Endpoint:       cfg.Inference.Endpoint,
		Model:          cfg.Inference.AnalysisModel,
		TimeoutSeconds: cfg.Inference.TimeoutSeconds,
	})
}

func newStageCommands(ctx *commandContext) []*cobra.Command {
	commands := make([]*cobra.Command, 0, len(stageSpecs()))
	for _, spec := range stageSpecs() {
		commands = append(commands, newStageCommand(ctx, spec))
	}
	return commands
}

func newStageCommand(ctx *commandContext, spec stageSpec) *cobra.Command {
	var overwrite bool
	var workers int

	cmd := &cobra.Command{
		Use:   spec.name + " [root-dir]",
		Short: spec.short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStagePass(cmd, ctx, spec, overwrite, workers, args)
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Regenerate artifacts that already exist")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel workers for this pass (default from config)")
	return cmd
}

// runStagePass drives one handler over the full inventory. Per-item failures
// are reflected in the summary, not the exit code; only configuration errors
// fail the command.
func runStagePass(cmd *cobra.Command, ctx *commandContext, spec stageSpec, overwrite bool, workers int, args []string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		if err := applyRootOverride(cfg, args[0]); err != nil {
			return err
		}
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return err
	}
	store, err := ctx.openStore()
	if err != nil {
		return err
	}

	if workers <= 0 {
		workers = cfg.Pipeline.Workers
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	writer := inventory.NewWriter(store)
	defer writer.Close()

	summary, err := stage.Run(runCtx, store.Load(), spec.build(cfg, logger, overwrite), stage.Options{
		Logger:    logger,
		Writer:    writer,
		Overwrite: overwrite,
		Workers:   workers,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d eligible, %d processed, %d skipped, %d failed\n",
		spec.name, summary.Eligible, summary.Processed, summary.Skipped, summary.Failed)
	return nil
}
