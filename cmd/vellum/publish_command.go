package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vellum/internal/project"
	"vellum/internal/publish"
	"vellum/internal/remote/firebase"
	"vellum/internal/staleness"
)

func newPublishCommand(ctx *commandContext) *cobra.Command {
	var force bool
	var batchSize int

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Push changed entities to the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublishPass(cmd, ctx, force, batchSize)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Republish every entity regardless of the sync checkpoint")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Records per remote batch commit (default from config)")
	return cmd
}

func runPublishPass(cmd *cobra.Command, ctx *commandContext, force bool, batchSize int) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidatePublish(); err != nil {
		return err
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return err
	}
	store, err := ctx.openStore()
	if err != nil {
		return err
	}

	if batchSize <= 0 {
		batchSize = cfg.Publish.BatchSize
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	remoteStore, err := firebase.New(runCtx, firebase.Config{
		ProjectID:       cfg.Publish.ProjectID,
		Bucket:          cfg.Publish.Bucket,
		CredentialsPath: cfg.Publish.CredentialsPath,
		PlainVectors:    !cfg.Publish.VectorSearch,
	})
	if err != nil {
		return fmt.Errorf("connect remote store: %w", err)
	}
	defer remoteStore.Close()

	syncer := publish.New(publish.Options{
		Logger:    logger,
		Store:     remoteStore,
		State:     staleness.LoadSyncState(cfg.Paths.SyncStatePath, logger),
		Projector: project.New(logger, cfg.Pipeline.PhotosOnly),
		KeyPrefix: cfg.Publish.KeyPrefix,
		BatchSize: batchSize,
		Force:     force,
	})
	summary, err := syncer.Run(runCtx, store.Load())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"publish: %d documents, %d images, %d faces, %d blobs uploaded, %d commits, %d skipped, %d failed\n",
		summary.Documents, summary.Images, summary.Faces,
		summary.Uploads, summary.Commits, summary.Skipped, summary.Failed)
	return nil
}
