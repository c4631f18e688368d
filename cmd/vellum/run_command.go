package main

import (
	"github.com/spf13/cobra"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var overwrite bool
	var workers int
	var withPublish bool

	cmd := &cobra.Command{
		Use:   "run [root-dir]",
		Short: "Run every stage in dependency order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				if err := applyRootOverride(cfg, args[0]); err != nil {
					return err
				}
			}
			for _, spec := range stageSpecs() {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				if err := runStagePass(cmd, ctx, spec, overwrite, workers, nil); err != nil {
					return err
				}
			}
			if withPublish {
				return runPublishPass(cmd, ctx, false, 0)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Regenerate artifacts that already exist")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel workers per stage pass (default from config)")
	cmd.Flags().BoolVar(&withPublish, "publish", false, "Publish to the remote store after the stages")
	return cmd
}
