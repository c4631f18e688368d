package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRepairCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Salvage and rewrite the inventory file",
		Long: "Re-reads the inventory, applying the corrupt-file salvage path if " +
			"needed, and writes a clean copy back. A corrupt original is preserved " +
			"as a backup beforehand.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			items := store.Load()
			if err := store.Save(items); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Inventory rewritten with %d items at %s\n",
				len(items), store.Path())
			return nil
		},
	}
}
