package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"vellum/internal/config"
	"vellum/internal/deps"
	"vellum/internal/inventory"
	"vellum/internal/logging"
	"vellum/internal/staleness"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize pipeline progress across the corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			items := store.Load()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Corpus root: %s\n", cfg.Paths.RootDir)
			fmt.Fprintln(out, renderTable(
				[]string{"Status", "Items"},
				statusRows(items),
			))
			fmt.Fprintln(out, renderTable(
				[]string{"Stage", "Done", "Partial", "Pending"},
				stageRows(items),
			))

			state := staleness.LoadSyncState(cfg.Paths.SyncStatePath, logging.NewNop())
			fmt.Fprintln(out, renderTable(
				[]string{"Published", "Entities"},
				[][]string{
					{"documents", strconv.Itoa(state.Count(staleness.KindDocuments))},
					{"images", strconv.Itoa(state.Count(staleness.KindImages))},
					{"faces", strconv.Itoa(state.Count(staleness.KindFaces))},
				},
			))
			fmt.Fprintln(out, renderTable(
				[]string{"Tool", "Available", "Detail"},
				toolRows(cfg),
			))
			return nil
		},
	}
}

func toolRows(cfg *config.Config) [][]string {
	statuses := deps.CheckBinaries(deps.Requirements(cfg))
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		available := "yes"
		if !st.Available {
			available = "no"
		}
		rows = append(rows, []string{st.Name, available, st.Detail})
	}
	return rows
}

func statusRows(items inventory.Inventory) [][]string {
	counts := map[inventory.Status]int{}
	for _, rec := range items {
		counts[rec.Status()]++
	}
	return [][]string{
		{"pending", strconv.Itoa(counts[inventory.StatusPending])},
		{"downloaded", strconv.Itoa(counts[inventory.StatusDownloaded])},
		{"failed", strconv.Itoa(counts[inventory.StatusFailed])},
		{"total", strconv.Itoa(len(items))},
	}
}

func stageRows(items inventory.Inventory) [][]string {
	stages := []struct {
		name string
		attr string
	}{
		{"classify", inventory.AttrClassification},
		{"extract", inventory.AttrExtraction},
		{"derive", inventory.AttrDerivatives},
		{"analyze", inventory.AttrAnalysis},
		{"evaluate", inventory.AttrEvaluation},
		{"faces", inventory.AttrFaces},
		{"ocr", inventory.AttrOCR},
	}

	downloaded := 0
	for _, rec := range items {
		if rec.Status() == inventory.StatusDownloaded {
			downloaded++
		}
	}

	rows := make([][]string, 0, len(stages))
	for _, st := range stages {
		done, partial := 0, 0
		for _, rec := range items {
			if rec.Status() != inventory.StatusDownloaded {
				continue
			}
			switch rec.String(st.attr) {
			case "":
			case inventory.StagePartial:
				partial++
			default:
				// classify stores the class itself rather than a done
				// marker; any value means the stage ran.
				done++
			}
		}
		rows = append(rows, []string{
			st.name,
			strconv.Itoa(done),
			strconv.Itoa(partial),
			strconv.Itoa(downloaded - done - partial),
		})
	}
	return rows
}
