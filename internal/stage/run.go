// Package stage drives one idempotent processing pass over the item corpus.
//
// Run applies a Handler to every eligible item with bounded parallelism.
// A single item's failure never aborts the pass: it is logged, counted, and
// the pass moves on. Inventory updates from workers are serialized through
// the single-writer queue.
package stage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"vellum/internal/inventory"
	"vellum/internal/logging"
)

// Handler describes the contract the stage driver needs from each stage.
type Handler interface {
	// Name identifies the stage in logs and status attributes.
	Name() string
	// Eligible reports whether the item should be considered at all.
	Eligible(key string, rec inventory.Record) bool
	// Done reports whether the canonical artifacts already exist. Done items
	// are skipped unless the pass runs with Overwrite.
	Done(key string, rec inventory.Record) bool
	// Process performs the stage's side effects for one item and returns the
	// attribute fields to merge into the item's record, or nil when nothing
	// changed.
	Process(ctx context.Context, key string, rec inventory.Record) (inventory.Fields, error)
}

// Options controls a stage pass.
type Options struct {
	Logger    *slog.Logger
	Writer    *inventory.Writer
	Overwrite bool
	Workers   int
}

// Summary aggregates the outcome of a stage pass.
type Summary struct {
	Eligible  int
	Processed int
	Skipped   int
	Failed    int
}

// Run executes one pass of handler over items. Items are visited in key
// order so repeated passes walk the corpus deterministically.
func Run(ctx context.Context, items inventory.Inventory, handler Handler, opts Options) (Summary, error) {
	if handler == nil {
		return Summary{}, fmt.Errorf("stage handler is required")
	}
	if opts.Writer == nil {
		return Summary{}, fmt.Errorf("inventory writer is required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	stageCtx := logging.WithStage(ctx, handler.Name())
	logger := logging.WithContext(stageCtx, logging.NewComponentLogger(opts.Logger, handler.Name()))

	keys := make([]string, 0, len(items))
	for key := range items {
		if handler.Eligible(key, items[key]) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	logger.Info("stage pass started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("eligible", len(keys)),
		logging.Int("workers", workers),
		logging.Bool("overwrite", opts.Overwrite),
	)

	var (
		mu      sync.Mutex
		summary = Summary{Eligible: len(keys)}
	)

	group, groupCtx := errgroup.WithContext(stageCtx)
	group.SetLimit(workers)
	for _, key := range keys {
		key := key
		rec := items[key]
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			outcome := runItem(groupCtx, logger, handler, opts, key, rec)
			mu.Lock()
			switch outcome {
			case outcomeProcessed:
				summary.Processed++
			case outcomeSkipped:
				summary.Skipped++
			case outcomeFailed:
				summary.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return summary, err
	}

	logger.Info("stage pass complete",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int("processed", summary.Processed),
		logging.Int("skipped", summary.Skipped),
		logging.Int("failed", summary.Failed),
	)
	return summary, nil
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeFailed
)

func runItem(ctx context.Context, logger *slog.Logger, handler Handler, opts Options, key string, rec inventory.Record) outcome {
	itemCtx := logging.WithItemKey(ctx, key)
	itemLogger := logging.WithContext(itemCtx, logger)

	if handler.Done(key, rec) && !opts.Overwrite {
		itemLogger.Debug("artifact present, skipping")
		return outcomeSkipped
	}

	fields, err := handler.Process(itemCtx, key, rec)
	if err != nil {
		itemLogger.Error("item failed",
			logging.String(logging.FieldEventType, "item_failure"),
			logging.Error(err),
		)
		return outcomeFailed
	}

	if len(fields) > 0 {
		if err := opts.Writer.Merge(key, fields); err != nil {
			itemLogger.Error("failed to persist item update", logging.Error(err))
			return outcomeFailed
		}
	}
	return outcomeProcessed
}

// CompletionStatus returns the stage status to record after a pass over an
// item's sub-units: done when every unit was handled, partial otherwise.
func CompletionStatus(handled, total int) string {
	if total > 0 && handled < total {
		return inventory.StagePartial
	}
	return inventory.StageDone
}
