// Package classify inspects downloaded files and records what kind of
// document each one is. PDFs are sampled for text volume to separate born
// digital documents from page scans; everything else is marked "other".
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"vellum/internal/fileutil"
	"vellum/internal/inventory"
	"vellum/internal/logging"
)

// Document classifications recorded in the inventory.
const (
	ClassText    = "text"
	ClassScanned = "scanned"
	ClassMixed   = "mixed"
	ClassOther   = "other"
)

const (
	// Pages sampled per PDF. Text volume stabilizes after a few pages and
	// large scans are expensive to walk fully.
	samplePages = 5
	// Minimum average characters per page for a page to count as texty.
	textPerPageThreshold = 50
)

// Handler implements the classification stage.
type Handler struct {
	logger *slog.Logger
}

// NewHandler returns the classification stage handler.
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{logger: logger.With(logging.String(logging.FieldComponent, "classify"))}
}

func (h *Handler) Name() string { return "classify" }

func (h *Handler) Eligible(key string, rec inventory.Record) bool {
	if rec.Status() != inventory.StatusDownloaded {
		return false
	}
	return fileutil.Exists(rec.LocalPath())
}

func (h *Handler) Done(key string, rec inventory.Record) bool {
	return rec.Classification() != ""
}

func (h *Handler) Process(ctx context.Context, key string, rec inventory.Record) (inventory.Fields, error) {
	localPath := rec.LocalPath()
	if strings.ToLower(filepath.Ext(localPath)) != ".pdf" {
		return inventory.Fields{inventory.AttrClassification: ClassOther}, nil
	}

	result, err := analyzePDF(ctx, localPath)
	if err != nil {
		return nil, fmt.Errorf("classify %s: %w", localPath, err)
	}
	h.logger.Debug("classified document",
		logging.String(logging.FieldItemKey, key),
		logging.String("classification", result.Classification),
		logging.Int("page_count", result.PageCount))
	return inventory.Fields{
		inventory.AttrClassification: result.Classification,
		inventory.AttrPageCount:      result.PageCount,
		inventory.AttrAvgTextPerPage: result.AvgTextPerPage,
	}, nil
}

// Result captures the PDF analysis merged into the item record.
type Result struct {
	PageCount      int
	Classification string
	AvgTextPerPage float64
}

func analyzePDF(ctx context.Context, path string) (Result, error) {
	var result Result
	pageCount, err := api.PageCountFile(path)
	if err != nil {
		return result, fmt.Errorf("page count: %w", err)
	}
	result.PageCount = pageCount
	if err := ctx.Err(); err != nil {
		return result, err
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		// A page count but unreadable text layer means there is no text
		// layer worth extracting: treat as a scan.
		result.Classification = ClassScanned
		return result, nil
	}
	defer f.Close()

	pagesToCheck := min(samplePages, pageCount)
	if pagesToCheck == 0 {
		result.Classification = ClassScanned
		return result, nil
	}

	var totalText, textyPages int
	for i := 1; i <= pagesToCheck; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		n := len(strings.TrimSpace(text))
		totalText += n
		if n >= textPerPageThreshold {
			textyPages++
		}
	}

	result.AvgTextPerPage = float64(totalText) / float64(pagesToCheck)
	switch {
	case textyPages == pagesToCheck && result.AvgTextPerPage > textPerPageThreshold:
		result.Classification = ClassText
	case textyPages == 0:
		result.Classification = ClassScanned
	default:
		result.Classification = ClassMixed
	}
	return result, nil
}
