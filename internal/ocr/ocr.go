// Package ocr transcribes text out of images and scanned documents using a
// local OCR model.
//
// Two artifact kinds are produced: a per-image ocr.md for every extracted
// image whose visual analysis flagged visible text, and a document-level
// ocr.md for scanned PDFs, assembled page by page from pdftoppm renders.
// Model output is stored verbatim; pages that fail keep a failure marker so
// the transcript stays aligned with the document.
package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"vellum/internal/analyze"
	"vellum/internal/classify"
	"vellum/internal/fileutil"
	"vellum/internal/inventory"
	"vellum/internal/layout"
	"vellum/internal/logging"
	"vellum/internal/services"
	"vellum/internal/stage"
)

const imagePrompt = "Extract and transcribe all visible text from this image as accurately as possible, line by line, including any handwritten parts. Preserve reading order and structure."

const pagePrompt = `You are an expert document OCR transcriber. Transcribe the entire page content exactly as Markdown. Preserve:
- Reading order
- Headings (# ## ###)
- Tables (use markdown | syntax)
- Lists (- or 1.)
- Bold/italics if present
- Equations as LaTeX if math
- Layout structure as best as possible
Output ONLY the clean Markdown, no explanations.`

// Runner executes an external tool and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// VisionClient is the inference surface the stage needs.
type VisionClient interface {
	CompleteVision(ctx context.Context, prompt, imagePath string) (string, error)
}

// Handler implements the OCR stage.
type Handler struct {
	logger    *slog.Logger
	client    VisionClient
	pdftoppm  string
	run       Runner
	overwrite bool
}

// Option customizes the handler.
type Option func(*Handler)

// WithRunner overrides how pdftoppm is invoked (useful for tests).
func WithRunner(run Runner) Option {
	return func(h *Handler) {
		if run != nil {
			h.run = run
		}
	}
}

// NewHandler returns the OCR stage handler.
func NewHandler(logger *slog.Logger, client VisionClient, pdftoppm string, overwrite bool, opts ...Option) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	h := &Handler{
		logger:    logger.With(logging.String(logging.FieldComponent, "ocr")),
		client:    client,
		pdftoppm:  strings.TrimSpace(pdftoppm),
		run:       execRunner,
		overwrite: overwrite,
	}
	if h.pdftoppm == "" {
		h.pdftoppm = "pdftoppm"
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Name() string { return "ocr" }

func (h *Handler) Eligible(key string, rec inventory.Record) bool {
	if rec.Status() != inventory.StatusDownloaded {
		return false
	}
	return fileutil.IsDir(extractionDir(rec))
}

func (h *Handler) Done(key string, rec inventory.Record) bool {
	return rec.String(inventory.AttrOCR) == inventory.StageDone
}

func (h *Handler) Process(ctx context.Context, key string, rec inventory.Record) (inventory.Fields, error) {
	docDir := extractionDir(rec)
	imagesDir := layout.ImagesDir(docDir)

	total, handled := 0, 0
	for _, artifactDir := range layout.ListArtifactDirs(imagesDir) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !needsOCR(artifactDir) {
			continue
		}
		total++
		if h.transcribeImage(ctx, key, artifactDir) {
			handled++
		}
	}

	if rec.Classification() == classify.ClassScanned && strings.EqualFold(filepath.Ext(rec.LocalPath()), ".pdf") {
		total++
		if h.transcribeDocument(ctx, key, rec.LocalPath(), docDir, rec.Int(inventory.AttrPageCount)) {
			handled++
		}
	}

	return inventory.Fields{
		inventory.AttrOCR: stage.CompletionStatus(handled, total),
	}, nil
}

func (h *Handler) transcribeImage(ctx context.Context, key, artifactDir string) bool {
	ocrPath := layout.ImageOCRPath(artifactDir)
	if fileutil.Exists(ocrPath) && !h.overwrite {
		return true
	}

	// Prefer the original source image; fall back to the full derivative
	// when the source was cleaned up.
	source, ok := layout.SourceImageFor(artifactDir)
	if !ok {
		full := layout.DerivativePath(artifactDir, layout.SizeFull)
		if !fileutil.Exists(full) {
			h.logger.Warn("no image available for transcription",
				logging.String("artifact_dir", artifactDir))
			return false
		}
		source = full
	}

	content, err := h.client.CompleteVision(ctx, imagePrompt, source)
	if err != nil {
		h.logger.Warn("image transcription failed",
			logging.String(logging.FieldItemKey, key),
			logging.String("image", source),
			logging.Error(err))
		return false
	}
	if err := fileutil.WriteFileAtomic(ocrPath, []byte(strings.TrimSpace(content)+"\n"), 0o644); err != nil {
		h.logger.Error("writing transcription failed",
			logging.String("image", source), logging.Error(err))
		return false
	}
	return true
}

// transcribeDocument renders every page of a scanned PDF and assembles the
// per-page transcriptions into one markdown transcript.
func (h *Handler) transcribeDocument(ctx context.Context, key, pdfPath, docDir string, pageCount int) bool {
	ocrPath := layout.DocOCRPath(docDir)
	if fileutil.Exists(ocrPath) && !h.overwrite {
		return true
	}

	if pageCount <= 0 {
		count, err := api.PageCountFile(pdfPath)
		if err != nil {
			h.logger.Warn("page count failed",
				logging.String("path", pdfPath), logging.Error(err))
			return false
		}
		pageCount = count
	}
	if pageCount == 0 {
		return false
	}

	renderDir, err := os.MkdirTemp(docDir, ".ocr-*")
	if err != nil {
		h.logger.Error("creating render dir failed", logging.Error(err))
		return false
	}
	defer os.RemoveAll(renderDir)

	var transcript strings.Builder
	failedPages := 0
	for page := 1; page <= pageCount; page++ {
		if err := ctx.Err(); err != nil {
			return false
		}
		text, err := h.transcribePage(ctx, pdfPath, renderDir, page)
		if err != nil {
			failedPages++
			h.logger.Warn("page transcription failed",
				logging.String(logging.FieldItemKey, key),
				logging.Int("page", page),
				logging.Error(err))
			text = "[OCR Failed]"
		}
		fmt.Fprintf(&transcript, "## Page %d\n\n%s\n\n---\n\n", page, strings.TrimSpace(text))
	}
	if failedPages == pageCount {
		// Nothing succeeded: leave no transcript so the next pass retries.
		return false
	}

	if err := fileutil.WriteFileAtomic(ocrPath, []byte(transcript.String()), 0o644); err != nil {
		h.logger.Error("writing transcript failed",
			logging.String("path", ocrPath), logging.Error(err))
		return false
	}
	return true
}

func (h *Handler) transcribePage(ctx context.Context, pdfPath, renderDir string, page int) (string, error) {
	prefix := filepath.Join(renderDir, "page"+strconv.Itoa(page))
	n := strconv.Itoa(page)
	out, err := h.run(ctx, h.pdftoppm, "-png", "-f", n, "-l", n, "-r", "150", "-singlefile", pdfPath, prefix)
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, "ocr", "pdftoppm", strings.TrimSpace(string(out)), err)
	}
	return h.client.CompleteVision(ctx, pagePrompt, prefix+".png")
}

func needsOCR(artifactDir string) bool {
	data, err := os.ReadFile(layout.AnalysisPath(artifactDir))
	if err != nil {
		return false
	}
	var analysis analyze.Analysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		return false
	}
	return analysis.NeedsOCR
}

func extractionDir(rec inventory.Record) string {
	if dir := rec.ExtractionDir(); dir != "" {
		return dir
	}
	if local := rec.LocalPath(); local != "" {
		return layout.DocDir(local)
	}
	return ""
}
