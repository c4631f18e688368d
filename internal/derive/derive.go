// Package derive generates the AVIF derivative set for every extracted
// source image and the document-level previews for PDFs.
//
// Resizing happens in process via imaging; AVIF encoding shells out to
// avifenc and PDF first-page rendering to pdftoppm, both injectable for
// tests. Derivatives are never upscaled: a target width at or above the
// source width keeps the source dimensions.
package derive

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"vellum/internal/fileutil"
	"vellum/internal/inventory"
	"vellum/internal/layout"
	"vellum/internal/logging"
	"vellum/internal/services"
	"vellum/internal/stage"
)

// Runner executes an external tool and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Handler implements the derivative stage.
type Handler struct {
	logger   *slog.Logger
	avifenc  string
	pdftoppm string
	run      Runner
}

// Option customizes the handler.
type Option func(*Handler)

// WithRunner overrides how external tools are invoked (useful for tests).
func WithRunner(run Runner) Option {
	return func(h *Handler) {
		if run != nil {
			h.run = run
		}
	}
}

// NewHandler returns the derivative stage handler. avifenc and pdftoppm name
// the encoder binaries, defaulting to a PATH lookup.
func NewHandler(logger *slog.Logger, avifenc, pdftoppm string, opts ...Option) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	h := &Handler{
		logger:   logger.With(logging.String(logging.FieldComponent, "derive")),
		avifenc:  strings.TrimSpace(avifenc),
		pdftoppm: strings.TrimSpace(pdftoppm),
		run:      execRunner,
	}
	if h.avifenc == "" {
		h.avifenc = "avifenc"
	}
	if h.pdftoppm == "" {
		h.pdftoppm = "pdftoppm"
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Name() string { return "derive" }

func (h *Handler) Eligible(key string, rec inventory.Record) bool {
	if rec.Status() != inventory.StatusDownloaded {
		return false
	}
	return fileutil.IsDir(extractionDir(rec))
}

func (h *Handler) Done(key string, rec inventory.Record) bool {
	return rec.String(inventory.AttrDerivatives) == inventory.StageDone
}

func (h *Handler) Process(ctx context.Context, key string, rec inventory.Record) (inventory.Fields, error) {
	docDir := extractionDir(rec)
	images := layout.ListSourceImages(layout.ImagesDir(docDir))

	handled := 0
	for _, imagePath := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := h.deriveImage(ctx, imagePath); err != nil {
			h.logger.Warn("derivative generation failed",
				logging.String(logging.FieldItemKey, key),
				logging.String("image", imagePath),
				logging.Error(err))
			continue
		}
		handled++
	}

	if strings.EqualFold(filepath.Ext(rec.LocalPath()), ".pdf") {
		if err := h.derivePreviews(ctx, rec.LocalPath(), docDir); err != nil {
			h.logger.Warn("document preview generation failed",
				logging.String(logging.FieldItemKey, key),
				logging.Error(err))
		}
	}

	return inventory.Fields{
		inventory.AttrDerivatives: stage.CompletionStatus(handled, len(images)),
	}, nil
}

// deriveImage produces the full derivative set for one source image. Images
// whose complete set already exists are left untouched.
func (h *Handler) deriveImage(ctx context.Context, imagePath string) error {
	artifactDir := layout.ArtifactDir(imagePath)
	if derivativesComplete(artifactDir) {
		return nil
	}
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return err
	}

	src, err := imaging.Open(imagePath, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode %s: %w", imagePath, err)
	}

	for _, size := range layout.DerivativeSizes() {
		target := layout.DerivativePath(artifactDir, size)
		if fileutil.Exists(target) {
			continue
		}
		if err := h.encodeAVIF(ctx, resizeFor(src, size), target); err != nil {
			return fmt.Errorf("encode %s: %w", size, err)
		}
	}
	return nil
}

// derivePreviews renders the PDF's first page and encodes the document-level
// preview sizes from it.
func (h *Handler) derivePreviews(ctx context.Context, pdfPath, docDir string) error {
	if previewsComplete(docDir) {
		return nil
	}

	renderDir, err := os.MkdirTemp(docDir, ".render-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(renderDir)

	prefix := filepath.Join(renderDir, "page1")
	out, err := h.run(ctx, h.pdftoppm, "-png", "-f", "1", "-l", "1", "-r", "150", "-singlefile", pdfPath, prefix)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "derive", "pdftoppm", strings.TrimSpace(string(out)), err)
	}
	rendered, err := imaging.Open(prefix + ".png")
	if err != nil {
		return fmt.Errorf("decode render: %w", err)
	}

	for _, size := range layout.PreviewSizes() {
		target := layout.DocPreviewPath(docDir, size)
		if fileutil.Exists(target) {
			continue
		}
		if err := h.encodeAVIF(ctx, resizeFor(rendered, size), target); err != nil {
			return fmt.Errorf("encode preview %s: %w", size, err)
		}
	}
	return nil
}

// encodeAVIF writes img losslessly to a scratch PNG and shells out to
// avifenc, replacing target atomically via the encoder's own output then
// rename from the scratch directory.
func (h *Handler) encodeAVIF(ctx context.Context, img image.Image, target string) error {
	scratchDir, err := os.MkdirTemp(filepath.Dir(target), ".avif-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratchDir)

	pngPath := filepath.Join(scratchDir, "frame.png")
	if err := imaging.Save(img, pngPath); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	avifPath := filepath.Join(scratchDir, "frame.avif")
	out, err := h.run(ctx, h.avifenc, "-q", "80", "-s", "6", pngPath, avifPath)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "derive", "avifenc", strings.TrimSpace(string(out)), err)
	}
	return os.Rename(avifPath, target)
}

// resizeFor scales img to the named derivative width, preserving aspect
// ratio. Full and any width at or above the source keep the source as is.
func resizeFor(img image.Image, size string) image.Image {
	width, ok := layout.DerivativeWidths[size]
	if !ok || width >= img.Bounds().Dx() {
		return img
	}
	return imaging.Resize(img, width, 0, imaging.Lanczos)
}

func derivativesComplete(artifactDir string) bool {
	for _, size := range layout.DerivativeSizes() {
		if !fileutil.Exists(layout.DerivativePath(artifactDir, size)) {
			return false
		}
	}
	return true
}

func previewsComplete(docDir string) bool {
	for _, size := range layout.PreviewSizes() {
		if !fileutil.Exists(layout.DocPreviewPath(docDir, size)) {
			return false
		}
	}
	return true
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
