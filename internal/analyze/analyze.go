// Package analyze runs visual analysis over every extracted image using a
// local vision model and persists the structured result per image.
//
// Model output that cannot be parsed as JSON is preserved verbatim as
// analysis.txt next to where analysis.json would live, so a later pass (or a
// human) can recover it and the pipeline never wedges on a bad response.
// Legacy flat sidecars (<image>.json, <image>.txt) are migrated into the
// canonical artifact directory before any skip decision is made.
package analyze

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"vellum/internal/fileutil"
	"vellum/internal/inference"
	"vellum/internal/inventory"
	"vellum/internal/layout"
	"vellum/internal/logging"
	"vellum/internal/stage"
)

const analysisPrompt = `Analyze this image and provide a structured analysis in JSON format.
Return a single Valid JSON object with the following keys:
- "type": one of ["document", "photograph", "logo", "diagram", "other", "empty"]
- "has_faces": boolean (true if human faces are clearly visible)
- "objects_detected": list of strings (names of key objects found, empty if none)
- "needs_ocr": boolean (true if significant text is visible that needs extraction)
- "is_empty": boolean (true if the image is blank, solid color, or noise)
- "description": string (a detailed visual description of the content)

Example Output:
{
  "type": "document",
  "has_faces": false,
  "objects_detected": [],
  "needs_ocr": true,
  "is_empty": false,
  "description": "A scanned letter with handwritten signatures."
}`

// Analysis is the structured result stored as analysis.json.
type Analysis struct {
	Type            string   `json:"type"`
	HasFaces        bool     `json:"has_faces"`
	ObjectsDetected []string `json:"objects_detected"`
	NeedsOCR        bool     `json:"needs_ocr"`
	IsEmpty         bool     `json:"is_empty"`
	Description     string   `json:"description"`
}

// VisionClient is the inference surface the stage needs.
type VisionClient interface {
	CompleteVision(ctx context.Context, prompt, imagePath string) (string, error)
}

// Handler implements the visual-analysis stage.
type Handler struct {
	logger    *slog.Logger
	client    VisionClient
	overwrite bool
}

// NewHandler returns the analysis stage handler. overwrite forces existing
// per-image analyses to be regenerated.
func NewHandler(logger *slog.Logger, client VisionClient, overwrite bool) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		logger:    logger.With(logging.String(logging.FieldComponent, "analyze")),
		client:    client,
		overwrite: overwrite,
	}
}

func (h *Handler) Name() string { return "analyze" }

func (h *Handler) Eligible(key string, rec inventory.Record) bool {
	if rec.Status() != inventory.StatusDownloaded {
		return false
	}
	return fileutil.IsDir(extractionDir(rec))
}

func (h *Handler) Done(key string, rec inventory.Record) bool {
	return rec.String(inventory.AttrAnalysis) == inventory.StageDone
}

func (h *Handler) Process(ctx context.Context, key string, rec inventory.Record) (inventory.Fields, error) {
	imagesDir := layout.ImagesDir(extractionDir(rec))
	images := layout.ListSourceImages(imagesDir)

	handled := 0
	for _, imagePath := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if h.analyzeImage(ctx, key, imagePath) {
			handled++
		}
	}

	return inventory.Fields{
		inventory.AttrAnalysis: stage.CompletionStatus(handled, len(images)),
	}, nil
}

// analyzeImage produces analysis.json for one image, reporting whether a
// structured analysis now exists for it.
func (h *Handler) analyzeImage(ctx context.Context, key, imagePath string) bool {
	artifactDir := layout.ArtifactDir(imagePath)

	if migrated, err := layout.MigrateLegacySidecars(imagePath); err != nil {
		h.logger.Warn("legacy sidecar migration failed",
			logging.String("image", imagePath), logging.Error(err))
	} else if migrated > 0 {
		h.logger.Info("migrated legacy sidecars",
			logging.String("image", imagePath), logging.Int("count", migrated))
	}

	jsonPath := layout.AnalysisPath(artifactDir)
	if fileutil.Exists(jsonPath) && !h.overwrite {
		return true
	}
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		h.logger.Error("creating artifact dir failed",
			logging.String("image", imagePath), logging.Error(err))
		return false
	}

	content, err := h.client.CompleteVision(ctx, analysisPrompt, imagePath)
	if err != nil {
		h.logger.Warn("image analysis failed",
			logging.String(logging.FieldItemKey, key),
			logging.String("image", imagePath),
			logging.Error(err))
		return false
	}

	var analysis Analysis
	if err := inference.DecodeModelJSON(content, &analysis); err != nil {
		rawPath := layout.AnalysisRawPath(artifactDir)
		h.logger.Warn("unparsable analysis, keeping raw response",
			logging.String("image", imagePath),
			logging.String("raw_path", rawPath),
			logging.Error(err))
		if werr := fileutil.WriteFileAtomic(rawPath, []byte(strings.TrimSpace(content)+"\n"), 0o644); werr != nil {
			h.logger.Error("writing raw analysis failed",
				logging.String("image", imagePath), logging.Error(werr))
		}
		return false
	}
	if analysis.ObjectsDetected == nil {
		analysis.ObjectsDetected = []string{}
	}

	if err := fileutil.WriteJSONAtomic(jsonPath, analysis); err != nil {
		h.logger.Error("writing analysis failed",
			logging.String("image", imagePath), logging.Error(err))
		return false
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
