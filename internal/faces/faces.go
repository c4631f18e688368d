// Package faces runs face detection over images whose visual analysis
// reported visible faces, persisting the detections as faces.json.
//
// An image with no detected faces still gets an empty faces.json so the
// stage does not revisit it on the next pass. Unparsable model output is
// kept verbatim as faces.txt.
package faces

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"vellum/internal/analyze"
	"vellum/internal/fileutil"
	"vellum/internal/inference"
	"vellum/internal/inventory"
	"vellum/internal/layout"
	"vellum/internal/logging"
	"vellum/internal/stage"
)

const detectionPrompt = `Detect every human face in this image.
Return a single valid JSON array (no prose). Each element describes one face:
- "bbox": [x1, y1, x2, y2] pixel coordinates of the face bounding box
- "kps": five [x, y] landmark points in order: left eye, right eye, nose, left mouth corner, right mouth corner
- "det_score": float between 0 and 1, detection confidence
- "embedding": list of floats, the face feature vector (empty list if unavailable)
- "age": integer estimated age
- "gender": integer, 1 for male, 0 for female
Return [] if no face is clearly visible.`

// Face is one detection as stored in faces.json.
type Face struct {
	BBox      []float64   `json:"bbox"`
	Kps       [][]float64 `json:"kps"`
	DetScore  float64     `json:"det_score"`
	Embedding []float64   `json:"embedding"`
	Age       int         `json:"age"`
	Gender    int         `json:"gender"`
}

// VisionClient is the inference surface the stage needs.
type VisionClient interface {
	CompleteVision(ctx context.Context, prompt, imagePath string) (string, error)
}

// Handler implements the face-detection stage.
type Handler struct {
	logger    *slog.Logger
	client    VisionClient
	overwrite bool
}

// NewHandler returns the face-detection stage handler.
func NewHandler(logger *slog.Logger, client VisionClient, overwrite bool) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		logger:    logger.With(logging.String(logging.FieldComponent, "faces")),
		client:    client,
		overwrite: overwrite,
	}
}

func (h *Handler) Name() string { return "faces" }

func (h *Handler) Eligible(key string, rec inventory.Record) bool {
	if rec.Status() != inventory.StatusDownloaded {
		return false
	}
	return fileutil.IsDir(extractionDir(rec))
}

func (h *Handler) Done(key string, rec inventory.Record) bool {
	return rec.String(inventory.AttrFaces) == inventory.StageDone
}

func (h *Handler) Process(ctx context.Context, key string, rec inventory.Record) (inventory.Fields, error) {
	imagesDir := layout.ImagesDir(extractionDir(rec))

	total, handled := 0, 0
	for _, artifactDir := range layout.ListArtifactDirs(imagesDir) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		analysis, ok := readAnalysis(artifactDir)
		if !ok || !analysis.HasFaces {
			continue
		}
		total++
		if h.detectFaces(ctx, key, artifactDir) {
			handled++
		}
	}

	return inventory.Fields{
		inventory.AttrFaces: stage.CompletionStatus(handled, total),
	}, nil
}

// detectFaces produces faces.json for one artifact dir, reporting whether a
// detection result now exists.
func (h *Handler) detectFaces(ctx context.Context, key, artifactDir string) bool {
	facesPath := layout.FacesPath(artifactDir)
	if fileutil.Exists(facesPath) && !h.overwrite {
		return true
	}

	source, ok := layout.SourceImageFor(artifactDir)
	if !ok {
		h.logger.Warn("no source image for face detection",
			logging.String("artifact_dir", artifactDir))
		return false
	}

	content, err := h.client.CompleteVision(ctx, detectionPrompt, source)
	if err != nil {
		h.logger.Warn("face detection failed",
			logging.String(logging.FieldItemKey, key),
			logging.String("image", source),
			logging.Error(err))
		return false
	}

	var detections []Face
	if err := inference.DecodeModelJSON(content, &detections); err != nil {
		rawPath := filepath.Join(artifactDir, "faces.txt")
		h.logger.Warn("unparsable face detections, keeping raw response",
			logging.String("image", source),
			logging.String("raw_path", rawPath),
			logging.Error(err))
		if werr := fileutil.WriteFileAtomic(rawPath, []byte(strings.TrimSpace(content)+"\n"), 0o644); werr != nil {
			h.logger.Error("writing raw detections failed",
				logging.String("image", source), logging.Error(werr))
		}
		return false
	}
	if detections == nil {
		detections = []Face{}
	}

	if err := fileutil.WriteJSONAtomic(facesPath, detections); err != nil {
		h.logger.Error("writing detections failed",
			logging.String("image", source), logging.Error(err))
		return false
	}
	h.logger.Debug("detected faces",
		logging.String("image", source),
		logging.Int("count", len(detections)))
	return true
}

func readAnalysis(artifactDir string) (analyze.Analysis, bool) {
	var analysis analyze.Analysis
	data, err := os.ReadFile(layout.AnalysisPath(artifactDir))
	if err != nil {
		return analysis, false
	}
	if err := json.Unmarshal(data, &analysis); err != nil {
		return analysis, false
	}
	return analysis, true
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
