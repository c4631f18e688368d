package project

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"vellum/internal/analyze"
	"vellum/internal/evaluate"
	"vellum/internal/extract"
	"vellum/internal/faces"
	"vellum/internal/fileutil"
	"vellum/internal/inventory"
	"vellum/internal/layout"
	"vellum/internal/logging"
	"vellum/internal/staleness"
)

// Projector derives publishable entities from the artifact tree.
type Projector struct {
	logger *slog.Logger
	// photosOnly restricts Image projection to images evaluated as likely
	// photographs. Scanned documents produce mostly text-block rasters that
	// would otherwise flood the remote image collection.
	photosOnly bool
}

// New returns a projector.
func New(logger *slog.Logger, photosOnly bool) *Projector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Projector{
		logger:     logger.With(logging.String(logging.FieldComponent, "project")),
		photosOnly: photosOnly,
	}
}

// Document projects the document entity for one inventory item, or false
// when the item is not yet publishable (not downloaded, or required previews
// missing).
func (p *Projector) Document(key string, rec inventory.Record) (Document, bool) {
	var doc Document
	if rec.Status() != inventory.StatusDownloaded {
		return doc, false
	}
	local := rec.LocalPath()
	if !fileutil.Exists(local) {
		return doc, false
	}
	docDir := extractionDir(rec)

	previews := make(map[string]string, len(layout.PreviewSizes()))
	for _, size := range layout.PreviewSizes() {
		path := layout.DocPreviewPath(docDir, size)
		if !fileutil.Exists(path) {
			return doc, false
		}
		previews[size] = path
	}

	doc = Document{
		ID:             layout.Stem(local),
		Key:            key,
		Title:          rec.Title(),
		Classification: rec.Classification(),
		PageCount:      rec.Int(inventory.AttrPageCount),
		SourcePath:     local,
		Previews:       previews,
	}
	deps := []string{local}
	for _, path := range previews {
		deps = append(deps, path)
	}
	if info, ok := readInfo(layout.InfoPath(docDir)); ok {
		doc.Info = info
		if info.Title != "" {
			doc.Title = info.Title
		}
		if doc.PageCount == 0 {
			doc.PageCount = info.PageCount
		}
		deps = append(deps, layout.InfoPath(docDir))
	}
	if path := layout.ContentPath(docDir); fileutil.Exists(path) {
		doc.ContentPath = path
		deps = append(deps, path)
	}
	if path := layout.DocOCRPath(docDir); fileutil.Exists(path) {
		doc.OCRPath = path
		deps = append(deps, path)
	}
	doc.Fingerprint = staleness.Fingerprint(deps)
	return doc, true
}

// Images projects the image entities under a document. Images without an
// evaluation artifact are withheld; with photosOnly set, so are images not
// evaluated as likely photographs.
func (p *Projector) Images(doc Document, rec inventory.Record) []Image {
	imagesDir := layout.ImagesDir(extractionDir(rec))

	var out []Image
	for _, artifactDir := range layout.ListArtifactDirs(imagesDir) {
		evalPath := layout.EvalPath(artifactDir)
		stats, ok := readEval(evalPath)
		if !ok {
			continue
		}
		if p.photosOnly && !stats.IsLikelyPhoto {
			continue
		}

		name := filepath.Base(artifactDir)
		img := Image{
			ID:            doc.ID + "_" + name,
			DocumentID:    doc.ID,
			Name:          name,
			IsLikelyPhoto: stats.IsLikelyPhoto,
			Eval:          stats,
			Derivatives:   make(map[string]string),
		}
		deps := []string{evalPath}
		for _, size := range layout.DerivativeSizes() {
			path := layout.DerivativePath(artifactDir, size)
			if fileutil.Exists(path) {
				img.Derivatives[size] = path
				deps = append(deps, path)
			}
		}
		if analysis, ok := readAnalysis(artifactDir); ok {
			img.Analysis = analysis
			deps = append(deps, layout.AnalysisPath(artifactDir))
		}
		if path := layout.ImageOCRPath(artifactDir); fileutil.Exists(path) {
			img.OCRPath = path
			deps = append(deps, path)
		}
		if source, ok := layout.SourceImageFor(artifactDir); ok {
			img.SourcePath = source
		}
		img.Fingerprint = staleness.Fingerprint(deps)
		out = append(out, img)
	}
	return out
}

// Faces projects the face entities for one image. Detections without a
// feature vector are withheld: a face that cannot be matched is not worth a
// remote record.
func (p *Projector) Faces(img Image, rec inventory.Record) []Face {
	artifactDir := artifactDirFor(img, rec)
	facesPath := layout.FacesPath(artifactDir)
	detections, ok := readFaces(facesPath)
	if !ok {
		return nil
	}
	fingerprint := staleness.Fingerprint([]string{facesPath})

	var out []Face
	for i, det := range detections {
		if len(det.Embedding) == 0 {
			continue
		}
		face := Face{
			ID:          img.ID + "_" + strconv.Itoa(i),
			ImageID:     img.ID,
			DocumentID:  img.DocumentID,
			Ordinal:     i,
			BBox:        det.BBox,
			Landmarks:   flattenKps(det.Kps),
			DetScore:    det.DetScore,
			Embedding:   toFloat32(det.Embedding),
			Age:         det.Age,
			Gender:      det.Gender,
			Fingerprint: fingerprint,
		}
		out = append(out, face)
	}
	return out
}

// flattenKps maps the five ordered keypoint pairs onto named fields. Short
// or malformed keypoint lists leave the remaining fields zero.
func flattenKps(kps [][]float64) Landmarks {
	var lm Landmarks
	fields := [][2]*float64{
		{&lm.LeftEyeX, &lm.LeftEyeY},
		{&lm.RightEyeX, &lm.RightEyeY},
		{&lm.NoseX, &lm.NoseY},
		{&lm.MouthLeftX, &lm.MouthLeftY},
		{&lm.MouthRightX, &lm.MouthRightY},
	}
	for i, pair := range kps {
		if i >= len(fields) || len(pair) < 2 {
			break
		}
		*fields[i][0] = pair[0]
		*fields[i][1] = pair[1]
	}
	return lm
}

func toFloat32(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}

func readInfo(path string) (*extract.Info, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var info extract.Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, false
	}
	return &info, true
}

func readEval(path string) (evaluate.Stats, bool) {
	var stats evaluate.Stats
	data, err := os.ReadFile(path)
	if err != nil {
		return stats, false
	}
	if err := json.Unmarshal(data, &stats); err != nil {
		return stats, false
	}
	return stats, true
}

func readAnalysis(artifactDir string) (*analyze.Analysis, bool) {
	data, err := os.ReadFile(layout.AnalysisPath(artifactDir))
	if err != nil {
		return nil, false
	}
	var analysis analyze.Analysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		return nil, false
	}
	return &analysis, true
}

func readFaces(path string) ([]faces.Face, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var detections []faces.Face
	if err := json.Unmarshal(data, &detections); err != nil {
		return nil, false
	}
	return detections, true
}

func artifactDirFor(img Image, rec inventory.Record) string {
	return filepath.Join(layout.ImagesDir(extractionDir(rec)), img.Name)
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
