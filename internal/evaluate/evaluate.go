// Package evaluate scores extracted images for photo likelihood using cheap
// signal statistics, so the publisher can keep scanned text blocks and logos
// out of the remote image collection.
//
// Four measures vote: grayscale entropy, grayscale standard deviation,
// unique color count over a 256x256 downsample, and Laplacian variance
// (document scans have harsh edges everywhere, photographs do not). Three or
// more votes classify the image as a likely photograph.
package evaluate

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"

	"vellum/internal/fileutil"
	"vellum/internal/inventory"
	"vellum/internal/layout"
	"vellum/internal/logging"
	"vellum/internal/stage"
)

// Voting thresholds, tuned on the corpus: photographs sit well above the
// color/entropy lines while document scans spike Laplacian variance.
const (
	minEntropy      = 6.5
	minStdDev       = 45.0
	minUniqueColors = 15000
	maxLaplacianVar = 150.0
	photoVotes      = 3
)

// Stats is the evaluation artifact written as eval.json.
type Stats struct {
	Entropy       float64 `json:"entropy"`
	StdDev        float64 `json:"std_dev"`
	UniqueColors  int     `json:"unique_colors"`
	LaplacianVar  float64 `json:"laplacian_var"`
	Score         int     `json:"score"`
	IsLikelyPhoto bool    `json:"is_likely_photo"`
}

// Evaluate computes the photo-likelihood statistics for the image at path.
func Evaluate(path string) (Stats, error) {
	var stats Stats
	img, err := imaging.Open(path)
	if err != nil {
		return stats, fmt.Errorf("evaluate %s: %w", path, err)
	}

	gray := imaging.Grayscale(img)
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return stats, fmt.Errorf("evaluate %s: empty image", path)
	}

	// Grayscale histogram feeds both entropy and the standard deviation.
	var hist [256]int
	var sum, sumSq float64
	total := float64(w * h)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w*4]
		for x := 0; x < w; x++ {
			v := row[x*4]
			hist[v]++
			fv := float64(v)
			sum += fv
			sumSq += fv * fv
		}
	}
	for _, count := range hist {
		if count == 0 {
			continue
		}
		p := float64(count) / total
		stats.Entropy -= p * math.Log2(p)
	}
	mean := sum / total
	stats.StdDev = math.Sqrt(sumSq/total - mean*mean)

	stats.UniqueColors = uniqueColors(img)
	stats.LaplacianVar = laplacianVariance(gray.Pix, gray.Stride, w, h)

	if stats.Entropy > minEntropy {
		stats.Score++
	}
	if stats.StdDev > minStdDev {
		stats.Score++
	}
	if stats.UniqueColors > minUniqueColors {
		stats.Score++
	}
	if stats.LaplacianVar < maxLaplacianVar {
		stats.Score++
	}
	stats.IsLikelyPhoto = stats.Score >= photoVotes
	return stats, nil
}

// uniqueColors counts distinct RGB triples over a fixed 256x256 downsample,
// keeping the cost independent of source size.
func uniqueColors(img image.Image) int {
	small := imaging.Resize(img, 256, 256, imaging.NearestNeighbor)
	seen := make(map[uint32]struct{}, 4096)
	for y := 0; y < 256; y++ {
		row := small.Pix[y*small.Stride : y*small.Stride+256*4]
		for x := 0; x < 256; x++ {
			c := uint32(row[x*4])<<16 | uint32(row[x*4+1])<<8 | uint32(row[x*4+2])
			seen[c] = struct{}{}
		}
	}
	return len(seen)
}

func laplacianVariance(pix []uint8, stride, w, h int) float64 {
	if w < 3 || h < 3 {
		return 0
	}
	at := func(x, y int) float64 {
		return float64(pix[y*stride+x*4])
	}
	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			v := at(x, y-1) + at(x, y+1) + at(x-1, y) + at(x+1, y) - 4*at(x, y)
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

// Handler implements the evaluation stage.
type Handler struct {
	logger *slog.Logger
}

// NewHandler returns the evaluation stage handler.
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{logger: logger.With(logging.String(logging.FieldComponent, "evaluate"))}
}

func (h *Handler) Name() string { return "evaluate" }

func (h *Handler) Eligible(key string, rec inventory.Record) bool {
	if rec.Status() != inventory.StatusDownloaded {
		return false
	}
	return fileutil.IsDir(extractionDir(rec))
}

func (h *Handler) Done(key string, rec inventory.Record) bool {
	return rec.String(inventory.AttrEvaluation) == inventory.StageDone
}

func (h *Handler) Process(ctx context.Context, key string, rec inventory.Record) (inventory.Fields, error) {
	imagesDir := layout.ImagesDir(extractionDir(rec))

	total, handled := 0, 0
	for _, artifactDir := range layout.ListArtifactDirs(imagesDir) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		source, ok := layout.SourceImageFor(artifactDir)
		if !ok {
			continue
		}
		total++

		evalPath := layout.EvalPath(artifactDir)
		if fileutil.Exists(evalPath) {
			handled++
			continue
		}

		stats, err := Evaluate(source)
		if err != nil {
			h.logger.Warn("evaluation failed",
				logging.String(logging.FieldItemKey, key),
				logging.String("image", source),
				logging.Error(err))
			continue
		}
		if err := fileutil.WriteJSONAtomic(evalPath, stats); err != nil {
			h.logger.Error("writing evaluation failed",
				logging.String("image", source), logging.Error(err))
			continue
		}
		handled++
	}

	return inventory.Fields{
		inventory.AttrEvaluation: stage.CompletionStatus(handled, total),
	}, nil
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
