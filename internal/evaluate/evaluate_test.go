package evaluate

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"vellum/internal/inventory"
	"vellum/internal/layout"
	"vellum/internal/logging"
)

func saveNoiseImage(t *testing.T, path string) {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	img := image.NewNRGBA(image.Rect(0, 0, 512, 512))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 255
	}
	if err := imaging.Save(img, path); err != nil {
		t.Fatal(err)
	}
}

func saveFlatImage(t *testing.T, path string) {
	t.Helper()
	if err := imaging.Save(imaging.New(512, 512, color.White), path); err != nil {
		t.Fatal(err)
	}
}

func TestEvaluateFlatImageIsNotPhoto(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat.png")
	saveFlatImage(t, path)

	stats, err := Evaluate(path)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if stats.IsLikelyPhoto {
		t.Fatalf("flat image scored as photo: %+v", stats)
	}
	if stats.UniqueColors != 1 {
		t.Fatalf("flat image unique colors = %d, want 1", stats.UniqueColors)
	}
	if stats.Entropy != 0 {
		t.Fatalf("flat image entropy = %v, want 0", stats.Entropy)
	}
}

func TestEvaluateNoiseImageScoresColorVotes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noise.png")
	saveNoiseImage(t, path)

	stats, err := Evaluate(path)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if stats.Entropy <= minEntropy {
		t.Fatalf("noise entropy = %v, expected above %v", stats.Entropy, minEntropy)
	}
	if stats.StdDev <= minStdDev {
		t.Fatalf("noise std dev = %v, expected above %v", stats.StdDev, minStdDev)
	}
	if stats.UniqueColors <= minUniqueColors {
		t.Fatalf("noise unique colors = %d, expected above %d", stats.UniqueColors, minUniqueColors)
	}
	if stats.LaplacianVar < maxLaplacianVar {
		t.Fatalf("noise laplacian variance = %v, expected high", stats.LaplacianVar)
	}
	if !stats.IsLikelyPhoto {
		t.Fatalf("noise should collect three votes: %+v", stats)
	}
}

func setupArtifact(t *testing.T, noise bool) (string, inventory.Record) {
	t.Helper()
	docDir := filepath.Join(t.TempDir(), "doc")
	imagesDir := layout.ImagesDir(docDir)
	if err := os.MkdirAll(filepath.Join(imagesDir, "page1_img1"), 0o755); err != nil {
		t.Fatal(err)
	}
	source := filepath.Join(imagesDir, "page1_img1.png")
	if noise {
		saveNoiseImage(t, source)
	} else {
		saveFlatImage(t, source)
	}
	return docDir, inventory.Record{
		inventory.AttrStatus:        string(inventory.StatusDownloaded),
		inventory.AttrExtractionDir: docDir,
	}
}

func TestHandlerWritesEvalArtifact(t *testing.T) {
	docDir, rec := setupArtifact(t, false)
	h := NewHandler(logging.NewNop())

	fields, err := h.Process(context.Background(), "k", rec)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if fields[inventory.AttrEvaluation] != inventory.StageDone {
		t.Fatalf("evaluation_status = %v", fields[inventory.AttrEvaluation])
	}

	evalPath := layout.EvalPath(filepath.Join(layout.ImagesDir(docDir), "page1_img1"))
	data, err := os.ReadFile(evalPath)
	if err != nil {
		t.Fatal(err)
	}
	var stats Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.IsLikelyPhoto {
		t.Fatal("flat source must not evaluate as photo")
	}
}

func TestHandlerSecondPassKeepsExistingEval(t *testing.T) {
	docDir, rec := setupArtifact(t, false)
	h := NewHandler(logging.NewNop())
	if _, err := h.Process(context.Background(), "k", rec); err != nil {
		t.Fatal(err)
	}

	evalPath := layout.EvalPath(filepath.Join(layout.ImagesDir(docDir), "page1_img1"))
	before, err := os.Stat(evalPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Process(context.Background(), "k", rec); err != nil {
		t.Fatal(err)
	}
	after, err := os.Stat(evalPath)
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Fatal("existing eval.json must not be rewritten")
	}
}

func TestHandlerIgnoresDirsWithoutSource(t *testing.T) {
	docDir, rec := setupArtifact(t, false)
	// Orphan artifact dir with no sibling image.
	if err := os.MkdirAll(filepath.Join(layout.ImagesDir(docDir), "page9_img9"), 0o755); err != nil {
		t.Fatal(err)
	}

	h := NewHandler(logging.NewNop())
	fields, err := h.Process(context.Background(), "k", rec)
	if err != nil {
		t.Fatal(err)
	}
	if fields[inventory.AttrEvaluation] != inventory.StageDone {
		t.Fatalf("orphan dirs must not hold the stage open, got %v", fields[inventory.AttrEvaluation])
	}
}
