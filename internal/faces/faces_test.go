package faces

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"vellum/internal/inventory"
	"vellum/internal/layout"
	"vellum/internal/logging"
)

type scriptedClient struct {
	response string
	calls    int
}

func (c *scriptedClient) CompleteVision(ctx context.Context, prompt, imagePath string) (string, error) {
	c.calls++
	return c.response, nil
}

func setupArtifact(t *testing.T, hasFaces bool) (string, inventory.Record) {
	t.Helper()
	docDir := filepath.Join(t.TempDir(), "doc")
	imagesDir := layout.ImagesDir(docDir)
	artifactDir := filepath.Join(imagesDir, "page1_img1")
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(imagesDir, "page1_img1.jpg"), []byte{0xFF, 0xD8}, 0o644); err != nil {
		t.Fatal(err)
	}
	analysis := map[string]any{"type": "photograph", "has_faces": hasFaces}
	data, _ := json.Marshal(analysis)
	if err := os.WriteFile(layout.AnalysisPath(artifactDir), data, 0o644); err != nil {
		t.Fatal(err)
	}
	return docDir, inventory.Record{
		inventory.AttrStatus:        string(inventory.StatusDownloaded),
		inventory.AttrExtractionDir: docDir,
	}
}

func TestProcessWritesDetections(t *testing.T) {
	docDir, rec := setupArtifact(t, true)
	client := &scriptedClient{response: `[{"bbox":[10,20,110,140],"kps":[[30,60],[80,60],[55,90],[35,115],[75,115]],"det_score":0.98,"embedding":[0.1,0.2,0.3],"age":44,"gender":1}]`}
	h := NewHandler(logging.NewNop(), client, false)

	fields, err := h.Process(context.Background(), "k", rec)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if fields[inventory.AttrFaces] != inventory.StageDone {
		t.Fatalf("face_status = %v", fields[inventory.AttrFaces])
	}

	facesPath := layout.FacesPath(filepath.Join(layout.ImagesDir(docDir), "page1_img1"))
	data, err := os.ReadFile(facesPath)
	if err != nil {
		t.Fatal(err)
	}
	var detections []Face
	if err := json.Unmarshal(data, &detections); err != nil {
		t.Fatal(err)
	}
	if len(detections) != 1 || detections[0].DetScore != 0.98 || len(detections[0].Kps) != 5 {
		t.Fatalf("unexpected detections %+v", detections)
	}
}

func TestProcessEmptyDetectionsStillWritten(t *testing.T) {
	docDir, rec := setupArtifact(t, true)
	client := &scriptedClient{response: `[]`}
	h := NewHandler(logging.NewNop(), client, false)

	if _, err := h.Process(context.Background(), "k", rec); err != nil {
		t.Fatal(err)
	}

	facesPath := layout.FacesPath(filepath.Join(layout.ImagesDir(docDir), "page1_img1"))
	data, err := os.ReadFile(facesPath)
	if err != nil {
		t.Fatalf("empty result must still be persisted: %v", err)
	}
	var detections []Face
	if err := json.Unmarshal(data, &detections); err != nil {
		t.Fatal(err)
	}
	if len(detections) != 0 {
		t.Fatalf("expected empty detections, got %d", len(detections))
	}

	// The persisted empty list prevents a second inference call.
	if _, err := h.Process(context.Background(), "k", rec); err != nil {
		t.Fatal(err)
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 call, got %d", client.calls)
	}
}

func TestProcessSkipsImagesWithoutFaces(t *testing.T) {
	_, rec := setupArtifact(t, false)
	client := &scriptedClient{response: `[]`}
	h := NewHandler(logging.NewNop(), client, false)

	fields, err := h.Process(context.Background(), "k", rec)
	if err != nil {
		t.Fatal(err)
	}
	if client.calls != 0 {
		t.Fatalf("no inference expected, got %d calls", client.calls)
	}
	if fields[inventory.AttrFaces] != inventory.StageDone {
		t.Fatalf("face_status = %v", fields[inventory.AttrFaces])
	}
}

func TestProcessUnparsableResponseKeepsRaw(t *testing.T) {
	docDir, rec := setupArtifact(t, true)
	client := &scriptedClient{response: "there appear to be two faces"}
	h := NewHandler(logging.NewNop(), client, false)

	fields, err := h.Process(context.Background(), "k", rec)
	if err != nil {
		t.Fatal(err)
	}
	if fields[inventory.AttrFaces] != inventory.StagePartial {
		t.Fatalf("face_status = %v, want partial", fields[inventory.AttrFaces])
	}
	artifactDir := filepath.Join(layout.ImagesDir(docDir), "page1_img1")
	if _, err := os.Stat(filepath.Join(artifactDir, "faces.txt")); err != nil {
		t.Fatalf("expected raw fallback: %v", err)
	}
	if _, err := os.Stat(layout.FacesPath(artifactDir)); !os.IsNotExist(err) {
		t.Fatal("no faces.json must be written for unparsable output")
	}
}
