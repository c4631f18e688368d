package project

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"vellum/internal/extract"
	"vellum/internal/fileutil"
	"vellum/internal/inventory"
	"vellum/internal/layout"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func downloadedRecord(t *testing.T, dir string) (inventory.Record, string) {
	t.Helper()
	pdfPath := filepath.Join(dir, "report.pdf")
	writeFile(t, pdfPath, "%PDF-1.4 stub")
	docDir := layout.DocDir(pdfPath)
	for _, size := range layout.PreviewSizes() {
		writeFile(t, layout.DocPreviewPath(docDir, size), "avif "+size)
	}
	rec := inventory.Record{
		inventory.AttrStatus:         string(inventory.StatusDownloaded),
		inventory.AttrLocalPath:      pdfPath,
		inventory.AttrClassification: "scanned",
		inventory.AttrPageCount:      7,
	}
	return rec, docDir
}

func writeEval(t *testing.T, artifactDir string, isPhoto bool) {
	t.Helper()
	if err := fileutil.WriteJSONAtomic(layout.EvalPath(artifactDir), map[string]any{
		"entropy":         6.8,
		"std_dev":         50.0,
		"unique_colors":   18000,
		"laplacian_var":   280.0,
		"score":           3,
		"is_likely_photo": isPhoto,
	}); err != nil {
		t.Fatalf("write eval: %v", err)
	}
}

func TestDocumentProjection(t *testing.T) {
	dir := t.TempDir()
	rec, docDir := downloadedRecord(t, dir)
	writeFile(t, layout.ContentPath(docDir), "plain text")
	writeFile(t, layout.DocOCRPath(docDir), "## Page 1\n\ntranscript\n")

	doc, ok := New(nil, true).Document("https://example.com/report.pdf", rec)
	if !ok {
		t.Fatal("document withheld")
	}
	if doc.ID != "report" {
		t.Fatalf("id = %q", doc.ID)
	}
	if doc.Key != "https://example.com/report.pdf" {
		t.Fatalf("key = %q", doc.Key)
	}
	if doc.Classification != "scanned" || doc.PageCount != 7 {
		t.Fatalf("classification=%q page_count=%d", doc.Classification, doc.PageCount)
	}
	if len(doc.Previews) != len(layout.PreviewSizes()) {
		t.Fatalf("previews = %v", doc.Previews)
	}
	if doc.ContentPath == "" || doc.OCRPath == "" {
		t.Fatalf("content=%q ocr=%q", doc.ContentPath, doc.OCRPath)
	}
	if doc.Fingerprint.IsZero() {
		t.Fatal("fingerprint is zero")
	}
}

func TestDocumentWithheldWithoutPreviews(t *testing.T) {
	dir := t.TempDir()
	rec, docDir := downloadedRecord(t, dir)
	if err := os.Remove(layout.DocPreviewPath(docDir, layout.SizeSmall)); err != nil {
		t.Fatalf("remove preview: %v", err)
	}
	if _, ok := New(nil, true).Document("key", rec); ok {
		t.Fatal("document projected without full preview set")
	}
}

func TestDocumentWithheldWhenNotDownloaded(t *testing.T) {
	rec := inventory.Record{inventory.AttrStatus: string(inventory.StatusPending)}
	if _, ok := New(nil, true).Document("key", rec); ok {
		t.Fatal("pending item projected")
	}
}

func TestDocumentFingerprintTracksDependents(t *testing.T) {
	dir := t.TempDir()
	rec, docDir := downloadedRecord(t, dir)
	projector := New(nil, true)

	doc, ok := projector.Document("key", rec)
	if !ok {
		t.Fatal("document withheld")
	}
	before := doc.Fingerprint

	future := time.Now().Add(time.Hour)
	preview := layout.DocPreviewPath(docDir, layout.SizeMedium)
	if err := os.Chtimes(preview, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	doc, _ = projector.Document("key", rec)
	if !doc.Fingerprint.After(before) {
		t.Fatalf("fingerprint did not advance: before=%v after=%v", before, doc.Fingerprint)
	}
}

func TestDocumentInfoMetadata(t *testing.T) {
	dir := t.TempDir()
	rec, docDir := downloadedRecord(t, dir)
	if err := fileutil.WriteJSONAtomic(layout.InfoPath(docDir), extract.Info{
		Title:     "Annual Report 1953",
		Author:    "Records Office",
		PageCount: 12,
	}); err != nil {
		t.Fatalf("write info: %v", err)
	}
	projector := New(nil, true)

	doc, ok := projector.Document("key", rec)
	if !ok {
		t.Fatal("document withheld")
	}
	if doc.Title != "Annual Report 1953" {
		t.Fatalf("title = %q", doc.Title)
	}
	if doc.Info == nil || doc.Info.Author != "Records Office" {
		t.Fatalf("info = %+v", doc.Info)
	}
	if doc.PageCount != 7 {
		t.Fatalf("recorded page count must win, got %d", doc.PageCount)
	}

	before := doc.Fingerprint
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(layout.InfoPath(docDir), future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	doc, _ = projector.Document("key", rec)
	if !doc.Fingerprint.After(before) {
		t.Fatalf("fingerprint ignores metadata: before=%v after=%v", before, doc.Fingerprint)
	}
}

func TestDocumentPageCountFromInfo(t *testing.T) {
	dir := t.TempDir()
	rec, docDir := downloadedRecord(t, dir)
	delete(rec, inventory.AttrPageCount)
	if err := fileutil.WriteJSONAtomic(layout.InfoPath(docDir), extract.Info{PageCount: 12}); err != nil {
		t.Fatalf("write info: %v", err)
	}

	doc, ok := New(nil, true).Document("key", rec)
	if !ok {
		t.Fatal("document withheld")
	}
	if doc.PageCount != 12 {
		t.Fatalf("page_count = %d", doc.PageCount)
	}
}

func TestImagesProjection(t *testing.T) {
	dir := t.TempDir()
	rec, docDir := downloadedRecord(t, dir)
	imagesDir := layout.ImagesDir(docDir)
	writeFile(t, filepath.Join(imagesDir, "page1_img1.png"), "png stub")
	artifactDir := filepath.Join(imagesDir, "page1_img1")
	writeEval(t, artifactDir, true)
	writeFile(t, layout.DerivativePath(artifactDir, layout.SizeThumb), "avif")
	writeFile(t, layout.DerivativePath(artifactDir, layout.SizeMedium), "avif")
	if err := fileutil.WriteJSONAtomic(layout.AnalysisPath(artifactDir), map[string]any{
		"type":             "photo",
		"has_faces":        true,
		"objects_detected": []string{"person"},
		"needs_ocr":        false,
		"is_empty":         false,
		"description":      "a person outdoors",
	}); err != nil {
		t.Fatalf("write analysis: %v", err)
	}

	projector := New(nil, true)
	doc, ok := projector.Document("key", rec)
	if !ok {
		t.Fatal("document withheld")
	}
	images := projector.Images(doc, rec)
	if len(images) != 1 {
		t.Fatalf("images = %d, want 1", len(images))
	}
	img := images[0]
	if img.ID != "report_page1_img1" {
		t.Fatalf("id = %q", img.ID)
	}
	if img.DocumentID != "report" || img.Name != "page1_img1" {
		t.Fatalf("document_id=%q name=%q", img.DocumentID, img.Name)
	}
	if !img.IsLikelyPhoto {
		t.Fatal("is_likely_photo lost")
	}
	if len(img.Derivatives) != 2 {
		t.Fatalf("derivatives = %v", img.Derivatives)
	}
	if img.Analysis == nil || !img.Analysis.HasFaces {
		t.Fatalf("analysis = %+v", img.Analysis)
	}
	if img.SourcePath == "" {
		t.Fatal("source path not resolved")
	}
	if img.Fingerprint.IsZero() {
		t.Fatal("fingerprint is zero")
	}
}

func TestImagesPhotosOnlyFilter(t *testing.T) {
	dir := t.TempDir()
	rec, docDir := downloadedRecord(t, dir)
	imagesDir := layout.ImagesDir(docDir)
	writeEval(t, filepath.Join(imagesDir, "page1_img1"), false)
	writeEval(t, filepath.Join(imagesDir, "page2_img1"), true)

	projector := New(nil, true)
	doc, _ := projector.Document("key", rec)
	images := projector.Images(doc, rec)
	if len(images) != 1 || images[0].Name != "page2_img1" {
		t.Fatalf("images = %+v, want only page2_img1", images)
	}

	all := New(nil, false)
	doc, _ = all.Document("key", rec)
	if got := len(all.Images(doc, rec)); got != 2 {
		t.Fatalf("unfiltered images = %d, want 2", got)
	}
}

func TestImagesWithheldWithoutEval(t *testing.T) {
	dir := t.TempDir()
	rec, docDir := downloadedRecord(t, dir)
	artifactDir := filepath.Join(layout.ImagesDir(docDir), "page1_img1")
	writeFile(t, layout.DerivativePath(artifactDir, layout.SizeThumb), "avif")

	projector := New(nil, false)
	doc, _ := projector.Document("key", rec)
	if got := len(projector.Images(doc, rec)); got != 0 {
		t.Fatalf("images without eval projected: %d", got)
	}
}

func TestFacesProjection(t *testing.T) {
	dir := t.TempDir()
	rec, docDir := downloadedRecord(t, dir)
	artifactDir := filepath.Join(layout.ImagesDir(docDir), "page1_img1")
	writeEval(t, artifactDir, true)
	if err := fileutil.WriteJSONAtomic(layout.FacesPath(artifactDir), []map[string]any{
		{
			"bbox":      []float64{10, 20, 110, 140},
			"kps":       [][]float64{{30, 50}, {80, 50}, {55, 75}, {35, 100}, {75, 100}},
			"det_score": 0.97,
			"embedding": []float64{0.1, 0.2},
			"age":       29,
			"gender":    0,
		},
		{
			"bbox":      []float64{1, 2, 3, 4},
			"det_score": 0.5,
			"embedding": []float64{},
		},
	}); err != nil {
		t.Fatalf("write faces: %v", err)
	}

	projector := New(nil, true)
	doc, _ := projector.Document("key", rec)
	images := projector.Images(doc, rec)
	if len(images) != 1 {
		t.Fatalf("images = %d", len(images))
	}
	faces := projector.Faces(images[0], rec)
	if len(faces) != 1 {
		t.Fatalf("faces = %d, want 1 (empty embedding withheld)", len(faces))
	}
	face := faces[0]
	if face.ID != "report_page1_img1_0" {
		t.Fatalf("id = %q", face.ID)
	}
	if face.Ordinal != 0 || face.ImageID != "report_page1_img1" || face.DocumentID != "report" {
		t.Fatalf("face = %+v", face)
	}
	if face.Landmarks.LeftEyeX != 30 || face.Landmarks.MouthRightY != 100 {
		t.Fatalf("landmarks = %+v", face.Landmarks)
	}
	if len(face.Embedding) != 2 || face.Embedding[0] != 0.1 {
		t.Fatalf("embedding = %v", face.Embedding)
	}
	if face.Age != 29 || face.Gender != 0 {
		t.Fatalf("age=%d gender=%d", face.Age, face.Gender)
	}
}

func TestFacesMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	rec, docDir := downloadedRecord(t, dir)
	artifactDir := filepath.Join(layout.ImagesDir(docDir), "page1_img1")
	writeEval(t, artifactDir, true)

	projector := New(nil, true)
	doc, _ := projector.Document("key", rec)
	images := projector.Images(doc, rec)
	if got := projector.Faces(images[0], rec); got != nil {
		t.Fatalf("faces = %v, want nil without artifact", got)
	}
}
