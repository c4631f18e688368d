package extract

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"

	"vellum/internal/inventory"
	"vellum/internal/layout"
	"vellum/internal/logging"
)

func writeZip(t *testing.T, path string, members map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, content := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProcessZip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.zip")
	writeZip(t, archive, map[string]string{
		"readme.txt":      "hello",
		"nested/deep.txt": "world",
	})

	h := NewHandler(logging.NewNop())
	rec := inventory.Record{
		inventory.AttrStatus:    string(inventory.StatusDownloaded),
		inventory.AttrLocalPath: archive,
	}
	fields, err := h.Process(context.Background(), "k", rec)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	docDir := filepath.Join(dir, "bundle")
	if fields[inventory.AttrExtractionDir] != docDir {
		t.Fatalf("extraction_dir = %v, want %s", fields[inventory.AttrExtractionDir], docDir)
	}
	if fields[inventory.AttrExtraction] != inventory.StageDone {
		t.Fatalf("extraction_status = %v", fields[inventory.AttrExtraction])
	}
	for _, rel := range []string{"readme.txt", filepath.Join("nested", "deep.txt")} {
		if _, err := os.Stat(filepath.Join(docDir, rel)); err != nil {
			t.Errorf("expected extracted member %s: %v", rel, err)
		}
	}
}

func TestUnzipRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	writeZip(t, archive, map[string]string{
		"../escape.txt": "nope",
	})

	if err := unzipInto(archive, filepath.Join(dir, "out")); err == nil {
		t.Fatal("expected traversal rejection")
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); !os.IsNotExist(err) {
		t.Fatal("member must not be written outside the target directory")
	}
}

func TestDocInfoMapsMetadata(t *testing.T) {
	info := docInfo(&pdfcpu.PDFInfo{
		Title:     "  Ledger 1921  ",
		Author:    "Town Clerk",
		Keywords:  []string{"archive", "ledger"},
		PageCount: 3,
	})
	if info.Title != "Ledger 1921" {
		t.Fatalf("title = %q", info.Title)
	}
	if info.Author != "Town Clerk" {
		t.Fatalf("author = %q", info.Author)
	}
	if len(info.Keywords) != 2 || info.PageCount != 3 {
		t.Fatalf("keywords=%v page_count=%d", info.Keywords, info.PageCount)
	}
}

func TestWriteInfoUnparsablePDF(t *testing.T) {
	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(pdfPath, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := writeInfo(pdfPath, dir); err == nil {
		t.Fatal("expected parse failure")
	}
	if _, err := os.Stat(layout.InfoPath(dir)); !os.IsNotExist(err) {
		t.Fatal("no metadata artifact must be written on failure")
	}
}

func TestHandlerEligibility(t *testing.T) {
	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "doc.pdf")
	zipPath := filepath.Join(dir, "b.zip")
	txtPath := filepath.Join(dir, "note.txt")
	for _, p := range []string{pdfPath, zipPath, txtPath} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	h := NewHandler(logging.NewNop())
	base := func(path string) inventory.Record {
		return inventory.Record{
			inventory.AttrStatus:    string(inventory.StatusDownloaded),
			inventory.AttrLocalPath: path,
		}
	}

	if h.Eligible("k", base(pdfPath)) {
		t.Fatal("unclassified pdf must wait for classification")
	}
	classified := base(pdfPath)
	classified[inventory.AttrClassification] = "text"
	if !h.Eligible("k", classified) {
		t.Fatal("classified pdf must be eligible")
	}
	if !h.Eligible("k", base(zipPath)) {
		t.Fatal("zip must be eligible without classification")
	}
	if h.Eligible("k", base(txtPath)) {
		t.Fatal("unsupported type must not be eligible")
	}
}

func TestHandlerDoneRequiresDir(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(logging.NewNop())
	rec := inventory.Record{
		inventory.AttrExtraction:    inventory.StageDone,
		inventory.AttrExtractionDir: filepath.Join(dir, "missing"),
	}
	if h.Done("k", rec) {
		t.Fatal("done with a missing extraction dir must re-run")
	}
	if err := os.MkdirAll(filepath.Join(dir, "present"), 0o755); err != nil {
		t.Fatal(err)
	}
	rec[inventory.AttrExtractionDir] = filepath.Join(dir, "present")
	if !h.Done("k", rec) {
		t.Fatal("done with existing dir must be done")
	}
}
