package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"vellum/internal/fileutil"
	"vellum/internal/inventory"
	"vellum/internal/layout"
	"vellum/internal/logging"
	"vellum/internal/project"
	"vellum/internal/remote"
	"vellum/internal/staleness"
)

type fakeWrite struct {
	collection string
	id         string
	fields     map[string]any
}

type fakeStore struct {
	objects   map[string]bool
	uploads   int
	commits   int
	committed []fakeWrite
	commitErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string]bool)}
}

func (f *fakeStore) UploadBlob(_ context.Context, localPath, remoteKey, _ string) (remote.BlobInfo, error) {
	if _, err := os.Stat(localPath); err != nil {
		return remote.BlobInfo{}, err
	}
	url := "fake://" + remoteKey
	if f.objects[remoteKey] {
		return remote.BlobInfo{URL: url, Existed: true}, nil
	}
	f.objects[remoteKey] = true
	f.uploads++
	return remote.BlobInfo{URL: url}, nil
}

func (f *fakeStore) NewBatch() remote.Batch { return &fakeBatch{store: f} }

func (f *fakeStore) SupportsVectors() bool { return true }

func (f *fakeStore) Vector(values []float32) any { return values }

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) find(collection, id string) (fakeWrite, bool) {
	for _, w := range f.committed {
		if w.collection == collection && w.id == id {
			return w, true
		}
	}
	return fakeWrite{}, false
}

type fakeBatch struct {
	store  *fakeStore
	writes []fakeWrite
}

func (b *fakeBatch) Upsert(collection, id string, fields map[string]any) {
	b.writes = append(b.writes, fakeWrite{collection: collection, id: id, fields: fields})
}

func (b *fakeBatch) Len() int { return len(b.writes) }

func (b *fakeBatch) Commit(context.Context) error {
	if b.store.commitErr != nil {
		return b.store.commitErr
	}
	b.store.commits++
	b.store.committed = append(b.store.committed, b.writes...)
	return nil
}

// writeItem lays out a publishable downloaded document with one evaluated
// image under dir and returns the inventory for it.
func writeItem(t *testing.T, dir string) inventory.Inventory {
	t.Helper()

	pdfPath := filepath.Join(dir, "doc.pdf")
	writeFile(t, pdfPath, "%PDF-1.4 stub")

	docDir := layout.DocDir(pdfPath)
	for _, size := range layout.PreviewSizes() {
		writeFile(t, layout.DocPreviewPath(docDir, size), "avif "+size)
	}
	writeFile(t, layout.ContentPath(docDir), "extracted text")

	imagesDir := layout.ImagesDir(docDir)
	writeFile(t, filepath.Join(imagesDir, "page1_img1.png"), "png stub")
	artifactDir := filepath.Join(imagesDir, "page1_img1")
	if err := fileutil.WriteJSONAtomic(layout.EvalPath(artifactDir), map[string]any{
		"entropy":         7.1,
		"std_dev":         52.0,
		"unique_colors":   20000,
		"laplacian_var":   310.0,
		"score":           4,
		"is_likely_photo": true,
	}); err != nil {
		t.Fatalf("write eval: %v", err)
	}
	writeFile(t, layout.DerivativePath(artifactDir, layout.SizeThumb), "avif thumb")
	writeFile(t, layout.DerivativePath(artifactDir, layout.SizeMedium), "avif medium")

	rec := inventory.Record{
		inventory.AttrStatus:         string(inventory.StatusDownloaded),
		inventory.AttrLocalPath:      pdfPath,
		inventory.AttrClassification: "text",
		inventory.AttrPageCount:      3,
	}
	return inventory.Inventory{"https://example.com/doc.pdf": rec}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newSyncer(t *testing.T, store *fakeStore, statePath string) *Syncer {
	t.Helper()
	logger := logging.NewNop()
	return New(Options{
		Logger:    logger,
		Store:     store,
		State:     staleness.LoadSyncState(statePath, logger),
		Projector: project.New(logger, true),
		KeyPrefix: "v1",
	})
}

func TestRunPublishesDocumentAndImage(t *testing.T) {
	dir := t.TempDir()
	inv := writeItem(t, dir)
	store := newFakeStore()
	statePath := filepath.Join(dir, "sync_state.json")

	summary, err := newSyncer(t, store, statePath).Run(context.Background(), inv)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Documents != 1 || summary.Images != 1 {
		t.Fatalf("summary = %+v, want one document and one image", summary)
	}

	doc, ok := store.find(remote.CollectionDocuments, "doc")
	if !ok {
		t.Fatal("document record not committed")
	}
	if doc.fields["classification"] != "text" {
		t.Fatalf("classification = %v", doc.fields["classification"])
	}
	previews, ok := doc.fields["previews"].(map[string]any)
	if !ok || len(previews) != len(layout.PreviewSizes()) {
		t.Fatalf("previews = %v", doc.fields["previews"])
	}
	if doc.fields["content_url"] != "fake://v1/documents/doc/content.txt" {
		t.Fatalf("content_url = %v", doc.fields["content_url"])
	}

	img, ok := store.find(remote.CollectionImages, "doc_page1_img1")
	if !ok {
		t.Fatal("image record not committed")
	}
	if img.fields["document_id"] != "doc" {
		t.Fatalf("document_id = %v", img.fields["document_id"])
	}
	if img.fields["is_likely_photo"] != true {
		t.Fatalf("is_likely_photo = %v", img.fields["is_likely_photo"])
	}
	derivatives, ok := img.fields["derivatives"].(map[string]any)
	if !ok || len(derivatives) != 2 {
		t.Fatalf("derivatives = %v", img.fields["derivatives"])
	}
	if derivatives["medium"] != "fake://v1/images/doc_page1_img1/medium.avif" {
		t.Fatalf("medium = %v", derivatives["medium"])
	}
}

func TestRunSecondPassSkipsCleanEntities(t *testing.T) {
	dir := t.TempDir()
	inv := writeItem(t, dir)
	store := newFakeStore()
	statePath := filepath.Join(dir, "sync_state.json")

	if _, err := newSyncer(t, store, statePath).Run(context.Background(), inv); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstUploads := store.uploads
	firstCommits := store.commits

	summary, err := newSyncer(t, store, statePath).Run(context.Background(), inv)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Documents != 0 || summary.Images != 0 {
		t.Fatalf("second pass republished: %+v", summary)
	}
	if summary.Skipped == 0 {
		t.Fatal("second pass reported no skips")
	}
	if store.uploads != firstUploads {
		t.Fatalf("second pass uploaded %d new blobs", store.uploads-firstUploads)
	}
	if store.commits != firstCommits {
		t.Fatalf("second pass committed %d new batches", store.commits-firstCommits)
	}
}

func TestRunFailedCommitDoesNotAdvanceCheckpoint(t *testing.T) {
	dir := t.TempDir()
	inv := writeItem(t, dir)
	store := newFakeStore()
	store.commitErr = errors.New("remote unavailable")
	statePath := filepath.Join(dir, "sync_state.json")

	failed, err := newSyncer(t, store, statePath).Run(context.Background(), inv)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(store.committed) != 0 {
		t.Fatalf("committed %d records despite commit failure", len(store.committed))
	}
	if failed.Documents != 0 || failed.Images != 0 {
		t.Fatalf("uncommitted entities reported as published: %+v", failed)
	}
	if failed.Failed != 2 {
		t.Fatalf("failed = %d, want the document and image counted once each", failed.Failed)
	}

	// Recovery: the same entities are retried whole on the next pass.
	store.commitErr = nil
	summary, err := newSyncer(t, store, statePath).Run(context.Background(), inv)
	if err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if summary.Documents != 1 || summary.Images != 1 {
		t.Fatalf("retry summary = %+v", summary)
	}
	if _, ok := store.find(remote.CollectionDocuments, "doc"); !ok {
		t.Fatal("document not committed on retry")
	}
}

func TestRunForceRepublishes(t *testing.T) {
	dir := t.TempDir()
	inv := writeItem(t, dir)
	store := newFakeStore()
	statePath := filepath.Join(dir, "sync_state.json")

	if _, err := newSyncer(t, store, statePath).Run(context.Background(), inv); err != nil {
		t.Fatalf("first run: %v", err)
	}

	logger := logging.NewNop()
	forced := New(Options{
		Logger:    logger,
		Store:     store,
		State:     staleness.LoadSyncState(statePath, logger),
		Projector: project.New(logger, true),
		Force:     true,
	})
	summary, err := forced.Run(context.Background(), inv)
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if summary.Documents != 1 || summary.Images != 1 {
		t.Fatalf("forced summary = %+v", summary)
	}
	// Blob storage stays idempotent even under force.
	if store.uploads != len(store.objects) {
		t.Fatalf("force re-uploaded existing blobs: %d uploads for %d objects", store.uploads, len(store.objects))
	}
}

func TestRunPublishesFacesWithEmbeddings(t *testing.T) {
	dir := t.TempDir()
	inv := writeItem(t, dir)
	artifactDir := filepath.Join(dir, "doc", "images", "page1_img1")
	if err := fileutil.WriteJSONAtomic(layout.FacesPath(artifactDir), []map[string]any{
		{
			"bbox":      []float64{10, 20, 110, 140},
			"kps":       [][]float64{{30, 50}, {80, 50}, {55, 75}, {35, 100}, {75, 100}},
			"det_score": 0.97,
			"embedding": []float64{0.1, 0.2, 0.3},
			"age":       34,
			"gender":    1,
		},
		{
			"bbox":      []float64{1, 2, 3, 4},
			"det_score": 0.4,
			"embedding": []float64{},
		},
	}); err != nil {
		t.Fatalf("write faces: %v", err)
	}

	store := newFakeStore()
	statePath := filepath.Join(dir, "sync_state.json")
	summary, err := newSyncer(t, store, statePath).Run(context.Background(), inv)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Faces != 1 {
		t.Fatalf("faces published = %d, want 1 (empty embedding withheld)", summary.Faces)
	}

	face, ok := store.find(remote.CollectionFaces, "doc_page1_img1_0")
	if !ok {
		t.Fatal("face record not committed")
	}
	if face.fields["image_id"] != "doc_page1_img1" {
		t.Fatalf("image_id = %v", face.fields["image_id"])
	}
	if face.fields["left_eye_x"] != 30.0 {
		t.Fatalf("left_eye_x = %v", face.fields["left_eye_x"])
	}
	embedding, ok := face.fields["embedding"].([]float32)
	if !ok || len(embedding) != 3 {
		t.Fatalf("embedding = %v", face.fields["embedding"])
	}
}

func TestRunWithheldDocumentPublishesNothing(t *testing.T) {
	dir := t.TempDir()
	inv := writeItem(t, dir)
	// Removing one preview makes the document unpublishable.
	if err := os.Remove(layout.DocPreviewPath(filepath.Join(dir, "doc"), layout.SizeMedium)); err != nil {
		t.Fatalf("remove preview: %v", err)
	}

	store := newFakeStore()
	statePath := filepath.Join(dir, "sync_state.json")
	summary, err := newSyncer(t, store, statePath).Run(context.Background(), inv)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Documents != 0 || summary.Images != 0 || store.uploads != 0 {
		t.Fatalf("withheld document still published: %+v uploads=%d", summary, store.uploads)
	}
}
