// Package publish pushes projected entities to the remote store.
//
// Each entity moves unsynced -> staged -> committed: a stale entity has its
// blobs uploaded (idempotently) and its record staged into the current
// batch for its kind; when a batch fills it commits atomically, and only a
// successful commit advances the sync checkpoint for the batch's entities.
// A failed commit advances nothing, so the same entities are retried whole
// on the next pass. A failed blob upload excludes just that entity from the
// pass.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"vellum/internal/inventory"
	"vellum/internal/logging"
	"vellum/internal/project"
	"vellum/internal/remote"
	"vellum/internal/staleness"
)

// Options configures a publish pass.
type Options struct {
	Logger    *slog.Logger
	Store     remote.Store
	State     *staleness.SyncState
	Projector *project.Projector
	KeyPrefix string
	BatchSize int
	// Force republishes every entity regardless of the sync checkpoint.
	Force bool
}

// Summary counts what one publish pass did. The per-kind counters record
// committed entities; entities staged into a batch whose commit fails count
// as Failed instead.
type Summary struct {
	Documents int
	Images    int
	Faces     int
	Uploads   int
	Commits   int
	Skipped   int
	Failed    int
}

func (s *Summary) add(kind staleness.Kind, n int) {
	switch kind {
	case staleness.KindDocuments:
		s.Documents += n
	case staleness.KindImages:
		s.Images += n
	case staleness.KindFaces:
		s.Faces += n
	}
}

// Syncer runs publish passes.
type Syncer struct {
	logger    *slog.Logger
	store     remote.Store
	state     *staleness.SyncState
	projector *project.Projector
	keyPrefix string
	batchSize int
	force     bool

	batches map[staleness.Kind]*kindBatch
	summary Summary
}

type kindBatch struct {
	collection string
	batch      remote.Batch
	staged     []stagedEntity
}

type stagedEntity struct {
	id          string
	fingerprint time.Time
}

const defaultBatchSize = 10

// New returns a syncer for one publish pass.
func New(opts Options) *Syncer {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	keyPrefix := opts.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "v1"
	}
	s := &Syncer{
		logger:    logger.With(logging.String(logging.FieldComponent, "publish")),
		store:     opts.Store,
		state:     opts.State,
		projector: opts.Projector,
		keyPrefix: keyPrefix,
		batchSize: batchSize,
		force:     opts.Force,
		batches:   make(map[staleness.Kind]*kindBatch),
	}
	if !s.store.SupportsVectors() {
		s.logger.Warn("remote store lacks vector support, face embeddings stored as plain lists")
	}
	return s
}

// Run publishes every stale entity in the inventory and returns the pass
// summary. The pass never aborts on per-entity failures; only a sync state
// persistence error is fatal.
func (s *Syncer) Run(ctx context.Context, items inventory.Inventory) (Summary, error) {
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return s.summary, err
		}
		s.publishItem(ctx, key, items[key])
	}

	// Flush the partial batches left at the end of the corpus.
	for kind := range s.batches {
		if err := s.flush(ctx, kind); err != nil {
			s.logger.Error("final batch commit failed",
				logging.String("kind", string(kind)), logging.Error(err))
		}
	}
	return s.summary, nil
}

func (s *Syncer) publishItem(ctx context.Context, key string, rec inventory.Record) {
	doc, ok := s.projector.Document(key, rec)
	if !ok {
		return
	}

	if s.state.IsStale(staleness.KindDocuments, doc.ID, doc.Fingerprint, s.force) {
		if !s.publishDocument(ctx, doc) {
			s.summary.Failed++
		}
	} else {
		s.summary.Skipped++
	}

	for _, img := range s.projector.Images(doc, rec) {
		if s.state.IsStale(staleness.KindImages, img.ID, img.Fingerprint, s.force) {
			if !s.publishImage(ctx, img) {
				s.summary.Failed++
			}
		} else {
			s.summary.Skipped++
		}

		for _, face := range s.projector.Faces(img, rec) {
			if !s.state.IsStale(staleness.KindFaces, face.ID, face.Fingerprint, s.force) {
				s.summary.Skipped++
				continue
			}
			s.stage(ctx, staleness.KindFaces, remote.CollectionFaces, face.ID, face.Fingerprint, s.faceFields(face))
		}
	}
}

func (s *Syncer) publishDocument(ctx context.Context, doc project.Document) bool {
	fields := map[string]any{
		"original_url":   doc.Key,
		"title":          doc.Title,
		"type":           "document",
		"classification": doc.Classification,
		"page_count":     doc.PageCount,
	}
	if info := doc.Info; info != nil {
		if info.Author != "" {
			fields["author"] = info.Author
		}
		if info.Subject != "" {
			fields["subject"] = info.Subject
		}
		if info.CreationDate != "" {
			fields["creation_date"] = info.CreationDate
		}
		if len(info.Keywords) > 0 {
			fields["keywords"] = info.Keywords
		}
	}

	ext := filepath.Ext(doc.SourcePath)
	sourceURL, err := s.upload(ctx, doc.SourcePath, s.docKey(doc.ID, "original"+ext))
	if err != nil {
		s.logger.Warn("document upload failed, skipping entity",
			logging.String(logging.FieldEntityID, doc.ID), logging.Error(err))
		return false
	}
	fields["source_url"] = sourceURL

	previews := make(map[string]any, len(doc.Previews))
	for size, path := range doc.Previews {
		url, err := s.upload(ctx, path, s.docKey(doc.ID, "previews/"+size+".avif"))
		if err != nil {
			s.logger.Warn("preview upload failed, skipping entity",
				logging.String(logging.FieldEntityID, doc.ID),
				logging.String("size", size),
				logging.Error(err))
			return false
		}
		previews[size] = url
	}
	fields["previews"] = previews

	if doc.ContentPath != "" {
		url, err := s.upload(ctx, doc.ContentPath, s.docKey(doc.ID, "content.txt"))
		if err != nil {
			s.logger.Warn("content upload failed, skipping entity",
				logging.String(logging.FieldEntityID, doc.ID), logging.Error(err))
			return false
		}
		fields["content_url"] = url
	}
	if doc.OCRPath != "" {
		url, err := s.upload(ctx, doc.OCRPath, s.docKey(doc.ID, "ocr.md"))
		if err != nil {
			s.logger.Warn("transcript upload failed, skipping entity",
				logging.String(logging.FieldEntityID, doc.ID), logging.Error(err))
			return false
		}
		fields["ocr_url"] = url
	}

	s.stage(ctx, staleness.KindDocuments, remote.CollectionDocuments, doc.ID, doc.Fingerprint, fields)
	return true
}

func (s *Syncer) publishImage(ctx context.Context, img project.Image) bool {
	fields := map[string]any{
		"document_id":     img.DocumentID,
		"name":            img.Name,
		"is_likely_photo": img.IsLikelyPhoto,
		"eval": map[string]any{
			"entropy":       img.Eval.Entropy,
			"std_dev":       img.Eval.StdDev,
			"unique_colors": img.Eval.UniqueColors,
			"laplacian_var": img.Eval.LaplacianVar,
			"score":         img.Eval.Score,
		},
	}
	if img.Analysis != nil {
		fields["analysis"] = map[string]any{
			"type":             img.Analysis.Type,
			"has_faces":        img.Analysis.HasFaces,
			"objects_detected": img.Analysis.ObjectsDetected,
			"needs_ocr":        img.Analysis.NeedsOCR,
			"is_empty":         img.Analysis.IsEmpty,
			"description":      img.Analysis.Description,
		}
	}

	derivatives := make(map[string]any, len(img.Derivatives))
	for size, path := range img.Derivatives {
		url, err := s.upload(ctx, path, s.imageKey(img.ID, size+".avif"))
		if err != nil {
			s.logger.Warn("derivative upload failed, skipping entity",
				logging.String(logging.FieldEntityID, img.ID),
				logging.String("size", size),
				logging.Error(err))
			return false
		}
		derivatives[size] = url
	}
	fields["derivatives"] = derivatives

	if img.OCRPath != "" {
		url, err := s.upload(ctx, img.OCRPath, s.imageKey(img.ID, "ocr.md"))
		if err != nil {
			s.logger.Warn("transcript upload failed, skipping entity",
				logging.String(logging.FieldEntityID, img.ID), logging.Error(err))
			return false
		}
		fields["ocr_url"] = url
	}

	s.stage(ctx, staleness.KindImages, remote.CollectionImages, img.ID, img.Fingerprint, fields)
	return true
}

func (s *Syncer) faceFields(face project.Face) map[string]any {
	fields := map[string]any{
		"image_id":      face.ImageID,
		"document_id":   face.DocumentID,
		"ordinal":       face.Ordinal,
		"bbox":          face.BBox,
		"det_score":     face.DetScore,
		"age":           face.Age,
		"gender":        face.Gender,
		"left_eye_x":    face.Landmarks.LeftEyeX,
		"left_eye_y":    face.Landmarks.LeftEyeY,
		"right_eye_x":   face.Landmarks.RightEyeX,
		"right_eye_y":   face.Landmarks.RightEyeY,
		"nose_x":        face.Landmarks.NoseX,
		"nose_y":        face.Landmarks.NoseY,
		"mouth_left_x":  face.Landmarks.MouthLeftX,
		"mouth_left_y":  face.Landmarks.MouthLeftY,
		"mouth_right_x": face.Landmarks.MouthRightX,
		"mouth_right_y": face.Landmarks.MouthRightY,
		"embedding":     s.store.Vector(face.Embedding),
	}
	if !s.store.SupportsVectors() {
		fields["embedding_degraded"] = true
	}
	return fields
}

// stage adds one record to its kind's batch, flushing when the batch fills.
func (s *Syncer) stage(ctx context.Context, kind staleness.Kind, collection, id string, fingerprint time.Time, fields map[string]any) {
	kb, ok := s.batches[kind]
	if !ok {
		kb = &kindBatch{collection: collection, batch: s.store.NewBatch()}
		s.batches[kind] = kb
	}
	kb.batch.Upsert(collection, id, fields)
	kb.staged = append(kb.staged, stagedEntity{id: id, fingerprint: fingerprint})

	if kb.batch.Len() >= s.batchSize {
		if err := s.flush(ctx, kind); err != nil {
			s.logger.Error("batch commit failed",
				logging.String("kind", string(kind)), logging.Error(err))
		}
	}
}

// flush commits the kind's batch and, only on success, advances the sync
// checkpoint for every entity in it.
func (s *Syncer) flush(ctx context.Context, kind staleness.Kind) error {
	kb, ok := s.batches[kind]
	if !ok || kb.batch.Len() == 0 {
		return nil
	}
	batchID := uuid.NewString()
	logger := s.logger.With(
		logging.String("kind", string(kind)),
		logging.String(logging.FieldCorrelationID, batchID))

	staged := kb.staged
	delete(s.batches, kind)

	if err := kb.batch.Commit(ctx); err != nil {
		s.summary.Failed += len(staged)
		return fmt.Errorf("commit %s batch: %w", kind, err)
	}
	s.summary.Commits++
	s.summary.add(kind, len(staged))

	for _, entity := range staged {
		s.state.MarkSynced(kind, entity.id, entity.fingerprint)
	}
	if err := s.state.Save(); err != nil {
		// Entities were committed remotely; a stale checkpoint only costs
		// re-uploads next pass.
		logger.Error("sync checkpoint save failed", logging.Error(err))
	}
	logger.Info("batch committed", logging.Int("entities", len(staged)))
	return nil
}

func (s *Syncer) upload(ctx context.Context, localPath, remoteKey string) (string, error) {
	info, err := s.store.UploadBlob(ctx, localPath, remoteKey, "")
	if err != nil {
		return "", err
	}
	if !info.Existed {
		s.summary.Uploads++
	}
	return info.URL, nil
}

func (s *Syncer) docKey(docID, rest string) string {
	return s.keyPrefix + "/documents/" + docID + "/" + rest
}

func (s *Syncer) imageKey(imageID, rest string) string {
	return s.keyPrefix + "/images/" + imageID + "/" + rest
}
