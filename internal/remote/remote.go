// Package remote defines the surface the publisher needs from the remote
// document/object store: idempotent blob uploads, record upserts batched
// into atomic commits, and optional vector-search support.
//
// The production implementation lives in remote/firebase; tests substitute
// an in-memory store.
package remote

import "context"

// Collection names used by the publisher.
const (
	CollectionDocuments = "documents"
	CollectionImages    = "images"
	CollectionFaces     = "faces"
)

// BlobInfo describes an uploaded (or already-present) blob.
type BlobInfo struct {
	URL     string
	Existed bool
}

// Batch accumulates record upserts for one atomic commit. Records merge
// into existing remote records field by field.
type Batch interface {
	Upsert(collection, id string, fields map[string]any)
	Len() int
	Commit(ctx context.Context) error
}

// Store is the remote store surface consumed by the publisher. Uploads are
// at-least-once and must be safe to retry; an existing remote blob is
// reported, not rewritten.
type Store interface {
	UploadBlob(ctx context.Context, localPath, remoteKey, contentType string) (BlobInfo, error)
	NewBatch() Batch

	// SupportsVectors reports whether Vector produces a value the store
	// indexes for vector search. When false, callers must surface that
	// feature vectors are stored as plain lists.
	SupportsVectors() bool
	// Vector wraps a feature vector in the store's native vector type, or
	// returns it as an opaque ordered list when unsupported.
	Vector(values []float32) any

	Close() error
}
