// Package firebase implements the remote store over Firestore and Cloud
// Storage.
//
// Records live in Firestore collections and commit through write batches
// (all-or-nothing per batch). Blobs go to a Cloud Storage bucket; an object
// that already exists is never re-uploaded. Face feature vectors are stored
// as Firestore vector values so they participate in vector-search indexes.
package firebase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"vellum/internal/remote"
)

// Config carries the settings needed to reach the project.
type Config struct {
	ProjectID       string
	Bucket          string
	CredentialsPath string
	// PlainVectors stores embeddings as ordinary arrays instead of Firestore
	// vector values, for projects without a vector-search index.
	PlainVectors bool
}

// Store talks to Firestore and Cloud Storage.
type Store struct {
	fs           *firestore.Client
	gcs          *storage.Client
	bucket       *storage.BucketHandle
	name         string
	plainVectors bool
}

// New connects to the configured project. Credentials fall back to
// application default credentials when no path is set.
func New(ctx context.Context, cfg Config) (*Store, error) {
	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}

	fs, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	gcs, err := storage.NewClient(ctx, opts...)
	if err != nil {
		fs.Close()
		return nil, fmt.Errorf("storage client: %w", err)
	}
	return &Store{
		fs:           fs,
		gcs:          gcs,
		bucket:       gcs.Bucket(cfg.Bucket),
		name:         cfg.Bucket,
		plainVectors: cfg.PlainVectors,
	}, nil
}

// UploadBlob uploads localPath to remoteKey unless the object already
// exists. Either way the object's public URL is returned.
func (s *Store) UploadBlob(ctx context.Context, localPath, remoteKey, contentType string) (remote.BlobInfo, error) {
	obj := s.bucket.Object(remoteKey)
	url := fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.name, remoteKey)

	_, err := obj.Attrs(ctx)
	switch {
	case err == nil:
		return remote.BlobInfo{URL: url, Existed: true}, nil
	case !errors.Is(err, storage.ErrObjectNotExist):
		return remote.BlobInfo{}, fmt.Errorf("stat %s: %w", remoteKey, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return remote.BlobInfo{}, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(localPath))
	}
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return remote.BlobInfo{}, fmt.Errorf("upload %s: %w", remoteKey, err)
	}
	if err := w.Close(); err != nil {
		return remote.BlobInfo{}, fmt.Errorf("upload %s: %w", remoteKey, err)
	}
	return remote.BlobInfo{URL: url}, nil
}

// NewBatch returns a write batch. Commit is atomic: either every staged
// upsert lands or none do.
func (s *Store) NewBatch() remote.Batch {
	return &batch{wb: s.fs.Batch(), fs: s.fs}
}

type batch struct {
	fs *firestore.Client
	wb *firestore.WriteBatch
	n  int
}

func (b *batch) Upsert(collection, id string, fields map[string]any) {
	b.wb.Set(b.fs.Collection(collection).Doc(id), fields, firestore.MergeAll)
	b.n++
}

func (b *batch) Len() int { return b.n }

func (b *batch) Commit(ctx context.Context) error {
	if b.n == 0 {
		return nil
	}
	if _, err := b.wb.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// SupportsVectors reports whether embeddings are stored as Firestore vector
// values. False only when the store was configured for plain arrays.
func (s *Store) SupportsVectors() bool { return !s.plainVectors }

// Vector wraps values as a Firestore vector so vector-search indexes apply,
// or passes them through untouched in plain-vector mode.
func (s *Store) Vector(values []float32) any {
	if s.plainVectors {
		return values
	}
	return firestore.Vector32(values)
}

// Close releases both clients.
func (s *Store) Close() error {
	gcsErr := s.gcs.Close()
	if err := s.fs.Close(); err != nil {
		return err
	}
	return gcsErr
}
