package inventory

import (
	"errors"
	"sync"
)

// Writer serializes inventory mutations from concurrent stage workers onto a
// single goroutine, so parallel workers cannot lose each other's updates in
// the load-merge-store window.
type Writer struct {
	store *Store

	mu       sync.Mutex
	requests chan mergeRequest
	done     chan struct{}
	closed   bool
}

type mergeRequest struct {
	key    string
	fields Fields
	result chan error
}

// NewWriter starts the single-writer goroutine for store.
func NewWriter(store *Store) *Writer {
	w := &Writer{
		store:    store,
		requests: make(chan mergeRequest, 16),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for req := range w.requests {
		req.result <- w.store.MergeUpdate(req.key, req.fields)
	}
}

// Merge applies a shallow merge for key and waits for it to be persisted.
// Safe to call from any goroutine.
func (w *Writer) Merge(key string, fields Fields) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return errors.New("inventory writer closed")
	}
	req := mergeRequest{key: key, fields: fields, result: make(chan error, 1)}
	w.requests <- req
	w.mu.Unlock()
	return <-req.result
}

// Close drains pending merges and stops the writer goroutine.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.requests)
	w.mu.Unlock()
	<-w.done
}
