package staleness

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"vellum/internal/fileutil"
	"vellum/internal/logging"
)

// Kind names one of the entity families tracked by the sync checkpoint.
type Kind string

const (
	KindDocuments Kind = "documents"
	KindImages    Kind = "images"
	KindFaces     Kind = "faces"
)

// SyncState is the persisted publish checkpoint: for each entity kind it maps
// entity IDs to the fingerprint (unix milliseconds) that was current when the
// entity was last committed remotely. Advancing the checkpoint is the
// caller's responsibility and must happen only after a successful commit.
type SyncState struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	kinds map[Kind]map[string]int64
}

// LoadSyncState reads the checkpoint at path. A missing file yields an empty
// checkpoint. A corrupt file is moved aside to <path>.corrupt.bak and replaced
// with an empty checkpoint so that the worst outcome of corruption is
// re-uploading entities, never losing pipeline state.
func LoadSyncState(path string, logger *slog.Logger) *SyncState {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &SyncState{
		path:   path,
		logger: logger,
		kinds:  make(map[Kind]map[string]int64),
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s
	}
	if err != nil {
		logger.Warn("sync state unreadable, starting empty", logging.String("path", path), logging.Error(err))
		return s
	}
	var raw map[Kind]map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		backup := path + ".corrupt.bak"
		if werr := os.WriteFile(backup, data, 0o644); werr == nil {
			logger.Warn("sync state corrupt, backed up and reset",
				logging.String("path", path),
				logging.String("backup", backup),
				logging.Error(err))
		} else {
			logger.Warn("sync state corrupt and backup failed, resetting",
				logging.String("path", path),
				logging.Error(err))
		}
		return s
	}
	for kind, entries := range raw {
		if entries == nil {
			continue
		}
		s.kinds[kind] = entries
	}
	return s
}

// IsStale reports whether the entity identified by kind/id must be
// republished given its current fingerprint. Entities with no recorded
// checkpoint are always stale, as is everything when force is set.
func (s *SyncState) IsStale(kind Kind, id string, fingerprint time.Time, force bool) bool {
	if force {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.kinds[kind]
	if !ok {
		return true
	}
	last, ok := entries[id]
	if !ok {
		return true
	}
	return fingerprint.UnixMilli() > last
}

// MarkSynced records the fingerprint for kind/id in memory. The change is not
// durable until Save.
func (s *SyncState) MarkSynced(kind Kind, id string, fingerprint time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.kinds[kind]
	if !ok {
		entries = make(map[string]int64)
		s.kinds[kind] = entries
	}
	entries[id] = fingerprint.UnixMilli()
}

// LastSynced returns the recorded fingerprint for kind/id, or the zero time
// when none is recorded.
func (s *SyncState) LastSynced(kind Kind, id string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.kinds[kind]
	if !ok {
		return time.Time{}
	}
	last, ok := entries[id]
	if !ok {
		return time.Time{}
	}
	return time.UnixMilli(last)
}

// Count returns the number of recorded entities for kind.
func (s *SyncState) Count(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.kinds[kind])
}

// Save writes the checkpoint atomically.
func (s *SyncState) Save() error {
	s.mu.Lock()
	snapshot := make(map[Kind]map[string]int64, len(s.kinds))
	for kind, entries := range s.kinds {
		copied := make(map[string]int64, len(entries))
		for id, ms := range entries {
			copied[id] = ms
		}
		snapshot[kind] = copied
	}
	s.mu.Unlock()

	if err := fileutil.WriteJSONAtomic(s.path, snapshot); err != nil {
		return fmt.Errorf("saving sync state: %w", err)
	}
	return nil
}
