package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/gofrs/flock"

	"vellum/internal/fileutil"
	"vellum/internal/logging"
)

// Store manages the serialized item inventory on disk.
type Store struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger
}

// NewStore creates a store for the inventory file at path.
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logging.NewComponentLogger(logger, "inventory"),
	}
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the full inventory. An absent or unparsable file yields an empty
// inventory rather than an error so stage passes stay non-fatal; a corrupt
// file is backed up and a single bounded salvage attempt is made first.
func (s *Store) Load() Inventory {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("inventory unreadable, starting empty",
				logging.String("path", s.path), logging.Error(err))
		}
		return Inventory{}
	}
	if len(data) == 0 {
		return Inventory{}
	}

	var inv Inventory
	if err := json.Unmarshal(data, &inv); err == nil {
		if inv == nil {
			inv = Inventory{}
		}
		return inv
	}

	s.backupCorrupt(data)
	if recovered, ok := salvage(data); ok {
		s.logger.Warn("inventory corrupt, recovered truncated copy",
			logging.String("path", s.path), logging.Int("items", len(recovered)))
		if err := s.Save(recovered); err != nil {
			s.logger.Warn("failed to persist recovered inventory", logging.Error(err))
		}
		return recovered
	}

	s.logger.Warn("inventory corrupt and unrecoverable, starting empty",
		logging.String("path", s.path))
	return Inventory{}
}

// Save writes the full inventory atomically.
func (s *Store) Save(inv Inventory) error {
	if inv == nil {
		inv = Inventory{}
	}
	if err := fileutil.WriteJSONAtomic(s.path, inv); err != nil {
		return fmt.Errorf("save inventory: %w", err)
	}
	return nil
}

// Get returns the record for key from a fresh read of the store.
func (s *Store) Get(key string) (Record, bool) {
	rec, ok := s.Load()[key]
	return rec, ok
}

// MergeUpdate re-reads the store, shallow-merges fields into the record for
// key (top-level keys in fields replace existing ones), and writes the store
// back. The cycle runs under an advisory file lock so two cooperating
// processes do not interleave their read-modify-write windows.
func (s *Store) MergeUpdate(key string, fields Fields) error {
	if key == "" {
		return errors.New("item key is empty")
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock inventory: %w", err)
	}
	defer func() {
		_ = s.lock.Unlock()
	}()

	inv := s.Load()
	rec, ok := inv[key]
	if !ok {
		rec = Record{}
	} else {
		rec = rec.Clone()
	}
	for k, v := range fields {
		rec[k] = v
	}
	inv[key] = rec
	return s.Save(inv)
}

// Append adds a newly discovered record for key, leaving an existing record
// untouched. Returns true when the key was new.
func (s *Store) Append(key string, rec Record) (bool, error) {
	if key == "" {
		return false, errors.New("item key is empty")
	}
	if err := s.lock.Lock(); err != nil {
		return false, fmt.Errorf("lock inventory: %w", err)
	}
	defer func() {
		_ = s.lock.Unlock()
	}()

	inv := s.Load()
	if _, exists := inv[key]; exists {
		return false, nil
	}
	inv[key] = rec
	return true, s.Save(inv)
}

func (s *Store) backupCorrupt(data []byte) {
	backupPath := s.path + ".corrupt.bak"
	if fileutil.Exists(backupPath) {
		return
	}
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		s.logger.Warn("failed to back up corrupt inventory", logging.Error(err))
		return
	}
	s.logger.Warn("backed up corrupt inventory", logging.String("backup", backupPath))
}
