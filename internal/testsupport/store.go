package testsupport

import (
	"testing"

	"vellum/internal/config"
	"vellum/internal/inventory"
	"vellum/internal/logging"
)

// MustOpenStore opens the inventory store for tests.
func MustOpenStore(t testing.TB, cfg *config.Config) *inventory.Store {
	t.Helper()
	return inventory.NewStore(cfg.Paths.InventoryPath, logging.NewNop())
}

// NewDownloadedItem seeds a downloaded record for key pointing at localPath
// and persists it.
func NewDownloadedItem(t testing.TB, store *inventory.Store, key, localPath string) inventory.Record {
	t.Helper()

	rec := inventory.Record{
		inventory.AttrStatus:    string(inventory.StatusDownloaded),
		inventory.AttrLocalPath: localPath,
	}
	if err := store.MergeUpdate(key, rec); err != nil {
		t.Fatalf("seed item %s: %v", key, err)
	}
	return rec
}
