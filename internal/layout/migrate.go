package layout

import (
	"fmt"
	"os"

	"vellum/internal/fileutil"
)

// MigrateLegacySidecars moves an image's deprecated flat sidecar artifacts
// (<image>.json, <image>.txt) into the canonical artifact directory. When
// both a legacy and a canonical artifact exist, the canonical one stays
// authoritative and the legacy file is left untouched; nothing is ever
// deleted. Returns the number of files moved.
//
// Every stage must call this before its done-check so legacy and canonical
// layouts are reconciled once per image rather than inspected repeatedly.
func MigrateLegacySidecars(imagePath string) (int, error) {
	artifactDir := ArtifactDir(imagePath)

	moves := []struct {
		legacy    string
		canonical string
	}{
		{LegacyAnalysisPath(imagePath), AnalysisPath(artifactDir)},
		{LegacyAnalysisRawPath(imagePath), AnalysisRawPath(artifactDir)},
	}

	migrated := 0
	for _, move := range moves {
		if !fileutil.Exists(move.legacy) {
			continue
		}
		if fileutil.Exists(move.canonical) {
			// Canonical wins; never silently delete the legacy copy.
			continue
		}
		if err := os.MkdirAll(artifactDir, 0o755); err != nil {
			return migrated, fmt.Errorf("create artifact dir: %w", err)
		}
		if err := os.Rename(move.legacy, move.canonical); err != nil {
			return migrated, fmt.Errorf("migrate %s: %w", move.legacy, err)
		}
		migrated++
	}
	return migrated, nil
}
