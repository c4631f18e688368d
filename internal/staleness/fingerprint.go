// Package staleness decides whether a remote entity needs republishing.
//
// An entity's freshness fingerprint is the maximum modification time across
// its declared dependent artifacts; comparing it against the checkpoint
// persisted after the last successful batch commit avoids re-uploading
// unchanged blobs on every pipeline pass. Modification times are compared at
// millisecond precision, matching the persisted representation.
package staleness

import (
	"os"
	"time"
)

// Fingerprint returns the maximum modification time across all paths that
// exist. Paths that do not exist are ignored; when none exist the zero time
// is returned.
func Fingerprint(paths []string) time.Time {
	var max time.Time
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if mt := info.ModTime(); mt.After(max) {
			max = mt
		}
	}
	return max
}
