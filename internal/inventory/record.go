package inventory

import (
	"strings"
	"time"
)

// Status represents the fetch lifecycle of an item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDownloaded Status = "downloaded"
	StatusFailed     Status = "failed"
)

// Well-known record attribute names. Stages own their attribute namespace and
// only ever add or overwrite their own keys.
const (
	AttrStatus         = "status"
	AttrLocalPath      = "local_path"
	AttrSourcePage     = "source_page"
	AttrFoundText      = "found_text"
	AttrDiscoveredAt   = "discovered_at"
	AttrError          = "error"
	AttrClassification = "classification"
	AttrPageCount      = "page_count"
	AttrAvgTextPerPage = "avg_text_per_page"
	AttrExtractionDir  = "extraction_dir"
	AttrExtraction     = "extraction_status"
	AttrAnalysis       = "image_analysis_status"
	AttrEvaluation     = "evaluation_status"
	AttrDerivatives    = "derivative_status"
	AttrFaces          = "face_status"
	AttrOCR            = "ocr_status"
)

// Stage completion markers stored under the stage status attributes.
const (
	StageDone    = "done"
	StagePartial = "partial"
)

// Record is one item's accumulated attributes. Values are whatever JSON
// yields; accessors below normalize the common cases.
type Record map[string]any

// Fields is a partial record used for merge updates.
type Fields = map[string]any

// Inventory is the full key-to-record mapping.
type Inventory map[string]Record

// Clone returns a copy of the record safe to mutate.
func (r Record) Clone() Record {
	cp := make(Record, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

// Status returns the item's fetch status, defaulting to pending.
func (r Record) Status() Status {
	s := strings.TrimSpace(r.String(AttrStatus))
	if s == "" {
		return StatusPending
	}
	return Status(s)
}

// LocalPath returns the downloaded file path, empty until fetched.
func (r Record) LocalPath() string {
	return r.String(AttrLocalPath)
}

// Classification returns the document classification, empty until classified.
func (r Record) Classification() string {
	return r.String(AttrClassification)
}

// ExtractionDir returns the recorded extraction directory, empty when the
// extract stage has not run.
func (r Record) ExtractionDir() string {
	return r.String(AttrExtractionDir)
}

// Title derives a display title from the crawl link text, falling back to the
// local file name.
func (r Record) Title() string {
	if text := strings.TrimSpace(r.String(AttrFoundText)); text != "" {
		return text
	}
	return baseName(r.LocalPath())
}

// String returns the attribute as a string, or "" when absent or a different
// type.
func (r Record) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// Int returns the attribute as an int. JSON decoding yields float64 for all
// numbers, so both are accepted.
func (r Record) Int(key string) int {
	switch v := r[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Float returns the attribute as a float64.
func (r Record) Float(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// NewRecord builds a freshly discovered record in the pending state.
func NewRecord(sourcePage, foundText string) Record {
	return Record{
		AttrStatus:       string(StatusPending),
		AttrSourcePage:   sourcePage,
		AttrFoundText:    foundText,
		AttrDiscoveredAt: time.Now().UTC().Format(time.RFC3339),
	}
}

func baseName(path string) string {
	if path == "" {
		return ""
	}
	if idx := strings.LastIndexAny(path, "/\\"); idx >= 0 {
		path = path[idx+1:]
	}
	return path
}
