// Package layout derives the canonical on-disk artifact paths for every
// pipeline stage, and reconciles legacy artifact locations into the canonical
// nested layout.
//
// The filesystem contract: <root>/<doc_stem>/ holds document-level previews
// and metadata; <root>/<doc_stem>/images/ holds extracted source images; and
// <root>/<doc_stem>/images/<image_stem>/ holds the per-image artifacts
// (analysis.json, eval.json, faces.json, derivative sizes, ocr.md).
package layout

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Derivative size names in ascending order. Document previews use the subset
// returned by PreviewSizes.
const (
	SizeTiny   = "tiny"
	SizeThumb  = "thumb"
	SizeSmall  = "small"
	SizeMedium = "medium"
	SizeFull   = "full"
)

// DerivativeWidths maps each resized derivative name to its target width in
// pixels. Full keeps the source dimensions.
var DerivativeWidths = map[string]int{
	SizeTiny:   64,
	SizeThumb:  128,
	SizeSmall:  512,
	SizeMedium: 1024,
}

// DerivativeSizes returns every per-image derivative name, smallest first.
func DerivativeSizes() []string {
	return []string{SizeTiny, SizeThumb, SizeSmall, SizeMedium, SizeFull}
}

// PreviewSizes returns the document-level preview names.
func PreviewSizes() []string {
	return []string{SizeThumb, SizeSmall, SizeMedium}
}

var sourceImageExts = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".tif": {}, ".tiff": {}, ".bmp": {}, ".webp": {},
}

// Stem returns the file name without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// DocDir returns the document artifact directory for a downloaded file:
// a sibling directory named after the file's stem.
func DocDir(localPath string) string {
	return filepath.Join(filepath.Dir(localPath), Stem(localPath))
}

// ContentPath returns the extracted-text artifact for a document.
func ContentPath(docDir string) string {
	return filepath.Join(docDir, "content.txt")
}

// InfoPath returns the document metadata artifact.
func InfoPath(docDir string) string {
	return filepath.Join(docDir, "info.json")
}

// DocOCRPath returns the document-level OCR transcript artifact.
func DocOCRPath(docDir string) string {
	return filepath.Join(docDir, "ocr.md")
}

// DocPreviewPath returns a document-level preview image path.
func DocPreviewPath(docDir, size string) string {
	return filepath.Join(docDir, size+".avif")
}

// ImagesDir returns the directory holding a document's extracted images.
func ImagesDir(docDir string) string {
	return filepath.Join(docDir, "images")
}

// ArtifactDir returns the canonical per-image artifact directory: a sibling
// directory named after the image's stem.
func ArtifactDir(imagePath string) string {
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath))
}

// AnalysisPath returns the structured visual-analysis artifact.
func AnalysisPath(artifactDir string) string {
	return filepath.Join(artifactDir, "analysis.json")
}

// AnalysisRawPath returns the raw-text fallback written when the model
// response could not be parsed.
func AnalysisRawPath(artifactDir string) string {
	return filepath.Join(artifactDir, "analysis.txt")
}

// EvalPath returns the photo-likelihood evaluation artifact.
func EvalPath(artifactDir string) string {
	return filepath.Join(artifactDir, "eval.json")
}

// FacesPath returns the face-detection artifact.
func FacesPath(artifactDir string) string {
	return filepath.Join(artifactDir, "faces.json")
}

// ImageOCRPath returns the per-image OCR transcript artifact.
func ImageOCRPath(artifactDir string) string {
	return filepath.Join(artifactDir, "ocr.md")
}

// DerivativePath returns a per-image derivative of the given size.
func DerivativePath(artifactDir, size string) string {
	return filepath.Join(artifactDir, size+".avif")
}

// LegacyAnalysisPath returns the deprecated flat sidecar location for an
// image's analysis (<image_path>.json).
func LegacyAnalysisPath(imagePath string) string {
	return imagePath + ".json"
}

// LegacyAnalysisRawPath returns the deprecated flat sidecar location for the
// raw-text fallback (<image_path>.txt).
func LegacyAnalysisRawPath(imagePath string) string {
	return imagePath + ".txt"
}

// IsSourceImage reports whether path names an extracted source image rather
// than a generated derivative or sidecar.
func IsSourceImage(path string) bool {
	_, ok := sourceImageExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ListSourceImages returns the source images directly inside imagesDir,
// sorted by name. A missing directory yields an empty slice.
func ListSourceImages(imagesDir string) []string {
	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		return nil
	}
	var images []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if IsSourceImage(entry.Name()) {
			images = append(images, filepath.Join(imagesDir, entry.Name()))
		}
	}
	sort.Strings(images)
	return images
}

// ListArtifactDirs returns the per-image artifact directories inside
// imagesDir, sorted by name.
func ListArtifactDirs(imagesDir string) []string {
	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, filepath.Join(imagesDir, entry.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs
}

// SourceImageFor locates the source image an artifact directory belongs to by
// probing the known extensions next to it.
func SourceImageFor(artifactDir string) (string, bool) {
	for ext := range sourceImageExts {
		candidate := artifactDir + ext
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
		upper := artifactDir + strings.ToUpper(ext)
		if _, err := os.Stat(upper); err == nil {
			return upper, true
		}
	}
	return "", false
}

// SanitizeStem normalizes a discovered file name into a filesystem-safe stem:
// unicode compatibility normalization followed by replacement of everything
// outside [A-Za-z0-9._-] with underscores.
func SanitizeStem(name string) string {
	name = norm.NFKC.String(name)
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
