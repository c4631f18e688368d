// Package extract pulls text and embedded raster images out of downloaded
// documents into the per-document artifact directory.
//
// PDFs yield <doc>/content.txt, <doc>/info.json with the document metadata,
// and <doc>/images/pageN_imgM.<ext>; ZIP
// archives are unpacked into the document directory with path traversal
// guarded. Extraction is re-runnable: artifacts are rewritten in place and
// image names are deterministic.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"

	"vellum/internal/fileutil"
	"vellum/internal/inventory"
	"vellum/internal/layout"
	"vellum/internal/logging"
)

// Handler implements the extraction stage.
type Handler struct {
	logger *slog.Logger
}

// NewHandler returns the extraction stage handler.
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{logger: logger.With(logging.String(logging.FieldComponent, "extract"))}
}

func (h *Handler) Name() string { return "extract" }

func (h *Handler) Eligible(key string, rec inventory.Record) bool {
	if rec.Status() != inventory.StatusDownloaded {
		return false
	}
	local := rec.LocalPath()
	if !fileutil.Exists(local) {
		return false
	}
	switch strings.ToLower(filepath.Ext(local)) {
	case ".pdf":
		return rec.Classification() != ""
	case ".zip":
		return true
	default:
		return false
	}
}

func (h *Handler) Done(key string, rec inventory.Record) bool {
	if rec.String(inventory.AttrExtraction) != inventory.StageDone {
		return false
	}
	return fileutil.IsDir(rec.ExtractionDir())
}

func (h *Handler) Process(ctx context.Context, key string, rec inventory.Record) (inventory.Fields, error) {
	local := rec.LocalPath()
	docDir := layout.DocDir(local)

	var err error
	switch strings.ToLower(filepath.Ext(local)) {
	case ".pdf":
		err = h.extractPDF(ctx, local, docDir)
	case ".zip":
		err = unzipInto(local, docDir)
	default:
		return nil, fmt.Errorf("extract %s: unsupported file type", local)
	}
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", local, err)
	}

	return inventory.Fields{
		inventory.AttrExtraction:    inventory.StageDone,
		inventory.AttrExtractionDir: docDir,
	}, nil
}

func (h *Handler) extractPDF(ctx context.Context, pdfPath, docDir string) error {
	imagesDir := layout.ImagesDir(docDir)
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return err
	}

	if text, err := extractText(pdfPath); err == nil && strings.TrimSpace(text) != "" {
		if werr := fileutil.WriteFileAtomic(layout.ContentPath(docDir), []byte(text), 0o644); werr != nil {
			return fmt.Errorf("write content: %w", werr)
		}
	} else if err != nil {
		// Scans often have no readable text layer. Images may still be
		// worth extracting, so log and carry on.
		h.logger.Debug("no text layer extracted", logging.String("path", pdfPath), logging.Error(err))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	count, err := extractImages(pdfPath, imagesDir)
	if err != nil {
		return fmt.Errorf("extract images: %w", err)
	}

	if err := writeInfo(pdfPath, docDir); err != nil {
		// Damaged trailers leave the document without metadata, not
		// without previews or text.
		h.logger.Debug("no document metadata extracted", logging.String("path", pdfPath), logging.Error(err))
	}

	h.logger.Debug("extracted document",
		logging.String("path", pdfPath),
		logging.Int("image_count", count))
	return nil
}

// Info is the document metadata artifact, written to info.json alongside the
// extracted text.
type Info struct {
	Title            string   `json:"title,omitempty"`
	Author           string   `json:"author,omitempty"`
	Subject          string   `json:"subject,omitempty"`
	Creator          string   `json:"creator,omitempty"`
	Producer         string   `json:"producer,omitempty"`
	CreationDate     string   `json:"creation_date,omitempty"`
	ModificationDate string   `json:"modification_date,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	PageCount        int      `json:"page_count"`
}

func writeInfo(pdfPath, docDir string) error {
	f, err := os.Open(pdfPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := api.PDFInfo(f, pdfPath, nil, nil)
	if err != nil {
		return err
	}
	return fileutil.WriteJSONAtomic(layout.InfoPath(docDir), docInfo(info))
}

func docInfo(info *pdfcpu.PDFInfo) Info {
	return Info{
		Title:            strings.TrimSpace(info.Title),
		Author:           strings.TrimSpace(info.Author),
		Subject:          strings.TrimSpace(info.Subject),
		Creator:          strings.TrimSpace(info.Creator),
		Producer:         strings.TrimSpace(info.Producer),
		CreationDate:     info.CreationDate,
		ModificationDate: info.ModificationDate,
		Keywords:         info.Keywords,
		PageCount:        info.PageCount,
	}
}

func extractText(pdfPath string) (string, error) {
	f, reader, err := pdf.Open(pdfPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	r, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// pdfcpu writes extracted images as <stem>_<page>_<resource>.<ext>.
var extractedImageName = regexp.MustCompile(`_(\d+)_[^_.]+\.([A-Za-z0-9]+)$`)

// extractImages extracts embedded images into imagesDir under the canonical
// pageN_imgM naming, smallest page and resource order first. Returns the
// number of images written.
func extractImages(pdfPath, imagesDir string) (int, error) {
	tmpDir, err := os.MkdirTemp(filepath.Dir(imagesDir), ".extract-*")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(tmpDir)

	if err := api.ExtractImagesFile(pdfPath, tmpDir, nil, nil); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return 0, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	count := 0
	perPage := make(map[int]int)
	for _, name := range names {
		m := extractedImageName.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		page, err := strconv.Atoi(m[1])
		if err != nil || page < 1 {
			continue
		}
		perPage[page]++
		target := filepath.Join(imagesDir, fmt.Sprintf("page%d_img%d.%s", page, perPage[page], strings.ToLower(m[2])))
		if err := os.Rename(filepath.Join(tmpDir, name), target); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// unzipInto unpacks archivePath into targetDir, rejecting member names that
// escape the target directory.
func unzipInto(archivePath, targetDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer zr.Close()

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return err
	}
	for _, member := range zr.File {
		target, err := memberPath(targetDir, member.Name)
		if err != nil {
			return err
		}
		if member.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := writeMember(member, target); err != nil {
			return fmt.Errorf("unzip %s: %w", member.Name, err)
		}
	}
	return nil
}

func memberPath(targetDir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || cleaned == ".." {
		return "", fmt.Errorf("unzip: member %q escapes target directory", name)
	}
	return filepath.Join(targetDir, cleaned), nil
}

func writeMember(member *zip.File, target string) error {
	src, err := member.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
