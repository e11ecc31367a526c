// Package extraction turns stored report files (images and PDFs) into
// markdown for the insight pipeline.
package extraction

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/medsum/platform/internal/shared/errors"
)

// Kind is the source file family an extractor can handle.
type Kind int

const (
	KindUnsupported Kind = iota
	KindImage
	KindPDF
)

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".webp": "image/webp",
}

// DetectKind classifies a file by extension.
func DetectKind(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".pdf" {
		return KindPDF
	}
	if _, ok := imageExtensions[ext]; ok {
		return KindImage
	}
	return KindUnsupported
}

// MimeType returns the MIME type for a supported file, or "".
func MimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".pdf" {
		return "application/pdf"
	}
	return imageExtensions[ext]
}

// Resolver maps stored file locations onto the local filesystem.
type Resolver struct {
	root string
}

// NewResolver resolves relative locations against root.
func NewResolver(root string) Resolver {
	if root == "" {
		root = "."
	}
	return Resolver{root: root}
}

// Resolve returns the absolute path of an existing regular file.
func (r Resolver) Resolve(location string) (string, error) {
	if strings.TrimSpace(location) == "" {
		return "", errors.Extraction("empty file location", nil)
	}
	path := location
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.root, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Extraction(fmt.Sprintf("source file %s is not readable", location), err)
	}
	if info.IsDir() {
		return "", errors.Extraction(fmt.Sprintf("source file %s is a directory", location), nil)
	}
	return path, nil
}
