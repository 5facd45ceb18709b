// Package ocr extracts raw text from invoice documents. PDFs go through
// pdftotext, scanned images through tesseract; the router picks by file
// extension.
package ocr

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/facturio/factura-cli/internal/config"
)

// Extractor extracts text content from a document file.
type Extractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// docExtractor routes documents to the right backend by extension.
type docExtractor struct {
	pdf   *PdfToText
	image *Tesseract
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.OCRConfig) Extractor {
	return &docExtractor{
		pdf:   NewPdfToText(cfg.PdfToTextPath),
		image: NewTesseract(cfg.TesseractPath, cfg.Languages),
	}
}

func (d *docExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return d.pdf.ExtractText(ctx, path)
	case ".jpg", ".jpeg", ".png":
		return d.image.ExtractText(ctx, path)
	default:
		return "", eris.Errorf("ocr: unsupported file type %q", filepath.Ext(path))
	}
}
