// Package document turns files on disk into documents for the runtime.
// Plain-text files are read as is; PDFs go through a text extractor.
package document

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/formflow/internal/config"
	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/resilience"
)

// TextExtractor extracts text content from PDF files.
type TextExtractor interface {
	ExtractText(ctx context.Context, pdfPath string) (string, error)
}

// NewTextExtractor creates the PDF text extractor named by cfg. Remote
// providers call out under policy.
func NewTextExtractor(cfg config.DocumentConfig, policy resilience.Policy) (TextExtractor, error) {
	switch cfg.OCRProvider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("document: mistral provider requires mistral_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel, policy), nil
	default:
		return nil, eris.Errorf("document: unknown OCR provider %q", cfg.OCRProvider)
	}
}

// Loader reads documents from disk.
type Loader struct {
	pdf TextExtractor
}

// NewLoader creates a Loader. A nil pdf extractor rejects PDF inputs.
func NewLoader(pdf TextExtractor) *Loader {
	return &Loader{pdf: pdf}
}

// Load reads one file. The document ID is the file's base name without its
// extension.
func (l *Loader) Load(ctx context.Context, path string) (model.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	doc := model.Document{
		ID:       strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Metadata: map[string]string{"source": path},
	}

	if ext == ".pdf" {
		if l.pdf == nil {
			return model.Document{}, eris.Errorf("document: no PDF extractor configured for %s", path)
		}
		text, err := l.pdf.ExtractText(ctx, path)
		if err != nil {
			return model.Document{}, eris.Wrapf(err, "document: extract %s", path)
		}
		doc.Content = text
		doc.Metadata["format"] = "pdf"
	} else {
		data, err := os.ReadFile(path) //nolint:gosec
		if err != nil {
			return model.Document{}, eris.Wrapf(err, "document: read %s", path)
		}
		doc.Content = string(data)
		doc.Metadata["format"] = "text"
	}

	if strings.TrimSpace(doc.Content) == "" {
		zap.L().Warn("document: no text content", zap.String("document", doc.ID), zap.String("source", path))
	}
	return doc, nil
}

// LoadAll reads every path in order and stops at the first failure.
// Document IDs must be unique across paths.
func (l *Loader) LoadAll(ctx context.Context, paths []string) ([]model.Document, error) {
	docs := make([]model.Document, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		doc, err := l.Load(ctx, p)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[doc.ID]; ok {
			return nil, eris.Errorf("document: %s and %s share document ID %q", prev, p, doc.ID)
		}
		seen[doc.ID] = p
		docs = append(docs, doc)
	}
	return docs, nil
}
