package loader

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"docqa/loader/internal"
	"docqa/types"
)

const pdfMIME = "application/pdf"

// PDFLoader turns uploaded PDF bytes into one Document per page.
type PDFLoader struct {
	logger *slog.Logger
	conf   *model.Configuration
}

func NewPDFLoader(logger *slog.Logger) *PDFLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFLoader{
		logger: logger,
		conf:   internal.NewConfiguration(),
	}
}

// Load validates data as a PDF and extracts its pages. Non-PDF input, a
// broken file, or a PDF without any extractable text is a validation error.
func (l *PDFLoader) Load(ctx context.Context, data []byte, filename string) ([]types.Document, error) {
	if len(data) == 0 {
		return nil, types.Validationf("%s: empty upload", filename)
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return nil, types.Validationf("%s: only .pdf files are supported", filename)
	}
	if mt := mimetype.Detect(data); !mt.Is(pdfMIME) {
		return nil, types.Validationf("%s: detected %s, want %s", filename, mt.String(), pdfMIME)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pages, err := internal.ReadPages(data, l.conf)
	if err != nil {
		return nil, types.Validationf("%s: %v", filename, err)
	}

	docs := make([]types.Document, 0, len(pages))
	hasText := false
	for i, text := range pages {
		if strings.TrimSpace(text) != "" {
			hasText = true
		}
		docs = append(docs, types.Document{
			Content: text,
			Metadata: map[string]string{
				types.MetaSource:     filename,
				types.MetaPage:       strconv.Itoa(i),
				types.MetaTotalPages: strconv.Itoa(len(pages)),
			},
		})
	}
	if !hasText {
		return nil, types.Validationf("%s: no extractable text in %d pages", filename, len(pages))
	}

	l.logger.Debug("pdf loaded", "filename", filename, "pages", len(pages))
	return docs, nil
}
