// Package extractor reduces fetched bodies to canonical text and metadata.
package extractor

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"go.uber.org/zap"

	"github.com/lodestone-search/lodestone/internal/engine"
)

// Extractor dispatches on content type to a format-specific handler.
type Extractor struct {
	html   *htmlExtractor
	pdf    *pdfExtractor
	text   *textExtractor
	logger *zap.Logger
}

// Options controls format handler behavior.
type Options struct {
	// PdfToTextPath is the pdftotext binary invoked for PDF bodies.
	PdfToTextPath string
	// Timeout bounds a single PDF conversion.
	TimeoutSeconds int
	// MaxBodyBytes caps how much of a body is processed; zero means no cap.
	MaxBodyBytes int
}

// New creates an Extractor with handlers for HTML, PDF, and plain text.
func New(opts Options, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		html:   newHTMLExtractor(),
		pdf:    newPDFExtractor(opts.PdfToTextPath, opts.TimeoutSeconds),
		text:   newTextExtractor(),
		logger: logger,
	}
}

// Extract converts raw bytes into an ExtractedDocument. Unsupported content
// types return engine.ErrUnsupportedContentType so callers can skip the
// target without treating it as a pipeline failure.
func (e *Extractor) Extract(ctx context.Context, body []byte, contentType string) (engine.ExtractedDocument, error) {
	mediaType := mediaTypeOf(contentType)

	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return e.html.extract(ctx, body)
	case mediaType == "application/pdf":
		return e.pdf.extract(ctx, body)
	case strings.HasPrefix(mediaType, "text/"):
		return e.text.extract(body, mediaType)
	default:
		e.logger.Debug("skipping unsupported content type",
			zap.String("content_type", contentType),
		)
		return engine.ExtractedDocument{}, fmt.Errorf("content type %q: %w", contentType, engine.ErrUnsupportedContentType)
	}
}

// mediaTypeOf parses a Content-Type header value down to its media type.
// Unparseable values fall back to the raw lowercased string so that bare
// values like "text/html" still dispatch.
func mediaTypeOf(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}
