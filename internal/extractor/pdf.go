package extractor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/lodestone-search/lodestone/internal/engine"
)

// pdfExtractor shells out to pdftotext. Keeping the conversion out of
// process isolates the crawler from malformed PDFs crashing the parser.
type pdfExtractor struct {
	binary  string
	timeout time.Duration
}

func newPDFExtractor(binary string, timeoutSeconds int) *pdfExtractor {
	if binary == "" {
		binary = "pdftotext"
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &pdfExtractor{binary: binary, timeout: time.Duration(timeoutSeconds) * time.Second}
}

func (p *pdfExtractor) extract(ctx context.Context, body []byte) (engine.ExtractedDocument, error) {
	dir, err := os.MkdirTemp("", "lodestone-pdf-*")
	if err != nil {
		return engine.ExtractedDocument{}, fmt.Errorf("pdf temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(src, body, 0o600); err != nil {
		return engine.ExtractedDocument{}, fmt.Errorf("pdf temp write: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// "-" writes the converted text to stdout.
	cmd := exec.CommandContext(ctx, p.binary, "-enc", "UTF-8", src, "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return engine.ExtractedDocument{}, fmt.Errorf("pdftotext: %w", ctxErr)
		}
		return engine.ExtractedDocument{}, fmt.Errorf("pdftotext: %s: %w", strings.TrimSpace(stderr.String()), engine.ErrExtraction)
	}

	content := collapseWhitespace(stdout.String())
	if content == "" {
		return engine.ExtractedDocument{}, fmt.Errorf("pdftotext produced no text: %w", engine.ErrExtraction)
	}

	return engine.ExtractedDocument{
		Content:     content,
		ContentType: "application/pdf",
	}, nil
}
