package extractor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-search/lodestone/internal/engine"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title>Ownership and Borrowing</title>
  <meta name="description" content="A guide to memory safety without garbage collection.">
  <script>window.tracker = true;</script>
  <style>body { color: red; }</style>
</head>
<body>
  <nav><a href="/home">Home</a></nav>
  <h1>Ownership</h1>
  <p>Every value has a single owner at any given time.</p>
  <a href="/chapters/borrowing.html">Borrowing</a>
  <a href="https://example.com/external">External</a>
  <a href="#section">Fragment only</a>
  <a href="mailto:someone@example.com">Mail</a>
  <a href="/chapters/borrowing.html">Borrowing again</a>
  <footer>Copyright 2026</footer>
</body>
</html>`

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	return New(Options{}, nil)
}

func TestExtractHTML(t *testing.T) {
	ex := newTestExtractor(t)

	doc, err := ex.Extract(context.Background(), []byte(samplePage), "text/html; charset=utf-8")
	require.NoError(t, err)

	assert.Equal(t, "Ownership and Borrowing", doc.Title)
	assert.Equal(t, "A guide to memory safety without garbage collection.", doc.Description)
	assert.Contains(t, doc.Content, "Every value has a single owner")

	// Boilerplate elements must not leak into the content stream.
	assert.NotContains(t, doc.Content, "window.tracker")
	assert.NotContains(t, doc.Content, "color: red")
	assert.NotContains(t, doc.Content, "Copyright 2026")
	assert.NotContains(t, doc.Content, "Home")

	// Fragment-only, mailto, and duplicate links are dropped.
	assert.Equal(t, []string{"/home", "/chapters/borrowing.html", "https://example.com/external"}, doc.Links)
}

func TestExtractHTMLFallbackTitle(t *testing.T) {
	ex := newTestExtractor(t)

	doc, err := ex.Extract(context.Background(), []byte(`<html><body><h1>Heading Title</h1><p>body</p></body></html>`), "text/html")
	require.NoError(t, err)
	assert.Equal(t, "Heading Title", doc.Title)
}

func TestExtractPlainText(t *testing.T) {
	ex := newTestExtractor(t)

	body := "Release Notes\n\nFixed a crash in the parser.\n"
	doc, err := ex.Extract(context.Background(), []byte(body), "text/plain")
	require.NoError(t, err)

	assert.Equal(t, "Release Notes", doc.Title)
	assert.Equal(t, "Release Notes Fixed a crash in the parser.", doc.Content)
	assert.Empty(t, doc.Links)
}

func TestExtractUnsupportedContentType(t *testing.T) {
	ex := newTestExtractor(t)

	_, err := ex.Extract(context.Background(), []byte{0x89, 0x50, 0x4e, 0x47}, "image/png")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrUnsupportedContentType)
}

func TestExtractRespectsCancelledContext(t *testing.T) {
	ex := newTestExtractor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ex.Extract(ctx, []byte(samplePage), "text/html")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMediaTypeOf(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"text/html; charset=utf-8", "text/html"},
		{"TEXT/HTML", "text/html"},
		{"application/pdf", "application/pdf"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mediaTypeOf(tt.in), tt.in)
	}
}
