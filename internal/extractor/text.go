package extractor

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/lodestone-search/lodestone/internal/engine"
)

type textExtractor struct{}

func newTextExtractor() *textExtractor {
	return &textExtractor{}
}

// extract treats the body as plain text. The first non-empty line becomes
// the title when it is short enough to plausibly be one.
func (t *textExtractor) extract(body []byte, mediaType string) (engine.ExtractedDocument, error) {
	if !utf8.Valid(body) {
		body = bytes.ToValidUTF8(body, []byte("�"))
	}
	content := collapseWhitespace(string(body))

	var title string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) <= 120 {
			title = line
		}
		break
	}

	return engine.ExtractedDocument{
		Title:       title,
		Content:     content,
		ContentType: mediaType,
	}, nil
}
