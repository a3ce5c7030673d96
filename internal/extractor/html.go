package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lodestone-search/lodestone/internal/engine"
)

// Elements whose text is boilerplate rather than document content.
var chromeSelectors = []string{"script", "style", "noscript", "nav", "header", "footer", "aside", "template"}

type htmlExtractor struct{}

func newHTMLExtractor() *htmlExtractor {
	return &htmlExtractor{}
}

func (h *htmlExtractor) extract(ctx context.Context, body []byte) (engine.ExtractedDocument, error) {
	if err := ctx.Err(); err != nil {
		return engine.ExtractedDocument{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return engine.ExtractedDocument{}, fmt.Errorf("parse html: %w", engine.ErrExtraction)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	description, _ := doc.Find(`meta[name="description"]`).First().Attr("content")
	if description == "" {
		description, _ = doc.Find(`meta[property="og:description"]`).First().Attr("content")
	}
	description = strings.TrimSpace(description)

	var links []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		links = append(links, href)
	})

	for _, sel := range chromeSelectors {
		doc.Find(sel).Remove()
	}

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	content := collapseWhitespace(root.Text())

	return engine.ExtractedDocument{
		Title:       title,
		Description: description,
		Content:     content,
		Links:       links,
		ContentType: "text/html",
	}, nil
}

// collapseWhitespace joins all runs of whitespace into single spaces so the
// tokenizer sees a stable stream regardless of source markup formatting.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
