package source

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

var whitespaceRe = regexp.MustCompile(`[ \t]+`)

// extractBody pulls the readable advisory body out of a detail page.
// Readability handles the agency page chrome; when it yields nothing useful
// the raw document text is used as a fallback.
func extractBody(htmlContent string, pageURL *url.URL) (string, error) {
	article, err := readability.FromReader(strings.NewReader(htmlContent), pageURL)
	if err == nil {
		text := strings.TrimSpace(article.TextContent)
		if text != "" {
			return collapseWhitespace(text), nil
		}
	}

	doc, derr := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if derr != nil {
		if err != nil {
			return "", fmt.Errorf("readability: %v; goquery: %w", err, derr)
		}
		return "", derr
	}
	doc.Find("script, style, nav, header, footer").Remove()
	return collapseWhitespace(strings.TrimSpace(doc.Find("body").Text())), nil
}

func collapseWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(whitespaceRe.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
