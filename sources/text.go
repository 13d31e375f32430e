package sources

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxDescriptionRunes = 200

// cleanText strips markup, decodes entities and collapses whitespace.
func cleanText(s string) string {
	if s == "" {
		return ""
	}
	text := s
	if strings.ContainsAny(s, "<&") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
		if err == nil {
			text = doc.Text()
		}
	}
	// Feeds sometimes double-encode entities ("&amp;amp;").
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n]))
}

// splitTitle splits a Google News title of the form "Headline - Publisher".
func splitTitle(title string) (headline, publisher string) {
	idx := strings.LastIndex(title, " - ")
	if idx <= 0 {
		return title, ""
	}
	return strings.TrimSpace(title[:idx]), strings.TrimSpace(title[idx+3:])
}
