package join

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// StripMarkup returns the text content of an HTML fragment with
// non-breaking spaces removed.
func StripMarkup(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return fragment
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	text := doc.Text()
	text = strings.ReplaceAll(text, "\u00a0", "")
	return strings.ReplaceAll(text, "&nbsp;", "")
}
