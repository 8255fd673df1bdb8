package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var noiseSelectors = strings.Join([]string{
	"script", "style", "noscript", "template", "iframe", "svg", "nav", "footer", "aside", "form",
	"[role=navigation]", "[role=contentinfo]", "[role=complementary]",
	".sidebar", "#sidebar", ".comments", "#comments", ".comment", "#disqus_thread",
	".ad", ".ads", ".advert", ".advertisement", `[class^="ad-"]`, `[id^="ad-"]`, "[data-ad]",
	".cookie", ".cookie-banner", "#cookie-banner", ".cookie-consent", `[id*="cookie"]`, `[class*="cookie"]`, `[class*="consent"]`,
}, ", ")

var primaryRegions = []string{"main", "article", "#content", "body"}

// Consent managers tag the content containers themselves, so those are never
// treated as noise.
const protectedRegions = "main, article, #content"

// CleanHTML strips page chrome from rendered HTML and returns the readable
// text of the primary content region.
func CleanHTML(html string) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}

	title := collapseWhitespace(doc.Find("title").First().Text())
	if title == "" {
		title = collapseWhitespace(doc.Find("h1").First().Text())
	}

	doc.Find("body").Find(noiseSelectors).Not(protectedRegions).Remove()

	var text string
	for _, selector := range primaryRegions {
		region := doc.Find(selector).First()
		if region.Length() == 0 {
			continue
		}
		var b strings.Builder
		collectText(region, &b)
		if text = collapseWhitespace(b.String()); text != "" {
			break
		}
	}

	return Page{
		Title:   title,
		Content: text,
		Excerpt: excerpt(text, ExcerptLength, true),
	}, nil
}

// collectText joins text nodes with spaces so adjacent block elements do
// not run together.
func collectText(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		if goquery.NodeName(child) == "#text" {
			b.WriteString(child.Text())
			return
		}
		b.WriteByte(' ')
		collectText(child, b)
		b.WriteByte(' ')
	})
}
