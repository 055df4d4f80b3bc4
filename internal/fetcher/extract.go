package fetcher

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/bryan-buckman/ainews/internal/model"
)

// MinArticleBody is the shortest body text, in characters, accepted for a
// single-article page.
const MinArticleBody = 140

// nonContentSelectors lists elements stripped before reading body text.
const nonContentSelectors = "script, style, noscript, nav, header, footer, aside, form, iframe"

// textSelectors are the block elements whose text makes up an article body.
const textSelectors = "p, h2, h3, h4, li, blockquote, pre"

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

// ExtractArticle treats the whole document as one article. It does not
// modify doc. A page without a title or with too little text yields an
// error wrapping ErrExtraction.
func ExtractArticle(doc *goquery.Document, pageURL *url.URL) (model.RawBlock, error) {
	title := extractTitle(doc)
	if title == "" {
		return model.RawBlock{}, fmt.Errorf("%w: no title found", ErrExtraction)
	}

	body := readableText(doc, pageURL)
	if utf8.RuneCountInString(body) < MinArticleBody {
		body = mainContentText(doc)
	}
	if n := utf8.RuneCountInString(body); n < MinArticleBody {
		return model.RawBlock{}, fmt.Errorf("%w: main content too short (%d chars)", ErrExtraction, n)
	}

	block := model.RawBlock{
		Title:     title,
		Byline:    extractByline(doc),
		Published: extractPublished(doc.Selection),
		Body:      body,
	}
	if pageURL != nil {
		block.URL = pageURL.String()
	}
	if canonical, ok := doc.Find("link[rel='canonical']").Attr("href"); ok && pageURL != nil {
		if u, err := pageURL.Parse(strings.TrimSpace(canonical)); err == nil {
			block.URL = u.String()
		}
	}
	return block, nil
}

// ExtractListing yields one block per element matching selector, for index
// pages that list several articles.
func ExtractListing(doc *goquery.Document, pageURL *url.URL, selector string) ([]model.RawBlock, error) {
	var blocks []model.RawBlock
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if block, ok := listingBlock(s, pageURL); ok {
			blocks = append(blocks, block)
		}
	})
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: selector %q matched no linked articles", ErrExtraction, selector)
	}
	return blocks, nil
}

func listingBlock(s *goquery.Selection, pageURL *url.URL) (model.RawBlock, bool) {
	link := s.Find("a[href]").First()
	if goquery.NodeName(s) == "a" {
		link = s
	}
	href, ok := link.Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return model.RawBlock{}, false
	}
	if pageURL != nil {
		resolved, err := pageURL.Parse(href)
		if err != nil {
			return model.RawBlock{}, false
		}
		href = resolved.String()
	}

	title := collapse(link.Text())
	if title == "" {
		title = collapse(s.Find("h1, h2, h3, h4").First().Text())
	}
	if title == "" {
		return model.RawBlock{}, false
	}

	summary := s.Find("p, span, div").FilterFunction(func(_ int, el *goquery.Selection) bool {
		class, _ := el.Attr("class")
		return strings.Contains(strings.ToLower(class), "summary")
	}).First()
	if summary.Length() == 0 {
		summary = s.Find("p").First()
	}

	return model.RawBlock{
		URL:       href,
		Title:     title,
		Published: extractPublished(s),
		Body:      collapse(summary.Text()),
	}, true
}

// extractTitle prefers og:title, then the first h1, then <title>.
func extractTitle(doc *goquery.Document) string {
	if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok {
		if t := collapse(og); t != "" {
			return t
		}
	}
	if h1 := collapse(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return collapse(doc.Find("title").First().Text())
}

func extractByline(doc *goquery.Document) string {
	if author, ok := doc.Find("meta[name='author']").Attr("content"); ok {
		if a := collapse(author); a != "" {
			return a
		}
	}
	for _, sel := range []string{"[rel='author']", "[itemprop='author']", ".byline", ".author"} {
		if a := collapse(doc.Find(sel).First().Text()); a != "" {
			return strings.TrimPrefix(strings.TrimPrefix(a, "By "), "by ")
		}
	}
	return ""
}

// extractPublished looks for a machine-readable publish date under s.
func extractPublished(s *goquery.Selection) *time.Time {
	candidates := []struct {
		selector string
		attr     string
	}{
		{"meta[property='article:published_time']", "content"},
		{"meta[itemprop='datePublished']", "content"},
		{"meta[name='date']", "content"},
		{"time[datetime]", "datetime"},
		{"[itemprop='datePublished']", "datetime"},
	}
	for _, c := range candidates {
		if v, ok := s.Find(c.selector).First().Attr(c.attr); ok {
			if t, ok := parseDate(v); ok {
				return &t
			}
		}
	}
	return nil
}

func parseDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// readableText runs readability over the document and returns plain text.
func readableText(doc *goquery.Document, pageURL *url.URL) string {
	if pageURL == nil {
		pageURL = &url.URL{}
	}
	html, err := doc.Html()
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		return ""
	}
	var buf strings.Builder
	if err := article.RenderText(&buf); err != nil {
		return ""
	}
	return collapse(buf.String())
}

// mainContentText reads block text from the first of article, main or body,
// working on a copy so doc is left untouched.
func mainContentText(doc *goquery.Document) string {
	for _, sel := range []string{"article", "main", "[role='main']", "body"} {
		container := doc.Find(sel).First()
		if container.Length() == 0 {
			continue
		}
		clone := container.Clone()
		clone.Find(nonContentSelectors).Remove()

		var parts []string
		clone.Find(textSelectors).Each(func(_ int, s *goquery.Selection) {
			if t := collapse(s.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		text := strings.Join(parts, " ")
		if text == "" {
			text = collapse(clone.Text())
		}
		if text != "" {
			return text
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
