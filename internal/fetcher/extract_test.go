package fetcher_test

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/bryan-buckman/ainews/internal/fetcher"
	"github.com/bryan-buckman/ainews/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// articleHTML is a complete single-article page.
const articleHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Chip makers report record quarter | Example News</title>
  <meta property="og:title" content="Chip makers report record quarter">
  <meta name="author" content="Jane Doe">
  <meta property="article:published_time" content="2026-10-17T06:15:00Z">
  <link rel="canonical" href="/news/chip-makers">
</head>
<body>
  <nav>Home | World | Tech | Sport</nav>
  <article>
    <h1>Chip makers report record quarter</h1>
    <p>Semiconductor manufacturers reported their strongest quarter on record, driven by demand for accelerators used in training large models.</p>
    <p>Analysts expect supply constraints to ease next year as new fabrication plants in Arizona and Kumamoto begin volume production.</p>
  </article>
  <footer>Copyright Example News</footer>
</body>
</html>`

// listingHTML is an index page listing several articles.
const listingHTML = `<!DOCTYPE html>
<html>
<head><title>Blog</title></head>
<body>
  <div class="post">
    <h2><a href="/posts/one">Post one</a></h2>
    <p class="post-summary">Summary of post one.</p>
    <time datetime="2026-10-16">Oct 16</time>
  </div>
  <div class="post">
    <a href="https://other.example.org/two"></a>
    <h3>Post two</h3>
    <p>First paragraph of post two.</p>
  </div>
  <div class="post">
    <span>No link here</span>
  </div>
</body>
</html>`

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestExtractArticle(t *testing.T) {
	doc := parseDoc(t, articleHTML)

	block, err := fetcher.ExtractArticle(doc, mustURL(t, "https://news.example.com/news/chip-makers?ref=home"))
	require.NoError(t, err)

	assert.Equal(t, "Chip makers report record quarter", block.Title)
	assert.Equal(t, "Jane Doe", block.Byline)
	assert.Equal(t, "https://news.example.com/news/chip-makers", block.URL)
	require.NotNil(t, block.Published)
	assert.Equal(t, "2026-10-17T06:15:00Z", block.Published.Format("2006-01-02T15:04:05Z07:00"))
	assert.Contains(t, block.Body, "strongest quarter on record")
	assert.Contains(t, block.Body, "Kumamoto")

	// The document is left intact for other readers.
	assert.Equal(t, 1, doc.Find("footer").Length())
}

func TestExtractArticleTitleFallbacks(t *testing.T) {
	body := "<p>" + strings.Repeat("Plenty of article words here. ", 10) + "</p>"

	doc := parseDoc(t, "<html><head><title>Only title</title></head><body>"+body+"</body></html>")
	block, err := fetcher.ExtractArticle(doc, mustURL(t, "https://example.com/a"))
	require.NoError(t, err)
	assert.Equal(t, "Only title", block.Title)

	doc = parseDoc(t, "<html><head><title>Page</title></head><body><h1>Heading wins</h1>"+body+"</body></html>")
	block, err = fetcher.ExtractArticle(doc, mustURL(t, "https://example.com/b"))
	require.NoError(t, err)
	assert.Equal(t, "Heading wins", block.Title)
}

func TestExtractArticleFailures(t *testing.T) {
	tests := []struct {
		name string
		html string
	}{
		{"no title", "<html><body><p>" + strings.Repeat("words ", 60) + "</p></body></html>"},
		{"too short", "<html><head><title>Hi</title></head><body><p>Hello.</p></body></html>"},
		{"too short in characters", "<html><head><title>新闻</title></head><body><p>" + strings.Repeat("模型发布", 25) + "</p></body></html>"},
		{"empty", "<html><head></head><body></body></html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fetcher.ExtractArticle(parseDoc(t, tt.html), nil)
			assert.ErrorIs(t, err, fetcher.ErrExtraction)
		})
	}
}

func TestExtractListing(t *testing.T) {
	doc := parseDoc(t, listingHTML)

	blocks, err := fetcher.ExtractListing(doc, mustURL(t, "https://blog.example.com/index.html"), "div.post")
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	assert.Equal(t, "https://blog.example.com/posts/one", blocks[0].URL)
	assert.Equal(t, "Post one", blocks[0].Title)
	assert.Equal(t, "Summary of post one.", blocks[0].Body)
	require.NotNil(t, blocks[0].Published)
	assert.Equal(t, 16, blocks[0].Published.Day())

	assert.Equal(t, "https://other.example.org/two", blocks[1].URL)
	assert.Equal(t, "Post two", blocks[1].Title, "falls back to heading when link has no text")
	assert.Equal(t, "First paragraph of post two.", blocks[1].Body)
}

func TestExtractListingNoMatches(t *testing.T) {
	_, err := fetcher.ExtractListing(parseDoc(t, listingHTML), nil, "li.story")
	assert.ErrorIs(t, err, fetcher.ErrExtraction)
}

func TestScrapeFetcherExtractionError(t *testing.T) {
	srv := serve(t, "text/html", "<html><head><title>x</title></head><body>tiny</body></html>")

	_, err := fetcher.NewScrapeFetcher(newOptions()).Fetch(context.Background(),
		model.Source{ID: "thin", URL: srv.URL, Type: model.SourceScrape})
	require.Error(t, err)
	assert.ErrorIs(t, err, fetcher.ErrExtraction)
	assert.NotErrorIs(t, err, fetcher.ErrNetwork)
}

func TestScrapeFetcherListing(t *testing.T) {
	srv := serve(t, "text/html", listingHTML)

	res, err := fetcher.NewScrapeFetcher(newOptions()).Fetch(context.Background(),
		model.Source{ID: "blog", URL: srv.URL, Type: model.SourceScrape, ScrapeSelector: "div.post"})
	require.NoError(t, err)
	require.Len(t, res.Blocks, 2)
	assert.Equal(t, srv.URL+"/posts/one", res.Blocks[0].URL)
}
