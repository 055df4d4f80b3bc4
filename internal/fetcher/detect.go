package fetcher

import (
	"bytes"
	"context"

	"github.com/PuerkitoBio/goquery"
	"github.com/bryan-buckman/ainews/internal/model"
	"github.com/mmcdole/gofeed"
)

// detectBytes caps how much of a document is read to detect its type.
const detectBytes = 64 << 10

// Detection is the outcome of probing a candidate source URL.
type Detection struct {
	Type  model.SourceType
	Title string
}

// DetectSourceType fetches rawURL and decides whether it is a feed or a page
// to scrape.
func DetectSourceType(ctx context.Context, opts Options, rawURL string) (Detection, error) {
	opts = opts.withDefaults()
	opts.MaxBodyBytes = detectBytes

	body, err := get(ctx, opts, model.Source{ID: "detect", URL: rawURL}, feedAccept)
	if err != nil {
		return Detection{}, err
	}
	return DetectContent(body), nil
}

// DetectContent classifies an already retrieved document.
func DetectContent(body []byte) Detection {
	if gofeed.DetectFeedType(bytes.NewReader(body)) != gofeed.FeedTypeUnknown {
		det := Detection{Type: model.SourceFeed}
		// A truncated feed may not parse; the type is still known.
		if parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body)); err == nil {
			det.Title = collapse(parsed.Title)
		}
		return det
	}

	det := Detection{Type: model.SourceScrape}
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		det.Title = collapse(doc.Find("title").First().Text())
	}
	return det
}
