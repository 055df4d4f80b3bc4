package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"github.com/bryan-buckman/ainews/internal/model"
)

const htmlAccept = "text/html, application/xhtml+xml;q=0.9, */*;q=0.8"

// ScrapeFetcher retrieves HTML pages and extracts article content.
type ScrapeFetcher struct {
	opts Options
}

// NewScrapeFetcher creates a scrape fetcher.
func NewScrapeFetcher(opts Options) *ScrapeFetcher {
	return &ScrapeFetcher{opts: opts.withDefaults()}
}

// Fetch retrieves the page. With a scrape selector each matched element
// becomes a block; otherwise the page is extracted as a single article.
func (f *ScrapeFetcher) Fetch(ctx context.Context, src model.Source) (model.RawFetchResult, error) {
	started := f.opts.Now()

	pageURL, err := url.Parse(src.URL)
	if err != nil {
		return model.RawFetchResult{}, newFetchError(ErrNetwork, src.ID, src.URL, fmt.Errorf("parse url: %w", err))
	}

	body, err := get(ctx, f.opts, src, htmlAccept)
	if err != nil {
		return model.RawFetchResult{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return model.RawFetchResult{}, newFetchError(ErrParse, src.ID, src.URL, fmt.Errorf("parse html: %w", err))
	}

	var blocks []model.RawBlock
	if src.ScrapeSelector != "" {
		blocks, err = ExtractListing(doc, pageURL, src.ScrapeSelector)
	} else {
		var block model.RawBlock
		block, err = ExtractArticle(doc, pageURL)
		blocks = []model.RawBlock{block}
	}
	if err != nil {
		return model.RawFetchResult{}, newFetchError(ErrExtraction, src.ID, src.URL, err)
	}

	return model.RawFetchResult{
		SourceID:   src.ID,
		SourceType: src.Type,
		SourceTags: src.Tags,
		StartedAt:  started,
		FetchedAt:  f.opts.Now(),
		Blocks:     blocks,
	}, nil
}
