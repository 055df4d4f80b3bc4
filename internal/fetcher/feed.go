package fetcher

import (
	"bytes"
	"context"
	"strings"

	"github.com/bryan-buckman/ainews/internal/model"
	"github.com/mmcdole/gofeed"
)

const feedAccept = "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8"

// FeedFetcher handles RSS, Atom and JSON feeds.
type FeedFetcher struct {
	opts Options
}

// NewFeedFetcher creates a feed fetcher.
func NewFeedFetcher(opts Options) *FeedFetcher {
	return &FeedFetcher{opts: opts.withDefaults()}
}

// Fetch retrieves and parses the feed, preserving the feed's entry order.
func (f *FeedFetcher) Fetch(ctx context.Context, src model.Source) (model.RawFetchResult, error) {
	started := f.opts.Now()

	body, err := get(ctx, f.opts, src, feedAccept)
	if err != nil {
		return model.RawFetchResult{}, err
	}

	entries, err := ParseFeed(body)
	if err != nil {
		return model.RawFetchResult{}, newFetchError(ErrParse, src.ID, src.URL, err)
	}

	return model.RawFetchResult{
		SourceID:   src.ID,
		SourceType: src.Type,
		SourceTags: src.Tags,
		StartedAt:  started,
		FetchedAt:  f.opts.Now(),
		Entries:    entries,
	}, nil
}

// ParseFeed parses a feed document into raw entries.
func ParseFeed(body []byte) ([]model.RawEntry, error) {
	// gofeed.Parser keeps no state between calls but is not documented as
	// concurrency safe, so each parse gets its own.
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	entries := make([]model.RawEntry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, model.RawEntry{
			GUID:       strings.TrimSpace(item.GUID),
			Title:      strings.TrimSpace(item.Title),
			Link:       extractLink(item),
			Published:  item.PublishedParsed,
			Updated:    item.UpdatedParsed,
			Content:    item.Content,
			Summary:    item.Description,
			Author:     authorName(item),
			Categories: item.Categories,
		})
	}
	return entries, nil
}

// extractLink prefers the explicit link, then any alternate link, then a
// GUID that looks like a URL.
func extractLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	for _, l := range item.Links {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	if strings.HasPrefix(item.GUID, "http") {
		return strings.TrimSpace(item.GUID)
	}
	return ""
}

func authorName(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	return ""
}
