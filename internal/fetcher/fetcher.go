// Package fetcher retrieves raw content for feed and scrape sources.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bryan-buckman/ainews/internal/model"
)

// Default limits used when Options leaves them unset.
const (
	DefaultUserAgent    = "AiNews/1.0 (+https://github.com/ainews)"
	DefaultMaxBodyBytes = 10 << 20
)

// Fetcher retrieves one source. Implementations must not mutate the source.
type Fetcher interface {
	Fetch(ctx context.Context, src model.Source) (model.RawFetchResult, error)
}

// Options configures the HTTP side of both fetcher variants.
type Options struct {
	Client       *http.Client
	UserAgent    string
	MaxBodyBytes int64
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Client == nil {
		o.Client = &http.Client{}
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Dispatcher routes a source to the fetcher for its declared type.
type Dispatcher struct {
	Feed   Fetcher
	Scrape Fetcher
}

// New creates a Dispatcher with both variants sharing opts.
func New(opts Options) *Dispatcher {
	return &Dispatcher{
		Feed:   NewFeedFetcher(opts),
		Scrape: NewScrapeFetcher(opts),
	}
}

// Fetch implements Fetcher.
func (d *Dispatcher) Fetch(ctx context.Context, src model.Source) (model.RawFetchResult, error) {
	switch src.Type {
	case model.SourceFeed:
		return d.Feed.Fetch(ctx, src)
	case model.SourceScrape:
		return d.Scrape.Fetch(ctx, src)
	default:
		return model.RawFetchResult{}, newFetchError(ErrParse, src.ID, src.URL,
			fmt.Errorf("unknown source type %q", src.Type))
	}
}

// get performs a GET and returns at most opts.MaxBodyBytes of the body.
func get(ctx context.Context, opts Options, src model.Source, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, newFetchError(ErrNetwork, src.ID, src.URL, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept", accept)

	resp, err := opts.Client.Do(req)
	if err != nil {
		return nil, newFetchError(classifyTransport(err), src.ID, src.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newFetchError(ErrNetwork, src.ID, src.URL, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, opts.MaxBodyBytes))
	if err != nil {
		return nil, newFetchError(classifyTransport(err), src.ID, src.URL, fmt.Errorf("read body: %w", err))
	}
	return body, nil
}
