// Package model defines shared data structures.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// SourceType selects which fetcher handles a source.
type SourceType string

const (
	// SourceFeed is an RSS, Atom or JSON feed.
	SourceFeed SourceType = "feed"
	// SourceScrape is an HTML page that needs content extraction.
	SourceScrape SourceType = "scrape"
)

// Valid reports whether t is one of the known source types.
func (t SourceType) Valid() bool {
	return t == SourceFeed || t == SourceScrape
}

// DefaultFetchInterval applies to sources registered without an interval.
const DefaultFetchInterval = 24 * time.Hour

// DateLayout is the calendar-date format used for partition keys.
const DateLayout = "2006-01-02"

// Duration is a time.Duration that encodes as a Go duration string in JSON.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(parsed)
	return nil
}

// Source is a configured origin of articles.
type Source struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	URL            string     `json:"url"`
	Type           SourceType `json:"type"`
	Enabled        bool       `json:"enabled"`
	FetchInterval  Duration   `json:"fetch_interval"`
	LastFetched    *time.Time `json:"last_fetched"` // nil until the first successful fetch
	ScrapeSelector string     `json:"scrape_selector,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	AddedAt        time.Time  `json:"added_at"`
	Notes          string     `json:"notes,omitempty"`
}

// Interval returns the minimum fetch interval, falling back to the default.
func (s Source) Interval() time.Duration {
	if s.FetchInterval <= 0 {
		return DefaultFetchInterval
	}
	return time.Duration(s.FetchInterval)
}

// IsDue reports whether the source should be fetched at now.
// Disabled sources are never due; force skips the interval check only.
func (s Source) IsDue(now time.Time, force bool) bool {
	if !s.Enabled {
		return false
	}
	if force || s.LastFetched == nil {
		return true
	}
	return now.Sub(*s.LastFetched) >= s.Interval()
}

// RawEntry is a single unprocessed feed entry.
type RawEntry struct {
	GUID       string
	Title      string
	Link       string
	Published  *time.Time
	Updated    *time.Time
	Content    string // full content, may contain HTML
	Summary    string // description, may contain HTML
	Author     string
	Categories []string
}

// RawBlock is a single article-like block extracted from an HTML page.
type RawBlock struct {
	URL       string
	Title     string
	Byline    string
	Published *time.Time
	Body      string
}

// RawFetchResult is the unprocessed output of one successful fetch.
type RawFetchResult struct {
	SourceID   string
	SourceType SourceType
	SourceTags []string
	StartedAt  time.Time // when the fetch began; becomes the source's last_fetched
	FetchedAt  time.Time // when content was retrieved; becomes article retrieval time
	Entries    []RawEntry
	Blocks     []RawBlock
}

// Article is the canonical unit of content.
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	SourceID    string    `json:"source_id"`
	Author      string    `json:"author,omitempty"`
	Content     string    `json:"content"`
	PublishedAt time.Time `json:"published_at"`
	FetchedAt   time.Time `json:"fetched_at"`
	ContentHash string    `json:"content_hash"`
	Tags        []string  `json:"tags,omitempty"`
}

// DailyArticleSet holds every article retrieved on one calendar date.
type DailyArticleSet struct {
	Date     string
	Articles []Article
}

// NewDailyArticleSet returns an empty set for the date of t.
func NewDailyArticleSet(t time.Time) DailyArticleSet {
	return DailyArticleSet{Date: DateKey(t)}
}

// Len returns the number of articles in the set.
func (s DailyArticleSet) Len() int {
	return len(s.Articles)
}

// DateKey formats t as a partition key.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// RunReport summarises one pipeline run.
type RunReport struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	Date         string
	Succeeded    int
	Failed       int
	Skipped      int
	Fetched      int
	Added        int
	Deduplicated int
	Failures     map[string]string // source id -> reason
}

// Duration returns how long the run took.
func (r RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
