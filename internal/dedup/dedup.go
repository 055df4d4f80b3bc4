// Package dedup removes exact and near-duplicate articles from a daily set.
package dedup

import (
	"strings"
	"time"
	"unicode"

	"github.com/bryan-buckman/ainews/internal/model"
)

// Fuzzy matching defaults. Two titles whose word sets overlap at least
// DefaultTitleSimilarity (Jaccard) and whose publish times are within
// DefaultPublishWindow are treated as the same story.
const (
	DefaultTitleSimilarity = 0.8
	DefaultPublishWindow   = 24 * time.Hour
)

// Deduplicator merges incoming articles into an existing set. The first copy
// of a story wins; later copies are dropped without being recorded on it.
type Deduplicator struct {
	TitleSimilarity float64
	PublishWindow   time.Duration
}

// New creates a Deduplicator, using the defaults for non-positive values.
func New(titleSimilarity float64, publishWindow time.Duration) *Deduplicator {
	if titleSimilarity <= 0 {
		titleSimilarity = DefaultTitleSimilarity
	}
	if publishWindow <= 0 {
		publishWindow = DefaultPublishWindow
	}
	return &Deduplicator{TitleSimilarity: titleSimilarity, PublishWindow: publishWindow}
}

// candidate caches what fuzzy matching needs from a kept article.
type candidate struct {
	words     map[string]struct{}
	published time.Time
}

// Deduplicate returns existing followed by every incoming article that is not
// a duplicate, plus the dropped articles in incoming order. Checks run from
// cheapest to most expensive: identity, fingerprint, then title similarity.
// existing is assumed to be duplicate-free and is never altered.
func (d *Deduplicator) Deduplicate(existing model.DailyArticleSet, incoming []model.Article) (model.DailyArticleSet, []model.Article) {
	merged := model.DailyArticleSet{
		Date:     existing.Date,
		Articles: make([]model.Article, 0, len(existing.Articles)+len(incoming)),
	}
	ids := make(map[string]struct{}, len(existing.Articles)+len(incoming))
	hashes := make(map[string]struct{}, len(existing.Articles)+len(incoming))
	kept := make([]candidate, 0, len(existing.Articles)+len(incoming))

	keep := func(a model.Article) {
		merged.Articles = append(merged.Articles, a)
		ids[a.ID] = struct{}{}
		if a.ContentHash != "" {
			hashes[a.ContentHash] = struct{}{}
		}
		kept = append(kept, candidate{words: titleWords(a.Title), published: a.PublishedAt})
	}

	for _, a := range existing.Articles {
		keep(a)
	}

	var dropped []model.Article
	for _, a := range incoming {
		if _, ok := ids[a.ID]; ok {
			dropped = append(dropped, a)
			continue
		}
		if _, ok := hashes[a.ContentHash]; ok && a.ContentHash != "" {
			dropped = append(dropped, a)
			continue
		}
		if d.similarToKept(kept, a) {
			dropped = append(dropped, a)
			continue
		}
		keep(a)
	}

	return merged, dropped
}

func (d *Deduplicator) similarToKept(kept []candidate, a model.Article) bool {
	words := titleWords(a.Title)
	if len(words) == 0 {
		return false
	}
	for _, c := range kept {
		if !withinWindow(c.published, a.PublishedAt, d.PublishWindow) {
			continue
		}
		if jaccard(c.words, words) >= d.TitleSimilarity {
			return true
		}
	}
	return false
}

// TitleSimilarity returns the Jaccard similarity of the two titles' word sets.
func TitleSimilarity(a, b string) float64 {
	return jaccard(titleWords(a), titleWords(b))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// titleWords splits a title into its set of lower-cased words.
func titleWords(title string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		words[f] = struct{}{}
	}
	return words
}

func withinWindow(a, b time.Time, window time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}
