// Package normalize maps raw fetch results onto the canonical Article shape.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/bryan-buckman/ainews/internal/model"
	"github.com/microcosm-cc/bluemonday"
)

// trackingParams are query parameters dropped from canonical URLs.
var trackingParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"mc_cid": true,
	"mc_eid": true,
}

// textPolicy strips every tag. bluemonday policies are safe for concurrent use.
var textPolicy = bluemonday.StrictPolicy()

// Normalize converts one fetch result into articles, in the source's native
// order. Entries without a title or a usable link are skipped.
func Normalize(raw model.RawFetchResult) []model.Article {
	articles := make([]model.Article, 0, len(raw.Entries)+len(raw.Blocks))
	for _, e := range raw.Entries {
		if a, ok := fromEntry(raw, e); ok {
			articles = append(articles, a)
		}
	}
	for _, b := range raw.Blocks {
		if a, ok := fromBlock(raw, b); ok {
			articles = append(articles, a)
		}
	}
	return articles
}

func fromEntry(raw model.RawFetchResult, e model.RawEntry) (model.Article, bool) {
	title := CleanText(e.Title)
	link := CanonicalURL(e.Link)
	guid := strings.TrimSpace(e.GUID)
	if title == "" || (link == "" && guid == "") {
		return model.Article{}, false
	}

	key := guid
	if key == "" {
		key = link
	}

	body := e.Content
	if strings.TrimSpace(body) == "" {
		body = e.Summary
	}
	body = CleanText(body)

	published := raw.FetchedAt
	switch {
	case !zeroTime(e.Published):
		published = *e.Published
	case !zeroTime(e.Updated):
		published = *e.Updated
	}

	tags := lowerUnique(e.Categories)
	if len(tags) == 0 {
		tags = lowerUnique(raw.SourceTags)
	}

	return model.Article{
		ID:          ArticleID(raw.SourceID, key),
		Title:       title,
		URL:         link,
		SourceID:    raw.SourceID,
		Author:      CleanText(e.Author),
		Content:     body,
		PublishedAt: published.UTC(),
		FetchedAt:   raw.FetchedAt.UTC(),
		ContentHash: Fingerprint(title, body),
		Tags:        tags,
	}, true
}

func fromBlock(raw model.RawFetchResult, b model.RawBlock) (model.Article, bool) {
	title := CleanText(b.Title)
	link := CanonicalURL(b.URL)
	if title == "" || link == "" {
		return model.Article{}, false
	}
	body := CleanText(b.Body)

	published := raw.FetchedAt
	if !zeroTime(b.Published) {
		published = *b.Published
	}

	return model.Article{
		ID:          ArticleID(raw.SourceID, link),
		Title:       title,
		URL:         link,
		SourceID:    raw.SourceID,
		Author:      CleanText(b.Byline),
		Content:     body,
		PublishedAt: published.UTC(),
		FetchedAt:   raw.FetchedAt.UTC(),
		ContentHash: Fingerprint(title, body),
		Tags:        lowerUnique(raw.SourceTags),
	}, true
}

// CleanText strips markup, decodes entities and collapses whitespace.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	stripped := textPolicy.Sanitize(s)
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}

// NormalizeText lower-cases s and collapses whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ArticleID derives a stable identity from the source and its entry key.
func ArticleID(sourceID, entryKey string) string {
	sum := sha256.Sum256([]byte(sourceID + "\x00" + entryKey))
	return hex.EncodeToString(sum[:16])
}

// Fingerprint hashes the normalized title and body.
func Fingerprint(title, body string) string {
	sum := sha256.Sum256([]byte(NormalizeText(title) + "\n" + NormalizeText(body)))
	return hex.EncodeToString(sum[:])[:32]
}

// CanonicalURL reduces equivalent spellings of a URL to one form. Unparseable
// input is returned trimmed.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			lk := strings.ToLower(k)
			if strings.HasPrefix(lk, "utm_") || trackingParams[lk] {
				q.Del(k)
			}
		}
		// Encode sorts by key.
		u.RawQuery = q.Encode()
	}

	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

func lowerUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Batch normalizes results in the given order, typically registry order, so
// first-seen resolution downstream is reproducible.
func Batch(results []model.RawFetchResult) []model.Article {
	var articles []model.Article
	for _, r := range results {
		articles = append(articles, Normalize(r)...)
	}
	return articles
}

// zeroTime reports whether t is unset.
func zeroTime(t *time.Time) bool {
	return t == nil || t.IsZero()
}
