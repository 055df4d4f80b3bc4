// Package opml handles importing and exporting feed sources as OPML.
package opml

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bryan-buckman/ainews/internal/model"
	"github.com/bryan-buckman/ainews/internal/registry"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (folder or feed).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// FeedEntry represents a flattened feed with its folder path.
type FeedEntry struct {
	FolderPath []string // e.g., ["Tech", "AI"]
	Title      string
	URL        string
}

// Tags returns the folder path as lower-case source tags.
func (e FeedEntry) Tags() []string {
	if len(e.FolderPath) == 0 {
		return nil
	}
	tags := make([]string, 0, len(e.FolderPath))
	for _, f := range e.FolderPath {
		if t := strings.ToLower(strings.TrimSpace(f)); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// Source converts the entry into a feed source ready for registration.
func (e FeedEntry) Source() model.Source {
	return model.Source{
		Name: e.Title,
		URL:  e.URL,
		Type: model.SourceFeed,
		Tags: e.Tags(),
	}
}

// Parse reads an OPML document and returns a flat list of FeedEntry.
func Parse(r io.Reader) ([]FeedEntry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []FeedEntry
	var walk func(outlines []Outline, path []string)
	walk = func(outlines []Outline, path []string) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, FeedEntry{
					FolderPath: append([]string{}, path...),
					Title:      title,
					URL:        strings.TrimSpace(o.XMLURL),
				})
			} else if len(o.Outlines) > 0 {
				name := o.Text
				if name == "" {
					name = o.Title
				}
				walk(o.Outlines, append(path[:len(path):len(path)], name))
			}
		}
	}
	walk(doc.Body.Outlines, nil)
	return entries, nil
}

// Export generates an OPML 2.0 document for the feed sources. Scrape
// sources have no feed URL and are left out. A source's first tag becomes
// its folder.
func Export(title string, sources []model.Source) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().UTC().Format(time.RFC1123Z),
		},
	}

	var rootOutlines []Outline
	folderIndex := make(map[string]int)
	for _, s := range sources {
		if s.Type != model.SourceFeed {
			continue
		}
		feedOutline := Outline{
			Text:   s.Name,
			Title:  s.Name,
			Type:   "rss",
			XMLURL: s.URL,
		}
		if len(s.Tags) == 0 {
			rootOutlines = append(rootOutlines, feedOutline)
			continue
		}
		folder := s.Tags[0]
		if i, ok := folderIndex[folder]; ok {
			rootOutlines[i].Outlines = append(rootOutlines[i].Outlines, feedOutline)
			continue
		}
		folderIndex[folder] = len(rootOutlines)
		rootOutlines = append(rootOutlines, Outline{
			Text:     folder,
			Title:    folder,
			Outlines: []Outline{feedOutline},
		})
	}
	doc.Body.Outlines = rootOutlines

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode opml: %w", err)
	}
	return append([]byte(xml.Header), output...), nil
}

// ImportResult summarizes an Import.
type ImportResult struct {
	Added   []model.Source
	Skipped []string // URLs already registered or listed twice
}

// Import registers every entry as a feed source, skipping URLs the registry
// already knows. The registry file is updated under its lock.
func Import(ctx context.Context, reg *registry.Registry, entries []FeedEntry) (ImportResult, error) {
	var res ImportResult
	err := reg.Update(ctx, func(r *registry.Registry) error {
		res = ImportResult{}
		for _, e := range entries {
			if _, ok := r.FindByURL(e.URL); ok {
				res.Skipped = append(res.Skipped, e.URL)
				continue
			}
			src, err := r.Add(e.Source())
			if errors.Is(err, registry.ErrDuplicateSource) {
				res.Skipped = append(res.Skipped, e.URL)
				continue
			}
			if err != nil {
				return fmt.Errorf("import %s: %w", e.URL, err)
			}
			res.Added = append(res.Added, src)
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return res, nil
}
