// Package registry manages the configured sources and their fetch metadata.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/bryan-buckman/ainews/internal/fsutil"
	"github.com/bryan-buckman/ainews/internal/model"
)

// Registry errors.
var (
	ErrSourceNotFound  = errors.New("source not found")
	ErrDuplicateSource = errors.New("source already registered")
	ErrInvalidSource   = errors.New("invalid source")
)

// DefaultLockTimeout bounds lock acquisition when none is configured.
const DefaultLockTimeout = 30 * time.Second

// file is the on-disk registry document.
type file struct {
	Sources []model.Source `json:"sources"`
}

// Registry holds sources in registration order. It is safe for concurrent
// use within a process; Save and Update coordinate with other processes
// through a file lock.
type Registry struct {
	mu          sync.RWMutex
	path        string
	lockTimeout time.Duration
	sources     []model.Source
	now         func() time.Time
}

// Load reads the registry at path. A missing file yields an empty registry.
func Load(path string, lockTimeout time.Duration) (*Registry, error) {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	sources, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return &Registry{path: path, lockTimeout: lockTimeout, sources: sources, now: time.Now}, nil
}

// Path returns the registry file location.
func (r *Registry) Path() string {
	return r.path
}

// Save writes the in-memory registry to disk atomically.
func (r *Registry) Save(ctx context.Context) error {
	return fsutil.WithLock(ctx, r.path, r.lockTimeout, func() error {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return writeFile(r.path, r.sources)
	})
}

// Update re-reads the file under lock, applies fn and writes the result, so
// changes made by other processes since Load are not lost.
func (r *Registry) Update(ctx context.Context, fn func(*Registry) error) error {
	return fsutil.WithLock(ctx, r.path, r.lockTimeout, func() error {
		sources, err := readFile(r.path)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.sources = sources
		r.mu.Unlock()

		if err := fn(r); err != nil {
			return err
		}

		r.mu.RLock()
		defer r.mu.RUnlock()
		return writeFile(r.path, r.sources)
	})
}

// --- Source Methods ---

// List returns a copy of the sources in registration order.
func (r *Registry) List(enabledOnly bool) []model.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Source, 0, len(r.sources))
	for _, s := range r.sources {
		if enabledOnly && !s.Enabled {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// Get returns the source with id.
func (r *Registry) Get(id string) (model.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.indexOf(id); i >= 0 {
		return r.sources[i], nil
	}
	return model.Source{}, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
}

// FindByURL returns the source registered for rawURL, if any.
func (r *Registry) FindByURL(rawURL string) (model.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := strings.TrimSpace(rawURL)
	for _, s := range r.sources {
		if strings.EqualFold(s.URL, want) {
			return s, true
		}
	}
	return model.Source{}, false
}

// Add registers src and returns it as stored. An empty ID is derived from
// the name, with -2, -3 and so on appended on collision. New sources are
// enabled and get the default interval when none is set.
func (r *Registry) Add(src model.Source) (model.Source, error) {
	src.URL = strings.TrimSpace(src.URL)
	src.Name = strings.TrimSpace(src.Name)
	if err := validate(src); err != nil {
		return model.Source{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sources {
		if strings.EqualFold(s.URL, src.URL) {
			return model.Source{}, fmt.Errorf("%w: %s is %s", ErrDuplicateSource, src.URL, s.ID)
		}
	}

	if src.Name == "" {
		src.Name = hostOf(src.URL)
	}
	if src.ID == "" {
		src.ID = r.uniqueID(Slugify(src.Name))
	} else if r.indexOf(src.ID) >= 0 {
		return model.Source{}, fmt.Errorf("%w: id %s", ErrDuplicateSource, src.ID)
	}
	if src.FetchInterval <= 0 {
		src.FetchInterval = model.Duration(model.DefaultFetchInterval)
	}
	if src.AddedAt.IsZero() {
		src.AddedAt = r.now().UTC()
	}
	src.Enabled = true

	r.sources = append(r.sources, src)
	return src, nil
}

// Remove deletes the source with id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	r.sources = append(r.sources[:i], r.sources[i+1:]...)
	return nil
}

// Enable marks the source as eligible for fetching.
func (r *Registry) Enable(id string) error {
	return r.setEnabled(id, true)
}

// Disable excludes the source from fetching.
func (r *Registry) Disable(id string) error {
	return r.setEnabled(id, false)
}

func (r *Registry) setEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	r.sources[i].Enabled = enabled
	return nil
}

// MarkFetched records a successful fetch that started at at.
func (r *Registry) MarkFetched(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	t := at.UTC()
	r.sources[i].LastFetched = &t
	return nil
}

// Due returns the enabled sources due at now, in registration order.
func (r *Registry) Due(now time.Time, force bool) []model.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []model.Source
	for _, s := range r.sources {
		if s.IsDue(now, force) {
			due = append(due, s)
		}
	}
	return due
}

func (r *Registry) indexOf(id string) int {
	for i, s := range r.sources {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) uniqueID(base string) string {
	id := base
	for n := 2; r.indexOf(id) >= 0; n++ {
		id = base + "-" + strconv.Itoa(n)
	}
	return id
}

// Slugify turns a display name into a lower-case, dash-separated id.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "source"
	}
	return slug
}

func validate(src model.Source) error {
	if src.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidSource)
	}
	u, err := url.Parse(src.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an http(s) URL", ErrInvalidSource, src.URL)
	}
	if !src.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSource, src.Type)
	}
	if src.FetchInterval < 0 {
		return fmt.Errorf("%w: negative fetch interval", ErrInvalidSource)
	}
	return nil
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return strings.TrimPrefix(u.Host, "www.")
	}
	return rawURL
}

// --- File Methods ---

func readFile(path string) ([]model.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	return f.Sources, nil
}

func writeFile(path string, sources []model.Source) error {
	if sources == nil {
		sources = []model.Source{}
	}
	data, err := json.MarshalIndent(file{Sources: sources}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	return fsutil.WriteFileAtomic(path, append(data, '\n'))
}
