// Package store persists daily article sets as date-partitioned JSON files.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/bryan-buckman/ainews/internal/fsutil"
	"github.com/bryan-buckman/ainews/internal/logger"
	"github.com/bryan-buckman/ainews/internal/model"
)

// ErrLockTimeout is returned when a partition lock cannot be acquired in
// time. Callers may retry.
var ErrLockTimeout = fsutil.ErrLockTimeout

// ErrInvalidDate is returned for partition keys that are not YYYY-MM-DD.
var ErrInvalidDate = errors.New("invalid partition date")

// DefaultLockTimeout bounds lock acquisition when none is configured.
const DefaultLockTimeout = 30 * time.Second

// CorruptStoreError reports a partition file that exists but cannot be parsed.
type CorruptStoreError struct {
	Path string
	Err  error
}

func (e *CorruptStoreError) Error() string {
	return fmt.Sprintf("corrupt partition %s: %v", e.Path, e.Err)
}

func (e *CorruptStoreError) Unwrap() error {
	return e.Err
}

// partitionFile is the on-disk representation of one date partition.
type partitionFile struct {
	Date     string          `json:"date"`
	Items    []model.Article `json:"items"`
	Metadata metadata        `json:"metadata"`
}

type metadata struct {
	Count       int       `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// Store reads and writes date partitions under a directory.
type Store struct {
	dir         string
	lockTimeout time.Duration
	logger      logger.Logger
	now         func() time.Time
}

// New creates a store rooted at dir.
func New(dir string, lockTimeout time.Duration, log logger.Logger) *Store {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{dir: dir, lockTimeout: lockTimeout, logger: log, now: time.Now}
}

// Dir returns the directory holding partition files.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the partition file for date.
func (s *Store) Path(date string) string {
	return filepath.Join(s.dir, date+".json")
}

// Load returns the persisted set for date, or an empty set if none exists.
// Writers replace files atomically, so Load needs no lock.
func (s *Store) Load(date string) (model.DailyArticleSet, error) {
	if err := validateDate(date); err != nil {
		return model.DailyArticleSet{}, err
	}
	return s.read(date)
}

// Save replaces the partition for set.Date under the partition lock.
func (s *Store) Save(ctx context.Context, set model.DailyArticleSet) error {
	if err := validateDate(set.Date); err != nil {
		return err
	}
	return fsutil.WithLock(ctx, s.Path(set.Date), s.lockTimeout, func() error {
		return s.write(set)
	})
}

// Update runs a read-merge-write cycle on one partition while holding its
// lock for the whole sequence. fn receives the current set and returns the
// replacement; if fn fails or returns the set unchanged nothing is written.
func (s *Store) Update(ctx context.Context, date string, fn func(model.DailyArticleSet) (model.DailyArticleSet, error)) error {
	if err := validateDate(date); err != nil {
		return err
	}
	return fsutil.WithLock(ctx, s.Path(date), s.lockTimeout, func() error {
		current, err := s.read(date)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		// The run may have been cancelled while fn ran.
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("update %s: %w", date, err)
		}
		next.Date = date
		if sameSet(current, next) {
			return nil
		}
		return s.write(next)
	})
}

// sameSet reports whether a and b hold the same articles in the same order.
func sameSet(a, b model.DailyArticleSet) bool {
	if a.Date != b.Date || len(a.Articles) != len(b.Articles) {
		return false
	}
	for i := range a.Articles {
		if !reflect.DeepEqual(a.Articles[i], b.Articles[i]) {
			return false
		}
	}
	return true
}

// ListDates returns the dates that have a partition file, newest first.
func (s *Store) ListDates() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read store dir: %w", err)
	}

	var dates []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		date := strings.TrimSuffix(name, ".json")
		if validateDate(date) == nil {
			dates = append(dates, date)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// --- File Methods ---

func (s *Store) read(date string) (model.DailyArticleSet, error) {
	path := s.Path(date)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.DailyArticleSet{Date: date}, nil
		}
		return model.DailyArticleSet{}, fmt.Errorf("read partition: %w", err)
	}

	var pf partitionFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return model.DailyArticleSet{}, &CorruptStoreError{Path: path, Err: err}
	}
	if pf.Date != "" && pf.Date != date {
		return model.DailyArticleSet{}, &CorruptStoreError{
			Path: path,
			Err:  fmt.Errorf("partition holds date %s", pf.Date),
		}
	}
	set := model.DailyArticleSet{Date: date}
	if len(pf.Items) > 0 {
		set.Articles = pf.Items
	}
	return set, nil
}

func (s *Store) write(set model.DailyArticleSet) error {
	items := set.Articles
	if items == nil {
		items = []model.Article{}
	}
	pf := partitionFile{
		Date:  set.Date,
		Items: items,
		Metadata: metadata{
			Count:       len(items),
			LastUpdated: s.now().UTC(),
		},
	}
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode partition: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.Path(set.Date), data); err != nil {
		return fmt.Errorf("write partition: %w", err)
	}
	s.logger.Debug("Saved partition",
		logger.String("date", set.Date),
		logger.Int("count", len(items)),
	)
	return nil
}

func validateDate(date string) error {
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return nil
}
