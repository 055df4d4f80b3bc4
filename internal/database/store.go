// Package database provides run-history storage backends.
package database

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/bryan-buckman/ainews/internal/model"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// DefaultListLimit applies when ListRuns is called with a non-positive limit.
const DefaultListLimit = 20

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown database driver")

// Store defines the interface for run-history operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite", "PostgreSQL" or "none").
	DatabaseType() string

	// RecordRun stores a finished run and its per-source failures.
	RecordRun(ctx context.Context, report model.RunReport) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]model.RunReport, error)

	// LatestRun returns the most recent run, or nil if none has been recorded.
	LatestRun(ctx context.Context) (*model.RunReport, error)
}

// Open returns the Store for driver.
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case DriverSQLite:
		return New(dsn)
	case DriverPostgres:
		return NewPostgres(dsn)
	case DriverNone, "":
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// Discard is a Store that keeps no history.
type Discard struct{}

var _ Store = Discard{}

// Close implements Store.
func (Discard) Close() error { return nil }

// DatabaseType implements Store.
func (Discard) DatabaseType() string { return "none" }

// RecordRun implements Store.
func (Discard) RecordRun(context.Context, model.RunReport) error { return nil }

// ListRuns implements Store.
func (Discard) ListRuns(context.Context, int) ([]model.RunReport, error) { return nil, nil }

// LatestRun implements Store.
func (Discard) LatestRun(context.Context) (*model.RunReport, error) { return nil, nil }

// sortedSourceIDs returns the failure keys in a stable order.
func sortedSourceIDs(failures map[string]string) []string {
	ids := make([]string, 0, len(failures))
	for id := range failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
