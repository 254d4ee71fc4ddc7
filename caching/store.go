package caching

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/109isaque10/scraped/results"
	"github.com/109isaque10/scraped/types"
)

// PageSize is the number of results returned by Store.Page
const PageSize = 50

// Record is one cached result set or state marker
type Record struct {
	Key       types.MediaKey
	Value     []types.ScrapeResult
	UpdatedAt time.Time
}

// UpsertOptions controls how UpsertMerge treats an existing record
type UpsertOptions struct {
	// UpdateTimestamp bumps UpdatedAt of an existing record. New records always get now.
	UpdateTimestamp bool
	// Replace overwrites the stored value instead of merging into it
	Replace bool
}

// Store persists result sets and state markers keyed by MediaKey.
// Values are kept deduplicated by hash and sorted by descending size.
type Store interface {
	// Get returns the stored value and whether the key exists
	Get(ctx context.Context, key types.MediaKey) ([]types.ScrapeResult, bool, error)
	// Record returns the full record, or nil when the key is absent
	Record(ctx context.Context, key types.MediaKey) (*Record, error)
	UpsertMerge(ctx context.Context, key types.MediaKey, rs []types.ScrapeResult, opts UpsertOptions) error
	Exists(ctx context.Context, key types.MediaKey) (bool, error)
	// ListStale returns keys of kind not updated for olderThan
	ListStale(ctx context.Context, kind types.KeyKind, olderThan time.Duration) ([]types.MediaKey, error)
	// Page returns page n (from 0) of the results no larger than maxSizeMB, 0 meaning no limit
	Page(ctx context.Context, key types.MediaKey, maxSizeMB float64, page int) ([]types.ScrapeResult, error)
	// Touch bumps UpdatedAt, creating an empty record when the key is absent
	Touch(ctx context.Context, key types.MediaKey) error
	Delete(ctx context.Context, key types.MediaKey) error
	// Stats counts keys per kind
	Stats(ctx context.Context) (map[types.KeyKind]int, error)
	Close() error
}

// MergeValues combines a stored value with new results. Existing entries win on a
// hash collision unless replace is set, in which case old is ignored.
func MergeValues(old, new []types.ScrapeResult, replace bool) []types.ScrapeResult {
	var merged []types.ScrapeResult
	if replace {
		merged = results.FlattenAndDedup(new)
	} else {
		merged = results.FlattenAndDedup(old, new)
	}
	results.SortByFileSize(merged)
	return merged
}

// PageOf returns page n (from 0) of rs keeping only results no larger than maxSizeMB
func PageOf(rs []types.ScrapeResult, maxSizeMB float64, page int) []types.ScrapeResult {
	if page < 0 {
		return nil
	}

	filtered := rs
	if maxSizeMB > 0 {
		filtered = make([]types.ScrapeResult, 0, len(rs))
		for _, r := range rs {
			if r.FileSize <= maxSizeMB {
				filtered = append(filtered, r)
			}
		}
	}

	start := page * PageSize
	if start >= len(filtered) {
		return []types.ScrapeResult{}
	}
	end := min(start+PageSize, len(filtered))
	return filtered[start:end]
}

const (
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgres"
	EngineMemory   = "memory"
)

// Options selects and configures a Store backend
type Options struct {
	Engine       string
	SQLitePath   string
	PostgresDSN  string
	SnapshotPath string
	SaveInterval time.Duration
}

// Open creates the store selected by opts.Engine
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Engine {
	case EngineSQLite, "":
		return OpenSQLite(ctx, opts.SQLitePath)
	case EnginePostgres:
		return OpenPostgres(ctx, opts.PostgresDSN)
	case EngineMemory:
		return NewMemoryStore(opts.SnapshotPath, opts.SaveInterval)
	}
	return nil, errors.Errorf("unknown database engine %q", opts.Engine)
}
