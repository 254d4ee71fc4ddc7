package caching

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"

	"github.com/109isaque10/scraped/types"
)

const (
	defaultBusyTimeout     = 5 * time.Second
	connectionSetupTimeout = 5 * time.Second
)

const schema = `CREATE TABLE IF NOT EXISTS scraped (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at BIGINT NOT NULL
)`

const schemaIndex = `CREATE INDEX IF NOT EXISTS scraped_updated_at ON scraped (updated_at)`

var driverInit sync.Once

func registerConnectionHook() {
	driverInit.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, _ string) error {
			ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
			defer cancel()

			for _, pragma := range sqlitePragmas() {
				if _, err := conn.ExecContext(ctx, pragma, []driver.NamedValue{}); err != nil {
					return fmt.Errorf("connection hook exec %q: %w", pragma, err)
				}
			}
			return nil
		})
	})
}

func sqlitePragmas() []string {
	return []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", defaultBusyTimeout.Milliseconds()),
		"PRAGMA synchronous = NORMAL",
	}
}

// SQLStore keeps records in a single table of a sqlite or postgres database.
// Values are stored as JSON arrays, timestamps as unix milliseconds.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	now      func() time.Time
}

// OpenSQLite opens or creates the database file at path
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		path = "scraped.db"
	}
	log.Info().Msgf("Initializing database at: %s", path)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create database directory %s", dir)
		}
	}

	registerConnectionHook()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open database at %s", path)
	}
	// sqlite allows one writer, a single connection avoids lock upgrade failures
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return newSQLStore(ctx, db, false)
}

// OpenPostgres connects to the database at dsn
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return newSQLStore(ctx, db, true)
}

func newSQLStore(ctx context.Context, db *sql.DB, postgres bool) (*SQLStore, error) {
	for _, stmt := range []string{schema, schemaIndex} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "create schema")
		}
	}
	return &SQLStore{db: db, postgres: postgres, now: time.Now}, nil
}

// rebind rewrites ? placeholders as $n for postgres
func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) load(ctx context.Context, q queryer, key types.MediaKey) (*Record, error) {
	var raw string
	var updated int64
	err := q.QueryRowContext(ctx, s.rebind("SELECT value, updated_at FROM scraped WHERE key = ?"), key.String()).Scan(&raw, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", key)
	}

	rec := &Record{Key: key, UpdatedAt: time.UnixMilli(updated)}
	if err := json.Unmarshal([]byte(raw), &rec.Value); err != nil {
		return nil, errors.Wrapf(err, "decode %s", key)
	}
	return rec, nil
}

func (s *SQLStore) Record(ctx context.Context, key types.MediaKey) (*Record, error) {
	return s.load(ctx, s.db, key)
}

func (s *SQLStore) Get(ctx context.Context, key types.MediaKey) ([]types.ScrapeResult, bool, error) {
	rec, err := s.Record(ctx, key)
	if err != nil || rec == nil {
		return nil, false, err
	}
	return rec.Value, true, nil
}

func (s *SQLStore) Exists(ctx context.Context, key types.MediaKey) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT 1 FROM scraped WHERE key = ?"), key.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "exists %s", key)
	}
	return true, nil
}

// UpsertMerge reads, merges and writes the record inside one transaction. Two
// concurrent merges of the same key may still lose one of the writes.
func (s *SQLStore) UpsertMerge(ctx context.Context, key types.MediaKey, rs []types.ScrapeResult, opts UpsertOptions) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	existing, err := s.load(ctx, tx, key)
	if err != nil {
		return err
	}

	now := s.now().UnixMilli()
	if existing == nil {
		value, err := encodeValue(MergeValues(nil, rs, opts.Replace))
		if err != nil {
			return errors.Wrapf(err, "encode %s", key)
		}
		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO scraped (key, value, updated_at) VALUES (?, ?, ?)"), key.String(), value, now); err != nil {
			return errors.Wrapf(err, "insert %s", key)
		}
		return errors.Wrap(tx.Commit(), "commit")
	}

	value, err := encodeValue(MergeValues(existing.Value, rs, opts.Replace))
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	updated := existing.UpdatedAt.UnixMilli()
	if opts.UpdateTimestamp {
		updated = now
	}
	if _, err := tx.ExecContext(ctx, s.rebind("UPDATE scraped SET value = ?, updated_at = ? WHERE key = ?"), value, updated, key.String()); err != nil {
		return errors.Wrapf(err, "update %s", key)
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func encodeValue(rs []types.ScrapeResult) (string, error) {
	if rs == nil {
		rs = []types.ScrapeResult{}
	}
	b, err := json.Marshal(rs)
	return string(b), err
}

func (s *SQLStore) ListStale(ctx context.Context, kind types.KeyKind, olderThan time.Duration) ([]types.MediaKey, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT key FROM scraped WHERE key LIKE ? AND updated_at <= ? ORDER BY updated_at"),
		kind.Prefix()+":%", cutoff)
	if err != nil {
		return nil, errors.Wrapf(err, "list stale %s", kind)
	}
	defer rows.Close()

	var keys []types.MediaKey
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "scan key")
		}
		key, err := types.ParseMediaKey(raw)
		if err != nil {
			log.Warn().Err(err).Str("key", raw).Msg("skipping malformed cache key")
			continue
		}
		keys = append(keys, key)
	}
	return keys, errors.Wrap(rows.Err(), "iterate keys")
}

func (s *SQLStore) Page(ctx context.Context, key types.MediaKey, maxSizeMB float64, page int) ([]types.ScrapeResult, error) {
	rs, _, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return PageOf(rs, maxSizeMB, page), nil
}

func (s *SQLStore) Touch(ctx context.Context, key types.MediaKey) error {
	now := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx, s.rebind("UPDATE scraped SET updated_at = ? WHERE key = ?"), now, key.String())
	if err != nil {
		return errors.Wrapf(err, "touch %s", key)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return s.UpsertMerge(ctx, key, nil, UpsertOptions{UpdateTimestamp: true})
}

func (s *SQLStore) Delete(ctx context.Context, key types.MediaKey) error {
	_, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM scraped WHERE key = ?"), key.String())
	return errors.Wrapf(err, "delete %s", key)
}

func (s *SQLStore) Stats(ctx context.Context) (map[types.KeyKind]int, error) {
	stats := make(map[types.KeyKind]int)
	for _, kind := range []types.KeyKind{types.KindMovie, types.KindTvSeason, types.KindAnime, types.KindRequested, types.KindProcessing} {
		var n int
		if err := s.db.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM scraped WHERE key LIKE ?"), kind.Prefix()+":%").Scan(&n); err != nil {
			return nil, errors.Wrapf(err, "count %s", kind)
		}
		stats[kind] = n
	}
	return stats, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
