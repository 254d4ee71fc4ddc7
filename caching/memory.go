package caching

import (
	"context"
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/109isaque10/scraped/types"
)

const DefaultSaveInterval = 30 * time.Second

// entry represents a stored record
type entry struct {
	Value     []types.ScrapeResult
	UpdatedAt time.Time
}

// snapshot is used for serialization (gob can't encode mutexes)
type snapshot struct {
	Items map[string]*entry
}

// MemoryStore is a thread-safe in-process store. With a snapshot path it is
// loaded on start and saved periodically while dirty.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*entry
	// version counts writes, saved is the version last written to disk
	version uint64
	saved   uint64

	path string
	now  func() time.Time
	stop chan struct{}
	done chan struct{}
}

// NewMemoryStore creates a new store. An empty path keeps everything in memory only.
func NewMemoryStore(path string, saveInterval time.Duration) (*MemoryStore, error) {
	m := &MemoryStore{
		items: make(map[string]*entry),
		path:  path,
		now:   time.Now,
	}
	if path == "" {
		return m, nil
	}

	if err := m.loadFromFile(); err != nil {
		log.Warn().Err(err).Msg("⚠️ Could not load cache snapshot (starting fresh)")
	} else {
		log.Info().Msgf("✅ Loaded cache snapshot: %d entries", len(m.items))
	}

	if saveInterval <= 0 {
		saveInterval = DefaultSaveInterval
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.startPeriodicSave(saveInterval)

	return m, nil
}

// SetClock replaces the time source used for UpdatedAt and staleness
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Record(_ context.Context, key types.MediaKey) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.items[key.String()]
	if !ok {
		return nil, nil
	}
	return &Record{Key: key, Value: append([]types.ScrapeResult(nil), e.Value...), UpdatedAt: e.UpdatedAt}, nil
}

func (m *MemoryStore) Get(ctx context.Context, key types.MediaKey) ([]types.ScrapeResult, bool, error) {
	rec, _ := m.Record(ctx, key)
	if rec == nil {
		return nil, false, nil
	}
	return rec.Value, true, nil
}

func (m *MemoryStore) Exists(_ context.Context, key types.MediaKey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.items[key.String()]
	return ok, nil
}

func (m *MemoryStore) UpsertMerge(_ context.Context, key types.MediaKey, rs []types.ScrapeResult, opts UpsertOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.items[key.String()]
	if !ok {
		m.items[key.String()] = &entry{Value: MergeValues(nil, rs, opts.Replace), UpdatedAt: now}
		m.version++
		return nil
	}

	e.Value = MergeValues(e.Value, rs, opts.Replace)
	if opts.UpdateTimestamp {
		e.UpdatedAt = now
	}
	m.version++
	return nil
}

func (m *MemoryStore) ListStale(_ context.Context, kind types.KeyKind, olderThan time.Duration) ([]types.MediaKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-olderThan)
	prefix := kind.Prefix() + ":"

	type stale struct {
		key     types.MediaKey
		updated time.Time
	}
	var found []stale
	for raw, e := range m.items {
		if !strings.HasPrefix(raw, prefix) || e.UpdatedAt.After(cutoff) {
			continue
		}
		key, err := types.ParseMediaKey(raw)
		if err != nil {
			continue
		}
		found = append(found, stale{key, e.UpdatedAt})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].updated.Before(found[j].updated) })
	keys := make([]types.MediaKey, 0, len(found))
	for _, s := range found {
		keys = append(keys, s.key)
	}
	return keys, nil
}

func (m *MemoryStore) Page(ctx context.Context, key types.MediaKey, maxSizeMB float64, page int) ([]types.ScrapeResult, error) {
	rs, _, _ := m.Get(ctx, key)
	return PageOf(rs, maxSizeMB, page), nil
}

func (m *MemoryStore) Touch(_ context.Context, key types.MediaKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.items[key.String()]; ok {
		e.UpdatedAt = m.now()
	} else {
		m.items[key.String()] = &entry{Value: []types.ScrapeResult{}, UpdatedAt: m.now()}
	}
	m.version++
	return nil
}

// Delete removes a record
func (m *MemoryStore) Delete(_ context.Context, key types.MediaKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key.String())
	m.version++
	return nil
}

func (m *MemoryStore) Stats(_ context.Context) (map[types.KeyKind]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[types.KeyKind]int)
	for raw := range m.items {
		if key, err := types.ParseMediaKey(raw); err == nil {
			stats[key.Kind]++
		}
	}
	return stats, nil
}

// Size returns the number of records in the store
func (m *MemoryStore) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.items)
}

func (m *MemoryStore) startPeriodicSave(interval time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if !m.Dirty() {
				continue
			}
			if err := m.Flush(); err != nil {
				log.Warn().Err(err).Msg("⚠️ Failed to save cache snapshot")
			}
		}
	}
}

// loadFromFile loads the snapshot from disk
func (m *MemoryStore) loadFromFile() error {
	file, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist yet, that's okay
			return nil
		}
		return err
	}
	defer file.Close()

	var data snapshot
	if err := gob.NewDecoder(file).Decode(&data); err != nil {
		return errors.Wrap(err, "decode snapshot")
	}

	m.mu.Lock()
	if data.Items != nil {
		m.items = data.Items
	}
	m.mu.Unlock()

	return nil
}

// Flush writes the snapshot to disk. It is a no-op without a snapshot path.
func (m *MemoryStore) Flush() error {
	if m.path == "" {
		return nil
	}

	version, err := m.writeSnapshot()
	if err != nil {
		return err
	}
	m.markSaved(version)
	return nil
}

// writeSnapshot replaces the snapshot file and returns the version it holds
func (m *MemoryStore) writeSnapshot() (uint64, error) {
	// encode under the read lock, the entries are mutated in place by writers
	m.mu.RLock()
	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".snapshot-*")
	if err != nil {
		m.mu.RUnlock()
		return 0, errors.Wrap(err, "create snapshot file")
	}
	encErr := gob.NewEncoder(tmp).Encode(snapshot{Items: m.items})
	version := m.version
	m.mu.RUnlock()

	if encErr != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, errors.Wrap(encErr, "encode snapshot")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return 0, errors.Wrap(err, "replace snapshot")
	}
	return version, nil
}

// markSaved records version as on disk. Writes made after it keep the store dirty.
func (m *MemoryStore) markSaved(version uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if version > m.saved {
		m.saved = version
	}
}

// Dirty reports whether there are writes not yet in the snapshot
func (m *MemoryStore) Dirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version != m.saved
}

// Close stops the periodic save and writes a final snapshot
func (m *MemoryStore) Close() error {
	if m.stop != nil {
		close(m.stop)
		<-m.done
		m.stop = nil
	}
	return m.Flush()
}
