package shard

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nyarudb/nyarudb2/internal/codec"
	"github.com/nyarudb/nyarudb2/internal/record"
)

// Info is an immutable metadata snapshot for one shard, returned by
// Manager.AllShardInfo for StatsEngine consumption (spec §4.7).
type Info struct {
	ID            string
	DocumentCount int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FieldStats    map[string]FieldRange
}

// Manager owns the shards of one collection: partition-value → Shard,
// plus the background compactor described in spec §4.4. Grounded in the
// teacher's StorageEngine map+lock bookkeeping (pkg/storage/storage.go,
// pkg/storage/collections.go), narrowed from whole-database scope to one
// collection.
type Manager struct {
	dir    string
	codec  codec.Codec
	format record.ArrayFormat

	mu     sync.Mutex
	shards map[string]*Shard
	order  []string // shard ids in createdAt-ascending order

	compactionThreshold int
	compactionInterval  time.Duration

	// mutator wraps the atomic primary-shard rewrite step of a
	// compaction pass (spec §6: compaction takes the collection
	// mutator). The engine wires this to its per-collection write
	// lock; tests and standalone use default to a direct call.
	mutator func(func() error) error

	cancel context.CancelFunc
	done   chan struct{}
}

// Config bundles the knobs a Manager needs at construction.
type Config struct {
	Dir                 string
	Codec               codec.Codec
	Format              record.ArrayFormat
	CompactionThreshold int
	CompactionInterval  time.Duration
	// Mutator, if set, is invoked around each compaction pass's merge
	// and shard rewrite so it is serialized against foreground writes
	// to the same collection (spec §6). Defaults to a direct call.
	Mutator func(func() error) error
}

// NewManager creates a ShardManager for one collection, rooted at dir,
// and starts its background compaction loop (spec §4.4).
func NewManager(cfg Config) (*Manager, error) {
	if cfg.CompactionThreshold <= 0 {
		cfg.CompactionThreshold = 100
	}
	if cfg.CompactionInterval <= 0 {
		cfg.CompactionInterval = 60 * time.Second
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	mutator := cfg.Mutator
	if mutator == nil {
		mutator = func(fn func() error) error { return fn() }
	}

	m := &Manager{
		dir:                 cfg.Dir,
		codec:               cfg.Codec,
		format:              cfg.Format,
		shards:              make(map[string]*Shard),
		compactionThreshold: cfg.CompactionThreshold,
		compactionInterval:  cfg.CompactionInterval,
		mutator:             mutator,
		done:                make(chan struct{}),
	}

	if err := m.loadExistingShards(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.compactionLoop(ctx)

	return m, nil
}

func (m *Manager) loadExistingShards() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".nyaru" {
			ids = append(ids, name[:len(name)-len(".nyaru")])
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		s, err := open(m.dir, id, m.codec, m.format)
		if err != nil {
			log.Printf("WARN: shard manager: failed to open shard %q: %v", id, err)
			continue
		}
		m.shards[id] = s
		m.order = append(m.order, id)
	}
	m.resortOrderLocked()
	return nil
}

// GetOrCreateShard returns the shard for partitionValue, creating it
// lazily on first access (idempotent; concurrent callers observe the
// same *Shard instance, spec §4.4).
func (m *Manager) GetOrCreateShard(partitionValue string) (*Shard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.shards[partitionValue]; ok {
		return s, nil
	}
	s, err := open(m.dir, partitionValue, m.codec, m.format)
	if err != nil {
		return nil, err
	}
	m.shards[partitionValue] = s
	m.order = append(m.order, partitionValue)
	m.resortOrderLocked()
	return s, nil
}

// GetShard returns the shard with the given id, or ErrNotFound.
func (m *Manager) GetShard(id string) (*Shard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shards[id]
	if !ok {
		return nil, &ErrNotFound{ID: id}
	}
	return s, nil
}

// AllShards returns every shard currently owned by this manager, in
// createdAt-ascending order.
func (m *Manager) AllShards() []*Shard {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Shard, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.shards[id])
	}
	return out
}

// AllShardInfo returns an immutable metadata snapshot of every shard.
func (m *Manager) AllShardInfo() []Info {
	shards := m.AllShards()
	out := make([]Info, 0, len(shards))
	for _, s := range shards {
		meta := s.Metadata()
		out = append(out, Info{
			ID:            s.ID(),
			DocumentCount: meta.DocumentCount,
			CreatedAt:     meta.CreatedAt,
			UpdatedAt:     meta.UpdatedAt,
			FieldStats:    meta.FieldStats,
		})
	}
	return out
}

// RemoveAllShards deletes every shard file this manager owns and clears
// its in-memory map, used by repartitionCollection (spec §4.4).
func (m *Manager) RemoveAllShards() error {
	m.mu.Lock()
	shards := make([]*Shard, 0, len(m.shards))
	for _, s := range m.shards {
		shards = append(shards, s)
	}
	m.shards = make(map[string]*Shard)
	m.order = nil
	m.mu.Unlock()

	for _, s := range shards {
		if err := s.Remove(); err != nil {
			return err
		}
	}
	return nil
}

// CleanupEmptyShards deletes shards whose documentCount is zero
// (spec §4.4).
func (m *Manager) CleanupEmptyShards() (int, error) {
	m.mu.Lock()
	var empties []string
	for id, s := range m.shards {
		if s.Metadata().DocumentCount == 0 {
			empties = append(empties, id)
		}
	}
	m.mu.Unlock()

	removed := 0
	for _, id := range empties {
		m.mu.Lock()
		s, ok := m.shards[id]
		if ok {
			delete(m.shards, id)
			m.removeFromOrderLocked(id)
		}
		m.mu.Unlock()
		if !ok {
			continue
		}
		if err := s.Remove(); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Close cancels the background compaction task and waits for the
// current iteration to finish before returning (spec §4.4, §5).
func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
}

func (m *Manager) resortOrderLocked() {
	sort.SliceStable(m.order, func(i, j int) bool {
		a, aok := m.shards[m.order[i]]
		b, bok := m.shards[m.order[j]]
		if !aok || !bok {
			return false
		}
		return a.Metadata().CreatedAt.Before(b.Metadata().CreatedAt)
	})
}

func (m *Manager) removeFromOrderLocked(id string) {
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}
