// Package stats implements the StatsEngine (spec.md §4.7): per-collection
// index and shard summaries consulted by the planner, recomputed lazily
// after mutations and published to readers as immutable snapshots.
// Grounded in the teacher's CollectionInfo dirty-flag idea
// (pkg/storage/collection.go), repurposed from "needs disk save" to
// "needs stats recompute."
package stats

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nyarudb/nyarudb2/internal/index"
	"github.com/nyarudb/nyarudb2/internal/shard"
)

// FieldRange is a per-shard (min, max) bound for one field, mirroring
// shard.FieldRange but decoupled from the shard package's own type so
// stats consumers never import internal/shard directly.
type FieldRange struct {
	Min string
	Max string
}

// KeyCount is a per-indexed-key document count, used by the planner to
// estimate predicate selectivity (spec.md §4.8 "lowest estimated
// matching records").
type KeyCount struct {
	Key   string
	Count int
}

// IndexStats summarizes one indexed field: per-shard min/max ranges and
// per-key document counts (spec.md §4.7).
type IndexStats struct {
	Field      string
	ShardRange map[string]FieldRange // shard id -> observed range
	KeyCounts  map[string]int        // index key -> document count
}

// EstimateCount returns the planner's selectivity estimate for a single
// key lookup: the number of documents carrying that exact key, or 0 if
// the key was never observed.
func (s *IndexStats) EstimateCount(key string) int {
	if s == nil {
		return 0
	}
	return s.KeyCounts[key]
}

// ShardStats summarizes one shard: its id, document count, and observed
// per-indexed-field min/max (spec.md §4.7).
type ShardStats struct {
	ID            string
	DocumentCount int64
	FieldStats    map[string]FieldRange
}

// Snapshot is the immutable per-collection summary handed to the planner
// (spec.md §4.7 "readers get an immutable snapshot").
type Snapshot struct {
	Version    uint64
	IndexStats map[string]*IndexStats // field -> stats
	ShardStats []ShardStats
}

// Engine owns the lazily-recomputed snapshot for one collection. Callers
// call MarkDirty after any mutating operation; Snapshot recomputes only
// if MarkDirty was called since the last build, and each rebuild bumps
// the snapshot's Version.
type Engine struct {
	mu      sync.Mutex
	dirty   atomic.Bool
	current *Snapshot
	version uint64
}

// New creates a StatsEngine starting in the dirty state, so the first
// Snapshot call always builds one.
func New() *Engine {
	e := &Engine{}
	e.dirty.Store(true)
	return e
}

// MarkDirty flags the snapshot stale; the next Snapshot call rebuilds it.
func (e *Engine) MarkDirty() {
	e.dirty.Store(true)
}

// Snapshot returns the current immutable summary for the collection,
// rebuilding from shards and indexes if the engine is dirty.
func (e *Engine) Snapshot(shards *shard.Manager, indexes *index.Manager) *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.dirty.Load() && e.current != nil {
		return e.current
	}

	snap := &Snapshot{
		IndexStats: make(map[string]*IndexStats),
	}

	infos := shards.AllShardInfo()
	snap.ShardStats = make([]ShardStats, 0, len(infos))
	for _, info := range infos {
		fs := make(map[string]FieldRange, len(info.FieldStats))
		for field, r := range info.FieldStats {
			fs[field] = FieldRange{Min: r.Min, Max: r.Max}
		}
		snap.ShardStats = append(snap.ShardStats, ShardStats{
			ID:            info.ID,
			DocumentCount: info.DocumentCount,
			FieldStats:    fs,
		})
	}
	sort.Slice(snap.ShardStats, func(i, j int) bool { return snap.ShardStats[i].ID < snap.ShardStats[j].ID })

	for _, field := range indexes.Fields() {
		is := &IndexStats{
			Field:      field,
			ShardRange: make(map[string]FieldRange),
			KeyCounts:  make(map[string]int),
		}
		for _, ss := range snap.ShardStats {
			if r, ok := ss.FieldStats[field]; ok {
				is.ShardRange[ss.ID] = r
			}
		}
		indexes.WalkKeyCounts(field, func(key string, count int) {
			is.KeyCounts[key] = count
		})
		snap.IndexStats[field] = is
	}

	e.version++
	snap.Version = e.version
	e.current = snap
	e.dirty.Store(false)
	return snap
}
