package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nyarudb/nyarudb2/internal/codec"
	"github.com/nyarudb/nyarudb2/internal/plan"
	"github.com/nyarudb/nyarudb2/internal/record"
	"github.com/nyarudb/nyarudb2/internal/stats"
	"github.com/nyarudb/nyarudb2/query"
)

// Config bundles the engine-wide defaults every collection inherits at
// open time (spec.md §6's configuration options table).
type Config struct {
	Dir                 string
	Codec               codec.Codec
	Format              record.ArrayFormat
	CompactionThreshold int
	CompactionIntervalS int
	FileProtection      int
}

// collectionLock is the per-collection mutator lock (spec.md §5): all
// mutating operations on a collection are serialized through its
// exclusive side, reads share it. Grounded verbatim in the teacher's
// CollectionLock (pkg/storage/storage.go).
type collectionLock struct {
	mu sync.RWMutex
}

// Engine is the top-level storage/query engine: one Engine per base
// directory, owning every collection's state and lock. Generalizes the
// teacher's single StorageEngine (pkg/storage/storage.go) from
// "one in-memory document map with LRU eviction" to "one ShardManager +
// IndexManager + StatsEngine triple per collection."
type Engine struct {
	cfg Config

	mu          sync.RWMutex
	collections map[string]*Collection

	locksMu         sync.RWMutex
	collectionLocks map[string]*collectionLock
}

// New opens an Engine rooted at cfg.Dir, creating it if absent.
func New(cfg Config) (*Engine, error) {
	if cfg.CompactionThreshold <= 0 {
		cfg.CompactionThreshold = 100
	}
	if cfg.CompactionIntervalS <= 0 {
		cfg.CompactionIntervalS = 60
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:             cfg,
		collections:     make(map[string]*Collection),
		collectionLocks: make(map[string]*collectionLock),
	}, nil
}

func (e *Engine) getOrCreateCollectionLock(name string) *collectionLock {
	e.locksMu.RLock()
	if l, ok := e.collectionLocks[name]; ok {
		e.locksMu.RUnlock()
		return l
	}
	e.locksMu.RUnlock()

	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	if l, ok := e.collectionLocks[name]; ok {
		return l
	}
	l := &collectionLock{}
	e.collectionLocks[name] = l
	return l
}

func (e *Engine) withCollectionReadLock(name string, fn func() error) error {
	l := e.getOrCreateCollectionLock(name)
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn()
}

func (e *Engine) withCollectionWriteLock(name string, fn func() error) error {
	l := e.getOrCreateCollectionLock(name)
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}

// getOrOpenCollection returns the named collection, opening it lazily
// on first access using the engine's default codec/format/compaction
// settings (spec.md §3: collections are configured at creation, and
// NyaruDB2's engine-level defaults double as that creation config).
func (e *Engine) getOrOpenCollection(name string) (*Collection, error) {
	e.mu.RLock()
	if c, ok := e.collections[name]; ok {
		e.mu.RUnlock()
		return c, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.collections[name]; ok {
		return c, nil
	}
	c, err := openCollection(e.cfg.Dir, name, CollectionConfig{
		Codec:               e.cfg.Codec,
		Format:              e.cfg.Format,
		CompactionThreshold: e.cfg.CompactionThreshold,
		CompactionInterval:  time.Duration(e.cfg.CompactionIntervalS) * time.Second,
		Mutator: func(fn func() error) error {
			return e.withCollectionWriteLock(name, fn)
		},
	})
	if err != nil {
		return nil, err
	}
	e.collections[name] = c
	return c, nil
}

func checkCtx(ctx context.Context) error {
	return translateCtxErr(ctx.Err())
}

// translateCtxErr maps a context package error to this engine's typed
// spec.md §7 error kinds, distinguishing a caller cancellation from an
// elapsed deadline rather than collapsing both into Cancelled.
func translateCtxErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &Timeout{}
	case errors.Is(err, context.Canceled):
		return &Cancelled{}
	default:
		return err
	}
}

// Insert appends doc to collection, routing it to its partition shard
// and updating every currently-indexed field present on it (spec.md
// §4.3/§4.6, data-flow in §2: "writes → Serializer → ShardManager →
// Shard → IndexManager").
func (e *Engine) Insert(ctx context.Context, collection string, doc record.Document) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	c, err := e.getOrOpenCollection(collection)
	if err != nil {
		return err
	}
	return e.withCollectionWriteLock(collection, func() error {
		return e.insertLocked(c, doc)
	})
}

func (e *Engine) insertLocked(c *Collection, doc record.Document) error {
	partitionValue, err := c.partitionValue(doc)
	if err != nil {
		return err
	}
	encoded, err := c.format.Encode(doc)
	if err != nil {
		return &EncodeFailure{Err: err}
	}

	s, err := c.shards.GetOrCreateShard(partitionValue)
	if err != nil {
		return err
	}
	indexedFields := c.indexes.Fields()
	if err := s.Append(encoded, indexedFields, func(field string) (string, error) {
		return c.format.ExtractField(encoded, field)
	}); err != nil {
		return err
	}

	for field, value := range c.indexedFieldValues(doc) {
		c.indexes.Insert(field, value, encoded)
	}
	c.stats.MarkDirty()
	return nil
}

// BulkInsert inserts every document in docs under a single collection
// lock acquisition, grounded in the teacher's batch insert endpoint
// (pkg/api/batch_insert.go) which likewise amortizes locking across a
// whole batch rather than per document.
func (e *Engine) BulkInsert(ctx context.Context, collection string, docs []record.Document) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	c, err := e.getOrOpenCollection(collection)
	if err != nil {
		return err
	}
	return e.withCollectionWriteLock(collection, func() error {
		for _, doc := range docs {
			if err := checkCtx(ctx); err != nil {
				return err
			}
			if err := e.insertLocked(c, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

// Fetch returns every document in collection matching preds, evaluated
// via the query planner (spec.md §4.8).
func (e *Engine) Fetch(ctx context.Context, collection string, preds []query.Predicate) ([]record.Document, error) {
	var out []record.Document
	var outerErr error
	err := e.withCollectionReadLock(collection, func() error {
		c, err := e.getOrOpenCollection(collection)
		if err != nil {
			return err
		}
		p := e.selectPlan(c, preds)
		plan.Execute(ctx, p, c.shards, c.indexes, c.format, 0, false, 0)(func(doc record.Document, err error) bool {
			if err != nil {
				outerErr = translateCtxErr(err)
				return false
			}
			out = append(out, doc)
			return true
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, outerErr
}

// FetchStream streams every document matching preds without
// materializing the full result set first (spec.md §2's public API
// surface: "fetchStream"). The collection read lock is held for the
// lifetime of the returned iterator, not just while building the plan:
// an index plan's iterator walks btree posting lists directly, so a
// concurrent Insert/Update must stay excluded until the caller has
// finished consuming it (spec §5).
func (e *Engine) FetchStream(ctx context.Context, collection string, preds []query.Predicate) (func(func(record.Document, error) bool), error) {
	c, err := e.getOrOpenCollection(collection)
	if err != nil {
		return nil, err
	}
	p := e.selectPlan(c, preds)
	iter := plan.Execute(ctx, p, c.shards, c.indexes, c.format, 0, false, 0)
	return e.lockedIterator(collection, iter), nil
}

// RunQuery executes a *query.Query built via the public builder,
// applying its Limit/Offset modifiers (§4 supplement). See FetchStream
// for why the collection read lock spans the returned iterator.
func (e *Engine) RunQuery(ctx context.Context, q *query.Query) (func(func(record.Document, error) bool), error) {
	c, err := e.getOrOpenCollection(q.Collection)
	if err != nil {
		return nil, err
	}
	p := e.selectPlan(c, q.Predicates)
	iter := plan.Execute(ctx, p, c.shards, c.indexes, c.format, q.LimitN, q.HasLimit, q.OffsetN)
	return e.lockedIterator(q.Collection, iter), nil
}

// lockedIterator wraps iter so the collection's read lock is acquired
// before the caller starts pulling from it and released once the
// caller stops (by exhausting it or breaking early), rather than only
// around plan selection.
func (e *Engine) lockedIterator(collection string, iter func(func(record.Document, error) bool)) func(func(record.Document, error) bool) {
	l := e.getOrCreateCollectionLock(collection)
	return func(yield func(record.Document, error) bool) {
		l.mu.RLock()
		defer l.mu.RUnlock()
		iter(func(doc record.Document, err error) bool {
			if err != nil {
				return yield(doc, translateCtxErr(err))
			}
			return yield(doc, nil)
		})
	}
}

func (e *Engine) selectPlan(c *Collection, preds []query.Predicate) plan.Plan {
	snap := c.stats.Snapshot(c.shards, c.indexes)
	var ids []string
	for _, s := range c.shards.AllShards() {
		ids = append(ids, s.ID())
	}
	return plan.Select(preds, c.partitionField, snap, c.indexes, ids)
}

// Update mutates every document matching preds via mutate, rewriting
// their owning shards and refreshing index entries for changed fields.
// Returns the number of documents updated, or DocumentNotFound if none
// matched (spec.md §7).
func (e *Engine) Update(ctx context.Context, collection string, preds []query.Predicate, mutate func(record.Document) record.Document) (int, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	c, err := e.getOrOpenCollection(collection)
	if err != nil {
		return 0, err
	}
	var count int
	err = e.withCollectionWriteLock(collection, func() error {
		n, err := e.rewriteShards(c, preds, func(doc record.Document) (record.Document, bool, error) {
			updated := mutate(doc)
			return updated, true, nil
		})
		count = n
		return err
	})
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, &DocumentNotFound{}
	}
	return count, nil
}

// Delete removes every document matching preds. Returns the number
// removed, or DocumentNotFound if none matched.
func (e *Engine) Delete(ctx context.Context, collection string, preds []query.Predicate) (int, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	c, err := e.getOrOpenCollection(collection)
	if err != nil {
		return 0, err
	}
	var count int
	err = e.withCollectionWriteLock(collection, func() error {
		n, err := e.rewriteShards(c, preds, func(doc record.Document) (record.Document, bool, error) {
			return nil, false, nil
		})
		count = n
		return err
	})
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, &DocumentNotFound{}
	}
	return count, nil
}

// rewriteShards walks every shard of c, decoding each element; for
// matches it calls apply(doc) to get a replacement (keep=false deletes
// the record). It rebuilds each touched shard's element array via
// SaveAll and re-indexes changed documents, returning the number of
// records that matched preds.
func (e *Engine) rewriteShards(c *Collection, preds []query.Predicate, apply func(record.Document) (record.Document, bool, error)) (int, error) {
	touched := 0
	for _, s := range c.shards.AllShards() {
		elements, err := s.LoadRawElements()
		if err != nil {
			return touched, err
		}

		rebuilt := make([][]byte, 0, len(elements))
		changed := false
		for _, encoded := range elements {
			doc, err := c.format.Decode(encoded)
			if err != nil {
				return touched, &DecodeFailure{Err: err}
			}
			if !plan.Matches(doc, preds) {
				rebuilt = append(rebuilt, encoded)
				continue
			}
			touched++
			changed = true

			oldValues := c.indexedFieldValues(doc)
			replacement, keep, err := apply(doc)
			if err != nil {
				return touched, err
			}
			for field, value := range oldValues {
				c.indexes.Delete(field, value, encoded)
			}
			if !keep {
				continue
			}
			reencoded, err := c.format.Encode(replacement)
			if err != nil {
				return touched, &EncodeFailure{Err: err}
			}
			rebuilt = append(rebuilt, reencoded)
			for field, value := range c.indexedFieldValues(replacement) {
				c.indexes.Insert(field, value, reencoded)
			}
		}

		if changed {
			if err := s.SaveAll(rebuilt); err != nil {
				return touched, err
			}
		}
	}
	if touched > 0 {
		c.stats.MarkDirty()
	}
	return touched, nil
}

// CreateIndex creates a secondary index on field for collection,
// idempotently, and backfills it from every document already stored
// (spec.md §4.6), grounded in the teacher's pkg/indexing build-on-
// existing-data path rather than leaving a freshly created index empty
// until the next write touches each document.
func (e *Engine) CreateIndex(ctx context.Context, collection, field string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	c, err := e.getOrOpenCollection(collection)
	if err != nil {
		return err
	}
	return e.withCollectionWriteLock(collection, func() error {
		if c.indexes.HasIndex(field) {
			return nil
		}
		c.indexes.CreateIndex(field)
		for _, s := range c.shards.AllShards() {
			if err := checkCtx(ctx); err != nil {
				return err
			}
			elements, err := s.LoadRawElements()
			if err != nil {
				return err
			}
			for _, encoded := range elements {
				doc, err := c.format.Decode(encoded)
				if err != nil {
					return &DecodeFailure{Err: err}
				}
				raw, present := doc[field]
				if !present {
					continue
				}
				if v, ok := record.Stringify(raw); ok {
					c.indexes.Insert(field, v, encoded)
				}
			}
		}
		c.stats.MarkDirty()
		return nil
	})
}

// SetPartitionKey changes collection's partition field for future
// writes only; existing shards are unaffected until
// RepartitionCollection runs (spec.md §3's "partition map... mutable by
// setPartitionKey and repartitionCollection").
func (e *Engine) SetPartitionKey(ctx context.Context, collection, field string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	c, err := e.getOrOpenCollection(collection)
	if err != nil {
		return err
	}
	return e.withCollectionWriteLock(collection, func() error {
		c.partitionField = field
		return nil
	})
}

// RepartitionCollection re-routes every existing document of collection
// to the shard its current partition field maps to, rebuilding the
// shard set from scratch (spec.md §4.4 "removeAllShards... used by
// repartitioning").
func (e *Engine) RepartitionCollection(ctx context.Context, collection string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	c, err := e.getOrOpenCollection(collection)
	if err != nil {
		return err
	}
	return e.withCollectionWriteLock(collection, func() error {
		var all [][]byte
		for _, s := range c.shards.AllShards() {
			elements, err := s.LoadRawElements()
			if err != nil {
				return err
			}
			all = append(all, elements...)
		}
		if err := c.shards.RemoveAllShards(); err != nil {
			return err
		}
		for _, encoded := range all {
			doc, err := c.format.Decode(encoded)
			if err != nil {
				return &DecodeFailure{Err: err}
			}
			partitionValue, err := c.partitionValue(doc)
			if err != nil {
				return err
			}
			s, err := c.shards.GetOrCreateShard(partitionValue)
			if err != nil {
				return err
			}
			indexedFields := c.indexes.Fields()
			if err := s.Append(encoded, indexedFields, func(field string) (string, error) {
				return c.format.ExtractField(encoded, field)
			}); err != nil {
				return err
			}
		}
		c.stats.MarkDirty()
		return nil
	})
}

// DropCollection removes every shard file of collection and forgets its
// in-memory state.
func (e *Engine) DropCollection(ctx context.Context, collection string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	c, ok := e.collections[collection]
	if ok {
		delete(e.collections, collection)
	}
	e.mu.Unlock()
	if !ok {
		// Not opened in this process: its files may still be on disk.
		return e.withCollectionWriteLock(collection, func() error {
			return os.RemoveAll(filepath.Join(e.cfg.Dir, collection))
		})
	}

	// Stop the collection's background compactor before taking its write
	// lock below: compactOnce's mutator hook acquires that same lock, so
	// stopping it first avoids the compaction goroutine blocking on a
	// lock we're already holding, past the point in its select loop
	// where it would ever observe ctx.Done() and let c.close() return.
	c.close()

	return e.withCollectionWriteLock(collection, func() error {
		if err := c.shards.RemoveAllShards(); err != nil {
			return err
		}
		return os.RemoveAll(filepath.Join(e.cfg.Dir, collection))
	})
}

// ListCollections enumerates every collection directory under the
// engine's base directory, grounded in the teacher's in-memory
// se.collections map enumeration (pkg/storage/collections.go),
// generalized to a directory walk since NyaruDB2 collections are
// identified by their on-disk directory rather than an in-memory map
// entry that might not have been opened yet this process.
func (e *Engine) ListCollections() ([]string, error) {
	entries, err := os.ReadDir(e.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// CountDocuments sums documentCount across every shard of collection
// (spec.md §8 invariant 2).
func (e *Engine) CountDocuments(collection string) (int64, error) {
	c, err := e.getOrOpenCollection(collection)
	if err != nil {
		return 0, err
	}
	var total int64
	err = e.withCollectionReadLock(collection, func() error {
		for _, info := range c.shards.AllShardInfo() {
			total += info.DocumentCount
		}
		return nil
	})
	return total, err
}

// GetIndexStats returns the collection's current per-field index
// summary (spec.md §4.7).
func (e *Engine) GetIndexStats(collection string) (map[string]*stats.IndexStats, error) {
	c, err := e.getOrOpenCollection(collection)
	if err != nil {
		return nil, err
	}
	var snap *stats.Snapshot
	err = e.withCollectionReadLock(collection, func() error {
		snap = c.stats.Snapshot(c.shards, c.indexes)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap.IndexStats, nil
}

// GetShardStats returns the collection's current per-shard summary
// (spec.md §4.7).
func (e *Engine) GetShardStats(collection string) ([]stats.ShardStats, error) {
	c, err := e.getOrOpenCollection(collection)
	if err != nil {
		return nil, err
	}
	var snap *stats.Snapshot
	err = e.withCollectionReadLock(collection, func() error {
		snap = c.stats.Snapshot(c.shards, c.indexes)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap.ShardStats, nil
}

// CleanupEmptyShards deletes shards whose documentCount is zero
// (spec.md §4.4).
func (e *Engine) CleanupEmptyShards(collection string) (int, error) {
	c, err := e.getOrOpenCollection(collection)
	if err != nil {
		return 0, err
	}
	var removed int
	err = e.withCollectionWriteLock(collection, func() error {
		n, err := c.shards.CleanupEmptyShards()
		removed = n
		if n > 0 {
			c.stats.MarkDirty()
		}
		return err
	})
	return removed, err
}

// Close stops every open collection's background compaction task.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.collections {
		c.close()
	}
}
