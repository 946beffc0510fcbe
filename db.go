// Package nyarudb2 is an embedded document database for local,
// single-process applications: documents are self-describing records
// addressed by collection name, partitioned across on-disk shards keyed
// by a field of the document, optionally indexed by secondary B-tree
// indexes, and queryable through a composable predicate DSL that
// streams matches lazily.
package nyarudb2

import (
	"context"

	"github.com/nyarudb/nyarudb2/internal/codec"
	"github.com/nyarudb/nyarudb2/internal/engine"
	"github.com/nyarudb/nyarudb2/internal/record"
	"github.com/nyarudb/nyarudb2/internal/stats"
	"github.com/nyarudb/nyarudb2/query"
)

// Document is the self-describing record shape every collection stores
// (spec.md §3).
type Document = record.Document

// DB is a NyaruDB2 engine instance rooted at one base directory. Create
// one with Open.
type DB struct {
	e *engine.Engine
}

// Open constructs a DB applying opts over the defaults (spec.md §6).
// WithPath is required; Open returns an error if it was never set.
func Open(opts ...Option) (*DB, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.path == "" {
		return nil, &ErrInvalidDocument{Reason: "nyarudb2: WithPath is required"}
	}

	c, err := codec.ByID(cfg.codecID)
	if err != nil {
		return nil, err
	}
	f, err := engine.ResolveFormat(cfg.formatID)
	if err != nil {
		return nil, err
	}

	e, err := engine.New(engine.Config{
		Dir:                 cfg.path,
		Codec:               c,
		Format:              f,
		CompactionThreshold: cfg.compactionThreshold,
		CompactionIntervalS: cfg.compactionIntervalSec,
		FileProtection:      cfg.fileProtection,
	})
	if err != nil {
		return nil, err
	}
	return &DB{e: e}, nil
}

// Close stops every open collection's background compaction task.
func (db *DB) Close() { db.e.Close() }

// Insert appends doc to collection (spec.md §2's public API surface).
func (db *DB) Insert(ctx context.Context, collection string, doc Document) error {
	return db.e.Insert(ctx, collection, doc)
}

// BulkInsert appends every document in docs under one collection-lock
// acquisition.
func (db *DB) BulkInsert(ctx context.Context, collection string, docs []Document) error {
	return db.e.BulkInsert(ctx, collection, docs)
}

// Update mutates every document in collection matching preds via
// mutate, returning the number of documents changed.
func (db *DB) Update(ctx context.Context, collection string, preds []query.Predicate, mutate func(Document) Document) (int, error) {
	return db.e.Update(ctx, collection, preds, mutate)
}

// Delete removes every document in collection matching preds, returning
// the number removed.
func (db *DB) Delete(ctx context.Context, collection string, preds []query.Predicate) (int, error) {
	return db.e.Delete(ctx, collection, preds)
}

// Fetch returns every document in collection matching preds.
func (db *DB) Fetch(ctx context.Context, collection string, preds []query.Predicate) ([]Document, error) {
	return db.e.Fetch(ctx, collection, preds)
}

// FetchStream streams every document in collection matching preds
// without materializing the full result set up front.
func (db *DB) FetchStream(ctx context.Context, collection string, preds []query.Predicate) (func(func(Document, error) bool), error) {
	return db.e.FetchStream(ctx, collection, preds)
}

// Query starts a query builder over collection; call Run to execute it.
func (db *DB) Query(collection string) *query.Query {
	return query.New(collection)
}

// Run executes a *query.Query built via Query/Where/Limit/Offset.
func (db *DB) Run(ctx context.Context, q *query.Query) (func(func(Document, error) bool), error) {
	return db.e.RunQuery(ctx, q)
}

// CreateIndex creates a secondary index on field for collection,
// idempotently.
func (db *DB) CreateIndex(ctx context.Context, collection, field string) error {
	return db.e.CreateIndex(ctx, collection, field)
}

// SetPartitionKey changes collection's partition field for future
// writes; call RepartitionCollection to re-route existing documents.
func (db *DB) SetPartitionKey(ctx context.Context, collection, field string) error {
	return db.e.SetPartitionKey(ctx, collection, field)
}

// RepartitionCollection re-routes every existing document of collection
// to the shard its current partition field now maps to.
func (db *DB) RepartitionCollection(ctx context.Context, collection string) error {
	return db.e.RepartitionCollection(ctx, collection)
}

// DropCollection removes every shard file of collection.
func (db *DB) DropCollection(ctx context.Context, collection string) error {
	return db.e.DropCollection(ctx, collection)
}

// ListCollections enumerates every collection known to the engine.
func (db *DB) ListCollections() ([]string, error) {
	return db.e.ListCollections()
}

// CountDocuments sums documentCount across every shard of collection.
func (db *DB) CountDocuments(collection string) (int64, error) {
	return db.e.CountDocuments(collection)
}

// GetIndexStats returns collection's current per-field index summary.
func (db *DB) GetIndexStats(collection string) (map[string]*stats.IndexStats, error) {
	return db.e.GetIndexStats(collection)
}

// GetShardStats returns collection's current per-shard summary.
func (db *DB) GetShardStats(collection string) ([]stats.ShardStats, error) {
	return db.e.GetShardStats(collection)
}

// CleanupEmptyShards deletes shards of collection whose documentCount
// is zero.
func (db *DB) CleanupEmptyShards(collection string) (int, error) {
	return db.e.CleanupEmptyShards(collection)
}
