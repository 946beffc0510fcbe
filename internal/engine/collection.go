package engine

import (
	"path/filepath"
	"time"

	"github.com/nyarudb/nyarudb2/internal/codec"
	"github.com/nyarudb/nyarudb2/internal/index"
	"github.com/nyarudb/nyarudb2/internal/record"
	"github.com/nyarudb/nyarudb2/internal/shard"
	"github.com/nyarudb/nyarudb2/internal/stats"
)

const defaultPartition = "default"

// CollectionConfig bundles the knobs a Collection needs at open time,
// fixed at creation per spec.md §3 ("one wire format and one codec
// fixed at collection creation").
type CollectionConfig struct {
	Codec               codec.Codec
	Format              record.ArrayFormat
	CompactionThreshold int
	CompactionInterval  time.Duration
	// Mutator serializes each background compaction pass against this
	// collection's foreground writes (spec.md §6).
	Mutator func(func() error) error
}

// Collection owns one collection's ShardManager, IndexManager, and
// StatsEngine, plus its partition-key configuration (spec.md §3's
// "collection owns its ShardManager and IndexManager").
type Collection struct {
	name           string
	partitionField string // empty means unpartitioned ("default" shard)

	codec  codec.Codec
	format record.ArrayFormat

	shards  *shard.Manager
	indexes *index.Manager
	stats   *stats.Engine
}

func openCollection(baseDir, name string, cfg CollectionConfig) (*Collection, error) {
	sm, err := shard.NewManager(shard.Config{
		Dir:                 filepath.Join(baseDir, name),
		Codec:               cfg.Codec,
		Format:              cfg.Format,
		CompactionThreshold: cfg.CompactionThreshold,
		CompactionInterval:  cfg.CompactionInterval,
		Mutator:             cfg.Mutator,
	})
	if err != nil {
		return nil, err
	}
	return &Collection{
		name:    name,
		codec:   cfg.Codec,
		format:  cfg.Format,
		shards:  sm,
		indexes: index.New(),
		stats:   stats.New(),
	}, nil
}

// partitionValue returns the shard id a document belongs to: the
// extracted string value of the partition field, or "default" when the
// collection has no partition field configured (spec.md §3/§4.3
// invariant 2: "every record appended with partition field P having
// value v is stored in shard v ... or shard default when unpartitioned").
func (c *Collection) partitionValue(doc record.Document) (string, error) {
	if c.partitionField == "" {
		return defaultPartition, nil
	}
	raw, present := doc[c.partitionField]
	v, ok := record.Stringify(raw)
	if !present || !ok {
		return "", &PartitionKeyNotFound{Field: c.partitionField}
	}
	return v, nil
}

// indexedFieldValues returns the canonical string value of every
// currently-indexed field present (and scalar) in doc, skipping fields
// the record doesn't carry — callers index only what's present, per
// spec.md §4.6's "insert ... delegate to the named index" without
// requiring every indexed field on every record.
func (c *Collection) indexedFieldValues(doc record.Document) map[string]string {
	out := make(map[string]string)
	for _, field := range c.indexes.Fields() {
		raw, present := doc[field]
		if !present {
			continue
		}
		if v, ok := record.Stringify(raw); ok {
			out[field] = v
		}
	}
	return out
}

func (c *Collection) close() {
	c.shards.Close()
}
