package plan

import (
	"context"
	"testing"
	"time"

	"github.com/nyarudb/nyarudb2/internal/codec"
	"github.com/nyarudb/nyarudb2/internal/index"
	"github.com/nyarudb/nyarudb2/internal/record"
	"github.com/nyarudb/nyarudb2/internal/record/tagtree"
	"github.com/nyarudb/nyarudb2/internal/shard"
	"github.com/nyarudb/nyarudb2/internal/stats"
	"github.com/nyarudb/nyarudb2/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	shards *shard.Manager
	idx    *index.Manager
	engine *stats.Engine
	format record.Format
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := tagtree.Format{}
	sm, err := shard.NewManager(shard.Config{
		Dir:                t.TempDir(),
		Codec:              codec.NoneCodec{},
		Format:             f,
		CompactionInterval: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(sm.Close)

	return &fixture{shards: sm, idx: index.New(), engine: stats.New(), format: f}
}

func (fx *fixture) insert(t *testing.T, partition string, doc record.Document, indexedFields []string) {
	t.Helper()
	s, err := fx.shards.GetOrCreateShard(partition)
	require.NoError(t, err)
	encoded, err := fx.format.Encode(doc)
	require.NoError(t, err)
	require.NoError(t, s.Append(encoded, indexedFields, func(field string) (string, error) {
		return fx.format.ExtractField(encoded, field)
	}))
	for _, field := range indexedFields {
		if v, ok := record.Stringify(doc[field]); ok {
			fx.idx.Insert(field, v, encoded)
		}
	}
	fx.engine.MarkDirty()
}

func (fx *fixture) snapshot() *stats.Snapshot {
	return fx.engine.Snapshot(fx.shards, fx.idx)
}

func (fx *fixture) shardIDs() []string {
	var ids []string
	for _, s := range fx.shards.AllShards() {
		ids = append(ids, s.ID())
	}
	return ids
}

func collect(t *testing.T, p Plan, fx *fixture, limit int, hasLimit bool, offset int) []record.Document {
	t.Helper()
	var out []record.Document
	Execute(context.Background(), p, fx.shards, fx.idx, fx.format, limit, hasLimit, offset)(func(doc record.Document, err error) bool {
		require.NoError(t, err)
		out = append(out, doc)
		return true
	})
	return out
}

func TestSelectPrefersIndexOverPartition(t *testing.T) {
	fx := newFixture(t)
	fx.idx.CreateIndex("age")

	fx.insert(t, "east", record.Document{"name": "Alice", "age": "30"}, []string{"age"})
	fx.insert(t, "west", record.Document{"name": "Bob", "age": "25"}, []string{"age"})

	snap := fx.snapshot()
	preds := []query.Predicate{query.Eq("age", "30")}
	p := Select(preds, "region", snap, fx.idx, fx.shardIDs())

	assert.Equal(t, KindIndex, p.Kind)
	assert.Equal(t, "age", p.Field)

	got := collect(t, p, fx, 0, false, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "Alice", got[0]["name"])
}

func TestSelectFallsBackToPartition(t *testing.T) {
	fx := newFixture(t)
	fx.insert(t, "east", record.Document{"name": "Alice", "region": "east"}, nil)
	fx.insert(t, "west", record.Document{"name": "Bob", "region": "west"}, nil)

	snap := fx.snapshot()
	preds := []query.Predicate{query.Eq("region", "east")}
	p := Select(preds, "region", snap, fx.idx, fx.shardIDs())

	assert.Equal(t, KindPartition, p.Kind)
	// "region" was not among the recorded fields, so neither shard has an
	// observed range and both are kept; the region predicate is then
	// applied per record.
	assert.Equal(t, []string{"east", "west"}, p.ShardIDs)

	got := collect(t, p, fx, 0, false, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "Alice", got[0]["name"])
}

func TestSelectFullScanWhenNoIndexOrPartitionMatch(t *testing.T) {
	fx := newFixture(t)
	fx.insert(t, "east", record.Document{"name": "Alice"}, nil)

	snap := fx.snapshot()
	preds := []query.Predicate{query.Contains("name", "lic")}
	p := Select(preds, "region", snap, fx.idx, fx.shardIDs())

	assert.Equal(t, KindFullScan, p.Kind)
	got := collect(t, p, fx, 0, false, 0)
	require.Len(t, got, 1)
}

func TestExecuteAppliesLimitAndOffset(t *testing.T) {
	fx := newFixture(t)
	for i := 0; i < 5; i++ {
		fx.insert(t, "only", record.Document{"i": float64(i)}, nil)
	}

	snap := fx.snapshot()
	p := Select(nil, "", snap, fx.idx, fx.shardIDs())
	assert.Equal(t, KindFullScan, p.Kind)

	got := collect(t, p, fx, 2, true, 1)
	assert.Len(t, got, 2)
}

func TestMatchesEvaluatesAllOperators(t *testing.T) {
	doc := record.Document{"name": "Alice", "age": float64(30)}

	assert.True(t, Matches(doc, []query.Predicate{query.Eq("name", "Alice")}))
	assert.False(t, Matches(doc, []query.Predicate{query.Eq("name", "Bob")}))
	assert.True(t, Matches(doc, []query.Predicate{query.Between("age", "20", "40")}))
	assert.True(t, Matches(doc, []query.Predicate{query.Gt("age", "25"), query.Lt("age", "40"), query.Gte("age", "30"), query.Lte("age", "30")}))
	assert.False(t, Matches(doc, []query.Predicate{query.Gt("age", "30")}))
	assert.True(t, Matches(doc, []query.Predicate{query.StartsWith("name", "Al")}))
	assert.True(t, Matches(doc, []query.Predicate{query.Contains("name", "lic")}))
	assert.True(t, Matches(doc, []query.Predicate{query.NotEq("name", "Bob")}))
	assert.True(t, Matches(doc, []query.Predicate{query.In("age", "25", "30")}))
}
