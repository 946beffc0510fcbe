package engine

import (
	"context"
	"testing"
	"time"

	"github.com/nyarudb/nyarudb2/internal/codec"
	"github.com/nyarudb/nyarudb2/internal/record"
	"github.com/nyarudb/nyarudb2/internal/record/tagtree"
	"github.com/nyarudb/nyarudb2/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Config{
		Dir:                 t.TempDir(),
		Codec:               codec.NoneCodec{},
		Format:              tagtree.Format{},
		CompactionThreshold: 100,
		CompactionIntervalS: 3600,
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

// seedUsers inserts the five-document fixture from spec.md §8's
// end-to-end scenarios into collection "Users".
func seedUsers(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	users := []record.Document{
		{"id": float64(1), "name": "Alice", "age": float64(30)},
		{"id": float64(2), "name": "Bob", "age": float64(25)},
		{"id": float64(3), "name": "Charlie", "age": float64(35)},
		{"id": float64(4), "name": "David", "age": float64(40)},
		{"id": float64(5), "name": "Alice", "age": float64(45)},
	}
	require.NoError(t, e.BulkInsert(ctx, "Users", users))
}

func idsOf(docs []record.Document) []float64 {
	var ids []float64
	for _, d := range docs {
		ids = append(ids, d["id"].(float64))
	}
	return ids
}

func TestScenarioEqualityFilter(t *testing.T) {
	e := newTestEngine(t)
	seedUsers(t, e)

	got, err := e.Fetch(context.Background(), "Users", []query.Predicate{query.Eq("name", "Alice")})
	require.NoError(t, err)
	assert.ElementsMatch(t, []float64{1, 5}, idsOf(got))
}

func TestScenarioBetween(t *testing.T) {
	e := newTestEngine(t)
	seedUsers(t, e)

	got, err := e.Fetch(context.Background(), "Users", []query.Predicate{query.Between("age", "30", "40")})
	require.NoError(t, err)
	assert.ElementsMatch(t, []float64{1, 3, 4}, idsOf(got))
}

func TestScenarioStartsWith(t *testing.T) {
	e := newTestEngine(t)
	seedUsers(t, e)

	got, err := e.Fetch(context.Background(), "Users", []query.Predicate{query.StartsWith("name", "A")})
	require.NoError(t, err)
	assert.ElementsMatch(t, []float64{1, 5}, idsOf(got))
}

func TestScenarioContains(t *testing.T) {
	e := newTestEngine(t)
	seedUsers(t, e)

	got, err := e.Fetch(context.Background(), "Users", []query.Predicate{query.Contains("name", "v")})
	require.NoError(t, err)
	assert.ElementsMatch(t, []float64{4}, idsOf(got))
}

func TestScenarioEqualityFilterUsesIndexWhenAvailable(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateIndex(context.Background(), "Users", "name"))
	seedUsers(t, e)

	got, err := e.Fetch(context.Background(), "Users", []query.Predicate{query.Eq("name", "Alice")})
	require.NoError(t, err)
	assert.ElementsMatch(t, []float64{1, 5}, idsOf(got))
}

func TestCreateIndexBackfillsExistingDocuments(t *testing.T) {
	e := newTestEngine(t)
	seedUsers(t, e)

	require.NoError(t, e.CreateIndex(context.Background(), "Users", "name"))

	stats, err := e.GetIndexStats("Users")
	require.NoError(t, err)
	require.Contains(t, stats, "name")
	assert.Equal(t, 2, stats["name"].EstimateCount("Alice"))

	got, err := e.Fetch(context.Background(), "Users", []query.Predicate{query.Eq("name", "Bob")})
	require.NoError(t, err)
	assert.ElementsMatch(t, []float64{2}, idsOf(got))

	// creating the same index again must not duplicate backfilled entries
	require.NoError(t, e.CreateIndex(context.Background(), "Users", "name"))
	stats, err = e.GetIndexStats("Users")
	require.NoError(t, err)
	assert.Equal(t, 2, stats["name"].EstimateCount("Alice"))
}

func TestInsertMissingPartitionFieldFails(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.SetPartitionKey(context.Background(), "Orders", "region"))

	err := e.Insert(context.Background(), "Orders", record.Document{"id": float64(1)})
	require.Error(t, err)
	var notFound *PartitionKeyNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestPartitionRoutingAndCountDocuments(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.SetPartitionKey(ctx, "Orders", "region"))
	require.NoError(t, e.Insert(ctx, "Orders", record.Document{"id": float64(1), "region": "east"}))
	require.NoError(t, e.Insert(ctx, "Orders", record.Document{"id": float64(2), "region": "west"}))
	require.NoError(t, e.Insert(ctx, "Orders", record.Document{"id": float64(3), "region": "east"}))

	count, err := e.CountDocuments("Orders")
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	shardStats, err := e.GetShardStats("Orders")
	require.NoError(t, err)
	assert.Len(t, shardStats, 2)
}

func TestUpdateMutatesMatchingDocuments(t *testing.T) {
	e := newTestEngine(t)
	seedUsers(t, e)

	n, err := e.Update(context.Background(), "Users", []query.Predicate{query.Eq("name", "Alice")}, func(d record.Document) record.Document {
		d["age"] = float64(99)
		return d
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := e.Fetch(context.Background(), "Users", []query.Predicate{query.Eq("age", "99")})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestUpdateNoMatchReturnsDocumentNotFound(t *testing.T) {
	e := newTestEngine(t)
	seedUsers(t, e)

	_, err := e.Update(context.Background(), "Users", []query.Predicate{query.Eq("name", "Zach")}, func(d record.Document) record.Document { return d })
	var notFound *DocumentNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestDeleteRemovesMatchingDocuments(t *testing.T) {
	e := newTestEngine(t)
	seedUsers(t, e)

	n, err := e.Delete(context.Background(), "Users", []query.Predicate{query.Eq("name", "Bob")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := e.CountDocuments("Users")
	require.NoError(t, err)
	assert.EqualValues(t, 4, count)
}

func TestDropCollectionRemovesFromDiskAndListings(t *testing.T) {
	e := newTestEngine(t)
	seedUsers(t, e)

	names, err := e.ListCollections()
	require.NoError(t, err)
	assert.Contains(t, names, "Users")

	require.NoError(t, e.DropCollection(context.Background(), "Users"))

	names, err = e.ListCollections()
	require.NoError(t, err)
	assert.NotContains(t, names, "Users")
}

// TestDropCollectionDoesNotDeadlockWithActiveCompactor guards against a
// regression where DropCollection held the collection write lock across
// its entire body, including stopping the background compactor: if a
// compaction tick fired while that lock was held, compactOnce's mutator
// (wired to the same lock) would block before ever reaching the
// ctx.Done() check that lets the compaction goroutine exit, so
// DropCollection's wait for it to exit never returned.
func TestDropCollectionDoesNotDeadlockWithActiveCompactor(t *testing.T) {
	e, err := New(Config{
		Dir:                 t.TempDir(),
		Codec:               codec.NoneCodec{},
		Format:              tagtree.Format{},
		CompactionThreshold: 100,
		CompactionIntervalS: 1,
	})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Insert(context.Background(), "Users", record.Document{"id": float64(1)}))

	// Give the compaction ticker a chance to be mid-cycle when the drop
	// starts, raising the odds of hitting the race if it regresses.
	time.Sleep(900 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- e.DropCollection(context.Background(), "Users")
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("DropCollection deadlocked with an active background compactor")
	}
}

// TestFetchStreamHoldsReadLockAcrossConsumption guards against a
// regression where FetchStream/RunQuery built the plan and handed back
// the lazy iterator without ever acquiring the collection read lock, so
// a concurrent Insert could run fully interleaved with stream
// consumption instead of being excluded for its duration (spec §5).
func TestFetchStreamHoldsReadLockAcrossConsumption(t *testing.T) {
	e := newTestEngine(t)
	seedUsers(t, e)

	iter, err := e.FetchStream(context.Background(), "Users", []query.Predicate{query.Eq("name", "Alice")})
	require.NoError(t, err)

	paused := make(chan struct{})
	resume := make(chan struct{})
	streamDone := make(chan struct{})

	go func() {
		defer close(streamDone)
		first := true
		iter(func(doc record.Document, err error) bool {
			require.NoError(t, err)
			if first {
				first = false
				close(paused)
				<-resume
			}
			return true
		})
	}()

	<-paused

	insertDone := make(chan error, 1)
	go func() {
		insertDone <- e.Insert(context.Background(), "Users", record.Document{"id": float64(6), "name": "Eve", "age": float64(22)})
	}()

	select {
	case <-insertDone:
		t.Fatal("Insert completed while a FetchStream consumer still held the read lock")
	case <-time.After(150 * time.Millisecond):
	}

	close(resume)
	<-streamDone

	select {
	case err := <-insertDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Insert never completed after FetchStream finished")
	}
}

func TestRepartitionCollectionMovesDocumentsToNewShards(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Insert(ctx, "Orders", record.Document{"id": float64(1), "region": "east"}))
	require.NoError(t, e.Insert(ctx, "Orders", record.Document{"id": float64(2), "region": "west"}))

	shardsBefore, err := e.GetShardStats("Orders")
	require.NoError(t, err)
	require.Len(t, shardsBefore, 1) // both landed in "default"

	require.NoError(t, e.SetPartitionKey(ctx, "Orders", "region"))
	require.NoError(t, e.RepartitionCollection(ctx, "Orders"))

	shardsAfter, err := e.GetShardStats("Orders")
	require.NoError(t, err)
	assert.Len(t, shardsAfter, 2)

	count, err := e.CountDocuments("Orders")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestCleanupEmptyShardsRemovesEmptyPartitions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Insert(ctx, "Orders", record.Document{"id": float64(1)}))
	_, err := e.Delete(ctx, "Orders", []query.Predicate{query.Eq("id", "1")})
	require.NoError(t, err)

	removed, err := e.CleanupEmptyShards("Orders")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
