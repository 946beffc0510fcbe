package nyarudb2

import (
	"context"
	"testing"

	"github.com/nyarudb/nyarudb2/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	all := append([]Option{WithPath(t.TempDir()), WithCompactionIntervalSec(3600)}, opts...)
	db, err := Open(all...)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open()
	require.Error(t, err)
}

func TestInsertAndFetch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Insert(ctx, "Users", Document{"id": float64(1), "name": "Alice"}))
	require.NoError(t, db.Insert(ctx, "Users", Document{"id": float64(2), "name": "Bob"}))

	got, err := db.Fetch(ctx, "Users", []query.Predicate{query.Eq("name", "Alice")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.EqualValues(t, 1, got[0]["id"])
}

func TestQueryBuilderRunsThroughPlanner(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.BulkInsert(ctx, "Users", []Document{
		{"id": float64(1), "name": "Alice", "age": float64(30)},
		{"id": float64(2), "name": "Bob", "age": float64(25)},
		{"id": float64(3), "name": "Carol", "age": float64(40)},
	}))

	q := db.Query("Users").Where(query.Between("age", "28", "50"))
	seq, err := db.Run(ctx, q)
	require.NoError(t, err)

	var names []string
	seq(func(doc Document, err error) bool {
		require.NoError(t, err)
		names = append(names, doc["name"].(string))
		return true
	})
	assert.ElementsMatch(t, []string{"Alice", "Carol"}, names)
}

func TestPackedFormatRoundTrip(t *testing.T) {
	db := openTestDB(t, WithPackedFormat(), WithGeneralCodec())
	ctx := context.Background()

	require.NoError(t, db.Insert(ctx, "Events", Document{"kind": "click", "count": float64(3)}))
	got, err := db.Fetch(ctx, "Events", []query.Predicate{query.Eq("kind", "click")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.EqualValues(t, 3, got[0]["count"])
}

func TestCreateIndexAndGetIndexStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.CreateIndex(ctx, "Users", "age"))
	require.NoError(t, db.Insert(ctx, "Users", Document{"id": float64(1), "age": float64(30)}))

	indexStats, err := db.GetIndexStats("Users")
	require.NoError(t, err)
	require.Contains(t, indexStats, "age")
	assert.Equal(t, 1, indexStats["age"].EstimateCount("30"))
}

func TestListCollectionsAndDropCollection(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Insert(ctx, "Users", Document{"id": float64(1)}))

	names, err := db.ListCollections()
	require.NoError(t, err)
	assert.Contains(t, names, "Users")

	require.NoError(t, db.DropCollection(ctx, "Users"))
	names, err = db.ListCollections()
	require.NoError(t, err)
	assert.NotContains(t, names, "Users")
}
