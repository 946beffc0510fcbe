package shard

import (
	"testing"
	"time"

	"github.com/nyarudb/nyarudb2/internal/codec"
	"github.com/nyarudb/nyarudb2/internal/record"
	"github.com/nyarudb/nyarudb2/internal/record/tagtree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Dir:                 t.TempDir(),
		Codec:               codec.NoneCodec{},
		Format:              tagtree.Format{},
		CompactionThreshold: 100,
		CompactionInterval:  time.Hour, // tests drive compaction manually
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestGetOrCreateShardIsIdempotent(t *testing.T) {
	m := newTestManager(t)

	s1, err := m.GetOrCreateShard("east")
	require.NoError(t, err)
	s2, err := m.GetOrCreateShard("east")
	require.NoError(t, err)

	assert.Same(t, s1, s2)
}

func TestGetShardNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.GetShard("missing")
	require.Error(t, err)
	var notFound *ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestAllShardsAndInfo(t *testing.T) {
	m := newTestManager(t)
	f := tagtree.Format{}

	for _, partition := range []string{"a", "b"} {
		s, err := m.GetOrCreateShard(partition)
		require.NoError(t, err)
		encoded, err := f.Encode(record.Document{"p": partition})
		require.NoError(t, err)
		require.NoError(t, s.Append(encoded, nil, func(string) (string, error) { return "", nil }))
	}

	assert.Len(t, m.AllShards(), 2)
	infos := m.AllShardInfo()
	assert.Len(t, infos, 2)
	for _, info := range infos {
		assert.EqualValues(t, 1, info.DocumentCount)
	}
}

func TestCleanupEmptyShards(t *testing.T) {
	m := newTestManager(t)
	_, err := m.GetOrCreateShard("empty")
	require.NoError(t, err)

	removed, err := m.CleanupEmptyShards()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Empty(t, m.AllShards())
}

func TestRemoveAllShards(t *testing.T) {
	m := newTestManager(t)
	_, err := m.GetOrCreateShard("a")
	require.NoError(t, err)
	_, err = m.GetOrCreateShard("b")
	require.NoError(t, err)

	require.NoError(t, m.RemoveAllShards())
	assert.Empty(t, m.AllShards())
}

func TestManagerReloadsExistingShardsFromDisk(t *testing.T) {
	dir := t.TempDir()
	f := tagtree.Format{}
	c := codec.NoneCodec{}

	m1, err := NewManager(Config{Dir: dir, Codec: c, Format: f, CompactionInterval: time.Hour})
	require.NoError(t, err)
	s, err := m1.GetOrCreateShard("p1")
	require.NoError(t, err)
	encoded, err := f.Encode(record.Document{"x": "y"})
	require.NoError(t, err)
	require.NoError(t, s.Append(encoded, nil, func(string) (string, error) { return "", nil }))
	m1.Close()

	m2, err := NewManager(Config{Dir: dir, Codec: c, Format: f, CompactionInterval: time.Hour})
	require.NoError(t, err)
	defer m2.Close()

	reloaded, err := m2.GetShard("p1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, reloaded.Metadata().DocumentCount)
}
