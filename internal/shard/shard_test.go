package shard

import (
	"fmt"
	"testing"

	"github.com/nyarudb/nyarudb2/internal/codec"
	"github.com/nyarudb/nyarudb2/internal/record"
	"github.com/nyarudb/nyarudb2/internal/record/tagtree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestShard(t *testing.T, c codec.Codec) *Shard {
	t.Helper()
	dir := t.TempDir()
	s, err := open(dir, "default", c, tagtree.Format{})
	require.NoError(t, err)
	return s
}

func TestAppendAndLoadAll(t *testing.T) {
	for _, c := range []codec.Codec{codec.NoneCodec{}, codec.GeneralCodec{}} {
		t.Run(fmt.Sprintf("codec-%d", c.ID()), func(t *testing.T) {
			s := newTestShard(t, c)
			f := tagtree.Format{}

			docs := []record.Document{
				{"id": "1", "name": "Alice", "age": float64(30)},
				{"id": "2", "name": "Bob", "age": float64(25)},
			}
			for _, doc := range docs {
				encoded, err := f.Encode(doc)
				require.NoError(t, err)
				err = s.Append(encoded, []string{"age"}, func(field string) (string, error) {
					return f.ExtractField(encoded, field)
				})
				require.NoError(t, err)
			}

			var got []record.Document
			err := s.LoadAll(func(d record.Document) error {
				got = append(got, d)
				return nil
			})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "Alice", got[0]["name"])
			assert.Equal(t, "Bob", got[1]["name"])

			meta := s.Metadata()
			assert.EqualValues(t, 2, meta.DocumentCount)
			assert.Equal(t, "25", meta.FieldStats["age"].Min)
			assert.Equal(t, "30", meta.FieldStats["age"].Max)
		})
	}
}

func TestShardPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	f := tagtree.Format{}
	c := codec.GeneralCodec{}

	s, err := open(dir, "p1", c, f)
	require.NoError(t, err)

	encoded, err := f.Encode(record.Document{"name": "Charlie"})
	require.NoError(t, err)
	require.NoError(t, s.Append(encoded, nil, func(string) (string, error) { return "", nil }))

	reopened, err := open(dir, "p1", c, f)
	require.NoError(t, err)

	var got []record.Document
	err = reopened.LoadAll(func(d record.Document) error {
		got = append(got, d)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Charlie", got[0]["name"])
	assert.EqualValues(t, 1, reopened.Metadata().DocumentCount)
}

func TestLoadRawElementsAndSaveAll(t *testing.T) {
	s := newTestShard(t, codec.NoneCodec{})
	f := tagtree.Format{}

	for _, name := range []string{"a", "b", "c"} {
		encoded, err := f.Encode(record.Document{"name": name})
		require.NoError(t, err)
		require.NoError(t, s.Append(encoded, nil, func(string) (string, error) { return "", nil }))
	}

	elements, err := s.LoadRawElements()
	require.NoError(t, err)
	require.Len(t, elements, 3)

	// SaveAll with the full element list rewrites the whole array in one
	// shot without dropping any element.
	require.NoError(t, s.SaveAll(elements))
	assert.EqualValues(t, 3, s.Metadata().DocumentCount)
}

func TestRemove(t *testing.T) {
	s := newTestShard(t, codec.NoneCodec{})
	f := tagtree.Format{}
	encoded, _ := f.Encode(record.Document{"x": "y"})
	require.NoError(t, s.Append(encoded, nil, func(string) (string, error) { return "", nil }))

	require.NoError(t, s.Remove())

	elements, err := s.LoadRawElements()
	require.NoError(t, err)
	assert.Empty(t, elements)
}
