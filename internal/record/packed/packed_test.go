package packed

import (
	"testing"

	"github.com/nyarudb/nyarudb2/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	f := Format{}
	doc := record.Document{
		"id":     "7",
		"name":   "Bob",
		"age":    int64(25),
		"active": false,
	}

	b, err := f.Encode(doc)
	require.NoError(t, err)

	decoded, err := f.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, doc["name"], decoded["name"])
	assert.EqualValues(t, doc["age"], decoded["age"])
	assert.Equal(t, doc["active"], decoded["active"])
}

func TestExtractField(t *testing.T) {
	f := Format{}
	doc := record.Document{
		"name": "Bob",
		"age":  int64(25),
	}
	b, err := f.Encode(doc)
	require.NoError(t, err)

	s, err := f.ExtractField(b, "name")
	require.NoError(t, err)
	assert.Equal(t, "Bob", s)

	s, err = f.ExtractField(b, "age")
	require.NoError(t, err)
	assert.Equal(t, "25", s)

	_, err = f.ExtractField(b, "absent")
	require.Error(t, err)
	var notFound *record.ErrFieldNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestArrayFraming(t *testing.T) {
	f := Format{}
	elements := [][]byte{[]byte("one"), []byte("two")}

	b, err := f.EncodeArray(elements)
	require.NoError(t, err)

	decoded, err := f.DecodeArray(b)
	require.NoError(t, err)
	assert.Equal(t, elements, decoded)
}
