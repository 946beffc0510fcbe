// Package packed implements NyaruDB2's binary length-prefixed wire
// format on top of msgpack, the teacher's own serialization library
// (github.com/vmihailenco/msgpack/v5). msgpack already distinguishes
// signed/unsigned integer widths and a null marker the way spec §4.2
// requires of the "packed" format, so there is no reason to hand-roll a
// second binary codec.
package packed

import (
	"bytes"
	"fmt"

	"github.com/nyarudb/nyarudb2/internal/record"
	"github.com/vmihailenco/msgpack/v5"
)

// Format is the packed record.Format implementation.
type Format struct{}

func (Format) ID() byte { return 1 }

func (Format) Encode(doc record.Document) ([]byte, error) {
	b, err := msgpack.Marshal(map[string]interface{}(doc))
	if err != nil {
		return nil, &record.EncodeFailure{Err: err}
	}
	return b, nil
}

func (Format) Decode(b []byte) (record.Document, error) {
	var m map[string]interface{}
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, &record.DecodeFailure{Err: err}
	}
	return record.Document(m), nil
}

// ExtractField walks the msgpack map header directly via msgpack.Decoder
// rather than unmarshaling into map[string]interface{}, so a cheap
// partition/index key lookup never pays for decoding sibling fields.
func (Format) ExtractField(b []byte, field string) (string, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	n, err := dec.DecodeMapLen()
	if err != nil {
		return "", &record.DecodeFailure{Err: err}
	}
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return "", &record.DecodeFailure{Err: err}
		}
		if key == field {
			v, err := dec.DecodeInterface()
			if err != nil {
				return "", &record.DecodeFailure{Err: err}
			}
			s, ok := record.Stringify(v)
			if !ok {
				return "", &record.ErrFieldNotFound{Field: field}
			}
			return s, nil
		}
		if err := dec.Skip(); err != nil {
			return "", &record.DecodeFailure{Err: err}
		}
	}
	return "", &record.ErrFieldNotFound{Field: field}
}

// EncodeArray/DecodeArray frame a shard's document array as a msgpack
// array of binary blobs, one per already-encoded element.
func (Format) EncodeArray(elements [][]byte) ([]byte, error) {
	raw := make([]msgpack.RawMessage, len(elements))
	for i, el := range elements {
		wrapped, err := msgpack.Marshal(el)
		if err != nil {
			return nil, &record.EncodeFailure{Err: err}
		}
		raw[i] = msgpack.RawMessage(wrapped)
	}
	b, err := msgpack.Marshal(raw)
	if err != nil {
		return nil, &record.EncodeFailure{Err: err}
	}
	return b, nil
}

func (Format) DecodeArray(b []byte) ([][]byte, error) {
	var raw []msgpack.RawMessage
	if err := msgpack.Unmarshal(b, &raw); err != nil {
		return nil, &record.DecodeFailure{Err: err}
	}
	out := make([][]byte, len(raw))
	for i, r := range raw {
		var el []byte
		if err := msgpack.Unmarshal(r, &el); err != nil {
			return nil, &record.DecodeFailure{Err: fmt.Errorf("packed: element %d: %w", i, err)}
		}
		out[i] = el
	}
	return out, nil
}
