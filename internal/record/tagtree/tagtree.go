// Package tagtree implements NyaruDB2's self-describing text wire
// format: documents are encoded as nested key/value maps, arrays,
// numbers, booleans, nulls and strings, each value prefixed with a
// one-byte type tag so a byte walker can skip over values it doesn't
// need (record.Format.ExtractField) without decoding the whole record.
package tagtree

import (
	"encoding/binary"
	"fmt"

	"github.com/nyarudb/nyarudb2/internal/record"
)

const (
	tagMap    = 'm'
	tagArray  = 'a'
	tagString = 's'
	tagNumber = 'n'
	tagBool   = 'b'
	tagNull   = 'z'
)

// Format is the tag-tree record.Format implementation.
type Format struct{}

func (Format) ID() byte { return 0 }

func (Format) Encode(doc record.Document) ([]byte, error) {
	var buf []byte
	buf = appendValue(buf, map[string]interface{}(doc))
	return buf, nil
}

func (Format) Decode(b []byte) (record.Document, error) {
	v, rest, err := readValue(b)
	if err != nil {
		return nil, &record.DecodeFailure{Err: err}
	}
	if len(rest) != 0 {
		return nil, &record.DecodeFailure{Err: fmt.Errorf("tagtree: %d trailing bytes", len(rest))}
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, &record.DecodeFailure{Err: fmt.Errorf("tagtree: top-level value is not a map")}
	}
	return record.Document(m), nil
}

// ExtractField walks the byte stream looking for a top-level map entry
// named field and stringifies its value. It never builds the Document;
// entries before the match are decoded one at a time and discarded, and
// entries after it are not read.
func (Format) ExtractField(b []byte, field string) (string, error) {
	if len(b) == 0 || b[0] != tagMap {
		return "", &record.ErrFieldNotFound{Field: field}
	}
	rest := b[1:]
	count, rest, err := readUint32(rest)
	if err != nil {
		return "", &record.DecodeFailure{Err: err}
	}
	for i := uint32(0); i < count; i++ {
		var key string
		key, rest, err = readString(rest)
		if err != nil {
			return "", &record.DecodeFailure{Err: err}
		}
		if key == field {
			v, _, err := readValue(rest)
			if err != nil {
				return "", &record.DecodeFailure{Err: err}
			}
			s, ok := record.Stringify(v)
			if !ok {
				return "", &record.ErrFieldNotFound{Field: field}
			}
			return s, nil
		}
		rest, err = skipValue(rest)
		if err != nil {
			return "", &record.DecodeFailure{Err: err}
		}
	}
	return "", &record.ErrFieldNotFound{Field: field}
}

// EncodeArray/DecodeArray frame a sequence of already-encoded element
// byte strings for a shard's document array (spec §4.3's "ordered array
// of encoded records").
func (Format) EncodeArray(elements [][]byte) ([]byte, error) {
	var buf []byte
	buf = appendUint32(buf, uint32(len(elements)))
	for _, el := range elements {
		buf = appendUint32(buf, uint32(len(el)))
		buf = append(buf, el...)
	}
	return buf, nil
}

func (Format) DecodeArray(b []byte) ([][]byte, error) {
	count, rest, err := readUint32(b)
	if err != nil {
		return nil, &record.DecodeFailure{Err: err}
	}
	out := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		var n uint32
		n, rest, err = readUint32(rest)
		if err != nil {
			return nil, &record.DecodeFailure{Err: err}
		}
		if uint32(len(rest)) < n {
			return nil, &record.DecodeFailure{Err: fmt.Errorf("tagtree: truncated array element")}
		}
		out = append(out, rest[:n])
		rest = rest[n:]
	}
	return out, nil
}

func appendUint32(buf []byte, n uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], n)
	return append(buf, tmp[:]...)
}

func readUint32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("tagtree: truncated length prefix")
	}
	return binary.BigEndian.Uint32(b), b[4:], nil
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func readString(b []byte) (string, []byte, error) {
	n, rest, err := readUint32(b)
	if err != nil {
		return "", nil, err
	}
	if uint32(len(rest)) < n {
		return "", nil, fmt.Errorf("tagtree: truncated string")
	}
	return string(rest[:n]), rest[n:], nil
}

func appendValue(buf []byte, v interface{}) []byte {
	switch t := v.(type) {
	case nil:
		return append(buf, tagNull)
	case map[string]interface{}:
		buf = append(buf, tagMap)
		buf = appendUint32(buf, uint32(len(t)))
		for k, val := range t {
			buf = appendString(buf, k)
			buf = appendValue(buf, val)
		}
		return buf
	case []interface{}:
		buf = append(buf, tagArray)
		buf = appendUint32(buf, uint32(len(t)))
		for _, val := range t {
			buf = appendValue(buf, val)
		}
		return buf
	case string:
		buf = append(buf, tagString)
		return appendString(buf, t)
	case bool:
		buf = append(buf, tagBool)
		if t {
			return append(buf, 1)
		}
		return append(buf, 0)
	default:
		if s, ok := record.Stringify(v); ok {
			buf = append(buf, tagNumber)
			return appendString(buf, s)
		}
		// Unknown scalar type: best-effort stringification via fmt,
		// still tagged as a number/text blob so decode never panics.
		buf = append(buf, tagString)
		return appendString(buf, fmt.Sprintf("%v", v))
	}
}

func readValue(b []byte) (interface{}, []byte, error) {
	if len(b) == 0 {
		return nil, nil, fmt.Errorf("tagtree: unexpected end of input")
	}
	tag, rest := b[0], b[1:]
	switch tag {
	case tagNull:
		return nil, rest, nil
	case tagMap:
		count, rest2, err := readUint32(rest)
		if err != nil {
			return nil, nil, err
		}
		m := make(map[string]interface{}, count)
		for i := uint32(0); i < count; i++ {
			var key string
			key, rest2, err = readString(rest2)
			if err != nil {
				return nil, nil, err
			}
			var val interface{}
			val, rest2, err = readValue(rest2)
			if err != nil {
				return nil, nil, err
			}
			m[key] = val
		}
		return m, rest2, nil
	case tagArray:
		count, rest2, err := readUint32(rest)
		if err != nil {
			return nil, nil, err
		}
		arr := make([]interface{}, 0, count)
		for i := uint32(0); i < count; i++ {
			var val interface{}
			val, rest2, err = readValue(rest2)
			if err != nil {
				return nil, nil, err
			}
			arr = append(arr, val)
		}
		return arr, rest2, nil
	case tagString:
		s, rest2, err := readString(rest)
		if err != nil {
			return nil, nil, err
		}
		return s, rest2, nil
	case tagNumber:
		s, rest2, err := readString(rest)
		if err != nil {
			return nil, nil, err
		}
		f, err := parseNumber(s)
		if err != nil {
			return nil, nil, err
		}
		return f, rest2, nil
	case tagBool:
		if len(rest) < 1 {
			return nil, nil, fmt.Errorf("tagtree: truncated bool")
		}
		return rest[0] != 0, rest[1:], nil
	default:
		return nil, nil, fmt.Errorf("tagtree: unknown tag %q", tag)
	}
}

// skipValue advances past a value by decoding it with readValue and
// discarding the result, used by ExtractField to pass over sibling map
// entries.
func skipValue(b []byte) ([]byte, error) {
	_, rest, err := readValue(b)
	return rest, err
}

func parseNumber(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%g", &f)
	if err != nil {
		return 0, fmt.Errorf("tagtree: invalid number %q: %w", s, err)
	}
	return f, nil
}
