// Package record defines the canonical in-memory record shape and the
// Format contract both wire encodings satisfy.
package record

import (
	"fmt"
	"strconv"
)

// Document is the canonical in-memory record shape NyaruDB2 operates on,
// mirroring the teacher's domain.Document: a self-describing map rather
// than a fixed struct, since collections have no schema (spec §1
// Non-goals: "schema validation").
type Document map[string]interface{}

// Format converts Documents to and from one canonical wire representation
// and extracts a single top-level field without fully decoding the
// record.
type Format interface {
	// Encode emits the canonical byte form of doc.
	Encode(doc Document) ([]byte, error)
	// Decode is the inverse of Encode.
	Decode(b []byte) (Document, error)
	// ExtractField returns the string form of a top-level scalar field
	// without constructing the full Document.
	ExtractField(b []byte, field string) (string, error)
	// ID identifies the format on disk (0 = tag-tree, 1 = packed).
	ID() byte
}

// ErrFieldNotFound is returned by ExtractField when the named field is
// absent from the record, or present but not a scalar. Its one caller,
// shard.Shard.Append, skips the field when it gets this error; nothing
// wraps it as PartitionKeyNotFound or IndexKeyNotFound.
type ErrFieldNotFound struct {
	Field string
}

func (e *ErrFieldNotFound) Error() string {
	return fmt.Sprintf("field %q not found or not scalar", e.Field)
}

// DecodeFailure wraps a decode-time type mismatch or malformed payload.
type DecodeFailure struct {
	Err error
}

func (e *DecodeFailure) Error() string { return fmt.Sprintf("decode failed: %v", e.Err) }
func (e *DecodeFailure) Unwrap() error { return e.Err }

// EncodeFailure wraps an encode-time failure.
type EncodeFailure struct {
	Err error
}

func (e *EncodeFailure) Error() string { return fmt.Sprintf("encode failed: %v", e.Err) }
func (e *EncodeFailure) Unwrap() error { return e.Err }

// Stringify converts a decoded scalar value into the canonical string
// form spec'd for field extraction: strings pass through, integers and
// floats use canonical decimal form, booleans map to "true"/"false",
// and nil maps to "null". ok is false for non-scalar values (maps,
// slices), which callers must reject as field-not-found.
func Stringify(v interface{}) (s string, ok bool) {
	switch t := v.(type) {
	case nil:
		return "null", true
	case string:
		return t, true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	case int:
		return strconv.FormatInt(int64(t), 10), true
	case int8:
		return strconv.FormatInt(int64(t), 10), true
	case int16:
		return strconv.FormatInt(int64(t), 10), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint:
		return strconv.FormatUint(uint64(t), 10), true
	case uint8:
		return strconv.FormatUint(uint64(t), 10), true
	case uint16:
		return strconv.FormatUint(uint64(t), 10), true
	case uint32:
		return strconv.FormatUint(uint64(t), 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32), true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	default:
		return "", false
	}
}

// Array encodes a sequence of already-encoded records into one shard
// payload body and splits one back apart. Both wire formats implement
// this interface, each with its own framing, so Shard can treat the
// element array generically (spec §9's
// "compaction is type-agnostic" note).
type Array interface {
	EncodeArray(elements [][]byte) ([]byte, error)
	DecodeArray(b []byte) ([][]byte, error)
}
