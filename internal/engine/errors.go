// Package engine wires ShardManager, IndexManager, and StatsEngine
// together into per-collection state and the collection-mutator locking
// discipline (spec.md §5), exposing the engine operations the public
// nyarudb2 package re-exports. Grounded in the teacher's StorageEngine
// (pkg/storage/storage.go) and its CRUD call sites under pkg/api.
package engine

import "fmt"

// PartitionKeyNotFound is returned when a write's record is missing the
// collection's configured partition field (spec.md §7).
type PartitionKeyNotFound struct{ Field string }

func (e *PartitionKeyNotFound) Error() string {
	return fmt.Sprintf("engine: partition key %q not found in record", e.Field)
}

// IndexKeyNotFound completes spec.md §7's error taxonomy for symmetry
// with PartitionKeyNotFound. It is never returned by this engine: an
// indexed field missing from a record is not an error under spec.md
// §4.6 ("insert delegates to the named index" for whichever fields the
// record carries, not every indexed field) — Collection.indexedFieldValues
// skips absent fields rather than failing the write. Kept as a typed
// error any caller-supplied strict-mode wrapper could raise on top of
// this engine without inventing a new error kind.
type IndexKeyNotFound struct{ Field string }

func (e *IndexKeyNotFound) Error() string {
	return fmt.Sprintf("engine: index key %q not found in record", e.Field)
}

// ShardNotFound wraps a ShardManager lookup miss. This engine does not
// construct ShardNotFound, ShardPersistFailure or CodecFailure: shard
// and codec failures reach callers as internal/shard's and
// internal/codec's own error types (wrapped with %w where annotated).
type ShardNotFound struct{ ID string }

func (e *ShardNotFound) Error() string { return fmt.Sprintf("engine: shard %q not found", e.ID) }

// ShardAlreadyExists names a shard id that is already taken. No
// operation of this engine returns it: shards are created on demand and
// an existing one is reused.
type ShardAlreadyExists struct{ ID string }

func (e *ShardAlreadyExists) Error() string {
	return fmt.Sprintf("engine: shard %q already exists", e.ID)
}

// ShardPersistFailure wraps an atomic-replace failure for a shard.
type ShardPersistFailure struct {
	ID  string
	Err error
}

func (e *ShardPersistFailure) Error() string {
	return fmt.Sprintf("engine: persist failure for shard %q: %v", e.ID, e.Err)
}
func (e *ShardPersistFailure) Unwrap() error { return e.Err }

// DecodeFailure wraps a decode-time failure surfaced to the caller.
type DecodeFailure struct{ Err error }

func (e *DecodeFailure) Error() string { return fmt.Sprintf("engine: decode failed: %v", e.Err) }
func (e *DecodeFailure) Unwrap() error { return e.Err }

// EncodeFailure wraps an encode-time failure.
type EncodeFailure struct{ Err error }

func (e *EncodeFailure) Error() string { return fmt.Sprintf("engine: encode failed: %v", e.Err) }
func (e *EncodeFailure) Unwrap() error { return e.Err }

// CodecFailure wraps a compress/decompress failure.
type CodecFailure struct{ Err error }

func (e *CodecFailure) Error() string { return fmt.Sprintf("engine: codec failed: %v", e.Err) }
func (e *CodecFailure) Unwrap() error { return e.Err }

// DocumentNotFound is returned when an update/delete predicate matched
// no document.
type DocumentNotFound struct{}

func (e *DocumentNotFound) Error() string { return "engine: document not found" }

// InvalidDocument is returned when a record is rejected before any
// write occurred.
type InvalidDocument struct{ Reason string }

func (e *InvalidDocument) Error() string {
	return fmt.Sprintf("engine: invalid document: %s", e.Reason)
}

// Cancelled is returned when a caller's context was cancelled.
type Cancelled struct{}

func (e *Cancelled) Error() string { return "engine: operation cancelled" }

// Timeout is returned when the caller's context deadline elapsed. The
// engine has no timeout setting of its own; a per-operation limit is
// whatever deadline the caller puts on the context it passes in.
type Timeout struct{}

func (e *Timeout) Error() string { return "engine: operation timed out" }

// CollectionNotFound names an unknown collection, the collection-level
// counterpart of ShardNotFound. No operation of this engine returns it:
// collections are opened lazily on first access, and DropCollection on
// an unknown name succeeds.
type CollectionNotFound struct{ Name string }

func (e *CollectionNotFound) Error() string {
	return fmt.Sprintf("engine: collection %q not found", e.Name)
}
