package nyarudb2

import "github.com/nyarudb/nyarudb2/internal/engine"

// Error sentinel types re-exported from internal/engine so callers can
// errors.As against the public package without reaching into internal
// (spec.md §7's error taxonomy).
type (
	ErrPartitionKeyNotFound = engine.PartitionKeyNotFound
	ErrIndexKeyNotFound     = engine.IndexKeyNotFound
	ErrShardNotFound        = engine.ShardNotFound
	ErrShardAlreadyExists   = engine.ShardAlreadyExists
	ErrShardPersistFailure  = engine.ShardPersistFailure
	ErrDecodeFailure        = engine.DecodeFailure
	ErrEncodeFailure        = engine.EncodeFailure
	ErrCodecFailure         = engine.CodecFailure
	ErrDocumentNotFound     = engine.DocumentNotFound
	ErrInvalidDocument      = engine.InvalidDocument
	ErrCancelled            = engine.Cancelled
	ErrTimeout              = engine.Timeout
	ErrCollectionNotFound   = engine.CollectionNotFound
)
