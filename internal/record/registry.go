package record

import "fmt"

// FormatID mirrors the byte persisted in the shard header (spec §6).
type FormatID byte

const (
	TagTree FormatID = 0
	Packed  FormatID = 1
)

// ArrayFormat is satisfied by a record.Format that also knows how to
// frame a shard's document array; both wire formats implement it. The
// concrete tagtree.Format/packed.Format values are resolved by callers
// one level up (internal/engine.ResolveFormat), since this package can't import them
// without creating an import cycle.
type ArrayFormat interface {
	Format
	Array
}

// ValidateFormatID rejects any byte that isn't a known wire format
// (spec §6). shard.ReadHeader does not call it: the format byte of a
// persisted header is read but not checked.
func ValidateFormatID(id FormatID) error {
	switch id {
	case TagTree, Packed:
		return nil
	default:
		return fmt.Errorf("record: unknown format id %d", id)
	}
}
