package engine

import (
	"fmt"

	"github.com/nyarudb/nyarudb2/internal/record"
	"github.com/nyarudb/nyarudb2/internal/record/packed"
	"github.com/nyarudb/nyarudb2/internal/record/tagtree"
)

// ResolveFormat maps a persisted/configured FormatID to its concrete
// implementation. This is the "one level up" resolution point
// record.ArrayFormat's doc comment refers to, since internal/record
// itself can't import either wire format without an import cycle.
func ResolveFormat(id record.FormatID) (record.ArrayFormat, error) {
	switch id {
	case record.TagTree:
		return tagtree.Format{}, nil
	case record.Packed:
		return packed.Format{}, nil
	default:
		return nil, fmt.Errorf("engine: unknown format id %d", id)
	}
}
