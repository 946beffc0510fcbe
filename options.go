package nyarudb2

import (
	"github.com/nyarudb/nyarudb2/internal/codec"
	"github.com/nyarudb/nyarudb2/internal/record"
)

// Option configures a DB at construction time, mirroring the teacher's
// StorageOption functional-options pattern (pkg/storage/options.go)
// generalized over spec.md §6's configuration table.
type Option func(*config)

type config struct {
	path                  string
	codecID               codec.ID
	formatID              record.FormatID
	fileProtection        int
	compactionThreshold   int
	compactionIntervalSec int
}

func defaultConfig() *config {
	return &config{
		codecID:               codec.None,
		formatID:              record.TagTree,
		compactionThreshold:   100,
		compactionIntervalSec: 60,
	}
}

// WithPath sets the engine's base directory (spec.md §6: "path | base
// directory (required)").
func WithPath(path string) Option {
	return func(c *config) { c.path = path }
}

// WithNoneCodec selects the identity codec for new collections
// (spec.md §6 default).
func WithNoneCodec() Option {
	return func(c *config) { c.codecID = codec.None }
}

// WithGeneralCodec selects the lz4-backed general-purpose codec for new
// collections (spec.md §6).
func WithGeneralCodec() Option {
	return func(c *config) { c.codecID = codec.General }
}

// WithTagTreeFormat selects the self-describing text wire format
// (spec.md §6 default).
func WithTagTreeFormat() Option {
	return func(c *config) { c.formatID = record.TagTree }
}

// WithPackedFormat selects the msgpack-backed binary wire format
// (spec.md §6).
func WithPackedFormat() Option {
	return func(c *config) { c.formatID = record.Packed }
}

// WithFileProtection sets the opaque OS file-protection passthrough
// value (spec.md §6: "passthrough flag for OS file-protection API").
// NyaruDB2 stores it without interpreting it, per spec.md §1's
// out-of-scope note on concrete protection flags.
func WithFileProtection(level int) Option {
	return func(c *config) { c.fileProtection = level }
}

// WithCompactionThreshold sets the per-shard document count below which
// a shard becomes a compaction candidate (spec.md §6 default 100).
func WithCompactionThreshold(n int) Option {
	return func(c *config) { c.compactionThreshold = n }
}

// WithCompactionIntervalSec sets the background compaction tick period
// in seconds (spec.md §6 default 60).
func WithCompactionIntervalSec(seconds int) Option {
	return func(c *config) { c.compactionIntervalSec = seconds }
}
