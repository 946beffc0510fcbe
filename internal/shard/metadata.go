package shard

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nyarudb/nyarudb2/internal/codec"
	"github.com/nyarudb/nyarudb2/internal/record"
)

// Magic identifies a NyaruDB2 shard payload file (spec §6).
const Magic = "NYRU"

// Version is the current shard header version.
const Version = 1

// Header is the fixed-size prefix of every shard payload file.
type Header struct {
	Magic    [4]byte
	Version  uint8
	Codec    codec.ID
	Format   record.FormatID
	Reserved uint8
}

func newHeader(c codec.ID, f record.FormatID) Header {
	var h Header
	copy(h.Magic[:], Magic)
	h.Version = Version
	h.Codec = c
	h.Format = f
	return h
}

// WriteHeader writes h to w in the layout spec'd in §6.
func WriteHeader(w io.Writer, h Header) error {
	return binary.Write(w, binary.BigEndian, h)
}

// ReadHeader reads and validates a shard header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return Header{}, fmt.Errorf("shard: failed to read header: %w", err)
	}
	if string(h.Magic[:]) != Magic {
		return Header{}, fmt.Errorf("shard: bad magic %q", h.Magic[:])
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("shard: unsupported version %d", h.Version)
	}
	return h, nil
}

// FieldRange is the observed [min, max] string-form bounds of one
// indexed field within a shard (spec §3's shard metadata invariant).
type FieldRange struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

// Metadata is a shard's sidecar metadata, persisted as the tag-tree
// shaped JSON document described in spec §6.
type Metadata struct {
	DocumentCount int64                 `json:"documentCount"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
	FieldStats    map[string]FieldRange `json:"fieldStats"`
}

func newMetadata() Metadata {
	now := time.Now()
	return Metadata{
		CreatedAt:  now,
		UpdatedAt:  now,
		FieldStats: make(map[string]FieldRange),
	}
}

// observe folds a newly-seen field value into the running [min, max]
// bounds, keeping them monotone in update time (spec §3's invariant).
func (m *Metadata) observe(field, value string) {
	if m.FieldStats == nil {
		m.FieldStats = make(map[string]FieldRange)
	}
	r, ok := m.FieldStats[field]
	if !ok {
		m.FieldStats[field] = FieldRange{Min: value, Max: value}
		return
	}
	if value < r.Min {
		r.Min = value
	}
	if value > r.Max {
		r.Max = value
	}
	m.FieldStats[field] = r
}

func writeMetadataFile(path string, m Metadata) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("shard: failed to marshal metadata: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("shard: failed to write metadata temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("shard: failed to rename metadata file: %w", err)
	}
	return nil
}

func readMetadataFile(path string) (Metadata, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return Metadata{}, fmt.Errorf("shard: failed to parse metadata: %w", err)
	}
	if m.FieldStats == nil {
		m.FieldStats = make(map[string]FieldRange)
	}
	return m, nil
}
