// Package shard implements the on-disk Shard and the per-collection
// ShardManager (spec §4.3, §4.4): a shard is one compressed file holding
// one partition's document array, with sidecar metadata and an atomic
// write-temp-then-rename discipline mirroring the teacher's
// saveDocumentToDisk (pkg/storage/persistence.go).
package shard

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nyarudb/nyarudb2/internal/codec"
	"github.com/nyarudb/nyarudb2/internal/record"
)

// ErrNotFound is returned by Manager.GetShard for an unknown partition.
type ErrNotFound struct{ ID string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("shard: %q not found", e.ID) }

// ErrAlreadyExists names a shard id that already has an open instance.
// Nothing in this package returns it: GetOrCreateShard hands back the
// existing instance instead.
type ErrAlreadyExists struct{ ID string }

func (e *ErrAlreadyExists) Error() string { return fmt.Sprintf("shard: %q already exists", e.ID) }

// PersistFailure wraps an atomic-replace failure for a specific shard.
type PersistFailure struct {
	ID  string
	Err error
}

func (e *PersistFailure) Error() string {
	return fmt.Sprintf("shard: persist failure for %q: %v", e.ID, e.Err)
}
func (e *PersistFailure) Unwrap() error { return e.Err }

// Shard is one on-disk file holding one partition's document array for
// one collection (spec §3).
type Shard struct {
	id     string
	dir    string
	path   string
	meta   string
	codec  codec.Codec
	format record.ArrayFormat

	mu   sync.RWMutex
	info Metadata
}

func shardPath(dir, id string) string     { return filepath.Join(dir, id+".nyaru") }
func shardMetaPath(dir, id string) string { return filepath.Join(dir, id+".nyaru.meta.json") }

// open constructs a Shard bound to dir/id, loading its sidecar metadata
// if a payload file already exists on disk, or initializing a fresh one
// otherwise (spec §3: "a shard is created lazily on first insert").
func open(dir, id string, c codec.Codec, f record.ArrayFormat) (*Shard, error) {
	s := &Shard{
		id:     id,
		dir:    dir,
		path:   shardPath(dir, id),
		meta:   shardMetaPath(dir, id),
		codec:  c,
		format: f,
	}

	if _, err := os.Stat(s.path); err == nil {
		m, err := readMetadataFile(s.meta)
		if err != nil {
			// Sidecar errors are non-fatal (spec §7): recompute from
			// the payload instead of failing the whole shard open.
			m, err = s.recomputeMetadataLocked()
			if err != nil {
				return nil, err
			}
		}
		s.info = m
	} else {
		s.info = newMetadata()
	}
	return s, nil
}

// ID returns the shard's partition value.
func (s *Shard) ID() string { return s.id }

// Metadata returns a copy of the shard's current sidecar metadata.
func (s *Shard) Metadata() Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Append decompresses the current payload, appends encoded to the
// element array, recompresses, and atomically replaces the shard file,
// then refreshes sidecar metadata: document count, updatedAt, and the
// per-indexed-field min/max observed via extract (spec §4.3).
func (s *Shard) Append(encoded []byte, indexedFields []string, extract func(field string) (string, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	elements, err := s.loadElementsLocked()
	if err != nil {
		return err
	}
	elements = append(elements, encoded)

	if err := s.saveElementsLocked(elements); err != nil {
		return err
	}

	now := time.Now()
	s.info.DocumentCount = int64(len(elements))
	s.info.UpdatedAt = now
	for _, field := range indexedFields {
		v, err := extract(field)
		if err != nil {
			continue // non-scalar/absent field: no bound to record
		}
		s.info.observe(field, v)
	}
	s.writeMetadataLocked()
	return nil
}

// LoadAll decompresses the payload, splits it into its encoded elements,
// decodes each with format, and invokes fn for every record in shard
// insertion order (spec §4.3, §4.8's ordering guarantee). Iteration
// stops at the first decode error, wrapped as record.DecodeFailure.
func (s *Shard) LoadAll(fn func(record.Document) error) error {
	s.mu.RLock()
	elements, err := s.loadElementsLocked()
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	for _, el := range elements {
		doc, err := s.format.Decode(el)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

// LoadRawElements returns the shard's still-encoded element byte
// strings without decoding them into Documents — the type-agnostic view
// compaction operates on (spec §4.4, §9).
func (s *Shard) LoadRawElements() ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadElementsLocked()
}

// SaveAll replaces the shard's entire element array in one shot, used
// by compaction to write the merged primary shard (spec §4.3, §4.4).
// It updates only DocumentCount/UpdatedAt, never FieldStats: compaction
// never decodes typed records (spec §9's open-question resolution), so
// it has no extracted field values to fold into the min/max bounds.
func (s *Shard) SaveAll(elements [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveElementsLocked(elements); err != nil {
		return err
	}
	s.info.DocumentCount = int64(len(elements))
	s.info.UpdatedAt = time.Now()
	s.writeMetadataLocked()
	return nil
}

// RawBytes returns the decompressed payload body: the format-framed
// array of encoded records (spec §4.3).
func (s *Shard) RawBytes() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rawBytesLocked()
}

// SetRawBytes recompresses raw and atomically replaces the shard
// payload with it (spec §4.3). Compaction does not call it; it rewrites
// the primary through LoadRawElements and SaveAll.
func (s *Shard) SetRawBytes(raw []byte) error {
	elements, err := s.format.DecodeArray(raw)
	if err != nil {
		return err
	}
	return s.SaveAll(elements)
}

// Remove deletes the shard's payload and sidecar files from disk.
func (s *Shard) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(s.meta); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Shard) rawBytesLocked() ([]byte, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	h, err := ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("shard: %q: %w", s.id, err)
	}
	// Decompress with the codec recorded in the header, which may differ
	// from the codec this shard writes with.
	c, err := codec.ByID(h.Codec)
	if err != nil {
		return nil, fmt.Errorf("shard: %q: %w", s.id, err)
	}
	compressed, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	raw, err := c.Decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("shard: %q: %w", s.id, err)
	}
	return raw, nil
}

func (s *Shard) loadElementsLocked() ([][]byte, error) {
	raw, err := s.rawBytesLocked()
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return s.format.DecodeArray(raw)
}

func (s *Shard) saveElementsLocked(elements [][]byte) error {
	raw, err := s.format.EncodeArray(elements)
	if err != nil {
		return err
	}

	compressed, err := s.codec.Compress(raw)
	if err != nil {
		return &PersistFailure{ID: s.id, Err: err}
	}

	var buf bytes.Buffer
	if err := WriteHeader(&buf, newHeader(s.codec.ID(), record.FormatID(s.format.ID()))); err != nil {
		return &PersistFailure{ID: s.id, Err: err}
	}
	buf.Write(compressed)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &PersistFailure{ID: s.id, Err: err}
	}

	tmp := filepath.Join(s.dir, fmt.Sprintf("%s.nyaru.tmp-%s", s.id, uuid.NewString()))
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return &PersistFailure{ID: s.id, Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return &PersistFailure{ID: s.id, Err: err}
	}
	return nil
}

// writeMetadataLocked persists the sidecar. A failure here is logged and
// otherwise swallowed: sidecar errors are non-fatal (spec §7). The
// in-memory metadata stays current; a sidecar that is missing or
// unreadable at the next open has its DocumentCount rebuilt from the
// payload.
func (s *Shard) writeMetadataLocked() {
	if err := writeMetadataFile(s.meta, s.info); err != nil {
		log.Printf("WARN: shard %q: failed to write metadata sidecar: %v", s.id, err)
	}
}

// recomputeMetadataLocked rebuilds DocumentCount from the payload when
// the sidecar is missing or corrupt (spec §7: "metadata sidecar errors
// are non-fatal: stats are recomputable").
func (s *Shard) recomputeMetadataLocked() (Metadata, error) {
	elements, err := s.loadElementsLocked()
	if err != nil {
		return Metadata{}, err
	}
	m := newMetadata()
	m.DocumentCount = int64(len(elements))
	return m, nil
}
