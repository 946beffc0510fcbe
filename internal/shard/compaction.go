package shard

import (
	"context"
	"log"
	"sort"
	"time"
)

// compactionLoop runs the periodic background merge task described in
// spec §4.4, grounded in the teacher's StartBackgroundWorkers ticker
// goroutine (pkg/storage/background.go), generalized from a "save to
// disk" tick to a "compact small shards" tick and from a stop-channel
// to a cancellable context so Close can wait for the in-flight pass.
func (m *Manager) compactionLoop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.compactionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.compactOnce(); err != nil {
				log.Printf("WARN: shard manager: compaction pass failed: %v", err)
			}
		}
	}
}

// compactOnce performs a single compaction cycle (spec §4.4):
//  1. collect shards with documentCount < threshold, oldest first;
//  2. if at least two exist, merge all into the oldest ("primary");
//  3. remove the absorbed shard files and drop them from the map.
//
// The merge and primary-shard rewrite run inside m.mutator, the
// collection's write lock, so a concurrent Fetch never observes a
// document mid-relocation between an absorbed shard and the primary
// (spec §6). Errors merging one group are logged and do not abort
// subsequent groups or affect foreground operations (spec §4.4, §7) —
// there's only ever one group in practice (one shard set per
// collection), but the pass is structured to tolerate a partial
// failure cleanly regardless.
func (m *Manager) compactOnce() error {
	return m.mutator(func() error {
		candidates := m.collectCompactionCandidates()
		if len(candidates) < 2 {
			return nil
		}

		primary := candidates[0]
		rest := candidates[1:]

		merged, err := primary.LoadRawElements()
		if err != nil {
			return err
		}

		var absorbed []*Shard
		for _, s := range rest {
			elements, err := s.LoadRawElements()
			if err != nil {
				log.Printf("WARN: shard manager: skipping shard %q in compaction: %v", s.ID(), err)
				continue
			}
			merged = append(merged, elements...)
			absorbed = append(absorbed, s)
		}

		if len(absorbed) == 0 {
			return nil
		}

		if err := primary.SaveAll(merged); err != nil {
			return err
		}

		m.mu.Lock()
		for _, s := range absorbed {
			delete(m.shards, s.ID())
			m.removeFromOrderLocked(s.ID())
		}
		m.mu.Unlock()

		for _, s := range absorbed {
			if err := s.Remove(); err != nil {
				log.Printf("WARN: shard manager: failed to remove absorbed shard %q: %v", s.ID(), err)
			}
		}
		return nil
	})
}

func (m *Manager) collectCompactionCandidates() []*Shard {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []*Shard
	for _, id := range m.order {
		s := m.shards[id]
		if s.Metadata().DocumentCount < int64(m.compactionThreshold) {
			candidates = append(candidates, s)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Metadata().CreatedAt.Before(candidates[j].Metadata().CreatedAt)
	})
	return candidates
}
