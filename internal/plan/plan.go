// Package plan implements QueryPlanner/Executor selection (spec.md
// §4.8): given a collection's predicates, its StatsEngine snapshot, and
// its index manager, choose an index probe, a partition-restricted
// shard scan, or a full scan, then stream matching records. Grounded in
// the teacher's docGenerator channel-based streaming
// (pkg/storage/documents.go), reshaped into a push-style iterator
// function (the func(yield) shape of Go 1.23's iter.Seq2) that runs on
// the caller's goroutine and stops as soon as the consumer's yield
// returns false.
package plan

import (
	"context"
	"sort"
	"strings"

	"github.com/nyarudb/nyarudb2/internal/index"
	"github.com/nyarudb/nyarudb2/internal/record"
	"github.com/nyarudb/nyarudb2/internal/shard"
	"github.com/nyarudb/nyarudb2/internal/stats"
	"github.com/nyarudb/nyarudb2/query"
)

// Kind identifies which of spec.md §4.8's three tiers a Plan selected.
type Kind int

const (
	KindIndex Kind = iota
	KindPartition
	KindFullScan
)

// Plan is the planner's decision for one query: which tier was chosen,
// which predicate(s) it satisfies directly, which shards it will visit
// (for the partition/full-scan tiers), and which predicates remain to
// be evaluated per-record (spec.md §4.8 "residual predicates").
type Plan struct {
	Kind     Kind
	Field    string // indexed field (KindIndex) or partition field (KindPartition)
	Matched  query.Predicate
	ShardIDs []string // unused for KindIndex
	Residual []query.Predicate
}

// Select implements spec.md §4.8's plan-selection algorithm and
// tie-break rules: prefer an indexable predicate on an indexed field
// (most selective first), else restrict to shards overlapping a
// partition-field predicate, else scan every shard.
func Select(preds []query.Predicate, partitionField string, snap *stats.Snapshot, idx *index.Manager, allShardIDs []string) Plan {
	if p, field, ok := selectIndexPredicate(preds, snap, idx); ok {
		return Plan{
			Kind:     KindIndex,
			Field:    field,
			Matched:  p,
			Residual: without(preds, p),
		}
	}

	if p, ok := findPartitionPredicate(preds, partitionField); ok {
		shardIDs := restrictShardsByRange(snap, partitionField, p, allShardIDs)
		// The partition predicate stays in Residual: range pruning only
		// narrows which shards may hold matches, it does not filter them.
		return Plan{
			Kind:     KindPartition,
			Field:    partitionField,
			Matched:  p,
			ShardIDs: shardIDs,
			Residual: preds,
		}
	}

	return Plan{
		Kind:     KindFullScan,
		ShardIDs: allShardIDs,
		Residual: preds,
	}
}

// selectIndexPredicate picks the most selective indexable predicate on
// an indexed field, applying spec.md §4.8's tie-break rules: equality
// beats range, then lower estimated count, then field name ascending.
func selectIndexPredicate(preds []query.Predicate, snap *stats.Snapshot, idx *index.Manager) (query.Predicate, string, bool) {
	type candidate struct {
		pred   query.Predicate
		count  int
		rank   int // 0 = equality-class, 1 = range-class
	}
	var candidates []candidate

	for _, p := range preds {
		if !p.Op.Indexable() || !idx.HasIndex(p.Field) {
			continue
		}
		is := snap.IndexStats[p.Field]
		rank := 1
		if p.Op.Equality() {
			rank = 0
		}
		candidates = append(candidates, candidate{pred: p, count: estimateSelectivity(is, p), rank: rank})
	}
	if len(candidates) == 0 {
		return query.Predicate{}, "", false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		if a.count != b.count {
			return a.count < b.count
		}
		return a.pred.Field < b.pred.Field
	})
	best := candidates[0]
	return best.pred, best.pred.Field, true
}

// estimateSelectivity returns the planner's matching-record estimate
// for a predicate against an index's known key counts (spec.md §4.8:
// "lowest estimated matching records from indexStats").
func estimateSelectivity(is *stats.IndexStats, p query.Predicate) int {
	if is == nil {
		return 0
	}
	switch p.Op {
	case query.OpEq:
		return is.EstimateCount(p.Value)
	case query.OpIn:
		total := 0
		for _, v := range p.Values {
			total += is.EstimateCount(v)
		}
		return total
	case query.OpStartsWith:
		total := 0
		for key, count := range is.KeyCounts {
			if strings.HasPrefix(key, p.Value) {
				total += count
			}
		}
		return total
	case query.OpBetween, query.OpGt, query.OpLt, query.OpGte, query.OpLte:
		total := 0
		for key, count := range is.KeyCounts {
			if matchesRange(key, p) {
				total += count
			}
		}
		return total
	default:
		return 0
	}
}

func matchesRange(key string, p query.Predicate) bool {
	switch p.Op {
	case query.OpBetween:
		return key >= p.Low && key <= p.High
	case query.OpGt:
		return key > p.Value
	case query.OpGte:
		return key >= p.Value
	case query.OpLt:
		return key < p.Value
	case query.OpLte:
		return key <= p.Value
	default:
		return false
	}
}

func findPartitionPredicate(preds []query.Predicate, partitionField string) (query.Predicate, bool) {
	if partitionField == "" {
		return query.Predicate{}, false
	}
	for _, p := range preds {
		if p.Field == partitionField {
			return p, true
		}
	}
	return query.Predicate{}, false
}

// restrictShardsByRange narrows allShardIDs to those whose observed
// [min,max] for partitionField could overlap p's value/range
// (spec.md §4.8 step 2). Operators that can't be bounded this way
// (NotEq, Contains) fall back to scanning every shard; StartsWith's
// overlap is likewise approximated as "always overlaps" since a
// lexicographic prefix range cannot be tightened from min/max alone
// without a full shared-prefix walk.
func restrictShardsByRange(snap *stats.Snapshot, partitionField string, p query.Predicate, allShardIDs []string) []string {
	byID := make(map[string]stats.FieldRange, len(snap.ShardStats))
	for _, ss := range snap.ShardStats {
		if r, ok := ss.FieldStats[partitionField]; ok {
			byID[ss.ID] = r
		}
	}

	var out []string
	for _, id := range allShardIDs {
		r, ok := byID[id]
		if !ok {
			out = append(out, id) // no observed range yet; must scan it
			continue
		}
		if overlaps(r, p) {
			out = append(out, id)
		}
	}
	return out
}

func overlaps(r stats.FieldRange, p query.Predicate) bool {
	switch p.Op {
	case query.OpEq:
		return p.Value >= r.Min && p.Value <= r.Max
	case query.OpIn:
		for _, v := range p.Values {
			if v >= r.Min && v <= r.Max {
				return true
			}
		}
		return false
	case query.OpGt:
		return r.Max > p.Value
	case query.OpGte:
		return r.Max >= p.Value
	case query.OpLt:
		return r.Min < p.Value
	case query.OpLte:
		return r.Min <= p.Value
	case query.OpBetween:
		return r.Max >= p.Low && r.Min <= p.High
	default:
		return true
	}
}

func without(preds []query.Predicate, matched query.Predicate) []query.Predicate {
	out := make([]query.Predicate, 0, len(preds))
	skipped := false
	for _, p := range preds {
		if !skipped && samePredicate(p, matched) {
			skipped = true
			continue
		}
		out = append(out, p)
	}
	return out
}

// samePredicate reports whether p and other were built from the same
// fields. query.Predicate carries a Values slice, so it isn't a
// comparable type and can't use == directly.
func samePredicate(p, other query.Predicate) bool {
	if p.Field != other.Field || p.Op != other.Op ||
		p.Value != other.Value || p.Low != other.Low ||
		p.High != other.High || p.Inclusive != other.Inclusive {
		return false
	}
	if len(p.Values) != len(other.Values) {
		return false
	}
	for i, v := range p.Values {
		if v != other.Values[i] {
			return false
		}
	}
	return true
}

// Matches evaluates every predicate in preds against doc, using
// record.Stringify to compare field values in their canonical string
// form — the same form the index keys and partition stats use
// (spec.md §4.2, §4.8).
func Matches(doc record.Document, preds []query.Predicate) bool {
	for _, p := range preds {
		if !matchOne(doc, p) {
			return false
		}
	}
	return true
}

func matchOne(doc record.Document, p query.Predicate) bool {
	raw, present := doc[p.Field]
	val, ok := record.Stringify(raw)
	if !present || !ok {
		return p.Op == query.OpNotEq
	}
	switch p.Op {
	case query.OpEq:
		return val == p.Value
	case query.OpNotEq:
		return val != p.Value
	case query.OpGt:
		return val > p.Value
	case query.OpLt:
		return val < p.Value
	case query.OpGte:
		return val >= p.Value
	case query.OpLte:
		return val <= p.Value
	case query.OpBetween:
		return val >= p.Low && val <= p.High
	case query.OpIn:
		for _, v := range p.Values {
			if val == v {
				return true
			}
		}
		return false
	case query.OpStartsWith:
		return strings.HasPrefix(val, p.Value)
	case query.OpContains:
		return strings.Contains(val, p.Value)
	default:
		return false
	}
}

// Execute streams the Plan's matching records in the ordering guarantee
// described by spec.md §4.8: index traversal order for KindIndex,
// shard-then-insertion order otherwise. It stops and yields a single
// error on the first decode failure, cancellation, or timeout — the
// consumer's yield receives it as the second argument of the final
// call and should treat the sequence as exhausted.
func Execute(ctx context.Context, p Plan, shards *shard.Manager, idx *index.Manager, format record.Format, limit int, hasLimit bool, offset int) func(func(record.Document, error) bool) {
	return func(yield func(record.Document, error) bool) {
		skipped := 0
		yielded := 0
		emit := func(doc record.Document) bool {
			if skipped < offset {
				skipped++
				return true
			}
			if hasLimit && yielded >= limit {
				return false
			}
			yielded++
			return yield(doc, nil)
		}

		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}

		switch p.Kind {
		case KindIndex:
			runIndexPlan(ctx, p, idx, format, emit, yield)
		default:
			runShardPlan(ctx, p, shards, format, emit, yield)
		}
	}
}

func runIndexPlan(ctx context.Context, p Plan, idx *index.Manager, format record.Format, emit func(record.Document) bool, yield func(record.Document, error) bool) {
	encoded := lookupIndexed(idx, p.Matched)
	for _, raw := range encoded {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		doc, err := format.Decode(raw)
		if err != nil {
			yield(nil, &record.DecodeFailure{Err: err})
			return
		}
		if !Matches(doc, p.Residual) {
			continue
		}
		if !emit(doc) {
			return
		}
	}
}

func lookupIndexed(idx *index.Manager, p query.Predicate) [][]byte {
	switch p.Op {
	case query.OpEq:
		return idx.Search(p.Field, p.Value)
	case query.OpIn:
		var out [][]byte
		for _, v := range p.Values {
			out = append(out, idx.Search(p.Field, v)...)
		}
		return out
	case query.OpBetween:
		return idx.RangeSearch(p.Field, p.Low, p.High, true)
	case query.OpGt:
		return idx.RangeSearch(p.Field, p.Value, maxBound, false)
	case query.OpGte:
		return idx.RangeSearch(p.Field, p.Value, maxBound, true)
	case query.OpLt:
		return idx.RangeSearch(p.Field, minBound, p.Value, false)
	case query.OpLte:
		return idx.RangeSearch(p.Field, minBound, p.Value, true)
	case query.OpStartsWith:
		return idx.RangeSearch(p.Field, p.Value, p.Value+maxBound, true)
	default:
		return nil
	}
}

// minBound/maxBound sentinel the open end of a one-sided range search;
// index keys are canonical decimal or text strings (spec.md §4.2), so a
// character outside any realistic key's alphabet bounds the scan.
const (
	minBound = ""
	maxBound = "￿"
)

func runShardPlan(ctx context.Context, p Plan, shards *shard.Manager, format record.Format, emit func(record.Document) bool, yield func(record.Document, error) bool) {
	for _, id := range p.ShardIDs {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		s, err := shards.GetShard(id)
		if err != nil {
			continue // shard dropped between snapshot and execution
		}

		var stopped, cancelled bool
		err = s.LoadAll(func(doc record.Document) error {
			if ctx.Err() != nil {
				cancelled = true
				return errStopIteration
			}
			if !Matches(doc, p.Residual) {
				return nil
			}
			if !emit(doc) {
				stopped = true
				return errStopIteration
			}
			return nil
		})

		if stopped {
			return
		}
		if cancelled {
			yield(nil, ctx.Err())
			return
		}
		if err != nil {
			yield(nil, &record.DecodeFailure{Err: err})
			return
		}
	}
}

var errStopIteration = errStop{}

type errStop struct{}

func (errStop) Error() string { return "plan: iteration stopped by consumer" }
