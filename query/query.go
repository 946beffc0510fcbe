// Package query is NyaruDB2's public predicate DSL and query builder
// (spec.md §4.8). Predicates are composed against a field's canonical
// string form (the same form internal/record.Stringify produces and
// internal/btree indexes key on), so callers never need to know whether
// a field is numeric, boolean, or textual underneath.
package query

// Op identifies a predicate's comparison kind.
type Op int

const (
	OpEq Op = iota
	OpNotEq
	OpGt
	OpLt
	OpGte
	OpLte
	OpBetween
	OpIn
	OpStartsWith
	OpContains
)

// Indexable reports whether the planner may satisfy this operator via a
// BTreeIndex lookup (spec.md §4.8 step 1's operator allowlist).
func (o Op) Indexable() bool {
	switch o {
	case OpEq, OpIn, OpBetween, OpGt, OpLt, OpGte, OpLte, OpStartsWith:
		return true
	default:
		return false
	}
}

// Equality reports whether this operator pins an exact value, used for
// the "equality beats range" tie-break rule.
func (o Op) Equality() bool {
	return o == OpEq || o == OpIn
}

// Predicate is one filter condition over a single field. Construct with
// the builder functions below rather than this struct literal directly.
type Predicate struct {
	Field     string
	Op        Op
	Value     string
	Low       string
	High      string
	Values    []string
	Inclusive bool
}

func Eq(field, value string) Predicate    { return Predicate{Field: field, Op: OpEq, Value: value} }
func NotEq(field, value string) Predicate { return Predicate{Field: field, Op: OpNotEq, Value: value} }
func Gt(field, value string) Predicate    { return Predicate{Field: field, Op: OpGt, Value: value} }
func Lt(field, value string) Predicate    { return Predicate{Field: field, Op: OpLt, Value: value} }
func Gte(field, value string) Predicate   { return Predicate{Field: field, Op: OpGte, Value: value} }
func Lte(field, value string) Predicate   { return Predicate{Field: field, Op: OpLte, Value: value} }

// Between matches fields in [low, high], inclusive both ends per
// spec.md §4.8.
func Between(field, low, high string) Predicate {
	return Predicate{Field: field, Op: OpBetween, Low: low, High: high, Inclusive: true}
}

func In(field string, values ...string) Predicate {
	return Predicate{Field: field, Op: OpIn, Values: values}
}

func StartsWith(field, prefix string) Predicate {
	return Predicate{Field: field, Op: OpStartsWith, Value: prefix}
}

func Contains(field, substring string) Predicate {
	return Predicate{Field: field, Op: OpContains, Value: substring}
}

// Query is a builder for a single collection's filter/limit/offset
// configuration. It carries no connection to the engine itself; a
// *Query is handed to the engine's executor to run (spec.md §4.8).
type Query struct {
	Collection string
	Predicates []Predicate
	LimitN     int
	OffsetN    int
	HasLimit   bool
}

// New starts a query builder over collection.
func New(collection string) *Query {
	return &Query{Collection: collection}
}

// Where conjuncts (AND) one or more predicates onto the query
// (spec.md §4.8: "multiple where calls... conjunct").
func (q *Query) Where(preds ...Predicate) *Query {
	q.Predicates = append(q.Predicates, preds...)
	return q
}

// Limit truncates the result stream after n matches (§4 supplement,
// grounded in the teacher's PaginationOptions).
func (q *Query) Limit(n int) *Query {
	q.LimitN = n
	q.HasLimit = true
	return q
}

// Offset skips the first n matches before yielding results (§4
// supplement).
func (q *Query) Offset(n int) *Query {
	q.OffsetN = n
	return q
}
