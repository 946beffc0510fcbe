package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpIndexableAndEquality(t *testing.T) {
	assert.True(t, OpEq.Indexable())
	assert.True(t, OpEq.Equality())
	assert.True(t, OpIn.Indexable())
	assert.True(t, OpIn.Equality())
	assert.True(t, OpBetween.Indexable())
	assert.False(t, OpBetween.Equality())
	assert.True(t, OpStartsWith.Indexable())
	assert.False(t, OpNotEq.Indexable())
	assert.False(t, OpContains.Indexable())
}

func TestBuilderFunctions(t *testing.T) {
	assert.Equal(t, Predicate{Field: "age", Op: OpEq, Value: "30"}, Eq("age", "30"))
	assert.Equal(t, Predicate{Field: "age", Op: OpGt, Value: "30"}, Gt("age", "30"))
	assert.Equal(t, Predicate{Field: "age", Op: OpBetween, Low: "20", High: "40", Inclusive: true}, Between("age", "20", "40"))
	assert.Equal(t, Predicate{Field: "age", Op: OpIn, Values: []string{"1", "2"}}, In("age", "1", "2"))
	assert.Equal(t, Predicate{Field: "name", Op: OpStartsWith, Value: "Al"}, StartsWith("name", "Al"))
	assert.Equal(t, Predicate{Field: "name", Op: OpContains, Value: "li"}, Contains("name", "li"))
}

func TestQueryWhereConjunctsAndLimitOffset(t *testing.T) {
	q := New("Users").
		Where(Eq("active", "true")).
		Where(Gt("age", "18")).
		Limit(10).
		Offset(5)

	assert.Equal(t, "Users", q.Collection)
	assert.Len(t, q.Predicates, 2)
	assert.True(t, q.HasLimit)
	assert.Equal(t, 10, q.LimitN)
	assert.Equal(t, 5, q.OffsetN)
}
