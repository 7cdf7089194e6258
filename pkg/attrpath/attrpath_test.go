package attrpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_WildcardEndsWith(t *testing.T) {
	e := New(nil)
	raw := []byte(`{"emails":[{"from":"u@trusted.com"},{"from":"a@untrusted.com"}]}`)

	matched, values := e.Evaluate(raw, "emails[*].from", OpEndsWith, "@trusted.com")

	assert.True(t, matched)
	assert.Equal(t, []string{"u@trusted.com", "a@untrusted.com"}, values)
}

func TestEvaluate_WildcardEndsWith_NoMatch(t *testing.T) {
	e := New(nil)
	raw := []byte(`{"emails":[{"from":"a@untrusted.com"},{"from":"b@untrusted.com"}]}`)

	matched, _ := e.Evaluate(raw, "emails[*].from", OpEndsWith, "@trusted.com")

	assert.False(t, matched)
}

func TestEvaluate_SinglePath(t *testing.T) {
	e := New(nil)
	raw := []byte(`{"severity":"critical"}`)

	matched, values := e.Evaluate(raw, "severity", OpEqual, "critical")

	assert.True(t, matched)
	assert.Equal(t, []string{"critical"}, values)
}

func TestEvaluate_Numeric(t *testing.T) {
	e := New(nil)
	raw := []byte(`{"score":42}`)

	matched, _ := e.Evaluate(raw, "score", OpGreaterThan, "10")
	assert.True(t, matched)

	matched, _ = e.Evaluate(raw, "score", OpLessThan, "10")
	assert.False(t, matched)
}

func TestEvaluate_UnreachablePathFailsClosed(t *testing.T) {
	e := New(nil)
	raw := []byte(`{"emails":[{"from":"u@trusted.com"}]}`)

	matched, values := e.Evaluate(raw, "not.a.real.path", OpEqual, "anything")

	assert.False(t, matched)
	assert.Nil(t, values)
}

func TestEvaluate_InvalidJSONFailsClosed(t *testing.T) {
	e := New(nil)
	raw := []byte(`not json`)

	matched, values := e.Evaluate(raw, "severity", OpEqual, "critical")

	assert.False(t, matched)
	assert.Nil(t, values)
}

func TestEvaluate_GreaterThanTypeMismatchFailsClosed(t *testing.T) {
	e := New(nil)
	raw := []byte(`{"severity":"critical"}`)

	matched, _ := e.Evaluate(raw, "severity", OpGreaterThan, "10")

	assert.False(t, matched)
}

func TestValidatePath_WellFormedPathsPass(t *testing.T) {
	assert.NoError(t, ValidatePath("severity"))
	assert.NoError(t, ValidatePath("emails[*].from"))
	assert.NoError(t, ValidatePath("a.b.c[*].d"))
}

func TestValidatePath_RejectsEmptyAndMalformedSegments(t *testing.T) {
	assert.Error(t, ValidatePath(""))
	assert.Error(t, ValidatePath("emails..from"))
	assert.Error(t, ValidatePath("emails[0].from"))
	assert.Error(t, ValidatePath("emails[*"))
}
