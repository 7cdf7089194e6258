// Package attrpath evaluates attribute-path expressions — dot-separated
// field paths with `[*]` wildcard segments — against a JSON value. It is the
// shared primitive both the trusted-data and tool-invocation policy engines
// use to test a tool result against a policy.
package attrpath

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Operator is one comparison supported between a referenced value and a
// policy's comparison value.
type Operator string

const (
	OpEqual       Operator = "equal"
	OpNotEqual    Operator = "notEqual"
	OpContains    Operator = "contains"
	OpNotContains Operator = "notContains"
	OpStartsWith  Operator = "startsWith"
	OpEndsWith    Operator = "endsWith"
	OpGreaterThan Operator = "greaterThan"
	OpLessThan    Operator = "lessThan"
)

// Evaluator evaluates attribute-path expressions. It holds nothing but a
// logger; it has no state of its own.
type Evaluator struct {
	logger *slog.Logger
}

// New returns an Evaluator that logs malformed paths and type mismatches to
// logger rather than raising.
func New(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger}
}

// Evaluate walks path (e.g. "emails[*].from") against raw, a JSON document,
// and tests every reached scalar against operator/value. matched is true iff
// any reached value satisfies the comparison; matchedValues holds every
// scalar the path reached, whether or not it satisfied the comparison. Input
// that is not valid JSON, a path that reaches nothing, or an operator/type
// mismatch fails the match rather than raising. Only invalid JSON input is
// logged as a warning; the other two cases return silently (a path that
// reaches nothing returns (false, nil), a type mismatch returns false with
// the reached values).
func (e *Evaluator) Evaluate(raw []byte, path string, operator Operator, value string) (matched bool, matchedValues []string) {
	if !gjson.ValidBytes(raw) {
		e.logger.Warn("attrpath: input is not valid JSON", "path", path)
		return false, nil
	}

	result := gjson.GetBytes(raw, toGJSONPath(path))
	if !result.Exists() {
		return false, nil
	}

	values := scalarValues(result)
	for _, v := range values {
		if compare(v, operator, value) {
			matched = true
		}
		matchedValues = append(matchedValues, v)
	}
	return matched, matchedValues
}

// ValidatePath reports whether path is syntactically well-formed: no empty
// segments, and every `[` is paired with a following `*]`. It does not
// check path against any actual document — a well-formed path can still
// fail to match anything, which Evaluate treats as a normal no-match, not
// an error.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("attribute path is empty")
	}
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return fmt.Errorf("attribute path %q has an empty segment", path)
		}
		if strings.Contains(segment, "[") && !strings.HasSuffix(segment, "[*]") {
			return fmt.Errorf("attribute path %q has a malformed wildcard segment %q", path, segment)
		}
	}
	return nil
}

// toGJSONPath rewrites the spec's `[*]` wildcard segment into gjson's `#`
// array-iteration segment: "emails[*].from" becomes "emails.#.from".
func toGJSONPath(path string) string {
	return strings.ReplaceAll(path, "[*]", ".#")
}

// scalarValues flattens a gjson result — which may be a single scalar or an
// array produced by a wildcard segment — into its string representations.
func scalarValues(result gjson.Result) []string {
	if result.IsArray() {
		var out []string
		for _, item := range result.Array() {
			if item.IsArray() || item.IsObject() {
				continue
			}
			out = append(out, item.String())
		}
		return out
	}
	if result.IsObject() {
		return nil
	}
	return []string{result.String()}
}

func compare(candidate string, operator Operator, value string) bool {
	switch operator {
	case OpEqual:
		return candidate == value
	case OpNotEqual:
		return candidate != value
	case OpContains:
		return strings.Contains(candidate, value)
	case OpNotContains:
		return !strings.Contains(candidate, value)
	case OpStartsWith:
		return strings.HasPrefix(candidate, value)
	case OpEndsWith:
		return strings.HasSuffix(candidate, value)
	case OpGreaterThan, OpLessThan:
		cf, err1 := strconv.ParseFloat(candidate, 64)
		vf, err2 := strconv.ParseFloat(value, 64)
		if err1 != nil || err2 != nil {
			return false
		}
		if operator == OpGreaterThan {
			return cf > vf
		}
		return cf < vf
	default:
		return false
	}
}
