package filter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"eventdesk/pkg/cel"
)

// Record is anything the engine can filter: a lookup of scalar field
// values by name. The second result is false when the field is absent.
type Record interface {
	Field(name string) (interface{}, bool)
}

// Document is a Record that can also expose all of its fields at once,
// which expression criteria need.
type Document interface {
	Record
	Fields() map[string]interface{}
}

type Kind int

const (
	// KindText matches a case-insensitive substring.
	KindText Kind = iota
	// KindCategory matches by case-sensitive equality.
	KindCategory
	// KindExpression evaluates a compiled CEL predicate.
	KindExpression
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindCategory:
		return "category"
	case KindExpression:
		return "expression"
	default:
		return "unknown"
	}
}

type Criterion struct {
	Field string
	Kind  Kind
	Value string

	predicate *cel.Predicate
}

func Text(field, value string) Criterion {
	return Criterion{Field: field, Kind: KindText, Value: value}
}

func Category(field, value string) Criterion {
	return Criterion{Field: field, Kind: KindCategory, Value: value}
}

// Expression compiles a CEL boolean expression into a criterion. An empty
// expression yields an empty criterion.
func Expression(evaluator *cel.Evaluator, expression string) (Criterion, error) {
	c := Criterion{Kind: KindExpression, Value: strings.TrimSpace(expression)}
	if c.Value == "" {
		return c, nil
	}
	if evaluator == nil {
		return Criterion{}, fmt.Errorf("expression criteria are not enabled")
	}
	pred, err := evaluator.Compile(c.Value)
	if err != nil {
		return Criterion{}, err
	}
	c.predicate = &pred
	return c, nil
}

// Empty reports whether the criterion imposes no constraint.
func (c Criterion) Empty() bool {
	return c.Value == ""
}

func (c Criterion) matches(ctx context.Context, r Record) bool {
	if c.Empty() {
		return true
	}

	switch c.Kind {
	case KindText:
		v, ok := scalar(r, c.Field)
		return ok && strings.Contains(strings.ToLower(v), strings.ToLower(c.Value))
	case KindCategory:
		v, ok := scalar(r, c.Field)
		return ok && v == c.Value
	case KindExpression:
		doc, ok := r.(Document)
		if !ok || c.predicate == nil {
			return false
		}
		matched, err := c.predicate.Match(ctx, doc.Fields())
		return err == nil && matched
	default:
		return false
	}
}

// Criteria combine with logical AND.
type Criteria []Criterion

// Empty reports whether every criterion is empty.
func (cs Criteria) Empty() bool {
	for _, c := range cs {
		if !c.Empty() {
			return false
		}
	}
	return true
}

func (cs Criteria) active() Criteria {
	out := make(Criteria, 0, len(cs))
	for _, c := range cs {
		if !c.Empty() {
			out = append(out, c)
		}
	}
	return out
}

// scalar renders a field value as a string for comparison. Absent fields,
// nil values and non-scalar values report false.
func scalar(r Record, field string) (string, bool) {
	v, ok := r.Field(field)
	if !ok || v == nil {
		return "", false
	}

	switch t := v.(type) {
	case string:
		return t, true
	case fmt.Stringer:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}
