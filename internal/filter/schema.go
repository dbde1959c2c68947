package filter

import (
	"eventdesk/pkg/cel"
)

// ExpressionParam is the query parameter carrying a CEL expression.
const ExpressionParam = "expr"

// Schema maps request parameter names to the record field and the kind of
// comparison to apply.
type Schema map[string]Param

type Param struct {
	Field string
	Kind  Kind
}

// Criteria builds criteria from request parameters. Parameters the schema
// does not know are ignored. The expression parameter is compiled with
// evaluator; a nil evaluator disables it.
func (s Schema) Criteria(params map[string]string, evaluator *cel.Evaluator) (Criteria, error) {
	criteria := make(Criteria, 0, len(params))

	for name, value := range params {
		if value == "" {
			continue
		}
		if name == ExpressionParam {
			c, err := Expression(evaluator, value)
			if err != nil {
				return nil, err
			}
			criteria = append(criteria, c)
			continue
		}

		p, ok := s[name]
		if !ok {
			continue
		}
		criteria = append(criteria, Criterion{Field: p.Field, Kind: p.Kind, Value: value})
	}
	return criteria, nil
}

// Facetable reports whether field may be offered as a filter option list.
func (s Schema) Facetable(field string) bool {
	for _, p := range s {
		if p.Field == field && p.Kind == KindCategory {
			return true
		}
	}
	return false
}
