package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// RecordVariable is the name records are bound to inside expressions,
// e.g. `record.type == "workshop" && record.title.contains("Go")`.
const RecordVariable = "record"

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable(RecordVariable, cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// ValidateFilterExpression checks that expression compiles and yields a bool.
func (e *Evaluator) ValidateFilterExpression(expression string) error {
	_, err := e.compile(expression)
	return err
}

// Predicate is a compiled filter expression.
type Predicate struct {
	expression string
	program    cel.Program
}

func (p Predicate) Expression() string {
	return p.expression
}

// Match evaluates the expression against one record's fields. Evaluation
// errors (missing keys, type mismatches) are returned to the caller.
func (p Predicate) Match(ctx context.Context, fields map[string]interface{}) (bool, error) {
	result, _, err := p.program.ContextEval(ctx, map[string]interface{}{
		RecordVariable: fields,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}
	return boolVal, nil
}

// Compile returns a reusable predicate for expression. Each call compiles
// afresh; callers keep the predicate for as long as they need it.
func (e *Evaluator) Compile(expression string) (Predicate, error) {
	program, err := e.compile(expression)
	if err != nil {
		return Predicate{}, err
	}
	return Predicate{expression: expression, program: program}, nil
}

func (e *Evaluator) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}
