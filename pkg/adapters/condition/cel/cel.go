// Package cel compiles conditional edge expressions with the Common
// Expression Language.
//
// Expressions see three variables:
//   - context: the whole execution context (input, nodes and merged output data)
//   - nodes: per-node results keyed by node id, e.g. nodes.review.data.verdict
//   - input: the run input
//
// Every expression must evaluate to a bool.
package cel

import (
	"fmt"
	"sync"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/aescanero/agentmesh/pkg/domain"
)

const (
	varContext = "context"
	varNodes   = "nodes"
	varInput   = "input"
)

// Compiler implements ports.ConditionCompiler
type Compiler struct {
	env *celgo.Env
}

var (
	defaultOnce     sync.Once
	defaultCompiler *Compiler
	defaultErr      error
)

// NewCompiler creates a compiler with its own CEL environment
func NewCompiler() (*Compiler, error) {
	env, err := celgo.NewEnv(
		celgo.Variable(varContext, celgo.DynType),
		celgo.Variable(varNodes, celgo.DynType),
		celgo.Variable(varInput, celgo.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

// Default returns a process-wide compiler
func Default() (*Compiler, error) {
	defaultOnce.Do(func() {
		defaultCompiler, defaultErr = NewCompiler()
	})
	return defaultCompiler, defaultErr
}

// Compile parses and type-checks expr
func (c *Compiler) Compile(expr string) (domain.Condition, error) {
	if expr == "" {
		return nil, fmt.Errorf("%w: condition expression is empty", domain.ErrInvalidEdge)
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: condition %q: %v", domain.ErrInvalidEdge, expr, issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(celgo.BoolType) && !t.IsExactType(celgo.DynType) {
		return nil, fmt.Errorf("%w: condition %q returns %s, want bool", domain.ErrInvalidEdge, expr, t)
	}

	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build CEL program: %w", err)
	}
	return &Condition{expr: expr, program: prg}, nil
}

// Condition is a compiled CEL predicate
type Condition struct {
	expr    string
	program celgo.Program
}

// Evaluate runs the predicate against vars
func (c *Condition) Evaluate(vars map[string]any) (bool, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	nodes, ok := vars[varNodes]
	if !ok || nodes == nil {
		nodes = map[string]any{}
	}

	out, _, err := c.program.Eval(map[string]any{
		varContext: vars,
		varNodes:   nodes,
		varInput:   vars[varInput],
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", c.expr, err)
	}
	return asBool(c.expr, out)
}

// String returns the source expression
func (c *Condition) String() string {
	return c.expr
}

func asBool(expr string, v ref.Val) (bool, error) {
	if b, ok := v.(types.Bool); ok {
		return bool(b), nil
	}
	if b, ok := v.Value().(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("condition %q did not evaluate to bool (got %s)", expr, v.Type().TypeName())
}
