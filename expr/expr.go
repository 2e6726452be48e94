/*
 * Copyright 2025 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package expr compiles pump projection/filter/join-predicate expressions
// once, at pipeline-update time, into expr-lang/expr VM programs that run
// per dispatched row. The compile-once/run-many shape covers arithmetic,
// comparison, logical connectives, FLOOR_TIME, DURATION_SECS and aggregate
// label references.
package expr

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rulego/streamcore/row"
)

// compileOptions are registered identically on every compiled expression so
// FLOOR_TIME/DURATION_SECS are available everywhere a pump can reference
// them (projections, filters, join predicates).
func compileOptions(env map[string]interface{}) []expr.Option {
	return []expr.Option{
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		expr.Function("FLOOR_TIME", func(params ...interface{}) (interface{}, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("FLOOR_TIME requires 2 parameters")
			}
			t, ok := params[0].(time.Time)
			if !ok {
				return nil, fmt.Errorf("FLOOR_TIME requires a timestamp first parameter")
			}
			d, ok := params[1].(time.Duration)
			if !ok {
				return nil, fmt.Errorf("FLOOR_TIME requires a duration second parameter")
			}
			return FloorTime(t, d), nil
		}),
		expr.Function("DURATION_SECS", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("DURATION_SECS requires 1 parameter")
			}
			n, err := toInt64(params[0])
			if err != nil {
				return nil, err
			}
			return time.Duration(n) * time.Second, nil
		}),
	}
}

func toInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", v)
	}
}

// FloorTime aligns t downward to the nearest multiple of d since the Unix
// epoch — used by FLOOR_TIME() in projection expressions and by the window
// engine's pane-boundary arithmetic.
func FloorTime(t time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return t
	}
	unixNano := t.UnixNano()
	dNano := d.Nanoseconds()
	floored := (unixNano / dNano) * dNano
	if unixNano < 0 && unixNano%dNano != 0 {
		floored -= dNano
	}
	return time.Unix(0, floored).UTC()
}

// Expression is a compiled scalar expression, resolved once against a
// StreamShape and reused for every row dispatched through the owning pump.
type Expression struct {
	source  string
	program *vm.Program
}

// Compile compiles src against shape's columns (by name; expr-lang resolves
// identifiers to fast variable-fetch opcodes at compile time). extraNames
// lists additional identifiers the evaluation env may carry beyond the
// shape's own columns (aggregate labels, a joined row's columns, group-by
// values). They are not added to the compile-time env, so like any other
// identifier outside the shape they compile as untyped variables
// (AllowUndefinedVariables) resolved from the env passed to Eval.
func Compile(shape *row.StreamShape, extraNames []string, src string) (*Expression, error) {
	env := make(map[string]interface{}, len(shape.Columns))
	for _, c := range shape.Columns {
		env[string(c.Name)] = typeZeroValue(c.Type)
	}
	program, err := expr.Compile(src, compileOptions(env)...)
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", src, err)
	}
	return &Expression{source: src, program: program}, nil
}

// CompileNames compiles src for an env keyed by plain identifier names rather
// than a StreamShape — used for pump filter/projection expressions that
// evaluate against a window.Tuple (an aggregate or join pane's output)
// instead of a single shape-bound row, where there is no single StreamShape
// to resolve against. The names are not added to the compile-time env (an
// entry holding nil would give the name a nil static type and reject
// comparisons and arithmetic on it); every identifier compiles as an
// untyped variable (AllowUndefinedVariables) resolved from the env passed
// to Eval.
func CompileNames(names []string, src string) (*Expression, error) {
	program, err := expr.Compile(src, compileOptions(map[string]interface{}{})...)
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", src, err)
	}
	return &Expression{source: src, program: program}, nil
}

func typeZeroValue(t row.SqlType) interface{} {
	switch t {
	case row.Text, row.Blob:
		return ""
	case row.Boolean:
		return false
	case row.Timestamp:
		return time.Time{}
	case row.Duration:
		return time.Duration(0)
	case row.Float:
		return float64(0)
	default:
		return int64(0)
	}
}

// Source returns the expression's original text (for diagnostics/logging).
func (e *Expression) Source() string { return e.source }

// Eval runs the compiled program against env and returns the raw Go result.
func (e *Expression) Eval(env map[string]interface{}) (interface{}, error) {
	out, err := expr.Run(e.program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression %q: %w", e.source, err)
	}
	return out, nil
}

// EvalBool runs the compiled program and coerces the result to bool,
// treating a nil/non-bool result as false (matches condition.ExprCondition's
// behavior on evaluation errors, generalized to also cover nil).
func (e *Expression) EvalBool(env map[string]interface{}) bool {
	out, err := e.Eval(env)
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}

// RowEnv builds the evaluation environment for a single row: every column
// by name mapped to its raw Go value.
func RowEnv(r *row.Row) map[string]interface{} {
	values := r.Values()
	shape := r.Shape()
	env := make(map[string]interface{}, len(values))
	for i, c := range shape.Columns {
		env[string(c.Name)] = values[i].Raw()
	}
	return env
}
