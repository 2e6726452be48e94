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

// Package task implements the three task kinds the executor runs every
// cycle: SourceTask drains a foreign reader and fans rows out to its output
// queues; PumpTask runs the collect/window/projection/insert subtask
// pipeline; SinkTask drains its input queue into a foreign writer.
package task

import (
	"fmt"

	"github.com/rulego/streamcore/expr"
	"github.com/rulego/streamcore/pipeline"
	"github.com/rulego/streamcore/row"
	"github.com/rulego/streamcore/window"
)

// ProjectionField is one compiled item of a pump's SELECT list.
type ProjectionField struct {
	OutputField row.ColumnName
	Expr        *expr.Expression
}

// PumpRuntime holds everything about one pump resolved once at
// pipeline-update time: compiled filter/projection expressions and, for a
// windowed pump, the aggregate or join pane engine it dispatches into.
type PumpRuntime struct {
	Model *pipeline.PumpModel

	InputShape  *row.StreamShape
	OutputShape *row.StreamShape
	RightShape  *row.StreamShape // set only for a join pump

	Filter     *expr.Expression // nil when the pump has no WHERE clause
	Projection []ProjectionField

	Aggregate *window.AggregateEngine // set only for a group-aggregate pump
	Join      *window.JoinEngine      // set only for a join pump
}

// envNames collects every identifier a pump's filter/projection expressions
// may reference, across both the plain-row case and the windowed-tuple
// case, so a single compiled program works against whichever env shape
// Run() later builds (expr-lang resolves unknown identifiers to nil rather
// than failing, since every compile uses AllowUndefinedVariables).
func envNames(pump *pipeline.PumpModel, inputShape, outputShape, rightShape *row.StreamShape) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, c := range inputShape.Columns {
		add(string(c.Name))
	}
	for _, c := range outputShape.Columns {
		add(string(c.Name))
	}
	if rightShape != nil {
		for _, c := range rightShape.Columns {
			if seen[string(c.Name)] {
				add("right_" + string(c.Name))
			} else {
				add(string(c.Name))
			}
		}
	}
	for _, g := range pump.GroupBy {
		add(string(g))
	}
	for _, agg := range pump.Aggregations {
		add(string(agg.OutputAlias))
	}
	return names
}

// NewPumpRuntime compiles a PumpModel into a PumpRuntime, resolving its
// input/output (and, for a join, right-side) stream shapes from snap and
// constructing the pump's window engine if it owns one.
func NewPumpRuntime(pump *pipeline.PumpModel, snap *pipeline.Snapshot) (*PumpRuntime, error) {
	inStream, ok := snap.Streams[pump.InputStream]
	if !ok {
		return nil, fmt.Errorf("pump %q: unknown input stream %q", pump.Name, pump.InputStream)
	}
	outStream, ok := snap.Streams[pump.OutputStream]
	if !ok {
		return nil, fmt.Errorf("pump %q: unknown output stream %q", pump.Name, pump.OutputStream)
	}

	rt := &PumpRuntime{Model: pump, InputShape: inStream.Shape, OutputShape: outStream.Shape}

	var rightShape *row.StreamShape
	if pump.IsJoin() {
		rightStream, ok := snap.Streams[pump.Join.RightStream]
		if !ok {
			return nil, fmt.Errorf("pump %q: unknown join stream %q", pump.Name, pump.Join.RightStream)
		}
		rightShape = rightStream.Shape
		rt.RightShape = rightShape
	}

	names := envNames(pump, rt.InputShape, rt.OutputShape, rightShape)

	if pump.Where != "" {
		f, err := expr.CompileNames(names, pump.Where)
		if err != nil {
			return nil, fmt.Errorf("pump %q: compile WHERE: %w", pump.Name, err)
		}
		rt.Filter = f
	}

	for _, p := range pump.Projection {
		e, err := expr.CompileNames(names, p.Expr)
		if err != nil {
			return nil, fmt.Errorf("pump %q: compile projection %q: %w", pump.Name, p.OutputField, err)
		}
		rt.Projection = append(rt.Projection, ProjectionField{OutputField: p.OutputField, Expr: e})
	}

	if pump.IsGroupAggregate() {
		if len(pump.Aggregations) == 0 {
			return nil, fmt.Errorf("pump %q: windowed group-aggregate pump has no aggregations", pump.Name)
		}
		agg := pump.Aggregations[0] // AVG is the supported aggregate; the first aggregation drives the pane
		param := window.Parameter{
			Kind:         windowKind(pump.Window.Kind),
			Length:       pump.Window.Length.ToGo(),
			Period:       pump.Window.Period.ToGo(),
			AllowedDelay: pump.Window.AllowedDelay.ToGo(),
		}
		rt.Aggregate = window.NewAggregateEngine(param, pump.GroupBy, agg.InputField, string(agg.OutputAlias))
	} else if pump.IsJoin() {
		param := window.Parameter{
			Kind:         windowKind(pump.Window.Kind),
			Length:       pump.Window.Length.ToGo(),
			Period:       pump.Window.Period.ToGo(),
			AllowedDelay: pump.Window.AllowedDelay.ToGo(),
		}
		onExpr, err := expr.CompileNames(names, pump.Join.OnExpr)
		if err != nil {
			return nil, fmt.Errorf("pump %q: compile join ON: %w", pump.Name, err)
		}
		predicate := func(left, right *row.Row) (bool, error) {
			env := expr.RowEnv(left)
			for k, v := range expr.RowEnv(right) {
				if _, collide := env[k]; collide {
					env["right_"+k] = v
					continue
				}
				env[k] = v
			}
			return onExpr.EvalBool(env), nil
		}
		rt.Join = window.NewJoinEngine(param, predicate)
	}

	return rt, nil
}

func windowKind(k pipeline.WindowKind) window.Kind {
	if k == pipeline.WindowSliding {
		return window.Sliding
	}
	return window.Fixed
}
