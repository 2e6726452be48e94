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

package task

import (
	"fmt"
	"time"

	"github.com/spf13/cast"

	"github.com/rulego/streamcore/expr"
	"github.com/rulego/streamcore/pipeline"
	"github.com/rulego/streamcore/row"
	"github.com/rulego/streamcore/window"
)

// PumpTask runs one pump's collect/filter/window/project/insert cycle, in
// one of four variants: plain passthrough, filtered passthrough,
// group-aggregate window and join window.
type PumpTask struct {
	TaskID  pipeline.TaskID
	Runtime *PumpRuntime

	// MainInput is the queue edge carrying the pump's InputStream.
	MainInput pipeline.QueueEdge
	// RightInput is set only for a join pump: the queue edge carrying the
	// join's RightStream.
	RightInput *pipeline.QueueEdge
	Outputs    []pipeline.QueueEdge
}

func (t *PumpTask) ID() pipeline.TaskID { return t.TaskID }

// Run implements Task. Each cycle collects at most one row (from the main
// input, or, for a join pump, from whichever side currently has one ready)
// and carries it through filter, window dispatch and projection before
// inserting the result(s) downstream.
func (t *PumpTask) Run(ctx *Context) (MetricsDelta, error) {
	switch {
	case t.Runtime.Join != nil:
		return t.runJoin(ctx)
	case t.Runtime.Aggregate != nil:
		return t.runAggregate(ctx)
	default:
		return t.runPassthrough(ctx)
	}
}

// collectRow pops the next row from a row-queue edge, or (nil, false) if
// none is ready.
func collectRow(ctx *Context, edge pipeline.QueueEdge) (*row.Row, bool) {
	q, ok := ctx.RowQueues.Get(edge.ID)
	if !ok {
		return nil, false
	}
	return q.Use()
}

// collectWindowed pops the next pending row, in FIFO arrival order, from a
// window-queue edge, or (nil, false) if the queue is empty. Rows are not
// held back by the watermark; lateness is handled by the pane engine.
func collectWindowed(ctx *Context, edge pipeline.QueueEdge) (*row.Row, bool) {
	q, ok := ctx.WindowQueues.Get(edge.ID)
	if !ok {
		return nil, false
	}
	return q.Dispatch()
}

// passesFilter evaluates the pump's WHERE predicate (if any) against r,
// immediately after Collect and before the row enters a window: a windowed
// pump's WHERE narrows what gets aggregated/joined, not what survives the
// close of a pane.
func passesFilter(rt *PumpRuntime, r *row.Row) bool {
	if rt.Filter == nil {
		return true
	}
	return rt.Filter.EvalBool(expr.RowEnv(r))
}

// runPassthrough handles a pump with no Window: collect, filter, project,
// insert exactly one row per cycle.
func (t *PumpTask) runPassthrough(ctx *Context) (MetricsDelta, error) {
	r, ok := collectRow(ctx, t.MainInput)
	if !ok {
		return MetricsDelta{}, nil
	}

	if !passesFilter(t.Runtime, r) {
		ctx.Metrics.RecordTaskRun(t.TaskID, 1, 0, 0, ctx.now().UnixNano())
		return MetricsDelta{RowsIn: 1, Ran: true}, nil
	}

	out, err := t.project(window.FromRow(r))
	if err != nil {
		ctx.Metrics.RecordTaskRun(t.TaskID, 1, 0, 1, ctx.now().UnixNano())
		return MetricsDelta{RowsIn: 1, Errors: 1, Ran: true}, err
	}

	bytesOut := insertFanout(ctx, out, t.Outputs)
	reportQueueState(ctx, append(append([]pipeline.QueueEdge{}, t.Outputs...), t.MainInput))
	ctx.Metrics.RecordTaskRun(t.TaskID, 1, len(t.Outputs), 0, ctx.now().UnixNano())

	return MetricsDelta{RowsIn: 1, RowsOut: len(t.Outputs), BytesIn: int64(r.MemSize()), BytesOut: bytesOut, Ran: true}, nil
}

// runAggregate handles a group-aggregate windowed pump: collect from the
// window queue, filter, dispatch into the aggregate pane engine, then
// project and insert every tuple the dispatch closed.
func (t *PumpTask) runAggregate(ctx *Context) (MetricsDelta, error) {
	r, ok := collectWindowed(ctx, t.MainInput)
	if !ok {
		return MetricsDelta{}, nil
	}

	if !passesFilter(t.Runtime, r) {
		ctx.Metrics.RecordTaskRun(t.TaskID, 1, 0, 0, ctx.now().UnixNano())
		return MetricsDelta{RowsIn: 1, Ran: true}, nil
	}

	tuples, err := t.Runtime.Aggregate.Dispatch(r, ctx.now())
	if err != nil {
		ctx.Metrics.RecordTaskRun(t.TaskID, 1, 0, 1, ctx.now().UnixNano())
		return MetricsDelta{RowsIn: 1, Errors: 1, Ran: true}, err
	}

	return t.emitTuples(ctx, tuples, 1, int64(r.MemSize()), t.MainInput)
}

// runJoin handles a windowed join pump: try the main (left) side first,
// then the join's right side, so a single task alternates between servicing
// both input edges across repeated cycles.
func (t *PumpTask) runJoin(ctx *Context) (MetricsDelta, error) {
	if r, ok := collectWindowed(ctx, t.MainInput); ok {
		return t.dispatchJoinSide(ctx, r, window.LeftSide)
	}
	if t.RightInput != nil {
		if r, ok := collectWindowed(ctx, *t.RightInput); ok {
			return t.dispatchJoinSide(ctx, r, window.RightSide)
		}
	}
	return MetricsDelta{}, nil
}

func (t *PumpTask) dispatchJoinSide(ctx *Context, r *row.Row, side window.Side) (MetricsDelta, error) {
	if !passesFilter(t.Runtime, r) {
		ctx.Metrics.RecordTaskRun(t.TaskID, 1, 0, 0, ctx.now().UnixNano())
		return MetricsDelta{RowsIn: 1, Ran: true}, nil
	}

	tuples, err := t.Runtime.Join.DispatchSide(r, side, ctx.now())
	if err != nil {
		ctx.Metrics.RecordTaskRun(t.TaskID, 1, 0, 1, ctx.now().UnixNano())
		return MetricsDelta{RowsIn: 1, Errors: 1, Ran: true}, err
	}

	collected := []pipeline.QueueEdge{t.MainInput}
	if t.RightInput != nil {
		collected = append(collected, *t.RightInput)
	}
	return t.emitTuples(ctx, tuples, 1, int64(r.MemSize()), collected...)
}

// emitTuples projects and inserts every tuple a window dispatch produced
// (zero or more — a pane may still be open, or may close and fan out
// several groups/unmatched rows at once). collected lists the input edges
// whose live state should be re-reported alongside the outputs.
func (t *PumpTask) emitTuples(ctx *Context, tuples []*window.Tuple, rowsIn int, bytesIn int64, collected ...pipeline.QueueEdge) (MetricsDelta, error) {
	var bytesOut int64
	rowsOut := 0
	errs := 0
	for _, tup := range tuples {
		out, err := t.project(tup)
		if err != nil {
			errs++
			continue
		}
		bytesOut += insertFanout(ctx, out, t.Outputs)
		rowsOut += len(t.Outputs)
	}
	reportQueueState(ctx, append(append([]pipeline.QueueEdge{}, t.Outputs...), collected...))
	ctx.Metrics.RecordTaskRun(t.TaskID, rowsIn, rowsOut, errs, ctx.now().UnixNano())

	var err error
	if errs > 0 {
		err = fmt.Errorf("pump %q: %d tuple(s) failed projection", t.Runtime.Model.Name, errs)
	}
	return MetricsDelta{RowsIn: rowsIn, RowsOut: rowsOut, BytesIn: bytesIn, BytesOut: bytesOut, Errors: errs, Ran: true}, err
}

// project builds the pump's output row from tup: the configured Projection
// list if one was declared, or else every
// field of tup whose name matches an output column (SELECT * passthrough).
func (t *PumpTask) project(tup *window.Tuple) (*row.Row, error) {
	values := make(map[row.ColumnName]row.SqlValue, len(t.Runtime.OutputShape.Columns))

	if len(t.Runtime.Projection) > 0 {
		for _, pf := range t.Runtime.Projection {
			raw, err := pf.Expr.Eval(tup.Fields)
			if err != nil {
				return nil, fmt.Errorf("pump %q: evaluate projection %q: %w", t.Runtime.Model.Name, pf.OutputField, err)
			}
			col, ok := columnOf(t.Runtime.OutputShape, pf.OutputField)
			if !ok {
				return nil, fmt.Errorf("pump %q: projection targets unknown output column %q", t.Runtime.Model.Name, pf.OutputField)
			}
			sv, err := valueFromGo(col.Type, raw)
			if err != nil {
				return nil, fmt.Errorf("pump %q: column %q: %w", t.Runtime.Model.Name, pf.OutputField, err)
			}
			values[pf.OutputField] = sv
		}
	} else {
		for _, col := range t.Runtime.OutputShape.Columns {
			raw, present := tup.Fields[string(col.Name)]
			if !present {
				continue
			}
			sv, err := valueFromGo(col.Type, raw)
			if err != nil {
				return nil, fmt.Errorf("pump %q: column %q: %w", t.Runtime.Model.Name, col.Name, err)
			}
			values[col.Name] = sv
		}
	}

	clock := func() time.Time { return tup.RowTime }
	return row.NewRow(t.Runtime.OutputShape, values, clock)
}

func columnOf(shape *row.StreamShape, name row.ColumnName) (row.ColumnDef, bool) {
	idx, ok := shape.IndexOf(name)
	if !ok {
		return row.ColumnDef{}, false
	}
	return shape.Columns[idx], true
}

// valueFromGo wraps a loosely-typed Go value (the result of evaluating a
// compiled expr-lang expression) into a SqlValue of the declared column
// type, using spf13/cast for the numeric/string coercions expr-lang's
// untyped arithmetic can produce.
func valueFromGo(t row.SqlType, v interface{}) (row.SqlValue, error) {
	if v == nil {
		return row.Null(t), nil
	}
	switch t {
	case row.Text:
		s, err := cast.ToStringE(v)
		if err != nil {
			return row.SqlValue{}, err
		}
		return row.NewText(s), nil
	case row.Blob:
		switch x := v.(type) {
		case []byte:
			return row.NewBlob(x), nil
		default:
			s, err := cast.ToStringE(v)
			if err != nil {
				return row.SqlValue{}, err
			}
			return row.NewBlob([]byte(s)), nil
		}
	case row.Boolean:
		b, err := cast.ToBoolE(v)
		if err != nil {
			return row.SqlValue{}, err
		}
		return row.NewBool(b), nil
	case row.Float:
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return row.SqlValue{}, err
		}
		return row.NewFloat(f), nil
	case row.Timestamp:
		if tm, ok := v.(time.Time); ok {
			return row.NewTimestamp(tm), nil
		}
		if s, ok := v.(string); ok {
			return row.ParseTimestamp(s)
		}
		return row.SqlValue{}, fmt.Errorf("cannot convert %T to TIMESTAMP", v)
	case row.Duration:
		if d, ok := v.(time.Duration); ok {
			return row.NewDuration(d), nil
		}
		n, err := cast.ToInt64E(v)
		if err != nil {
			return row.SqlValue{}, err
		}
		return row.NewDuration(time.Duration(n)), nil
	case row.UnsignedInteger, row.UnsignedBigInt:
		n, err := cast.ToInt64E(v)
		if err != nil {
			return row.SqlValue{}, err
		}
		if n < 0 {
			return row.SqlValue{}, fmt.Errorf("value %d out of range for %s", n, t)
		}
		return row.NewUint(t, uint64(n)), nil
	default: // SmallInt, Integer, BigInt
		n, err := cast.ToInt64E(v)
		if err != nil {
			return row.SqlValue{}, err
		}
		return row.NewInt(t, n), nil
	}
}
