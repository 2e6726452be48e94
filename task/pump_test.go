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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rulego/streamcore/metrics"
	"github.com/rulego/streamcore/pipeline"
	"github.com/rulego/streamcore/queue"
	"github.com/rulego/streamcore/row"
)

func mustShape(t *testing.T, cols ...row.ColumnDef) *row.StreamShape {
	t.Helper()
	s, err := row.NewStreamShape(cols)
	require.NoError(t, err)
	return s
}

func testContext(now time.Time) (*Context, *queue.RowQueueRepository, *queue.WindowQueueRepository) {
	rq := queue.NewRowQueueRepository()
	wq := queue.NewWindowQueueRepository()
	return &Context{
		Ctx:          context.Background(),
		RowQueues:    rq,
		WindowQueues: wq,
		Metrics:      metrics.New(),
		Now:          func() time.Time { return now },
	}, rq, wq
}

func TestPumpTask_PassthroughAppliesFilterAndProjection(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in := mustShape(t, row.ColumnDef{Name: "value", Type: row.Float})
	out := mustShape(t, row.ColumnDef{Name: "doubled", Type: row.Float})

	snap := &pipeline.Snapshot{
		Streams: map[pipeline.StreamName]*pipeline.StreamModel{
			"in":  {Name: "in", Shape: in},
			"out": {Name: "out", Shape: out},
		},
	}
	model := &pipeline.PumpModel{
		Name: "p1", InputStream: "in", OutputStream: "out",
		Where:      "value > 0",
		Projection: []pipeline.ProjectionExpr{{OutputField: "doubled", Expr: "value * 2"}},
	}
	rt, err := NewPumpRuntime(model, snap)
	require.NoError(t, err)

	ctx, rq, _ := testContext(now)
	edgeIn := pipeline.QueueEdge{ID: "q:in->p1"}
	edgeOut := pipeline.QueueEdge{ID: "q:p1->out"}
	rq.Reset([]queue.ID{edgeIn.ID, edgeOut.ID})

	pt := &PumpTask{TaskID: "pump:p1", Runtime: rt, MainInput: edgeIn, Outputs: []pipeline.QueueEdge{edgeOut}}

	inQ, _ := rq.Get(edgeIn.ID)
	goodRow, err := row.NewRow(in, map[row.ColumnName]row.SqlValue{"value": row.NewFloat(3)}, func() time.Time { return now })
	require.NoError(t, err)
	badRow, err := row.NewRow(in, map[row.ColumnName]row.SqlValue{"value": row.NewFloat(-1)}, func() time.Time { return now })
	require.NoError(t, err)
	inQ.Put(goodRow)
	inQ.Put(badRow)

	delta, err := pt.Run(ctx)
	require.NoError(t, err)
	require.True(t, delta.Ran)
	require.Equal(t, 1, delta.RowsOut)

	outQ, _ := rq.Get(edgeOut.ID)
	produced, ok := outQ.Use()
	require.True(t, ok)
	v, ok := produced.GetByName("doubled")
	require.True(t, ok)
	f, err := v.AsFloat64()
	require.NoError(t, err)
	require.Equal(t, 6.0, f)

	// The filtered-out row is consumed (counted) but produces no output.
	delta2, err := pt.Run(ctx)
	require.NoError(t, err)
	require.True(t, delta2.Ran)
	require.Equal(t, 0, delta2.RowsOut)
	_, ok = outQ.Use()
	require.False(t, ok)
}

func TestPumpTask_PassthroughNoProjectionCopiesMatchingColumns(t *testing.T) {
	now := time.Now()
	in := mustShape(t, row.ColumnDef{Name: "a", Type: row.Integer}, row.ColumnDef{Name: "b", Type: row.Text})
	out := mustShape(t, row.ColumnDef{Name: "a", Type: row.Integer}, row.ColumnDef{Name: "b", Type: row.Text})
	snap := &pipeline.Snapshot{Streams: map[pipeline.StreamName]*pipeline.StreamModel{
		"in": {Name: "in", Shape: in}, "out": {Name: "out", Shape: out},
	}}
	model := &pipeline.PumpModel{Name: "p", InputStream: "in", OutputStream: "out"}
	rt, err := NewPumpRuntime(model, snap)
	require.NoError(t, err)

	ctx, rq, _ := testContext(now)
	edgeIn := pipeline.QueueEdge{ID: "in"}
	edgeOut := pipeline.QueueEdge{ID: "out"}
	rq.Reset([]queue.ID{edgeIn.ID, edgeOut.ID})
	inQ, _ := rq.Get(edgeIn.ID)
	r, err := row.NewRow(in, map[row.ColumnName]row.SqlValue{"a": row.NewInt(row.Integer, 7), "b": row.NewText("x")}, nil)
	require.NoError(t, err)
	inQ.Put(r)

	pt := &PumpTask{TaskID: "t", Runtime: rt, MainInput: edgeIn, Outputs: []pipeline.QueueEdge{edgeOut}}
	_, err = pt.Run(ctx)
	require.NoError(t, err)

	outQ, _ := rq.Get(edgeOut.ID)
	got, ok := outQ.Use()
	require.True(t, ok)
	v, _ := got.GetByName("a")
	n, _ := v.AsInt64()
	require.Equal(t, int64(7), n)
}

func TestPumpTask_AggregateEmitsOnPaneClose(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in := mustShape(t,
		row.ColumnDef{Name: "ts", Type: row.Timestamp, RowTime: true},
		row.ColumnDef{Name: "grp", Type: row.Text},
		row.ColumnDef{Name: "value", Type: row.Float},
	)
	out := mustShape(t, row.ColumnDef{Name: "grp", Type: row.Text}, row.ColumnDef{Name: "avg_value", Type: row.Float})

	snap := &pipeline.Snapshot{Streams: map[pipeline.StreamName]*pipeline.StreamModel{
		"in": {Name: "in", Shape: in}, "out": {Name: "out", Shape: out},
	}}
	model := &pipeline.PumpModel{
		Name: "agg", InputStream: "in", OutputStream: "out",
		GroupBy: []row.ColumnName{"grp"},
		Window:  &pipeline.WindowParameter{Kind: pipeline.WindowFixed, Length: pipeline.Duration(10 * time.Second), AllowedDelay: 0},
		Aggregations: []pipeline.AggregationField{{AggFunc: pipeline.AggAvg, InputField: "value", OutputAlias: "avg_value"}},
	}
	rt, err := NewPumpRuntime(model, snap)
	require.NoError(t, err)
	require.NotNil(t, rt.Aggregate)

	ctx, _, wq := testContext(base)
	edgeIn := pipeline.QueueEdge{ID: "win-in", Window: true}
	edgeOut := pipeline.QueueEdge{ID: "row-out"}
	wq.Put(edgeIn.ID, queue.NewWindowQueue(rt.Aggregate, rt.Aggregate.CurrentWatermark))
	rowRepo := func() *queue.RowQueueRepository {
		r := queue.NewRowQueueRepository()
		r.Reset([]queue.ID{edgeOut.ID})
		return r
	}()
	ctx.RowQueues = rowRepo

	pt := &PumpTask{TaskID: "pump:agg", Runtime: rt, MainInput: edgeIn, Outputs: []pipeline.QueueEdge{edgeOut}}

	wqInst, _ := wq.Get(edgeIn.ID)
	r1, err := row.NewRow(in, map[row.ColumnName]row.SqlValue{
		"ts": row.NewTimestamp(base), "grp": row.NewText("a"), "value": row.NewFloat(10),
	}, nil)
	require.NoError(t, err)
	wqInst.Put(r1)

	// First cycle: row enters the pane, no pane closes yet (watermark hasn't advanced past it).
	delta, err := pt.Run(ctx)
	require.NoError(t, err)
	require.True(t, delta.Ran)
	require.Equal(t, 0, delta.RowsOut)

	// A later row well past the window's length advances the watermark enough
	// to close the first pane.
	r2, err := row.NewRow(in, map[row.ColumnName]row.SqlValue{
		"ts": row.NewTimestamp(base.Add(time.Minute)), "grp": row.NewText("a"), "value": row.NewFloat(20),
	}, nil)
	require.NoError(t, err)
	wqInst.Put(r2)

	delta2, err := pt.Run(ctx)
	require.NoError(t, err)
	require.True(t, delta2.Ran)
	require.Equal(t, 1, delta2.RowsOut)

	outQ, _ := ctx.RowQueues.Get(edgeOut.ID)
	produced, ok := outQ.Use()
	require.True(t, ok)
	grp, _ := produced.GetByName("grp")
	s, _ := grp.AsString()
	require.Equal(t, "a", s)
	avg, _ := produced.GetByName("avg_value")
	f, _ := avg.AsFloat64()
	require.Equal(t, 10.0, f)
}
