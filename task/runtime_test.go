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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rulego/streamcore/pipeline"
	"github.com/rulego/streamcore/queue"
	"github.com/rulego/streamcore/row"
)

func TestNewPumpRuntime_JoinWiresBothSides(t *testing.T) {
	left := mustShape(t, row.ColumnDef{Name: "ts", Type: row.Timestamp, RowTime: true}, row.ColumnDef{Name: "amount", Type: row.Integer})
	right := mustShape(t, row.ColumnDef{Name: "ts", Type: row.Timestamp, RowTime: true}, row.ColumnDef{Name: "temperature", Type: row.Float})
	out := mustShape(t, row.ColumnDef{Name: "amount", Type: row.Integer}, row.ColumnDef{Name: "temperature", Type: row.Float})

	snap := &pipeline.Snapshot{Streams: map[pipeline.StreamName]*pipeline.StreamModel{
		"left": {Name: "left", Shape: left}, "right": {Name: "right", Shape: right}, "out": {Name: "out", Shape: out},
	}}
	model := &pipeline.PumpModel{
		Name: "j", InputStream: "left", OutputStream: "out",
		Window: &pipeline.WindowParameter{Kind: pipeline.WindowFixed, Length: pipeline.Duration(10 * time.Second)},
		Join:   &pipeline.JoinParameter{RightStream: "right", OnExpr: "ts == right_ts"},
	}
	rt, err := NewPumpRuntime(model, snap)
	require.NoError(t, err)
	require.NotNil(t, rt.Join)
	require.Nil(t, rt.Aggregate)
	require.NotNil(t, rt.RightShape)
}

func TestPumpTask_JoinEmitsOnPaneClose(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	left := mustShape(t, row.ColumnDef{Name: "ts", Type: row.Timestamp, RowTime: true}, row.ColumnDef{Name: "amount", Type: row.Integer})
	right := mustShape(t, row.ColumnDef{Name: "ts", Type: row.Timestamp, RowTime: true}, row.ColumnDef{Name: "temperature", Type: row.Float})
	out := mustShape(t, row.ColumnDef{Name: "amount", Type: row.Integer}, row.ColumnDef{Name: "temperature", Type: row.Float})

	snap := &pipeline.Snapshot{Streams: map[pipeline.StreamName]*pipeline.StreamModel{
		"left": {Name: "left", Shape: left}, "right": {Name: "right", Shape: right}, "out": {Name: "out", Shape: out},
	}}
	model := &pipeline.PumpModel{
		Name: "j", InputStream: "left", OutputStream: "out",
		Window: &pipeline.WindowParameter{Kind: pipeline.WindowFixed, Length: pipeline.Duration(10 * time.Second)},
		Join:   &pipeline.JoinParameter{RightStream: "right", OnExpr: "ts == right_ts"},
	}
	rt, err := NewPumpRuntime(model, snap)
	require.NoError(t, err)

	ctx, rq, wq := testContext(base)
	leftEdge := pipeline.QueueEdge{ID: "left-q", Window: true}
	rightEdge := pipeline.QueueEdge{ID: "right-q", Window: true}
	outEdge := pipeline.QueueEdge{ID: "out-q"}
	wq.Put(leftEdge.ID, queue.NewWindowQueue(rt.Join, rt.Join.CurrentWatermark))
	wq.Put(rightEdge.ID, queue.NewWindowQueue(rt.Join, rt.Join.CurrentWatermark))
	rq.Reset([]queue.ID{outEdge.ID})

	pt := &PumpTask{TaskID: "pump:j", Runtime: rt, MainInput: leftEdge, RightInput: &rightEdge, Outputs: []pipeline.QueueEdge{outEdge}}

	leftQ, _ := wq.Get(leftEdge.ID)
	rightQ, _ := wq.Get(rightEdge.ID)
	lr, err := row.NewRow(left, map[row.ColumnName]row.SqlValue{"ts": row.NewTimestamp(base), "amount": row.NewInt(row.Integer, 7)}, nil)
	require.NoError(t, err)
	rr, err := row.NewRow(right, map[row.ColumnName]row.SqlValue{"ts": row.NewTimestamp(base), "temperature": row.NewFloat(21.5)}, nil)
	require.NoError(t, err)
	leftQ.Put(lr)
	rightQ.Put(rr)

	// First cycle drains the left side (collectWindowed tries MainInput first).
	delta, err := pt.Run(ctx)
	require.NoError(t, err)
	require.True(t, delta.Ran)
	require.Equal(t, 0, delta.RowsOut, "nothing emits before the pane closes")

	// Second cycle drains the right side; still buffering, the pane is open.
	delta2, err := pt.Run(ctx)
	require.NoError(t, err)
	require.True(t, delta2.Ran)
	require.Equal(t, 0, delta2.RowsOut, "join output is produced only on pane close")

	// A later left row advances the watermark past the pane's close and the
	// closed pane's nested-loop join emits the match.
	trigger, err := row.NewRow(left, map[row.ColumnName]row.SqlValue{"ts": row.NewTimestamp(base.Add(20 * time.Second)), "amount": row.NewInt(row.Integer, 1)}, nil)
	require.NoError(t, err)
	leftQ.Put(trigger)

	delta3, err := pt.Run(ctx)
	require.NoError(t, err)
	require.True(t, delta3.Ran)
	require.Equal(t, 1, delta3.RowsOut)

	outQ, _ := rq.Get(outEdge.ID)
	produced, ok := outQ.Use()
	require.True(t, ok)
	amt, _ := produced.GetByName("amount")
	n, _ := amt.AsInt64()
	require.Equal(t, int64(7), n)
	temp, _ := produced.GetByName("temperature")
	f, _ := temp.AsFloat64()
	require.Equal(t, 21.5, f)
}
