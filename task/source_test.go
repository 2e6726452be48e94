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
	"github.com/rulego/streamcore/reader"
	"github.com/rulego/streamcore/row"
)

func TestSourceTask_FansOutToEveryOutputWithRetain(t *testing.T) {
	now := time.Now()
	shape := mustShape(t, row.ColumnDef{Name: "v", Type: row.Integer})
	rdr := reader.NewInMemoryQueueReader(4)
	rdr.Push(row.SchemalessRow{"v": row.NewInt(row.Integer, 9)})

	ctx, rq, _ := testContext(now)
	e1 := pipeline.QueueEdge{ID: "out1"}
	e2 := pipeline.QueueEdge{ID: "out2"}
	rq.Reset([]queue.ID{e1.ID, e2.ID})

	st := &SourceTask{TaskID: "source:s", Reader: rdr, Shape: shape, Outputs: []pipeline.QueueEdge{e1, e2}}
	delta, err := st.Run(ctx)
	require.NoError(t, err)
	require.True(t, delta.Ran)
	require.Equal(t, 2, delta.RowsOut)

	q1, _ := rq.Get(e1.ID)
	q2, _ := rq.Get(e2.ID)
	r1, ok := q1.Use()
	require.True(t, ok)
	r2, ok := q2.Use()
	require.True(t, ok)
	require.EqualValues(t, 2, r1.RefCount(), "fan-out to 2 consumers retains the shared row twice")
	v1, _ := r1.GetByName("v")
	n1, _ := v1.AsInt64()
	require.Equal(t, int64(9), n1)
	require.Same(t, r1, r2, "both queues hold the same shared row instance")
}

func TestSourceTask_ClosedReaderIsAnError(t *testing.T) {
	now := time.Now()
	shape := mustShape(t, row.ColumnDef{Name: "v", Type: row.Integer})
	rdr := reader.NewInMemoryQueueReader(4)
	_ = rdr.Close() // closed reader returns KindForeignIO, not a timeout, so the cycle counts an error

	ctx, rq, _ := testContext(now)
	e1 := pipeline.QueueEdge{ID: "out1"}
	rq.Reset([]queue.ID{e1.ID})
	st := &SourceTask{TaskID: "source:s", Reader: rdr, Shape: shape, Outputs: []pipeline.QueueEdge{e1}}
	delta, err := st.Run(ctx)
	require.Error(t, err)
	require.True(t, delta.Ran)
	require.Equal(t, 1, delta.Errors)
}
