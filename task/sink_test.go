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
	"github.com/rulego/streamcore/writer"
)

func TestSinkTask_SendsCollectedRow(t *testing.T) {
	now := time.Now()
	shape := mustShape(t, row.ColumnDef{Name: "v", Type: row.Integer})
	w := writer.NewInMemoryQueueWriter(4)

	ctx, rq, _ := testContext(now)
	in := pipeline.QueueEdge{ID: "in"}
	rq.Reset([]queue.ID{in.ID})
	q, _ := rq.Get(in.ID)
	r, err := row.NewRow(shape, map[row.ColumnName]row.SqlValue{"v": row.NewInt(row.Integer, 3)}, nil)
	require.NoError(t, err)
	q.Put(r)

	st := &SinkTask{TaskID: "sink:w", Writer: w, Input: in}
	delta, err := st.Run(ctx)
	require.NoError(t, err)
	require.True(t, delta.Ran)
	require.Equal(t, 1, delta.RowsOut)

	sr, ok := w.PopNonBlocking()
	require.True(t, ok)
	v, ok := sr.Get("v")
	require.True(t, ok)
	n, _ := v.AsInt64()
	require.Equal(t, int64(3), n)
}

func TestSinkTask_NoRowIsNotAnError(t *testing.T) {
	now := time.Now()
	w := writer.NewInMemoryQueueWriter(4)
	ctx, rq, _ := testContext(now)
	in := pipeline.QueueEdge{ID: "in"}
	rq.Reset([]queue.ID{in.ID})

	st := &SinkTask{TaskID: "sink:w", Writer: w, Input: in}
	delta, err := st.Run(ctx)
	require.NoError(t, err)
	require.False(t, delta.Ran)
}
