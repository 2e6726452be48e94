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
	"github.com/rulego/streamcore/pipeline"
	"github.com/rulego/streamcore/reader"
	"github.com/rulego/streamcore/row"
	"github.com/rulego/streamcore/serr"
)

// SourceTask drains one source reader binding and fans the decoded row out
// to every downstream queue edge.
type SourceTask struct {
	TaskID  pipeline.TaskID
	Reader  reader.Reader
	Shape   *row.StreamShape
	Outputs []pipeline.QueueEdge
}

func (t *SourceTask) ID() pipeline.TaskID { return t.TaskID }

// Run implements Task. One cycle reads at most one row.
func (t *SourceTask) Run(ctx *Context) (MetricsDelta, error) {
	sr, err := t.Reader.NextRow(ctx.Ctx)
	if err != nil {
		if serr.Is(err, serr.KindForeignSourceTimeout) {
			return MetricsDelta{}, nil // no row this cycle; not a failure
		}
		ctx.Metrics.RecordTaskRun(t.TaskID, 0, 0, 1, ctx.now().UnixNano())
		return MetricsDelta{Errors: 1, Ran: true}, err
	}

	r, err := sr.Bind(t.Shape)
	if err != nil {
		ctx.Metrics.RecordTaskRun(t.TaskID, 1, 0, 1, ctx.now().UnixNano())
		return MetricsDelta{RowsIn: 1, Errors: 1, Ran: true}, err
	}

	bytesOut := insertFanout(ctx, r, t.Outputs)
	reportQueueState(ctx, t.Outputs)

	ctx.Metrics.RecordTaskRun(t.TaskID, 1, len(t.Outputs), 0, ctx.now().UnixNano())

	return MetricsDelta{RowsIn: 1, RowsOut: len(t.Outputs), BytesOut: bytesOut, Ran: true}, nil
}

// insertFanout pushes r into every output edge, retaining the row's shared
// ownership for every consumer beyond the first. Returns the total bytes
// written across all edges, used for the task's gain metric.
func insertFanout(ctx *Context, r *row.Row, outputs []pipeline.QueueEdge) int64 {
	var bytesOut int64
	size := int64(r.MemSize())
	for i, edge := range outputs {
		rr := r
		if i > 0 {
			rr = r.Retain()
		}
		if edge.Window {
			if q, ok := ctx.WindowQueues.Get(edge.ID); ok {
				q.Put(rr)
				bytesOut += size
			}
			continue
		}
		if q, ok := ctx.RowQueues.Get(edge.ID); ok {
			q.Put(rr)
			bytesOut += size
		}
	}
	return bytesOut
}
