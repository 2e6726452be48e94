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
	"github.com/rulego/streamcore/row"
	"github.com/rulego/streamcore/writer"
)

// SinkTask drains its input queue into a bound sink writer. The row leaves
// the engine's shared-ownership model the moment it is converted to a
// SchemalessRow (row.FromRow), matching schemaless.go's doc comment on
// where ownership ends.
type SinkTask struct {
	TaskID pipeline.TaskID
	Writer writer.Writer
	Input  pipeline.QueueEdge
}

func (t *SinkTask) ID() pipeline.TaskID { return t.TaskID }

// Run implements Task: collect one row, convert and send.
func (t *SinkTask) Run(ctx *Context) (MetricsDelta, error) {
	r, ok := collectRow(ctx, t.Input)
	if !ok {
		return MetricsDelta{}, nil
	}

	sr := row.FromRow(r)
	if err := t.Writer.SendRow(sr); err != nil {
		ctx.Metrics.RecordTaskRun(t.TaskID, 1, 0, 1, ctx.now().UnixNano())
		return MetricsDelta{RowsIn: 1, BytesIn: int64(r.MemSize()), Errors: 1, Ran: true}, err
	}

	reportQueueState(ctx, []pipeline.QueueEdge{t.Input})
	ctx.Metrics.RecordTaskRun(t.TaskID, 1, 1, 0, ctx.now().UnixNano())

	return MetricsDelta{RowsIn: 1, RowsOut: 1, BytesIn: int64(r.MemSize()), Ran: true}, nil
}
