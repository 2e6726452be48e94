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
	"time"

	"github.com/rulego/streamcore/metrics"
	"github.com/rulego/streamcore/pipeline"
	"github.com/rulego/streamcore/queue"
)

// Context bundles the shared resources a task needs to run one cycle: the
// queue repositories it reads/writes, the metrics store it reports into, and
// a clock (overridable in tests; time.Now in production). Passing it as an
// explicit value keeps a Task a pure function of its wiring plus this
// Context.
type Context struct {
	Ctx          context.Context
	RowQueues    *queue.RowQueueRepository
	WindowQueues *queue.WindowQueueRepository
	Metrics      *metrics.PerformanceMetrics
	Now          func() time.Time
}

func (c *Context) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// MetricsDelta is what one task run cycle observed, reported into the
// Context's metrics store by the worker that invoked Run.
type MetricsDelta struct {
	RowsIn   int
	RowsOut  int
	Errors   int
	BytesIn  int64
	BytesOut int64
	Ran      bool // false when the cycle found no work
}

// Task is one node of the executed task graph: a
// SourceTask, PumpTask or SinkTask bound to its queue edges.
type Task interface {
	ID() pipeline.TaskID
	Run(ctx *Context) (MetricsDelta, error)
}

// reportQueueState copies a queue's live row/byte counts into the metrics
// store for every edge in ids. Shared by all three task kinds after Insert.
func reportQueueState(ctx *Context, edges []pipeline.QueueEdge) {
	for _, e := range edges {
		if e.Window {
			if q, ok := ctx.WindowQueues.Get(e.ID); ok {
				ctx.Metrics.SetQueueState(e.ID, q.Len(), q.Bytes())
			}
			continue
		}
		if q, ok := ctx.RowQueues.Get(e.ID); ok {
			ctx.Metrics.SetQueueState(e.ID, q.Len(), q.Bytes())
		}
	}
}
