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

// Package scheduler implements the swappable task-ordering disciplines the
// executor chooses between on every memory-state transition: a
// flow-efficient discipline favoring throughput along the
// collector-to-stopper path, and a memory-reducing discipline favoring
// whichever task drains the most queued memory next. All are stateless
// strategy objects over an immutable task graph and a metrics snapshot, so
// a swap needs no state migration.
package scheduler

import (
	"math"
	"sort"

	"github.com/rulego/streamcore/metrics"
	"github.com/rulego/streamcore/pipeline"
)

// MaxTaskSeries bounds the number of task ids any single Schedule call may
// return.
const MaxTaskSeries = 20

// Strategy is a swappable task-scheduling discipline.
type Strategy interface {
	// Name returns the strategy's identifier, for logging/diagnostics.
	Name() string
	// Schedule returns the ordered series of task ids to run this cycle,
	// never longer than MaxTaskSeries.
	Schedule(g *pipeline.TaskGraph, m *metrics.PerformanceMetrics) []pipeline.TaskID
}

// SourceScheduler is used standalone by source worker pools: it returns
// every source task in the graph, capped to MaxTaskSeries.
type SourceScheduler struct{}

// NewSourceScheduler creates a SourceScheduler.
func NewSourceScheduler() *SourceScheduler { return &SourceScheduler{} }

func (s *SourceScheduler) Name() string { return "source" }

func (s *SourceScheduler) Schedule(g *pipeline.TaskGraph, _ *metrics.PerformanceMetrics) []pipeline.TaskID {
	var sources []pipeline.TaskID
	for _, id := range g.Tasks() {
		t, ok := g.Task(id)
		if ok && t.Kind == pipeline.TaskSource {
			sources = append(sources, id)
		}
	}
	return capSeries(sources)
}

func capSeries(ids []pipeline.TaskID) []pipeline.TaskID {
	if len(ids) > MaxTaskSeries {
		return ids[:MaxTaskSeries]
	}
	return ids
}

// inputRows sums the metrics-reported row counts across every input edge of
// id, used by both generic disciplines to recognize a task whose execution
// would be a no-op.
func inputRows(g *pipeline.TaskGraph, m *metrics.PerformanceMetrics, id pipeline.TaskID) int64 {
	t, ok := g.Task(id)
	if !ok || m == nil {
		return 0
	}
	var total int64
	for _, edge := range t.InputQueues() {
		total += m.QueueSnapshot(edge.ID).Rows
	}
	return total
}

// FlowEfficientScheduler orders non-source tasks in TaskGraph.Tasks order —
// pumps before sinks — so a row admitted this cycle has the best chance of
// reaching a sink in the same cycle. Pumps keep id order among themselves,
// so a pump fed by another pump can be scheduled before the pump feeding
// it. Each returned slot is an executable task
// with a non-empty input queue; a starved task is skipped rather than
// scheduled as a no-op.
type FlowEfficientScheduler struct{}

// NewFlowEfficientScheduler creates a FlowEfficientScheduler.
func NewFlowEfficientScheduler() *FlowEfficientScheduler { return &FlowEfficientScheduler{} }

func (s *FlowEfficientScheduler) Name() string { return "flow-efficient" }

func (s *FlowEfficientScheduler) Schedule(g *pipeline.TaskGraph, m *metrics.PerformanceMetrics) []pipeline.TaskID {
	var out []pipeline.TaskID
	for _, id := range g.Tasks() {
		t, ok := g.Task(id)
		if !ok || t.Kind == pipeline.TaskSource {
			continue
		}
		if inputRows(g, m, id) == 0 {
			continue
		}
		out = append(out, id)
	}
	return capSeries(out)
}

// MemoryReducingScheduler orders non-source tasks by a loss function: +Inf
// for a task with no input rows (running it would be a no-op), else
// task_gain_bytes_per_sec(t) — a large negative value (a task
// that removes far more bytes from its queues than it adds) sorts first.
// Candidates are then appended to the series up to
// min(input_rows, remaining_series_capacity) copies each, so a strong
// memory sink gets multiple turns in one series while upstream producers
// whose positive gain feeds it still get a turn if capacity remains.
type MemoryReducingScheduler struct{}

// NewMemoryReducingScheduler creates a MemoryReducingScheduler.
func NewMemoryReducingScheduler() *MemoryReducingScheduler { return &MemoryReducingScheduler{} }

func (s *MemoryReducingScheduler) Name() string { return "memory-reducing" }

func (s *MemoryReducingScheduler) Schedule(g *pipeline.TaskGraph, m *metrics.PerformanceMetrics) []pipeline.TaskID {
	order := g.Tasks()
	topoIndex := make(map[pipeline.TaskID]int, len(order))
	var candidates []pipeline.TaskID
	for i, id := range order {
		topoIndex[id] = i
		t, ok := g.Task(id)
		if ok && t.Kind != pipeline.TaskSource {
			candidates = append(candidates, id)
		}
	}

	loss := func(id pipeline.TaskID) float64 {
		if inputRows(g, m, id) == 0 {
			return math.Inf(1)
		}
		if m == nil {
			return 0
		}
		snap := m.TaskSnapshot(id)
		if !snap.HasGainSample {
			return 0 // never run yet: treat as neutral, not a preferred memory sink
		}
		return snap.GainBytesPerSec
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		li, lj := loss(candidates[i]), loss(candidates[j])
		if li != lj {
			return li < lj
		}
		return topoIndex[candidates[i]] < topoIndex[candidates[j]]
	})

	var series []pipeline.TaskID
	for _, id := range candidates {
		if len(series) >= MaxTaskSeries {
			break
		}
		remaining := MaxTaskSeries - len(series)
		rows := inputRows(g, m, id)
		if rows <= 0 || math.IsInf(loss(id), 1) {
			continue
		}
		copies := int(rows)
		if copies > remaining {
			copies = remaining
		}
		for k := 0; k < copies; k++ {
			series = append(series, id)
		}
	}
	return series
}
