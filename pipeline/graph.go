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

package pipeline

import (
	"fmt"
	"sort"

	"github.com/rulego/streamcore/queue"
)

// TaskID identifies a task node in the derived task graph.
type TaskID string

// TaskKind distinguishes the three task roles.
type TaskKind int

const (
	TaskSource TaskKind = iota
	TaskPump
	TaskSink
)

// QueueEdge is a row or window queue connecting one upstream task's output
// to one downstream task's input for a specific stream.
type QueueEdge struct {
	ID       queue.ID
	Stream   StreamName
	Window   bool // true when this edge feeds a window queue rather than a row queue
	Upstream TaskID
}

// Task is one node of the task graph.
type Task struct {
	ID   TaskID
	Kind TaskKind

	// SourceReader is set for TaskSource.
	SourceReader SourceReaderName
	// SinkWriter is set for TaskSink.
	SinkWriter SinkWriterName
	// Pump is set for TaskPump.
	Pump PumpName

	// inputs maps the upstream stream name to the queue edge carrying it
	// (a pump with a join has two entries: its main input stream and its
	// join's right stream). Keyed so InputQueue stays O(1).
	inputs map[StreamName]QueueEdge
	// outputs is the list of queue edges fed by this task's output stream,
	// one per downstream consumer (fan-out), also O(1) to enumerate.
	outputs []QueueEdge
}

// InputQueue resolves the queue id connecting upstreamStream to this task.
func (t *Task) InputQueue(upstreamStream StreamName) (QueueEdge, bool) {
	e, ok := t.inputs[upstreamStream]
	return e, ok
}

// InputQueues returns every input edge of the task (in stable, sorted order).
func (t *Task) InputQueues() []QueueEdge {
	out := make([]QueueEdge, 0, len(t.inputs))
	for _, e := range t.inputs {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OutputQueues returns the task's output edges.
func (t *Task) OutputQueues() []QueueEdge { return t.outputs }

// TaskGraph is the immutable DAG derived from a pipeline snapshot: nodes
// are tasks, edges are queue ids.
type TaskGraph struct {
	Version int
	tasks   map[TaskID]*Task
	order   []TaskID // sources, then pumps, then sinks (see topoOrder)
}

// Task looks up a node by id.
func (g *TaskGraph) Task(id TaskID) (*Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// Tasks returns every task id in a stable order (sources first, then pumps,
// then sinks, each group sorted by id), used by schedulers that need
// deterministic iteration. Pumps are not ordered by dependency among
// themselves: a pump fed by another pump can come before it.
func (g *TaskGraph) Tasks() []TaskID {
	out := make([]TaskID, len(g.order))
	copy(out, g.order)
	return out
}

// SourceTaskID derives the task id for a source reader binding.
func SourceTaskID(name SourceReaderName) TaskID { return TaskID("source:" + name) }

// PumpTaskID derives the task id for a pump.
func PumpTaskID(name PumpName) TaskID { return TaskID("pump:" + name) }

// SinkTaskID derives the task id for a sink writer binding.
func SinkTaskID(name SinkWriterName) TaskID { return TaskID("sink:" + name) }

func queueID(upstream TaskID, downstream TaskID) queue.ID {
	return queue.ID(fmt.Sprintf("q:%s->%s", upstream, downstream))
}

// DeriveTaskGraph builds a TaskGraph from a pipeline snapshot by inverting
// the pipeline graph: streams become queue-bearing edges, readers/pumps/
// writers become task nodes.
func DeriveTaskGraph(snap *Snapshot) (*TaskGraph, error) {
	tasks := make(map[TaskID]*Task)

	getOrCreate := func(id TaskID, kind TaskKind) *Task {
		if t, ok := tasks[id]; ok {
			return t
		}
		t := &Task{ID: id, Kind: kind, inputs: make(map[StreamName]QueueEdge)}
		tasks[id] = t
		return t
	}

	// downstream consumers of a stream: (task id, whether that consumer is windowed, via which upstream stream role)
	type consumer struct {
		taskID   TaskID
		windowed bool
	}
	consumersOf := make(map[StreamName][]consumer)

	for _, pump := range snap.Pumps {
		pumpTaskID := PumpTaskID(pump.Name)
		getOrCreate(pumpTaskID, TaskPump).Pump = pump.Name
		consumersOf[pump.InputStream] = append(consumersOf[pump.InputStream], consumer{pumpTaskID, pump.IsWindowed()})
		if pump.IsJoin() {
			consumersOf[pump.Join.RightStream] = append(consumersOf[pump.Join.RightStream], consumer{pumpTaskID, true})
		}
	}
	for _, w := range snap.Writers {
		sinkTaskID := SinkTaskID(w.Name)
		getOrCreate(sinkTaskID, TaskSink).SinkWriter = w.Name
		consumersOf[w.Stream] = append(consumersOf[w.Stream], consumer{sinkTaskID, false})
	}

	// Wire source tasks.
	for _, r := range snap.Readers {
		srcTaskID := SourceTaskID(r.Name)
		srcTask := getOrCreate(srcTaskID, TaskSource)
		srcTask.SourceReader = r.Name
		for _, c := range consumersOf[r.Stream] {
			edge := QueueEdge{ID: queueID(srcTaskID, c.taskID), Stream: r.Stream, Window: c.windowed, Upstream: srcTaskID}
			srcTask.outputs = append(srcTask.outputs, edge)
			tasks[c.taskID].inputs[r.Stream] = edge
		}
	}

	// Wire pump output edges (a pump's output stream may feed other pumps
	// and/or sinks).
	for _, pump := range snap.Pumps {
		pumpTaskID := PumpTaskID(pump.Name)
		pumpTask := tasks[pumpTaskID]
		for _, c := range consumersOf[pump.OutputStream] {
			edge := QueueEdge{ID: queueID(pumpTaskID, c.taskID), Stream: pump.OutputStream, Window: c.windowed, Upstream: pumpTaskID}
			pumpTask.outputs = append(pumpTask.outputs, edge)
			tasks[c.taskID].inputs[pump.OutputStream] = edge
		}
	}

	g := &TaskGraph{Version: snap.Version, tasks: tasks}
	g.order = topoOrder(tasks)
	return g, nil
}

// topoOrder returns task ids ordered sources, then pumps, then sinks, each
// group sorted by id. This is a topological order only while no pump feeds
// another pump; chained pumps keep id order, not dependency order.
func topoOrder(tasks map[TaskID]*Task) []TaskID {
	var sources, pumps, sinks []TaskID
	for id, t := range tasks {
		switch t.Kind {
		case TaskSource:
			sources = append(sources, id)
		case TaskPump:
			pumps = append(pumps, id)
		case TaskSink:
			sinks = append(sinks, id)
		}
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	sort.Slice(pumps, func(i, j int) bool { return pumps[i] < pumps[j] })
	sort.Slice(sinks, func(i, j int) bool { return sinks[i] < sinks[j] })
	out := make([]TaskID, 0, len(sources)+len(pumps)+len(sinks))
	out = append(out, sources...)
	out = append(out, pumps...)
	out = append(out, sinks...)
	return out
}

// QueueIDs returns every row-queue id and window-queue id referenced by the
// graph, used to reset the queue repositories wholesale on pipeline update.
func (g *TaskGraph) QueueIDs() (rowQueues []queue.ID, windowQueues []queue.ID) {
	seen := make(map[queue.ID]bool)
	for _, t := range g.tasks {
		for _, e := range t.outputs {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			if e.Window {
				windowQueues = append(windowQueues, e.ID)
			} else {
				rowQueues = append(rowQueues, e.ID)
			}
		}
	}
	sort.Slice(rowQueues, func(i, j int) bool { return rowQueues[i] < rowQueues[j] })
	sort.Slice(windowQueues, func(i, j int) bool { return windowQueues[i] < windowQueues[j] })
	return rowQueues, windowQueues
}
