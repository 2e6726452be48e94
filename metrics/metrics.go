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

// Package metrics implements the executor's performance metrics store:
// per-task and per-queue counters updated incrementally by workers as they
// run task cycles, and a periodic summary derivation that feeds the memory
// state machine. Counters live behind per-entry locks in an open map per
// task/queue, since the number of tasks and queues is only known once a
// pipeline has been applied.
package metrics

import (
	"sync"
	"time"

	"github.com/rulego/streamcore/pipeline"
	"github.com/rulego/streamcore/queue"
)

// TaskCounters are the per-task counters a task reports after every run
// cycle.
type TaskCounters struct {
	RowsIn      int64
	RowsOut     int64
	Errors      int64
	RunCycles   int64
	LastRunNano int64 // unix nanoseconds of the task's last completed cycle
	// GainBytesPerSec is the running average of bytes-gained-per-second this
	// task has contributed across its recent cycles, consumed by the
	// memory-reducing scheduler's loss function L(t). A negative value means
	// the task is a
	// net memory sink (it removes more bytes from its input queues than it
	// adds to its output queues).
	GainBytesPerSec float64
	// HasGainSample reports whether GainBytesPerSec has ever been updated;
	// until then the scheduler must not treat 0 as "no gain".
	HasGainSample bool
}

// QueueCounters are the per-queue counters derived from queue state after
// every cycle.
type QueueCounters struct {
	Rows  int64
	Bytes int64
}

type taskEntry struct {
	mu sync.Mutex
	TaskCounters
}

type queueEntry struct {
	mu sync.Mutex
	QueueCounters
}

// PerformanceMetrics is the executor-wide metrics store: one entry per task
// id and one per queue id, each independently locked so updates to
// unrelated tasks/queues never contend.
type PerformanceMetrics struct {
	mu      sync.RWMutex
	tasks   map[pipeline.TaskID]*taskEntry
	queues  map[queue.ID]*queueEntry
	version int64
}

// New creates an empty metrics store.
func New() *PerformanceMetrics {
	return &PerformanceMetrics{
		tasks:  make(map[pipeline.TaskID]*taskEntry),
		queues: make(map[queue.ID]*queueEntry),
	}
}

func (m *PerformanceMetrics) taskEntryFor(id pipeline.TaskID) *taskEntry {
	m.mu.RLock()
	e, ok := m.tasks[id]
	m.mu.RUnlock()
	if ok {
		return e
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.tasks[id]; ok {
		return e
	}
	e = &taskEntry{}
	m.tasks[id] = e
	return e
}

func (m *PerformanceMetrics) queueEntryFor(id queue.ID) *queueEntry {
	m.mu.RLock()
	e, ok := m.queues[id]
	m.mu.RUnlock()
	if ok {
		return e
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.queues[id]; ok {
		return e
	}
	e = &queueEntry{}
	m.queues[id] = e
	return e
}

// RecordTaskRun applies one task cycle's incremental delta. nowNano is the
// wall-clock time of the cycle's completion in unix nanoseconds.
func (m *PerformanceMetrics) RecordTaskRun(id pipeline.TaskID, rowsIn, rowsOut, errs int, nowNano int64) {
	e := m.taskEntryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.RowsIn += int64(rowsIn)
	e.RowsOut += int64(rowsOut)
	e.Errors += int64(errs)
	e.RunCycles++
	e.LastRunNano = nowNano
}

// gainEmaAlpha weights the most recent sample against the running average
// when updating task_gain_bytes_per_sec.
const gainEmaAlpha = 0.3

// RecordGain folds one cycle's observed byte gain (output bytes produced
// minus input bytes consumed, divided by the cycle's wall-clock duration)
// into id's running average.
func (m *PerformanceMetrics) RecordGain(id pipeline.TaskID, bytesDelta int64, elapsed time.Duration) {
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	sample := float64(bytesDelta) / elapsed.Seconds()
	e := m.taskEntryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.HasGainSample {
		e.GainBytesPerSec = sample
		e.HasGainSample = true
		return
	}
	e.GainBytesPerSec += gainEmaAlpha * (sample - e.GainBytesPerSec)
}

// TaskSnapshot returns a copy of id's current counters.
func (m *PerformanceMetrics) TaskSnapshot(id pipeline.TaskID) TaskCounters {
	e := m.taskEntryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.TaskCounters
}

// SetQueueState overwrites id's queue counters with its current size — queue
// counters are a live snapshot copied in, not an incremental delta, since
// queue size already lives authoritatively in the queue itself.
func (m *PerformanceMetrics) SetQueueState(id queue.ID, rows, bytes int64) {
	e := m.queueEntryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Rows = rows
	e.Bytes = bytes
}

// QueueSnapshot returns a copy of id's current queue counters.
func (m *PerformanceMetrics) QueueSnapshot(id queue.ID) QueueCounters {
	e := m.queueEntryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.QueueCounters
}

// Summary is the periodic roll-up published to the memory state machine
//: the total estimated byte footprint across every queue
// currently tracked.
type Summary struct {
	QueueTotalBytes int64
	QueueTotalRows  int64
}

// Summarize derives a Summary by walking every tracked queue's counters.
// This is the "periodic summary derivation" step the executor's monitor
// loop runs on a cadence independent of any single task's run cycle.
func (m *PerformanceMetrics) Summarize() Summary {
	m.mu.RLock()
	entries := make([]*queueEntry, 0, len(m.queues))
	for _, e := range m.queues {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var s Summary
	for _, e := range entries {
		e.mu.Lock()
		s.QueueTotalBytes += e.Bytes
		s.QueueTotalRows += e.Rows
		e.mu.Unlock()
	}
	return s
}

// Reset drops every tracked counter and bumps the metrics-store generation
// (used when a pipeline update replaces the task graph) — workers compare
// this generation against the MetricsVersion recorded in the derivatives
// they hold before running a cycle and skip a cycle
// rather than run against a task graph that no longer matches.
func (m *PerformanceMetrics) Reset() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = make(map[pipeline.TaskID]*taskEntry)
	m.queues = make(map[queue.ID]*queueEntry)
	m.version++
	return m.version
}

// Version returns the metrics store's current generation.
func (m *PerformanceMetrics) Version() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}
