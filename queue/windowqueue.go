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

package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rulego/streamcore/row"
)

// PaneSet is the minimal handle a WindowQueue holds onto the pane state
// owned by its downstream pump task. The window package's engines
// implement this. Bytes reports the pane state's current retained byte
// estimate, so a window queue's footprint covers both rows awaiting
// dispatch and rows already dispatched into panes.
type PaneSet interface {
	Purge()
	Bytes() int64
}

// WindowQueue holds rows awaiting dispatch into window panes. Put appends
// unconditionally; Dispatch pops the next pending row in FIFO arrival order
// for the owning pump task to hand to its pane set. Lateness is handled by
// the pane set itself, not by an admission gate here: the watermark is
// advanced by observing each row's event time as it is dispatched, so
// gating dispatch on the watermark would be circular.
type WindowQueue struct {
	mu        sync.Mutex
	pending   []*row.Row
	panes     PaneSet
	watermark func() time.Time

	rowCount  int64
	byteCount int64
}

// NewWindowQueue creates a window queue bound to panes (the downstream
// pump's pane set) and a watermark accessor.
func NewWindowQueue(panes PaneSet, watermark func() time.Time) *WindowQueue {
	return &WindowQueue{panes: panes, watermark: watermark}
}

// Put appends a row to the pending FIFO.
func (q *WindowQueue) Put(r *row.Row) {
	q.mu.Lock()
	q.pending = append(q.pending, r)
	q.mu.Unlock()
	atomic.AddInt64(&q.rowCount, 1)
	atomic.AddInt64(&q.byteCount, int64(r.MemSize()))
}

// Dispatch pops the next pending row in FIFO order, or (nil, false) if the
// queue is empty.
func (q *WindowQueue) Dispatch() (*row.Row, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	front := q.pending[0]
	q.pending = q.pending[1:]
	atomic.AddInt64(&q.rowCount, -1)
	atomic.AddInt64(&q.byteCount, -int64(front.MemSize()))
	return front, true
}

// Watermark returns the queue's current watermark, as reported by its
// associated pane set — a read-only diagnostic/metrics accessor, not part
// of Dispatch's admission path.
func (q *WindowQueue) Watermark() time.Time { return q.watermark() }

// Purge empties the pending FIFO and drops all pane state.
func (q *WindowQueue) Purge() {
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
	atomic.StoreInt64(&q.rowCount, 0)
	atomic.StoreInt64(&q.byteCount, 0)
	if q.panes != nil {
		q.panes.Purge()
	}
}

// Len returns the count of rows still pending dispatch.
func (q *WindowQueue) Len() int64 { return atomic.LoadInt64(&q.rowCount) }

// Bytes returns the queue's current total byte estimate: rows pending
// dispatch plus rows the pane set still retains.
func (q *WindowQueue) Bytes() int64 {
	total := atomic.LoadInt64(&q.byteCount)
	if q.panes != nil {
		total += q.panes.Bytes()
	}
	return total
}
