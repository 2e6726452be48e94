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

// Package queue implements the row/window queue substrate: FIFOs of rows
// keyed by queue id, shared between one upstream and one downstream task.
// Queues are unbounded, mutex-guarded FIFOs — queue depth is bounded by the
// memory state machine rather than by a fixed capacity.
package queue

import (
	"sync"
	"sync/atomic"

	"github.com/rulego/streamcore/row"
)

// ID identifies a queue within the task graph.
type ID string

// RowQueue is an unbounded FIFO of rows. Multiple readers and
// writers are permitted; a single row is consumed at most once.
type RowQueue struct {
	mu        sync.Mutex
	rows      []*row.Row
	rowCount  int64 // atomic mirror of len(rows), for lock-free metrics reads
	byteCount int64
}

// NewRowQueue creates an empty row queue.
func NewRowQueue() *RowQueue {
	return &RowQueue{}
}

// Put appends row to the back of the queue.
func (q *RowQueue) Put(r *row.Row) {
	q.mu.Lock()
	q.rows = append(q.rows, r)
	q.mu.Unlock()
	atomic.AddInt64(&q.rowCount, 1)
	atomic.AddInt64(&q.byteCount, int64(r.MemSize()))
}

// Use pops and returns the front row, or (nil, false) if empty.
func (q *RowQueue) Use() (*row.Row, bool) {
	q.mu.Lock()
	if len(q.rows) == 0 {
		q.mu.Unlock()
		return nil, false
	}
	r := q.rows[0]
	q.rows[0] = nil
	q.rows = q.rows[1:]
	q.mu.Unlock()
	atomic.AddInt64(&q.rowCount, -1)
	atomic.AddInt64(&q.byteCount, -int64(r.MemSize()))
	return r, true
}

// Purge empties the queue without consuming its rows downstream.
func (q *RowQueue) Purge() {
	q.mu.Lock()
	q.rows = nil
	q.mu.Unlock()
	atomic.StoreInt64(&q.rowCount, 0)
	atomic.StoreInt64(&q.byteCount, 0)
}

// Len returns the current row count (lock-free read of the atomic mirror).
func (q *RowQueue) Len() int64 { return atomic.LoadInt64(&q.rowCount) }

// Bytes returns the current total byte estimate.
func (q *RowQueue) Bytes() int64 { return atomic.LoadInt64(&q.byteCount) }
