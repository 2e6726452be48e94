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

package window

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rulego/streamcore/row"
)

// Side identifies which input stream of a two-way join a row arrived on.
type Side int

const (
	LeftSide Side = iota
	RightSide
)

// JoinPredicate tests whether a left row and a right row satisfy a pump's ON
// condition. The pump task supplies this as a closure over a compiled
// expr.Expression evaluated against the two rows' merged columns, keeping
// this package free of a dependency on the expr package's compiler.
type JoinPredicate func(left, right *row.Row) (bool, error)

// joinPane buffers one pane's rows from both sides. No matching happens at
// dispatch time: the nested-loop join over every (left, right) pair runs
// when the pane closes, so a join pane emits nothing until its close_at
// falls behind the watermark.
type joinPane struct {
	openAt, closeAt time.Time
	left            []*row.Row
	right           []*row.Row
}

func newJoinPane(openAt, closeAt time.Time) *joinPane {
	return &joinPane{openAt: openAt, closeAt: closeAt}
}

// JoinEngine is the pane set owned by a windowed join pump. It implements
// queue.PaneSet.
type JoinEngine struct {
	mu sync.Mutex

	param     Parameter
	wm        *Watermark
	predicate JoinPredicate

	panes        map[time.Time]*joinPane
	minOpenAfter time.Time
	haveFloor    bool
	// retainedBytes tracks the byte estimate of every row currently buffered
	// in an open pane (a row placed into n overlapping sliding panes counts n
	// times, since each pane holds its own reference). Reported through
	// Bytes() into the owning window queue's footprint.
	retainedBytes int64
}

// NewJoinEngine creates a join pane engine for one windowed join pump.
func NewJoinEngine(param Parameter, predicate JoinPredicate) *JoinEngine {
	return &JoinEngine{
		param:     param,
		wm:        NewWatermark(param.AllowedDelay, 0),
		predicate: predicate,
		panes:     make(map[time.Time]*joinPane),
	}
}

// Watermark returns the engine's watermark tracker.
func (e *JoinEngine) Watermark() *Watermark { return e.wm }

// CurrentWatermark adapts Watermark.Current to the `func() time.Time` shape
// queue.NewWindowQueue expects.
func (e *JoinEngine) CurrentWatermark() time.Time { return e.wm.Current() }

// DispatchSide buffers r, arriving on side, into every pane whose interval
// contains its rowtime. Nothing is matched or emitted at dispatch time;
// panes whose close_at has fallen behind the watermark are then closed and
// their joined output is returned.
func (e *JoinEngine) DispatchSide(r *row.Row, side Side, now time.Time) ([]*Tuple, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	opens := paneOpensFor(e.param, r.RowTime().Time())
	if len(opens) == 0 {
		return nil, fmt.Errorf("row produced no candidate pane for window parameter")
	}

	for _, open := range opens {
		if e.haveFloor && !open.After(e.minOpenAfter) {
			continue // too late: this pane already closed
		}
		pane, ok := e.panes[open]
		if !ok {
			pane = newJoinPane(open, open.Add(e.param.Length))
			e.panes[open] = pane
		}
		e.retainedBytes += int64(r.MemSize())
		switch side {
		case LeftSide:
			pane.left = append(pane.left, r)
		case RightSide:
			pane.right = append(pane.right, r)
		}
	}

	wm := e.wm.Observe(r.RowTime().Time(), now)
	return e.closeReady(wm)
}

func mergeRows(left, right *row.Row) *Tuple {
	t := FromRow(left)
	mergeInto(t, FromRow(right), "right_")
	return t
}

// closeReady closes and removes every pane whose close_at is no longer after
// the watermark, in ascending open_at order, running the nested-loop join
// over each closed pane's buffers: every (left, right) pair satisfying the
// predicate emits one merged tuple, and a left row matching nothing emits
// one tuple with the right side's columns absent. Caller must hold e.mu.
func (e *JoinEngine) closeReady(watermark time.Time) ([]*Tuple, error) {
	var opens []time.Time
	for open, pane := range e.panes {
		if !pane.closeAt.After(watermark) {
			opens = append(opens, open)
		}
	}
	if len(opens) == 0 {
		return nil, nil
	}
	sort.Slice(opens, func(i, j int) bool { return opens[i].Before(opens[j]) })

	var tuples []*Tuple
	for _, open := range opens {
		pane := e.panes[open]
		delete(e.panes, open)
		if !e.haveFloor || pane.openAt.After(e.minOpenAfter) {
			e.minOpenAfter = pane.openAt
			e.haveFloor = true
		}
		for _, left := range pane.left {
			e.retainedBytes -= int64(left.MemSize())
			matched := false
			for _, right := range pane.right {
				ok, err := e.predicate(left, right)
				if err != nil {
					return tuples, err
				}
				if ok {
					matched = true
					tuples = append(tuples, mergeRows(left, right))
				}
			}
			if !matched {
				tuples = append(tuples, FromRow(left))
			}
		}
		for _, right := range pane.right {
			e.retainedBytes -= int64(right.MemSize())
		}
	}
	return tuples, nil
}

// Bytes implements queue.PaneSet: the byte estimate of every row still
// buffered in an open pane.
func (e *JoinEngine) Bytes() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retainedBytes
}

// Purge drops all pane state unconditionally, without emitting.
func (e *JoinEngine) Purge() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.panes = make(map[time.Time]*joinPane)
	e.wm.Reset()
	e.haveFloor = false
	e.retainedBytes = 0
}
