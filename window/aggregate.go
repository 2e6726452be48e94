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

// groupAccum holds one group's running mean, updated incrementally on every
// row placed into the pane: a running sum and count, with the mean undefined
// until count>0.
type groupAccum struct {
	sum   float64
	count int64
}

func (a *groupAccum) add(x float64) {
	a.sum += x
	a.count++
}

func (a *groupAccum) mean() (float64, bool) {
	if a.count == 0 {
		return 0, false
	}
	return a.sum / float64(a.count), true
}

// aggregatePane is one open pane: a set of per-group-key running means plus
// the original (unconverted) group-by column values, so the emitted tuple
// can carry them back out verbatim.
type aggregatePane struct {
	openAt, closeAt time.Time
	groups          map[string]*groupAccum
	groupValues     map[string]map[string]interface{}
}

func newAggregatePane(openAt, closeAt time.Time) *aggregatePane {
	return &aggregatePane{
		openAt:      openAt,
		closeAt:     closeAt,
		groups:      make(map[string]*groupAccum),
		groupValues: make(map[string]map[string]interface{}),
	}
}

// AggregateEngine is the pane set owned by a windowed, grouped pump. It
// implements queue.PaneSet so a queue.WindowQueue can hold it directly.
type AggregateEngine struct {
	mu sync.Mutex

	param       Parameter
	wm          *Watermark
	groupBy     []row.ColumnName
	inputField  row.ColumnName
	outputAlias string

	panes        map[time.Time]*aggregatePane
	minOpenAfter time.Time // open_at of the latest closed pane; panes at or before it have closed
	haveFloor    bool
}

// NewAggregateEngine creates an aggregate pane engine for one group-aggregate
// pump. inputField is the column averaged; outputAlias is the name the
// result is published under in the emitted Tuple.
func NewAggregateEngine(param Parameter, groupBy []row.ColumnName, inputField row.ColumnName, outputAlias string) *AggregateEngine {
	return &AggregateEngine{
		param:       param,
		wm:          NewWatermark(param.AllowedDelay, 0),
		groupBy:     groupBy,
		inputField:  inputField,
		outputAlias: outputAlias,
		panes:       make(map[time.Time]*aggregatePane),
	}
}

// Watermark returns the engine's watermark tracker. Dispatch calls Observe
// on it for every row it places; the owning queue.WindowQueue reads it
// through CurrentWatermark.
func (e *AggregateEngine) Watermark() *Watermark { return e.wm }

// CurrentWatermark adapts Watermark.Current to the `func() time.Time` shape
// queue.NewWindowQueue expects.
func (e *AggregateEngine) CurrentWatermark() time.Time { return e.wm.Current() }

func groupKey(r *row.Row, groupBy []row.ColumnName) (string, map[string]interface{}) {
	values := make(map[string]interface{}, len(groupBy))
	key := ""
	for _, name := range groupBy {
		v, _ := r.GetByName(name)
		values[string(name)] = v.Raw()
		key += fmt.Sprintf("%v\x1f", v.Raw())
	}
	return key, values
}

// Dispatch places r into every pane whose interval contains its rowtime,
// updating the relevant group's running mean, then closes and emits any
// panes whose close_at has fallen behind the current watermark. A row
// arriving for an already-closed pane is dropped silently.
func (e *AggregateEngine) Dispatch(r *row.Row, now time.Time) ([]*Tuple, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	opens := paneOpensFor(e.param, r.RowTime().Time())
	if len(opens) == 0 {
		return nil, fmt.Errorf("row produced no candidate pane for window parameter")
	}

	val, err := func() (float64, error) {
		v, ok := r.GetByName(e.inputField)
		if !ok {
			return 0, fmt.Errorf("column %q not present on row", e.inputField)
		}
		return v.AsFloat64()
	}()
	if err != nil {
		return nil, err
	}

	placed := 0
	for _, open := range opens {
		if e.haveFloor && !open.After(e.minOpenAfter) {
			continue // too late: this pane already closed
		}
		pane, ok := e.panes[open]
		if !ok {
			pane = newAggregatePane(open, open.Add(e.param.Length))
			e.panes[open] = pane
		}
		key, values := groupKey(r, e.groupBy)
		acc, ok := pane.groups[key]
		if !ok {
			acc = &groupAccum{}
			pane.groups[key] = acc
			pane.groupValues[key] = values
		}
		acc.add(val)
		placed++
	}

	wm := e.wm.Observe(r.RowTime().Time(), now)
	return e.closeReady(wm), nil
}

// closeReady closes and removes every pane whose close_at is no longer after
// the watermark, in ascending open_at order, emitting one Tuple per
// surviving group.
// Caller must hold e.mu.
func (e *AggregateEngine) closeReady(watermark time.Time) []*Tuple {
	var opens []time.Time
	for open, pane := range e.panes {
		if !pane.closeAt.After(watermark) {
			opens = append(opens, open)
		}
	}
	if len(opens) == 0 {
		return nil
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
		for key, acc := range pane.groups {
			mean, ok := acc.mean()
			if !ok {
				continue
			}
			fields := make(map[string]interface{}, len(pane.groupValues[key])+1)
			for k, v := range pane.groupValues[key] {
				fields[k] = v
			}
			fields[e.outputAlias] = mean
			tuples = append(tuples, &Tuple{Fields: fields, RowTime: pane.closeAt})
		}
	}
	return tuples
}

// groupAccumCost is the per-group byte estimate used by Bytes: one running
// mean plus its group-by value map entry. Aggregate panes fold rows into
// accumulators at dispatch, so the pane footprint scales with group count,
// not row count.
const groupAccumCost = 64

// Bytes implements queue.PaneSet: the byte estimate of all open pane state.
func (e *AggregateEngine) Bytes() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var groups int64
	for _, pane := range e.panes {
		groups += int64(len(pane.groups))
	}
	return groups * groupAccumCost
}

// Purge drops all pane state unconditionally, without emitting.
func (e *AggregateEngine) Purge() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.panes = make(map[time.Time]*aggregatePane)
	e.wm.Reset()
	e.haveFloor = false
}
