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

package row

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rulego/streamcore/serr"
)

// RowTime is the ordering key every stream row exposes uniformly, whether it
// came from a promoted ROWTIME column (event-time) or from the system clock
// at construction (processing-time).
type RowTime struct {
	t         time.Time
	eventTime bool
}

func (rt RowTime) Time() time.Time  { return rt.t }
func (rt RowTime) IsEventTime() bool { return rt.eventTime }
func (rt RowTime) Before(other RowTime) bool { return rt.t.Before(other.t) }
func (rt RowTime) After(other RowTime) bool  { return rt.t.After(other.t) }

// Row is an immutable, schema-bound stream row with shared ownership: many
// downstream queues may hold a reference to the same Row; the refcount
// exists so a future
// arena/pool implementation could reclaim a Row once every queue has
// consumed its copy, though the current queue implementation does not need
// to wait on it to behave correctly.
type Row struct {
	shape   *StreamShape
	values  []SqlValue
	rowTime RowTime
	refs    int32
}

// NewRow builds a stream row from shape and a column-name -> value mapping,
// enforcing the construction invariants: every non-null column must be
// present, every value must convert to its declared type, and nullability
// must hold. clock is used to stamp processing-time rows (nil means
// time.Now).
func NewRow(shape *StreamShape, values map[ColumnName]SqlValue, clock func() time.Time) (*Row, error) {
	if clock == nil {
		clock = time.Now
	}
	vals := make([]SqlValue, len(shape.Columns))
	for i, col := range shape.Columns {
		v, present := values[col.Name]
		if !present {
			if !col.Nullable {
				return nil, serr.New(serr.KindInvalidFormat, fmt.Sprintf("missing required column %q", col.Name))
			}
			vals[i] = Null(col.Type)
			continue
		}
		if v.IsNull() {
			if !col.Nullable {
				return nil, serr.New(serr.KindInvalidFormat, fmt.Sprintf("column %q is NOT NULL", col.Name))
			}
			vals[i] = Null(col.Type)
			continue
		}
		conv, err := v.ConvertTo(col.Type)
		if err != nil {
			return nil, serr.Wrap(serr.KindInvalidFormat, fmt.Sprintf("column %q", col.Name), err)
		}
		vals[i] = conv
	}

	var rt RowTime
	if idx, ok := shape.RowTimeColumn(); ok {
		rtVal := vals[mustIndex(shape, idx)]
		t, err := rtVal.AsTime()
		if err != nil {
			return nil, serr.Wrap(serr.KindInvalidFormat, "ROWTIME column", err)
		}
		rt = RowTime{t: t, eventTime: true}
	} else {
		rt = RowTime{t: clock().UTC(), eventTime: false}
	}

	return &Row{shape: shape, values: vals, rowTime: rt, refs: 1}, nil
}

func mustIndex(shape *StreamShape, name ColumnName) int {
	i, _ := shape.IndexOf(name)
	return i
}

// Shape returns the row's stream shape.
func (r *Row) Shape() *StreamShape { return r.shape }

// RowTime returns the row's ordering key.
func (r *Row) RowTime() RowTime { return r.rowTime }

// Get returns the value at a pre-resolved FieldPointer.
func (r *Row) Get(fp FieldPointer) SqlValue {
	return r.values[fp.Index]
}

// GetByName resolves and returns a column's value by name.
func (r *Row) GetByName(name ColumnName) (SqlValue, bool) {
	idx, ok := r.shape.IndexOf(name)
	if !ok {
		return SqlValue{}, false
	}
	return r.values[idx], true
}

// Values returns the row's column values in shape order. The slice must not
// be mutated — rows are immutable after construction.
func (r *Row) Values() []SqlValue { return r.values }

// MemSize sums the memory size of every column value.
func (r *Row) MemSize() int {
	total := 0
	for _, v := range r.values {
		total += v.MemSize()
	}
	return total
}

// Retain increments the shared-ownership refcount when the row is fanned out
// to another output queue without copying.
func (r *Row) Retain() *Row {
	atomic.AddInt32(&r.refs, 1)
	return r
}

// Release decrements the refcount. Returns true if this was the last
// reference.
func (r *Row) Release() bool {
	return atomic.AddInt32(&r.refs, -1) == 0
}

// RefCount returns the current shared-ownership count (diagnostic use only).
func (r *Row) RefCount() int32 { return atomic.LoadInt32(&r.refs) }
