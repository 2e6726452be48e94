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

import "fmt"

// ColumnName is an opaque, pipeline-unique-per-stream column identifier.
type ColumnName string

// ColumnDef describes one column of a stream shape.
type ColumnDef struct {
	Name     ColumnName
	Type     SqlType
	Nullable bool
	// RowTime marks this column as the stream's ROWTIME source. At most one
	// column per shape may set this; a ROWTIME column must be Timestamp and
	// non-nullable.
	RowTime bool
}

// StreamShape is the ordered list of columns a stream's rows are bound to.
type StreamShape struct {
	Columns []ColumnDef
	// rowTimeIdx is -1 when the shape has no ROWTIME column (processing-time rows).
	rowTimeIdx int
	index      map[ColumnName]int
}

// NewStreamShape validates and builds a StreamShape.
func NewStreamShape(columns []ColumnDef) (*StreamShape, error) {
	s := &StreamShape{Columns: columns, rowTimeIdx: -1, index: make(map[ColumnName]int, len(columns))}
	for i, c := range columns {
		if _, dup := s.index[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column name %q", c.Name)
		}
		s.index[c.Name] = i
		if c.RowTime {
			if s.rowTimeIdx != -1 {
				return nil, fmt.Errorf("stream shape declares more than one ROWTIME column")
			}
			if c.Type != Timestamp {
				return nil, fmt.Errorf("ROWTIME column %q must be TIMESTAMP", c.Name)
			}
			if c.Nullable {
				return nil, fmt.Errorf("ROWTIME column %q must be NOT NULL", c.Name)
			}
			s.rowTimeIdx = i
		}
	}
	return s, nil
}

// HasRowTime reports whether the shape declares a ROWTIME column.
func (s *StreamShape) HasRowTime() bool { return s.rowTimeIdx != -1 }

// RowTimeColumn returns the ROWTIME column's name, if any.
func (s *StreamShape) RowTimeColumn() (ColumnName, bool) {
	if s.rowTimeIdx == -1 {
		return "", false
	}
	return s.Columns[s.rowTimeIdx].Name, true
}

// IndexOf resolves a column name to its position, used once at pipeline-update
// time to build FieldPointers.
func (s *StreamShape) IndexOf(name ColumnName) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// FieldPointer is a pre-resolved column reference: a column index into a
// specific StreamShape, resolved once at pipeline-update time rather than by
// name on every row.
type FieldPointer struct {
	Shape *StreamShape
	Index int
	Name  ColumnName
}

// ResolveField resolves name against shape into a FieldPointer.
func ResolveField(shape *StreamShape, name ColumnName) (FieldPointer, error) {
	idx, ok := shape.IndexOf(name)
	if !ok {
		return FieldPointer{}, fmt.Errorf("unknown column %q", name)
	}
	return FieldPointer{Shape: shape, Index: idx, Name: name}, nil
}
