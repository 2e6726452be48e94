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

import "github.com/rulego/streamcore/serr"

// SchemalessRow is the mapping column-name -> value used at I/O boundaries,
// before a source row is bound to a stream shape, or after a sink row has
// left the system.
type SchemalessRow map[ColumnName]SqlValue

// Bind converts a schemaless row into a schema-bound Row (source-side).
func (sr SchemalessRow) Bind(shape *StreamShape) (*Row, error) {
	return NewRow(shape, sr, nil)
}

// FromRow projects a bound Row back into a schemaless row (sink-side), the
// point at which the row leaves the system and its shared ownership ends.
func FromRow(r *Row) SchemalessRow {
	out := make(SchemalessRow, len(r.shape.Columns))
	for i, col := range r.shape.Columns {
		out[col.Name] = r.values[i]
	}
	return out
}

// Get returns a column's value and whether the column is present in the row.
func (sr SchemalessRow) Get(name ColumnName) (SqlValue, bool) {
	v, ok := sr[name]
	return v, ok
}

// RequireNotNull returns an error of KindNull if the named column is absent or NULL.
func (sr SchemalessRow) RequireNotNull(name ColumnName) (SqlValue, error) {
	v, ok := sr[name]
	if !ok || v.IsNull() {
		return SqlValue{}, serr.New(serr.KindNull, string(name)+" is NULL")
	}
	return v, nil
}
