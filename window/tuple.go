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
	"time"

	"github.com/rulego/streamcore/row"
)

// Tuple is the generic unit the pump pipeline's projection stage evaluates
// against: either a single passed-through row's
// columns, a closed aggregate pane's group-by + aggregate-result columns, or
// a closed join pane's combined left/right columns. Field access is by
// column name, matching expr.RowEnv's shape for plain rows.
type Tuple struct {
	Fields  map[string]interface{}
	RowTime time.Time
}

// FromRow builds a Tuple for a simple (non-windowed) dispatched row.
func FromRow(r *row.Row) *Tuple {
	fields := make(map[string]interface{}, len(r.Shape().Columns))
	for i, c := range r.Shape().Columns {
		fields[string(c.Name)] = r.Values()[i].Raw()
	}
	return &Tuple{Fields: fields, RowTime: r.RowTime().Time()}
}

// mergeInto copies src's fields into dst, qualifying any name already present in
// dst under a "right_" prefix as well, so join predicates/projections can
// reach either side's value of a colliding column name.
func mergeInto(dst *Tuple, src *Tuple, qualifyPrefix string) {
	for k, v := range src.Fields {
		if _, collide := dst.Fields[k]; collide {
			dst.Fields[qualifyPrefix+k] = v
			continue
		}
		dst.Fields[k] = v
	}
}
