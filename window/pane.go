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
	"sort"
	"time"

	"github.com/rulego/streamcore/expr"
)

// Kind distinguishes fixed from sliding window parameters.
type Kind int

const (
	Fixed Kind = iota
	Sliding
)

// Parameter is a window's length/period/allowed-delay parameters.
type Parameter struct {
	Kind         Kind
	Length       time.Duration
	Period       time.Duration // meaningful for Sliding only
	AllowedDelay time.Duration
}

// paneOpensFor returns every pane-open time whose interval [open, open+length)
// contains t, per Parameter.Kind.
func paneOpensFor(param Parameter, t time.Time) []time.Time {
	switch param.Kind {
	case Fixed:
		return []time.Time{expr.FloorTime(t, param.Length)}
	case Sliding:
		period := param.Period
		if period <= 0 {
			period = param.Length
		}
		base := expr.FloorTime(t, period)
		var opens []time.Time
		count := int(param.Length/period) + 1
		for k := 0; k < count; k++ {
			open := base.Add(-time.Duration(k) * period)
			if !t.Before(open) && t.Before(open.Add(param.Length)) {
				opens = append(opens, open)
			}
		}
		return opens
	default:
		return nil
	}
}

// earliestOpen returns the smallest of opens, sorting the slice in place.
// The engines' too-late check does not use it: they compare a row's pane
// open times against the open_at of the most recently closed pane.
func earliestOpen(opens []time.Time) (time.Time, bool) {
	if len(opens) == 0 {
		return time.Time{}, false
	}
	sort.Slice(opens, func(i, j int) bool { return opens[i].Before(opens[j]) })
	return opens[0], true
}
