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

// Package row implements the typed row/value model: SqlType, SqlValue,
// StreamShape-bound stream rows and schemaless I/O-boundary rows.
package row

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/cast"
)

// SqlType is one of the column types a stream shape may declare.
type SqlType int

const (
	SmallInt SqlType = iota
	Integer
	BigInt
	UnsignedInteger
	UnsignedBigInt
	Float
	Text
	Blob
	Boolean
	Timestamp
	Duration
)

func (t SqlType) String() string {
	switch t {
	case SmallInt:
		return "SMALLINT"
	case Integer:
		return "INTEGER"
	case BigInt:
		return "BIGINT"
	case UnsignedInteger:
		return "UNSIGNED INTEGER"
	case UnsignedBigInt:
		return "UNSIGNED BIGINT"
	case Float:
		return "FLOAT"
	case Text:
		return "TEXT"
	case Blob:
		return "BLOB"
	case Boolean:
		return "BOOLEAN"
	case Timestamp:
		return "TIMESTAMP"
	case Duration:
		return "DURATION"
	default:
		return "UNKNOWN"
	}
}

// TimestampLayout is the RFC-3339-like layout SqlValue timestamps parse and
// format with, carrying nanosecond precision.
const TimestampLayout = "2006-01-02 15:04:05.000000000"

// SqlValue is a tagged union: Null, or NotNull holding exactly one of the
// primitive Go representations below.
type SqlValue struct {
	null bool
	typ  SqlType
	v    interface{} // int64, uint64, float64, string, []byte, bool, time.Time, time.Duration
}

// Null constructs the NULL value of the given declared type.
func Null(t SqlType) SqlValue { return SqlValue{null: true, typ: t} }

// IsNull reports whether the value is NULL.
func (v SqlValue) IsNull() bool { return v.null }

// Type returns the value's SqlType.
func (v SqlValue) Type() SqlType { return v.typ }

func NewInt(t SqlType, n int64) SqlValue    { return SqlValue{typ: t, v: n} }
func NewUint(t SqlType, n uint64) SqlValue  { return SqlValue{typ: t, v: n} }
func NewFloat(f float64) SqlValue           { return SqlValue{typ: Float, v: f} }
func NewText(s string) SqlValue             { return SqlValue{typ: Text, v: s} }
func NewBlob(b []byte) SqlValue             { return SqlValue{typ: Blob, v: append([]byte(nil), b...)} }
func NewBool(b bool) SqlValue               { return SqlValue{typ: Boolean, v: b} }
func NewTimestamp(t time.Time) SqlValue     { return SqlValue{typ: Timestamp, v: t.UTC()} }
func NewDuration(d time.Duration) SqlValue  { return SqlValue{typ: Duration, v: d} }

// ParseTimestamp parses the engine's RFC-3339-like timestamp layout into a
// SqlValue.
func ParseTimestamp(s string) (SqlValue, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		// tolerate shorter fractional precision, a common wire variant
		if t2, err2 := time.Parse("2006-01-02 15:04:05", s); err2 == nil {
			return NewTimestamp(t2), nil
		}
		return SqlValue{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return NewTimestamp(t), nil
}

// AsFloat64 converts the value to float64, rounding integer<->float
// conversions toward +infinity. Returns an InvalidFormat-class
// error (via the err return) when the value cannot be converted.
func (v SqlValue) AsFloat64() (float64, error) {
	if v.null {
		return 0, fmt.Errorf("cannot convert NULL to float64")
	}
	switch x := v.v.(type) {
	case float64:
		return x, nil
	default:
		return cast.ToFloat64E(v.v)
	}
}

// AsInt64 converts the value to int64. Float values round toward +infinity
// (ceil); out-of-range narrowing fails.
func (v SqlValue) AsInt64() (int64, error) {
	if v.null {
		return 0, fmt.Errorf("cannot convert NULL to int64")
	}
	if f, ok := v.v.(float64); ok {
		if math.IsNaN(f) {
			return 0, fmt.Errorf("cannot convert NaN to int64")
		}
		return int64(math.Ceil(f)), nil
	}
	return cast.ToInt64E(v.v)
}

// AsString renders the value as text (used for JSON/text sink encoding).
func (v SqlValue) AsString() (string, error) {
	if v.null {
		return "", fmt.Errorf("cannot convert NULL to string")
	}
	if t, ok := v.v.(time.Time); ok {
		return t.Format(TimestampLayout), nil
	}
	return cast.ToStringE(v.v)
}

// AsTime converts the value to a time.Time; fails for non-Timestamp values.
func (v SqlValue) AsTime() (time.Time, error) {
	if v.null {
		return time.Time{}, fmt.Errorf("cannot convert NULL to timestamp")
	}
	if t, ok := v.v.(time.Time); ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("value of type %s is not a timestamp", v.typ)
}

// AsBlob returns the raw bytes of a Blob value.
func (v SqlValue) AsBlob() ([]byte, error) {
	if v.null {
		return nil, fmt.Errorf("cannot convert NULL to blob")
	}
	if b, ok := v.v.([]byte); ok {
		return b, nil
	}
	return nil, fmt.Errorf("value of type %s is not a blob", v.typ)
}

// AsBool converts the value to bool.
func (v SqlValue) AsBool() (bool, error) {
	if v.null {
		return false, fmt.Errorf("cannot convert NULL to bool")
	}
	if b, ok := v.v.(bool); ok {
		return b, nil
	}
	return cast.ToBoolE(v.v)
}

// Raw exposes the underlying Go representation for expression evaluation
// (handed to expr-lang/expr environments as plain Go values).
func (v SqlValue) Raw() interface{} {
	if v.null {
		return nil
	}
	return v.v
}

// MemSize estimates the heap footprint of the value in bytes,
// used to publish queue byte metrics.
func (v SqlValue) MemSize() int {
	const fixedCost = 16 // tag + alignment overhead, same order of magnitude for every scalar kind
	if v.null {
		return fixedCost
	}
	switch x := v.v.(type) {
	case string:
		return fixedCost + len(x)
	case []byte:
		return fixedCost + len(x)
	case time.Time:
		return fixedCost + 8
	case time.Duration:
		return fixedCost + 8
	default:
		return fixedCost + 8
	}
}

// ConvertTo converts v to the declared column type t, applying the widening/
// narrowing rules. Returns a serr-class error (InvalidFormat)
// encoded as a plain error; callers wrap with the appropriate Kind.
func (v SqlValue) ConvertTo(t SqlType) (SqlValue, error) {
	if v.null {
		return Null(t), nil
	}
	if v.typ == t {
		return v, nil
	}
	switch t {
	case SmallInt, Integer, BigInt, UnsignedInteger, UnsignedBigInt:
		n, err := v.AsInt64()
		if err != nil {
			return SqlValue{}, err
		}
		if err := checkIntRange(t, n); err != nil {
			return SqlValue{}, err
		}
		return NewInt(t, n), nil
	case Float:
		f, err := v.AsFloat64()
		if err != nil {
			return SqlValue{}, err
		}
		return NewFloat(f), nil
	case Text:
		s, err := v.AsString()
		if err != nil {
			return SqlValue{}, err
		}
		return NewText(s), nil
	case Boolean:
		b, err := v.AsBool()
		if err != nil {
			return SqlValue{}, err
		}
		return NewBool(b), nil
	case Timestamp:
		tm, err := v.AsTime()
		if err != nil {
			return SqlValue{}, err
		}
		return NewTimestamp(tm), nil
	default:
		return SqlValue{}, fmt.Errorf("no conversion from %s to %s", v.typ, t)
	}
}

func checkIntRange(t SqlType, n int64) error {
	switch t {
	case SmallInt:
		if n < math.MinInt16 || n > math.MaxInt16 {
			return fmt.Errorf("value %d out of range for SMALLINT", n)
		}
	case Integer:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return fmt.Errorf("value %d out of range for INTEGER", n)
		}
	case UnsignedInteger:
		if n < 0 || n > math.MaxUint32 {
			return fmt.Errorf("value %d out of range for UNSIGNED INTEGER", n)
		}
	case UnsignedBigInt:
		if n < 0 {
			return fmt.Errorf("value %d out of range for UNSIGNED BIGINT", n)
		}
	}
	return nil
}
