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

// Package reader implements the source reader contract ({start, next_row})
// plus the one concrete adapter the engine ships with — the in-memory queue
// reader (push/pop/pop_non_blocking) — and thin JSON/CAN decode helpers
// behind the same contract. Net/CAN transports themselves are supplied by
// the host; only their wire-format codecs are implemented here, ready to be
// driven by a real transport.
package reader

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/rulego/streamcore/row"
	"github.com/rulego/streamcore/serr"
)

// Reader is the capability set every source reader implements.
// Distinguished from Starter only by convention — Start is called once by
// the executor when a SourceReaderModel is bound, NextRow is then called
// repeatedly by the source task's run cycle.
type Reader interface {
	// NextRow blocks up to the reader's configured read timeout for the next
	// schemaless row. Returns a KindForeignSourceTimeout error (retryable)
	// if nothing arrived in time, or KindForeignIO on transport/parse
	// failure.
	NextRow(ctx context.Context) (row.SchemalessRow, error)
	// Close releases any resources the reader holds.
	Close() error
}

// Starter builds a bound Reader from a SourceReaderModel's options. Each
// reader Type (NET_SERVER, NET_CLIENT, IN_MEMORY_QUEUE, CAN) registers one
// of these.
type Starter func(options map[string]string) (Reader, error)

// DecodeJSONRow implements the JSON source row codec contract:
// a top-level object mapping column name to scalar value. Unknown extra
// keys are ignored; shape-required columns absent from the object are left
// out of the returned SchemalessRow (row.NewRow/Bind will then reject a
// missing NOT NULL column with InvalidFormat).
func DecodeJSONRow(shape *row.StreamShape, data []byte) (row.SchemalessRow, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, serr.Wrap(serr.KindInvalidFormat, "decode JSON source row", err)
	}
	out := make(row.SchemalessRow, len(shape.Columns))
	for _, col := range shape.Columns {
		v, ok := raw[string(col.Name)]
		if !ok {
			continue
		}
		sv, err := jsonValueToSqlValue(col.Type, v)
		if err != nil {
			return nil, serr.Wrap(serr.KindInvalidFormat, "column "+string(col.Name), err)
		}
		out[col.Name] = sv
	}
	return out, nil
}

func jsonValueToSqlValue(t row.SqlType, v interface{}) (row.SqlValue, error) {
	if v == nil {
		return row.Null(t), nil
	}
	switch t {
	case row.Timestamp:
		s, ok := v.(string)
		if !ok {
			return row.SqlValue{}, serr.New(serr.KindInvalidFormat, "expected timestamp string")
		}
		return row.ParseTimestamp(s)
	case row.Text:
		s, ok := v.(string)
		if !ok {
			return row.SqlValue{}, serr.New(serr.KindInvalidFormat, "expected string")
		}
		return row.NewText(s), nil
	case row.Boolean:
		b, ok := v.(bool)
		if !ok {
			return row.SqlValue{}, serr.New(serr.KindInvalidFormat, "expected bool")
		}
		return row.NewBool(b), nil
	case row.Float:
		f, ok := v.(float64)
		if !ok {
			return row.SqlValue{}, serr.New(serr.KindInvalidFormat, "expected number")
		}
		return row.NewFloat(f), nil
	case row.SmallInt, row.Integer, row.BigInt, row.UnsignedInteger, row.UnsignedBigInt:
		f, ok := v.(float64) // encoding/json decodes all JSON numbers as float64
		if !ok {
			return row.SqlValue{}, serr.New(serr.KindInvalidFormat, "expected number")
		}
		return row.NewInt(t, int64(f)), nil
	case row.Blob:
		s, ok := v.(string)
		if !ok {
			return row.SqlValue{}, serr.New(serr.KindInvalidFormat, "expected base64 string for blob")
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return row.SqlValue{}, serr.Wrap(serr.KindInvalidFormat, "decode base64 blob", err)
		}
		return row.NewBlob(b), nil
	default:
		return row.SqlValue{}, serr.New(serr.KindInvalidFormat, "unsupported column type for JSON decode")
	}
}

// CANShape is the fixed shape every CAN source row binds to.
func CANShape() (*row.StreamShape, error) {
	return row.NewStreamShape([]row.ColumnDef{
		{Name: "can_id", Type: row.UnsignedInteger},
		{Name: "can_data", Type: row.Blob},
	})
}

// DecodeCANFrame builds a schemaless row from a raw CAN frame. errFrame
// signals a transport-reported error frame, which fails with KindForeignIO
// (error frames yield ForeignIo).
func DecodeCANFrame(canID uint32, data []byte, errFrame bool) (row.SchemalessRow, error) {
	if errFrame {
		return nil, serr.New(serr.KindForeignIO, "CAN error frame")
	}
	return row.SchemalessRow{
		"can_id":   row.NewUint(row.UnsignedInteger, uint64(canID)),
		"can_data": row.NewBlob(data),
	}, nil
}

// InMemoryQueueReader implements Reader by draining a host-pushed channel.
// It is the one source/sink kind fully in scope
// for this engine.
type InMemoryQueueReader struct {
	ch     chan row.SchemalessRow
	closed chan struct{}
	once   sync.Once
}

// NewInMemoryQueueReader creates a reader backed by a buffered channel of
// the given capacity (0 means unbounded blocking push is approximated with
// a generously sized buffer, since Push must never block the host).
func NewInMemoryQueueReader(bufSize int) *InMemoryQueueReader {
	if bufSize <= 0 {
		bufSize = 4096
	}
	return &InMemoryQueueReader{ch: make(chan row.SchemalessRow, bufSize), closed: make(chan struct{})}
}

// Push enqueues a row for this reader to later return from NextRow. Never
// blocks: if the internal buffer is full the row is dropped.
func (r *InMemoryQueueReader) Push(sr row.SchemalessRow) {
	select {
	case r.ch <- sr:
	default:
	}
}

// NextRow implements Reader.
func (r *InMemoryQueueReader) NextRow(ctx context.Context) (row.SchemalessRow, error) {
	select {
	case sr := <-r.ch:
		return sr, nil
	case <-r.closed:
		return nil, serr.New(serr.KindForeignIO, "in-memory queue reader closed")
	case <-ctx.Done():
		return nil, serr.New(serr.KindForeignSourceTimeout, "in-memory queue read timeout")
	}
}

// Close implements Reader.
func (r *InMemoryQueueReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}
