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

// Package writer implements the sink writer contract ({start, send_row})
// plus the in-memory queue writer adapter and a JSON text-sink /
// blob-column binary-sink codec.
package writer

import (
	"encoding/json"
	"sync"

	"github.com/rulego/streamcore/row"
	"github.com/rulego/streamcore/serr"
)

// Writer is the capability set every sink writer implements.
type Writer interface {
	// SendRow hands a schemaless row to the writer. Fails with KindForeignIO
	// on transport failure.
	SendRow(sr row.SchemalessRow) error
	// Close releases any resources the writer holds.
	Close() error
}

// Starter builds a bound Writer from a SinkWriterModel's options.
type Starter func(options map[string]string) (Writer, error)

// EncodeJSONRow implements the JSON text-sink codec: a top-level object
// mapping column name to scalar value, timestamps rendered in the engine's
// fixed layout.
func EncodeJSONRow(sr row.SchemalessRow) ([]byte, error) {
	out := make(map[string]interface{}, len(sr))
	for name, v := range sr {
		if v.IsNull() {
			out[string(name)] = nil
			continue
		}
		if v.Type() == row.Timestamp {
			s, err := v.AsString()
			if err != nil {
				return nil, serr.Wrap(serr.KindForeignIO, "encode JSON sink row", err)
			}
			out[string(name)] = s
			continue
		}
		out[string(name)] = v.Raw()
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, serr.Wrap(serr.KindForeignIO, "encode JSON sink row", err)
	}
	return data, nil
}

// ExtractBlobColumn implements the binary-sink codec: a sink bound to a
// single Blob column sends that column's raw bytes directly rather than a
// JSON envelope.
func ExtractBlobColumn(sr row.SchemalessRow, column row.ColumnName) ([]byte, error) {
	v, ok := sr[column]
	if !ok || v.IsNull() {
		return nil, serr.New(serr.KindInvalidFormat, "blob column "+string(column)+" missing or NULL")
	}
	return v.AsBlob()
}

// InMemoryQueueWriter implements Writer by appending to a host-drained
// channel.
type InMemoryQueueWriter struct {
	mu     sync.Mutex
	ch     chan row.SchemalessRow
	closed bool
}

// NewInMemoryQueueWriter creates a writer backed by a buffered channel.
func NewInMemoryQueueWriter(bufSize int) *InMemoryQueueWriter {
	if bufSize <= 0 {
		bufSize = 4096
	}
	return &InMemoryQueueWriter{ch: make(chan row.SchemalessRow, bufSize)}
}

// SendRow implements Writer.
func (w *InMemoryQueueWriter) SendRow(sr row.SchemalessRow) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return serr.New(serr.KindForeignIO, "in-memory queue writer closed")
	}
	select {
	case w.ch <- sr:
		return nil
	default:
		return serr.New(serr.KindForeignIO, "in-memory queue writer buffer full")
	}
}

// Pop blocks until a row is available.
func (w *InMemoryQueueWriter) Pop() (row.SchemalessRow, bool) {
	sr, ok := <-w.ch
	return sr, ok
}

// PopNonBlocking returns immediately.
func (w *InMemoryQueueWriter) PopNonBlocking() (row.SchemalessRow, bool) {
	select {
	case sr, ok := <-w.ch:
		return sr, ok
	default:
		return nil, false
	}
}

// Close implements Writer.
func (w *InMemoryQueueWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
	return nil
}
