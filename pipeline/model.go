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

// Package pipeline holds the versioned pipeline model (streams, pumps,
// source readers, sink writers) and derives the runnable task graph from it.
// This is the engine's command boundary: an externally compiled
// AlterPipeline batch is consumed here; SQL parsing and planning happen
// upstream.
package pipeline

import (
	"time"

	"github.com/rulego/streamcore/row"
)

// Opaque, pipeline-unique name types.
type (
	StreamName       string
	PumpName         string
	SourceReaderName string
	SinkWriterName   string
)

// ReaderType is one of the source reader kinds bound by CreateSourceReader.
type ReaderType int

const (
	NetServer ReaderType = iota
	NetClient
	InMemoryQueueReader
	CAN
)

// WriterType is one of the sink writer kinds bound by CreateSinkWriter.
type WriterType int

const (
	NetClientWriter WriterType = iota
	InMemoryQueueWriter
	HTTP1Client
)

// StreamModel is a stream's declared shape plus its role in the pipeline.
type StreamModel struct {
	Name  StreamName
	Shape *row.StreamShape
}

// SourceReaderModel binds a reader type + options to a source stream.
type SourceReaderModel struct {
	Name    SourceReaderName
	Type    ReaderType
	Options map[string]string
	Stream  StreamName
}

// SinkWriterModel binds a writer type + options to a sink stream.
type SinkWriterModel struct {
	Name    SinkWriterName
	Type    WriterType
	Options map[string]string
	Stream  StreamName
}

// AggregateFunc is the set of supported windowed aggregate functions.
// AVG is the only one implemented; others are reserved for a future
// pipeline-update-time validation pass.
type AggregateFunc int

const (
	AggNone AggregateFunc = iota
	AggAvg
)

// WindowKind distinguishes fixed from sliding window parameters.
type WindowKind int

const (
	WindowFixed WindowKind = iota
	WindowSliding
)

// WindowParameter is the FIXED/SLIDING WINDOW clause of a pump.
type WindowParameter struct {
	Kind         WindowKind
	Length       Duration
	Period       Duration // only meaningful for WindowSliding
	AllowedDelay Duration
}

// Duration is a nanosecond count kept as its own type in the pipeline
// models, distinct from time.Duration; callers convert via ToGo().
type Duration int64 // nanoseconds

// ToGo converts d to a time.Duration, for callers (the task graph executor,
// the window package) that construct window.Parameter values from a
// pipeline's WindowParameter.
func (d Duration) ToGo() time.Duration { return time.Duration(d) }

// JoinParameter is the LEFT OUTER JOIN ... ON clause of a pump.
type JoinParameter struct {
	RightStream StreamName
	// OnExpr is the boolean predicate source text, compiled once at
	// pipeline-update time by the expr package.
	OnExpr string
}

// AggregationField is one aggregate projected by a windowed pump: the
// output is named OutputAlias and computed by AggFunc over InputField.
type AggregationField struct {
	AggFunc     AggregateFunc
	InputField  row.ColumnName
	OutputAlias row.ColumnName
}

// ProjectionExpr is one item of a pump's SELECT list:
// an arbitrary scalar expression assigned to OutputField.
type ProjectionExpr struct {
	OutputField row.ColumnName
	Expr        string
}

// PumpModel is a stream-to-stream transform.
type PumpModel struct {
	Name          PumpName
	InputStream   StreamName
	OutputStream  StreamName
	Where         string // optional filter predicate source, empty means no filter
	GroupBy       []row.ColumnName
	Window        *WindowParameter // nil means no windowing
	Join          *JoinParameter   // nil means no join
	Aggregations  []AggregationField
	Projection    []ProjectionExpr
}

// IsWindowed reports whether the pump owns a window (aggregate or join).
func (p *PumpModel) IsWindowed() bool { return p.Window != nil }

// IsJoin reports whether the pump's window is a join window.
func (p *PumpModel) IsJoin() bool { return p.Window != nil && p.Join != nil }

// IsGroupAggregate reports whether the pump's window is a group-aggregate window.
func (p *PumpModel) IsGroupAggregate() bool { return p.Window != nil && p.Join == nil }
