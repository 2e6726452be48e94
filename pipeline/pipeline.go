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

package pipeline

import (
	"fmt"
	"sync"

	"github.com/rulego/streamcore/serr"
)

// Pipeline is the versioned set of streams, pumps, source readers and sink
// writers that make up a user-defined dataflow. Every mutation
// bumps Version; a pipeline compiles to exactly one task graph.
type Pipeline struct {
	mu sync.RWMutex

	version int

	streams map[StreamName]*StreamModel
	pumps   map[PumpName]*PumpModel
	readers map[SourceReaderName]*SourceReaderModel
	writers map[SinkWriterName]*SinkWriterModel
}

// New builds an empty pipeline at version 0.
func New() *Pipeline {
	return &Pipeline{
		streams: make(map[StreamName]*StreamModel),
		pumps:   make(map[PumpName]*PumpModel),
		readers: make(map[SourceReaderName]*SourceReaderModel),
		writers: make(map[SinkWriterName]*SinkWriterModel),
	}
}

// Version returns the pipeline's current version.
func (p *Pipeline) Version() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}

func (p *Pipeline) bump() { p.version++ }

// CreateStream registers a stream (source, internal or sink role is
// determined by whether a reader/writer later binds to it).
func (p *Pipeline) CreateStream(m *StreamModel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.streams[m.Name]; dup {
		return serr.New(serr.KindSQL, fmt.Sprintf("stream %q already exists", m.Name))
	}
	p.streams[m.Name] = m
	p.bump()
	return nil
}

// CreateSourceStream is an alias of CreateStream kept distinct to mirror the
// DDL surface; source/sink distinction is carried by reader/writer bindings.
func (p *Pipeline) CreateSourceStream(m *StreamModel) error { return p.CreateStream(m) }

// CreateSinkStream is an alias of CreateStream kept distinct to mirror the
// DDL surface.
func (p *Pipeline) CreateSinkStream(m *StreamModel) error { return p.CreateStream(m) }

// CreateSourceReader binds a reader to a source stream.
func (p *Pipeline) CreateSourceReader(m *SourceReaderModel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.readers[m.Name]; dup {
		return serr.New(serr.KindSQL, fmt.Sprintf("source reader %q already exists", m.Name))
	}
	if _, ok := p.streams[m.Stream]; !ok {
		return serr.New(serr.KindSQL, fmt.Sprintf("source reader %q references unknown stream %q", m.Name, m.Stream))
	}
	p.readers[m.Name] = m
	p.bump()
	return nil
}

// CreateSinkWriter binds a writer to a sink stream.
func (p *Pipeline) CreateSinkWriter(m *SinkWriterModel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.writers[m.Name]; dup {
		return serr.New(serr.KindSQL, fmt.Sprintf("sink writer %q already exists", m.Name))
	}
	if _, ok := p.streams[m.Stream]; !ok {
		return serr.New(serr.KindSQL, fmt.Sprintf("sink writer %q references unknown stream %q", m.Name, m.Stream))
	}
	p.writers[m.Name] = m
	p.bump()
	return nil
}

// CreatePump registers a stream-to-stream transform.
func (p *Pipeline) CreatePump(m *PumpModel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.pumps[m.Name]; dup {
		return serr.New(serr.KindSQL, fmt.Sprintf("pump %q already exists", m.Name))
	}
	if _, ok := p.streams[m.InputStream]; !ok {
		return serr.New(serr.KindSQL, fmt.Sprintf("pump %q references unknown input stream %q", m.Name, m.InputStream))
	}
	if _, ok := p.streams[m.OutputStream]; !ok {
		return serr.New(serr.KindSQL, fmt.Sprintf("pump %q references unknown output stream %q", m.Name, m.OutputStream))
	}
	if m.IsJoin() {
		if _, ok := p.streams[m.Join.RightStream]; !ok {
			return serr.New(serr.KindSQL, fmt.Sprintf("pump %q references unknown join stream %q", m.Name, m.Join.RightStream))
		}
	}
	p.pumps[m.Name] = m
	p.bump()
	return nil
}

// Snapshot returns a read-only, versioned copy of the pipeline's model maps
// suitable for deriving a task graph or for a worker's pipeline_derivatives
// reference.
type Snapshot struct {
	Version int
	Streams map[StreamName]*StreamModel
	Pumps   map[PumpName]*PumpModel
	Readers map[SourceReaderName]*SourceReaderModel
	Writers map[SinkWriterName]*SinkWriterModel
}

func (p *Pipeline) Snapshot() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := &Snapshot{
		Version: p.version,
		Streams: make(map[StreamName]*StreamModel, len(p.streams)),
		Pumps:   make(map[PumpName]*PumpModel, len(p.pumps)),
		Readers: make(map[SourceReaderName]*SourceReaderModel, len(p.readers)),
		Writers: make(map[SinkWriterName]*SinkWriterModel, len(p.writers)),
	}
	for k, v := range p.streams {
		s.Streams[k] = v
	}
	for k, v := range p.pumps {
		s.Pumps[k] = v
	}
	for k, v := range p.readers {
		s.Readers[k] = v
	}
	for k, v := range p.writers {
		s.Writers[k] = v
	}
	return s
}

// FromSnapshot rebuilds a Pipeline from a previously taken snapshot, used
// by the executor to roll back a partially applied AlterPipeline command so
// the previously-applied pipeline remains in effect.
func FromSnapshot(s *Snapshot) *Pipeline {
	p := New()
	p.version = s.Version
	for k, v := range s.Streams {
		p.streams[k] = v
	}
	for k, v := range s.Pumps {
		p.pumps[k] = v
	}
	for k, v := range s.Readers {
		p.readers[k] = v
	}
	for k, v := range s.Writers {
		p.writers[k] = v
	}
	return p
}

// AlterPipeline is the DDL command surface the engine consumes:
// an externally compiled batch of Create* operations to apply atomically.
type AlterPipeline struct {
	CreateSourceStreams []*StreamModel
	CreateStreams       []*StreamModel
	CreateSinkStreams   []*StreamModel
	CreateSourceReaders []*SourceReaderModel
	CreateSinkWriters   []*SinkWriterModel
	CreatePumps         []*PumpModel
}

// Apply runs every operation in cmd against p in the fixed order
// streams -> readers/writers -> pumps, so that name references resolve.
func (p *Pipeline) Apply(cmd *AlterPipeline) error {
	for _, m := range cmd.CreateSourceStreams {
		if err := p.CreateSourceStream(m); err != nil {
			return err
		}
	}
	for _, m := range cmd.CreateStreams {
		if err := p.CreateStream(m); err != nil {
			return err
		}
	}
	for _, m := range cmd.CreateSinkStreams {
		if err := p.CreateSinkStream(m); err != nil {
			return err
		}
	}
	for _, m := range cmd.CreateSourceReaders {
		if err := p.CreateSourceReader(m); err != nil {
			return err
		}
	}
	for _, m := range cmd.CreateSinkWriters {
		if err := p.CreateSinkWriter(m); err != nil {
			return err
		}
	}
	for _, m := range cmd.CreatePumps {
		if err := p.CreatePump(m); err != nil {
			return err
		}
	}
	return nil
}
