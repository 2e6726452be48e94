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

package executor

import (
	"sync"

	"github.com/rulego/streamcore/reader"
	"github.com/rulego/streamcore/writer"
)

// InMemoryRepository maps host-visible queue names to the in-memory reader
// and writer adapters bound to them.
// It is owned by one Executor and injected into the default reader/writer
// starters rather than living as a hidden module-level singleton.
type InMemoryRepository struct {
	mu      sync.RWMutex
	readers map[string]*reader.InMemoryQueueReader
	writers map[string]*writer.InMemoryQueueWriter
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		readers: make(map[string]*reader.InMemoryQueueReader),
		writers: make(map[string]*writer.InMemoryQueueWriter),
	}
}

// RegisterReader binds name to rd, replacing any previous binding.
func (r *InMemoryRepository) RegisterReader(name string, rd *reader.InMemoryQueueReader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[name] = rd
}

// RegisterWriter binds name to w, replacing any previous binding.
func (r *InMemoryRepository) RegisterWriter(name string, w *writer.InMemoryQueueWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writers[name] = w
}

// Reader looks up the reader bound to name.
func (r *InMemoryRepository) Reader(name string) (*reader.InMemoryQueueReader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rd, ok := r.readers[name]
	return rd, ok
}

// Writer looks up the writer bound to name.
func (r *InMemoryRepository) Writer(name string) (*writer.InMemoryQueueWriter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.writers[name]
	return w, ok
}

// Teardown closes and forgets every registered adapter.
func (r *InMemoryRepository) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rd := range r.readers {
		_ = rd.Close()
	}
	for _, w := range r.writers {
		_ = w.Close()
	}
	r.readers = make(map[string]*reader.InMemoryQueueReader)
	r.writers = make(map[string]*writer.InMemoryQueueWriter)
}
