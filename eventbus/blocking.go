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

package eventbus

import (
	"sync"
)

// Blocking is a pub/sub bus for coordination events where the publisher must
// know every subscriber has finished reacting before proceeding — worker
// setup at executor construction, and stop on executor shutdown.
// PublishBlocking is a WaitGroup barrier: it returns only once every
// subscriber registered at call time has returned from its handler.
type Blocking struct {
	mu          sync.RWMutex
	subscribers map[Tag][]Handler
}

// NewBlocking creates an empty blocking bus.
func NewBlocking() *Blocking {
	return &Blocking{subscribers: make(map[Tag][]Handler)}
}

// Subscribe registers handler for every event published with tag.
func (b *Blocking) Subscribe(tag Tag, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[tag] = append(b.subscribers[tag], handler)
}

// PublishBlocking stamps and dispatches payload to every tag subscriber
// concurrently, then waits for all of them to return before returning
// itself. It returns the first non-nil handler error encountered (if
// several handlers fail, one of them wins arbitrarily — callers needing
// every failure should have handlers report through a side channel).
func (b *Blocking) PublishBlocking(tag Tag, payload interface{}) error {
	evt := newEvent(tag, payload)

	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[tag]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(handlers))
	for _, h := range handlers {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h(evt); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		return err
	}
	return nil
}
