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

// Package eventbus implements the two coordination buses the autonomous
// executor's components publish onto: a non-blocking bus for high-frequency
// metrics/pipeline-update fan-out, and a blocking bus for setup/stop
// barrier coordination where the publisher must know every subscriber has
// acted before proceeding. On the non-blocking bus every subscriber owns an
// unbounded delivery queue drained by its own goroutine, so Publish returns
// immediately, never drops an event, and a slow subscriber only delays
// itself.
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Tag identifies an event's kind.
type Tag int

const (
	UpdatePipeline Tag = iota
	UpdatePerformanceMetrics
	IncrementalUpdateMetrics
	ReportMetricsSummary
	TransitMemoryState
	// Setup and Stop are published on the blocking bus only: Setup barriers
	// the executor's constructor until every worker has registered itself,
	// Stop barriers shutdown until every worker has exited its loop.
	Setup
	Stop
)

func (t Tag) String() string {
	switch t {
	case UpdatePipeline:
		return "UpdatePipeline"
	case UpdatePerformanceMetrics:
		return "UpdatePerformanceMetrics"
	case IncrementalUpdateMetrics:
		return "IncrementalUpdateMetrics"
	case ReportMetricsSummary:
		return "ReportMetricsSummary"
	case TransitMemoryState:
		return "TransitMemoryState"
	case Setup:
		return "Setup"
	case Stop:
		return "Stop"
	default:
		return "Unknown"
	}
}

// Event is one message published onto a bus. ID is stamped at publish time
// so subscribers and logs can correlate a single event across handlers.
// Payloads are shared by reference across subscribers; they must be treated
// as immutable.
type Event struct {
	ID      string
	Tag     Tag
	Payload interface{}
}

func newEvent(tag Tag, payload interface{}) Event {
	return Event{ID: uuid.NewString(), Tag: tag, Payload: payload}
}

// Handler receives one event. A non-blocking bus discards a handler error;
// a blocking bus's Publish returns the first handler error it observes so
// the publisher can decide whether setup/stop failed.
type Handler func(Event) error

// subscription is one subscriber's delivery lane: an unbounded FIFO guarded
// by a mutex/cond pair, drained in order by a dedicated goroutine that runs
// the handler. Publish appends and returns; it never blocks on the handler
// and never sheds an event.
type subscription struct {
	handler Handler

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
}

func newSubscription(handler Handler) *subscription {
	s := &subscription{handler: handler}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscription) deliver(evt Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, evt)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

// run drains the queue until the subscription is closed and empty.
func (s *subscription) run(done func()) {
	defer done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		evt := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()
		_ = s.handler(evt)
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}

// NonBlocking is a pub/sub bus for high-frequency events (metrics updates,
// pipeline-update notifications) where publishers must never wait on
// subscribers. Each subscriber receives events in publish order; ordering
// across subscribers is not coordinated.
type NonBlocking struct {
	mu          sync.RWMutex
	subscribers map[Tag][]*subscription
	closed      bool
	wg          sync.WaitGroup

	published int64
}

// NewNonBlocking creates an empty non-blocking bus.
func NewNonBlocking() *NonBlocking {
	return &NonBlocking{subscribers: make(map[Tag][]*subscription)}
}

// Subscribe registers handler for every event published with tag, starting
// its delivery goroutine. Subscribing to a closed bus is a no-op.
func (b *NonBlocking) Subscribe(tag Tag, handler Handler) {
	sub := newSubscription(handler)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.subscribers[tag] = append(b.subscribers[tag], sub)
	b.wg.Add(1)
	b.mu.Unlock()
	go sub.run(b.wg.Done)
}

// Publish stamps payload as an Event and appends it to every tag
// subscriber's delivery queue, returning immediately. No event is ever
// dropped: the queues are unbounded, and backpressure is the memory state
// machine's concern, not the bus's.
func (b *NonBlocking) Publish(tag Tag, payload interface{}) Event {
	evt := newEvent(tag, payload)
	atomic.AddInt64(&b.published, 1)

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return evt
	}
	subs := append([]*subscription(nil), b.subscribers[tag]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.deliver(evt)
	}
	return evt
}

// Published returns the total number of events published.
func (b *NonBlocking) Published() int64 { return atomic.LoadInt64(&b.published) }

// Close stops accepting new publishes, lets every subscription drain its
// remaining queue, and waits for all delivery goroutines to exit.
func (b *NonBlocking) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*subscription
	for _, subs := range b.subscribers {
		all = append(all, subs...)
	}
	b.mu.Unlock()

	for _, s := range all {
		s.close()
	}
	b.wg.Wait()
}
