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

// Package worker implements the executor's two thread pools: source
// workers driving source tasks through the source scheduler, and generic
// workers driving pump/sink tasks through whichever of the two generic
// schedulers the current memory state selects. Lifecycle coordination runs
// over the event buses.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rulego/streamcore/eventbus"
	"github.com/rulego/streamcore/logger"
	"github.com/rulego/streamcore/memstate"
	"github.com/rulego/streamcore/metrics"
	"github.com/rulego/streamcore/pipeline"
	"github.com/rulego/streamcore/queue"
	"github.com/rulego/streamcore/scheduler"
	"github.com/rulego/streamcore/serr"
	"github.com/rulego/streamcore/task"
)

// Derivatives is one applied pipeline's runnable artifacts: the model
// snapshot, the task graph derived from it, and the constructed task
// instances keyed by id. Replaced
// atomically on every pipeline update; workers read whichever value is
// current at the top of each cycle.
type Derivatives struct {
	Snapshot *pipeline.Snapshot
	Graph    *pipeline.TaskGraph
	Tasks    map[pipeline.TaskID]task.Task
	// MetricsVersion is the metrics store generation these derivatives were
	// built against. A worker observing a mismatch skips its cycle rather
	// than run against a half-applied update.
	MetricsVersion int64
}

// IncrementalMetrics is the payload published with every
// IncrementalUpdateMetrics event: one task cycle's delta, or a
// purge marker when the purger has emptied every queue.
type IncrementalMetrics struct {
	Task  pipeline.TaskID
	Delta task.MetricsDelta
	Purge bool
}

// Deps bundles the shared collaborators both pools are built over.
type Deps struct {
	MainJob      *sync.RWMutex
	Bus          *eventbus.NonBlocking
	Coord        *eventbus.Blocking
	Metrics      *metrics.PerformanceMetrics
	RowQueues    *queue.RowQueueRepository
	WindowQueues *queue.WindowQueueRepository
	Log          logger.Logger
}

// Pool is a fixed-size set of worker goroutines sharing one scheduling
// discipline selector.
type Pool struct {
	name        string
	n           int
	sleepNoRow  time.Duration
	readTimeout time.Duration // >0 only for the source pool

	deps Deps

	// pick chooses the scheduling discipline for the given memory level.
	// Stateless strategies make the swap safe without migration.
	pick func(memstate.Level) scheduler.Strategy

	deriv atomic.Value // *Derivatives
	level int32        // memstate.Level, updated by TransitMemoryState events

	ready    chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSourcePool builds the pool running source tasks. Source
// workers always use the source scheduler regardless of memory state, and
// bound each reader call by readTimeout.
func NewSourcePool(n int, sleepNoRow, readTimeout time.Duration, deps Deps) *Pool {
	src := scheduler.NewSourceScheduler()
	return newPool("source", n, sleepNoRow, readTimeout, deps,
		func(memstate.Level) scheduler.Strategy { return src })
}

// NewGenericPool builds the pool running pump and sink tasks.
// Generic workers run the flow-efficient scheduler at Moderate and switch to
// the memory-reducing scheduler at Severe and above.
func NewGenericPool(n int, sleepNoRow time.Duration, deps Deps) *Pool {
	flow := scheduler.NewFlowEfficientScheduler()
	reduce := scheduler.NewMemoryReducingScheduler()
	return newPool("generic", n, sleepNoRow, 0, deps,
		func(l memstate.Level) scheduler.Strategy {
			if l >= memstate.Severe {
				return reduce
			}
			return flow
		})
}

func newPool(name string, n int, sleepNoRow, readTimeout time.Duration, deps Deps, pick func(memstate.Level) scheduler.Strategy) *Pool {
	if deps.Log == nil {
		deps.Log = logger.GetDefault()
	}
	return &Pool{
		name:        name,
		n:           n,
		sleepNoRow:  sleepNoRow,
		readTimeout: readTimeout,
		deps:        deps,
		pick:        pick,
		ready:       make(chan struct{}),
		stop:        make(chan struct{}),
	}
}

// Start subscribes the pool to its coordination events and launches its
// workers. The blocking bus's Setup barrier completes
// only once every worker goroutine has entered its loop; Stop barriers
// shutdown until every worker has exited after its current task cycle.
func (p *Pool) Start() {
	p.deps.Bus.Subscribe(eventbus.TransitMemoryState, func(evt eventbus.Event) error {
		if tr, ok := evt.Payload.(memstate.Transition); ok {
			atomic.StoreInt32(&p.level, int32(tr.To))
			p.deps.Log.Debug("%s pool: memory state %s -> %s, scheduler now %q",
				p.name, tr.From, tr.To, p.pick(tr.To).Name())
		}
		return nil
	})
	p.deps.Coord.Subscribe(eventbus.Setup, func(eventbus.Event) error {
		<-p.ready
		return nil
	})
	p.deps.Coord.Subscribe(eventbus.Stop, func(eventbus.Event) error {
		p.stopOnce.Do(func() { close(p.stop) })
		p.wg.Wait()
		return nil
	})

	var started sync.WaitGroup
	started.Add(p.n)
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			started.Done()
			p.runWorker(id)
		}(i)
	}
	go func() {
		started.Wait()
		close(p.ready)
	}()
}

// UpdateDerivatives installs a new pipeline's derivatives. Called by the
// executor while it holds the main-job write lock, so the swap is totally
// ordered with respect to every task cycle and a worker observes at most
// one transition between any two cycles.
func (p *Pool) UpdateDerivatives(d *Derivatives) {
	p.deriv.Store(d)
}

// MemoryLevel returns the pool's last observed memory level.
func (p *Pool) MemoryLevel() memstate.Level {
	return memstate.Level(atomic.LoadInt32(&p.level))
}

func (p *Pool) runWorker(workerID int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		if !p.runCycle(workerID) {
			if !p.idle() {
				return
			}
		}
	}
}

// runCycle executes one worker loop iteration under the main-job read lock.
// Returns false when no task produced work, telling the
// caller to idle-sleep.
func (p *Pool) runCycle(workerID int) bool {
	p.deps.MainJob.RLock()
	defer p.deps.MainJob.RUnlock()

	d, _ := p.deriv.Load().(*Derivatives)
	if d == nil {
		return false
	}
	// Loop state integrity: a metrics-store generation that no longer
	// matches the derivatives means a pipeline update is mid-flight; skip
	// this cycle rather than act on half-applied state.
	if p.deps.Metrics.Version() != d.MetricsVersion {
		return false
	}

	strat := p.pick(p.MemoryLevel())
	series := strat.Schedule(d.Graph, p.deps.Metrics)
	if len(series) == 0 {
		return false
	}

	ran := false
	for _, id := range series {
		t, ok := d.Tasks[id]
		if !ok {
			continue
		}
		if p.runTask(workerID, t) {
			ran = true
		}
	}
	return ran
}

func (p *Pool) runTask(workerID int, t task.Task) bool {
	cctx := context.Background()
	cancel := func() {}
	if p.readTimeout > 0 {
		cctx, cancel = context.WithTimeout(cctx, p.readTimeout)
	}
	defer cancel()

	ctx := &task.Context{
		Ctx:          cctx,
		RowQueues:    p.deps.RowQueues,
		WindowQueues: p.deps.WindowQueues,
		Metrics:      p.deps.Metrics,
	}

	start := time.Now()
	delta, err := t.Run(ctx)
	if err != nil {
		p.logTaskErr(workerID, t.ID(), err)
	}
	if !delta.Ran {
		return false
	}

	p.deps.Metrics.RecordGain(t.ID(), delta.BytesOut-delta.BytesIn, time.Since(start))
	p.deps.Bus.Publish(eventbus.IncrementalUpdateMetrics, IncrementalMetrics{Task: t.ID(), Delta: delta})
	return true
}

// logTaskErr applies the per-kind worker action: timeouts at
// debug, foreign I/O at warn, everything else at error. All are swallowed —
// retry is implicit in the next cycle.
func (p *Pool) logTaskErr(workerID int, id pipeline.TaskID, err error) {
	switch {
	case serr.Is(err, serr.KindForeignSourceTimeout), serr.Is(err, serr.KindInputTimeout):
		p.deps.Log.Debug("%s worker %d: task %s: %v", p.name, workerID, id, err)
	case serr.Is(err, serr.KindForeignIO):
		p.deps.Log.Warn("%s worker %d: task %s: %v", p.name, workerID, id, err)
	default:
		p.deps.Log.Error("%s worker %d: task %s: %v", p.name, workerID, id, err)
	}
}

// idle sleeps sleepNoRow, returning false if the pool was stopped while
// sleeping.
func (p *Pool) idle() bool {
	if p.sleepNoRow <= 0 {
		select {
		case <-p.stop:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(p.sleepNoRow)
	defer timer.Stop()
	select {
	case <-p.stop:
		return false
	case <-timer.C:
		return true
	}
}
