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

// Package executor composes the engine's components into the autonomous
// executor: it owns the queue repositories, metrics store,
// memory state machine, event buses, worker pools and the monitor/memory/
// purger routines, and applies pipeline changes under the main-job write
// lock. One constructor wires every collaborator from a validated config,
// then starts the worker routines.
package executor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rulego/streamcore/config"
	"github.com/rulego/streamcore/eventbus"
	"github.com/rulego/streamcore/logger"
	"github.com/rulego/streamcore/memstate"
	"github.com/rulego/streamcore/metrics"
	"github.com/rulego/streamcore/pipeline"
	"github.com/rulego/streamcore/queue"
	"github.com/rulego/streamcore/reader"
	"github.com/rulego/streamcore/row"
	"github.com/rulego/streamcore/serr"
	"github.com/rulego/streamcore/task"
	"github.com/rulego/streamcore/worker"
	"github.com/rulego/streamcore/writer"
)

// Executor is the engine's top-level composition.
type Executor struct {
	cfg config.EngineConfig
	log logger.Logger

	// mainJob is the reader-writer lock workers hold for read during a task
	// cycle and ApplyPipeline/purge hold for write to barrier all workers.
	mainJob sync.RWMutex

	bus   *eventbus.NonBlocking
	coord *eventbus.Blocking

	pipe         *pipeline.Pipeline
	rowQueues    *queue.RowQueueRepository
	windowQueues *queue.WindowQueueRepository
	metrics      *metrics.PerformanceMetrics

	machineMu sync.Mutex
	machine   *memstate.Machine

	inmem          *InMemoryRepository
	readerStarters map[pipeline.ReaderType]reader.Starter
	writerStarters map[pipeline.WriterType]writer.Starter
	readers        map[pipeline.SourceReaderName]reader.Reader
	writers        map[pipeline.SinkWriterName]writer.Writer
	runtimes       map[pipeline.PumpName]*task.PumpRuntime

	sourcePool  *worker.Pool
	genericPool *worker.Pool

	lastQueueBytes int64

	done     chan struct{}
	stopOnce sync.Once
}

// New validates cfg, wires every component and starts the worker pools and
// the monitor and memory-state routines. It returns once the worker setup
// barrier on the blocking bus has completed.
func New(cfg config.EngineConfig) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, serr.Wrap(serr.KindInvalidConfig, "engine config", err)
	}
	machine, err := memstate.New(cfg.Memory.Thresholds())
	if err != nil {
		return nil, serr.Wrap(serr.KindInvalidConfig, "memory thresholds", err)
	}

	e := &Executor{
		cfg:            cfg,
		log:            logger.GetDefault(),
		bus:            eventbus.NewNonBlocking(),
		coord:          eventbus.NewBlocking(),
		pipe:           pipeline.New(),
		rowQueues:      queue.NewRowQueueRepository(),
		windowQueues:   queue.NewWindowQueueRepository(),
		metrics:        metrics.New(),
		machine:        machine,
		inmem:          NewInMemoryRepository(),
		readerStarters: make(map[pipeline.ReaderType]reader.Starter),
		writerStarters: make(map[pipeline.WriterType]writer.Starter),
		readers:        make(map[pipeline.SourceReaderName]reader.Reader),
		writers:        make(map[pipeline.SinkWriterName]writer.Writer),
		runtimes:       make(map[pipeline.PumpName]*task.PumpRuntime),
		done:           make(chan struct{}),
	}
	e.registerDefaultStarters()

	deps := worker.Deps{
		MainJob:      &e.mainJob,
		Bus:          e.bus,
		Coord:        e.coord,
		Metrics:      e.metrics,
		RowQueues:    e.rowQueues,
		WindowQueues: e.windowQueues,
		Log:          e.log,
	}
	e.sourcePool = worker.NewSourcePool(
		cfg.Worker.NSourceWorkerThreads, cfg.Worker.SleepNoRow(), cfg.SourceReader.NetReadTimeout(), deps)
	e.genericPool = worker.NewGenericPool(
		cfg.Worker.NGenericWorkerThreads, cfg.Worker.SleepNoRow(), deps)
	e.sourcePool.Start()
	e.genericPool.Start()

	if err := e.coord.PublishBlocking(eventbus.Setup, nil); err != nil {
		return nil, serr.Wrap(serr.KindThreadPoisoned, "worker setup barrier", err)
	}

	go e.runMonitor()
	go e.runMemoryStateMachine()

	return e, nil
}

// registerDefaultStarters binds the in-memory queue reader/writer kind,
// the one source/sink transport fully in scope here. Net and CAN
// kinds are registered by the host via RegisterReaderStarter/
// RegisterWriterStarter; binding an unregistered kind fails the creating
// command with InvalidOption.
func (e *Executor) registerDefaultStarters() {
	e.readerStarters[pipeline.InMemoryQueueReader] = func(options map[string]string) (reader.Reader, error) {
		name := options["NAME"]
		if name == "" {
			return nil, serr.New(serr.KindInvalidOption, "in-memory queue reader requires a NAME option")
		}
		rd := reader.NewInMemoryQueueReader(0)
		e.inmem.RegisterReader(name, rd)
		return rd, nil
	}
	e.writerStarters[pipeline.InMemoryQueueWriter] = func(options map[string]string) (writer.Writer, error) {
		name := options["NAME"]
		if name == "" {
			return nil, serr.New(serr.KindInvalidOption, "in-memory queue writer requires a NAME option")
		}
		w := writer.NewInMemoryQueueWriter(0)
		e.inmem.RegisterWriter(name, w)
		return w, nil
	}
}

// RegisterReaderStarter installs the start function for a reader kind,
// letting the host supply net/CAN transports. Must be called before a
// CreateSourceReader of that kind.
func (e *Executor) RegisterReaderStarter(t pipeline.ReaderType, s reader.Starter) {
	e.mainJob.Lock()
	defer e.mainJob.Unlock()
	e.readerStarters[t] = s
}

// RegisterWriterStarter installs the start function for a writer kind.
func (e *Executor) RegisterWriterStarter(t pipeline.WriterType, s writer.Starter) {
	e.mainJob.Lock()
	defer e.mainJob.Unlock()
	e.writerStarters[t] = s
}

// AlterPipeline applies an externally compiled DDL command batch and swaps
// the running task graph. On any failure the
// previously-applied pipeline remains in effect.
func (e *Executor) AlterPipeline(cmd *pipeline.AlterPipeline) error {
	e.mainJob.Lock()
	defer e.mainJob.Unlock()

	before := e.pipe.Snapshot()
	if err := e.pipe.Apply(cmd); err != nil {
		e.pipe = pipeline.FromSnapshot(before)
		return err
	}
	snap := e.pipe.Snapshot()

	d, err := e.buildDerivatives(snap)
	if err != nil {
		e.pipe = pipeline.FromSnapshot(before)
		return err
	}

	e.sourcePool.UpdateDerivatives(d)
	e.genericPool.UpdateDerivatives(d)
	e.bus.Publish(eventbus.UpdatePipeline, d)
	e.log.Info("pipeline v%d applied: %d task(s)", snap.Version, len(d.Tasks))
	return nil
}

// buildDerivatives compiles a pipeline snapshot into runnable derivatives:
// starts newly bound readers/writers, compiles new pump runtimes, resets
// the queue repositories to the new id set, constructs the task instances
// and bumps the metrics generation. Caller holds the main-job write lock.
// Everything fallible runs before the first repository mutation, so a
// failed build leaves the running pipeline untouched.
func (e *Executor) buildDerivatives(snap *pipeline.Snapshot) (*worker.Derivatives, error) {
	graph, err := pipeline.DeriveTaskGraph(snap)
	if err != nil {
		return nil, err
	}

	for _, rm := range snap.Readers {
		if _, started := e.readers[rm.Name]; started {
			continue
		}
		starter, ok := e.readerStarters[rm.Type]
		if !ok {
			return nil, serr.New(serr.KindInvalidOption,
				fmt.Sprintf("source reader %q: no starter registered for its kind", rm.Name))
		}
		rd, err := starter(rm.Options)
		if err != nil {
			return nil, err
		}
		e.readers[rm.Name] = rd
	}
	for _, wm := range snap.Writers {
		if _, started := e.writers[wm.Name]; started {
			continue
		}
		starter, ok := e.writerStarters[wm.Type]
		if !ok {
			return nil, serr.New(serr.KindInvalidOption,
				fmt.Sprintf("sink writer %q: no starter registered for its kind", wm.Name))
		}
		w, err := starter(wm.Options)
		if err != nil {
			return nil, err
		}
		e.writers[wm.Name] = w
	}
	for _, pm := range snap.Pumps {
		if _, compiled := e.runtimes[pm.Name]; compiled {
			continue // pump models are create-only, so a cached runtime stays valid
		}
		rt, err := task.NewPumpRuntime(pm, snap)
		if err != nil {
			return nil, err
		}
		e.runtimes[pm.Name] = rt
	}

	rowIDs, winIDs := graph.QueueIDs()
	e.rowQueues.Reset(rowIDs)
	for _, pm := range snap.Pumps {
		if !pm.IsWindowed() {
			continue
		}
		rt := e.runtimes[pm.Name]
		gt, _ := graph.Task(pipeline.PumpTaskID(pm.Name))
		var panes queue.PaneSet
		var wm func() time.Time
		if rt.Aggregate != nil {
			panes, wm = rt.Aggregate, rt.Aggregate.CurrentWatermark
		} else {
			panes, wm = rt.Join, rt.Join.CurrentWatermark
		}
		ensure := func(stream pipeline.StreamName) {
			edge, ok := gt.InputQueue(stream)
			if !ok || !edge.Window {
				return
			}
			if _, exists := e.windowQueues.Get(edge.ID); !exists {
				e.windowQueues.Put(edge.ID, queue.NewWindowQueue(panes, wm))
			}
		}
		ensure(pm.InputStream)
		if pm.IsJoin() {
			ensure(pm.Join.RightStream)
		}
	}
	e.windowQueues.Reset(winIDs)

	tasks := make(map[pipeline.TaskID]task.Task, len(snap.Readers)+len(snap.Pumps)+len(snap.Writers))
	for _, rm := range snap.Readers {
		id := pipeline.SourceTaskID(rm.Name)
		gt, _ := graph.Task(id)
		tasks[id] = &task.SourceTask{
			TaskID:  id,
			Reader:  e.readers[rm.Name],
			Shape:   snap.Streams[rm.Stream].Shape,
			Outputs: gt.OutputQueues(),
		}
	}
	for _, pm := range snap.Pumps {
		id := pipeline.PumpTaskID(pm.Name)
		gt, _ := graph.Task(id)
		pt := &task.PumpTask{TaskID: id, Runtime: e.runtimes[pm.Name], Outputs: gt.OutputQueues()}
		if main, ok := gt.InputQueue(pm.InputStream); ok {
			pt.MainInput = main
		}
		if pm.IsJoin() {
			if right, ok := gt.InputQueue(pm.Join.RightStream); ok {
				pt.RightInput = &right
			}
		}
		tasks[id] = pt
	}
	for _, wm := range snap.Writers {
		id := pipeline.SinkTaskID(wm.Name)
		gt, _ := graph.Task(id)
		st := &task.SinkTask{TaskID: id, Writer: e.writers[wm.Name]}
		if in, ok := gt.InputQueue(wm.Stream); ok {
			st.Input = in
		}
		tasks[id] = st
	}

	mv := e.metrics.Reset()
	// Prime the fresh metrics store from live queue state so rows surviving
	// the update stay visible to the memory-reducing scheduler and the
	// monitor.
	for id, q := range e.rowQueues.All() {
		e.metrics.SetQueueState(id, q.Len(), q.Bytes())
	}
	for id, q := range e.windowQueues.All() {
		e.metrics.SetQueueState(id, q.Len(), q.Bytes())
	}

	return &worker.Derivatives{Snapshot: snap, Graph: graph, Tasks: tasks, MetricsVersion: mv}, nil
}

// runMonitor periodically derives a metrics summary and publishes it.
func (e *Executor) runMonitor() {
	ticker := time.NewTicker(e.cfg.Memory.SummaryReportInterval())
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			s := e.metrics.Summarize()
			atomic.StoreInt64(&e.lastQueueBytes, s.QueueTotalBytes)
			e.bus.Publish(eventbus.ReportMetricsSummary, s)
			e.bus.Publish(eventbus.UpdatePerformanceMetrics, s)
		}
	}
}

// runMemoryStateMachine feeds the latest summary into the state machine on
// its own cadence, publishing transition events and triggering the purger
// on entry to Critical.
func (e *Executor) runMemoryStateMachine() {
	ticker := time.NewTicker(e.cfg.Memory.TransitionInterval())
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			bytes := atomic.LoadInt64(&e.lastQueueBytes)

			e.machineMu.Lock()
			from := e.machine.Level()
			exceeded := e.machine.Exceeded(bytes)
			to, changed := e.machine.Observe(bytes)
			e.machineMu.Unlock()

			if exceeded {
				if e.cfg.Memory.PanicOnUpperLimitExceeded {
					panic(fmt.Sprintf("queue total %d bytes at or above memory.upper_limit_bytes %d",
						bytes, e.cfg.Memory.UpperLimitBytes))
				}
				e.log.Error("queue total %d bytes at or above memory.upper_limit_bytes %d",
					bytes, e.cfg.Memory.UpperLimitBytes)
			}
			if !changed {
				continue
			}
			e.log.Info("memory state %s -> %s (%d queued bytes)", from, to, bytes)
			e.bus.Publish(eventbus.TransitMemoryState, memstate.Transition{From: from, To: to})
			if to == memstate.Critical {
				e.purge()
			}
		}
	}
}

// purge task-barriers the workers, empties every queue and window pane,
// resets per-queue metrics and publishes a purge marker event.
func (e *Executor) purge() {
	e.mainJob.Lock()
	for id, q := range e.rowQueues.All() {
		q.Purge()
		e.metrics.SetQueueState(id, 0, 0)
	}
	for id, q := range e.windowQueues.All() {
		q.Purge()
		e.metrics.SetQueueState(id, 0, 0)
	}
	e.mainJob.Unlock()
	atomic.StoreInt64(&e.lastQueueBytes, 0)

	e.bus.Publish(eventbus.IncrementalUpdateMetrics, worker.IncrementalMetrics{Purge: true})
	e.log.Warn("critical memory state: purged all queues and window panes")
}

// Push enqueues a source row onto the named in-memory queue. Non-blocking.
func (e *Executor) Push(queueName string, sr row.SchemalessRow) error {
	rd, ok := e.inmem.Reader(queueName)
	if !ok {
		return serr.New(serr.KindUnavailable, "no in-memory queue reader named "+queueName)
	}
	rd.Push(sr)
	return nil
}

// Pop blocks until the named in-memory sink queue yields a row.
func (e *Executor) Pop(queueName string) (row.SchemalessRow, error) {
	w, ok := e.inmem.Writer(queueName)
	if !ok {
		return nil, serr.New(serr.KindUnavailable, "no in-memory queue writer named "+queueName)
	}
	sr, ok := w.Pop()
	if !ok {
		return nil, serr.New(serr.KindForeignIO, "in-memory queue "+queueName+" closed")
	}
	return sr, nil
}

// PopNonBlocking returns the next sink row if one is ready.
func (e *Executor) PopNonBlocking(queueName string) (row.SchemalessRow, bool, error) {
	w, ok := e.inmem.Writer(queueName)
	if !ok {
		return nil, false, serr.New(serr.KindUnavailable, "no in-memory queue writer named "+queueName)
	}
	sr, ok := w.PopNonBlocking()
	return sr, ok, nil
}

// Bus exposes the non-blocking event bus for external subscribers such as
// a telemetry reporter.
func (e *Executor) Bus() *eventbus.NonBlocking { return e.bus }

// Metrics exposes the live metrics store.
func (e *Executor) Metrics() *metrics.PerformanceMetrics { return e.metrics }

// MemoryLevel returns the state machine's current level.
func (e *Executor) MemoryLevel() memstate.Level {
	e.machineMu.Lock()
	defer e.machineMu.Unlock()
	return e.machine.Level()
}

// Stop shuts the engine down cooperatively: workers finish their current
// task cycle, the monitor and memory routines exit, and every bound reader
// and writer is closed.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		if err := e.coord.PublishBlocking(eventbus.Stop, nil); err != nil {
			e.log.Error("stop barrier: %v", err)
		}
		close(e.done)
		e.bus.Close()

		e.mainJob.Lock()
		for name, rd := range e.readers {
			if err := rd.Close(); err != nil {
				e.log.Warn("close reader %s: %v", name, err)
			}
		}
		for name, w := range e.writers {
			if err := w.Close(); err != nil {
				e.log.Warn("close writer %s: %v", name, err)
			}
		}
		e.mainJob.Unlock()
		e.inmem.Teardown()
	})
}
