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

// Package config holds the typed option bag for every engine option key
// the runtime recognizes: one sub-struct per concern, each with its own
// NewDefault constructor, plus a Validate that the autonomous executor
// calls once at construction. Loading these values from a file or flag set
// happens outside the engine — this package only carries the
// already-resolved values through to the components that need them.
package config

import (
	"fmt"
	"time"

	"github.com/rulego/streamcore/memstate"
)

// WorkerConfig sizes the two thread pools and their idle backoff.
type WorkerConfig struct {
	NGenericWorkerThreads int
	NSourceWorkerThreads  int
	SleepMsecNoRow        int
}

// NewDefaultWorkerConfig returns small-footprint defaults for an embedded
// deployment.
func NewDefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{NGenericWorkerThreads: 2, NSourceWorkerThreads: 1, SleepMsecNoRow: 100}
}

func (c WorkerConfig) Validate() error {
	if c.NGenericWorkerThreads <= 0 {
		return fmt.Errorf("worker.n_generic_worker_threads must be > 0")
	}
	if c.NSourceWorkerThreads <= 0 {
		return fmt.Errorf("worker.n_source_worker_threads must be > 0")
	}
	if c.SleepMsecNoRow < 0 {
		return fmt.Errorf("worker.sleep_msec_no_row must be >= 0")
	}
	return nil
}

func (c WorkerConfig) SleepNoRow() time.Duration {
	return time.Duration(c.SleepMsecNoRow) * time.Millisecond
}

// MemoryConfig carries the absolute ceiling and the four hysteresis
// threshold percentages, plus the monitor's reporting cadences.
type MemoryConfig struct {
	UpperLimitBytes                             int64
	ModerateToSeverePercent                     int
	SevereToCriticalPercent                     int
	CriticalToSeverePercent                     int
	SevereToModeratePercent                     int
	MemoryStateTransitionIntervalMsec           int
	PerformanceMetricsSummaryReportIntervalMsec int
	// PanicOnUpperLimitExceeded turns the hard fault raised when
	// queue_total_bytes reaches UpperLimitBytes into a panic instead of an
	// error log.
	PanicOnUpperLimitExceeded bool
}

// NewDefaultMemoryConfig returns a conservative embedded-footprint default:
// a 64MiB ceiling with 50/80/65/40 percent hysteresis bands.
func NewDefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		UpperLimitBytes:                   64 * 1024 * 1024,
		ModerateToSeverePercent:           50,
		SevereToCriticalPercent:           80,
		CriticalToSeverePercent:           65,
		SevereToModeratePercent:           40,
		MemoryStateTransitionIntervalMsec: 200,
		PerformanceMetricsSummaryReportIntervalMsec: 500,
	}
}

func (c MemoryConfig) Validate() error {
	if c.UpperLimitBytes <= 0 {
		return fmt.Errorf("memory.upper_limit_bytes must be > 0")
	}
	for name, pct := range map[string]int{
		"moderate_to_severe_percent": c.ModerateToSeverePercent,
		"severe_to_critical_percent": c.SevereToCriticalPercent,
		"critical_to_severe_percent": c.CriticalToSeverePercent,
		"severe_to_moderate_percent": c.SevereToModeratePercent,
	} {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("memory.%s must be in [0,100], got %d", name, pct)
		}
	}
	if c.MemoryStateTransitionIntervalMsec <= 0 {
		return fmt.Errorf("memory.memory_state_transition_interval_msec must be > 0")
	}
	if c.PerformanceMetricsSummaryReportIntervalMsec <= 0 {
		return fmt.Errorf("memory.performance_metrics_summary_report_interval_msec must be > 0")
	}
	return nil
}

// Thresholds converts the configured percentages of UpperLimitBytes into the
// absolute byte thresholds memstate.New expects.
func (c MemoryConfig) Thresholds() memstate.Thresholds {
	pct := func(p int) int64 { return c.UpperLimitBytes * int64(p) / 100 }
	return memstate.Thresholds{
		UpperLimit:       c.UpperLimitBytes,
		SevereToCritical: pct(c.SevereToCriticalPercent),
		CriticalToSevere: pct(c.CriticalToSeverePercent),
		ModerateToSevere: pct(c.ModerateToSeverePercent),
		SevereToModerate: pct(c.SevereToModeratePercent),
	}
}

func (c MemoryConfig) TransitionInterval() time.Duration {
	return time.Duration(c.MemoryStateTransitionIntervalMsec) * time.Millisecond
}

func (c MemoryConfig) SummaryReportInterval() time.Duration {
	return time.Duration(c.PerformanceMetricsSummaryReportIntervalMsec) * time.Millisecond
}

// SourceReaderConfig carries per-transport I/O timeouts for source readers.
type SourceReaderConfig struct {
	NetConnectTimeoutMsec int
	NetReadTimeoutMsec    int
	CANReadTimeoutMsec    int
}

func NewDefaultSourceReaderConfig() SourceReaderConfig {
	return SourceReaderConfig{NetConnectTimeoutMsec: 3000, NetReadTimeoutMsec: 1000, CANReadTimeoutMsec: 1000}
}

func (c SourceReaderConfig) NetConnectTimeout() time.Duration {
	return time.Duration(c.NetConnectTimeoutMsec) * time.Millisecond
}
func (c SourceReaderConfig) NetReadTimeout() time.Duration {
	return time.Duration(c.NetReadTimeoutMsec) * time.Millisecond
}
func (c SourceReaderConfig) CANReadTimeout() time.Duration {
	return time.Duration(c.CANReadTimeoutMsec) * time.Millisecond
}

// SinkWriterConfig carries per-transport I/O timeouts for sink writers.
type SinkWriterConfig struct {
	NetConnectTimeoutMsec int
	NetWriteTimeoutMsec   int
}

func NewDefaultSinkWriterConfig() SinkWriterConfig {
	return SinkWriterConfig{NetConnectTimeoutMsec: 3000, NetWriteTimeoutMsec: 1000}
}

func (c SinkWriterConfig) NetConnectTimeout() time.Duration {
	return time.Duration(c.NetConnectTimeoutMsec) * time.Millisecond
}
func (c SinkWriterConfig) NetWriteTimeout() time.Duration {
	return time.Duration(c.NetWriteTimeoutMsec) * time.Millisecond
}

// EngineConfig is the full option bag the autonomous executor is
// constructed from.
type EngineConfig struct {
	Worker       WorkerConfig
	Memory       MemoryConfig
	SourceReader SourceReaderConfig
	SinkWriter   SinkWriterConfig
}

// NewDefaultEngineConfig composes every sub-config's default into a single
// sensible embedded-deployment preset.
func NewDefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Worker:       NewDefaultWorkerConfig(),
		Memory:       NewDefaultMemoryConfig(),
		SourceReader: NewDefaultSourceReaderConfig(),
		SinkWriter:   NewDefaultSinkWriterConfig(),
	}
}

// Validate checks the worker and memory sub-configs; the source-reader and
// sink-writer sub-configs are not validated.
func (c EngineConfig) Validate() error {
	if err := c.Worker.Validate(); err != nil {
		return err
	}
	if err := c.Memory.Validate(); err != nil {
		return err
	}
	return nil
}
