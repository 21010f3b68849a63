// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

// Package sampler implements the multi-tier sampling engine. Three
// tier loops run on dedicated OS threads at decoupled cadences: fast
// (~1 kHz) for GPU/CPU/RAM/EMC, medium (~100 Hz) for power rails, slow
// (~10 Hz) for thermal zones. The loops share a common monotonic time
// origin and accumulate samples in memory until Stop writes a single
// trace file.
package sampler

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/antimetal/nvtrace/pkg/board"
	"github.com/antimetal/nvtrace/pkg/trace"
)

// ErrAlreadyRunning is returned by Start on an engine that is running.
var ErrAlreadyRunning = errors.New("engine already running")

// warmupSamples is the number of primer fast-tier iterations taken before
// the warmup barrier releases. Utilization deltas computed against
// zero-initialized priors would be inflated, so the first samples exist
// only to establish CPU delta state.
const warmupSamples = 10

// bufferHintSeconds sizes the initial sample buffer capacity: enough for a
// minute of samples at each tier's rate before any reallocation.
const bufferHintSeconds = 60

// Config holds the engine's sampling rates.
type Config struct {
	FastHz   uint32
	MediumHz uint32
	SlowHz   uint32

	// HostProcPath is the procfs mount to sample CPU and memory from.
	// Defaults to /proc.
	HostProcPath string
}

// DefaultConfig returns the standard 1 kHz / 100 Hz / 10 Hz tiering.
func DefaultConfig() Config {
	return Config{FastHz: 1000, MediumHz: 100, SlowHz: 10, HostProcPath: "/proc"}
}

// Validate checks that every tier has a positive rate.
func (c *Config) Validate() error {
	if c.FastHz == 0 {
		return fmt.Errorf("fast_hz must be > 0")
	}
	if c.MediumHz == 0 {
		return fmt.Errorf("medium_hz must be > 0")
	}
	if c.SlowHz == 0 {
		return fmt.Errorf("slow_hz must be > 0")
	}
	return nil
}

// Engine owns a run: the pseudo-file descriptors, the three tier
// goroutines and their sample buffers, and the output path. It is a unique
// stationary owner and must not be copied. The sync-point log is the only
// structure mutated from multiple goroutines and has a dedicated mutex;
// everything else is tier-private or published through atomics.
type Engine struct {
	logger     logr.Logger
	outputPath string
	board      board.Config
	config     Config

	running   atomic.Bool
	warmedUp  atomic.Bool
	fastCount atomic.Uint64

	warmupMu   sync.Mutex
	warmupCond *sync.Cond

	syncMu     sync.Mutex
	syncPoints []trace.SyncPoint

	wg sync.WaitGroup

	rd  readers
	cpu cpuDeltaState

	fastSamples   []trace.FastSample
	mediumSamples []trace.MediumSample
	slowSamples   []trace.SlowSample

	// t0 is the monotonic origin, captured once per run immediately
	// before the tier goroutines spawn. All sample timestamps are
	// seconds since t0.
	t0 float64
}

// New validates the configuration and builds an engine. The filesystem is
// not touched until Start.
func New(logger logr.Logger, outputPath string, b board.Config, cfg Config) (*Engine, error) {
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid board config: %w", err)
	}
	if cfg.HostProcPath == "" {
		cfg.HostProcPath = "/proc"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	e := &Engine{
		logger:     logger.WithName("sampler"),
		outputPath: outputPath,
		board:      b,
		config:     cfg,
	}
	e.warmupCond = sync.NewCond(&e.warmupMu)
	return e, nil
}

// Start opens every pseudo-file, resets the CPU delta state and buffers,
// captures the time origin and spawns the three tier goroutines. A second
// Start while running fails; Start after Stop begins a fresh run.
func (e *Engine) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	e.warmedUp.Store(false)
	e.fastCount.Store(0)

	e.fastSamples = make([]trace.FastSample, 0, int(e.config.FastHz)*bufferHintSeconds)
	e.mediumSamples = make([]trace.MediumSample, 0, int(e.config.MediumHz)*bufferHintSeconds)
	e.slowSamples = make([]trace.SlowSample, 0, int(e.config.SlowHz)*bufferHintSeconds)
	e.syncPoints = nil

	e.rd.open(e.board, e.config.HostProcPath)
	e.cpu.reset(e.board.NumCPUCores)

	e.logger.V(1).Info("Starting sampling run",
		"board", e.board.Name,
		"fastHz", e.config.FastHz,
		"mediumHz", e.config.MediumHz,
		"slowHz", e.config.SlowHz,
		"rails", len(e.board.PowerRails),
		"zones", len(e.board.Zones),
		"emc", e.rd.emc.ok())

	e.t0 = monotonicNow()

	e.wg.Add(3)
	go e.runFast()
	go e.runMedium()
	go e.runSlow()
	return nil
}

// Stop ends the run: flips the running flag, wakes any warmup waiters,
// joins all three tier goroutines, writes the trace file and closes every
// descriptor. The write error, if any, is returned after the descriptors
// are cleaned up. Stop on an engine that is not running is a no-op.
func (e *Engine) Stop() error {
	if !e.running.CompareAndSwap(true, false) {
		return nil
	}

	// Wake tier goroutines still blocked on the warmup barrier; the
	// barrier releases on !running even if the fast thread never primed.
	e.warmupMu.Lock()
	e.warmupCond.Broadcast()
	e.warmupMu.Unlock()

	e.wg.Wait()

	err := e.writeTrace()
	e.rd.close()

	e.logger.V(1).Info("Sampling run stopped",
		"fastSamples", len(e.fastSamples),
		"mediumSamples", len(e.mediumSamples),
		"slowSamples", len(e.slowSamples),
		"syncPoints", len(e.syncPoints))
	return err
}

// Close stops the engine if it is still running, logging any stop error
// instead of returning it. Use it as the deferred cleanup path; call Stop
// directly when the write outcome matters.
func (e *Engine) Close() {
	if e.running.Load() {
		if err := e.Stop(); err != nil {
			e.logger.Error(err, "Failed to stop engine during close")
		}
	}
}

// WaitForWarmup blocks until the fast tier has taken its primer samples,
// or until the engine stops. Idempotent; callable from any goroutine.
func (e *Engine) WaitForWarmup() {
	e.warmupMu.Lock()
	defer e.warmupMu.Unlock()
	for !e.warmedUp.Load() && e.running.Load() {
		e.warmupCond.Wait()
	}
}

// Sync appends a sync point stamped with the current fast sample count and
// returns its id. IDs are the dense sequence 1, 2, ... per run. Valid
// before warmup completes.
func (e *Engine) Sync() uint64 {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	id := uint64(len(e.syncPoints)) + 1
	e.syncPoints = append(e.syncPoints, trace.SyncPoint{
		SyncID:        id,
		FastSampleIdx: e.fastCount.Load(),
	})
	return id
}

// SampleCount returns the number of fast samples appended so far.
func (e *Engine) SampleCount() uint64 {
	return e.fastCount.Load()
}

// IsRunning reports whether a run is in progress.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// appendFastSample takes one full fast-tier sample and publishes the new
// count. The count bump is the only cross-goroutine signal during a run:
// an observer that reads count k may assume samples 0..k were appended.
func (e *Engine) appendFastSample() {
	var s trace.FastSample
	s.TimeS = monotonicNow() - e.t0
	s.GPULoad = e.rd.readGPULoad()
	e.rd.readCPU(&e.cpu, &s)
	s.RAMUsedKB, s.RAMAvailKB = e.rd.readRAM()
	s.EMCUtil = e.rd.readEMC()

	e.fastSamples = append(e.fastSamples, s)
	e.fastCount.Add(1)
}

// runFast primes the CPU delta state, releases the warmup barrier, then
// samples on an absolute-deadline cadence until stopped.
func (e *Engine) runFast() {
	defer e.wg.Done()

	// Pin the loop to an OS thread so the absolute-deadline nanosleep is
	// not disturbed by goroutine migration.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	intervalNS := int64(1e9) / int64(e.config.FastHz)

	// Primer samples establish per-core jiffy priors. Their absolute
	// timing is not critical, so a relative sleep is fine here.
	for i := 0; i < warmupSamples && e.running.Load(); i++ {
		e.appendFastSample()
		sleepFor(intervalNS)
	}

	e.warmupMu.Lock()
	e.warmedUp.Store(true)
	e.warmupMu.Unlock()
	e.warmupCond.Broadcast()

	// Steady state: advance the deadline by a fixed interval each
	// iteration so long reads never accumulate into cumulative drift. An
	// overrun simply makes the next sleep return immediately.
	next := monotonicTimespec()
	for e.running.Load() {
		e.appendFastSample()
		timespecAdd(&next, intervalNS)
		sleepUntil(next)
	}
}

// runMedium samples power rails once the warmup barrier releases.
func (e *Engine) runMedium() {
	defer e.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	e.WaitForWarmup()

	intervalNS := int64(1e9) / int64(e.config.MediumHz)
	next := monotonicTimespec()
	for e.running.Load() {
		var s trace.MediumSample
		s.TimeS = monotonicNow() - e.t0
		e.rd.readPower(&s)
		e.mediumSamples = append(e.mediumSamples, s)

		timespecAdd(&next, intervalNS)
		sleepUntil(next)
	}
}

// runSlow samples thermal zones once the warmup barrier releases.
func (e *Engine) runSlow() {
	defer e.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	e.WaitForWarmup()

	intervalNS := int64(1e9) / int64(e.config.SlowHz)
	next := monotonicTimespec()
	for e.running.Load() {
		var s trace.SlowSample
		s.TimeS = monotonicNow() - e.t0
		e.rd.readThermals(&s)
		e.slowSamples = append(e.slowSamples, s)

		timespecAdd(&next, intervalNS)
		sleepUntil(next)
	}
}

// writeTrace emits the trace file in one pass. Called only after the tier
// goroutines are joined, so the buffers are frozen.
func (e *Engine) writeTrace() error {
	hdr := trace.FileHeader{
		Magic:           trace.Magic,
		Version:         trace.Version,
		BoardName:       e.board.Name,
		NumCPUCores:     uint8(e.board.NumCPUCores),
		NumPowerRails:   uint8(len(e.board.PowerRails)),
		NumThermalZones: uint8(len(e.board.Zones)),
		FastHz:          e.config.FastHz,
		MediumHz:        e.config.MediumHz,
		SlowHz:          e.config.SlowHz,
	}
	if e.rd.emc.ok() {
		hdr.EMCAvailable = 1
	}
	for i, r := range e.board.PowerRails {
		hdr.PowerRailNames[i] = r.Label
	}
	for i, z := range e.board.Zones {
		hdr.ThermalZoneNames[i] = z.Name
	}

	if err := trace.WriteFile(e.outputPath, hdr, e.fastSamples, e.mediumSamples, e.slowSamples, e.syncPoints); err != nil {
		return fmt.Errorf("failed to write trace: %w", err)
	}
	return nil
}
