// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

package sampler

import (
	"path/filepath"

	"github.com/antimetal/nvtrace/pkg/board"
	"github.com/antimetal/nvtrace/pkg/trace"
)

// readers owns every pseudo-file descriptor for a run. Handles are opened
// at start and closed at stop. Each descriptor is touched by exactly one
// tier goroutine, so no per-descriptor locking is needed; the scratch
// buffers below are likewise tier-private.
type readers struct {
	gpu     pseudoFile   // fast tier
	stat    pseudoFile   // fast tier
	meminfo pseudoFile   // fast tier
	emc     pseudoFile   // fast tier
	voltage []pseudoFile // medium tier
	current []pseudoFile // medium tier
	thermal []pseudoFile // slow tier

	statBuf [4096]byte
	memBuf  [1024]byte
}

func (r *readers) open(cfg board.Config, hostProcPath string) {
	r.gpu = openPseudo(cfg.GPULoadPath)
	r.stat = openPseudo(filepath.Join(hostProcPath, "stat"))
	r.meminfo = openPseudo(filepath.Join(hostProcPath, "meminfo"))
	r.emc = openPseudo(cfg.EMCPath)

	r.voltage = make([]pseudoFile, len(cfg.PowerRails))
	r.current = make([]pseudoFile, len(cfg.PowerRails))
	for i, rail := range cfg.PowerRails {
		r.voltage[i] = openPseudo(rail.VoltagePath)
		r.current[i] = openPseudo(rail.CurrentPath)
	}

	r.thermal = make([]pseudoFile, len(cfg.Zones))
	for i, zone := range cfg.Zones {
		r.thermal[i] = openPseudo(zone.TempPath)
	}
}

func (r *readers) close() {
	r.gpu.close()
	r.stat.close()
	r.meminfo.close()
	r.emc.close()
	for i := range r.voltage {
		r.voltage[i].close()
	}
	for i := range r.current {
		r.current[i].close()
	}
	for i := range r.thermal {
		r.thermal[i].close()
	}
	r.voltage = nil
	r.current = nil
	r.thermal = nil
}

// readGPULoad reads the GPU load counter, an integer in tenths of a
// percent, clamped to 0..1000.
func (r *readers) readGPULoad() uint16 {
	return uint16(clampInt(r.gpu.readInt(), 0, 1000))
}

func clampInt(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// readRAM scans /proc/meminfo for MemTotal and MemAvailable, both in kB.
// used is total minus available, floored at zero.
func (r *readers) readRAM() (usedKB, availableKB uint64) {
	n := r.meminfo.read(r.memBuf[:])
	if n == 0 {
		return 0, 0
	}
	buf := r.memBuf[:n]

	var memTotal, memAvailable uint64
	i := 0
	for i >= 0 && i < len(buf) {
		switch {
		case hasPrefix(buf, i, "MemTotal:"):
			memTotal, _ = parseUint(buf, skipSpaces(buf, i+len("MemTotal:")))
		case hasPrefix(buf, i, "MemAvailable:"):
			// MemAvailable comes after MemTotal, so both are in hand.
			memAvailable, _ = parseUint(buf, skipSpaces(buf, i+len("MemAvailable:")))
			i = -1
		}
		if i >= 0 {
			i = skipPast(buf, i, '\n')
		}
	}

	availableKB = memAvailable
	if memTotal >= memAvailable {
		usedKB = memTotal - memAvailable
	}
	return usedKB, availableKB
}

// readEMC interprets the external memory controller activity counter as an
// integer percentage, clamped to 0..100. The counter's units are not
// guaranteed stable across kernels; until a scaling factor is plumbed
// through the board config the raw value is taken as percent. Reports -1
// when the counter was unavailable at start.
func (r *readers) readEMC() float32 {
	if !r.emc.ok() {
		return -1.0
	}
	return float32(clampInt(r.emc.readInt(), 0, 100))
}

// readCPU fills per-core and aggregate utilization from /proc/stat.
func (r *readers) readCPU(state *cpuDeltaState, s *trace.FastSample) {
	n := r.stat.read(r.statBuf[:])
	s.CPUAggregate = state.update(r.statBuf[:n], &s.CPUUtil)
}

// readPower samples every configured rail: voltage in mV, current in mA,
// derived power in mW. Unused rail slots stay zeroed.
func (r *readers) readPower(s *trace.MediumSample) {
	for i := range r.voltage {
		v := uint32(clampInt(r.voltage[i].readInt(), 0, 1<<32-1))
		c := uint32(clampInt(r.current[i].readInt(), 0, 1<<32-1))
		s.VoltageMV[i] = v
		s.CurrentMA[i] = c
		s.PowerMW[i] = float32(v) * float32(c) / 1000.0
	}
}

// readThermals samples every configured zone, converting milli-degrees C
// to degrees. Unused zone slots stay zeroed.
func (r *readers) readThermals(s *trace.SlowSample) {
	for i := range r.thermal {
		s.TempC[i] = float32(r.thermal[i].readInt()) / 1000.0
	}
}

func skipSpaces(b []byte, i int) int {
	for i < len(b) && (b[i] == ' ' || b[i] == '\t') {
		i++
	}
	return i
}
