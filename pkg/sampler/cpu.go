// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

package sampler

import (
	"github.com/antimetal/nvtrace/pkg/trace"
)

// cpuJiffies is the per-core snapshot carried between fast ticks.
type cpuJiffies struct {
	total uint64
	idle  uint64
}

// cpuDeltaState turns consecutive /proc/stat snapshots into per-core
// utilization percentages. Utilization is the busy share of the jiffy delta
// since the previous tick; the very first ticks after reset produce
// inflated values, so the engine takes primer samples during warmup before
// releasing downstream tiers.
type cpuDeltaState struct {
	prev []cpuJiffies
}

// reset sizes the state for cores cores and zeroes all priors.
func (s *cpuDeltaState) reset(cores int) {
	s.prev = make([]cpuJiffies, cores)
}

// update parses a /proc/stat snapshot, computes utilization for each core
// against the previous tick and advances the priors. perCore slots beyond
// the parsed core count are zeroed. Returns the mean over parsed cores.
//
// /proc/stat CPU lines carry ten jiffy counters:
//
//	cpuN user nice system idle iowait irq softirq steal guest guest_nice
//
// total is the sum of the first eight. guest and guest_nice are already
// accounted inside user and nice, so including them would double-count.
// idle time is idle + iowait.
func (s *cpuDeltaState) update(buf []byte, perCore *[trace.MaxCPUCores]float32) float32 {
	for i := range perCore {
		perCore[i] = 0
	}
	if len(buf) == 0 {
		return 0
	}

	// The first line is the aggregate "cpu " entry; the overall figure is
	// recomputed from per-core results instead, so skip it.
	i := skipPast(buf, 0, '\n')

	var sum float32
	parsed := 0

	for c := 0; c < len(s.prev) && i >= 0 && i < len(buf); c++ {
		if !hasPrefix(buf, i, "cpu") {
			break
		}
		i += 3
		for i < len(buf) && buf[i] >= '0' && buf[i] <= '9' {
			i++
		}
		if i < len(buf) && buf[i] == ' ' {
			i++
		}

		var vals [10]uint64
		for f := 0; f < 10 && i < len(buf) && buf[i] != '\n'; f++ {
			vals[f], i = parseUint(buf, i)
		}

		var total uint64
		for f := 0; f < 8; f++ {
			total += vals[f]
		}
		idle := vals[3] + vals[4]

		var util float32
		if total >= s.prev[c].total && idle >= s.prev[c].idle {
			dTotal := total - s.prev[c].total
			dIdle := idle - s.prev[c].idle
			if dTotal > 0 && dIdle <= dTotal {
				util = 100 * float32(dTotal-dIdle) / float32(dTotal)
			}
		}
		s.prev[c].total = total
		s.prev[c].idle = idle

		if util < 0 {
			util = 0
		} else if util > 100 {
			util = 100
		}
		perCore[c] = util
		sum += util
		parsed++

		i = skipPast(buf, i, '\n')
	}

	if parsed == 0 {
		return 0
	}
	return sum / float32(parsed)
}
