// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

package sampler

import (
	"golang.org/x/sys/unix"
)

// monotonicNow returns CLOCK_MONOTONIC in seconds. The clock is not
// settable, so wall-clock adjustments never affect sample timestamps.
func monotonicNow() float64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return float64(ts.Sec) + float64(ts.Nsec)*1e-9
}

// monotonicTimespec returns the raw CLOCK_MONOTONIC reading, used as the
// base for absolute-deadline scheduling.
func monotonicTimespec() unix.Timespec {
	var ts unix.Timespec
	_ = unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return ts
}

// timespecAdd advances ts by ns nanoseconds, normalizing overflow.
func timespecAdd(ts *unix.Timespec, ns int64) {
	*ts = unix.NsecToTimespec(ts.Nano() + ns)
}

// sleepUntil suspends the calling thread until the absolute CLOCK_MONOTONIC
// deadline passes. A deadline already in the past returns immediately, which
// is what lets an overrunning sampling iteration recover without drift.
func sleepUntil(deadline unix.Timespec) {
	for unix.ClockNanosleep(unix.CLOCK_MONOTONIC, unix.TIMER_ABSTIME, &deadline, nil) == unix.EINTR {
	}
}

// sleepFor is a relative monotonic sleep, used only for warmup primer
// samples where absolute cadence does not matter yet.
func sleepFor(ns int64) {
	req := unix.NsecToTimespec(ns)
	var rem unix.Timespec
	for unix.ClockNanosleep(unix.CLOCK_MONOTONIC, 0, &req, &rem) == unix.EINTR {
		req = rem
	}
}
