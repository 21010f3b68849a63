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

// pseudoFile is a kernel pseudo-file (sysfs/procfs/debugfs) held open for
// the duration of a run. Opening these files on every tick is expensive and
// can fail under load, so the descriptor is opened once at start and every
// read is a single pread at offset zero into a caller-owned buffer, with no
// allocation in the steady state.
//
// An absent or unreadable path yields a disabled pseudoFile (fd -1); reads
// on it return 0 so the caller falls through to its sentinel value.
type pseudoFile struct {
	fd int
}

// openPseudo opens path read-only. An empty path or open failure produces a
// disabled handle rather than an error: the metric is simply off for the run.
func openPseudo(path string) pseudoFile {
	if path == "" {
		return pseudoFile{fd: -1}
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return pseudoFile{fd: -1}
	}
	return pseudoFile{fd: fd}
}

func (p pseudoFile) ok() bool {
	return p.fd >= 0
}

// read fills buf from offset zero and returns the byte count, 0 on any
// failure. Pseudo-file contents are regenerated per read, so no seek state
// is carried between ticks.
func (p pseudoFile) read(buf []byte) int {
	if p.fd < 0 {
		return 0
	}
	n, err := unix.Pread(p.fd, buf, 0)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// readInt reads and parses a single decimal integer. Errors and garbage
// parse as 0, matching the disabled-slot convention.
func (p pseudoFile) readInt() int64 {
	var buf [32]byte
	n := p.read(buf[:])
	if n == 0 {
		return 0
	}
	v, _ := parseInt(buf[:n])
	return v
}

func (p *pseudoFile) close() {
	if p.fd >= 0 {
		_ = unix.Close(p.fd)
		p.fd = -1
	}
}

// parseInt parses an optionally signed decimal integer with leading
// whitespace, returning the value and the index past the last digit.
func parseInt(b []byte) (int64, int) {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n') {
		i++
	}
	neg := false
	if i < len(b) && b[i] == '-' {
		neg = true
		i++
	}
	var v int64
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		v = v*10 + int64(b[i]-'0')
		i++
	}
	if neg {
		v = -v
	}
	return v, i
}

// parseUint parses an unsigned decimal integer at b[i:], then skips
// trailing spaces and tabs so consecutive fields parse back to back.
func parseUint(b []byte, i int) (uint64, int) {
	var v uint64
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		v = v*10 + uint64(b[i]-'0')
		i++
	}
	for i < len(b) && (b[i] == ' ' || b[i] == '\t') {
		i++
	}
	return v, i
}

// skipPast advances past the next occurrence of c, returning -1 when c does
// not appear before the end of the buffer.
func skipPast(b []byte, i int, c byte) int {
	for i < len(b) {
		if b[i] == c {
			return i + 1
		}
		i++
	}
	return -1
}

// hasPrefix reports whether b[i:] begins with prefix.
func hasPrefix(b []byte, i int, prefix string) bool {
	if len(b)-i < len(prefix) {
		return false
	}
	for j := 0; j < len(prefix); j++ {
		if b[i+j] != prefix[j] {
			return false
		}
	}
	return true
}
