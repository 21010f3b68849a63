// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Trace is a fully decoded trace file.
type Trace struct {
	Header FileHeader
	Fast   []FastSample
	Medium []MediumSample
	Slow   []SlowSample
	Syncs  []SyncPoint
}

// ReadHeader decodes just the file header from path.
func ReadHeader(path string) (FileHeader, error) {
	var hdr FileHeader

	f, err := os.Open(path)
	if err != nil {
		return hdr, fmt.Errorf("failed to open trace file %s: %w", path, err)
	}
	defer f.Close()

	var buf [FileHeaderSize]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		return hdr, fmt.Errorf("failed to read trace header: %w", err)
	}
	hdr.Decode(buf[:])

	if hdr.Magic != Magic {
		return hdr, fmt.Errorf("bad magic 0x%08X (want 0x%08X)", hdr.Magic, Magic)
	}
	if hdr.Version != Version {
		return hdr, fmt.Errorf("unsupported trace version %d (want %d)", hdr.Version, Version)
	}
	return hdr, nil
}

// ReadFile decodes a complete trace file, validating magic and version.
// Array lengths come from the header counts; a truncated file is an error.
func ReadFile(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<16)

	var buf [FileHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, fmt.Errorf("failed to read trace header: %w", err)
	}

	t := &Trace{}
	t.Header.Decode(buf[:])

	if t.Header.Magic != Magic {
		return nil, fmt.Errorf("bad magic 0x%08X (want 0x%08X)", t.Header.Magic, Magic)
	}
	if t.Header.Version != Version {
		return nil, fmt.Errorf("unsupported trace version %d (want %d)", t.Header.Version, Version)
	}

	t.Fast = make([]FastSample, t.Header.NumFastSamples)
	for i := range t.Fast {
		if _, err := io.ReadFull(r, buf[:FastSampleSize]); err != nil {
			return nil, fmt.Errorf("truncated fast sample array at %d/%d: %w", i, len(t.Fast), err)
		}
		t.Fast[i].Decode(buf[:FastSampleSize])
	}

	t.Medium = make([]MediumSample, t.Header.NumMediumSamples)
	for i := range t.Medium {
		if _, err := io.ReadFull(r, buf[:MediumSampleSize]); err != nil {
			return nil, fmt.Errorf("truncated medium sample array at %d/%d: %w", i, len(t.Medium), err)
		}
		t.Medium[i].Decode(buf[:MediumSampleSize])
	}

	t.Slow = make([]SlowSample, t.Header.NumSlowSamples)
	for i := range t.Slow {
		if _, err := io.ReadFull(r, buf[:SlowSampleSize]); err != nil {
			return nil, fmt.Errorf("truncated slow sample array at %d/%d: %w", i, len(t.Slow), err)
		}
		t.Slow[i].Decode(buf[:SlowSampleSize])
	}

	t.Syncs = make([]SyncPoint, t.Header.NumSyncPoints)
	for i := range t.Syncs {
		if _, err := io.ReadFull(r, buf[:SyncPointSize]); err != nil {
			return nil, fmt.Errorf("truncated sync point array at %d/%d: %w", i, len(t.Syncs), err)
		}
		t.Syncs[i].Decode(buf[:SyncPointSize])
	}

	return t, nil
}
