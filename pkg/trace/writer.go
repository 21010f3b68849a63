// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package trace

import (
	"bufio"
	"fmt"
	"os"
)

// WriteFile emits a complete trace file in a single pass: header, fast
// array, medium array, slow array, sync-point index. The header's sample
// counts are populated from the lengths of the slices passed in, so the
// caller only fills in the run description fields.
func WriteFile(path string, hdr FileHeader, fast []FastSample, medium []MediumSample, slow []SlowSample, syncs []SyncPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create trace file %s: %w", path, err)
	}
	defer f.Close()

	hdr.NumFastSamples = uint64(len(fast))
	hdr.NumMediumSamples = uint64(len(medium))
	hdr.NumSlowSamples = uint64(len(slow))
	hdr.NumSyncPoints = uint64(len(syncs))

	w := bufio.NewWriterSize(f, 1<<16)

	var buf [FileHeaderSize]byte
	hdr.Encode(buf[:])
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("failed to write trace header: %w", err)
	}

	for i := range fast {
		fast[i].Encode(buf[:FastSampleSize])
		if _, err := w.Write(buf[:FastSampleSize]); err != nil {
			return fmt.Errorf("failed to write fast samples: %w", err)
		}
	}
	for i := range medium {
		medium[i].Encode(buf[:MediumSampleSize])
		if _, err := w.Write(buf[:MediumSampleSize]); err != nil {
			return fmt.Errorf("failed to write medium samples: %w", err)
		}
	}
	for i := range slow {
		slow[i].Encode(buf[:SlowSampleSize])
		if _, err := w.Write(buf[:SlowSampleSize]); err != nil {
			return fmt.Errorf("failed to write slow samples: %w", err)
		}
	}
	for i := range syncs {
		syncs[i].Encode(buf[:SyncPointSize])
		if _, err := w.Write(buf[:SyncPointSize]); err != nil {
			return fmt.Errorf("failed to write sync points: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}
