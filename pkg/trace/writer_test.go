// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package trace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader() FileHeader {
	hdr := FileHeader{
		Magic:           Magic,
		Version:         Version,
		BoardName:       "agx_orin",
		NumCPUCores:     12,
		NumPowerRails:   2,
		NumThermalZones: 3,
		EMCAvailable:    1,
		FastHz:          1000,
		MediumHz:        100,
		SlowHz:          10,
	}
	hdr.PowerRailNames[0] = "VDD_GPU_SOC"
	hdr.PowerRailNames[1] = "VDD_CPU_CV"
	hdr.ThermalZoneNames[0] = "cpu-thermal"
	hdr.ThermalZoneNames[1] = "gpu-thermal"
	hdr.ThermalZoneNames[2] = "tj-thermal"
	return hdr
}

func TestWriteFileRoundTrip(t *testing.T) {
	fast := make([]FastSample, 5)
	for i := range fast {
		fast[i] = FastSample{TimeS: float64(i) * 0.001, GPULoad: uint16(i * 100), EMCUtil: 50}
	}
	medium := []MediumSample{{TimeS: 0.01}, {TimeS: 0.02}}
	slow := []SlowSample{{TimeS: 0.1}}
	syncs := []SyncPoint{{SyncID: 1, FastSampleIdx: 2}, {SyncID: 2, FastSampleIdx: 4}}

	path := filepath.Join(t.TempDir(), "run.nvmt")
	require.NoError(t, WriteFile(path, testHeader(), fast, medium, slow, syncs))

	got, err := ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), got.Header.NumFastSamples, "writer must populate counts from buffer sizes")
	assert.Equal(t, uint64(2), got.Header.NumMediumSamples)
	assert.Equal(t, uint64(1), got.Header.NumSlowSamples)
	assert.Equal(t, uint64(2), got.Header.NumSyncPoints)
	assert.Equal(t, fast, got.Fast)
	assert.Equal(t, medium, got.Medium)
	assert.Equal(t, slow, got.Slow)
	assert.Equal(t, syncs, got.Syncs)
}

func TestWriteFileSizeIdentity(t *testing.T) {
	fast := make([]FastSample, 37)
	medium := make([]MediumSample, 11)
	slow := make([]SlowSample, 4)
	syncs := make([]SyncPoint, 3)

	path := filepath.Join(t.TempDir(), "run.nvmt")
	require.NoError(t, WriteFile(path, testHeader(), fast, medium, slow, syncs))

	fi, err := os.Stat(path)
	require.NoError(t, err)

	want := int64(FileHeaderSize +
		FastSampleSize*len(fast) +
		MediumSampleSize*len(medium) +
		SlowSampleSize*len(slow) +
		SyncPointSize*len(syncs))
	assert.Equal(t, want, fi.Size(), "file size must equal 728 + 98F + 104M + 72S + 16K")
}

func TestWriteFileEmptyRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.nvmt")
	require.NoError(t, WriteFile(path, testHeader(), nil, nil, nil, nil))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(FileHeaderSize), fi.Size())

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, got.Fast)
	assert.Empty(t, got.Syncs)
}

func TestWriteFileBadPath(t *testing.T) {
	err := WriteFile(filepath.Join(t.TempDir(), "missing", "run.nvmt"), testHeader(), nil, nil, nil, nil)
	require.Error(t, err, "unwritable output path must surface an error")
}

func TestReadFileRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.nvmt")
	buf := make([]byte, FileHeaderSize)
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	_, err := ReadFile(path)
	assert.ErrorContains(t, err, "bad magic")
}

func TestReadFileRejectsTruncated(t *testing.T) {
	fast := make([]FastSample, 10)
	path := filepath.Join(t.TempDir(), "run.nvmt")
	require.NoError(t, WriteFile(path, testHeader(), fast, nil, nil, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-50], 0o644))

	_, err = ReadFile(path)
	assert.ErrorContains(t, err, "truncated")
}
