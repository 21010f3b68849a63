// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package trace

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSizes(t *testing.T) {
	assert.Equal(t, 728, FileHeaderSize, "FileHeader must be 728 bytes on disk")
	assert.Equal(t, 98, FastSampleSize, "FastSample must be 98 bytes on disk")
	assert.Equal(t, 104, MediumSampleSize, "MediumSample must be 104 bytes on disk")
	assert.Equal(t, 72, SlowSampleSize, "SlowSample must be 72 bytes on disk")
	assert.Equal(t, 16, SyncPointSize, "SyncPoint must be 16 bytes on disk")
}

func TestFileHeaderFieldOffsets(t *testing.T) {
	hdr := FileHeader{
		Magic:            Magic,
		Version:          Version,
		BoardName:        "agx_orin",
		NumCPUCores:      12,
		NumPowerRails:    4,
		NumThermalZones:  11,
		EMCAvailable:     1,
		FastHz:           1000,
		MediumHz:         100,
		SlowHz:           10,
		NumFastSamples:   0x0102030405060708,
		NumMediumSamples: 2000,
		NumSlowSamples:   300,
		NumSyncPoints:    7,
	}
	hdr.PowerRailNames[0] = "VDD_GPU_SOC"
	hdr.PowerRailNames[3] = "VDDQ_VDD2_1V8AO"
	hdr.ThermalZoneNames[0] = "cpu-thermal"
	hdr.ThermalZoneNames[10] = "tdiode-thermal"

	var buf [FileHeaderSize]byte
	hdr.Encode(buf[:])

	le := binary.LittleEndian
	assert.Equal(t, uint32(0x4E564D54), le.Uint32(buf[0:]), "magic at offset 0")
	assert.Equal(t, uint32(1), le.Uint32(buf[4:]), "version at offset 4")
	assert.Equal(t, byte('a'), buf[8], "board_name at offset 8")
	assert.Equal(t, byte(0), buf[16], "board_name NUL padding")
	assert.Equal(t, byte(12), buf[40], "num_cpu_cores at offset 40")
	assert.Equal(t, byte(4), buf[41], "num_power_rails at offset 41")
	assert.Equal(t, byte(11), buf[42], "num_thermal_zones at offset 42")
	assert.Equal(t, byte(1), buf[43], "emc_available at offset 43")
	assert.Equal(t, uint32(1000), le.Uint32(buf[44:]), "fast_hz at offset 44")
	assert.Equal(t, uint32(100), le.Uint32(buf[48:]), "medium_hz at offset 48")
	assert.Equal(t, uint32(10), le.Uint32(buf[52:]), "slow_hz at offset 52")
	assert.Equal(t, uint64(0x0102030405060708), le.Uint64(buf[56:]), "num_fast_samples at offset 56")
	assert.Equal(t, uint64(2000), le.Uint64(buf[64:]), "num_medium_samples at offset 64")
	assert.Equal(t, uint64(300), le.Uint64(buf[72:]), "num_slow_samples at offset 72")
	assert.Equal(t, uint64(7), le.Uint64(buf[80:]), "num_sync_points at offset 80")

	assert.Equal(t, byte('V'), buf[88], "power_rail_names[0] at offset 88")
	assert.Equal(t, byte('V'), buf[88+3*24], "power_rail_names[3] at offset 160")
	assert.Equal(t, byte('c'), buf[280], "thermal_zone_names[0] at offset 280")
	assert.Equal(t, byte('t'), buf[280+10*24], "thermal_zone_names[10]")

	for i := 664; i < FileHeaderSize; i++ {
		require.Equal(t, byte(0), buf[i], "reserved region must be zero at offset %d", i)
	}
}

func TestFileHeaderRoundTrip(t *testing.T) {
	in := FileHeader{
		Magic:           Magic,
		Version:         Version,
		BoardName:       "orin_nx",
		NumCPUCores:     8,
		NumPowerRails:   3,
		NumThermalZones: 10,
		FastHz:          1000,
		MediumHz:        100,
		SlowHz:          10,
	}
	in.PowerRailNames[0] = "VDD_GPU_SOC"
	in.PowerRailNames[1] = "VDD_CPU_CV"
	in.PowerRailNames[2] = "VIN_SYS_5V0"
	in.ThermalZoneNames[0] = "cpu-thermal"

	var buf [FileHeaderSize]byte
	in.Encode(buf[:])

	var out FileHeader
	out.Decode(buf[:])
	assert.Equal(t, in, out)
}

func TestNameTruncation(t *testing.T) {
	long := "this-rail-label-is-much-longer-than-the-24-byte-slot"

	var hdr FileHeader
	hdr.PowerRailNames[0] = long

	var buf [FileHeaderSize]byte
	hdr.Encode(buf[:])

	// Truncated at capacity-1 so the slot stays NUL-terminated.
	assert.Equal(t, byte(0), buf[88+23], "last byte of the slot must be NUL")

	var out FileHeader
	out.Decode(buf[:])
	assert.Equal(t, long[:23], out.PowerRailNames[0])
	assert.Len(t, out.PowerRailNames[0], 23)
}

func TestFastSampleFieldOffsets(t *testing.T) {
	s := FastSample{
		TimeS:        1.5,
		GPULoad:      1000,
		CPUAggregate: 42.5,
		RAMUsedKB:    123456,
		RAMAvailKB:   654321,
		EMCUtil:      -1.0,
	}
	for i := range s.CPUUtil {
		s.CPUUtil[i] = float32(i)
	}

	var buf [FastSampleSize]byte
	s.Encode(buf[:])

	le := binary.LittleEndian
	assert.Equal(t, 1.5, math.Float64frombits(le.Uint64(buf[0:])), "time_s at offset 0")
	assert.Equal(t, uint16(1000), le.Uint16(buf[8:]), "gpu_load at offset 8")
	for i := 0; i < MaxCPUCores; i++ {
		assert.Equal(t, float32(i), math.Float32frombits(le.Uint32(buf[10+i*4:])),
			"cpu_util[%d]", i)
	}
	assert.Equal(t, float32(42.5), math.Float32frombits(le.Uint32(buf[74:])), "cpu_aggregate at offset 74")
	assert.Equal(t, uint64(123456), le.Uint64(buf[78:]), "ram_used_kb at offset 78")
	assert.Equal(t, uint64(654321), le.Uint64(buf[86:]), "ram_available_kb at offset 86")
	assert.Equal(t, float32(-1.0), math.Float32frombits(le.Uint32(buf[94:])), "emc_util at offset 94")

	var out FastSample
	out.Decode(buf[:])
	assert.Equal(t, s, out)
}

func TestMediumSampleFieldOffsets(t *testing.T) {
	s := MediumSample{TimeS: 0.25}
	for i := 0; i < MaxPowerRails; i++ {
		s.VoltageMV[i] = uint32(5000 + i)
		s.CurrentMA[i] = uint32(1200 + i)
		s.PowerMW[i] = float32(6000 + i)
	}

	var buf [MediumSampleSize]byte
	s.Encode(buf[:])

	le := binary.LittleEndian
	assert.Equal(t, 0.25, math.Float64frombits(le.Uint64(buf[0:])), "time_s at offset 0")
	assert.Equal(t, uint32(5000), le.Uint32(buf[8:]), "voltage_mv[0] at offset 8")
	assert.Equal(t, uint32(5007), le.Uint32(buf[8+7*4:]), "voltage_mv[7]")
	assert.Equal(t, uint32(1200), le.Uint32(buf[40:]), "current_ma[0] at offset 40")
	assert.Equal(t, float32(6000), math.Float32frombits(le.Uint32(buf[72:])), "power_mw[0] at offset 72")

	var out MediumSample
	out.Decode(buf[:])
	assert.Equal(t, s, out)
}

func TestSlowSampleFieldOffsets(t *testing.T) {
	s := SlowSample{TimeS: 3.0}
	for i := 0; i < MaxThermalZones; i++ {
		s.TempC[i] = float32(30 + i)
	}

	var buf [SlowSampleSize]byte
	s.Encode(buf[:])

	le := binary.LittleEndian
	assert.Equal(t, 3.0, math.Float64frombits(le.Uint64(buf[0:])), "time_s at offset 0")
	assert.Equal(t, float32(30), math.Float32frombits(le.Uint32(buf[8:])), "temp_c[0] at offset 8")
	assert.Equal(t, float32(45), math.Float32frombits(le.Uint32(buf[8+15*4:])), "temp_c[15]")

	var out SlowSample
	out.Decode(buf[:])
	assert.Equal(t, s, out)
}

func TestSyncPointFieldOffsets(t *testing.T) {
	p := SyncPoint{SyncID: 3, FastSampleIdx: 1234}

	var buf [SyncPointSize]byte
	p.Encode(buf[:])

	le := binary.LittleEndian
	assert.Equal(t, uint64(3), le.Uint64(buf[0:]), "sync_id at offset 0")
	assert.Equal(t, uint64(1234), le.Uint64(buf[8:]), "fast_sample_idx at offset 8")

	var out SyncPoint
	out.Decode(buf[:])
	assert.Equal(t, p, out)
}
