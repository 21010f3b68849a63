// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package trace defines the packed binary trace format emitted by the
// sampling engine and provides a writer and reader for it.
//
// A trace file is a fixed-layout header followed by three homogeneous
// sample arrays and a sync-point index:
//
//	[FileHeader: 728 bytes]
//	[FastSample   × NumFastSamples]
//	[MediumSample × NumMediumSamples]
//	[SlowSample   × NumSlowSamples]
//	[SyncPoint    × NumSyncPoints]
//
// All fields are little-endian with no internal alignment padding. Go
// structs carry no layout guarantees, so every record type encodes and
// decodes through explicit byte offsets; the per-type Size constants are
// the on-disk record sizes, not unsafe.Sizeof values.
package trace

import (
	"encoding/binary"
	"math"
)

const (
	// Magic is "NVMT" (NVMetrics Trace) read as a big-endian u32; it is
	// stored little-endian, so the first four bytes on disk are "TMVN".
	Magic   uint32 = 0x4E564D54
	Version uint32 = 1

	MaxCPUCores     = 16
	MaxPowerRails   = 8
	MaxThermalZones = 16

	// nameLen is the fixed width of rail and zone name fields in the header.
	nameLen      = 24
	boardNameLen = 32

	FileHeaderSize   = 728
	FastSampleSize   = 98
	MediumSampleSize = 104
	SlowSampleSize   = 72
	SyncPointSize    = 16
)

// FileHeader describes the run that produced a trace file. Sample counts
// reflect the final buffer sizes at the time the file was written.
type FileHeader struct {
	Magic   uint32
	Version uint32

	BoardName       string
	NumCPUCores     uint8
	NumPowerRails   uint8
	NumThermalZones uint8
	EMCAvailable    uint8

	FastHz   uint32
	MediumHz uint32
	SlowHz   uint32

	NumFastSamples   uint64
	NumMediumSamples uint64
	NumSlowSamples   uint64
	NumSyncPoints    uint64

	PowerRailNames   [MaxPowerRails]string
	ThermalZoneNames [MaxThermalZones]string
}

// FastSample holds compute and memory activity captured at the fast cadence.
type FastSample struct {
	TimeS        float64
	GPULoad      uint16 // 0..1000, divide by 10 for percent
	CPUUtil      [MaxCPUCores]float32
	CPUAggregate float32
	RAMUsedKB    uint64
	RAMAvailKB   uint64
	EMCUtil      float32 // -1 when the EMC counter was unavailable
}

// MediumSample holds per-rail instantaneous electrical readings.
type MediumSample struct {
	TimeS     float64
	VoltageMV [MaxPowerRails]uint32
	CurrentMA [MaxPowerRails]uint32
	PowerMW   [MaxPowerRails]float32
}

// SlowSample holds thermal zone temperatures in degrees Celsius.
type SlowSample struct {
	TimeS float64
	TempC [MaxThermalZones]float32
}

// SyncPoint correlates an external event with the fast-tier timeline.
// IDs form the dense sequence 1, 2, ... in insertion order.
type SyncPoint struct {
	SyncID        uint64
	FastSampleIdx uint64
}

// putName copies s into a fixed-width NUL-padded field, truncating at
// width-1 so the result is always NUL-terminated within its slot.
func putName(dst []byte, s string, width int) {
	n := len(s)
	if n > width-1 {
		n = width - 1
	}
	copy(dst[:n], s[:n])
	for i := n; i < width; i++ {
		dst[i] = 0
	}
}

// getName reads a NUL-terminated string out of a fixed-width field.
func getName(src []byte) string {
	for i, b := range src {
		if b == 0 {
			return string(src[:i])
		}
	}
	return string(src)
}

// Encode writes the header into dst, which must be at least FileHeaderSize
// bytes. Reserved trailing bytes are zeroed.
func (h *FileHeader) Encode(dst []byte) {
	le := binary.LittleEndian

	le.PutUint32(dst[0:], h.Magic)
	le.PutUint32(dst[4:], h.Version)
	putName(dst[8:40], h.BoardName, boardNameLen)
	dst[40] = h.NumCPUCores
	dst[41] = h.NumPowerRails
	dst[42] = h.NumThermalZones
	dst[43] = h.EMCAvailable
	le.PutUint32(dst[44:], h.FastHz)
	le.PutUint32(dst[48:], h.MediumHz)
	le.PutUint32(dst[52:], h.SlowHz)
	le.PutUint64(dst[56:], h.NumFastSamples)
	le.PutUint64(dst[64:], h.NumMediumSamples)
	le.PutUint64(dst[72:], h.NumSlowSamples)
	le.PutUint64(dst[80:], h.NumSyncPoints)

	for i := 0; i < MaxPowerRails; i++ {
		off := 88 + i*nameLen
		putName(dst[off:off+nameLen], h.PowerRailNames[i], nameLen)
	}
	for i := 0; i < MaxThermalZones; i++ {
		off := 280 + i*nameLen
		putName(dst[off:off+nameLen], h.ThermalZoneNames[i], nameLen)
	}
	for i := 664; i < FileHeaderSize; i++ {
		dst[i] = 0
	}
}

// Decode parses a header from src, which must be at least FileHeaderSize bytes.
func (h *FileHeader) Decode(src []byte) {
	le := binary.LittleEndian

	h.Magic = le.Uint32(src[0:])
	h.Version = le.Uint32(src[4:])
	h.BoardName = getName(src[8:40])
	h.NumCPUCores = src[40]
	h.NumPowerRails = src[41]
	h.NumThermalZones = src[42]
	h.EMCAvailable = src[43]
	h.FastHz = le.Uint32(src[44:])
	h.MediumHz = le.Uint32(src[48:])
	h.SlowHz = le.Uint32(src[52:])
	h.NumFastSamples = le.Uint64(src[56:])
	h.NumMediumSamples = le.Uint64(src[64:])
	h.NumSlowSamples = le.Uint64(src[72:])
	h.NumSyncPoints = le.Uint64(src[80:])

	for i := 0; i < MaxPowerRails; i++ {
		off := 88 + i*nameLen
		h.PowerRailNames[i] = getName(src[off : off+nameLen])
	}
	for i := 0; i < MaxThermalZones; i++ {
		off := 280 + i*nameLen
		h.ThermalZoneNames[i] = getName(src[off : off+nameLen])
	}
}

// Encode writes the sample into dst, which must be at least FastSampleSize bytes.
func (s *FastSample) Encode(dst []byte) {
	le := binary.LittleEndian

	le.PutUint64(dst[0:], math.Float64bits(s.TimeS))
	le.PutUint16(dst[8:], s.GPULoad)
	for i := 0; i < MaxCPUCores; i++ {
		le.PutUint32(dst[10+i*4:], math.Float32bits(s.CPUUtil[i]))
	}
	le.PutUint32(dst[74:], math.Float32bits(s.CPUAggregate))
	le.PutUint64(dst[78:], s.RAMUsedKB)
	le.PutUint64(dst[86:], s.RAMAvailKB)
	le.PutUint32(dst[94:], math.Float32bits(s.EMCUtil))
}

// Decode parses a sample from src, which must be at least FastSampleSize bytes.
func (s *FastSample) Decode(src []byte) {
	le := binary.LittleEndian

	s.TimeS = math.Float64frombits(le.Uint64(src[0:]))
	s.GPULoad = le.Uint16(src[8:])
	for i := 0; i < MaxCPUCores; i++ {
		s.CPUUtil[i] = math.Float32frombits(le.Uint32(src[10+i*4:]))
	}
	s.CPUAggregate = math.Float32frombits(le.Uint32(src[74:]))
	s.RAMUsedKB = le.Uint64(src[78:])
	s.RAMAvailKB = le.Uint64(src[86:])
	s.EMCUtil = math.Float32frombits(le.Uint32(src[94:]))
}

// Encode writes the sample into dst, which must be at least MediumSampleSize bytes.
func (s *MediumSample) Encode(dst []byte) {
	le := binary.LittleEndian

	le.PutUint64(dst[0:], math.Float64bits(s.TimeS))
	for i := 0; i < MaxPowerRails; i++ {
		le.PutUint32(dst[8+i*4:], s.VoltageMV[i])
	}
	for i := 0; i < MaxPowerRails; i++ {
		le.PutUint32(dst[40+i*4:], s.CurrentMA[i])
	}
	for i := 0; i < MaxPowerRails; i++ {
		le.PutUint32(dst[72+i*4:], math.Float32bits(s.PowerMW[i]))
	}
}

// Decode parses a sample from src, which must be at least MediumSampleSize bytes.
func (s *MediumSample) Decode(src []byte) {
	le := binary.LittleEndian

	s.TimeS = math.Float64frombits(le.Uint64(src[0:]))
	for i := 0; i < MaxPowerRails; i++ {
		s.VoltageMV[i] = le.Uint32(src[8+i*4:])
	}
	for i := 0; i < MaxPowerRails; i++ {
		s.CurrentMA[i] = le.Uint32(src[40+i*4:])
	}
	for i := 0; i < MaxPowerRails; i++ {
		s.PowerMW[i] = math.Float32frombits(le.Uint32(src[72+i*4:]))
	}
}

// Encode writes the sample into dst, which must be at least SlowSampleSize bytes.
func (s *SlowSample) Encode(dst []byte) {
	le := binary.LittleEndian

	le.PutUint64(dst[0:], math.Float64bits(s.TimeS))
	for i := 0; i < MaxThermalZones; i++ {
		le.PutUint32(dst[8+i*4:], math.Float32bits(s.TempC[i]))
	}
}

// Decode parses a sample from src, which must be at least SlowSampleSize bytes.
func (s *SlowSample) Decode(src []byte) {
	le := binary.LittleEndian

	s.TimeS = math.Float64frombits(le.Uint64(src[0:]))
	for i := 0; i < MaxThermalZones; i++ {
		s.TempC[i] = math.Float32frombits(le.Uint32(src[8+i*4:]))
	}
}

// Encode writes the sync point into dst, which must be at least SyncPointSize bytes.
func (p *SyncPoint) Encode(dst []byte) {
	le := binary.LittleEndian

	le.PutUint64(dst[0:], p.SyncID)
	le.PutUint64(dst[8:], p.FastSampleIdx)
}

// Decode parses a sync point from src, which must be at least SyncPointSize bytes.
func (p *SyncPoint) Decode(src []byte) {
	le := binary.LittleEndian

	p.SyncID = le.Uint64(src[0:])
	p.FastSampleIdx = le.Uint64(src[8:])
}
