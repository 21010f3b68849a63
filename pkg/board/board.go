// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package board describes the kernel-surface paths a sampling run reads
// from: the GPU load file, the EMC activity counter, INA3221 power rail
// pairs and thermal zone temperature files. Configs come from the built-in
// catalog (auto-detected from the device tree), or from a YAML file for
// boards the catalog does not know.
package board

import (
	"fmt"

	"github.com/antimetal/nvtrace/pkg/trace"
)

// PowerRail is one INA3221 channel: a voltage file and a current file.
type PowerRail struct {
	Label       string `yaml:"label"`
	VoltagePath string `yaml:"voltage_path"`
	CurrentPath string `yaml:"current_path"`
}

// ThermalZone is a single thermal_zone temp file reporting milli-degrees C.
type ThermalZone struct {
	Name     string `yaml:"name"`
	TempPath string `yaml:"temp_path"`
}

// Config describes every pseudo-file a run samples. Immutable once handed
// to the engine. Paths may be empty or unreadable; the engine disables the
// corresponding metric rather than failing.
type Config struct {
	Name        string        `yaml:"name"`
	NumCPUCores int           `yaml:"num_cpu_cores"`
	GPULoadPath string        `yaml:"gpu_load_path"`
	EMCPath     string        `yaml:"emc_path"` // debugfs actmon counter, empty if unavailable
	PowerRails  []PowerRail   `yaml:"power_rails"`
	Zones       []ThermalZone `yaml:"thermal_zones"`
}

// Validate checks the structural bounds the trace format can represent.
func (c *Config) Validate() error {
	if c.NumCPUCores <= 0 || c.NumCPUCores > trace.MaxCPUCores {
		return fmt.Errorf("num_cpu_cores must be 1-%d, got %d", trace.MaxCPUCores, c.NumCPUCores)
	}
	if len(c.PowerRails) > trace.MaxPowerRails {
		return fmt.Errorf("too many power rails: %d (max %d)", len(c.PowerRails), trace.MaxPowerRails)
	}
	if len(c.Zones) > trace.MaxThermalZones {
		return fmt.Errorf("too many thermal zones: %d (max %d)", len(c.Zones), trace.MaxThermalZones)
	}
	return nil
}
