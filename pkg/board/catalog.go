// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package board

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"
)

// ErrUnknownBoard is returned when neither the catalog nor the device tree
// identifies the board.
var ErrUnknownBoard = fmt.Errorf("unknown board")

const (
	// compatiblePath holds NUL-separated device tree compatible strings;
	// Jetson module IDs (p3701, p3767) appear among them.
	compatiblePath = "/proc/device-tree/compatible"

	gpuLoadPath = "/sys/devices/platform/bus@0/17000000.gpu/load"
	emcPath     = "/sys/kernel/debug/cactmon/mc_all"
)

func agxOrin() Config {
	// INA3221 @ 0x40 (hwmon3) and 0x41 (hwmon4)
	const h0 = "/sys/bus/i2c/drivers/ina3221/1-0040/hwmon/hwmon3"
	const h1 = "/sys/bus/i2c/drivers/ina3221/1-0041/hwmon/hwmon4"

	return Config{
		Name:        "agx_orin",
		NumCPUCores: 12,
		GPULoadPath: gpuLoadPath,
		EMCPath:     emcPath,
		PowerRails: []PowerRail{
			{Label: "VDD_GPU_SOC", VoltagePath: h0 + "/in1_input", CurrentPath: h0 + "/curr1_input"},
			{Label: "VDD_CPU_CV", VoltagePath: h0 + "/in2_input", CurrentPath: h0 + "/curr2_input"},
			{Label: "VIN_SYS_5V0", VoltagePath: h0 + "/in3_input", CurrentPath: h0 + "/curr3_input"},
			{Label: "VDDQ_VDD2_1V8AO", VoltagePath: h1 + "/in2_input", CurrentPath: h1 + "/curr2_input"},
		},
		Zones: []ThermalZone{
			{Name: "cpu-thermal", TempPath: "/sys/class/thermal/thermal_zone0/temp"},
			{Name: "gpu-thermal", TempPath: "/sys/class/thermal/thermal_zone1/temp"},
			{Name: "cv0-thermal", TempPath: "/sys/class/thermal/thermal_zone2/temp"},
			{Name: "cv1-thermal", TempPath: "/sys/class/thermal/thermal_zone3/temp"},
			{Name: "cv2-thermal", TempPath: "/sys/class/thermal/thermal_zone4/temp"},
			{Name: "soc0-thermal", TempPath: "/sys/class/thermal/thermal_zone5/temp"},
			{Name: "soc1-thermal", TempPath: "/sys/class/thermal/thermal_zone6/temp"},
			{Name: "soc2-thermal", TempPath: "/sys/class/thermal/thermal_zone7/temp"},
			{Name: "tj-thermal", TempPath: "/sys/class/thermal/thermal_zone8/temp"},
			{Name: "tboard-thermal", TempPath: "/sys/class/thermal/thermal_zone9/temp"},
			{Name: "tdiode-thermal", TempPath: "/sys/class/thermal/thermal_zone10/temp"},
		},
	}
}

func orinNX() Config {
	// INA3221 @ 0x40. Rail labels are the NVIDIA devkit carrier (P3768)
	// defaults and may differ on third-party carriers.
	const h0 = "/sys/bus/i2c/drivers/ina3221/1-0040/hwmon/hwmon3"

	return Config{
		Name:        "orin_nx",
		NumCPUCores: 8,
		GPULoadPath: gpuLoadPath,
		EMCPath:     emcPath,
		PowerRails: []PowerRail{
			{Label: "VDD_GPU_SOC", VoltagePath: h0 + "/in1_input", CurrentPath: h0 + "/curr1_input"},
			{Label: "VDD_CPU_CV", VoltagePath: h0 + "/in2_input", CurrentPath: h0 + "/curr2_input"},
			{Label: "VIN_SYS_5V0", VoltagePath: h0 + "/in3_input", CurrentPath: h0 + "/curr3_input"},
		},
		Zones: []ThermalZone{
			{Name: "cpu-thermal", TempPath: "/sys/class/thermal/thermal_zone0/temp"},
			{Name: "gpu-thermal", TempPath: "/sys/class/thermal/thermal_zone1/temp"},
			{Name: "cv0-thermal", TempPath: "/sys/class/thermal/thermal_zone2/temp"},
			{Name: "cv1-thermal", TempPath: "/sys/class/thermal/thermal_zone3/temp"},
			{Name: "cv2-thermal", TempPath: "/sys/class/thermal/thermal_zone4/temp"},
			{Name: "soc0-thermal", TempPath: "/sys/class/thermal/thermal_zone5/temp"},
			{Name: "soc1-thermal", TempPath: "/sys/class/thermal/thermal_zone6/temp"},
			{Name: "soc2-thermal", TempPath: "/sys/class/thermal/thermal_zone7/temp"},
			{Name: "tj-thermal", TempPath: "/sys/class/thermal/thermal_zone8/temp"},
			{Name: "tboard-thermal", TempPath: "/sys/class/thermal/thermal_zone9/temp"},
		},
	}
}

// Get returns the pre-baked config for a catalog board name.
func Get(name string) (Config, error) {
	switch name {
	case "agx_orin":
		return agxOrin(), nil
	case "orin_nx":
		return orinNX(), nil
	default:
		return Config{}, fmt.Errorf("%w: %q (known: agx_orin, orin_nx)", ErrUnknownBoard, name)
	}
}

// Detect identifies the board from the device tree, then prunes paths that
// are not readable on this particular system so the engine only opens
// metrics that exist. The CPU core count is overridden with the live count
// from /proc/stat when available.
func Detect(logger logr.Logger) (Config, error) {
	compat, err := os.ReadFile(compatiblePath)
	if err != nil {
		return Config{}, fmt.Errorf("%w: cannot read %s: %v", ErrUnknownBoard, compatiblePath, err)
	}

	var cfg Config
	switch {
	case strings.Contains(string(compat), "p3701"):
		cfg = agxOrin() // Jetson AGX Orin module
	case strings.Contains(string(compat), "p3767"):
		cfg = orinNX() // Jetson Orin NX module
	default:
		return Config{}, fmt.Errorf("%w: unrecognized compatible string %q", ErrUnknownBoard, string(compat))
	}

	prune(&cfg, logger)
	return cfg, nil
}

func pathReadable(path string) bool {
	return path != "" && unix.Access(path, unix.R_OK) == nil
}

// prune drops unreadable paths and refreshes the core count from /proc/stat.
func prune(cfg *Config, logger logr.Logger) {
	if cores := countCPUCores("/proc/stat"); cores > 0 {
		if cores != cfg.NumCPUCores {
			logger.V(1).Info("Overriding catalog CPU core count",
				"catalog", cfg.NumCPUCores, "runtime", cores)
		}
		cfg.NumCPUCores = cores
	}

	if !pathReadable(cfg.GPULoadPath) {
		logger.V(1).Info("GPU load path unreadable, disabling", "path", cfg.GPULoadPath)
		cfg.GPULoadPath = ""
	}
	if !pathReadable(cfg.EMCPath) {
		// debugfs may need a setup script or root
		logger.V(1).Info("EMC counter unreadable, disabling", "path", cfg.EMCPath)
		cfg.EMCPath = ""
	}

	rails := cfg.PowerRails[:0]
	for _, r := range cfg.PowerRails {
		if pathReadable(r.VoltagePath) && pathReadable(r.CurrentPath) {
			rails = append(rails, r)
		} else {
			logger.V(1).Info("Power rail unreadable, dropping", "rail", r.Label)
		}
	}
	cfg.PowerRails = rails

	zones := cfg.Zones[:0]
	for _, z := range cfg.Zones {
		if pathReadable(z.TempPath) {
			zones = append(zones, z)
		} else {
			logger.V(1).Info("Thermal zone unreadable, dropping", "zone", z.Name)
		}
	}
	cfg.Zones = zones
}

// countCPUCores counts "cpuN" lines in /proc/stat.
func countCPUCores(statPath string) int {
	f, err := os.Open(statPath)
	if err != nil {
		return 0
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) >= 4 && strings.HasPrefix(line, "cpu") && line[3] >= '0' && line[3] <= '9' {
			count++
		}
	}
	return count
}
