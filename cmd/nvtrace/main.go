// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

// nvtrace records high-frequency telemetry traces on NVIDIA Jetson boards:
// GPU/CPU/RAM/EMC at ~1 kHz, INA3221 power rails at ~100 Hz and thermal
// zones at ~10 Hz, packed into a single binary trace file.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/antimetal/nvtrace/pkg/board"
	"github.com/antimetal/nvtrace/pkg/sampler"
	"github.com/antimetal/nvtrace/pkg/trace"
)

var (
	verbose bool

	boardName string
	boardFile string

	outputPath string
	duration   time.Duration
	fastHz     uint32
	mediumHz   uint32
	slowHz     uint32
	syncEvery  time.Duration
)

func newLogger() logr.Logger {
	if !verbose {
		return logr.Discard()
	}
	zapLog, err := zap.NewDevelopment()
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(zapLog)
}

// resolveBoard picks the board config: an explicit YAML file wins, then a
// catalog name, then device tree auto-detection.
func resolveBoard(logger logr.Logger) (board.Config, error) {
	if boardFile != "" {
		return board.LoadFile(boardFile)
	}
	if boardName != "" {
		return board.Get(boardName)
	}
	return board.Detect(logger)
}

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a telemetry trace",
		Long: `Record samples all three tiers until the duration elapses or an
interrupt arrives, then writes the complete trace in one pass.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "trace.nvmt", "output trace file")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "recording duration (0 = until Ctrl-C)")
	cmd.Flags().Uint32Var(&fastHz, "fast-hz", 1000, "fast tier rate (GPU/CPU/RAM/EMC)")
	cmd.Flags().Uint32Var(&mediumHz, "medium-hz", 100, "medium tier rate (power rails)")
	cmd.Flags().Uint32Var(&slowHz, "slow-hz", 10, "slow tier rate (thermal zones)")
	cmd.Flags().DurationVar(&syncEvery, "sync-every", 0, "record a sync point at this period (0 = none)")
	return cmd
}

func runRecord(cmd *cobra.Command) error {
	logger := newLogger()

	b, err := resolveBoard(logger)
	if err != nil {
		return err
	}

	cfg := sampler.DefaultConfig()
	cfg.FastHz = fastHz
	cfg.MediumHz = mediumHz
	cfg.SlowHz = slowHz

	engine, err := sampler.New(logger, outputPath, b, cfg)
	if err != nil {
		return err
	}

	if err := engine.Start(); err != nil {
		return err
	}
	defer engine.Close()

	engine.WaitForWarmup()
	fmt.Printf("Recording %s on %s (fast %d Hz, medium %d Hz, slow %d Hz)\n",
		outputPath, b.Name, cfg.FastHz, cfg.MediumHz, cfg.SlowHz)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var timeout <-chan time.Time
	if duration > 0 {
		timeout = time.After(duration)
	}

	var syncTick <-chan time.Time
	if syncEvery > 0 {
		ticker := time.NewTicker(syncEvery)
		defer ticker.Stop()
		syncTick = ticker.C
	}

	for {
		select {
		case <-sigCh:
			fmt.Println("\nInterrupted, writing trace...")
			return finishRecord(engine)
		case <-timeout:
			return finishRecord(engine)
		case <-syncTick:
			id := engine.Sync()
			logger.V(1).Info("Recorded sync point", "id", id, "fastSamples", engine.SampleCount())
		}
	}
}

func finishRecord(engine *sampler.Engine) error {
	if err := engine.Stop(); err != nil {
		return err
	}

	hdr, err := trace.ReadHeader(outputPath)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s: %d fast, %d medium, %d slow samples, %d sync points\n",
		outputPath, hdr.NumFastSamples, hdr.NumMediumSamples, hdr.NumSlowSamples, hdr.NumSyncPoints)
	return nil
}

func newDetectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Detect the board and print its sampling config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := board.Detect(newLogger())
			if err != nil {
				return err
			}

			fmt.Printf("Board: %s\n", cfg.Name)
			fmt.Printf("CPU cores: %d\n", cfg.NumCPUCores)
			fmt.Printf("GPU load: %s\n", orNone(cfg.GPULoadPath))
			fmt.Printf("EMC counter: %s\n", orNone(cfg.EMCPath))
			fmt.Printf("Power rails (%d):\n", len(cfg.PowerRails))
			for _, r := range cfg.PowerRails {
				fmt.Printf("  %-18s %s\n", r.Label, r.VoltagePath)
			}
			fmt.Printf("Thermal zones (%d):\n", len(cfg.Zones))
			for _, z := range cfg.Zones {
				fmt.Printf("  %-18s %s\n", z.Name, z.TempPath)
			}
			return nil
		},
	}
}

func orNone(path string) string {
	if path == "" {
		return "(unavailable)"
	}
	return path
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info FILE",
		Short: "Print the header of a trace file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hdr, err := trace.ReadHeader(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Board: %s\n", hdr.BoardName)
			fmt.Printf("Version: %d\n", hdr.Version)
			fmt.Printf("CPU cores: %d\n", hdr.NumCPUCores)
			fmt.Printf("EMC available: %t\n", hdr.EMCAvailable == 1)
			fmt.Printf("Rates: fast %d Hz, medium %d Hz, slow %d Hz\n",
				hdr.FastHz, hdr.MediumHz, hdr.SlowHz)
			fmt.Printf("Samples: %d fast, %d medium, %d slow, %d sync points\n",
				hdr.NumFastSamples, hdr.NumMediumSamples, hdr.NumSlowSamples, hdr.NumSyncPoints)
			fmt.Printf("Power rails (%d):\n", hdr.NumPowerRails)
			for i := 0; i < int(hdr.NumPowerRails); i++ {
				fmt.Printf("  %s\n", hdr.PowerRailNames[i])
			}
			fmt.Printf("Thermal zones (%d):\n", hdr.NumThermalZones)
			for i := 0; i < int(hdr.NumThermalZones); i++ {
				fmt.Printf("  %s\n", hdr.ThermalZoneNames[i])
			}
			return nil
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:   "nvtrace",
		Short: "High-frequency telemetry tracer for NVIDIA Jetson boards",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&boardName, "board", "", "catalog board name (agx_orin, orin_nx); default auto-detect")
	root.PersistentFlags().StringVar(&boardFile, "board-file", "", "YAML board config file (overrides --board)")

	root.AddCommand(newRecordCmd())
	root.AddCommand(newDetectCmd())
	root.AddCommand(newInfoCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
