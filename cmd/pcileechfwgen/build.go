package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pcileechlab/pcileechfwgen/internal/codegen"
	"github.com/pcileechlab/pcileechfwgen/internal/fwerr"
	"github.com/pcileechlab/pcileechfwgen/internal/util"
)

var (
	buildBDF           string
	buildProfile       string
	buildBoard         string
	buildOut           string
	buildProfileDur    float64
	buildVariance      bool
	buildDonorTemplate string
	buildOutTemplate   string
	buildNoSynth       bool
	buildPowerMgmt     bool
	buildErrHandling   bool
	buildPerfCounters  bool
	buildClockXing     bool
	buildConfig        string
	buildUpstream      string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Generate firmware sources from a donor device or saved profile",
	Long: `Extracts a donor profile (or loads a saved one), validates it, and
renders the firmware source tree: hardware modules under generated/,
Vivado scripts under tcl/, and constraint files under constraints/.

Example:
  pcileechfwgen build --bdf 0000:03:00.0 --board pcileech_squirrel --out fw/
  pcileechfwgen build --donor-profile donor_info.json --board pcileech_75t484_x1 --out fw/
  pcileechfwgen build --bdf 03:00.0 --board pcileech_35t325_x1 --out fw/ --profile-duration 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if buildBoard == "" {
			return fwerr.New(fwerr.InputError, "--board is required")
		}
		if buildOut == "" {
			return fwerr.New(fwerr.InputError, "--out is required")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		req := codegen.Request{
			BDF:              buildBDF,
			DonorProfilePath: buildProfile,
			Board:            buildBoard,
			OutputDir:        buildOut,
			Options: codegen.RequestOptions{
				EnableVariance:  buildVariance,
				ProfileDuration: buildProfileDur,
				DonorTemplate:   buildDonorTemplate,
				SkipSynthesis:   buildNoSynth,
				PowerMgmt:       buildPowerMgmt,
				ErrorHandling:   buildErrHandling,
				PerfCounters:    buildPerfCounters,
				ClockCrossing:   buildClockXing,
				ConfigPath:      buildConfig,
				UpstreamCommit:  buildUpstream,
			},
		}

		o := codegen.NewOrchestrator()
		if err := o.Run(ctx, req); err != nil {
			return err
		}

		if buildOutTemplate != "" {
			src := filepath.Join(buildOut, "donor_info.json")
			if err := util.CopyFile(src, buildOutTemplate); err != nil {
				return fwerr.Wrap(fwerr.IoError, err, "write output template %s", buildOutTemplate)
			}
			fmt.Printf("[pcileechfwgen] donor template written to %s\n", buildOutTemplate)
		}

		fmt.Printf("[pcileechfwgen] firmware sources written to %s\n", buildOut)
		if buildNoSynth {
			fmt.Println("[pcileechfwgen] synthesis skipped (--no-synth); run tcl/build_all.tcl in Vivado when ready")
		}
		return nil
	},
}

func init() {
	buildCmd.Flags().StringVar(&buildBDF, "bdf", "", "donor device BDF address (e.g. 0000:03:00.0)")
	buildCmd.Flags().StringVar(&buildProfile, "donor-profile", "", "load donor profile from JSON (mutually exclusive with --bdf)")
	buildCmd.Flags().StringVar(&buildBoard, "board", "", "target FPGA board name (required)")
	buildCmd.Flags().StringVar(&buildOut, "out", "", "output directory (required)")
	buildCmd.Flags().Float64Var(&buildProfileDur, "profile-duration", 0, "behavior profiling duration in seconds (0 disables)")
	buildCmd.Flags().BoolVar(&buildVariance, "enable-variance", false, "enable timing variance in generated modules")
	buildCmd.Flags().StringVar(&buildDonorTemplate, "donor-template", "", "overlay donor template JSON onto the extracted profile")
	buildCmd.Flags().StringVar(&buildOutTemplate, "output-template", "", "write the final profile to this path as a reusable template")
	buildCmd.Flags().BoolVar(&buildNoSynth, "no-synth", false, "generate sources only; do not prepare for synthesis")
	buildCmd.Flags().BoolVar(&buildPowerMgmt, "power-mgmt", false, "emit the power management module")
	buildCmd.Flags().BoolVar(&buildErrHandling, "error-handling", false, "emit the error handling module")
	buildCmd.Flags().BoolVar(&buildPerfCounters, "perf-counters", false, "emit the performance counter module")
	buildCmd.Flags().BoolVar(&buildClockXing, "clock-crossing", false, "emit the clock crossing module")
	buildCmd.Flags().StringVar(&buildConfig, "config", "", "board catalog YAML overlay")
	buildCmd.Flags().StringVar(&buildUpstream, "upstream-commit", "", "pcileech-fpga commit for cached constraints (empty disables fetching)")

	rootCmd.AddCommand(buildCmd)
}
