package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pcileechlab/pcileechfwgen/internal/color"
	"github.com/pcileechlab/pcileechfwgen/internal/fwerr"
)

var rootCmd = &cobra.Command{
	Use:   "pcileechfwgen",
	Short: "PCILeech FPGA firmware generator",
	Long: `pcileechfwgen generates custom PCILeech FPGA firmware sources from real
donor PCI/PCIe devices.

It reads the donor device's configuration space via sysfs, extracts the
capability chain, BAR layout, and MSI-X tables, and emits a self-consistent
tree of hardware modules, Vivado TCL scripts, and constraint files that
present the donor's identity to the host.

Set PCILEECH_SYSFS_ROOT to point device reads at a different tree (useful
for offline builds from captured sysfs snapshots).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.Fail(err.Error()))
		if kind := fwerr.KindOf(err); kind != fwerr.KindUnknown {
			fmt.Fprintf(os.Stderr, "error kind: %s\n", kind)
		}
		os.Exit(fwerr.ExitCode(err))
	}
}
