package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pcileechlab/pcileechfwgen/internal/board"
)

var boardsConfig string

var boardsCmd = &cobra.Command{
	Use:   "boards",
	Short: "List supported FPGA boards",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := board.DefaultConfig()
		if boardsConfig != "" {
			loaded, err := board.LoadConfig(boardsConfig)
			if err != nil {
				return err
			}
			cfg = loaded
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tPART\tIP FAMILY\tLANES")
		for _, b := range cfg.Apply(board.All()) {
			fmt.Fprintf(w, "%s\t%s\t%s\tx%d\n", b.Name, b.FPGAPart, b.IPFamily, b.PCIeLanes)
		}
		return w.Flush()
	},
}

func init() {
	boardsCmd.Flags().StringVar(&boardsConfig, "config", "", "board catalog YAML overlay")
	rootCmd.AddCommand(boardsCmd)
}
