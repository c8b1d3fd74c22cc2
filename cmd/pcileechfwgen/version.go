package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pcileechlab/pcileechfwgen/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the generator version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pcileechfwgen %s\n", version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
