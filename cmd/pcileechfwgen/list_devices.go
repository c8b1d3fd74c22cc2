package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pcileechlab/pcileechfwgen/internal/donor"
	"github.com/pcileechlab/pcileechfwgen/internal/pci"
	"github.com/pcileechlab/pcileechfwgen/internal/sysfs"
)

var listDevicesCmd = &cobra.Command{
	Use:   "list-devices",
	Short: "List PCI devices visible under the sysfs root",
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := sysfs.NewReader()
		bdfs, err := reader.ListDevices()
		if err != nil {
			return err
		}
		if len(bdfs) == 0 {
			fmt.Println("No PCI devices found.")
			return nil
		}

		db := pci.LoadIDDatabase()
		collector := donor.NewCollectorWithReader(reader)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, bdf := range bdfs {
			profile, err := collector.Collect(bdf)
			if err != nil {
				fmt.Fprintf(w, "%s\t[unreadable: %v]\n", bdf, err)
				continue
			}
			id := profile.Identity
			fmt.Fprintf(w, "%s\t%04x:%04x\t%s\t(rev %02x)\n",
				bdf, id.VendorID, id.DeviceID, db.Describe(id), id.RevisionID)
		}
		w.Flush()

		fmt.Printf("\nTotal: %d devices\n", len(bdfs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listDevicesCmd)
}
