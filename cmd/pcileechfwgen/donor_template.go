package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pcileechlab/pcileechfwgen/internal/color"
	"github.com/pcileechlab/pcileechfwgen/internal/donor"
	"github.com/pcileechlab/pcileechfwgen/internal/fwerr"
	"github.com/pcileechlab/pcileechfwgen/internal/pci"
)

var (
	dtBDF      string
	dtBlank    bool
	dtCompact  bool
	dtOut      string
	dtValidate string
)

var donorTemplateCmd = &cobra.Command{
	Use:   "donor-template",
	Short: "Create or validate a donor template file",
	Long: `Writes a donor template JSON. With --bdf the template is pre-filled
from a live device; with --blank every overridable field is null so the
values can be filled in by hand. --validate checks an existing file
against the profile schema instead of writing one.

Example:
  pcileechfwgen donor-template --blank -o template.json
  pcileechfwgen donor-template --bdf 0000:03:00.0 -o donor.json
  pcileechfwgen donor-template --validate donor.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if dtValidate != "" {
			if err := donor.ValidateProfileFile(dtValidate); err != nil {
				return err
			}
			fmt.Println(color.OK(fmt.Sprintf("%s conforms to the profile schema", dtValidate)))
			return nil
		}

		var data []byte
		var err error

		switch {
		case dtBlank && dtBDF != "":
			return fwerr.New(fwerr.InputError, "--blank and --bdf are mutually exclusive")

		case dtBlank:
			tmpl := donor.BlankTemplate()
			if dtCompact {
				data, err = json.Marshal(tmpl)
			} else {
				data, err = json.MarshalIndent(tmpl, "", "  ")
			}
			if err != nil {
				return fwerr.Wrap(fwerr.IoError, err, "marshal blank template")
			}

		case dtBDF != "":
			bdf, perr := pci.ParseBDF(dtBDF)
			if perr != nil {
				return fwerr.Wrap(fwerr.InputError, perr, "bad --bdf")
			}
			profile, cerr := donor.NewCollector().Collect(bdf)
			if cerr != nil {
				return cerr
			}
			if dtCompact {
				data, err = json.Marshal(profile)
			} else {
				data, err = profile.ToJSON()
			}
			if err != nil {
				return fwerr.Wrap(fwerr.IoError, err, "marshal profile")
			}

		default:
			return fwerr.New(fwerr.InputError, "one of --bdf, --blank, or --validate is required")
		}

		data = append(data, '\n')
		if dtOut == "" || dtOut == "-" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(dtOut, data, 0644); err != nil {
			return fwerr.Wrap(fwerr.IoError, err, "write template %s", dtOut)
		}
		fmt.Printf("[pcileechfwgen] donor template written to %s\n", dtOut)
		return nil
	},
}

func init() {
	donorTemplateCmd.Flags().StringVar(&dtBDF, "bdf", "", "pre-fill the template from this device")
	donorTemplateCmd.Flags().BoolVar(&dtBlank, "blank", false, "write a blank template with all fields null")
	donorTemplateCmd.Flags().BoolVar(&dtCompact, "compact", false, "write compact (non-indented) JSON")
	donorTemplateCmd.Flags().StringVarP(&dtOut, "output", "o", "", "output path (default stdout)")
	donorTemplateCmd.Flags().StringVar(&dtValidate, "validate", "", "validate an existing template file")

	rootCmd.AddCommand(donorTemplateCmd)
}
