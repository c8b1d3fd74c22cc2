package codegen

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/pcileechlab/pcileechfwgen/internal/donor"
	"github.com/pcileechlab/pcileechfwgen/internal/fwerr"
)

// anchor describes one constant re-parsed from a rendered file and the
// identity value it must equal.
type anchor struct {
	label   string
	pattern string
	re      *regexp.Regexp
	base    int // numeric base, or boolBase for true/false words
	want    func(*donor.Profile) uint64
}

// boolBase marks an anchor whose capture is a true/false word.
const boolBase = 0

// deviceConfigAnchors re-parse pcileech_device_config.sv.
var deviceConfigAnchors = []anchor{
	{
		label:   "VENDOR_ID",
		pattern: `\bVENDOR_ID\s*=\s*16'h([0-9a-fA-F]{4})`,
		base:    16,
		want:    func(p *donor.Profile) uint64 { return uint64(p.Identity.VendorID) },
	},
	{
		label:   "DEVICE_ID",
		pattern: `\bDEVICE_ID\s*=\s*16'h([0-9a-fA-F]{4})`,
		base:    16,
		want:    func(p *donor.Profile) uint64 { return uint64(p.Identity.DeviceID) },
	},
	{
		label:   "SUBSYS_VENDOR_ID",
		pattern: `\bSUBSYS_VENDOR_ID\s*=\s*16'h([0-9a-fA-F]{4})`,
		base:    16,
		want:    func(p *donor.Profile) uint64 { return uint64(p.Identity.SubsysVendorID) },
	},
	{
		label:   "CLASS_CODE",
		pattern: `\bCLASS_CODE\s*=\s*24'h([0-9a-fA-F]{6})`,
		base:    16,
		want:    func(p *donor.Profile) uint64 { return uint64(p.Identity.ClassCode) },
	},
	{
		label:   "REVISION_ID",
		pattern: `\bREVISION_ID\s*=\s*8'h([0-9a-fA-F]{2})`,
		base:    16,
		want:    func(p *donor.Profile) uint64 { return uint64(p.Identity.RevisionID) },
	},
	{
		label:   "MSIX_ENABLED",
		pattern: `\bMSIX_ENABLED\s*=\s*1'b([01])`,
		base:    10,
		want:    msixEnabledValue,
	},
}

// msixEnabledValue encodes MSI-X presence the way both anchor files do.
func msixEnabledValue(p *donor.Profile) uint64 {
	if p.Msix != nil {
		return 1
	}
	return 0
}

// ipConfigAnchors re-parse the IP configuration script.
var ipConfigAnchors = []anchor{
	{
		label:   "CONFIG.Vendor_ID",
		pattern: `CONFIG\.Vendor_ID\s+"([0-9a-fA-F]{4})"`,
		base:    16,
		want:    func(p *donor.Profile) uint64 { return uint64(p.Identity.VendorID) },
	},
	{
		label:   "CONFIG.Device_ID",
		pattern: `CONFIG\.Device_ID\s+"([0-9a-fA-F]{4})"`,
		base:    16,
		want:    func(p *donor.Profile) uint64 { return uint64(p.Identity.DeviceID) },
	},
	{
		label:   "CONFIG.Subsystem_Vendor_ID",
		pattern: `CONFIG\.Subsystem_Vendor_ID\s+"([0-9a-fA-F]{4})"`,
		base:    16,
		want:    func(p *donor.Profile) uint64 { return uint64(p.Identity.SubsysVendorID) },
	},
	{
		label:   "CONFIG.Revision_ID",
		pattern: `CONFIG\.Revision_ID\s+"([0-9a-fA-F]{2})"`,
		base:    16,
		want:    func(p *donor.Profile) uint64 { return uint64(p.Identity.RevisionID) },
	},
	{
		label:   "CONFIG.MSIX_Enabled",
		pattern: `CONFIG\.MSIX_Enabled\s+"(true|false)"`,
		base:    boolBase,
		want:    msixEnabledValue,
	},
	{
		label:   "CONFIG.MSIX_Table_Size",
		pattern: `CONFIG\.MSIX_Table_Size\s+"([0-9]+)"`,
		base:    10,
		want: func(p *donor.Profile) uint64 {
			if p.Msix == nil {
				return 0
			}
			return uint64(p.Msix.NumVectors - 1)
		},
	},
}

// topWrapperAnchors re-parse the wrapper's debug-status constant.
var topWrapperAnchors = []anchor{
	{
		label:   "DEBUG_STATUS",
		pattern: `\bDEBUG_STATUS\s*=\s*\{16'h([0-9a-fA-F]{4}),\s*16'h([0-9a-fA-F]{4})\}`,
		base:    16,
		want: func(p *donor.Profile) uint64 {
			return uint64(p.Identity.VendorID)<<16 | uint64(p.Identity.DeviceID)
		},
	},
}

// CrossCheck re-parses the anchor constants of the rendered outputs and
// verifies they match the profile. A mismatch is a generator bug and
// aborts the build.
func CrossCheck(p *donor.Profile, deviceConfig, ipConfig, topWrapper []byte) error {
	if err := checkAnchors(p, "pcileech_device_config.sv", deviceConfig, deviceConfigAnchors); err != nil {
		return err
	}
	if err := checkAnchors(p, "ip_config", ipConfig, ipConfigAnchors); err != nil {
		return err
	}
	return checkAnchors(p, "pcileech_top_wrapper.sv", topWrapper, topWrapperAnchors)
}

func checkAnchors(p *donor.Profile, file string, content []byte, anchors []anchor) error {
	for i := range anchors {
		a := &anchors[i]
		if a.re == nil {
			a.re = regexp.MustCompile(a.pattern)
		}

		m := a.re.FindSubmatch(content)
		if m == nil {
			return fwerr.AtKey(fwerr.CodegenInconsistency, a.label,
				"%s: anchor constant not found", file)
		}

		got, err := parseAnchorValue(m[1:], a.base)
		if err != nil {
			return fwerr.AtKey(fwerr.CodegenInconsistency, a.label,
				"%s: unparseable anchor: %v", file, err)
		}
		if want := a.want(p); got != want {
			return fwerr.AtKey(fwerr.CodegenInconsistency, a.label,
				"%s: rendered 0x%x, profile has 0x%x", file, got, want)
		}
	}
	return nil
}

// parseAnchorValue concatenates capture groups into one value (multi-group
// anchors pack high-to-low, 16 bits per group). boolBase anchors carry a
// single true/false word.
func parseAnchorValue(groups [][]byte, base int) (uint64, error) {
	if base == boolBase {
		switch string(groups[0]) {
		case "true":
			return 1, nil
		case "false":
			return 0, nil
		default:
			return 0, fmt.Errorf("parse %q: not a boolean word", groups[0])
		}
	}

	var val uint64
	for _, g := range groups {
		part, err := strconv.ParseUint(string(g), base, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %q: %w", g, err)
		}
		val = val<<16 | part
	}
	return val, nil
}
