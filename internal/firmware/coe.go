// Package firmware emits the shadow config-space data files consumed by
// the PCILeech BRAM initializers.
package firmware

import (
	"fmt"
	"strings"

	"github.com/pcileechlab/pcileechfwgen/internal/donor"
	"github.com/pcileechlab/pcileechfwgen/internal/pci"
)

// shadowCfgSpaceWords is the shadow config space BRAM size (4KB = 1024 DWORDs).
const shadowCfgSpaceWords = 1024

// formatCOE renders a COE file from a dword image.
func formatCOE(banner string, words []uint32) string {
	lines := make([]string, 0, len(words)+3)
	lines = append(lines, strings.TrimRight(banner, "\n"))
	lines = append(lines, "memory_initialization_radix=16;")
	lines = append(lines, "memory_initialization_vector=")

	for i, w := range words {
		sep := ","
		if i == len(words)-1 {
			sep = ";"
		}
		lines = append(lines, fmt.Sprintf("%08x%s", w, sep))
	}
	return strings.Join(lines, "\n") + "\n"
}

// GenerateConfigSpaceCOE renders the donor config space as a 1024-dword
// COE image. A 256-byte donor capture zero-fills the extended area.
func GenerateConfigSpaceCOE(cs *pci.ConfigSpace, banner string) string {
	words := make([]uint32, shadowCfgSpaceWords)
	for i := 0; i*4 < cs.Size && i < shadowCfgSpaceWords; i++ {
		words[i] = cs.ReadU32(i * 4)
	}

	return formatCOE(
		"; pcileech_cfgspace.coe - donor configuration space (4KB shadow)\n"+banner+";\n",
		words,
	)
}

// headerWritemasks marks the host-writable Type 0 header registers.
var headerWritemasks = map[int]uint32{
	0x04: 0x0000FFFF, // command
	0x0C: 0x0000FF00, // latency timer
	0x3C: 0x000000FF, // interrupt line
}

// GenerateWritemaskCOE renders the per-bit writability mask for the shadow
// config space: 1 = host-writable, 0 = read-only. Legacy-space masks are
// driven by the profile's analyzed BAR descriptors and typed capability
// records; extended-space masks come from the scrub-filtered capability
// set still present in the emitted image.
func GenerateWritemaskCOE(p *donor.Profile, scrubbed *pci.ConfigSpace, banner string) string {
	masks := make([]uint32, shadowCfgSpaceWords)

	for offset, mask := range headerWritemasks {
		masks[offset/4] = mask
	}

	applyBarWritemasks(p, masks)
	applyCapabilityWritemasks(capabilitiesOf(p, scrubbed), masks)
	applyExtCapabilityWritemasks(scrubbed, masks)

	return formatCOE(
		"; pcileech_cfgspace_writemask.coe - shadow config space write mask\n"+
			"; 1 = writable bit, 0 = read-only bit\n"+banner+";\n",
		masks,
	)
}

// applyBarWritemasks marks the BAR address bits from the analyzed
// descriptors. The upper dword of a 64-bit pair is fully writable; absent
// windows stay read-only so the emulated device never claims them.
func applyBarWritemasks(p *donor.Profile, masks []uint32) {
	for i := 0; i < 6; i++ {
		d := p.Bars[i]
		if !d.Present {
			continue
		}

		word := (0x10 + i*4) / 4
		if d.Kind == pci.BarIO {
			masks[word] = 0xFFFFFFFC
		} else {
			masks[word] = 0xFFFFFFF0
		}
		if d.Is64Bit {
			masks[word+1] = 0xFFFFFFFF
		}
	}

	if p.ExpansionRom != nil && p.ExpansionRom.Present {
		masks[0x30/4] = 0xFFFFF801
	}
}

// capabilitiesOf prefers the profile's typed capability records; a profile
// loaded without them falls back to parsing the scrubbed image.
func capabilitiesOf(p *donor.Profile, scrubbed *pci.ConfigSpace) []pci.Capability {
	if len(p.Capabilities) > 0 {
		return p.Capabilities
	}
	caps, err := pci.ParseCapabilities(scrubbed)
	if err != nil {
		return nil
	}
	return caps
}

// applyCapabilityWritemasks marks control registers via the typed decode
// of each capability node. Truncated or unknown nodes contribute nothing.
func applyCapabilityWritemasks(caps []pci.Capability, masks []uint32) {
	for _, node := range caps {
		switch {
		case node.PM != nil:
			// PMCSR: PowerState + PME_En + PME_Status.
			masks[node.PM.PMCSROffset/4] = 0x00008103

		case node.MSI != nil:
			// Control word: Enable + MultiMsg Enable.
			masks[node.Offset/4] |= 0x00710000
			// Message address is host-programmed; 64-bit variants expose an
			// upper address dword, per-vector masking adds the mask register.
			masks[(node.Offset+4)/4] = 0xFFFFFFFF
			if node.MSI.Is64Bit {
				masks[(node.Offset+8)/4] = 0xFFFFFFFF
			}
			if node.MSI.PerVectorMasking {
				maskReg := node.Offset + 12
				if node.MSI.Is64Bit {
					maskReg = node.Offset + 16
				}
				if maskReg/4 < len(masks) {
					masks[maskReg/4] = 0xFFFFFFFF
				}
			}

		case node.MSIX != nil:
			// Message control: Enable + Function Mask. The table itself
			// lives in a BAR, not in config space.
			masks[node.Offset/4] |= 0xC0000000

		case node.PCIe != nil:
			masks[(node.Offset+8)/4] = 0x0000FFFF  // device control
			masks[(node.Offset+16)/4] = 0x0000FFFF // link control
		}
	}
}

// applyExtCapabilityWritemasks marks writable extended-capability
// registers. The scrubbed image is authoritative here: capabilities
// filtered out during scrubbing must not leave writable holes.
func applyExtCapabilityWritemasks(scrubbed *pci.ConfigSpace, masks []uint32) {
	if scrubbed.Size <= pci.ConfigSpaceLegacySize {
		return
	}

	extCaps, err := pci.ParseExtCapabilities(scrubbed)
	if err != nil {
		return
	}

	for _, cap := range extCaps {
		wordIdx := cap.Offset / 4
		switch cap.ID {
		case pci.ExtCapIDAER:
			// Status registers are RW1C; mask/severity are RW.
			for _, delta := range []int{1, 2, 3, 4, 5} {
				if wordIdx+delta < len(masks) {
					masks[wordIdx+delta] = 0xFFFFFFFF
				}
			}
		case pci.ExtCapIDLTR:
			if wordIdx+1 < len(masks) {
				masks[wordIdx+1] = 0xFFFFFFFF
			}
		}
	}
}
