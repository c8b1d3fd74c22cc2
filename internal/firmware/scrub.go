package firmware

import "github.com/pcileechlab/pcileechfwgen/internal/pci"

// unsafeExtCaps lists extended capability IDs that an FPGA DMA card cannot
// emulate. They are removed from the shadow config space so the host never
// drives features that do not exist on the hardware.
var unsafeExtCaps = map[uint16]string{
	pci.ExtCapIDSRIOV:         "SR-IOV",
	pci.ExtCapIDMRIOV:         "MR-IOV",
	pci.ExtCapIDResizableBAR:  "Resizable BAR",
	pci.ExtCapIDATS:           "ATS",
	pci.ExtCapIDPageRequest:   "Page Request",
	pci.ExtCapIDPASID:         "PASID",
	pci.ExtCapIDL1PMSubstates: "L1 PM Substates",
	pci.ExtCapIDDPC:           "DPC",
	pci.ExtCapIDPTM:           "PTM",
	pci.ExtCapIDSecondaryPCIe: "Secondary PCIe",
	pci.ExtCapIDMulticast:     "Multicast",
}

// IsUnsafeExtCap returns true when the extended capability must be
// filtered from the emitted config space.
func IsUnsafeExtCap(id uint16) bool {
	_, ok := unsafeExtCaps[id]
	return ok
}

// defaultBRAMBytes is the shadow BAR BRAM size assumed when the board does
// not declare one.
const defaultBRAMBytes = 4096

// ScrubConfigSpace cleans volatile and non-emulatable registers from a
// config space copy before COE emission, and clamps the advertised memory
// BAR windows to the board's BRAM capacity (bramBytes; 0 selects the 4 KB
// default). The input is never modified.
func ScrubConfigSpace(cs *pci.ConfigSpace, bramBytes uint32) *pci.ConfigSpace {
	scrubbed := cs.Clone()

	// Host-assigned or self-test registers reset to zero.
	scrubbed.WriteU8(0x0C, 0x00) // cache line size
	scrubbed.WriteU8(0x0D, 0x00) // latency timer
	scrubbed.WriteU8(0x0F, 0x00) // BIST
	scrubbed.WriteU8(0x3C, 0x00) // interrupt line

	// Command: keep IO/Memory/BusMaster/ParityResponse/SERR#/InterruptDisable only.
	scrubbed.WriteU16(0x04, scrubbed.Command()&0x0547)

	// Status: keep capability list and speed bits, clear error latches.
	scrubbed.WriteU16(0x06, scrubbed.Status()&0x06F0)

	caps, err := pci.ParseCapabilities(scrubbed)
	if err == nil {
		for _, cap := range caps {
			switch cap.ID {
			case pci.CapIDPCIExpress:
				// Device Status at cap+10: clear RW1C bits.
				scrubbed.WriteU16(cap.Offset+10, 0x0000)
				// Link Status at cap+18: clear the RW1C bandwidth status bits (15:14).
				lstatus := scrubbed.ReadU16(cap.Offset + 18)
				scrubbed.WriteU16(cap.Offset+18, lstatus&0x3FFF)
			case pci.CapIDPowerManagement:
				// PMCSR: force D0, clear PME_Status, set NoSoftReset.
				pmcsr := scrubbed.ReadU16(cap.Offset + 4)
				pmcsr &= 0xFFFC
				pmcsr &= 0x7FFF
				pmcsr |= 0x0008
				scrubbed.WriteU16(cap.Offset+4, pmcsr)
			}
		}
	}

	if scrubbed.Size > pci.ConfigSpaceLegacySize {
		if extCaps, err := pci.ParseExtCapabilities(scrubbed); err == nil {
			for _, cap := range extCaps {
				if cap.ID == pci.ExtCapIDAER {
					scrubbed.WriteU32(cap.Offset+4, 0)  // uncorrectable status
					scrubbed.WriteU32(cap.Offset+16, 0) // correctable status
					scrubbed.WriteU32(cap.Offset+48, 0) // root error status
				}
			}
			filterExtCapabilities(scrubbed)
		}
	}

	clampBARsToBRAM(scrubbed, bramBytes)

	return scrubbed
}

// clampBARsToBRAM rewrites memory BAR registers so they advertise at most
// the shadow BRAM window: address bits above the BRAM size read back as
// ones, which is how a size probe observes the clamped window. I/O BARs
// and the upper dword of a 64-bit pair are left alone.
func clampBARsToBRAM(cs *pci.ConfigSpace, bramBytes uint32) {
	if bramBytes == 0 {
		bramBytes = defaultBRAMBytes
	}
	mask := ^(bramBytes - 1)

	for i := 0; i < 6; i++ {
		off := 0x10 + i*4
		val := cs.BAR(i)
		if val == 0 || val&0x1 != 0 {
			continue
		}

		cs.WriteU32(off, mask|(val&0xF))

		if (val>>1)&0x3 == 0x2 {
			i++ // skip the upper half of a 64-bit pair
		}
	}
}

// filterExtCapabilities unlinks unsafe extended capabilities by rewriting
// the next pointers around them and zeroing the removed bodies.
func filterExtCapabilities(cs *pci.ConfigSpace) {
	extCaps, err := pci.ParseExtCapabilities(cs)
	if err != nil || len(extCaps) == 0 {
		return
	}

	// Walk in order, keeping a pointer to the previous surviving header.
	prevOffset := -1
	for _, cap := range extCaps {
		if !IsUnsafeExtCap(cap.ID) {
			prevOffset = cap.Offset
			continue
		}

		next := uint32(cap.Next)
		if prevOffset < 0 {
			// Removing the first node: moving the successor's header to
			// 0x100 is invasive; instead neuter the node into a
			// vendor-specific placeholder of the same span.
			header := cs.ReadU32(cap.Offset)
			header = (header &^ 0xFFFF) | uint32(pci.ExtCapIDVendorSpecific)
			cs.WriteU32(cap.Offset, header)
			for off := cap.Offset + 4; off < cap.Offset+len(cap.Data); off += 4 {
				cs.WriteU32(off, 0)
			}
			prevOffset = cap.Offset
			continue
		}

		// Relink previous node past this one.
		prevHeader := cs.ReadU32(prevOffset)
		prevHeader = (prevHeader &^ 0xFFF00000) | (next << 20)
		cs.WriteU32(prevOffset, prevHeader)

		// Zero the removed body.
		for off := cap.Offset; off < cap.Offset+len(cap.Data); off += 4 {
			cs.WriteU32(off, 0)
		}
	}
}
