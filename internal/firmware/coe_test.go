package firmware

import (
	"strings"
	"testing"

	"github.com/pcileechlab/pcileechfwgen/internal/donor"
	"github.com/pcileechlab/pcileechfwgen/internal/pci"
)

func coeWords(t *testing.T, coe string) []string {
	t.Helper()
	idx := strings.Index(coe, "memory_initialization_vector=\n")
	if idx < 0 {
		t.Fatal("COE missing vector header")
	}
	body := coe[idx+len("memory_initialization_vector=\n"):]
	var words []string
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		words = append(words, strings.TrimRight(line, ",;"))
	}
	return words
}

// msixDonor builds a profile whose config space declares PM at 0x40 and
// MSI-X at 0x50, with a memory BAR0 and an I/O BAR1.
func msixDonor(t *testing.T) *donor.Profile {
	t.Helper()

	cs := pci.NewConfigSpace()
	cs.Size = pci.ConfigSpaceLegacySize
	cs.WriteU16(0x00, 0x8086)
	cs.WriteU16(0x02, 0x1533)
	cs.WriteU16(0x06, 0x0010)
	cs.WriteU32(0x10, 0xFE000000) // memory BAR0
	cs.WriteU32(0x14, 0x0000E001) // I/O BAR1
	cs.WriteU8(0x34, 0x40)
	cs.WriteU8(0x40, pci.CapIDPowerManagement)
	cs.WriteU8(0x41, 0x50)
	cs.WriteU8(0x50, pci.CapIDMSIX)
	cs.WriteU8(0x51, 0x00)
	cs.WriteU16(0x52, 0x0007)

	caps, err := pci.ParseCapabilities(cs)
	if err != nil {
		t.Fatal(err)
	}

	var bars [6]pci.BarDescriptor
	for i := range bars {
		bars[i] = pci.BarDescriptor{Index: i, Kind: pci.BarNone}
	}
	bars[0] = pci.BarDescriptor{Index: 0, Present: true, Kind: pci.BarMemory, SizeBytes: 131072}
	bars[1] = pci.BarDescriptor{Index: 1, Present: true, Kind: pci.BarIO, SizeBytes: 256}

	return &donor.Profile{
		Identity:     cs.Identity(),
		ConfigSpace:  cs,
		Capabilities: caps,
		Bars:         bars,
	}
}

func TestGenerateConfigSpaceCOE(t *testing.T) {
	cs := pci.NewConfigSpace()
	cs.Size = pci.ConfigSpaceLegacySize
	cs.WriteU16(0x00, 0x8086)
	cs.WriteU16(0x02, 0x1533)

	coe := GenerateConfigSpaceCOE(cs, "; test\n")
	words := coeWords(t, coe)

	if len(words) != 1024 {
		t.Fatalf("COE has %d words, want 1024", len(words))
	}
	if words[0] != "15338086" {
		t.Errorf("word 0 = %q, want \"15338086\"", words[0])
	}
	// Extended area beyond the 256-byte capture is zero-filled.
	if words[64] != "00000000" || words[1023] != "00000000" {
		t.Error("extended area not zero-filled")
	}
	if !strings.HasSuffix(strings.TrimSpace(coe), ";") {
		t.Error("COE vector must end with a semicolon")
	}
}

func TestGenerateWritemaskCOE(t *testing.T) {
	p := msixDonor(t)

	coe := GenerateWritemaskCOE(p, p.ConfigSpace, "; test\n")
	words := coeWords(t, coe)

	if words[0x04/4] != "0000ffff" {
		t.Errorf("command mask = %q", words[0x04/4])
	}
	if words[0x10/4] != "fffffff0" {
		t.Errorf("memory BAR mask = %q", words[0x10/4])
	}
	if words[0x14/4] != "fffffffc" {
		t.Errorf("I/O BAR mask = %q", words[0x14/4])
	}
	// PM capability: PMCSR bits at cap+4.
	if words[0x44/4] != "00008103" {
		t.Errorf("PMCSR mask = %q", words[0x44/4])
	}
	// MSI-X message control: enable + function mask writable.
	if words[0x50/4] != "c0000000" {
		t.Errorf("MSI-X mask = %q", words[0x50/4])
	}
	// Absent BARs claim nothing.
	if words[0x18/4] != "00000000" {
		t.Errorf("absent BAR2 mask = %q, want read-only", words[0x18/4])
	}
	// No expansion ROM on this donor.
	if words[0x30/4] != "00000000" {
		t.Errorf("ROM mask = %q, want read-only without a ROM", words[0x30/4])
	}
}

func TestGenerateWritemaskCOE64BitBar(t *testing.T) {
	p := msixDonor(t)
	p.Bars[4] = pci.BarDescriptor{Index: 4, Present: true, Kind: pci.BarMemory,
		SizeBytes: 8192, Is64Bit: true, ConsumesNextIndex: true}

	coe := GenerateWritemaskCOE(p, p.ConfigSpace, "; test\n")
	words := coeWords(t, coe)

	if words[0x20/4] != "fffffff0" {
		t.Errorf("BAR4 mask = %q", words[0x20/4])
	}
	if words[0x24/4] != "ffffffff" {
		t.Errorf("BAR4 upper-dword mask = %q, want fully writable", words[0x24/4])
	}
}

func TestGenerateWritemaskCOEFallsBackToParse(t *testing.T) {
	p := msixDonor(t)
	p.Capabilities = nil // profile loaded without typed records

	coe := GenerateWritemaskCOE(p, p.ConfigSpace, "; test\n")
	words := coeWords(t, coe)

	if words[0x50/4] != "c0000000" {
		t.Errorf("MSI-X mask = %q, fallback parse missing", words[0x50/4])
	}
}

func TestScrubConfigSpace(t *testing.T) {
	cs := pci.NewConfigSpace()
	cs.Size = pci.ConfigSpaceLegacySize
	cs.WriteU16(0x04, 0xFFFF) // command with junk bits
	cs.WriteU16(0x06, 0xF910) // status with error latches + cap list
	cs.WriteU8(0x0C, 0x10)    // cache line size
	cs.WriteU8(0x0F, 0x8F)    // BIST
	cs.WriteU8(0x3C, 0x0B)    // interrupt line
	cs.WriteU8(0x34, 0x40)
	cs.WriteU8(0x40, pci.CapIDPowerManagement)
	cs.WriteU8(0x41, 0x00)
	cs.WriteU16(0x44, 0x8103) // PMCSR: D3hot, PME_Status

	scrubbed := ScrubConfigSpace(cs, 0)

	if scrubbed.ReadU8(0x0F) != 0 || scrubbed.ReadU8(0x3C) != 0 || scrubbed.ReadU8(0x0C) != 0 {
		t.Error("volatile header registers not cleared")
	}
	if scrubbed.Command() != 0x0547 {
		t.Errorf("command = 0x%04x, want 0x0547", scrubbed.Command())
	}
	if scrubbed.Status()&0x0010 == 0 {
		t.Error("capability list bit must survive scrubbing")
	}

	pmcsr := scrubbed.ReadU16(0x44)
	if pmcsr&0x0003 != 0 {
		t.Errorf("PMCSR power state = %d, want D0", pmcsr&0x3)
	}
	if pmcsr&0x8000 != 0 {
		t.Error("PME_Status not cleared")
	}
	if pmcsr&0x0008 == 0 {
		t.Error("NoSoftReset not set")
	}

	// Input untouched.
	if cs.ReadU8(0x0F) != 0x8F {
		t.Error("ScrubConfigSpace modified its input")
	}
}

func TestScrubClampsBARsToBRAM(t *testing.T) {
	cs := pci.NewConfigSpace()
	cs.Size = pci.ConfigSpaceLegacySize
	cs.WriteU32(0x10, 0xFE000000) // 32-bit memory, 128 KiB donor window
	cs.WriteU32(0x14, 0x0000E001) // I/O BAR: untouched
	cs.WriteU32(0x20, 0xD000000C) // 64-bit prefetchable memory pair
	cs.WriteU32(0x24, 0x00000001) // upper half of the pair

	scrubbed := ScrubConfigSpace(cs, 4096)

	if got := scrubbed.BAR(0); got != 0xFFFFF000 {
		t.Errorf("BAR0 = 0x%08x, want clamped 0xfffff000", got)
	}
	if got := scrubbed.BAR(1); got != 0x0000E001 {
		t.Errorf("I/O BAR1 = 0x%08x, must not be clamped", got)
	}
	if got := scrubbed.BAR(4); got != 0xFFFFF00C {
		t.Errorf("BAR4 = 0x%08x, want clamped with type bits kept", got)
	}
	if got := scrubbed.BAR(5); got != 0x00000001 {
		t.Errorf("BAR5 (upper half) = 0x%08x, must be left alone", got)
	}
}

func TestScrubClampsToBoardLimit(t *testing.T) {
	cs := pci.NewConfigSpace()
	cs.Size = pci.ConfigSpaceLegacySize
	cs.WriteU32(0x10, 0xFE000000)

	scrubbed := ScrubConfigSpace(cs, 16*1024)
	if got := scrubbed.BAR(0); got != 0xFFFFC000 {
		t.Errorf("BAR0 = 0x%08x, want 16 KiB clamp 0xffffc000", got)
	}
}

func TestScrubFiltersUnsafeExtCaps(t *testing.T) {
	cs := pci.NewConfigSpace()

	// AER at 0x100 -> SR-IOV at 0x140 -> LTR at 0x180
	cs.WriteU32(0x100, uint32(pci.ExtCapIDAER)|1<<16|0x140<<20)
	cs.WriteU32(0x140, uint32(pci.ExtCapIDSRIOV)|1<<16|0x180<<20)
	cs.WriteU32(0x144, 0xDEAD0001)
	cs.WriteU32(0x180, uint32(pci.ExtCapIDLTR)|1<<16)

	scrubbed := ScrubConfigSpace(cs, 0)

	extCaps, err := pci.ParseExtCapabilities(scrubbed)
	if err != nil {
		t.Fatalf("scrubbed chain unparseable: %v", err)
	}
	for _, cap := range extCaps {
		if cap.ID == pci.ExtCapIDSRIOV {
			t.Error("SR-IOV capability survived scrubbing")
		}
	}
	if len(extCaps) != 2 {
		t.Errorf("got %d ext caps after scrub, want 2 (AER, LTR)", len(extCaps))
	}
	if scrubbed.ReadU32(0x144) != 0 {
		t.Error("removed capability body not zeroed")
	}
}
