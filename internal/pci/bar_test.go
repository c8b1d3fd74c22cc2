package pci

import (
	"testing"

	"github.com/pcileechlab/pcileechfwgen/internal/fwerr"
)

func TestAnalyzeBARsMem32(t *testing.T) {
	cs := NewConfigSpace()
	cs.WriteU32(0x10, 0xFE000000) // BAR0: 32-bit memory, non-prefetchable

	resources := []Resource{
		{Start: 0xFE000000, End: 0xFE01FFFF, Flags: resFlagMem},
	}

	bars, err := AnalyzeBARs(resources, cs)
	if err != nil {
		t.Fatalf("AnalyzeBARs error: %v", err)
	}

	b0 := bars[0]
	if !b0.Present || b0.Kind != BarMemory {
		t.Fatalf("BAR0 = %+v", b0)
	}
	if b0.SizeBytes != 131072 {
		t.Errorf("BAR0 size = %d, want 131072", b0.SizeBytes)
	}
	if b0.Is64Bit || b0.IsPrefetchable || b0.ConsumesNextIndex {
		t.Errorf("BAR0 flags = %+v", b0)
	}
	for i := 1; i < 6; i++ {
		if bars[i].Present {
			t.Errorf("BAR%d present, want absent", i)
		}
	}
}

func TestAnalyzeBARs64BitPair(t *testing.T) {
	cs := NewConfigSpace()
	cs.WriteU32(0x20, 0xD000000C) // BAR4: 64-bit prefetchable memory

	resources := make([]Resource, 6)
	resources[4] = Resource{Start: 0xD0000000, End: 0xD0001FFF, Flags: resFlagMem | resFlagPrefetch | resFlagMem64}

	bars, err := AnalyzeBARs(resources, cs)
	if err != nil {
		t.Fatalf("AnalyzeBARs error: %v", err)
	}

	b4 := bars[4]
	if !b4.Present || !b4.Is64Bit || !b4.IsPrefetchable || !b4.ConsumesNextIndex {
		t.Fatalf("BAR4 = %+v", b4)
	}
	if b4.SizeBytes != 8192 {
		t.Errorf("BAR4 size = %d, want 8192", b4.SizeBytes)
	}
	if bars[5].Present {
		t.Error("BAR5 must be absent (upper half of 64-bit pair)")
	}
}

func TestAnalyzeBARsSizeRounding(t *testing.T) {
	cs := NewConfigSpace()
	cs.WriteU32(0x10, 0xFE000000)

	// 0x1800 bytes rounds to 0x2000
	resources := []Resource{{Start: 0xFE000000, End: 0xFE0017FF, Flags: resFlagMem}}

	bars, err := AnalyzeBARs(resources, cs)
	if err != nil {
		t.Fatalf("AnalyzeBARs error: %v", err)
	}
	if bars[0].SizeBytes != 0x2000 {
		t.Errorf("size = 0x%x, want 0x2000", bars[0].SizeBytes)
	}
}

func TestAnalyzeBARsIOPrefetchableRejected(t *testing.T) {
	cs := NewConfigSpace()
	cs.WriteU32(0x10, 0x0000E009) // I/O BAR with prefetch bit — impossible

	resources := []Resource{{Start: 0xE000, End: 0xE0FF, Flags: resFlagIO}}

	_, err := AnalyzeBARs(resources, cs)
	if fwerr.KindOf(err) != fwerr.BarInvalid {
		t.Errorf("kind = %v, want BarInvalid", fwerr.KindOf(err))
	}
}

func TestAnalyzeBARsAllAbsent(t *testing.T) {
	cs := NewConfigSpace()
	bars, err := AnalyzeBARs(nil, cs)
	if err != nil {
		t.Fatalf("AnalyzeBARs error: %v", err)
	}
	for i, b := range bars {
		if b.Present || b.SizeBytes != 0 {
			t.Errorf("BAR%d = %+v, want absent", i, b)
		}
	}
}

func TestAnalyzeExpansionRom(t *testing.T) {
	resources := make([]Resource, 7)
	resources[6] = Resource{Start: 0xFD000000, End: 0xFD00FFFF, Flags: resFlagMem}

	rom := AnalyzeExpansionRom(resources)
	if rom == nil || !rom.Present {
		t.Fatal("expansion ROM not detected")
	}
	if rom.SizeBytes != 65536 {
		t.Errorf("ROM size = %d, want 65536", rom.SizeBytes)
	}

	if AnalyzeExpansionRom(resources[:6]) != nil {
		t.Error("short resource table must yield no ROM")
	}
}
