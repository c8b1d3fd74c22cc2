package pci

import (
	"fmt"

	"github.com/pcileechlab/pcileechfwgen/internal/fwerr"
	"github.com/pcileechlab/pcileechfwgen/internal/util"
)

// BarKind classifies a Base Address Register window.
type BarKind string

const (
	BarNone   BarKind = "none"
	BarMemory BarKind = "memory"
	BarIO     BarKind = "io"
)

// Resource flag bits as exposed by the sysfs resource table.
const (
	resFlagIO       = 0x0100
	resFlagMem      = 0x0200
	resFlagPrefetch = 0x2000
	resFlagMem64    = 0x100000
)

// Resource is one line of the sysfs resource table: the assigned window
// [Start, End] plus the kernel resource flags.
type Resource struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
	Flags uint64 `json:"flags"`
}

// Populated reports whether the kernel assigned this window.
func (r Resource) Populated() bool {
	return r.Flags != 0 && (r.Start != 0 || r.End != 0)
}

// BarDescriptor describes one of the six BAR slots after analysis.
// A 64-bit memory BAR at index i consumes index i+1; the sibling slot is
// kept with Present=false.
type BarDescriptor struct {
	Index             int     `json:"index"`
	Present           bool    `json:"present"`
	Kind              BarKind `json:"kind"`
	SizeBytes         uint64  `json:"size_bytes"`
	Is64Bit           bool    `json:"is_64bit"`
	IsPrefetchable    bool    `json:"is_prefetchable"`
	ConsumesNextIndex bool    `json:"consumes_next_index"`
}

// String returns a summary of the descriptor for display.
func (b BarDescriptor) String() string {
	if !b.Present {
		return fmt.Sprintf("BAR%d: [absent]", b.Index)
	}
	attrs := ""
	if b.Is64Bit {
		attrs += " 64-bit"
	}
	if b.IsPrefetchable {
		attrs += " prefetchable"
	}
	return fmt.Sprintf("BAR%d: %s size %d%s", b.Index, b.Kind, b.SizeBytes, attrs)
}

// ExpansionRomDescriptor describes the optional expansion ROM window.
type ExpansionRomDescriptor struct {
	Present   bool   `json:"present"`
	SizeBytes uint64 `json:"size_bytes"`
}

// AnalyzeBARs classifies the six BAR slots from the resource table and the
// header dwords at 0x10..0x27. Sizes come from the resource windows, rounded
// up to the next power of two; type bits come from the header dwords.
//
// Validation rejects impossible combinations: more than three 64-bit BARs,
// prefetchable I/O, and 32-bit memory windows above 4 GiB.
func AnalyzeBARs(resources []Resource, cs *ConfigSpace) ([6]BarDescriptor, error) {
	var bars [6]BarDescriptor
	count64 := 0

	for i := 0; i < 6; i++ {
		bars[i] = BarDescriptor{Index: i, Kind: BarNone}
	}

	for i := 0; i < 6; i++ {
		raw := cs.BAR(i)

		var res Resource
		if i < len(resources) {
			res = resources[i]
		}

		if !res.Populated() && raw == 0 {
			continue
		}

		size := uint64(0)
		if res.Populated() {
			size = util.NextPowerOfTwo(res.End - res.Start + 1)
		}
		if size == 0 {
			continue
		}

		bar := &bars[i]
		bar.Present = true
		bar.SizeBytes = size

		isIO := raw&0x1 != 0 || res.Flags&resFlagIO != 0
		if isIO {
			bar.Kind = BarIO
			if raw&0x8 != 0 || res.Flags&resFlagPrefetch != 0 {
				return bars, fwerr.AtOffset(fwerr.BarInvalid, 0x10+i*4,
					"BAR%d: I/O window marked prefetchable", i)
			}
			continue
		}

		bar.Kind = BarMemory
		bar.IsPrefetchable = raw&0x8 != 0 || res.Flags&resFlagPrefetch != 0

		memType := (raw >> 1) & 0x3
		is64 := memType == 0x2 || res.Flags&resFlagMem64 != 0
		if memType != 0x0 && memType != 0x2 && raw != 0 {
			return bars, fwerr.AtOffset(fwerr.BarInvalid, 0x10+i*4,
				"BAR%d: reserved memory type bits %#x", i, memType)
		}

		if is64 {
			if i == 5 {
				return bars, fwerr.AtOffset(fwerr.BarInvalid, 0x10+i*4,
					"BAR5 cannot be the low half of a 64-bit pair")
			}
			count64++
			if count64 > 3 {
				return bars, fwerr.AtOffset(fwerr.BarInvalid, 0x10+i*4,
					"more than three 64-bit BARs")
			}
			bar.Is64Bit = true
			bar.ConsumesNextIndex = true
			// Sibling slot is the upper half; it stays absent.
			bars[i+1] = BarDescriptor{Index: i + 1, Kind: BarNone}
			i++
			continue
		}

		if size > 1<<32 {
			return bars, fwerr.AtOffset(fwerr.BarInvalid, 0x10+i*4,
				"BAR%d: 32-bit memory window of %d bytes exceeds 4 GiB", i, size)
		}
	}

	return bars, nil
}

// AnalyzeExpansionRom derives the ROM descriptor from the seventh resource
// line when present.
func AnalyzeExpansionRom(resources []Resource) *ExpansionRomDescriptor {
	if len(resources) < 7 {
		return nil
	}
	rom := resources[6]
	if !rom.Populated() {
		return nil
	}
	return &ExpansionRomDescriptor{
		Present:   true,
		SizeBytes: util.NextPowerOfTwo(rom.End - rom.Start + 1),
	}
}
