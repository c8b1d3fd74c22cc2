package pci

import (
	"encoding/binary"

	"github.com/pcileechlab/pcileechfwgen/internal/fwerr"
)

// Standard PCI Capability IDs
const (
	CapIDPowerManagement uint8 = 0x01
	CapIDMSI             uint8 = 0x05
	CapIDVendorSpecific  uint8 = 0x09
	CapIDPCIExpress      uint8 = 0x10
	CapIDMSIX            uint8 = 0x11
)

// Extended PCI Capability IDs (PCIe extended config space)
const (
	ExtCapIDAER                uint16 = 0x0001
	ExtCapIDDeviceSerialNumber uint16 = 0x0003
	ExtCapIDVendorSpecific     uint16 = 0x000B
	ExtCapIDACS                uint16 = 0x000D
	ExtCapIDARI                uint16 = 0x000E
	ExtCapIDATS                uint16 = 0x000F
	ExtCapIDSRIOV              uint16 = 0x0010
	ExtCapIDMRIOV              uint16 = 0x0011
	ExtCapIDMulticast          uint16 = 0x0012
	ExtCapIDPageRequest        uint16 = 0x0013
	ExtCapIDResizableBAR       uint16 = 0x0015
	ExtCapIDLTR                uint16 = 0x0018
	ExtCapIDSecondaryPCIe      uint16 = 0x0019
	ExtCapIDPASID              uint16 = 0x001B
	ExtCapIDDPC                uint16 = 0x001D
	ExtCapIDL1PMSubstates      uint16 = 0x001E
	ExtCapIDPTM                uint16 = 0x001F
)

// maxCapabilityWalk bounds the linked-list walk; the legacy capability area
// (0x40..0xFF) cannot hold more than 48 aligned nodes.
const maxCapabilityWalk = 48

// DecodeStatus records the per-node outcome of a typed capability decode.
type DecodeStatus int

const (
	// DecodeOK means the capability decoded into a typed record (or is an
	// Unknown kind preserved as raw bytes).
	DecodeOK DecodeStatus = iota
	// DecodeTruncated means the declared minimum span exceeds the bytes
	// available; raw bytes are preserved but no typed record is produced.
	DecodeTruncated
)

// Capability is a node of the standard capability linked list. Exactly one
// of the typed pointers is non-nil for known IDs that decode fully; truncated
// and unknown nodes keep only the raw Data so round-trips are lossless.
type Capability struct {
	ID     uint8  `json:"id"`
	Offset int    `json:"offset"`
	Next   int    `json:"next"`
	Data   []byte `json:"data"`

	Status DecodeStatus `json:"status"`

	PM    *PowerManagementCap `json:"pm,omitempty"`
	MSI   *MSICap             `json:"msi,omitempty"`
	MSIX  *MSIXCap            `json:"msix,omitempty"`
	PCIe  *PCIExpressCap      `json:"pcie,omitempty"`
	VSpec *VendorSpecificCap  `json:"vspec,omitempty"`
}

// PowerManagementCap decodes capability ID 0x01.
type PowerManagementCap struct {
	PMCSROffset    int   `json:"pmcsr_offset"`
	D1Supported    bool  `json:"d1_supported"`
	D2Supported    bool  `json:"d2_supported"`
	PMESupportMask uint8 `json:"pme_support_mask"`
}

// MSICap decodes capability ID 0x05.
type MSICap struct {
	Is64Bit             bool `json:"is_64bit"`
	MultiMessageCapable int  `json:"multi_message_capable"`
	PerVectorMasking    bool `json:"per_vector_masking"`
}

// MSIXCap decodes capability ID 0x11. TableSize is the vector count
// (message control field + 1).
type MSIXCap struct {
	TableSize    int    `json:"table_size"`
	TableBAR     int    `json:"table_bar"`
	TableOffset  uint32 `json:"table_offset"`
	PBABAR       int    `json:"pba_bar"`
	PBAOffset    uint32 `json:"pba_offset"`
	FunctionMask bool   `json:"function_mask"`
	Enable       bool   `json:"enable"`
}

// PCIExpressCap decodes capability ID 0x10.
type PCIExpressCap struct {
	DevType             uint8 `json:"dev_type"`
	MaxPayloadSupported int   `json:"max_payload_supported"`
	MaxReadRequestSize  int   `json:"max_read_request_size"`
	LinkSpeed           uint8 `json:"link_speed"`
	LinkWidth           uint8 `json:"link_width"`
	ASPMSupport         uint8 `json:"aspm_support"`
}

// VendorSpecificCap decodes capability ID 0x09.
type VendorSpecificCap struct {
	Length int `json:"length"`
}

// ExtCapability is a node of the extended capability list (offset 0x100+).
type ExtCapability struct {
	ID      uint16 `json:"id"`
	Version uint8  `json:"version"`
	Offset  int    `json:"offset"`
	Next    int    `json:"next"`
	Data    []byte `json:"data"`

	Status DecodeStatus `json:"status"`

	AER *AERCap `json:"aer,omitempty"`
	DSN *DSNCap `json:"dsn,omitempty"`
}

// AERCap decodes extended capability 0x0001.
type AERCap struct {
	UncorrectableStatus   uint32 `json:"uncorrectable_status"`
	UncorrectableMask     uint32 `json:"uncorrectable_mask"`
	UncorrectableSeverity uint32 `json:"uncorrectable_severity"`
	CorrectableStatus     uint32 `json:"correctable_status"`
	CorrectableMask       uint32 `json:"correctable_mask"`
}

// DSNCap decodes extended capability 0x0003 (Device Serial Number).
type DSNCap struct {
	Serial uint64 `json:"serial"`
}

// minCapSpan declares the minimum byte span each typed decoder requires.
var minCapSpan = map[uint8]int{
	CapIDPowerManagement: 8,
	CapIDMSI:             10,
	CapIDMSIX:            12,
	CapIDPCIExpress:      20,
	CapIDVendorSpecific:  3,
}

// CapabilityName returns the human-readable name for a standard capability ID.
func CapabilityName(id uint8) string {
	switch id {
	case CapIDPowerManagement:
		return "Power Management"
	case CapIDMSI:
		return "MSI"
	case CapIDVendorSpecific:
		return "Vendor Specific"
	case CapIDPCIExpress:
		return "PCI Express"
	case CapIDMSIX:
		return "MSI-X"
	default:
		return "Unknown"
	}
}

// ExtCapabilityName returns the human-readable name for an extended capability ID.
func ExtCapabilityName(id uint16) string {
	switch id {
	case ExtCapIDAER:
		return "Advanced Error Reporting"
	case ExtCapIDDeviceSerialNumber:
		return "Device Serial Number"
	case ExtCapIDVendorSpecific:
		return "Vendor Specific"
	case ExtCapIDACS:
		return "Access Control Services"
	case ExtCapIDARI:
		return "Alternative Routing-ID Interpretation"
	case ExtCapIDATS:
		return "Address Translation Services"
	case ExtCapIDSRIOV:
		return "Single Root I/O Virtualization"
	case ExtCapIDResizableBAR:
		return "Resizable BAR"
	case ExtCapIDLTR:
		return "Latency Tolerance Reporting"
	case ExtCapIDL1PMSubstates:
		return "L1 PM Substates"
	case ExtCapIDPTM:
		return "Precision Time Measurement"
	case ExtCapIDDPC:
		return "Downstream Port Containment"
	case ExtCapIDPASID:
		return "Process Address Space ID"
	default:
		return "Unknown"
	}
}

// ParseCapabilities walks the standard capability linked list. The input is
// treated as untrusted: the walk is bounded, revisits abort with
// CapabilityCycle, and pointers outside [0x40, Size) abort with
// CapabilityOutOfRange. A node shorter than its decoder's minimum span is
// kept with Status DecodeTruncated and the walk continues.
func ParseCapabilities(cs *ConfigSpace) ([]Capability, error) {
	if !cs.HasCapabilities() {
		return nil, nil
	}

	limit := cs.Size
	if limit > ConfigSpaceLegacySize {
		limit = ConfigSpaceLegacySize
	}

	var caps []Capability
	visited := make(map[int]bool)

	ptr := int(cs.CapabilityPointer()) & 0xFC
	for steps := 0; ptr != 0; steps++ {
		if steps >= maxCapabilityWalk {
			return nil, fwerr.AtOffset(fwerr.CapabilityCycle, ptr,
				"capability walk exceeded %d steps", maxCapabilityWalk)
		}
		if ptr < 0x40 || ptr >= limit {
			return nil, fwerr.AtOffset(fwerr.CapabilityOutOfRange, ptr,
				"capability pointer outside [0x40, 0x%x)", limit)
		}
		if visited[ptr] {
			return nil, fwerr.AtOffset(fwerr.CapabilityCycle, ptr,
				"capability offset revisited")
		}
		visited[ptr] = true

		capID := cs.ReadU8(ptr)
		next := int(cs.ReadU8(ptr+1)) & 0xFC

		span := capSpan(ptr, next, limit)
		data := make([]byte, span)
		copy(data, cs.Data[ptr:ptr+span])

		node := Capability{
			ID:     capID,
			Offset: ptr,
			Next:   next,
			Data:   data,
		}
		decodeCapability(cs, &node, limit)
		caps = append(caps, node)

		ptr = next
	}

	return caps, nil
}

// capSpan computes the raw byte span of a node: up to the next node when it
// follows this one, else to the end of the legacy area.
func capSpan(ptr, next, limit int) int {
	if next > ptr {
		return next - ptr
	}
	return limit - ptr
}

// decodeCapability dispatches on ID to the typed decoders.
func decodeCapability(cs *ConfigSpace, node *Capability, limit int) {
	min, known := minCapSpan[node.ID]
	if !known {
		return // Unknown kind: raw bytes only
	}
	if node.Offset+min > limit || len(node.Data) < min {
		node.Status = DecodeTruncated
		return
	}

	off := node.Offset
	switch node.ID {
	case CapIDPowerManagement:
		pmc := cs.ReadU16(off + 2)
		node.PM = &PowerManagementCap{
			PMCSROffset:    off + 4,
			D1Supported:    pmc&(1<<9) != 0,
			D2Supported:    pmc&(1<<10) != 0,
			PMESupportMask: uint8(pmc >> 11),
		}
	case CapIDMSI:
		ctl := cs.ReadU16(off + 2)
		node.MSI = &MSICap{
			Is64Bit:             ctl&(1<<7) != 0,
			MultiMessageCapable: 1 << ((ctl >> 1) & 0x7),
			PerVectorMasking:    ctl&(1<<8) != 0,
		}
	case CapIDMSIX:
		ctl := cs.ReadU16(off + 2)
		tbl := cs.ReadU32(off + 4)
		pba := cs.ReadU32(off + 8)
		node.MSIX = &MSIXCap{
			TableSize:    int(ctl&0x7FF) + 1,
			TableBAR:     int(tbl & 0x7),
			TableOffset:  tbl &^ uint32(0x7),
			PBABAR:       int(pba & 0x7),
			PBAOffset:    pba &^ uint32(0x7),
			FunctionMask: ctl&(1<<14) != 0,
			Enable:       ctl&(1<<15) != 0,
		}
	case CapIDPCIExpress:
		pcieCaps := cs.ReadU16(off + 2)
		devCap := cs.ReadU32(off + 4)
		devCtl := cs.ReadU16(off + 8)
		linkCap := cs.ReadU32(off + 12)
		node.PCIe = &PCIExpressCap{
			DevType:             uint8((pcieCaps >> 4) & 0xF),
			MaxPayloadSupported: 128 << (devCap & 0x7),
			MaxReadRequestSize:  128 << ((devCtl >> 12) & 0x7),
			LinkSpeed:           uint8(linkCap & 0xF),
			LinkWidth:           uint8((linkCap >> 4) & 0x3F),
			ASPMSupport:         uint8((linkCap >> 10) & 0x3),
		}
	case CapIDVendorSpecific:
		node.VSpec = &VendorSpecificCap{Length: int(cs.ReadU8(off + 2))}
	}
}

// FindCapability returns the first capability with the given ID, or nil.
func FindCapability(caps []Capability, id uint8) *Capability {
	for i := range caps {
		if caps[i].ID == id {
			return &caps[i]
		}
	}
	return nil
}

// ParseExtCapabilities walks the PCIe extended capability linked list
// starting at 0x100. A legacy-size config space yields an empty list.
// Same cycle protection as the standard walk.
func ParseExtCapabilities(cs *ConfigSpace) ([]ExtCapability, error) {
	if cs.Size <= ConfigSpaceLegacySize {
		return nil, nil
	}

	first := cs.ReadU32(0x100)
	if first == 0 || first == 0xFFFFFFFF {
		return nil, nil
	}

	var caps []ExtCapability
	visited := make(map[int]bool)

	offset := 0x100
	for steps := 0; offset != 0; steps++ {
		if steps >= maxCapabilityWalk {
			return nil, fwerr.AtOffset(fwerr.CapabilityCycle, offset,
				"extended capability walk exceeded %d steps", maxCapabilityWalk)
		}
		if offset < 0x100 || offset >= cs.Size {
			return nil, fwerr.AtOffset(fwerr.CapabilityOutOfRange, offset,
				"extended capability pointer outside [0x100, 0x%x)", cs.Size)
		}
		if visited[offset] {
			return nil, fwerr.AtOffset(fwerr.CapabilityCycle, offset,
				"extended capability offset revisited")
		}
		visited[offset] = true

		header := cs.ReadU32(offset)
		if header == 0 || header == 0xFFFFFFFF {
			break
		}

		capID := uint16(header & 0xFFFF)
		version := uint8((header >> 16) & 0xF)
		next := int((header >> 20) & 0xFFC)

		span := 4
		if next > offset {
			span = next - offset
		} else if next == 0 {
			span = cs.Size - offset
		}

		data := make([]byte, span)
		copy(data, cs.Data[offset:offset+span])

		node := ExtCapability{
			ID:      capID,
			Version: version,
			Offset:  offset,
			Next:    next,
			Data:    data,
		}
		decodeExtCapability(&node)
		caps = append(caps, node)

		offset = next
	}

	return caps, nil
}

// decodeExtCapability fills the typed records for recognized extended caps.
func decodeExtCapability(node *ExtCapability) {
	switch node.ID {
	case ExtCapIDAER:
		if len(node.Data) < 24 {
			node.Status = DecodeTruncated
			return
		}
		node.AER = &AERCap{
			UncorrectableStatus:   binary.LittleEndian.Uint32(node.Data[4:8]),
			UncorrectableMask:     binary.LittleEndian.Uint32(node.Data[8:12]),
			UncorrectableSeverity: binary.LittleEndian.Uint32(node.Data[12:16]),
			CorrectableStatus:     binary.LittleEndian.Uint32(node.Data[16:20]),
			CorrectableMask:       binary.LittleEndian.Uint32(node.Data[20:24]),
		}
	case ExtCapIDDeviceSerialNumber:
		if len(node.Data) < 12 {
			node.Status = DecodeTruncated
			return
		}
		node.DSN = &DSNCap{Serial: binary.LittleEndian.Uint64(node.Data[4:12])}
	}
}
