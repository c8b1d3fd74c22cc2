package pci

import (
	"encoding/binary"

	"github.com/pcileechlab/pcileechfwgen/internal/fwerr"
)

// ConfigSpaceSize is the full PCIe extended config space size (4KB).
const ConfigSpaceSize = 4096

// ConfigSpaceLegacySize is the legacy PCI config space size (256 bytes).
const ConfigSpaceLegacySize = 256

// ConfigSpace is a length-preserving image of a device's configuration
// space. Size records the number of bytes actually captured (256..4096);
// accessors are bounded by the 4KB backing array, not by Size, so bytes
// past Size read as zero unless something was written there.
type ConfigSpace struct {
	Data [ConfigSpaceSize]byte
	Size int
}

// NewConfigSpace creates an empty full-size ConfigSpace.
func NewConfigSpace() *ConfigSpace {
	return &ConfigSpace{Size: ConfigSpaceSize}
}

// FromBytes creates a ConfigSpace from captured bytes. Fewer than 256 bytes
// is a truncated capture and rejected.
func FromBytes(data []byte) (*ConfigSpace, error) {
	if len(data) < ConfigSpaceLegacySize {
		return nil, fwerr.New(fwerr.TruncatedConfigSpace,
			"config space is %d bytes, need at least %d", len(data), ConfigSpaceLegacySize)
	}
	size := len(data)
	if size > ConfigSpaceSize {
		size = ConfigSpaceSize
	}
	cs := &ConfigSpace{Size: size}
	copy(cs.Data[:], data[:size])
	return cs, nil
}

// --- Standard PCI Header (Type 0) accessor methods ---

// VendorID returns the Vendor ID (offset 0x00).
func (cs *ConfigSpace) VendorID() uint16 {
	return binary.LittleEndian.Uint16(cs.Data[0x00:0x02])
}

// DeviceID returns the Device ID (offset 0x02).
func (cs *ConfigSpace) DeviceID() uint16 {
	return binary.LittleEndian.Uint16(cs.Data[0x02:0x04])
}

// Command returns the Command register (offset 0x04).
func (cs *ConfigSpace) Command() uint16 {
	return binary.LittleEndian.Uint16(cs.Data[0x04:0x06])
}

// Status returns the Status register (offset 0x06).
func (cs *ConfigSpace) Status() uint16 {
	return binary.LittleEndian.Uint16(cs.Data[0x06:0x08])
}

// RevisionID returns the Revision ID (offset 0x08).
func (cs *ConfigSpace) RevisionID() uint8 {
	return cs.Data[0x08]
}

// ClassCode returns the full 24-bit class code
// (base class << 16 | sub class << 8 | prog IF).
func (cs *ConfigSpace) ClassCode() uint32 {
	return uint32(cs.Data[0x0B])<<16 | uint32(cs.Data[0x0A])<<8 | uint32(cs.Data[0x09])
}

// HeaderType returns the Header Type (offset 0x0E).
func (cs *ConfigSpace) HeaderType() uint8 {
	return cs.Data[0x0E]
}

// BAR returns the raw Base Address Register dword at the given index (0-5).
func (cs *ConfigSpace) BAR(index int) uint32 {
	if index < 0 || index > 5 {
		return 0
	}
	offset := 0x10 + (index * 4)
	return binary.LittleEndian.Uint32(cs.Data[offset : offset+4])
}

// SubsysVendorID returns the Subsystem Vendor ID (offset 0x2C).
func (cs *ConfigSpace) SubsysVendorID() uint16 {
	return binary.LittleEndian.Uint16(cs.Data[0x2C:0x2E])
}

// SubsysDeviceID returns the Subsystem Device ID (offset 0x2E).
func (cs *ConfigSpace) SubsysDeviceID() uint16 {
	return binary.LittleEndian.Uint16(cs.Data[0x2E:0x30])
}

// ExpansionROMBase returns the Expansion ROM Base Address (offset 0x30).
func (cs *ConfigSpace) ExpansionROMBase() uint32 {
	return binary.LittleEndian.Uint32(cs.Data[0x30:0x34])
}

// CapabilityPointer returns the Capabilities Pointer (offset 0x34).
func (cs *ConfigSpace) CapabilityPointer() uint8 {
	return cs.Data[0x34]
}

// HasCapabilities returns true if the device has capabilities (status bit 4).
func (cs *ConfigSpace) HasCapabilities() bool {
	return (cs.Status() & 0x0010) != 0
}

// Identity extracts the device identity fields from the header.
func (cs *ConfigSpace) Identity() Identity {
	return Identity{
		VendorID:       cs.VendorID(),
		DeviceID:       cs.DeviceID(),
		SubsysVendorID: cs.SubsysVendorID(),
		SubsysDeviceID: cs.SubsysDeviceID(),
		ClassCode:      cs.ClassCode(),
		RevisionID:     cs.RevisionID(),
	}
}

// ReadU8 reads a uint8 from the given offset.
func (cs *ConfigSpace) ReadU8(offset int) uint8 {
	if offset < 0 || offset >= ConfigSpaceSize {
		return 0
	}
	return cs.Data[offset]
}

// ReadU16 reads a little-endian uint16 from the given offset.
func (cs *ConfigSpace) ReadU16(offset int) uint16 {
	if offset < 0 || offset+1 >= ConfigSpaceSize {
		return 0
	}
	return binary.LittleEndian.Uint16(cs.Data[offset : offset+2])
}

// ReadU32 reads a little-endian uint32 from the given offset.
func (cs *ConfigSpace) ReadU32(offset int) uint32 {
	if offset < 0 || offset+3 >= ConfigSpaceSize {
		return 0
	}
	return binary.LittleEndian.Uint32(cs.Data[offset : offset+4])
}

// WriteU8 writes a uint8 at the given offset.
func (cs *ConfigSpace) WriteU8(offset int, val uint8) {
	if offset >= 0 && offset < ConfigSpaceSize {
		cs.Data[offset] = val
	}
}

// WriteU16 writes a little-endian uint16 at the given offset.
func (cs *ConfigSpace) WriteU16(offset int, val uint16) {
	if offset >= 0 && offset+1 < ConfigSpaceSize {
		binary.LittleEndian.PutUint16(cs.Data[offset:offset+2], val)
	}
}

// WriteU32 writes a little-endian uint32 at the given offset.
func (cs *ConfigSpace) WriteU32(offset int, val uint32) {
	if offset >= 0 && offset+3 < ConfigSpaceSize {
		binary.LittleEndian.PutUint32(cs.Data[offset:offset+4], val)
	}
}

// Clone creates a deep copy of the ConfigSpace.
func (cs *ConfigSpace) Clone() *ConfigSpace {
	clone := &ConfigSpace{Size: cs.Size}
	copy(clone.Data[:], cs.Data[:])
	return clone
}

// Bytes returns the captured config space data as a byte slice.
func (cs *ConfigSpace) Bytes() []byte {
	return cs.Data[:cs.Size]
}
