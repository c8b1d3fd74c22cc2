// Package donor assembles, serializes, and stores donor device profiles.
package donor

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pcileechlab/pcileechfwgen/internal/fwerr"
	"github.com/pcileechlab/pcileechfwgen/internal/pci"
	"github.com/pcileechlab/pcileechfwgen/internal/util"
)

// Provenance records where and how a profile was captured.
type Provenance struct {
	SourceBDF        string    `json:"source_bdf,omitempty"`
	CapturedAt       time.Time `json:"captured_at"`
	GeneratorVersion string    `json:"generator_version"`
	Hostname         string    `json:"hostname,omitempty"`
	DurationSeconds  float64   `json:"duration_seconds,omitempty"`
}

// Profile is the canonical description of a device to be cloned. It is
// immutable once handed to the orchestrator.
type Profile struct {
	Identity        pci.Identity
	ConfigSpace     *pci.ConfigSpace
	Capabilities    []pci.Capability
	ExtCapabilities []pci.ExtCapability
	Bars            [6]pci.BarDescriptor
	ExpansionRom    *pci.ExpansionRomDescriptor
	Msix            *pci.MsixInfo
	Behavior        *BehaviorProfile
	Provenance      Provenance

	// Unknown JSON keys, preserved across load/save.
	extraTop    map[string]json.RawMessage
	extraDevice map[string]json.RawMessage
}

// RegisterAccess aggregates sampled accesses to one config register.
type RegisterAccess struct {
	Offset     int    `json:"offset"`
	ReadCount  uint64 `json:"read_count"`
	WriteCount uint64 `json:"write_count"`
	// LatencyNsHistogram buckets read latencies: bucket i counts samples in
	// [2^i, 2^(i+1)) nanoseconds; bucket 0 also takes 0 ns and the last
	// bucket takes every longer sample.
	LatencyNsHistogram []uint64 `json:"latency_ns_histogram"`
}

// BehaviorProfile carries optional dynamic timing statistics. All derived
// render-context fields have defaults, so a nil BehaviorProfile still
// produces a fully specified build.
type BehaviorProfile struct {
	RegisterAccesses []RegisterAccess `json:"register_accesses"`
	InterruptRateHz  float64          `json:"interrupt_rate_hz,omitempty"`
	AvgReadLatencyNs uint64           `json:"avg_read_latency_ns,omitempty"`
}

// IdentityHash returns a short hash of the identity fields for provenance
// headers. Stable across runs for the same donor.
func (p *Profile) IdentityHash() string {
	var buf [13]byte
	binary.BigEndian.PutUint16(buf[0:], p.Identity.VendorID)
	binary.BigEndian.PutUint16(buf[2:], p.Identity.DeviceID)
	binary.BigEndian.PutUint16(buf[4:], p.Identity.SubsysVendorID)
	binary.BigEndian.PutUint16(buf[6:], p.Identity.SubsysDeviceID)
	binary.BigEndian.PutUint32(buf[8:], p.Identity.ClassCode)
	buf[12] = p.Identity.RevisionID
	sum := sha256.Sum256(buf[:])
	return fmt.Sprintf("%x", sum[:8])
}

// Validate re-checks the structural invariants before code generation.
func (p *Profile) Validate() error {
	if p.ConfigSpace == nil {
		return fwerr.New(fwerr.ProfileSchemaError, "profile has no config space image")
	}

	for i := 0; i < 6; i++ {
		b := p.Bars[i]
		if b.Is64Bit && i < 5 && p.Bars[i+1].Present {
			return fwerr.New(fwerr.BarInvalid,
				"BAR%d is 64-bit but BAR%d is present", i, i+1)
		}
		if b.Present && b.SizeBytes == 0 {
			return fwerr.New(fwerr.BarInvalid, "BAR%d present with zero size", i)
		}
	}

	if p.Msix != nil {
		cap := &pci.MSIXCap{
			TableSize:   p.Msix.NumVectors,
			TableBAR:    p.Msix.TableBAR,
			TableOffset: p.Msix.TableOffset,
			PBABAR:      p.Msix.PBABAR,
			PBAOffset:   p.Msix.PBAOffset,
		}
		if _, err := pci.BuildMsixInfo(cap, p.Bars); err != nil {
			return err
		}
	}

	return nil
}

// --- JSON schema (donor_info.json / profile store) ---

// barJSON is the on-disk form of one BAR slot. A null slot means
// "unknown, use discovered value".
type barJSON struct {
	Enabled      bool   `json:"enabled"`
	Size         uint64 `json:"size"`
	Type         string `json:"type"` // "memory" | "io"
	Prefetchable bool   `json:"prefetchable"`
	Is64Bit      bool   `json:"64bit"`
}

type identificationJSON struct {
	VendorID          int `json:"vendor_id"`
	DeviceID          int `json:"device_id"`
	SubsystemVendorID int `json:"subsystem_vendor_id"`
	SubsystemDeviceID int `json:"subsystem_device_id"`
	ClassCode         int `json:"class_code"`
	RevisionID        int `json:"revision_id"`
}

type deviceInfoJSON struct {
	Identification  identificationJSON  `json:"identification"`
	Bars            map[string]*barJSON `json:"bars"`
	ConfigSpaceHex  []string            `json:"config_space_hex"`
	ConfigSpaceSize int                 `json:"config_space_size"`
	Capabilities    []pci.Capability    `json:"capabilities,omitempty"`
	ExtCapabilities []pci.ExtCapability `json:"ext_capabilities,omitempty"`
	Msix            *pci.MsixInfo       `json:"msix,omitempty"`
}

// MarshalJSON emits the canonical profile schema: required keys `metadata`
// and `device_info`, optional `behavioral_profile`, plus any preserved
// unknown keys.
func (p *Profile) MarshalJSON() ([]byte, error) {
	doc := make(map[string]json.RawMessage, 4+len(p.extraTop))
	for k, v := range p.extraTop {
		doc[k] = v
	}

	meta, err := json.Marshal(p.Provenance)
	if err != nil {
		return nil, err
	}
	doc["metadata"] = meta

	dev := deviceInfoJSON{
		Identification: identificationJSON{
			VendorID:          int(p.Identity.VendorID),
			DeviceID:          int(p.Identity.DeviceID),
			SubsystemVendorID: int(p.Identity.SubsysVendorID),
			SubsystemDeviceID: int(p.Identity.SubsysDeviceID),
			ClassCode:         int(p.Identity.ClassCode),
			RevisionID:        int(p.Identity.RevisionID),
		},
		Bars:            make(map[string]*barJSON, 7),
		Capabilities:    p.Capabilities,
		ExtCapabilities: p.ExtCapabilities,
		Msix:            p.Msix,
	}

	if p.ConfigSpace != nil {
		dev.ConfigSpaceHex = util.WordsToHex(p.ConfigSpace.Bytes())
		dev.ConfigSpaceSize = p.ConfigSpace.Size
	}

	for i := 0; i < 6; i++ {
		key := fmt.Sprintf("bar%d", i)
		b := p.Bars[i]
		if !b.Present {
			dev.Bars[key] = nil
			continue
		}
		dev.Bars[key] = &barJSON{
			Enabled:      true,
			Size:         b.SizeBytes,
			Type:         string(b.Kind),
			Prefetchable: b.IsPrefetchable,
			Is64Bit:      b.Is64Bit,
		}
	}
	if p.ExpansionRom != nil && p.ExpansionRom.Present {
		dev.Bars["expansion_rom"] = &barJSON{Enabled: true, Size: p.ExpansionRom.SizeBytes, Type: "memory"}
	} else {
		dev.Bars["expansion_rom"] = nil
	}

	devDoc := make(map[string]json.RawMessage, len(p.extraDevice)+1)
	for k, v := range p.extraDevice {
		devDoc[k] = v
	}
	devRaw, err := marshalDeviceInfo(dev, devDoc)
	if err != nil {
		return nil, err
	}
	doc["device_info"] = devRaw

	if p.Behavior != nil {
		behavior, err := json.Marshal(p.Behavior)
		if err != nil {
			return nil, err
		}
		doc["behavioral_profile"] = behavior
	}

	return json.Marshal(doc)
}

// marshalDeviceInfo merges the typed device_info fields over preserved
// unknown keys.
func marshalDeviceInfo(dev deviceInfoJSON, extra map[string]json.RawMessage) (json.RawMessage, error) {
	typed, err := json.Marshal(dev)
	if err != nil {
		return nil, err
	}
	var typedMap map[string]json.RawMessage
	if err := json.Unmarshal(typed, &typedMap); err != nil {
		return nil, err
	}
	for k, v := range typedMap {
		extra[k] = v
	}
	return json.Marshal(extra)
}

// UnmarshalJSON parses the canonical schema, preserving unknown keys.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return fwerr.Wrap(fwerr.ProfileSchemaError, err, "profile is not a JSON object")
	}

	metaRaw, ok := doc["metadata"]
	if !ok {
		return fwerr.AtKey(fwerr.ProfileSchemaError, "metadata", "required key missing")
	}
	if err := json.Unmarshal(metaRaw, &p.Provenance); err != nil {
		return fwerr.Wrap(fwerr.ProfileSchemaError, err, "metadata")
	}

	devRaw, ok := doc["device_info"]
	if !ok {
		return fwerr.AtKey(fwerr.ProfileSchemaError, "device_info", "required key missing")
	}

	var devMap map[string]json.RawMessage
	if err := json.Unmarshal(devRaw, &devMap); err != nil {
		return fwerr.Wrap(fwerr.ProfileSchemaError, err, "device_info")
	}
	var dev deviceInfoJSON
	if err := json.Unmarshal(devRaw, &dev); err != nil {
		return fwerr.Wrap(fwerr.ProfileSchemaError, err, "device_info")
	}

	if err := validateIdentification(dev.Identification); err != nil {
		return err
	}

	p.Identity = pci.Identity{
		VendorID:       uint16(dev.Identification.VendorID),
		DeviceID:       uint16(dev.Identification.DeviceID),
		SubsysVendorID: uint16(dev.Identification.SubsystemVendorID),
		SubsysDeviceID: uint16(dev.Identification.SubsystemDeviceID),
		ClassCode:      uint32(dev.Identification.ClassCode),
		RevisionID:     uint8(dev.Identification.RevisionID),
	}
	p.Capabilities = dev.Capabilities
	p.ExtCapabilities = dev.ExtCapabilities
	p.Msix = dev.Msix

	if len(dev.ConfigSpaceHex) > 0 {
		raw, err := util.HexToWords(dev.ConfigSpaceHex)
		if err != nil {
			return fwerr.Wrap(fwerr.ProfileSchemaError, err, "config_space_hex")
		}
		cs, err := pci.FromBytes(raw)
		if err != nil {
			return err
		}
		if dev.ConfigSpaceSize >= pci.ConfigSpaceLegacySize && dev.ConfigSpaceSize <= pci.ConfigSpaceSize {
			cs.Size = dev.ConfigSpaceSize
		}
		p.ConfigSpace = cs
	}

	for i := 0; i < 6; i++ {
		p.Bars[i] = pci.BarDescriptor{Index: i, Kind: pci.BarNone}
		b, ok := dev.Bars[fmt.Sprintf("bar%d", i)]
		if !ok || b == nil || !b.Enabled {
			continue
		}
		kind := pci.BarKind(b.Type)
		if kind != pci.BarMemory && kind != pci.BarIO {
			return fwerr.AtKey(fwerr.ProfileSchemaError, fmt.Sprintf("bar%d.type", i),
				"must be \"memory\" or \"io\", got %q", b.Type)
		}
		p.Bars[i] = pci.BarDescriptor{
			Index:             i,
			Present:           true,
			Kind:              kind,
			SizeBytes:         b.Size,
			Is64Bit:           b.Is64Bit,
			IsPrefetchable:    b.Prefetchable,
			ConsumesNextIndex: b.Is64Bit,
		}
	}
	if rom := dev.Bars["expansion_rom"]; rom != nil && rom.Enabled {
		p.ExpansionRom = &pci.ExpansionRomDescriptor{Present: true, SizeBytes: rom.Size}
	}

	if behaviorRaw, ok := doc["behavioral_profile"]; ok && string(behaviorRaw) != "null" {
		p.Behavior = &BehaviorProfile{}
		if err := json.Unmarshal(behaviorRaw, p.Behavior); err != nil {
			return fwerr.Wrap(fwerr.ProfileSchemaError, err, "behavioral_profile")
		}
	}

	// Preserve unknown keys for lossless round-trips.
	p.extraTop = make(map[string]json.RawMessage)
	for k, v := range doc {
		switch k {
		case "metadata", "device_info", "behavioral_profile":
		default:
			p.extraTop[k] = v
		}
	}
	p.extraDevice = make(map[string]json.RawMessage)
	known := map[string]bool{
		"identification": true, "bars": true, "config_space_hex": true,
		"config_space_size": true, "capabilities": true,
		"ext_capabilities": true, "msix": true,
	}
	for k, v := range devMap {
		if !known[k] {
			p.extraDevice[k] = v
		}
	}

	return nil
}

// validateIdentification range-checks the identity integers.
func validateIdentification(id identificationJSON) error {
	checks := []struct {
		key string
		val int
		max int
	}{
		{"vendor_id", id.VendorID, 0xFFFF},
		{"device_id", id.DeviceID, 0xFFFF},
		{"subsystem_vendor_id", id.SubsystemVendorID, 0xFFFF},
		{"subsystem_device_id", id.SubsystemDeviceID, 0xFFFF},
		{"class_code", id.ClassCode, 0xFFFFFF},
		{"revision_id", id.RevisionID, 0xFF},
	}
	for _, c := range checks {
		if c.val < 0 || c.val > c.max {
			return fwerr.AtKey(fwerr.ProfileSchemaError,
				"device_info.identification."+c.key,
				"value %d outside [0, %d]", c.val, c.max)
		}
	}
	return nil
}

// ToJSON serializes the profile to indented canonical JSON.
func (p *Profile) ToJSON() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// FromJSON deserializes a profile from canonical JSON.
func FromJSON(data []byte) (*Profile, error) {
	p := &Profile{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, err
	}
	return p, nil
}
