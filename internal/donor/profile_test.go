package donor

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/pcileechlab/pcileechfwgen/internal/fwerr"
	"github.com/pcileechlab/pcileechfwgen/internal/pci"
)

// makeProfile builds a profile resembling an Intel NIC with an unknown
// capability so round-trip tests cover raw byte preservation.
func makeProfile(t *testing.T) *Profile {
	t.Helper()

	cs := pci.NewConfigSpace()
	cs.Size = pci.ConfigSpaceLegacySize
	cs.WriteU16(0x00, 0x8086)
	cs.WriteU16(0x02, 0x1533)
	cs.WriteU16(0x06, 0x0010)
	cs.WriteU8(0x08, 0x03)
	cs.WriteU8(0x0B, 0x02)
	cs.WriteU16(0x2C, 0x8086)
	cs.WriteU16(0x2E, 0x0001)
	cs.WriteU8(0x34, 0x40)
	cs.WriteU8(0x40, 0x42) // unknown capability
	cs.WriteU8(0x41, 0x00)
	cs.WriteU8(0x42, 0xAB)

	caps, err := pci.ParseCapabilities(cs)
	if err != nil {
		t.Fatal(err)
	}

	var bars [6]pci.BarDescriptor
	for i := range bars {
		bars[i] = pci.BarDescriptor{Index: i, Kind: pci.BarNone}
	}
	bars[0] = pci.BarDescriptor{Index: 0, Present: true, Kind: pci.BarMemory, SizeBytes: 131072}

	return &Profile{
		Identity:     cs.Identity(),
		ConfigSpace:  cs,
		Capabilities: caps,
		Bars:         bars,
		Provenance: Provenance{
			SourceBDF:        "0000:03:00.0",
			CapturedAt:       time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
			GeneratorVersion: "0.9.2",
		},
	}
}

func TestProfileRoundTrip(t *testing.T) {
	p := makeProfile(t)

	data, err := p.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON error: %v", err)
	}

	back, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON error: %v", err)
	}

	if back.Identity != p.Identity {
		t.Errorf("identity = %+v, want %+v", back.Identity, p.Identity)
	}
	if back.ConfigSpace.Size != p.ConfigSpace.Size {
		t.Errorf("config size = %d, want %d", back.ConfigSpace.Size, p.ConfigSpace.Size)
	}
	if !bytes.Equal(back.ConfigSpace.Bytes(), p.ConfigSpace.Bytes()) {
		t.Error("config space bytes differ after round-trip")
	}
	if len(back.Capabilities) != 1 {
		t.Fatalf("capabilities = %d, want 1", len(back.Capabilities))
	}
	if !bytes.Equal(back.Capabilities[0].Data, p.Capabilities[0].Data) {
		t.Error("unknown capability raw bytes differ after round-trip")
	}
	if back.Bars[0] != p.Bars[0] {
		t.Errorf("bar0 = %+v, want %+v", back.Bars[0], p.Bars[0])
	}
	if !back.Provenance.CapturedAt.Equal(p.Provenance.CapturedAt) {
		t.Error("captured_at differs after round-trip")
	}

	// Serializing again yields identical bytes.
	data2, err := back.ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, data2) {
		t.Error("second serialization differs from first")
	}
}

func TestProfileUnknownKeysPreserved(t *testing.T) {
	p := makeProfile(t)
	data, _ := p.ToJSON()

	// Inject unknown keys the way a foreign tool would.
	var doc map[string]any
	json.Unmarshal(data, &doc)
	doc["pcileech_optimizations"] = map[string]any{"tlp_batching": true}
	devInfo := doc["device_info"].(map[string]any)
	devInfo["custom_notes"] = "lab bench donor"
	withExtra, _ := json.Marshal(doc)

	back, err := FromJSON(withExtra)
	if err != nil {
		t.Fatalf("FromJSON error: %v", err)
	}
	out, err := back.ToJSON()
	if err != nil {
		t.Fatal(err)
	}

	var outDoc map[string]any
	json.Unmarshal(out, &outDoc)
	if _, ok := outDoc["pcileech_optimizations"]; !ok {
		t.Error("top-level unknown key dropped on round-trip")
	}
	outDev := outDoc["device_info"].(map[string]any)
	if outDev["custom_notes"] != "lab bench donor" {
		t.Error("device_info unknown key dropped on round-trip")
	}
}

func TestProfileSchemaMissingKeys(t *testing.T) {
	_, err := FromJSON([]byte(`{"device_info": {}}`))
	if fwerr.KindOf(err) != fwerr.ProfileSchemaError {
		t.Errorf("kind = %v, want ProfileSchemaError", fwerr.KindOf(err))
	}

	_, err = FromJSON([]byte(`{"metadata": {}}`))
	if fwerr.KindOf(err) != fwerr.ProfileSchemaError {
		t.Errorf("kind = %v, want ProfileSchemaError", fwerr.KindOf(err))
	}
}

func TestProfileSchemaRangeCheck(t *testing.T) {
	bad := `{"metadata": {}, "device_info": {"identification": {"vendor_id": 70000}}}`
	_, err := FromJSON([]byte(bad))
	if fwerr.KindOf(err) != fwerr.ProfileSchemaError {
		t.Errorf("kind = %v, want ProfileSchemaError", fwerr.KindOf(err))
	}
}

func TestProfileValidate64BitPairing(t *testing.T) {
	p := makeProfile(t)
	p.Bars[2] = pci.BarDescriptor{Index: 2, Present: true, Kind: pci.BarMemory,
		SizeBytes: 4096, Is64Bit: true, ConsumesNextIndex: true}
	p.Bars[3] = pci.BarDescriptor{Index: 3, Present: true, Kind: pci.BarMemory, SizeBytes: 4096}

	if fwerr.KindOf(p.Validate()) != fwerr.BarInvalid {
		t.Error("64-bit BAR with present sibling must fail validation")
	}

	p.Bars[3] = pci.BarDescriptor{Index: 3, Kind: pci.BarNone}
	if err := p.Validate(); err != nil {
		t.Errorf("valid pairing rejected: %v", err)
	}
}

func TestProfileValidateMsixWindow(t *testing.T) {
	p := makeProfile(t)
	p.Msix = &pci.MsixInfo{NumVectors: 64, TableBAR: 0, TableOffset: 0x4000, PBABAR: 0, PBAOffset: 0}
	p.Bars[0].SizeBytes = 0x2000

	if fwerr.KindOf(p.Validate()) != fwerr.MsixTableOutOfBar {
		t.Error("MSI-X table outside BAR must fail validation")
	}
}

func TestIdentityHashStable(t *testing.T) {
	a := makeProfile(t)
	b := makeProfile(t)
	if a.IdentityHash() != b.IdentityHash() {
		t.Error("identity hash not stable for equal identities")
	}
	b.Identity.DeviceID = 0x1534
	if a.IdentityHash() == b.IdentityHash() {
		t.Error("identity hash ignores device ID")
	}
}
