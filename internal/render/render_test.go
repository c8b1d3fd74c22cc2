package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/pcileechlab/pcileechfwgen/internal/board"
	"github.com/pcileechlab/pcileechfwgen/internal/donor"
	"github.com/pcileechlab/pcileechfwgen/internal/fwerr"
	"github.com/pcileechlab/pcileechfwgen/internal/pci"
)

// nicProfile builds a minimal Ethernet NIC profile: 8086:1533, class
// 0x020000, BAR0 memory 131072, no MSI-X.
func nicProfile() *donor.Profile {
	cs := pci.NewConfigSpace()
	cs.Size = pci.ConfigSpaceLegacySize
	cs.WriteU16(0x00, 0x8086)
	cs.WriteU16(0x02, 0x1533)
	cs.WriteU8(0x0B, 0x02)

	var bars [6]pci.BarDescriptor
	for i := range bars {
		bars[i] = pci.BarDescriptor{Index: i, Kind: pci.BarNone}
	}
	bars[0] = pci.BarDescriptor{Index: 0, Present: true, Kind: pci.BarMemory, SizeBytes: 131072}

	return &donor.Profile{
		Identity: pci.Identity{
			VendorID: 0x8086, DeviceID: 0x1533, ClassCode: 0x020000, RevisionID: 3,
		},
		ConfigSpace: cs,
		Bars:        bars,
		Provenance: donor.Provenance{
			CapturedAt:       time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
			GeneratorVersion: "0.9.2",
		},
	}
}

// msixProfile returns a profile with MSI-X: 8 vectors in BAR4.
func msixProfile() *donor.Profile {
	p := nicProfile()
	p.Bars[4] = pci.BarDescriptor{Index: 4, Present: true, Kind: pci.BarMemory,
		SizeBytes: 8192, Is64Bit: true, IsPrefetchable: true, ConsumesNextIndex: true}
	p.Msix = &pci.MsixInfo{NumVectors: 8, TableBAR: 4, TableOffset: 0, PBABAR: 4, PBAOffset: 0x1000}
	return p
}

func testBoard() *board.Board {
	b, _ := board.Find("pcileech_35t325_x1")
	return b
}

func baseOptions() Options {
	return Options{FileList: []string{"pcileech_device_config.sv", "pcileech_top_wrapper.sv"}}
}

func TestBuildContextDeviceGroup(t *testing.T) {
	ctx, err := BuildContext(nicProfile(), testBoard(), baseOptions())
	if err != nil {
		t.Fatalf("BuildContext error: %v", err)
	}

	device := ctx["device"].(map[string]any)
	if device["vendor_id"] != "8086" {
		t.Errorf("vendor_id = %q, want \"8086\"", device["vendor_id"])
	}
	if device["class_code"] != "020000" {
		t.Errorf("class_code = %q, want \"020000\"", device["class_code"])
	}
	if device["revision_id"] != "03" {
		t.Errorf("revision_id = %q, want \"03\"", device["revision_id"])
	}
}

func TestBuildContextMsixDefaults(t *testing.T) {
	ctx, err := BuildContext(nicProfile(), testBoard(), baseOptions())
	if err != nil {
		t.Fatalf("BuildContext error: %v", err)
	}

	msix := ctx["msix"].(map[string]any)
	if msix["enabled"] != false {
		t.Error("msix.enabled must be false without the capability")
	}
	if msix["num_vectors"] != 1 {
		t.Errorf("num_vectors = %v, want synthetic default 1", msix["num_vectors"])
	}
	if msix["pba_offset"] != uint32(2048) {
		t.Errorf("pba_offset = %v, want synthetic default 2048", msix["pba_offset"])
	}
}

func TestBuildContextMsixFromProfile(t *testing.T) {
	ctx, err := BuildContext(msixProfile(), testBoard(), baseOptions())
	if err != nil {
		t.Fatalf("BuildContext error: %v", err)
	}

	msix := ctx["msix"].(map[string]any)
	if msix["num_vectors"] != 8 || msix["table_size_minus_one"] != 7 {
		t.Errorf("msix = %v", msix)
	}
	if msix["addr_width"] != 3 {
		t.Errorf("addr_width = %v, want 3", msix["addr_width"])
	}
}

func TestBuildContextClassHeuristics(t *testing.T) {
	p := nicProfile()
	p.Identity.ClassCode = 0x010802 // NVMe
	ctx, err := BuildContext(p, testBoard(), baseOptions())
	if err != nil {
		t.Fatalf("BuildContext error: %v", err)
	}
	adc := ctx["active_device_config"].(map[string]any)
	if adc["num_sources"] != 8 {
		t.Errorf("storage num_sources = %v, want 8", adc["num_sources"])
	}

	ctx2, _ := BuildContext(nicProfile(), testBoard(), baseOptions())
	if ctx2["active_device_config"].(map[string]any)["num_sources"] != 4 {
		t.Error("network num_sources heuristic missing")
	}

	opts := baseOptions()
	opts.NumSourcesOverride = 12
	ctx3, _ := BuildContext(nicProfile(), testBoard(), opts)
	if ctx3["active_device_config"].(map[string]any)["num_sources"] != 12 {
		t.Error("num_sources override not applied")
	}
}

func TestBuildContextRejectsInvalidProfile(t *testing.T) {
	p := msixProfile()
	p.Msix.TableOffset = 0x4000 // outside the 8 KiB BAR

	_, err := BuildContext(p, testBoard(), baseOptions())
	if fwerr.KindOf(err) != fwerr.MsixTableOutOfBar {
		t.Errorf("kind = %v, want MsixTableOutOfBar", fwerr.KindOf(err))
	}
}

func TestRenderDeviceConfigLiterals(t *testing.T) {
	ctx, _ := BuildContext(nicProfile(), testBoard(), baseOptions())
	r := NewRenderer(board.TreeTemplates)

	out, err := r.Render(TplDeviceConfig, ctx)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	text := string(out)

	for _, want := range []string{"16'h8086", "16'h1533", "24'h020000", "8'h03"} {
		if !strings.Contains(text, want) {
			t.Errorf("device_config missing literal %q", want)
		}
	}
	if !strings.Contains(text, "BAR0_SIZE = 64'd131072") {
		t.Error("device_config missing BAR0 size constant")
	}
	if !strings.Contains(text, "BAR5_SIZE = 64'd0") {
		t.Error("absent BAR must render size 0")
	}
	if strings.Contains(text, "\r") {
		t.Error("output must use LF line endings")
	}
}

func TestRenderTopWrapperDebugStatus(t *testing.T) {
	ctx, _ := BuildContext(nicProfile(), testBoard(), baseOptions())
	r := NewRenderer(board.TreeTemplates)

	out, err := r.Render(TplTopWrapper, ctx)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !strings.Contains(string(out), "{16'h8086, 16'h1533}") {
		t.Error("debug_status must encode vendor in the upper half")
	}
}

func TestRenderMsixTableParameters(t *testing.T) {
	ctx, _ := BuildContext(msixProfile(), testBoard(), baseOptions())
	r := NewRenderer(board.TreeTemplates)

	out, err := r.Render(TplMsixTable, ctx)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	text := string(out)
	if !strings.Contains(text, "NUM_MSIX   = 8") {
		t.Error("msix_table missing NUM_MSIX=8")
	}
	if !strings.Contains(text, "ADDR_WIDTH = 3") {
		t.Error("msix_table missing ADDR_WIDTH=3")
	}
}

func TestRenderIPConfigMatchesDeviceConfig(t *testing.T) {
	ctx, _ := BuildContext(msixProfile(), testBoard(), baseOptions())
	r := NewRenderer(board.TreeTemplates)

	out, err := r.Render(TplIPConfigPCIe7x, ctx)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	text := string(out)
	if !strings.Contains(text, `CONFIG.Vendor_ID "8086"`) {
		t.Error("ip_config missing vendor")
	}
	if !strings.Contains(text, `CONFIG.MSIX_Enabled "true"`) {
		t.Error("ip_config missing MSIX_Enabled")
	}
	if !strings.Contains(text, `CONFIG.MSIX_Table_Size "7"`) {
		t.Error("ip_config missing MSIX table size")
	}
}

func TestRenderDeterministic(t *testing.T) {
	ctx, _ := BuildContext(msixProfile(), testBoard(), baseOptions())
	r := NewRenderer(board.TreeTemplates)

	for _, id := range []string{TplDeviceConfig, TplMsixCfg, TplTopWrapper, TplMaster, TplAddSources} {
		a, err := r.Render(id, ctx)
		if err != nil {
			t.Fatalf("Render(%s) error: %v", id, err)
		}
		b, err := r.Render(id, ctx)
		if err != nil {
			t.Fatalf("Render(%s) second pass error: %v", id, err)
		}
		if !bytes.Equal(a, b) {
			t.Errorf("Render(%s) not deterministic", id)
		}
	}
}

func TestRenderMissingKeyFails(t *testing.T) {
	r := NewRenderer(board.TreeTemplates)
	ctx := Context{"header": map[string]any{"generator_version": "x"}}

	_, err := r.Render(TplDeviceConfig, ctx)
	if fwerr.KindOf(err) != fwerr.TemplateRenderError {
		t.Errorf("kind = %v, want TemplateRenderError", fwerr.KindOf(err))
	}
}

func TestTemplateTreeVariants(t *testing.T) {
	ctx, _ := BuildContext(nicProfile(), testBoard(), baseOptions())

	a, err := NewRenderer(board.TreeTemplates).Render(TplPowerMgmt, ctx)
	if err != nil {
		t.Fatalf("templates tree render error: %v", err)
	}
	b, err := NewRenderer(board.TreeTemplating).Render(TplPowerMgmt, ctx)
	if err != nil {
		t.Fatalf("templating tree render error: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("the two template trees must stay distinguishable")
	}
	if !strings.Contains(string(b), "templating tree") {
		t.Error("templating variant missing its banner marker")
	}
}

func TestAddSourcesListsEveryFileOnce(t *testing.T) {
	opts := baseOptions()
	opts.FileList = []string{"pcileech_device_config.sv", "pcileech_msix_table.sv", "pcileech_top_wrapper.sv"}
	ctx, _ := BuildContext(nicProfile(), testBoard(), opts)
	r := NewRenderer(board.TreeTemplates)

	out, err := r.Render(TplAddSources, ctx)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	text := string(out)
	for _, f := range opts.FileList {
		if strings.Count(text, f) != 1 {
			t.Errorf("file %s listed %d times, want exactly once", f, strings.Count(text, f))
		}
	}
}

func TestContextValidationMissingKeys(t *testing.T) {
	// Hand-build a context with a group removed to exercise the key check.
	ctx, _ := BuildContext(nicProfile(), testBoard(), baseOptions())
	delete(ctx, "pcie")

	err := validateContext(ctx, nicProfile())
	if fwerr.KindOf(err) != fwerr.ContextInvalid {
		t.Errorf("kind = %v, want ContextInvalid", fwerr.KindOf(err))
	}
}
