package codegen

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pcileechlab/pcileechfwgen/internal/donor"
	"github.com/pcileechlab/pcileechfwgen/internal/fwerr"
	"github.com/pcileechlab/pcileechfwgen/internal/pci"
	"github.com/pcileechlab/pcileechfwgen/internal/sysfs"
)

// nicProfile builds an Ethernet NIC profile used across codegen tests.
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
		Identity:    pci.Identity{VendorID: 0x8086, DeviceID: 0x1533, ClassCode: 0x020000, RevisionID: 3},
		ConfigSpace: cs,
		Bars:        bars,
		Provenance: donor.Provenance{
			SourceBDF:        "0000:03:00.0",
			CapturedAt:       time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
			GeneratorVersion: "0.9.2",
		},
	}
}

func msixProfile() *donor.Profile {
	p := nicProfile()
	p.Bars[4] = pci.BarDescriptor{Index: 4, Present: true, Kind: pci.BarMemory,
		SizeBytes: 8192, Is64Bit: true, IsPrefetchable: true, ConsumesNextIndex: true}
	p.Msix = &pci.MsixInfo{NumVectors: 8, TableBAR: 4, TableOffset: 0, PBABAR: 4, PBAOffset: 0x1000}
	return p
}

// fakeSysfsNIC writes a fake sysfs tree carrying the minimal NIC.
func fakeSysfsNIC(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "0000:03:00.0")
	os.MkdirAll(dir, 0755)

	cfg := make([]byte, 256)
	binary.LittleEndian.PutUint16(cfg[0x00:], 0x8086)
	binary.LittleEndian.PutUint16(cfg[0x02:], 0x1533)
	cfg[0x08] = 0x03
	cfg[0x0B] = 0x02
	binary.LittleEndian.PutUint32(cfg[0x10:], 0xFE000000)
	os.WriteFile(filepath.Join(dir, "config"), cfg, 0644)

	zero := "0x0000000000000000 0x0000000000000000 0x0000000000000000\n"
	resource := "0x00000000fe000000 0x00000000fe01ffff 0x0000000000000200\n" +
		zero + zero + zero + zero + zero + zero
	os.WriteFile(filepath.Join(dir, "resource"), []byte(resource), 0644)
	return root
}

func newTestOrchestrator(root string) *Orchestrator {
	return &Orchestrator{
		Collector: donor.NewCollectorWithReader(sysfs.NewReaderWithRoot(root)),
		Quiet:     true,
	}
}

func TestRunBuildFromBDF(t *testing.T) {
	root := fakeSysfsNIC(t)
	out := filepath.Join(t.TempDir(), "out")

	o := newTestOrchestrator(root)
	err := o.Run(context.Background(), Request{
		BDF:       "0000:03:00.0",
		Board:     "pcileech_35t325_x1",
		OutputDir: out,
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	deviceConfig, err := os.ReadFile(filepath.Join(out, "generated", "pcileech_device_config.sv"))
	if err != nil {
		t.Fatalf("device_config missing: %v", err)
	}
	for _, want := range []string{"16'h8086", "16'h1533", "24'h020000"} {
		if !bytes.Contains(deviceConfig, []byte(want)) {
			t.Errorf("device_config missing %q", want)
		}
	}

	topWrapper, _ := os.ReadFile(filepath.Join(out, "generated", "pcileech_top_wrapper.sv"))
	if !bytes.Contains(topWrapper, []byte("{16'h8086, 16'h1533}")) {
		t.Error("top wrapper debug_status wrong")
	}

	if _, err := os.Stat(filepath.Join(out, "generated", "pcileech_msix_cfg.sv")); err == nil {
		t.Error("MSI-X capability module emitted for donor without MSI-X")
	}

	for _, f := range []string{
		"tcl/01_project_setup.tcl", "tcl/02_ip_config_pcie7x.tcl",
		"tcl/build_all.tcl", "donor_info.json",
		"generated/pcileech_cfgspace.coe",
		"generated/pcileech_cfgspace_writemask.coe",
		"constraints/pcileech_35t325_x1_pinout.xdc",
		"constraints/pcileech_35t325_x1_timing.xdc",
	} {
		if _, err := os.Stat(filepath.Join(out, filepath.FromSlash(f))); err != nil {
			t.Errorf("output missing %s", f)
		}
	}

	if _, err := os.Stat(out + ".staging"); !os.IsNotExist(err) {
		t.Error("staging directory left behind after commit")
	}
}

func TestRunBuildDeterministic(t *testing.T) {
	profile := msixProfile()
	dir := t.TempDir()
	profilePath := filepath.Join(dir, "profile.json")
	if err := donor.SaveProfile(profile, profilePath); err != nil {
		t.Fatal(err)
	}

	outA := filepath.Join(dir, "a")
	outB := filepath.Join(dir, "b")

	for _, out := range []string{outA, outB} {
		o := newTestOrchestrator(t.TempDir())
		err := o.Run(context.Background(), Request{
			DonorProfilePath: profilePath,
			Board:            "pcileech_35t325_x1",
			OutputDir:        out,
		})
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
	}

	for _, rel := range []string{
		"generated/pcileech_device_config.sv",
		"generated/pcileech_msix_cfg.sv",
		"generated/pcileech_msix_table.sv",
		"generated/pcileech_top_wrapper.sv",
		"tcl/02_ip_config_pcie7x.tcl",
		"donor_info.json",
	} {
		a, err := os.ReadFile(filepath.Join(outA, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("read %s: %v", rel, err)
		}
		b, err := os.ReadFile(filepath.Join(outB, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("read %s: %v", rel, err)
		}
		if !bytes.Equal(a, b) {
			t.Errorf("%s differs between identical builds", rel)
		}
	}
}

func TestRunMutuallyExclusiveInputs(t *testing.T) {
	o := newTestOrchestrator(t.TempDir())
	err := o.Run(context.Background(), Request{
		BDF:              "0000:03:00.0",
		DonorProfilePath: "profile.json",
		Board:            "pcileech_35t325_x1",
		OutputDir:        t.TempDir(),
	})
	if fwerr.KindOf(err) != fwerr.InputError {
		t.Errorf("kind = %v, want InputError", fwerr.KindOf(err))
	}
}

func TestRunValidationFailureLeavesNoOutput(t *testing.T) {
	profile := msixProfile()
	profile.Msix.TableOffset = 0x4000 // outside BAR4

	dir := t.TempDir()
	profilePath := filepath.Join(dir, "profile.json")
	donor.SaveProfile(profile, profilePath)

	out := filepath.Join(dir, "out")
	o := newTestOrchestrator(t.TempDir())
	err := o.Run(context.Background(), Request{
		DonorProfilePath: profilePath,
		Board:            "pcileech_35t325_x1",
		OutputDir:        out,
	})
	if fwerr.KindOf(err) != fwerr.MsixTableOutOfBar {
		t.Fatalf("kind = %v, want MsixTableOutOfBar", fwerr.KindOf(err))
	}
	if fwerr.ExitCode(err) != 2 {
		t.Errorf("exit = %d, want 2", fwerr.ExitCode(err))
	}

	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("output dir created despite validation failure")
	}
	if _, err := os.Stat(out + ".staging"); !os.IsNotExist(err) {
		t.Error("staging dir left behind after failure")
	}
}

func TestRunUnknownBoard(t *testing.T) {
	profilePath := filepath.Join(t.TempDir(), "profile.json")
	donor.SaveProfile(nicProfile(), profilePath)

	o := newTestOrchestrator(t.TempDir())
	err := o.Run(context.Background(), Request{
		DonorProfilePath: profilePath,
		Board:            "bogus_board",
		OutputDir:        filepath.Join(t.TempDir(), "out"),
	})
	if fwerr.KindOf(err) != fwerr.InputError {
		t.Errorf("kind = %v, want InputError", fwerr.KindOf(err))
	}
}

func TestRunDonorTemplateOverride(t *testing.T) {
	root := fakeSysfsNIC(t)
	dir := t.TempDir()

	// Template overrides the vendor to 0x1234.
	tmplPath := filepath.Join(dir, "template.json")
	os.WriteFile(tmplPath, []byte(`{"device_info": {"identification": {"vendor_id": 4660}}}`), 0644)

	out := filepath.Join(dir, "out")
	o := newTestOrchestrator(root)
	err := o.Run(context.Background(), Request{
		BDF:       "0000:03:00.0",
		Board:     "pcileech_35t325_x1",
		OutputDir: out,
		Options:   RequestOptions{DonorTemplate: tmplPath},
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	deviceConfig, _ := os.ReadFile(filepath.Join(out, "generated", "pcileech_device_config.sv"))
	if !bytes.Contains(deviceConfig, []byte("16'h1234")) {
		t.Error("overridden vendor not rendered")
	}

	donorInfo, _ := os.ReadFile(filepath.Join(out, "donor_info.json"))
	if !bytes.Contains(donorInfo, []byte(`"vendor_id": 4660`)) {
		t.Error("donor_info.json does not reflect the override")
	}
}

func TestRunTemplateRoundTripIdempotent(t *testing.T) {
	// Build once from a fake device, feed the emitted donor_info.json back
	// in as the profile, and expect an identical tree.
	root := fakeSysfsNIC(t)
	dir := t.TempDir()
	outA := filepath.Join(dir, "a")
	outB := filepath.Join(dir, "b")

	o := newTestOrchestrator(root)
	if err := o.Run(context.Background(), Request{
		BDF: "0000:03:00.0", Board: "pcileech_35t325_x1", OutputDir: outA,
	}); err != nil {
		t.Fatalf("first Run error: %v", err)
	}

	o2 := newTestOrchestrator(t.TempDir())
	if err := o2.Run(context.Background(), Request{
		DonorProfilePath: filepath.Join(outA, "donor_info.json"),
		Board:            "pcileech_35t325_x1",
		OutputDir:        outB,
	}); err != nil {
		t.Fatalf("round-trip Run error: %v", err)
	}

	for _, rel := range []string{
		"generated/pcileech_device_config.sv",
		"generated/pcileech_top_wrapper.sv",
		"generated/pcileech_cfgspace.coe",
		"tcl/02_ip_config_pcie7x.tcl",
	} {
		a, _ := os.ReadFile(filepath.Join(outA, filepath.FromSlash(rel)))
		b, _ := os.ReadFile(filepath.Join(outB, filepath.FromSlash(rel)))
		if !bytes.Equal(a, b) {
			t.Errorf("%s differs after profile round-trip", rel)
		}
	}
}

func TestCrossCheckDetectsTamper(t *testing.T) {
	p := nicProfile()

	deviceConfig := []byte("localparam [15:0] VENDOR_ID        = 16'hdead;\n" +
		"localparam [15:0] DEVICE_ID        = 16'h1533;\n" +
		"localparam [15:0] SUBSYS_VENDOR_ID = 16'h0000;\n" +
		"localparam [23:0] CLASS_CODE       = 24'h020000;\n" +
		"localparam [7:0]  REVISION_ID      = 8'h03;\n" +
		"localparam        MSIX_ENABLED = 1'b0;\n")

	err := checkAnchors(p, "pcileech_device_config.sv", deviceConfig, deviceConfigAnchors)
	if fwerr.KindOf(err) != fwerr.CodegenInconsistency {
		t.Errorf("kind = %v, want CodegenInconsistency", fwerr.KindOf(err))
	}
	if fwerr.ExitCode(err) != 4 {
		t.Errorf("exit = %d, want 4", fwerr.ExitCode(err))
	}
}

func TestCrossCheckPasses(t *testing.T) {
	p := nicProfile()
	deviceConfig := []byte("localparam [15:0] VENDOR_ID        = 16'h8086;\n" +
		"localparam [15:0] DEVICE_ID        = 16'h1533;\n" +
		"localparam [15:0] SUBSYS_VENDOR_ID = 16'h0000;\n" +
		"localparam [23:0] CLASS_CODE       = 24'h020000;\n" +
		"localparam [7:0]  REVISION_ID      = 8'h03;\n" +
		"localparam        MSIX_ENABLED = 1'b0;\n")

	if err := checkAnchors(p, "pcileech_device_config.sv", deviceConfig, deviceConfigAnchors); err != nil {
		t.Errorf("valid anchors rejected: %v", err)
	}
}

func TestCrossCheckMsixEnabledMismatch(t *testing.T) {
	p := msixProfile() // donor has MSI-X, fixture claims it doesn't

	ipConfig := []byte("CONFIG.Vendor_ID \"8086\" \\\n" +
		"CONFIG.Device_ID \"1533\" \\\n" +
		"CONFIG.Subsystem_Vendor_ID \"0000\" \\\n" +
		"CONFIG.Revision_ID \"03\" \\\n" +
		"CONFIG.MSIX_Enabled \"false\" \\\n" +
		"CONFIG.MSIX_Table_Size \"7\" \\\n")

	err := checkAnchors(p, "ip_config", ipConfig, ipConfigAnchors)
	if fwerr.KindOf(err) != fwerr.CodegenInconsistency {
		t.Errorf("kind = %v, want CodegenInconsistency", fwerr.KindOf(err))
	}
}
