// Package codegen drives the build pipeline: input resolution, planning,
// rendering into a staging tree, cross-checking, and atomic commit.
package codegen

import (
	"path"

	"github.com/pcileechlab/pcileechfwgen/internal/board"
	"github.com/pcileechlab/pcileechfwgen/internal/donor"
	"github.com/pcileechlab/pcileechfwgen/internal/render"
)

// PlanEntry maps one template to its output location in the tree.
type PlanEntry struct {
	TemplateID string
	OutPath    string
}

// Plan derives the deterministic output file list from the profile, board,
// and options. No I/O. The MSI-X capability module is emitted only when
// the donor carries the capability; advanced modules follow their feature
// flags; exactly one IP-config script matches the board's family.
func Plan(p *donor.Profile, b *board.Board, opts render.Options) []PlanEntry {
	var entries []PlanEntry

	hw := func(id, name string) {
		entries = append(entries, PlanEntry{TemplateID: id, OutPath: path.Join("generated", name)})
	}
	tcl := func(id, name string) {
		entries = append(entries, PlanEntry{TemplateID: id, OutPath: path.Join("tcl", name)})
	}

	hw(render.TplDeviceConfig, "pcileech_device_config.sv")
	if p.Msix != nil {
		hw(render.TplMsixCfg, "pcileech_msix_cfg.sv")
	}
	hw(render.TplMsixTable, "pcileech_msix_table.sv")
	if opts.PowerMgmt {
		hw(render.TplPowerMgmt, "pcileech_power_mgmt.sv")
	}
	if opts.ErrorHandling {
		hw(render.TplErrorHandling, "pcileech_error_handling.sv")
	}
	if opts.PerfCounters {
		hw(render.TplPerfCounters, "pcileech_perf_counters.sv")
	}
	if opts.ClockCrossing {
		hw(render.TplClockCrossing, "pcileech_clock_crossing.sv")
	}
	hw(render.TplTopWrapper, "pcileech_top_wrapper.sv")

	tcl(render.TplProjectSetup, "01_project_setup.tcl")
	if b.IPFamily == board.UltraScale {
		tcl(render.TplIPConfigUltraScale, "02_ip_config_ultrascale.tcl")
	} else {
		tcl(render.TplIPConfigPCIe7x, "02_ip_config_pcie7x.tcl")
	}
	tcl(render.TplAddSources, "03_add_sources.tcl")
	tcl(render.TplConstraints, "04_constraints.tcl")
	tcl(render.TplSynthesis, "05_synthesis.tcl")
	tcl(render.TplImplementation, "06_implementation.tcl")
	tcl(render.TplBitstream, "07_bitstream.tcl")
	tcl(render.TplMaster, "build_all.tcl")

	// Pinout renders from the built-in fallback; a cache hit overwrites it
	// with the upstream constraints after rendering.
	entries = append(entries, PlanEntry{
		TemplateID: render.TplPinoutFallback,
		OutPath:    path.Join("constraints", b.Name+"_pinout.xdc"),
	})
	entries = append(entries, PlanEntry{
		TemplateID: render.TplTiming,
		OutPath:    path.Join("constraints", b.Name+"_timing.xdc"),
	})

	return entries
}

// HardwareFiles returns the basenames of the planned hardware modules, in
// plan order. This feeds build.file_list so the add-sources script covers
// every emitted module exactly once.
func HardwareFiles(entries []PlanEntry) []string {
	var files []string
	for _, e := range entries {
		if path.Dir(e.OutPath) == "generated" {
			files = append(files, path.Base(e.OutPath))
		}
	}
	return files
}
