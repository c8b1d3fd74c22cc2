package codegen

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pcileechlab/pcileechfwgen/internal/board"
	"github.com/pcileechlab/pcileechfwgen/internal/donor"
	"github.com/pcileechlab/pcileechfwgen/internal/firmware"
	"github.com/pcileechlab/pcileechfwgen/internal/fwerr"
	"github.com/pcileechlab/pcileechfwgen/internal/pci"
	"github.com/pcileechlab/pcileechfwgen/internal/render"
	"github.com/pcileechlab/pcileechfwgen/internal/repocache"
)

// Request is one firmware build. BDF and DonorProfilePath are mutually
// exclusive input sources.
type Request struct {
	BDF              string
	DonorProfilePath string
	Board            string
	OutputDir        string
	Options          RequestOptions
}

// RequestOptions mirrors the command-line build knobs.
type RequestOptions struct {
	EnableVariance  bool
	ProfileDuration float64
	DonorTemplate   string // overlay applied after extraction
	SkipSynthesis   bool
	PowerMgmt       bool
	ErrorHandling   bool
	PerfCounters    bool
	ClockCrossing   bool
	ConfigPath      string // optional board catalog YAML
	UpstreamCommit  string // constraint cache key; empty disables fetching
}

// Orchestrator owns the only mutable filesystem handle of a build. All
// writes land in a staging directory that is renamed onto the output
// directory on success and unlinked on any failure.
type Orchestrator struct {
	Collector *donor.Collector
	Cache     *repocache.Cache
	Quiet     bool

	warnings []string
}

// NewOrchestrator creates an orchestrator with the default collector.
func NewOrchestrator() *Orchestrator {
	return &Orchestrator{Collector: donor.NewCollector()}
}

func (o *Orchestrator) logf(format string, args ...any) {
	if !o.Quiet {
		fmt.Printf(format+"\n", args...)
	}
}

func (o *Orchestrator) warnf(format string, args ...any) {
	o.warnings = append(o.warnings, fmt.Sprintf(format, args...))
}

// Run executes the pipeline stages strictly in order. The returned error
// carries a structured kind for exit-status mapping.
func (o *Orchestrator) Run(ctx context.Context, req Request) error {
	o.warnings = nil

	// Stage 1: resolve input.
	profile, err := o.resolveProfile(ctx, req)
	if err != nil {
		return err
	}

	// Stage 2: validate profile.
	if err := profile.Validate(); err != nil {
		return err
	}

	// Stage 3/4: resolve board, then the constraint cache (best-effort).
	cfg, brd, err := o.resolveBoard(req)
	if err != nil {
		return err
	}
	pinout := o.resolvePinout(brd, req.Options.UpstreamCommit, cfg)

	// Stage 5: plan output files. Deterministic, no I/O.
	opts := render.Options{
		EnableVariance: req.Options.EnableVariance,
		PowerMgmt:      req.Options.PowerMgmt,
		ErrorHandling:  req.Options.ErrorHandling,
		PerfCounters:   req.Options.PerfCounters,
		ClockCrossing:  req.Options.ClockCrossing,
		TemplateTree:   cfg.TemplateTree,
	}
	entries := Plan(profile, brd, opts)
	opts.FileList = HardwareFiles(entries)

	// Stage 6: build context.
	rctx, err := render.BuildContext(profile, brd, opts)
	if err != nil {
		return err
	}

	// Stage 7: render into staging.
	staging := req.OutputDir + ".staging"
	if err := os.RemoveAll(staging); err != nil {
		return fwerr.Wrap(fwerr.IoError, err, "clear staging dir %s", staging)
	}
	defer os.RemoveAll(staging)

	renderer := render.NewRenderer(cfg.TemplateTree)
	rendered := make(map[string][]byte, len(entries))
	for _, e := range entries {
		data, err := renderer.Render(e.TemplateID, rctx)
		if err != nil {
			return err
		}
		rendered[e.OutPath] = data
		if err := writeStaged(staging, e.OutPath, data); err != nil {
			return err
		}
	}

	if err := o.writeAuxiliary(staging, profile, brd, pinout); err != nil {
		return err
	}

	// Stage 8: cross-check anchor constants in the rendered outputs.
	if err := o.crossCheckOutputs(profile, brd, rendered); err != nil {
		return err
	}

	// Stage 9: commit.
	if err := os.RemoveAll(req.OutputDir); err != nil {
		return fwerr.Wrap(fwerr.IoError, err, "clear output dir %s", req.OutputDir)
	}
	if err := os.Rename(staging, req.OutputDir); err != nil {
		return fwerr.Wrap(fwerr.IoError, err, "commit output dir %s", req.OutputDir)
	}

	o.logf("[build] output committed to %s (%d files)", req.OutputDir, len(entries))
	return nil
}

// resolveProfile produces the immutable donor profile from either a stored
// file or live extraction, applies the optional template overlay, and runs
// the behavior profiler when requested.
func (o *Orchestrator) resolveProfile(ctx context.Context, req Request) (*donor.Profile, error) {
	if req.BDF != "" && req.DonorProfilePath != "" {
		return nil, fwerr.New(fwerr.InputError, "--bdf and a donor profile path are mutually exclusive")
	}

	var profile *donor.Profile

	switch {
	case req.DonorProfilePath != "":
		o.logf("[build] loading donor profile from %s", req.DonorProfilePath)
		p, err := donor.LoadProfile(req.DonorProfilePath)
		if err != nil {
			return nil, err
		}
		profile = p

	case req.BDF != "":
		bdf, err := pci.ParseBDF(req.BDF)
		if err != nil {
			return nil, fwerr.Wrap(fwerr.InputError, err, "bad --bdf")
		}
		o.logf("[build] extracting donor profile from %s", bdf)
		collector := o.Collector
		if collector == nil {
			collector = donor.NewCollector()
		}
		p, err := collector.Collect(bdf)
		if err != nil {
			return nil, err
		}
		profile = p

		if req.Options.ProfileDuration > 0 {
			duration := time.Duration(req.Options.ProfileDuration * float64(time.Second))
			o.logf("[build] profiling register timing for %.1fs", req.Options.ProfileDuration)
			profiler := donor.NewProfiler(collector.Reader(), bdf)
			profiler.Progress = !o.Quiet
			behavior, err := profiler.Run(ctx, duration)
			if err != nil {
				o.warnf("behavior profiling failed: %v", err)
			} else {
				profile.Behavior = behavior
				profile.Provenance.DurationSeconds = req.Options.ProfileDuration
			}
		}

	default:
		return nil, fwerr.New(fwerr.InputError, "either --bdf or a donor profile path is required")
	}

	if req.Options.DonorTemplate != "" {
		o.logf("[build] applying donor template %s", req.Options.DonorTemplate)
		merged, err := donor.ApplyTemplate(profile, req.Options.DonorTemplate)
		if err != nil {
			return nil, err
		}
		profile = merged
	}

	return profile, nil
}

// resolveBoard loads the optional catalog config and looks up the board.
func (o *Orchestrator) resolveBoard(req Request) (*board.Config, *board.Board, error) {
	cfg := board.DefaultConfig()
	if req.Options.ConfigPath != "" {
		loaded, err := board.LoadConfig(req.Options.ConfigPath)
		if err != nil {
			return nil, nil, fwerr.Wrap(fwerr.InputError, err, "board catalog config")
		}
		cfg = loaded
	}

	brd, err := cfg.FindWith(req.Board)
	if err != nil {
		return nil, nil, fwerr.Wrap(fwerr.InputError, err, "resolve board")
	}
	return cfg, brd, nil
}

// resolvePinout fetches the upstream pinout constraints at most once per
// build. A cache miss is not fatal: the renderer falls back to the
// built-in template and the warning lands in build_warnings.txt.
func (o *Orchestrator) resolvePinout(brd *board.Board, commit string, cfg *board.Config) []byte {
	if commit == "" {
		return nil
	}

	cache := o.Cache
	if cache == nil {
		dir := cfg.RepoCacheDir
		if dir == "" {
			home, _ := os.UserCacheDir()
			dir = filepath.Join(home, "pcileechfwgen", "boards")
		}
		cache = repocache.New(dir)
		if cfg.UpstreamURL != "" {
			cache.BaseURL = cfg.UpstreamURL
		}
	}

	entry, data, err := cache.Fetch(brd.Name, commit)
	if err != nil {
		o.warnf("constraint fetch for %s@%s failed, using built-in pinout: %v", brd.Name, commit, err)
		return nil
	}
	o.logf("[build] using cached constraints %s (sha256 %.12s)", entry.Path, entry.Checksum)
	return data
}

// writeAuxiliary emits the non-templated outputs: COE data files, the
// pinout constraints, the donor profile snapshot, and accumulated warnings.
func (o *Orchestrator) writeAuxiliary(staging string, p *donor.Profile, brd *board.Board, pinout []byte) error {
	banner := fmt.Sprintf("; generator: %s  donor: %s  board: %s\n",
		p.Provenance.GeneratorVersion, p.IdentityHash(), brd.Name)

	scrubbed := firmware.ScrubConfigSpace(p.ConfigSpace, brd.DefaultBar0KB*1024)
	if err := writeStaged(staging, "generated/pcileech_cfgspace.coe",
		[]byte(firmware.GenerateConfigSpaceCOE(scrubbed, banner))); err != nil {
		return err
	}
	if err := writeStaged(staging, "generated/pcileech_cfgspace_writemask.coe",
		[]byte(firmware.GenerateWritemaskCOE(p, scrubbed, banner))); err != nil {
		return err
	}

	if pinout != nil {
		header := fmt.Sprintf("# upstream constraints for %s\n# donor: %s\n", brd.Name, p.IdentityHash())
		rel := path.Join("constraints", brd.Name+"_pinout.xdc")
		if err := writeStaged(staging, rel, append([]byte(header), pinout...)); err != nil {
			return err
		}
	}

	snapshot, err := p.ToJSON()
	if err != nil {
		return fwerr.Wrap(fwerr.IoError, err, "marshal donor_info.json")
	}
	if err := writeStaged(staging, "donor_info.json", append(snapshot, '\n')); err != nil {
		return err
	}

	if len(o.warnings) > 0 {
		text := strings.Join(o.warnings, "\n") + "\n"
		if err := writeStaged(staging, "generated/build_warnings.txt", []byte(text)); err != nil {
			return err
		}
	}

	return nil
}

// crossCheckOutputs re-parses the anchor constants from the rendered tree.
func (o *Orchestrator) crossCheckOutputs(p *donor.Profile, brd *board.Board, rendered map[string][]byte) error {
	deviceConfig := rendered["generated/pcileech_device_config.sv"]
	topWrapper := rendered["generated/pcileech_top_wrapper.sv"]

	ipPath := "tcl/02_ip_config_pcie7x.tcl"
	if brd.IPFamily == board.UltraScale {
		ipPath = "tcl/02_ip_config_ultrascale.tcl"
	}
	ipConfig := rendered[ipPath]

	return CrossCheck(p, deviceConfig, ipConfig, topWrapper)
}

// writeStaged writes one file below the staging root.
func writeStaged(staging, rel string, data []byte) error {
	full := filepath.Join(staging, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fwerr.Wrap(fwerr.IoError, err, "create %s", filepath.Dir(full))
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return fwerr.Wrap(fwerr.IoError, err, "write %s", rel)
	}
	return nil
}
