// Package render builds template contexts and renders the generated
// hardware, script, and constraint files.
package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pcileechlab/pcileechfwgen/internal/board"
	"github.com/pcileechlab/pcileechfwgen/internal/donor"
	"github.com/pcileechlab/pcileechfwgen/internal/fwerr"
	"github.com/pcileechlab/pcileechfwgen/internal/pci"
	"github.com/pcileechlab/pcileechfwgen/internal/util"
)

// Context is the immutable key/value map consumed by template rendering.
// Groups: device, bars, msix, board, pcie, active_device_config, features,
// header, build. Every key a template references must be present before
// rendering begins.
type Context map[string]any

// Options carries the build request knobs that shape the context.
type Options struct {
	EnableVariance bool
	PowerMgmt      bool
	ErrorHandling  bool
	PerfCounters   bool
	ClockCrossing  bool
	TemplateTree   board.TemplateTree
	// FileList is the planned set of generated hardware files, injected
	// before validation so build scripts can enumerate sources.
	FileList []string
	// NumSourcesOverride, when > 0, replaces the class heuristic.
	NumSourcesOverride int
}

// Synthetic MSI-X defaults used when the donor has no MSI-X capability.
const (
	defaultMsixVectors   = 1
	defaultMsixPbaOffset = 2048
)

// BuildContext is a pure function of its inputs. It normalizes identity
// fields to the hex widths the templates expect, fills defaults for absent
// donor features, and re-validates the cross-field invariants.
func BuildContext(p *donor.Profile, b *board.Board, opts Options) (Context, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	ctx := Context{}

	ctx["device"] = map[string]any{
		"vendor_id":        fmt.Sprintf("%04x", p.Identity.VendorID),
		"device_id":        fmt.Sprintf("%04x", p.Identity.DeviceID),
		"subsys_vendor_id": fmt.Sprintf("%04x", p.Identity.SubsysVendorID),
		"subsys_device_id": fmt.Sprintf("%04x", p.Identity.SubsysDeviceID),
		"class_code":       fmt.Sprintf("%06x", p.Identity.ClassCode),
		"revision_id":      fmt.Sprintf("%02x", p.Identity.RevisionID),
		"description":      p.Identity.ClassDescription(),
	}

	bars := make([]map[string]any, 6)
	for i := 0; i < 6; i++ {
		d := p.Bars[i]
		bars[i] = map[string]any{
			"index":           i,
			"present":         d.Present,
			"size":            d.SizeBytes,
			"is_memory":       d.Kind == pci.BarMemory,
			"is_io":           d.Kind == pci.BarIO,
			"is_64bit":        d.Is64Bit,
			"is_prefetchable": d.IsPrefetchable,
		}
	}
	ctx["bars"] = bars

	msix := map[string]any{
		"enabled":      p.Msix != nil,
		"num_vectors":  defaultMsixVectors,
		"table_bar":    0,
		"table_offset": uint32(0),
		"pba_bar":      0,
		"pba_offset":   uint32(defaultMsixPbaOffset),
	}
	if p.Msix != nil {
		msix["num_vectors"] = p.Msix.NumVectors
		msix["table_bar"] = p.Msix.TableBAR
		msix["table_offset"] = p.Msix.TableOffset
		msix["pba_bar"] = p.Msix.PBABAR
		msix["pba_offset"] = p.Msix.PBAOffset
	}
	numVectors := msix["num_vectors"].(int)
	msix["table_size_minus_one"] = numVectors - 1
	msix["addr_width"] = util.Log2Ceil(uint64(numVectors))
	ctx["msix"] = msix

	ctx["board"] = map[string]any{
		"name":            b.Name,
		"fpga_part":       b.FPGAPart,
		"pcie_lanes":      b.PCIeLanes,
		"top_module":      b.TopModule,
		"default_bar0_kb": b.DefaultBar0KB,
	}

	ctx["pcie"] = buildPcieGroup(p, b)
	ctx["active_device_config"] = buildActiveDeviceConfig(p, opts)

	ctx["features"] = map[string]any{
		"variance":       opts.EnableVariance,
		"power_mgmt":     opts.PowerMgmt,
		"error_handling": opts.ErrorHandling,
		"perf_counters":  opts.PerfCounters,
		"clock_crossing": opts.ClockCrossing,
	}

	tree := opts.TemplateTree
	if tree == "" {
		tree = board.TreeTemplates
	}
	ctx["header"] = map[string]any{
		"generator_version": p.Provenance.GeneratorVersion,
		"donor_hash":        p.IdentityHash(),
		"board_name":        b.Name,
		"captured_at":       p.Provenance.CapturedAt.UTC().Format("2006-01-02T15:04:05Z"),
		"template_tree":     string(tree),
	}

	files := make([]string, len(opts.FileList))
	copy(files, opts.FileList)
	ctx["build"] = map[string]any{"file_list": files}

	if err := validateContext(ctx, p); err != nil {
		return nil, err
	}
	return ctx, nil
}

// buildPcieGroup derives link parameters from the donor's PCIe capability,
// clamped to the board's lane count.
func buildPcieGroup(p *donor.Profile, b *board.Board) map[string]any {
	linkSpeed := 1
	linkWidth := b.PCIeLanes
	maxPayload := 256

	if node := pci.FindCapability(p.Capabilities, pci.CapIDPCIExpress); node != nil && node.PCIe != nil {
		if s := int(node.PCIe.LinkSpeed); s >= 1 && s <= 3 {
			linkSpeed = s
		}
		if w := int(node.PCIe.LinkWidth); w >= 1 && w < linkWidth {
			linkWidth = w
		}
		if node.PCIe.MaxPayloadSupported > 0 {
			maxPayload = node.PCIe.MaxPayloadSupported
		}
	}

	return map[string]any{
		"ip_family":   string(b.IPFamily),
		"link_speed":  linkSpeed,
		"link_width":  linkWidth,
		"max_payload": maxPayload,
	}
}

// buildActiveDeviceConfig applies class heuristics and behavior-profile
// refinements. Every field has a default so a no-profile build is fully
// specified.
func buildActiveDeviceConfig(p *donor.Profile, opts Options) map[string]any {
	numSources := 2
	switch p.Identity.BaseClass() {
	case 0x01: // storage
		numSources = 8
	case 0x02: // network
		numSources = 4
	case 0x03: // display
		numSources = 6
	}
	if opts.NumSourcesOverride > 0 {
		numSources = opts.NumSourcesOverride
	}

	counterWidth := 32
	readLatencyNs := uint64(250)
	if p.Behavior != nil && p.Behavior.AvgReadLatencyNs > 0 {
		readLatencyNs = p.Behavior.AvgReadLatencyNs
		counterWidth = util.Log2Ceil(readLatencyNs) + 16
		if counterWidth < 24 {
			counterWidth = 24
		}
		if counterWidth > 48 {
			counterWidth = 48
		}
	}

	// Non-zero LFSR seed for variance mode, folded from the profiled latency.
	seed := uint16(readLatencyNs&0xFFFF) | 1

	return map[string]any{
		"num_sources":     numSources,
		"counter_width":   counterWidth,
		"read_latency_ns": readLatencyNs,
		"variance_seed":   seed,
	}
}

// requiredKeys lists every dotted path any template may reference.
var requiredKeys = []string{
	"device.vendor_id", "device.device_id", "device.subsys_vendor_id",
	"device.subsys_device_id", "device.class_code", "device.revision_id",
	"device.description",
	"msix.enabled", "msix.num_vectors", "msix.table_size_minus_one",
	"msix.table_bar", "msix.table_offset", "msix.pba_bar", "msix.pba_offset",
	"msix.addr_width",
	"board.name", "board.fpga_part", "board.pcie_lanes", "board.top_module",
	"board.default_bar0_kb",
	"pcie.ip_family", "pcie.link_speed", "pcie.link_width", "pcie.max_payload",
	"active_device_config.num_sources", "active_device_config.counter_width",
	"active_device_config.read_latency_ns", "active_device_config.variance_seed",
	"features.variance", "features.power_mgmt", "features.error_handling",
	"features.perf_counters", "features.clock_crossing",
	"header.generator_version", "header.donor_hash", "header.board_name",
	"header.captured_at", "header.template_tree",
	"build.file_list",
}

// validateContext re-checks key presence and the cross-field invariants.
// Missing keys or inconsistent fields are a hard error before rendering.
func validateContext(ctx Context, p *donor.Profile) error {
	var missing []string
	for _, path := range requiredKeys {
		if !hasKey(ctx, path) {
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fwerr.AtKey(fwerr.ContextInvalid, missing[0],
			"missing context keys: %s", strings.Join(missing, ", "))
	}

	bars, ok := ctx["bars"].([]map[string]any)
	if !ok || len(bars) != 6 {
		return fwerr.AtKey(fwerr.ContextInvalid, "bars", "expected six BAR entries")
	}
	for i := 0; i < 5; i++ {
		if bars[i]["is_64bit"] == true && bars[i+1]["present"] == true {
			return fwerr.AtKey(fwerr.ContextInvalid, fmt.Sprintf("bars[%d]", i+1),
				"64-bit BAR%d must absorb index %d", i, i+1)
		}
	}

	// MSI-X windows were validated against the profile; re-check here so a
	// hand-edited context cannot slip through.
	msix := ctx["msix"].(map[string]any)
	if msix["enabled"] == true && p.Msix != nil {
		tblBar := p.Bars[p.Msix.TableBAR]
		if uint64(p.Msix.TableOffset)+uint64(p.Msix.TableBytes()) > tblBar.SizeBytes {
			return fwerr.AtKey(fwerr.ContextInvalid, "msix.table_offset",
				"table exceeds BAR%d window", p.Msix.TableBAR)
		}
	}

	return nil
}

// hasKey resolves a dotted path against the nested context maps.
func hasKey(ctx Context, path string) bool {
	parts := strings.Split(path, ".")
	var cur any = map[string]any(ctx)
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		cur, ok = m[part]
		if !ok {
			return false
		}
	}
	return true
}
