package donor

import (
	"os"
	"time"

	"github.com/pcileechlab/pcileechfwgen/internal/pci"
	"github.com/pcileechlab/pcileechfwgen/internal/sysfs"
	"github.com/pcileechlab/pcileechfwgen/internal/version"
)

// Collector extracts a donor profile from a device via sysfs.
type Collector struct {
	reader *sysfs.Reader
}

// NewCollector creates a Collector over the default sysfs root (honoring
// the PCILEECH_SYSFS_ROOT override).
func NewCollector() *Collector {
	return &Collector{reader: sysfs.NewReader()}
}

// NewCollectorWithReader creates a Collector with a custom reader (for
// testing against a fake tree).
func NewCollectorWithReader(r *sysfs.Reader) *Collector {
	return &Collector{reader: r}
}

// Reader exposes the underlying sysfs reader (the profiler shares it).
func (c *Collector) Reader() *sysfs.Reader { return c.reader }

// Collect reads config space and resources for bdf, parses capabilities,
// analyzes BARs and MSI-X, and assembles an immutable Profile.
func (c *Collector) Collect(bdf pci.BDF) (*Profile, error) {
	raw, err := c.reader.ReadConfig(bdf)
	if err != nil {
		return nil, err
	}
	cs, err := pci.FromBytes(raw)
	if err != nil {
		return nil, err
	}

	caps, err := pci.ParseCapabilities(cs)
	if err != nil {
		return nil, err
	}
	extCaps, err := pci.ParseExtCapabilities(cs)
	if err != nil {
		return nil, err
	}

	resources, err := c.reader.ReadResourceTable(bdf)
	if err != nil {
		return nil, err
	}
	bars, err := pci.AnalyzeBARs(resources, cs)
	if err != nil {
		return nil, err
	}

	var msixCap *pci.MSIXCap
	if node := pci.FindCapability(caps, pci.CapIDMSIX); node != nil && node.MSIX != nil {
		msixCap = node.MSIX
	}
	msix, err := pci.BuildMsixInfo(msixCap, bars)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()

	return &Profile{
		Identity:        cs.Identity(),
		ConfigSpace:     cs,
		Capabilities:    caps,
		ExtCapabilities: extCaps,
		Bars:            bars,
		ExpansionRom:    pci.AnalyzeExpansionRom(resources),
		Msix:            msix,
		Provenance: Provenance{
			SourceBDF:        bdf.String(),
			CapturedAt:       time.Now().UTC(),
			GeneratorVersion: version.Version,
			Hostname:         hostname,
		},
	}, nil
}
