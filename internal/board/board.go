// Package board provides PCILeech FPGA board definitions and discovery.
package board

import (
	"fmt"
	"strings"
)

// IPFamily selects the PCIe IP core generation flow for a board.
type IPFamily string

const (
	// PCIe7Series targets the Xilinx 7-series AXI PCIe core.
	PCIe7Series IPFamily = "pcie7x"
	// UltraScale targets the UltraScale+ PCIe block.
	UltraScale IPFamily = "ultrascale"
)

// Board describes a supported PCILeech FPGA target.
type Board struct {
	Name             string   `json:"name" yaml:"name"`
	FPGAPart         string   `json:"fpga_part" yaml:"fpga_part"`
	IPFamily         IPFamily `json:"ip_family" yaml:"ip_family"`
	PCIeLanes        int      `json:"pcie_lanes" yaml:"pcie_lanes"`
	TopModule        string   `json:"top_module" yaml:"top_module"`
	DefaultBar0KB    uint32   `json:"default_bar0_size_kb" yaml:"default_bar0_size_kb"`
	ConstraintSource string   `json:"pinout_xdc_source,omitempty" yaml:"pinout_xdc_source,omitempty"`
}

// String returns the board name.
func (b *Board) String() string { return b.Name }

// registry holds all supported boards. Part numbers follow the upstream
// pcileech-fpga project generation scripts.
var registry = []Board{
	{
		Name:          "pcileech_35t325_x1",
		FPGAPart:      "xc7a35tcsg325-2",
		IPFamily:      PCIe7Series,
		PCIeLanes:     1,
		TopModule:     "pcileech_35t325_x1_top",
		DefaultBar0KB: 4,
	},
	{
		Name:          "pcileech_35t325_x4",
		FPGAPart:      "xc7a35tcsg325-2",
		IPFamily:      PCIe7Series,
		PCIeLanes:     4,
		TopModule:     "pcileech_35t325_x4_top",
		DefaultBar0KB: 4,
	},
	{
		Name:          "pcileech_35t484_x1",
		FPGAPart:      "xc7a35tfgg484-2",
		IPFamily:      PCIe7Series,
		PCIeLanes:     1,
		TopModule:     "pcileech_35t484_x1_top",
		DefaultBar0KB: 4,
	},
	{
		Name:          "pcileech_75t484_x1",
		FPGAPart:      "xc7a75tfgg484-2",
		IPFamily:      PCIe7Series,
		PCIeLanes:     1,
		TopModule:     "pcileech_75t484_x1_top",
		DefaultBar0KB: 4,
	},
	{
		Name:          "pcileech_100t484_x1",
		FPGAPart:      "xc7a100tfgg484-2",
		IPFamily:      PCIe7Series,
		PCIeLanes:     1,
		TopModule:     "pcileech_100t484_x1_top",
		DefaultBar0KB: 4,
	},
	{
		Name:          "pcileech_squirrel",
		FPGAPart:      "xc7a35tfgg484-2",
		IPFamily:      PCIe7Series,
		PCIeLanes:     1,
		TopModule:     "pcileech_squirrel_top",
		DefaultBar0KB: 4,
	},
	{
		Name:          "pcileech_screamer_m2",
		FPGAPart:      "xc7a35tcsg325-2",
		IPFamily:      PCIe7Series,
		PCIeLanes:     1,
		TopModule:     "pcileech_screamer_m2_top",
		DefaultBar0KB: 4,
	},
	{
		Name:          "pcileech_enigma_x1",
		FPGAPart:      "xc7a75tfgg484-2",
		IPFamily:      PCIe7Series,
		PCIeLanes:     1,
		TopModule:     "pcileech_enigma_x1_top",
		DefaultBar0KB: 4,
	},
	{
		Name:          "pcileech_ultrascale_ku035",
		FPGAPart:      "xcku035-ffva1156-2-e",
		IPFamily:      UltraScale,
		PCIeLanes:     4,
		TopModule:     "pcileech_ku035_top",
		DefaultBar0KB: 16,
	},
	{
		Name:          "pcileech_ultrascale_au50",
		FPGAPart:      "xcu50-fsvh2104-2-e",
		IPFamily:      UltraScale,
		PCIeLanes:     8,
		TopModule:     "pcileech_au50_top",
		DefaultBar0KB: 16,
	},
}

// Find looks up a board by name (case-insensitive).
func Find(name string) (*Board, error) {
	lower := strings.ToLower(name)
	for i := range registry {
		if strings.ToLower(registry[i].Name) == lower {
			b := registry[i]
			return &b, nil
		}
	}
	return nil, fmt.Errorf("unknown board %q, available boards:\n%s", name, formatBoardList())
}

// formatBoardList returns a formatted list of available boards for error messages.
func formatBoardList() string {
	var sb strings.Builder
	for _, b := range registry {
		sb.WriteString(fmt.Sprintf("  %-26s %s (%s, x%d)\n", b.Name, b.FPGAPart, b.IPFamily, b.PCIeLanes))
	}
	return sb.String()
}

// ListNames returns all available board names.
func ListNames() []string {
	names := make([]string, len(registry))
	for i, b := range registry {
		names[i] = b.Name
	}
	return names
}

// All returns all registered boards.
func All() []Board {
	result := make([]Board, len(registry))
	copy(result, registry)
	return result
}
