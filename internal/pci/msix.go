package pci

import "github.com/pcileechlab/pcileechfwgen/internal/fwerr"

// MaxMsixVectors is the architectural MSI-X table limit.
const MaxMsixVectors = 2048

// msixEntryBytes is the size of one MSI-X table entry.
const msixEntryBytes = 16

// MsixInfo is the validated MSI-X layout used by code generation.
type MsixInfo struct {
	NumVectors  int    `json:"num_vectors"`
	TableBAR    int    `json:"table_bar"`
	TableOffset uint32 `json:"table_offset"`
	PBABAR      int    `json:"pba_bar"`
	PBAOffset   uint32 `json:"pba_offset"`
}

// TableSizeMinusOne returns the encoding of the message-control size field.
func (m *MsixInfo) TableSizeMinusOne() int {
	return m.NumVectors - 1
}

// TableBytes returns the byte length of the vector table.
func (m *MsixInfo) TableBytes() uint32 {
	return uint32(m.NumVectors) * msixEntryBytes
}

// PBABytes returns the byte length of the pending-bit array, rounded up to
// a dword.
func (m *MsixInfo) PBABytes() uint32 {
	bits := (uint32(m.NumVectors) + 7) / 8
	return (bits + 3) &^ uint32(3)
}

// BuildMsixInfo validates an MSI-X capability against the analyzed BARs.
// The table and PBA must fall inside their BAR windows and must not overlap
// when they share a BAR.
func BuildMsixInfo(cap *MSIXCap, bars [6]BarDescriptor) (*MsixInfo, error) {
	if cap == nil {
		return nil, nil
	}

	info := &MsixInfo{
		NumVectors:  cap.TableSize,
		TableBAR:    cap.TableBAR,
		TableOffset: cap.TableOffset,
		PBABAR:      cap.PBABAR,
		PBAOffset:   cap.PBAOffset,
	}

	if info.NumVectors < 1 || info.NumVectors > MaxMsixVectors {
		return nil, fwerr.New(fwerr.MsixTableOutOfBar,
			"MSI-X vector count %d outside [1, %d]", info.NumVectors, MaxMsixVectors)
	}

	tblBar := bars[info.TableBAR]
	tblEnd := uint64(info.TableOffset) + uint64(info.TableBytes())
	if !tblBar.Present || tblEnd > tblBar.SizeBytes {
		return nil, fwerr.New(fwerr.MsixTableOutOfBar,
			"MSI-X table [0x%x, 0x%x) exceeds BAR%d size 0x%x",
			info.TableOffset, tblEnd, info.TableBAR, tblBar.SizeBytes)
	}

	pbaBar := bars[info.PBABAR]
	pbaEnd := uint64(info.PBAOffset) + uint64(info.PBABytes())
	if !pbaBar.Present || pbaEnd > pbaBar.SizeBytes {
		return nil, fwerr.New(fwerr.MsixPbaOutOfBar,
			"MSI-X PBA [0x%x, 0x%x) exceeds BAR%d size 0x%x",
			info.PBAOffset, pbaEnd, info.PBABAR, pbaBar.SizeBytes)
	}

	if info.TableBAR == info.PBABAR {
		tStart, tEnd := uint64(info.TableOffset), tblEnd
		pStart, pEnd := uint64(info.PBAOffset), pbaEnd
		if tStart < pEnd && pStart < tEnd {
			return nil, fwerr.New(fwerr.MsixOverlap,
				"MSI-X table [0x%x, 0x%x) overlaps PBA [0x%x, 0x%x) in BAR%d",
				tStart, tEnd, pStart, pEnd, info.TableBAR)
		}
	}

	return info, nil
}
