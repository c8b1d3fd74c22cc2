// Package sysfs reads donor PCI device state from a sysfs-style tree of
// regular files. The tree root is injectable so tests can substitute a
// directory of plain files for the live /sys hierarchy.
package sysfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pcileechlab/pcileechfwgen/internal/fwerr"
	"github.com/pcileechlab/pcileechfwgen/internal/pci"
)

// DefaultRoot is the canonical Linux PCI device directory.
const DefaultRoot = "/sys/bus/pci/devices"

// RootEnvVar overrides the sysfs root for all readers created by NewReader.
const RootEnvVar = "PCILEECH_SYSFS_ROOT"

// Reader reads PCI device attributes below a fixed root directory.
type Reader struct {
	root string
}

// NewReader creates a Reader rooted at $PCILEECH_SYSFS_ROOT, falling back
// to the host's canonical PCI sysfs root.
func NewReader() *Reader {
	if root := os.Getenv(RootEnvVar); root != "" {
		return &Reader{root: root}
	}
	return &Reader{root: DefaultRoot}
}

// NewReaderWithRoot creates a Reader with an explicit root (for testing).
func NewReaderWithRoot(root string) *Reader {
	return &Reader{root: root}
}

// Root returns the active root directory.
func (r *Reader) Root() string { return r.root }

// devicePath returns the directory for a device.
func (r *Reader) devicePath(bdf pci.BDF) string {
	return filepath.Join(r.root, bdf.String())
}

// classify maps filesystem errors onto the structured extraction kinds.
func classify(err error, what string, bdf pci.BDF) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fwerr.Wrap(fwerr.DeviceNotFound, err, "%s: no device at %s", what, bdf)
	case errors.Is(err, fs.ErrPermission):
		return fwerr.Wrap(fwerr.PermissionDenied, err, "%s: %s", what, bdf)
	default:
		return fwerr.Wrap(fwerr.IoError, err, "%s: %s", what, bdf)
	}
}

// ReadConfig reads the device's configuration space image. Reads are
// whole-file; the length is not checked here (pci.FromBytes rejects images
// shorter than 256 bytes).
func (r *Reader) ReadConfig(bdf pci.BDF) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(r.devicePath(bdf), "config"))
	if err != nil {
		return nil, classify(err, "read config space", bdf)
	}
	return data, nil
}

// ReadResourceTable reads the resource file: one "start end flags" line per
// BAR window (six BARs, then the expansion ROM).
func (r *Reader) ReadResourceTable(bdf pci.BDF) ([]pci.Resource, error) {
	data, err := os.ReadFile(filepath.Join(r.devicePath(bdf), "resource"))
	if err != nil {
		return nil, classify(err, "read resource table", bdf)
	}

	var resources []pci.Resource
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		start, err1 := parseHexField(fields[0])
		end, err2 := parseHexField(fields[1])
		flags, err3 := parseHexField(fields[2])
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fwerr.New(fwerr.IoError, "malformed resource line %q for %s", line, bdf)
		}
		resources = append(resources, pci.Resource{Start: start, End: end, Flags: flags})
	}
	return resources, nil
}

// ReadVendorDevice reads the vendor and device ID attributes.
func (r *Reader) ReadVendorDevice(bdf pci.BDF) (uint16, uint16, error) {
	vendor, err := r.readHexAttr(bdf, "vendor")
	if err != nil {
		return 0, 0, err
	}
	device, err := r.readHexAttr(bdf, "device")
	if err != nil {
		return 0, 0, err
	}
	return uint16(vendor), uint16(device), nil
}

// ListDevices enumerates BDF-named entries under the root, sorted.
func (r *Reader) ListDevices() ([]pci.BDF, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fwerr.Wrap(fwerr.DeviceNotFound, err, "sysfs root %s", r.root)
		}
		return nil, fwerr.Wrap(fwerr.IoError, err, "list sysfs root %s", r.root)
	}

	var bdfs []pci.BDF
	for _, entry := range entries {
		bdf, err := pci.ParseBDF(entry.Name())
		if err != nil {
			continue
		}
		bdfs = append(bdfs, bdf)
	}
	sort.Slice(bdfs, func(i, j int) bool {
		return bdfs[i].String() < bdfs[j].String()
	})
	return bdfs, nil
}

// readHexAttr reads a single hex attribute file like "vendor" or "class".
func (r *Reader) readHexAttr(bdf pci.BDF, name string) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(r.devicePath(bdf), name))
	if err != nil {
		return 0, classify(err, fmt.Sprintf("read %s", name), bdf)
	}
	val, err := strconv.ParseUint(strings.TrimSpace(string(data)), 0, 64)
	if err != nil {
		return 0, fwerr.Wrap(fwerr.IoError, err, "parse %s attribute for %s", name, bdf)
	}
	return val, nil
}

func parseHexField(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}
