package pci

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// IDDatabase maps vendor and vendor:device IDs to names from pci.ids.
type IDDatabase struct {
	vendors map[uint16]string
	devices map[uint32]string
}

// pci.ids search paths (same as lspci)
var pciIDPaths = []string{
	"/usr/share/hwdata/pci.ids",
	"/usr/share/misc/pci.ids",
	"/usr/share/pci.ids",
}

// LoadIDDatabase loads the PCI ID database from the system. A missing
// database yields an empty lookup, not an error.
func LoadIDDatabase() *IDDatabase {
	for _, path := range pciIDPaths {
		if db, err := parseIDFile(path); err == nil {
			return db
		}
	}
	return &IDDatabase{vendors: map[uint16]string{}, devices: map[uint32]string{}}
}

// VendorName returns the vendor name, or "" when unknown.
func (db *IDDatabase) VendorName(vendor uint16) string {
	return db.vendors[vendor]
}

// DeviceName returns the device name, or "" when unknown.
func (db *IDDatabase) DeviceName(vendor, device uint16) string {
	return db.devices[uint32(vendor)<<16|uint32(device)]
}

// Describe returns "Vendor Device" when both are known, falling back to the
// class description.
func (db *IDDatabase) Describe(id Identity) string {
	v := db.VendorName(id.VendorID)
	d := db.DeviceName(id.VendorID, id.DeviceID)
	switch {
	case v != "" && d != "":
		return v + " " + d
	case v != "":
		return v + " " + id.ClassDescription()
	default:
		return id.ClassDescription()
	}
}

// parseIDFile parses a pci.ids file. Vendor lines are "VVVV  Name"; device
// lines are tab-indented "DDDD  Name". Subsystem lines (two tabs) and the
// trailing class section are skipped.
func parseIDFile(path string) (*IDDatabase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	db := &IDDatabase{vendors: map[uint16]string{}, devices: map[uint32]string{}}
	var vendor uint16
	haveVendor := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		if strings.HasPrefix(line, "C ") {
			break
		}
		if strings.HasPrefix(line, "\t\t") {
			continue
		}
		if strings.HasPrefix(line, "\t") {
			if !haveVendor {
				continue
			}
			fields := strings.SplitN(strings.TrimPrefix(line, "\t"), "  ", 2)
			if len(fields) != 2 {
				continue
			}
			dev, err := strconv.ParseUint(fields[0], 16, 16)
			if err != nil {
				continue
			}
			db.devices[uint32(vendor)<<16|uint32(dev)] = strings.TrimSpace(fields[1])
			continue
		}
		fields := strings.SplitN(line, "  ", 2)
		if len(fields) != 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[0], 16, 16)
		if err != nil {
			continue
		}
		vendor = uint16(v)
		haveVendor = true
		db.vendors[vendor] = strings.TrimSpace(fields[1])
	}

	return db, scanner.Err()
}
