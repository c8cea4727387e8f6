package deviceinfo

import "github.com/OpenTraceLab/OpenTraceFlash/pkg/idcode"

// DeviceInfo describes an identified chip.
type DeviceInfo struct {
	IDCode       idcode.IDCode
	Manufacturer idcode.Manufacturer

	// Name is the part number, "28F010".
	Name string
	// Family is the device family key the part programs with.
	Family string
	// Size is the capacity in bytes.
	Size        uint32
	Description string
}

// Known reports whether the part was found in the database.
func (d DeviceInfo) Known() bool {
	return d.Family != ""
}
