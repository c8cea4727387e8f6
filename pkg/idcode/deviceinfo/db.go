package deviceinfo

import "github.com/OpenTraceLab/OpenTraceFlash/pkg/idcode"

// key is used for device database lookups
type key struct {
	ManufacturerCode uint16
	Device           uint16
}

// db is the in-memory device database
var db = make(map[key]DeviceInfo)

// register adds a device entry to the database
func register(k key, info DeviceInfo) {
	db[k] = info
}

// Lookup returns device information for an identification pair.
// Falls back to generic info if the part is not in the database.
func Lookup(manufacturer, device uint16) DeviceInfo {
	id := idcode.Parse(manufacturer, device)
	m, _ := idcode.LookupManufacturer(id.ManufacturerCode)

	k := key{ManufacturerCode: id.ManufacturerCode, Device: device & 0xFF}
	if info, ok := db[k]; ok && id.ParityOK {
		info.IDCode = id
		info.Manufacturer = m
		return info
	}

	return DeviceInfo{
		IDCode:       id,
		Manufacturer: m,
		Name:         "Unknown device",
		Description:  "No entry in device database",
	}
}
