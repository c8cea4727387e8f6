package deviceinfo

// Flash parts with an identification mode.
func init() {
	const (
		amd   = 0x01
		intel = 0x09
		sst   = 0x3F
	)

	for _, d := range []struct {
		id   uint16
		name string
		size uint32
	}{
		{0xB9, "28F256A", 0x8000},
		{0xB8, "28F512", 0x10000},
		{0xB4, "28F010", 0x20000},
		{0xBD, "28F020", 0x40000},
	} {
		register(key{intel, d.id}, DeviceInfo{Name: d.name, Family: "28f", Size: d.size, Description: "Intel bulk-erase flash"})
	}
	register(key{intel, 0x94}, DeviceInfo{Name: "28F001BX-T", Family: "i28f", Size: 0x20000, Description: "Intel boot block flash, top boot"})
	register(key{intel, 0x95}, DeviceInfo{Name: "28F001BX-B", Family: "i28f", Size: 0x20000, Description: "Intel boot block flash, bottom boot"})
	register(key{intel, 0xA2}, DeviceInfo{Name: "28F008SA", Family: "i28f", Size: 0x100000, Description: "Intel FlashFile memory"})

	for _, d := range []struct {
		id   uint16
		name string
		size uint32
	}{
		{0xA1, "Am28F256", 0x8000},
		{0x25, "Am28F512", 0x10000},
		{0xA7, "Am28F010", 0x20000},
		{0x2A, "Am28F020", 0x40000},
	} {
		register(key{amd, d.id}, DeviceInfo{Name: d.name, Family: "am28f", Size: d.size, Description: "AMD bulk-erase flash"})
	}

	register(key{sst, 0x04}, DeviceInfo{Name: "SST28SF040", Family: "sst28sf", Size: 0x80000, Description: "SST SuperFlash with software data protection"})
}

// EPROM parts with an electronic signature.
func init() {
	const st = 0x20

	register(key{st, 0x8D}, DeviceInfo{Name: "M27C256B", Family: "27c", Size: 0x8000, Description: "ST CMOS EPROM"})
	register(key{st, 0x3D}, DeviceInfo{Name: "M27C512", Family: "27c", Size: 0x10000, Description: "ST CMOS EPROM"})
	register(key{st, 0x05}, DeviceInfo{Name: "M27C1001", Family: "27c", Size: 0x20000, Description: "ST CMOS EPROM"})
	register(key{st, 0x42}, DeviceInfo{Name: "M27C801", Family: "27c", Size: 0x100000, Description: "ST CMOS EPROM"})
}
