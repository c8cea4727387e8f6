package idcode

import (
	"fmt"
	"math/bits"
)

// manufacturers holds JEP106 bank 1 entries for vendors of parallel memories.
var manufacturers = map[uint16]Manufacturer{
	0x01: {Code: 0x01, Name: "AMD", Abbreviation: "AMD"},
	0x04: {Code: 0x04, Name: "Fujitsu", Abbreviation: "Fujitsu"},
	0x07: {Code: 0x07, Name: "Hitachi", Abbreviation: "Hitachi"},
	0x09: {Code: 0x09, Name: "Intel", Abbreviation: "Intel"},
	0x0F: {Code: 0x0F, Name: "National", Abbreviation: "National"},
	0x10: {Code: 0x10, Name: "NEC", Abbreviation: "NEC"},
	0x17: {Code: 0x17, Name: "Texas Instruments", Abbreviation: "TI"},
	0x18: {Code: 0x18, Name: "Toshiba", Abbreviation: "Toshiba"},
	0x19: {Code: 0x19, Name: "Xicor", Abbreviation: "Xicor"},
	0x1C: {Code: 0x1C, Name: "Mitsubishi", Abbreviation: "Mitsubishi"},
	0x1F: {Code: 0x1F, Name: "Atmel", Abbreviation: "Atmel"},
	0x20: {Code: 0x20, Name: "STMicroelectronics", Abbreviation: "ST"},
	0x29: {Code: 0x29, Name: "Microchip", Abbreviation: "Microchip"},
	0x2C: {Code: 0x2C, Name: "Micron", Abbreviation: "Micron"},
	0x2D: {Code: 0x2D, Name: "SK hynix (Hyundai)", Abbreviation: "Hynix"},
	0x30: {Code: 0x30, Name: "Sharp", Abbreviation: "Sharp"},
	0x31: {Code: 0x31, Name: "Catalyst", Abbreviation: "Catalyst"},
	0x3F: {Code: 0x3F, Name: "SST", Abbreviation: "SST"},
	0x42: {Code: 0x42, Name: "Macronix", Abbreviation: "MXIC"},
	0x4E: {Code: 0x4E, Name: "Samsung", Abbreviation: "Samsung"},
	0x5A: {Code: 0x5A, Name: "Winbond", Abbreviation: "Winbond"},
}

// LookupManufacturer returns manufacturer info for a JEP106 code
func LookupManufacturer(code uint16) (Manufacturer, bool) {
	m, ok := manufacturers[code]
	if !ok {
		return Manufacturer{
			Code:         code,
			Name:         fmt.Sprintf("Unknown (0x%02X)", code),
			Abbreviation: "Unknown",
		}, false
	}
	return m, true
}

// Parse splits the identification pair. 16-bit chips repeat the
// manufacturer in the low byte of the word.
func Parse(manufacturer, device uint16) IDCode {
	b := uint8(manufacturer)
	return IDCode{
		RawManufacturer:  manufacturer,
		Device:           device,
		ManufacturerCode: uint16(b & 0x7F),
		ParityOK:         bits.OnesCount8(b)%2 == 1,
	}
}
