package idcode

import "fmt"

// IDCode is the pair a parallel memory returns in identification mode.
type IDCode struct {
	RawManufacturer uint16
	Device          uint16
	// ManufacturerCode is the JEP106 code with the parity bit stripped.
	ManufacturerCode uint16
	// ParityOK is false when the manufacturer byte fails the odd parity check
	// every JEP106 code carries in bit 7.
	ParityOK bool
}

func (id IDCode) String() string {
	return fmt.Sprintf("%02X:%02X", id.RawManufacturer, id.Device)
}

// Manufacturer represents a JEP106 manufacturer entry
type Manufacturer struct {
	Code         uint16 // JEP106 code, bank 1
	Name         string // "Intel"
	Abbreviation string // "Intel"
}
