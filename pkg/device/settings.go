package device

import (
	"fmt"
	"strings"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Algorithm selects the programmer-side command set. The values match the
// high byte of the firmware configuration word.
type Algorithm uint8

const (
	AlgorithmUnknown      Algorithm = 0x00
	AlgorithmSRAM         Algorithm = 0x04
	AlgorithmEPROM        Algorithm = 0x08
	AlgorithmEEPROM28C64  Algorithm = 0x0C
	AlgorithmEEPROM28C256 Algorithm = 0x0D
	AlgorithmFlash28F     Algorithm = 0x10
	AlgorithmFlashSST28SF Algorithm = 0x11
	AlgorithmFlashAm28F   Algorithm = 0x12
	AlgorithmFlashI28F    Algorithm = 0x13
)

var algorithmNames = map[Algorithm]string{
	AlgorithmUnknown:      "Unknown",
	AlgorithmSRAM:         "SRAM",
	AlgorithmEPROM:        "EPROM",
	AlgorithmEEPROM28C64:  "EEPROM28C64",
	AlgorithmEEPROM28C256: "EEPROM28C256",
	AlgorithmFlash28F:     "Flash28F",
	AlgorithmFlashSST28SF: "FlashSST28SF",
	AlgorithmFlashAm28F:   "FlashAm28F",
	AlgorithmFlashI28F:    "FlashI28F",
}

func (a Algorithm) String() string {
	if name, ok := algorithmNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Algorithm(0x%02X)", uint8(a))
}

// Flags adjust pin usage and programming behaviour per chip.
type Flags struct {
	// SkipFF leaves blank units unwritten.
	SkipFF bool
	// ProgWithVpp raises the programming rail around every write pulse.
	ProgWithVpp bool
	// VppOePin means VPP shares the OE pin.
	VppOePin bool
	// PgmCePin means PGM shares the CE pin; WE is held high while reading.
	PgmCePin bool
	// PgmPositive inverts the program pulse: WE idles high and pulses low.
	PgmPositive bool
	// Is16Bit selects 16-bit data units, stored MSB first in buffers.
	Is16Bit bool
}

// Encode packs the flags and the algorithm into the firmware configuration
// word: flags in the low byte, algorithm in the high byte.
func (f Flags) Encode(alg Algorithm) uint16 {
	var b uint16
	for i, on := range []bool{f.SkipFF, f.ProgWithVpp, f.VppOePin, f.PgmCePin, f.PgmPositive, f.Is16Bit} {
		if on {
			b |= 1 << i
		}
	}
	return uint16(alg)<<8 | b
}

// DecodeFlags reverses Flags.Encode.
func DecodeFlags(word uint16) (Flags, Algorithm) {
	bit := func(i uint) bool { return word&(1<<i) != 0 }
	return Flags{
		SkipFF:      bit(0),
		ProgWithVpp: bit(1),
		VppOePin:    bit(2),
		PgmCePin:    bit(3),
		PgmPositive: bit(4),
		Is16Bit:     bit(5),
	}, Algorithm(word >> 8)
}

func (f Flags) String() string {
	var on []string
	for _, x := range []struct {
		name string
		set  bool
	}{
		{"skipFF", f.SkipFF}, {"progWithVpp", f.ProgWithVpp}, {"vppOePin", f.VppOePin},
		{"pgmCePin", f.PgmCePin}, {"pgmPositive", f.PgmPositive}, {"is16bit", f.Is16Bit},
	} {
		if x.set {
			on = append(on, x.name)
		}
	}
	return "[" + strings.Join(on, " ") + "]"
}

// Settings describe one chip: capacity, timing, voltages and flags.
type Settings struct {
	// Size is the capacity in bytes.
	Size uint32

	Twp time.Duration
	Twc time.Duration

	VddRead  physic.ElectricPotential
	VddWrite physic.ElectricPotential
	Vpp      physic.ElectricPotential
	Vee      physic.ElectricPotential

	Flags       Flags
	Algorithm   Algorithm
	MaxAttempts int
	// SectorSize in bytes; zero programs unit by unit.
	SectorSize int
	ErasePulse time.Duration
}

// Units is the number of addressable units: bytes, or words in 16-bit mode.
func (s Settings) Units() uint32 {
	if s.Flags.Is16Bit {
		return s.Size / 2
	}
	return s.Size
}

// Blank is the value of an erased unit.
func (s Settings) Blank() uint16 {
	if s.Flags.Is16Bit {
		return 0xFFFF
	}
	return 0xFF
}

// Capabilities list what a chip supports at its configured size.
type Capabilities struct {
	Read       bool
	Program    bool
	Verify     bool
	Erase      bool
	BlankCheck bool
	GetID      bool
	Unprotect  bool
	Protect    bool
	SectorSize bool
	VDD        bool
	VPP        bool
}

// Bus is the kind of interface a chip has.
type Bus uint8

const (
	BusParallel Bus = iota
	BusSerial
)

func (b Bus) String() string {
	if b == BusSerial {
		return "serial"
	}
	return "parallel"
}

// Info is the descriptive view of a device.
type Info struct {
	Name         string
	Bus          Bus
	Capabilities Capabilities
}

// ID is the manufacturer and device code pair read in identification mode.
type ID struct {
	Manufacturer uint16
	Device       uint16
}

func (id ID) String() string {
	return fmt.Sprintf("%02X:%02X", id.Manufacturer, id.Device)
}
