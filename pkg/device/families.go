package device

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"periph.io/x/conn/v3/physic"
)

type programKind uint8

const (
	programUnits programKind = iota
	programSelfTest
)

type eraseKind uint8

const (
	eraseNone eraseKind = iota
	// eraseFill programs every unit blank.
	eraseFill
	// eraseCommand zeroes the chip, then sends the erase command until it
	// blank-checks.
	eraseCommand
	// erasePulse pulses the program strobe with the programming rail on A9.
	erasePulse
)

// Family describes one kind of chip: default settings, what it can do at a
// given size and how its algorithms run.
type Family struct {
	// Key is the short identifier used by catalogs and the command line.
	Key string
	// Description is a human readable family name.
	Description string

	defaults Settings
	caps     Capabilities
	// sized adjusts settings and capabilities that depend on capacity.
	sized   func(s *Settings, c *Capabilities)
	name    func(size uint32) string
	program programKind
	erase   eraseKind
}

// Defaults returns the family settings at their default size.
func (f *Family) Defaults() Settings {
	s, _ := f.Resize(f.defaults, f.defaults.Size)
	return s
}

// Resize returns s with the capacity set to size and every size-dependent
// field derived again, together with the capabilities at that size.
func (f *Family) Resize(s Settings, size uint32) (Settings, Capabilities) {
	s.Size = size
	c := f.caps
	if f.sized != nil {
		f.sized(&s, &c)
	}
	return s, c
}

// ChipName returns a part number style name for a chip of size bytes.
func (f *Family) ChipName(size uint32) string {
	if f.name == nil {
		return f.Description
	}
	return f.name(size)
}

func (f *Family) String() string { return f.Key }

func kbit(size uint32) uint32 { return size * 8 / 1024 }

func prefixed(prefix string) func(uint32) string {
	return func(size uint32) string { return fmt.Sprintf("%s%d", prefix, kbit(size)) }
}

// flashName follows the 28F convention: 28F256, 28F010 for 1 Mbit, 28F020 ...
func flashName(prefix string) func(uint32) string {
	return func(size uint32) string {
		if k := kbit(size); k < 1024 {
			return fmt.Sprintf("%s%d", prefix, k)
		}
		return fmt.Sprintf("%s%03d", prefix, kbit(size)/1024*10)
	}
}

const (
	us   = time.Microsecond
	ms   = time.Millisecond
	volt = physic.Volt
)

// eprom sets the pin usage that differs between package sizes.
func eprom(s *Settings, _ *Capabilities) {
	switch s.Size {
	case 0x1000, 0x10000, 0x100000, 0x400000:
		s.Flags.VppOePin = true
	default:
		s.Flags.VppOePin = false
	}
	s.Flags.PgmPositive = s.Size <= 0x800
	switch s.Size {
	case 0x2000, 0x4000, 0x20000, 0x40000:
		s.Flags.PgmCePin = false
	default:
		s.Flags.PgmCePin = true
	}
}

func eepromSized(sectors bool) func(*Settings, *Capabilities) {
	return func(s *Settings, c *Capabilities) {
		s.Algorithm = AlgorithmEEPROM28C256
		if s.Size <= 0x2000 {
			s.Algorithm = AlgorithmEEPROM28C64
		}
		large := s.Size >= 0x2000
		c.Protect, c.Unprotect = large, large
		s.SectorSize = 0
		c.SectorSize = false
		if sectors && large {
			s.SectorSize = at28cSector(s.Size)
			c.SectorSize = true
		}
	}
}

// at28cSector is the page size of AT28C parts by capacity.
func at28cSector(size uint32) int {
	switch {
	case size < 0x2000:
		return 0
	case size <= 0x8000:
		return 64
	case size <= 0x20000:
		return 128
	}
	return 256
}

var readable = Capabilities{Read: true, Program: true, Verify: true, VDD: true}

func with(c Capabilities, f func(*Capabilities)) Capabilities {
	f(&c)
	return c
}

var eprom27Caps = with(readable, func(c *Capabilities) {
	c.BlankCheck, c.GetID, c.VPP = true, true, true
})

var flashCaps = with(readable, func(c *Capabilities) {
	c.Erase, c.BlankCheck, c.GetID, c.VPP = true, true, true, true
})

var (
	SRAM = &Family{
		Key:         "sram",
		Description: "SRAM",
		defaults: Settings{
			Size: 2048, Twp: 3 * us, Twc: 5 * us,
			VddRead: 5 * volt, VddWrite: 5 * volt,
			Algorithm: AlgorithmSRAM, MaxAttempts: 1,
		},
		caps:    readable,
		name:    func(size uint32) string { return fmt.Sprintf("SRAM %dK", size/1024) },
		program: programSelfTest,
	}

	EPROM27 = &Family{
		Key:         "27",
		Description: "EPROM NMOS 27xxx",
		defaults: Settings{
			Size: 0x8000, Twp: 50 * ms, Twc: 50 * us,
			VddRead: 5 * volt, VddWrite: 5 * volt, Vpp: 25 * volt, Vee: 12 * volt,
			Flags:     Flags{SkipFF: true, ProgWithVpp: true},
			Algorithm: AlgorithmEPROM, MaxAttempts: 25,
		},
		caps:  eprom27Caps,
		sized: eprom,
		name:  prefixed("27"),
	}

	EPROM27C = &Family{
		Key:         "27c",
		Description: "EPROM CMOS 27Cxxx",
		defaults: Settings{
			Size: 0x8000, Twp: 500 * us, Twc: 8 * us,
			VddRead: 5 * volt, VddWrite: 6 * volt, Vpp: 13 * volt, Vee: 12 * volt,
			Flags:     Flags{SkipFF: true, ProgWithVpp: true},
			Algorithm: AlgorithmEPROM, MaxAttempts: 25,
		},
		caps:  eprom27Caps,
		sized: eprom,
		name:  prefixed("27C"),
	}

	EPROM27C16 = &Family{
		Key:         "27c16",
		Description: "EPROM CMOS 27Cxxx 16-bit",
		defaults: Settings{
			Size: 0x20000, Twp: 500 * us, Twc: 8 * us,
			VddRead: 5 * volt, VddWrite: 6 * volt, Vpp: 13 * volt, Vee: 12 * volt,
			Flags:     Flags{SkipFF: true, ProgWithVpp: true, Is16Bit: true},
			Algorithm: AlgorithmEPROM, MaxAttempts: 25,
		},
		caps:  eprom27Caps,
		sized: eprom,
		name:  prefixed("27C"),
	}

	EPROM27E = &Family{
		Key:         "27e",
		Description: "EPROM electrically erasable W27Exxx",
		defaults: Settings{
			Size: 0x8000, Twp: 100 * us, Twc: 15 * us,
			VddRead: 5 * volt, VddWrite: 5 * volt, Vpp: 12 * volt, Vee: 14 * volt,
			Flags:     Flags{SkipFF: true, ProgWithVpp: true},
			Algorithm: AlgorithmEPROM, MaxAttempts: 25,
			ErasePulse: 100 * ms,
		},
		caps:  with(eprom27Caps, func(c *Capabilities) { c.Erase = true }),
		sized: eprom,
		name:  prefixed("W27E"),
		erase: erasePulse,
	}

	EEPROM28C = &Family{
		Key:         "28c",
		Description: "EEPROM 28C/X28",
		defaults: Settings{
			Size: 0x2000, Twp: 2 * us, Twc: 10 * ms,
			VddRead: 5 * volt, VddWrite: 5 * volt, Vpp: 12 * volt, Vee: 12 * volt,
			Algorithm: AlgorithmEEPROM28C64, MaxAttempts: 3,
		},
		caps:  with(readable, func(c *Capabilities) { c.Erase, c.BlankCheck = true, true }),
		sized: eepromSized(false),
		name:  prefixed("28C"),
		erase: eraseFill,
	}

	EEPROMAT28C = &Family{
		Key:         "at28c",
		Description: "EEPROM AT28C",
		defaults: Settings{
			Size: 0x8000, Twp: 2 * us, Twc: 10 * ms,
			VddRead: 5 * volt, VddWrite: 5 * volt, Vpp: 12 * volt, Vee: 12 * volt,
			Algorithm: AlgorithmEEPROM28C256, MaxAttempts: 3,
		},
		caps:  with(readable, func(c *Capabilities) { c.Erase, c.BlankCheck = true, true }),
		sized: eepromSized(true),
		name:  prefixed("AT28C"),
		erase: eraseFill,
	}

	Flash28F = &Family{
		Key:         "28f",
		Description: "Flash 28F",
		defaults: Settings{
			Size: 0x20000, Twp: 20 * us, Twc: 30 * us,
			VddRead: 5 * volt, VddWrite: 5 * volt, Vpp: 12 * volt, Vee: 12 * volt,
			Flags:     Flags{ProgWithVpp: true},
			Algorithm: AlgorithmFlash28F, MaxAttempts: 3,
		},
		caps:  flashCaps,
		name:  flashName("28F"),
		erase: eraseCommand,
	}

	FlashSST28SF = &Family{
		Key:         "sst28sf",
		Description: "Flash SST28SF",
		defaults: Settings{
			Size: 0x80000, Twp: 7 * us, Twc: 50 * us,
			VddRead: 5 * volt, VddWrite: 5 * volt,
			Algorithm: AlgorithmFlashSST28SF, MaxAttempts: 3,
		},
		caps:  with(flashCaps, func(c *Capabilities) { c.VPP = false }),
		name:  prefixed("SST28SF"),
		erase: eraseCommand,
	}

	FlashAm28F = &Family{
		Key:         "am28f",
		Description: "Flash Am28F",
		defaults: Settings{
			Size: 0x20000, Twp: 20 * us, Twc: 30 * us,
			VddRead: 5 * volt, VddWrite: 5 * volt, Vpp: 12 * volt, Vee: 12 * volt,
			Flags:     Flags{ProgWithVpp: true},
			Algorithm: AlgorithmFlashAm28F, MaxAttempts: 3,
		},
		caps:  flashCaps,
		name:  flashName("Am28F"),
		erase: eraseCommand,
	}

	FlashI28F = &Family{
		Key:         "i28f",
		Description: "Flash Intel 28F",
		defaults: Settings{
			Size: 0x80000, Twp: 3 * us, Twc: 20 * us,
			VddRead: 5 * volt, VddWrite: 5 * volt, Vpp: 12 * volt, Vee: 12 * volt,
			Flags:     Flags{ProgWithVpp: true},
			Algorithm: AlgorithmFlashI28F, MaxAttempts: 3,
		},
		caps:  flashCaps,
		name:  flashName("i28F"),
		erase: eraseCommand,
	}

	FlashSharpI28F = &Family{
		Key:         "lh28f",
		Description: "Flash Sharp 28F",
		defaults: Settings{
			Size: 0x80000, Twp: 3 * us, Twc: 20 * us,
			VddRead: 5 * volt, VddWrite: 5 * volt,
			Algorithm: AlgorithmFlashI28F, MaxAttempts: 3,
		},
		caps:  with(flashCaps, func(c *Capabilities) { c.VPP = false }),
		name:  flashName("LH28F"),
		erase: eraseCommand,
	}

	FlashI28F16 = &Family{
		Key:         "i28f16",
		Description: "Flash Intel 28F 16-bit",
		defaults: Settings{
			Size: 0x100000, Twp: 3 * us, Twc: 20 * us,
			VddRead: 5 * volt, VddWrite: 5 * volt, Vpp: 12 * volt, Vee: 12 * volt,
			Flags:     Flags{ProgWithVpp: true, Is16Bit: true},
			Algorithm: AlgorithmFlashI28F, MaxAttempts: 3,
		},
		caps:  flashCaps,
		name:  flashName("i28F"),
		erase: eraseCommand,
	}
)

var families = []*Family{
	SRAM, EPROM27, EPROM27C, EPROM27C16, EPROM27E, EEPROM28C, EEPROMAT28C,
	Flash28F, FlashSST28SF, FlashAm28F, FlashI28F, FlashSharpI28F, FlashI28F16,
}

// Families returns every known family, ordered by key.
func Families() []*Family {
	out := append([]*Family(nil), families...)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// LookupFamily finds a family by key, ignoring case.
func LookupFamily(key string) (*Family, bool) {
	for _, f := range families {
		if strings.EqualFold(f.Key, key) {
			return f, true
		}
	}
	return nil, false
}
