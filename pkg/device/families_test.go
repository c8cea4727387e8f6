package device

import (
	"testing"
	"time"
)

func TestFlagsEncode(t *testing.T) {
	tests := []struct {
		flags Flags
		alg   Algorithm
		want  uint16
	}{
		{Flags{}, AlgorithmSRAM, 0x0400},
		{Flags{SkipFF: true, ProgWithVpp: true}, AlgorithmEPROM, 0x0803},
		{Flags{SkipFF: true, ProgWithVpp: true, VppOePin: true, PgmCePin: true}, AlgorithmEPROM, 0x080F},
		{Flags{PgmPositive: true}, AlgorithmEEPROM28C256, 0x0D10},
		{Flags{ProgWithVpp: true, Is16Bit: true}, AlgorithmFlashI28F, 0x1322},
	}
	for _, tt := range tests {
		t.Run(tt.flags.String(), func(t *testing.T) {
			got := tt.flags.Encode(tt.alg)
			if got != tt.want {
				t.Fatalf("Encode(%v) = 0x%04X, want 0x%04X", tt.alg, got, tt.want)
			}
			flags, alg := DecodeFlags(got)
			if flags != tt.flags || alg != tt.alg {
				t.Errorf("DecodeFlags(0x%04X) = %v %v", got, flags, alg)
			}
		})
	}
}

func TestAlgorithmString(t *testing.T) {
	if AlgorithmFlashSST28SF.String() != "FlashSST28SF" {
		t.Errorf("String() = %q", AlgorithmFlashSST28SF.String())
	}
	if Algorithm(0x7F).String() != "Algorithm(0x7F)" {
		t.Errorf("unknown String() = %q", Algorithm(0x7F).String())
	}
}

func TestEPROMPinTable(t *testing.T) {
	tests := []struct {
		size                          uint32
		vppOe, pgmPositive, pgmCePin bool
	}{
		{0x800, false, true, true},
		{0x1000, true, false, true},
		{0x2000, false, false, false},
		{0x4000, false, false, false},
		{0x8000, false, false, true},
		{0x10000, true, false, true},
		{0x20000, false, false, false},
		{0x40000, false, false, false},
		{0x80000, false, false, true},
		{0x100000, true, false, true},
		{0x400000, true, false, true},
	}
	for _, tt := range tests {
		s, _ := EPROM27C.Resize(EPROM27C.Defaults(), tt.size)
		f := s.Flags
		if f.VppOePin != tt.vppOe || f.PgmPositive != tt.pgmPositive || f.PgmCePin != tt.pgmCePin {
			t.Errorf("size 0x%X flags = %v, want vppOe=%v pgmPositive=%v pgmCe=%v",
				tt.size, f, tt.vppOe, tt.pgmPositive, tt.pgmCePin)
		}
		if !f.SkipFF || !f.ProgWithVpp {
			t.Errorf("size 0x%X lost common flags: %v", tt.size, f)
		}
	}
}

func TestEEPROMSizing(t *testing.T) {
	tests := []struct {
		fam     *Family
		size    uint32
		alg     Algorithm
		protect bool
		sector  int
	}{
		{EEPROM28C, 0x800, AlgorithmEEPROM28C64, false, 0},
		{EEPROM28C, 0x2000, AlgorithmEEPROM28C64, true, 0},
		{EEPROM28C, 0x8000, AlgorithmEEPROM28C256, true, 0},
		{EEPROMAT28C, 0x800, AlgorithmEEPROM28C64, false, 0},
		{EEPROMAT28C, 0x2000, AlgorithmEEPROM28C64, true, 64},
		{EEPROMAT28C, 0x8000, AlgorithmEEPROM28C256, true, 64},
		{EEPROMAT28C, 0x10000, AlgorithmEEPROM28C256, true, 128},
		{EEPROMAT28C, 0x20000, AlgorithmEEPROM28C256, true, 128},
		{EEPROMAT28C, 0x40000, AlgorithmEEPROM28C256, true, 256},
		{EEPROMAT28C, 0x80000, AlgorithmEEPROM28C256, true, 256},
	}
	for _, tt := range tests {
		s, c := tt.fam.Resize(tt.fam.Defaults(), tt.size)
		if s.Algorithm != tt.alg || c.Protect != tt.protect || c.Unprotect != tt.protect || s.SectorSize != tt.sector {
			t.Errorf("%s 0x%X = %v protect %v sector %d, want %v %v %d",
				tt.fam.Key, tt.size, s.Algorithm, c.Protect, s.SectorSize, tt.alg, tt.protect, tt.sector)
		}
		if c.SectorSize != (tt.sector > 0) {
			t.Errorf("%s 0x%X SectorSize capability = %v", tt.fam.Key, tt.size, c.SectorSize)
		}
	}
}

func TestChipName(t *testing.T) {
	tests := []struct {
		fam  *Family
		size uint32
		want string
	}{
		{EPROM27C, 0x8000, "27C256"},
		{EPROM27, 0x800, "2716"},
		{EEPROM28C, 0x2000, "28C64"},
		{Flash28F, 0x8000, "28F256"},
		{Flash28F, 0x20000, "28F010"},
		{FlashI28F, 0x80000, "i28F040"},
		{SRAM, 0x2000, "SRAM 8K"},
	}
	for _, tt := range tests {
		if got := tt.fam.ChipName(tt.size); got != tt.want {
			t.Errorf("%s.ChipName(0x%X) = %q, want %q", tt.fam.Key, tt.size, got, tt.want)
		}
	}
}

func TestFamilyDefaults(t *testing.T) {
	s := SRAM.Defaults()
	if s.Size != 2048 || s.Twp != 3*time.Microsecond || s.Twc != 5*time.Microsecond || s.VddRead != 5*volt {
		t.Errorf("SRAM defaults = %+v", s)
	}
	s = EPROM27.Defaults()
	if s.Twp != 50*time.Millisecond || s.Vpp != 25*volt || s.MaxAttempts != 25 {
		t.Errorf("EPROM27 defaults = %+v", s)
	}
	s = EPROM27E.Defaults()
	if s.Vee != 14*volt || s.ErasePulse != 100*time.Millisecond {
		t.Errorf("EPROM27E defaults = %+v", s)
	}
	if c := FlashSST28SF.caps; c.VPP || !c.Erase {
		t.Errorf("SST28SF capabilities = %+v", c)
	}
	if FlashSharpI28F.defaults.Flags.ProgWithVpp {
		t.Error("Sharp 28F programs with VPP")
	}
}

func TestLookupFamily(t *testing.T) {
	for _, f := range Families() {
		got, ok := LookupFamily(f.Key)
		if !ok || got != f {
			t.Errorf("LookupFamily(%q) = %v, %v", f.Key, got, ok)
		}
	}
	if f, ok := LookupFamily("AT28C"); !ok || f != EEPROMAT28C {
		t.Errorf("LookupFamily is case sensitive")
	}
	if _, ok := LookupFamily("z80"); ok {
		t.Error("LookupFamily(z80) found a family")
	}
}

func TestCommandSpan(t *testing.T) {
	tests := []struct {
		alg  Algorithm
		want uint32
	}{
		{AlgorithmEEPROM28C64, 0x1556},
		{AlgorithmEEPROM28C256, 0x5556},
		{AlgorithmFlashSST28SF, 0x1824},
		{AlgorithmFlash28F, 1},
		{AlgorithmEPROM, 0},
	}
	for _, tt := range tests {
		if got := commandSets[tt.alg].span(); got != tt.want {
			t.Errorf("span(%v) = 0x%X, want 0x%X", tt.alg, got, tt.want)
		}
	}
}

func TestBuffers(t *testing.T) {
	if got := PadBuffer([]byte{1, 2}, 4); string(got) != "\x01\x02\xff\xff" {
		t.Errorf("PadBuffer() = % X", got)
	}
	long := []byte{1, 2, 3}
	if got := PadBuffer(long, 2); len(got) != 3 {
		t.Errorf("PadBuffer() truncated to %d bytes", len(got))
	}
	if got := PatternBuffer(4, 0x55); string(got) != "\x55\xaa\x55\xaa" {
		t.Errorf("PatternBuffer() = % X", got)
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		p    Progress
		want float64
	}{
		{Progress{Current: 0x80, Total: 0x100}, 50},
		{Progress{}, 0},
		{Progress{Done: true, Success: true}, 100},
	}
	for _, tt := range tests {
		if got := tt.p.Percent(); got != tt.want {
			t.Errorf("Percent(%+v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if PhaseBlankCheck.String() != "blank check" || StateFinalizing.String() != "Finalizing" {
		t.Error("String() mismatch")
	}
}
