package device

import "github.com/OpenTraceLab/OpenTraceFlash/pkg/matcher"

// commandSet is what the host writes to select each chip operation. Steps
// with matcher.AnyAddress go to the current cursor position.
type commandSet struct {
	read      []matcher.Step
	write     []matcher.Step
	verify    []matcher.Step
	erase     []matcher.Step
	getID     []matcher.Step
	unprotect []matcher.Step
	protect   []matcher.Step
	// sdpDisable lists addresses read in order to lift software data
	// protection before programming.
	sdpDisable []uint32
	// status means write and erase completion is confirmed by the status
	// byte.
	status bool
}

func data(b ...uint16) []matcher.Step {
	steps := make([]matcher.Step, len(b))
	for i, d := range b {
		steps[i] = matcher.Data(d)
	}
	return steps
}

func eeprom28C(a, b uint32) commandSet {
	at := matcher.At
	return commandSet{
		unprotect: []matcher.Step{at(a, 0xAA), at(b, 0x55), at(a, 0x80), at(a, 0xAA), at(b, 0x55), at(a, 0x20)},
		protect:   []matcher.Step{at(a, 0xAA), at(b, 0x55), at(a, 0xA0)},
	}
}

var commandSets = map[Algorithm]commandSet{
	AlgorithmEEPROM28C64:  eeprom28C(0x1555, 0x0AAA),
	AlgorithmEEPROM28C256: eeprom28C(0x5555, 0x2AAA),
	AlgorithmFlash28F: {
		read:   data(0x00),
		write:  data(0x40),
		verify: data(0xC0),
		erase:  data(0x20, 0x20),
		getID:  []matcher.Step{matcher.At(0, 0x90)},
	},
	AlgorithmFlashSST28SF: {
		write:      data(0x10),
		erase:      data(0x20, 0xD0),
		getID:      []matcher.Step{matcher.At(0, 0x90)},
		sdpDisable: []uint32{0x1823, 0x1820, 0x1822, 0x0418, 0x041B, 0x0419, 0x041A},
	},
	AlgorithmFlashAm28F: {
		read:   data(0x00),
		write:  data(0x10),
		verify: data(0x00),
		erase:  data(0x30, 0x30),
		getID:  []matcher.Step{matcher.At(0, 0x90)},
	},
	AlgorithmFlashI28F: {
		read:   data(0xFF),
		write:  data(0x40),
		verify: data(0xFF),
		erase:  data(0x20, 0xD0),
		getID:  []matcher.Step{matcher.At(0, 0x90)},
		status: true,
	},
}

// span is the highest address a command touches, plus one.
func (c commandSet) span() uint32 {
	var top uint32
	for _, steps := range [][]matcher.Step{c.read, c.write, c.verify, c.erase, c.getID, c.unprotect, c.protect} {
		for _, s := range steps {
			if s.Addr != matcher.AnyAddress && s.Addr+1 > top {
				top = s.Addr + 1
			}
		}
	}
	for _, a := range c.sdpDisable {
		if a+1 > top {
			top = a + 1
		}
	}
	return top
}
