package chip

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceFlash/pkg/matcher"
)

// FlashVariant selects the command set of a 28F-style flash.
type FlashVariant uint8

const (
	Flash28F FlashVariant = iota
	FlashAm28F
	FlashSST28SF
	FlashI28F
	FlashI28F16
)

// IntelStatusReady is what an Intel part returns while in status mode.
const IntelStatusReady = 0x80

type flashPart struct {
	name     string
	commands []matcher.Command
	id       ID
	wide     bool
	sdp      bool
	status   bool
}

func cmd(op matcher.Op, data ...uint16) matcher.Command {
	steps := make([]matcher.Step, len(data))
	for i, d := range data {
		steps[i] = matcher.Data(d)
	}
	return matcher.Command{Op: op, Steps: steps}
}

// SSTCommands is the SST28SF read-address sequence table. The data on the bus
// is irrelevant; only the order of addresses counts.
func SSTCommands() []matcher.Command {
	prefix := []matcher.Step{
		matcher.Addr(0x1823), matcher.Addr(0x1820), matcher.Addr(0x1822),
		matcher.Addr(0x0418), matcher.Addr(0x041B), matcher.Addr(0x0419),
	}
	seq := func(last uint32) []matcher.Step {
		return append(append([]matcher.Step(nil), prefix...), matcher.Addr(last))
	}
	return []matcher.Command{
		{Op: matcher.OpUnprotect, Steps: seq(0x041A)},
		{Op: matcher.OpProtect, Steps: seq(0x040A)},
	}
}

var flashParts = map[FlashVariant]flashPart{
	Flash28F: {
		name: "28F",
		commands: []matcher.Command{
			cmd(matcher.OpRead, 0x00),
			cmd(matcher.OpWrite, 0x40),
			cmd(matcher.OpVerify, 0xC0),
			cmd(matcher.OpErase, 0x20, 0x20),
			cmd(matcher.OpBlankCheck, 0xA0),
			cmd(matcher.OpGetID, 0x90),
			cmd(matcher.OpReset, 0xFF, 0xFF),
		},
		id: ID{0x20, 0xA8},
	},
	FlashAm28F: {
		name: "Am28F",
		commands: []matcher.Command{
			cmd(matcher.OpRead, 0x00),
			cmd(matcher.OpWrite, 0x50),
			cmd(matcher.OpWrite, 0x10),
			cmd(matcher.OpErase, 0x30, 0x30),
			cmd(matcher.OpGetID, 0x90),
			cmd(matcher.OpGetID, 0x80),
			cmd(matcher.OpReset, 0xFF, 0xFF),
		},
		id: ID{0x01, 0xA2},
	},
	FlashSST28SF: {
		name: "SST28SF",
		commands: []matcher.Command{
			cmd(matcher.OpRead, 0x00),
			cmd(matcher.OpWrite, 0x10),
			cmd(matcher.OpErase, 0x20, 0xD0),
			cmd(matcher.OpGetID, 0x90),
			cmd(matcher.OpReset, 0xFF, 0xFF),
		},
		id:  ID{0xBF, 0x04},
		sdp: true,
	},
	FlashI28F: {
		name: "I28F",
		commands: []matcher.Command{
			cmd(matcher.OpRead, 0xFF),
			cmd(matcher.OpWrite, 0x40),
			cmd(matcher.OpWrite, 0x10),
			cmd(matcher.OpErase, 0x20, 0xD0),
			cmd(matcher.OpGetID, 0x90),
		},
		id:     ID{0x89, 0x94},
		status: true,
	},
	FlashI28F16: {
		name: "I28F16",
		commands: []matcher.Command{
			cmd(matcher.OpRead, 0xFF),
			cmd(matcher.OpWrite, 0x40),
			cmd(matcher.OpWrite, 0x10),
			cmd(matcher.OpErase, 0x20, 0xD0),
			cmd(matcher.OpGetID, 0x90),
		},
		id:     ID{0x0089, 0x8894},
		wide:   true,
		status: true,
	},
}

// Flash is a command-driven NOR flash. Writes that match no command while the
// matcher is idle are stored directly; a byte that breaks a sequence in
// progress is dropped.
type Flash struct {
	core
	part      flashPart
	id        ID
	cmd       *matcher.Matcher
	sdp       *matcher.Matcher
	protected bool
	status    bool
	byteWide  bool
	msb       uint16
}

// NewFlash returns a flash of the given variant with size addressable units.
func NewFlash(v FlashVariant, size uint32, opts ...Option) (*Flash, error) {
	part, ok := flashParts[v]
	if !ok {
		return nil, fmt.Errorf("chip: unknown flash variant %d", v)
	}
	cfg := newConfig(opts)
	if part.wide {
		cfg.wide = true
	}
	id := part.id
	if cfg.idSet {
		id = cfg.id
	}
	f := &Flash{
		core:     newCore(part.name, size, cfg),
		part:     part,
		id:       id,
		cmd:      matcher.New(part.commands...),
		byteWide: cfg.byteWide && part.wide,
	}
	if part.sdp {
		f.sdp = matcher.New(SSTCommands()...)
		f.protected = !cfg.protectedSet || cfg.protected
		f.power = func(on bool) {
			if on {
				f.protected = true
			}
		}
	}
	if f.byteWide {
		f.vppEdge = func(on bool) {
			if on && !f.oe {
				f.msb = f.mem[f.addr] >> 8
			}
		}
	}
	f.emulate = f.step
	return f, nil
}

// Protected reports the SST software data protection state.
func (f *Flash) Protected() bool { return f.protected }

// Op returns the command the chip is executing.
func (f *Flash) Op() matcher.Op { return f.cmd.Op() }

func (f *Flash) step() {
	if !f.vdd {
		f.cmd.Reset()
		f.status = false
		if f.sdp != nil {
			f.sdp.Reset()
		}
	}
	if !f.vdd || !f.ce {
		f.cmd.Reset()
		f.reading, f.writing = false, false
		return
	}
	read := !f.we && f.oe
	write := f.we

	if f.readCycle(read) {
		f.readStart()
	}
	if read {
		f.drive(f.output())
	}
	if f.writeCycle(write) {
		f.writeStart()
	}
}

func (f *Flash) readStart() {
	f.log.Debug("read", "addr", f.addr, "op", f.cmd.Op().String())
	if f.sdp != nil && f.sdp.Feed(f.addr, 0) == matcher.Matched {
		f.protected = f.sdp.Op() == matcher.OpProtect
		f.log.Debug("command", "op", f.sdp.Op().String())
		f.sdp.Done()
	}
	switch f.cmd.State() {
	case matcher.StateMatching:
		f.cmd.Reset()
	case matcher.StateExecuting:
		switch f.cmd.Op() {
		case matcher.OpRead, matcher.OpVerify, matcher.OpBlankCheck:
			f.cmd.Done()
		}
	}
}

func (f *Flash) output() uint16 {
	switch {
	case f.cmd.Executing(matcher.OpGetID) && f.addr == 0:
		return f.id.Manufacturer
	case f.cmd.Executing(matcher.OpGetID) && f.addr == 1:
		return f.id.Device
	case f.status:
		return IntelStatusReady
	case f.byteWide && f.vpp:
		return f.msb
	case f.byteWide:
		return f.mem[f.addr] & 0xFF
	}
	return f.mem[f.addr]
}

func (f *Flash) writeStart() {
	if f.cmd.Executing(matcher.OpWrite) {
		f.program(f.addr, f.in)
		f.cmd.Done()
		f.status = f.part.status
		return
	}
	switch res := f.cmd.Feed(f.addr, f.in); res {
	case matcher.Plain:
		f.program(f.addr, f.in)
	case matcher.Matched:
		f.execute(f.cmd.Op())
	default:
		f.log.Debug("command", "result", res, "addr", f.addr, "data", f.in)
	}
}

func (f *Flash) execute(op matcher.Op) {
	f.log.Debug("command", "op", op.String())
	switch op {
	case matcher.OpRead, matcher.OpReset:
		f.status = false
		f.cmd.Done()
	case matcher.OpErase:
		if f.protected {
			f.log.Debug("erase rejected, protected")
		} else {
			f.fill(f.mask)
		}
		f.cmd.Done()
		f.status = f.part.status
	case matcher.OpWrite:
		f.status = false
	}
}

func (f *Flash) program(addr uint32, data uint16) {
	if f.protected {
		f.log.Debug("write rejected, protected", "addr", addr)
		return
	}
	f.store(addr, data)
}
