package chip

import "github.com/OpenTraceLab/OpenTraceFlash/pkg/matcher"

// EEPROM is a 28C/X28/AT28C parallel EEPROM with software data protection.
// The protect and unprotect sequences are recognized at both the 28C64
// (0x1555/0x0AAA) and 28C256 (0x5555/0x2AAA) addresses.
type EEPROM struct {
	core
	cmd       *matcher.Matcher
	held      []cycle
	protected bool
}

type cycle struct {
	addr uint32
	data uint16
}

// EEPROMCommands returns the software data protection table for the given
// unlock addresses.
func EEPROMCommands(a, b uint32) []matcher.Command {
	return []matcher.Command{
		{Op: matcher.OpUnprotect, Steps: []matcher.Step{
			matcher.At(a, 0xAA), matcher.At(b, 0x55), matcher.At(a, 0x80),
			matcher.At(a, 0xAA), matcher.At(b, 0x55), matcher.At(a, 0x20),
		}},
		{Op: matcher.OpProtect, Steps: []matcher.Step{
			matcher.At(a, 0xAA), matcher.At(b, 0x55), matcher.At(a, 0xA0),
		}},
	}
}

// NewEEPROM returns an EEPROM of size bytes, unprotected unless WithProtected
// says otherwise.
func NewEEPROM(size uint32, opts ...Option) *EEPROM {
	cfg := newConfig(opts)
	table := append(EEPROMCommands(0x5555, 0x2AAA), EEPROMCommands(0x1555, 0x0AAA)...)
	e := &EEPROM{
		core:      newCore("EEPROM", size, cfg),
		cmd:       matcher.New(table...),
		protected: cfg.protectedSet && cfg.protected,
	}
	e.emulate = e.step
	return e
}

// Protected reports the software data protection state.
func (e *EEPROM) Protected() bool { return e.protected }

func (e *EEPROM) step() {
	if !e.vdd {
		e.cmd.Reset()
		e.held = e.held[:0]
		return
	}
	if !e.ce {
		e.abandon()
		e.reading, e.writing = false, false
		return
	}
	read := !e.we && e.oe
	write := e.we

	if e.readCycle(read) {
		e.abandon()
		e.log.Debug("read", "addr", e.addr, "data", e.mem[e.addr])
	}
	if read {
		e.drive(e.mem[e.addr])
	}
	if !e.writeCycle(write) {
		return
	}

	switch e.cmd.Feed(e.addr, e.in) {
	case matcher.Plain:
		e.write(e.addr, e.in)
	case matcher.Pending:
		e.held = append(e.held, cycle{e.addr, e.in})
	case matcher.Canceled:
		e.held = append(e.held, cycle{e.addr, e.in})
		e.commit()
	case matcher.Matched:
		e.protected = e.cmd.Op() == matcher.OpProtect
		e.held = e.held[:0]
		e.log.Debug("command", "op", e.cmd.Op().String())
		e.cmd.Done()
	}
}

// abandon ends a partial sequence. Its cycles were ordinary writes after all.
func (e *EEPROM) abandon() {
	if e.cmd.State() != matcher.StateMatching {
		return
	}
	e.cmd.Reset()
	e.commit()
}

func (e *EEPROM) commit() {
	for _, c := range e.held {
		e.write(c.addr, c.data)
	}
	e.held = e.held[:0]
}

func (e *EEPROM) write(addr uint32, data uint16) {
	if e.protected {
		e.log.Debug("write rejected, protected", "addr", addr)
		return
	}
	e.store(addr, data)
}
