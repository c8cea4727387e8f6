package chip

import "github.com/OpenTraceLab/OpenTraceFlash/pkg/bus"

// EPROM is a UV or electrically erasable EPROM. Programming only clears bits.
// With the programming rail routed to A9 the chip answers its ID at
// addresses 0 and 1, and an erasable part bulk-erases on a write pulse of
// 0xFF at address 0.
type EPROM struct {
	core
	id       ID
	erasable bool
	a9       bool
}

var _ PinRouter = (*EPROM)(nil)

// NewEPROM returns an EPROM with size addressable units.
func NewEPROM(size uint32, opts ...Option) *EPROM {
	cfg := newConfig(opts)
	if !cfg.idSet {
		cfg.id = ID{Manufacturer: 0x20, Device: 0x8C}
	}
	name := "EPROM"
	if cfg.erasable {
		name = "EPROM-E"
	}
	e := &EPROM{core: newCore(name, size, cfg), id: cfg.id, erasable: cfg.erasable}
	e.emulate = e.step
	return e
}

// RouteVPP implements PinRouter. Only A9 has an effect.
func (e *EPROM) RouteVPP(p bus.Pin, on bool) {
	if p != bus.PinA9 || e.a9 == on {
		return
	}
	e.a9 = on
	e.log.Debug("pin", "VPP on A9", on)
	e.eval()
}

// pgm is the level of the program strobe, derived from WE and OE the way each
// package size wires its PGM pin.
func (e *EPROM) pgm() bool {
	switch n := e.capacity(); {
	case n <= 0x800:
		return !e.we
	case n == 0x2000, n == 0x4000, n == 0x20000, n == 0x40000:
		return e.we
	case n == 0x200000, n == 0x400000:
		return !e.oe && e.we
	case e.oe:
		return !e.we
	default:
		return e.we
	}
}

func (e *EPROM) step() {
	pgm := e.pgm()
	read := e.vdd && e.ce && !pgm && e.oe
	write := e.vdd && e.vpp && e.ce && pgm && !e.oe

	if e.readCycle(read) {
		e.log.Debug("read", "addr", e.addr, "id mode", e.a9)
	}
	if read {
		switch {
		case e.a9 && e.addr == 0:
			e.drive(e.id.Manufacturer)
		case e.a9 && e.addr == 1:
			e.drive(e.id.Device)
		default:
			e.drive(e.mem[e.addr])
		}
	}

	if !e.writeCycle(write) {
		return
	}
	if e.a9 {
		if e.erasable && e.addr == 0 && e.in == e.mask {
			e.fill(e.mask)
			e.log.Debug("erase")
		}
		return
	}
	e.store(e.addr, e.mem[e.addr]&e.in)
}
