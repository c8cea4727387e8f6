// Package chip models parallel memory chips as they appear on a programmer
// socket. Models are combinational: every pin change re-evaluates the chip,
// which then drives the data bus, stores a write cycle or feeds its command
// matcher.
package chip

import (
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/OpenTraceLab/OpenTraceFlash/pkg/bus"
)

// Chip is a memory device on the simulated socket.
type Chip interface {
	Name() string
	// Size is the number of addressable units (bytes, or words for wide chips).
	Size() uint32
	Wide() bool

	SetVDD(on bool)
	SetVPP(on bool)
	SetCE(on bool)
	SetOE(on bool)
	SetWE(on bool)
	SetAddress(addr uint32)
	// SetData drives the programmer's data register onto the bus.
	SetData(d uint16)
	// Data samples the bus: the chip's output while it drives the bus,
	// the programmer's data register otherwise.
	Data() uint16

	// Bytes returns a copy of the memory, 16-bit units as MSB,LSB.
	Bytes() []byte
	// Load replaces the memory contents from b, in the layout of Bytes.
	Load(b []byte)
}

// PinRouter is implemented by chips that react to the programming rail being
// routed onto one of their signal pins.
type PinRouter interface {
	RouteVPP(p bus.Pin, on bool)
}

type config struct {
	log          *slog.Logger
	seed         uint64
	id           ID
	idSet        bool
	onWrite      func(addr uint32, data uint16)
	byteWide     bool
	erasable     bool
	wide         bool
	protectedSet bool
	protected    bool
}

// ID is the pair returned in identification mode.
type ID struct {
	Manufacturer uint16
	Device       uint16
}

// Option configures a chip model.
type Option func(*config)

// WithLogger logs bus cycles at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithSeed fixes the random source used for power-up contents.
func WithSeed(seed uint64) Option {
	return func(c *config) { c.seed = seed }
}

// WithID overrides the identification bytes.
func WithID(manufacturer, device uint16) Option {
	return func(c *config) {
		c.id = ID{manufacturer, device}
		c.idSet = true
	}
}

// WithWriteHook is called for every cell the chip actually stores.
func WithWriteHook(fn func(addr uint32, data uint16)) Option {
	return func(c *config) { c.onWrite = fn }
}

// WithByteWide puts a 16-bit flash into byte mode, where VPP selects the
// high byte.
func WithByteWide() Option {
	return func(c *config) { c.byteWide = true }
}

// WithElectricalErase lets an EPROM bulk-erase from a write pulse at address 0
// with the programming rail on A9.
func WithElectricalErase() Option {
	return func(c *config) { c.erasable = true }
}

// WithWide makes the chip 16 bits wide.
func WithWide() Option {
	return func(c *config) { c.wide = true }
}

// WithProtected sets the initial software protection state.
func WithProtected(on bool) Option {
	return func(c *config) {
		c.protected = on
		c.protectedSet = true
	}
}

func newConfig(opts []Option) config {
	cfg := config{
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		seed: uint64(time.Now().UnixNano()),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// core holds pin and memory state shared by every model. emulate is the
// family's combinational logic.
type core struct {
	name string
	mem  []uint16
	mask uint16
	wide bool

	vdd, vpp, ce, oe, we bool
	addr                 uint32

	in         uint16 // programmer data register
	out        uint16 // chip output
	outputting bool

	dirty    bool
	writing  bool
	reading  bool
	readAddr uint32

	log     *slog.Logger
	onWrite func(addr uint32, data uint16)
	rng     *rand.Rand

	emulate func()
	power   func(on bool)
	vppEdge func(on bool)
}

func newCore(name string, size uint32, cfg config) core {
	if size == 0 {
		size = 1
	}
	c := core{
		name:    name,
		mem:     make([]uint16, size),
		mask:    0xFF,
		wide:    cfg.wide,
		log:     cfg.log.With("chip", name),
		onWrite: cfg.onWrite,
		rng:     rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9E3779B97F4A7C15)),
	}
	if cfg.wide {
		c.mask = 0xFFFF
	}
	c.fill(c.mask)
	return c
}

func (c *core) Name() string { return c.name }
func (c *core) Size() uint32 { return uint32(len(c.mem)) }
func (c *core) Wide() bool   { return c.wide }

// capacity is the size in bytes, the figure pin-out tables are keyed by.
func (c *core) capacity() uint32 {
	if c.wide {
		return uint32(len(c.mem)) * 2
	}
	return uint32(len(c.mem))
}

func (c *core) SetVDD(on bool) {
	if c.vdd == on {
		return
	}
	c.vdd = on
	c.log.Debug("pin", "VDD", on)
	if c.power != nil {
		c.power(on)
	}
	c.eval()
}

func (c *core) SetVPP(on bool) {
	if c.vpp == on {
		return
	}
	c.vpp = on
	c.log.Debug("pin", "VPP", on)
	if c.vppEdge != nil {
		c.vppEdge(on)
	}
	c.eval()
}

func (c *core) SetCE(on bool) {
	if c.ce == on {
		return
	}
	c.ce = on
	c.log.Debug("pin", "CE", on)
	c.eval()
}

func (c *core) SetOE(on bool) {
	if c.oe == on {
		return
	}
	c.oe = on
	c.log.Debug("pin", "OE", on)
	c.eval()
}

func (c *core) SetWE(on bool) {
	if c.we == on {
		return
	}
	c.we = on
	c.log.Debug("pin", "WE", on)
	c.eval()
}

// SetAddress drops address lines the chip does not have.
func (c *core) SetAddress(addr uint32) {
	addr %= uint32(len(c.mem))
	if addr == c.addr {
		return
	}
	c.addr = addr
	c.dirty = true
	c.eval()
}

func (c *core) SetData(d uint16) {
	d &= c.mask
	if d == c.in {
		return
	}
	c.in = d
	c.dirty = true
	c.eval()
}

func (c *core) Data() uint16 {
	c.eval()
	if c.outputting {
		return c.out
	}
	return c.in
}

func (c *core) eval() {
	c.outputting = false
	if c.emulate != nil {
		c.emulate()
	}
	c.dirty = false
}

// readCycle reports whether a new read cycle starts: the read condition just
// became true, or the address moved while it held.
func (c *core) readCycle(active bool) bool {
	start := active && (!c.reading || c.addr != c.readAddr)
	c.reading = active
	if active {
		c.readAddr = c.addr
	}
	return start
}

// writeCycle reports whether a new write cycle starts: the write condition
// just became true, or address or data changed while it held.
func (c *core) writeCycle(active bool) bool {
	start := active && (!c.writing || c.dirty)
	c.writing = active
	return start
}

func (c *core) drive(v uint16) {
	c.out = v & c.mask
	c.outputting = true
}

func (c *core) store(addr uint32, v uint16) {
	c.mem[addr] = v & c.mask
	c.log.Debug("write", "addr", addr, "data", c.mem[addr])
	if c.onWrite != nil {
		c.onWrite(addr, c.mem[addr])
	}
}

func (c *core) fill(v uint16) {
	for i := range c.mem {
		c.mem[i] = v & c.mask
	}
}

func (c *core) randomize() {
	for i := range c.mem {
		c.mem[i] = uint16(c.rng.Uint32()) & c.mask
	}
}

func (c *core) Bytes() []byte {
	if !c.wide {
		out := make([]byte, len(c.mem))
		for i, v := range c.mem {
			out[i] = byte(v)
		}
		return out
	}
	out := make([]byte, 0, len(c.mem)*2)
	for _, v := range c.mem {
		out = append(out, byte(v>>8), byte(v))
	}
	return out
}

func (c *core) Load(b []byte) {
	if !c.wide {
		for i := 0; i < len(c.mem) && i < len(b); i++ {
			c.mem[i] = uint16(b[i])
		}
		return
	}
	for i := 0; i < len(c.mem) && 2*i+1 < len(b); i++ {
		c.mem[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
}
