// Package sim is an in-memory programmer board. It answers the wire protocol
// the way the firmware does, driving a simulated chip in its socket, so the
// whole host stack can run without hardware.
package sim

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/OpenTraceLab/OpenTraceFlash/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceFlash/pkg/chip"
	"github.com/OpenTraceLab/OpenTraceFlash/pkg/protocol"
)

// ErrNoResponse makes the board swallow a request when returned from a
// RequestHook, as a hung programmer would.
var ErrNoResponse = errors.New("sim: no response")

// RequestHook inspects each request before the board executes it. A non-nil
// error makes the board answer NOK, or nothing at all for ErrNoResponse.
type RequestHook func(op protocol.Opcode, params []byte) error

type rail struct {
	on    bool
	volts physic.ElectricPotential
	cal   float64
}

// Board implements protocol.Port.
type Board struct {
	OnRequest RequestHook

	mu     sync.Mutex
	chip   chip.Chip
	status protocol.StatusEncoding
	log    *slog.Logger

	vdd, vpp rail
	vddOnVpp bool
	routes   map[bus.Pin]bool

	addr uint32
	data uint16

	partial []byte
	out     []byte
	counts  map[protocol.Opcode]int
	closes  int
}

var _ protocol.Port = (*Board)(nil)

// Option configures a Board.
type Option func(*Board)

// WithStatus selects the status byte encoding the board answers with.
func WithStatus(enc protocol.StatusEncoding) Option {
	return func(b *Board) { b.status = enc }
}

// WithLogger logs executed requests at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(b *Board) {
		if l != nil {
			b.log = l
		}
	}
}

// NewBoard returns a board with c in its socket.
func NewBoard(c chip.Chip, opts ...Option) *Board {
	b := &Board{
		chip:   c,
		status: protocol.StatusCurrent,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		vdd:    rail{cal: 1},
		vpp:    rail{cal: 1},
		routes: make(map[bus.Pin]bool),
		counts: make(map[protocol.Opcode]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Chip returns the chip in the socket.
func (b *Board) Chip() chip.Chip { return b.chip }

// Count returns how many times op was executed.
func (b *Board) Count(op protocol.Opcode) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[op]
}

// Closes returns how many times the link was closed.
func (b *Board) Closes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}

// Write accepts request bytes. Complete requests run immediately and queue
// their response.
func (b *Board) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.partial = append(b.partial, p...)
	for len(b.partial) > 0 {
		op := protocol.Opcode(b.partial[0])
		n := protocol.RequestLength(op)
		if len(b.partial) < n {
			break
		}
		params := append([]byte(nil), b.partial[1:n]...)
		b.partial = b.partial[n:]
		b.handle(op, params)
	}
	return len(p), nil
}

// Read returns queued response bytes. An empty queue reads as a timeout.
func (b *Board) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := copy(p, b.out)
	b.out = b.out[n:]
	return n, nil
}

func (b *Board) ResetInputBuffer() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.out = b.out[:0]
	return nil
}

func (b *Board) SetReadTimeout(time.Duration) error { return nil }

// Close ends a host session. The board keeps its state, like a programmer
// that stays powered on the USB cable.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	b.partial = nil
	b.out = nil
	return nil
}

func (b *Board) handle(op protocol.Opcode, params []byte) {
	if b.OnRequest != nil {
		if err := b.OnRequest(op, params); err != nil {
			if errors.Is(err, ErrNoResponse) {
				return
			}
			b.log.Debug("request rejected", "op", op.String(), "err", err)
			b.out = append(b.out, protocol.EncodeResponse(b.status, false)...)
			return
		}
	}
	result, err := b.execute(op, params)
	if err != nil {
		b.log.Debug("request failed", "op", op.String(), "err", err)
		b.out = append(b.out, protocol.EncodeResponse(b.status, false)...)
		return
	}
	b.counts[op]++
	b.out = append(b.out, protocol.EncodeResponse(b.status, true, result...)...)
}

func (b *Board) railFor(op protocol.Opcode) *rail {
	if op < protocol.OpVppCtrl {
		return &b.vdd
	}
	return &b.vpp
}

func (b *Board) execute(op protocol.Opcode, p []byte) ([]byte, error) {
	switch op {
	case protocol.OpNop:
	case protocol.OpVddCtrl, protocol.OpVppCtrl:
		r := b.railFor(op)
		r.on = protocol.DecodeBool(p[0])
		b.applyRails()
	case protocol.OpVddSetV, protocol.OpVppSetV:
		b.railFor(op).volts = protocol.DecodeVoltage(p)
	case protocol.OpVddGetV, protocol.OpVppGetV:
		r := b.railFor(op)
		if !r.on {
			return protocol.EncodeVoltage(0)
		}
		return protocol.EncodeVoltage(r.volts)
	case protocol.OpVddGetDuty, protocol.OpVppGetDuty:
		return protocol.EncodeFloat(duty(b.railFor(op))), nil
	case protocol.OpVddGetCal, protocol.OpVppGetCal:
		return protocol.EncodeFloat(b.railFor(op).cal), nil
	case protocol.OpVddInitCal, protocol.OpVppInitCal:
		b.railFor(op).cal = 1
	case protocol.OpVddSaveCal, protocol.OpVppSaveCal:
		b.railFor(op).cal = protocol.DecodeFloat(p)
	case protocol.OpVddOnVpp:
		b.vddOnVpp = protocol.DecodeBool(p[0])
	case protocol.OpVppOnA9, protocol.OpVppOnA18, protocol.OpVppOnCE, protocol.OpVppOnOE, protocol.OpVppOnWE:
		b.route(routePins[op], protocol.DecodeBool(p[0]))
	case protocol.OpBusCE:
		b.chip.SetCE(protocol.DecodeBool(p[0]))
	case protocol.OpBusOE:
		b.chip.SetOE(protocol.DecodeBool(p[0]))
	case protocol.OpBusWE:
		b.chip.SetWE(protocol.DecodeBool(p[0]))
	case protocol.OpAddrClr:
		b.setAddr(0)
	case protocol.OpAddrInc:
		if b.addr >= bus.MaxAddress {
			return nil, fmt.Errorf("sim: address register overflow")
		}
		b.setAddr(b.addr + 1)
	case protocol.OpAddrSet, protocol.OpAddrSetB, protocol.OpAddrSetW:
		var a uint32
		for _, x := range p {
			a = a<<8 | uint32(x)
		}
		b.setAddr(a)
	case protocol.OpDataClr:
		b.setData(0)
	case protocol.OpDataSet:
		b.setData(uint16(p[0]))
	case protocol.OpDataSetW:
		b.setData(protocol.DecodeWord(p))
	case protocol.OpDataGet:
		return []byte{byte(b.chip.Data())}, nil
	case protocol.OpDataGetW:
		return protocol.EncodeWord(b.chip.Data()), nil
	default:
		return nil, fmt.Errorf("sim: unsupported opcode %s", op)
	}
	return nil, nil
}

var routePins = map[protocol.Opcode]bus.Pin{
	protocol.OpVppOnA9:  bus.PinA9,
	protocol.OpVppOnA18: bus.PinA18,
	protocol.OpVppOnCE:  bus.PinCE,
	protocol.OpVppOnOE:  bus.PinOE,
	protocol.OpVppOnWE:  bus.PinWE,
}

// duty reports the regulator PWM duty in percent, proportional to the set
// voltage over a 25 V full scale.
func duty(r *rail) float64 {
	if !r.on {
		return 0
	}
	v := float64(r.volts) / float64(physic.Volt)
	return min(v*4, 100)
}

func (b *Board) applyRails() {
	b.chip.SetVDD(b.vdd.on)
	b.chip.SetVPP(b.vpp.on)
}

func (b *Board) route(p bus.Pin, on bool) {
	b.routes[p] = on
	if r, ok := b.chip.(chip.PinRouter); ok {
		r.RouteVPP(p, on)
	}
}

func (b *Board) setAddr(a uint32) {
	b.addr = a
	b.chip.SetAddress(a)
}

func (b *Board) setData(d uint16) {
	b.data = d
	b.chip.SetData(d)
}

// Routed reports whether the programming rail is switched onto p.
func (b *Board) Routed(p bus.Pin) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.routes[p]
}

// Rails reports whether VDD and VPP are on.
func (b *Board) Rails() (vdd, vpp bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.vdd.on, b.vpp.on
}
