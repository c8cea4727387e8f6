package bus

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/OpenTraceLab/OpenTraceFlash/pkg/protocol"
)

// fakePort answers every complete request with OK and a result produced by
// reply. Requests are recorded in order.
type fakePort struct {
	requests [][]byte
	partial  []byte
	out      []byte
	reply    func(req []byte) []byte
	failOn   protocol.Opcode
	closed   bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.partial = append(p.partial, b...)
	for len(p.partial) > 0 {
		op := protocol.Opcode(p.partial[0])
		n := protocol.RequestLength(op)
		if len(p.partial) < n {
			break
		}
		req := append([]byte(nil), p.partial[:n]...)
		p.partial = p.partial[n:]
		p.requests = append(p.requests, req)
		if p.failOn != 0 && op == p.failOn {
			p.out = append(p.out, protocol.EncodeResponse(protocol.StatusCurrent, false)...)
			continue
		}
		var result []byte
		if p.reply != nil {
			result = p.reply(req)
		}
		if result == nil {
			result = make([]byte, protocol.Lookup(op).Result)
		}
		p.out = append(p.out, protocol.EncodeResponse(protocol.StatusCurrent, true, result...)...)
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	n := copy(b, p.out)
	p.out = p.out[n:]
	return n, nil
}

func (p *fakePort) ResetInputBuffer() error            { p.out = nil; return nil }
func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }
func (p *fakePort) Close() error                       { p.closed = true; return nil }

func (p *fakePort) opcodes() []protocol.Opcode {
	ops := make([]protocol.Opcode, len(p.requests))
	for i, r := range p.requests {
		ops[i] = protocol.Opcode(r[0])
	}
	return ops
}

func newTestRemote(port *fakePort, opts ...Option) *Remote {
	c := protocol.NewClient(port, protocol.StatusCurrent)
	c.SetTimeout(50 * time.Millisecond)
	return NewRemote(c, append([]Option{WithSleep(func(time.Duration) {})}, opts...)...)
}

func TestSettersAreIdempotent(t *testing.T) {
	port := &fakePort{}
	r := newTestRemote(port)

	steps := []func() error{
		func() error { return r.SetCE(true) },
		func() error { return r.SetCE(true) },
		func() error { return r.SetOE(false) },
		func() error { return r.SetOE(false) },
		func() error { return r.AddrSet(0x10) },
		func() error { return r.AddrSet(0x10) },
		func() error { return r.DataSet(0x55) },
		func() error { return r.DataSet(0x55) },
		func() error { return r.SetCE(false) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	want := []protocol.Opcode{protocol.OpBusCE, protocol.OpBusOE, protocol.OpAddrSetB, protocol.OpDataSet, protocol.OpBusCE}
	got := port.opcodes()
	if len(got) != len(want) {
		t.Fatalf("wire opcodes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("opcode[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestAddrSetPicksWidth(t *testing.T) {
	tests := []struct {
		addr uint32
		want []byte
	}{
		{0x12, []byte{0x34, 0x12}},
		{0x1234, []byte{0x35, 0x12, 0x34}},
		{0x012345, []byte{0x33, 0x01, 0x23, 0x45}},
	}
	for _, tt := range tests {
		port := &fakePort{}
		r := newTestRemote(port)
		if err := r.AddrSet(tt.addr); err != nil {
			t.Fatalf("AddrSet(0x%X) error = %v", tt.addr, err)
		}
		if len(port.requests) != 1 || string(port.requests[0]) != string(tt.want) {
			t.Errorf("AddrSet(0x%X) sent % X, want % X", tt.addr, port.requests, tt.want)
		}
		if r.AddrGet() != tt.addr {
			t.Errorf("AddrGet() = 0x%X, want 0x%X", r.AddrGet(), tt.addr)
		}
	}
}

func TestAddrSetBeyondRegisterIsSticky(t *testing.T) {
	port := &fakePort{}
	r := newTestRemote(port)

	err := r.AddrSet(0x1000000)
	var rerr *RangeError
	if !errors.As(err, &rerr) {
		t.Fatalf("AddrSet() error = %v, want *RangeError", err)
	}
	if err := r.SetCE(true); !errors.As(err, &rerr) {
		t.Errorf("SetCE() after range error = %v, want sticky *RangeError", err)
	}
	if len(port.requests) != 0 {
		t.Errorf("requests sent after sticky error: %v", port.opcodes())
	}
	if !errors.As(r.Err(), &rerr) {
		t.Errorf("Err() = %v", r.Err())
	}
}

func TestAddrIncPastSize(t *testing.T) {
	port := &fakePort{}
	r := newTestRemote(port, WithSize(2))

	if err := r.AddrClr(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := r.AddrInc(); err != nil {
			t.Fatalf("AddrInc #%d error = %v", i, err)
		}
	}
	var rerr *RangeError
	if err := r.AddrInc(); !errors.As(err, &rerr) {
		t.Fatalf("third AddrInc error = %v, want *RangeError", err)
	}
}

func TestOutOfRangeDataAccess(t *testing.T) {
	port := &fakePort{reply: func(req []byte) []byte {
		switch protocol.Opcode(req[0]) {
		case protocol.OpDataGet:
			return []byte{0x42}
		}
		return nil
	}}
	r := newTestRemote(port, WithSize(0x10))

	if err := r.AddrSet(0x20); err != nil {
		t.Fatal(err)
	}
	before := len(port.requests)
	if err := r.DataSet(0x12); err != nil {
		t.Fatalf("DataSet past end error = %v, want nil", err)
	}
	b, err := r.DataGet()
	if err != nil || b != FillByte {
		t.Fatalf("DataGet past end = 0x%02X, %v; want 0xFF, nil", b, err)
	}
	w, err := r.DataGetW()
	if err != nil || w != FillWord {
		t.Fatalf("DataGetW past end = 0x%04X, %v; want 0xFFFF, nil", w, err)
	}
	if len(port.requests) != before {
		t.Errorf("past-end data access reached the wire: %v", port.opcodes()[before:])
	}

	if err := r.AddrSet(0x01); err != nil {
		t.Fatal(err)
	}
	if b, err := r.DataGet(); err != nil || b != 0x42 {
		t.Errorf("DataGet in range = 0x%02X, %v; want 0x42", b, err)
	}
}

func TestRails(t *testing.T) {
	port := &fakePort{reply: func(req []byte) []byte {
		switch protocol.Opcode(req[0]) {
		case protocol.OpVppGetV:
			return []byte{0x0C, 0x22}
		case protocol.OpVddGetDuty:
			return []byte{47, 50}
		case protocol.OpVppGetCal:
			return []byte{1, 50}
		}
		return nil
	}}
	r := newTestRemote(port)

	if err := r.RailSetV(VPP, 12*physic.Volt+340*physic.MilliVolt); err != nil {
		t.Fatal(err)
	}
	if got := port.requests[0]; string(got) != string([]byte{0x12, 0x0C, 0x22}) {
		t.Errorf("RailSetV sent % X, want 12 0C 22", got)
	}
	if v, err := r.RailGetV(VPP); err != nil || v != 12*physic.Volt+340*physic.MilliVolt {
		t.Errorf("RailGetV(VPP) = %s, %v", v, err)
	}
	if d, err := r.RailGetDuty(VDD); err != nil || d != 47.5 {
		t.Errorf("RailGetDuty(VDD) = %v, %v", d, err)
	}
	if c, err := r.RailGetCalibration(VPP); err != nil || c != 1.5 {
		t.Errorf("RailGetCalibration(VPP) = %v, %v", c, err)
	}
	if err := r.RailCtrl(VDD, true); err != nil {
		t.Fatal(err)
	}
	if err := r.RailInitCalibration(VDD); err != nil {
		t.Fatal(err)
	}
	if err := r.RailSaveCalibration(VDD, 1.5); err != nil {
		t.Fatal(err)
	}
}

func TestRailOnPin(t *testing.T) {
	tests := []struct {
		rail Rail
		pin  Pin
		want protocol.Opcode
	}{
		{VPP, PinA9, protocol.OpVppOnA9},
		{VPP, PinA18, protocol.OpVppOnA18},
		{VPP, PinCE, protocol.OpVppOnCE},
		{VPP, PinOE, protocol.OpVppOnOE},
		{VPP, PinWE, protocol.OpVppOnWE},
		{VDD, PinVPP, protocol.OpVddOnVpp},
	}
	for _, tt := range tests {
		t.Run(tt.rail.String()+"-"+tt.pin.String(), func(t *testing.T) {
			port := &fakePort{}
			r := newTestRemote(port)
			if err := r.RailOnPin(tt.rail, tt.pin, true); err != nil {
				t.Fatalf("RailOnPin() error = %v", err)
			}
			if got := port.opcodes(); len(got) != 1 || got[0] != tt.want {
				t.Errorf("RailOnPin() sent %v, want %v", got, tt.want)
			}
		})
	}

	r := newTestRemote(&fakePort{})
	if err := r.RailOnPin(VDD, PinA9, true); !errors.Is(err, ErrNoRoute) {
		t.Errorf("RailOnPin(VDD, A9) error = %v, want ErrNoRoute", err)
	}
}

func TestRejectedRequestIsSticky(t *testing.T) {
	port := &fakePort{failOn: protocol.OpBusOE}
	r := newTestRemote(port)

	if err := r.SetOE(true); !errors.Is(err, protocol.ErrStatus) {
		t.Fatalf("SetOE() error = %v, want ErrStatus", err)
	}
	if err := r.SetCE(true); !errors.Is(err, protocol.ErrStatus) {
		t.Errorf("SetCE() error = %v, want sticky ErrStatus", err)
	}
	if len(port.requests) != 1 {
		t.Errorf("requests = %v, want only the failed one", port.opcodes())
	}
}

func TestDelaysAndClose(t *testing.T) {
	var slept time.Duration
	port := &fakePort{}
	r := newTestRemote(port, WithSleep(func(d time.Duration) { slept += d }))

	r.UsDelay(150)
	r.MsDelay(2)
	r.UsDelay(0)
	if slept != 2150*time.Microsecond {
		t.Errorf("slept %v, want 2.15ms", slept)
	}

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if !port.closed {
		t.Error("Close() did not close the port")
	}
	if err := r.SetCE(true); !errors.Is(err, ErrClosed) {
		t.Errorf("SetCE() after Close = %v, want ErrClosed", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestOpenerFunc(t *testing.T) {
	want := newTestRemote(&fakePort{})
	var o Opener = OpenerFunc(func() (Primitives, error) { return want, nil })
	got, err := o.Open()
	if err != nil || got != Primitives(want) {
		t.Errorf("Open() = %v, %v", got, err)
	}
}
