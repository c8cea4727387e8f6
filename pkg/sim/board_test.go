package sim

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/OpenTraceLab/OpenTraceFlash/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceFlash/pkg/chip"
	"github.com/OpenTraceLab/OpenTraceFlash/pkg/protocol"
)

func newRemote(b *Board, enc protocol.StatusEncoding) *bus.Remote {
	c := protocol.NewClient(b, enc)
	c.SetTimeout(20 * time.Millisecond)
	return bus.NewRemote(c, bus.WithSleep(func(time.Duration) {}))
}

func TestBoardDrivesChip(t *testing.T) {
	b := NewBoard(chip.NewSRAM(0x100, chip.WithSeed(3)))
	r := newRemote(b, protocol.StatusCurrent)

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(r.RailCtrl(bus.VDD, true))
	must(r.SetCE(true))
	must(r.AddrSet(0x42))
	must(r.DataSet(0x99))
	must(r.SetWE(true))
	must(r.SetWE(false))
	must(r.SetOE(true))
	got, err := r.DataGet()
	if err != nil || got != 0x99 {
		t.Fatalf("DataGet() = 0x%02X, %v; want 0x99", got, err)
	}
	if b.Count(protocol.OpBusWE) != 2 {
		t.Errorf("Count(BusWE) = %d, want 2", b.Count(protocol.OpBusWE))
	}
	if vdd, vpp := b.Rails(); !vdd || vpp {
		t.Errorf("Rails() = %v, %v; want true, false", vdd, vpp)
	}
}

func TestBoardLegacyStatus(t *testing.T) {
	b := NewBoard(chip.NewSRAM(16), WithStatus(protocol.StatusLegacy))
	r := newRemote(b, protocol.StatusLegacy)
	if err := r.SetCE(true); err != nil {
		t.Fatalf("SetCE() over legacy status = %v", err)
	}
}

func TestBoardRails(t *testing.T) {
	b := NewBoard(chip.NewSRAM(16))
	r := newRemote(b, protocol.StatusCurrent)
	want := 12*physic.Volt + 500*physic.MilliVolt

	if err := r.RailSetV(bus.VPP, want); err != nil {
		t.Fatal(err)
	}
	if v, err := r.RailGetV(bus.VPP); err != nil || v != 0 {
		t.Errorf("RailGetV(VPP) while off = %s, %v; want 0", v, err)
	}
	if err := r.RailCtrl(bus.VPP, true); err != nil {
		t.Fatal(err)
	}
	if v, err := r.RailGetV(bus.VPP); err != nil || v != want {
		t.Errorf("RailGetV(VPP) = %s, %v; want %s", v, err, want)
	}
	if d, err := r.RailGetDuty(bus.VPP); err != nil || d != 50 {
		t.Errorf("RailGetDuty(VPP) = %v, %v; want 50", d, err)
	}
	if err := r.RailSaveCalibration(bus.VDD, 1.25); err != nil {
		t.Fatal(err)
	}
	if c, err := r.RailGetCalibration(bus.VDD); err != nil || c != 1.25 {
		t.Errorf("RailGetCalibration(VDD) = %v, %v; want 1.25", c, err)
	}
	if err := r.RailInitCalibration(bus.VDD); err != nil {
		t.Fatal(err)
	}
	if c, _ := r.RailGetCalibration(bus.VDD); c != 1 {
		t.Errorf("calibration after init = %v, want 1", c)
	}
}

func TestBoardRoutesToChip(t *testing.T) {
	e := chip.NewEPROM(0x2000, chip.WithID(0x12, 0x34))
	b := NewBoard(e)
	r := newRemote(b, protocol.StatusCurrent)

	for _, err := range []error{
		r.RailCtrl(bus.VDD, true),
		r.SetCE(true),
		r.RailOnPin(bus.VPP, bus.PinA9, true),
		r.AddrClr(),
		r.SetOE(true),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}
	if !b.Routed(bus.PinA9) {
		t.Fatal("A9 route not recorded")
	}
	if m, err := r.DataGet(); err != nil || m != 0x12 {
		t.Errorf("manufacturer = 0x%02X, %v; want 0x12", m, err)
	}
}

func TestBoardRequestHook(t *testing.T) {
	b := NewBoard(chip.NewSRAM(16))
	b.OnRequest = func(op protocol.Opcode, _ []byte) error {
		switch op {
		case protocol.OpBusOE:
			return errors.New("stuck line")
		case protocol.OpBusWE:
			return ErrNoResponse
		}
		return nil
	}

	r := newRemote(b, protocol.StatusCurrent)
	if err := r.SetOE(true); !errors.Is(err, protocol.ErrStatus) {
		t.Errorf("SetOE() = %v, want ErrStatus", err)
	}

	r = newRemote(b, protocol.StatusCurrent)
	if err := r.SetWE(true); !errors.Is(err, protocol.ErrTimeout) {
		t.Errorf("SetWE() = %v, want ErrTimeout", err)
	}
}

func TestBoardUnknownOpcode(t *testing.T) {
	b := NewBoard(chip.NewSRAM(16))
	if _, err := b.Write([]byte{0x7E}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	n, _ := b.Read(buf)
	if n != 1 || buf[0] != protocol.StatusCurrent.NOK {
		t.Errorf("response = % X, want NOK", buf[:n])
	}
}

func TestBoardCloseKeepsState(t *testing.T) {
	b := NewBoard(chip.NewSRAM(16))
	r := newRemote(b, protocol.StatusCurrent)
	if err := r.RailCtrl(bus.VDD, true); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if b.Closes() != 1 {
		t.Errorf("Closes() = %d, want 1", b.Closes())
	}
	if vdd, _ := b.Rails(); !vdd {
		t.Error("VDD dropped on close")
	}
}

func TestNewChip(t *testing.T) {
	for _, kind := range ChipKinds() {
		c, err := NewChip(kind, 0x2000)
		if err != nil {
			t.Errorf("NewChip(%q) error = %v", kind, err)
			continue
		}
		if c.Size() != 0x2000 {
			t.Errorf("NewChip(%q).Size() = 0x%X", kind, c.Size())
		}
	}
	if _, err := NewChip("74LS00", 16); err == nil {
		t.Error("NewChip(74LS00) error = nil")
	}
	if c, err := NewChip("I28F16", 16); err != nil || !c.Wide() {
		t.Errorf("NewChip(I28F16) = %v, %v; want a wide chip", c, err)
	}
}
