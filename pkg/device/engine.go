package device

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/OpenTraceLab/OpenTraceFlash/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceFlash/pkg/matcher"
)

// setup is the bus configuration an operation starts from.
type setup uint8

const (
	setupReset setup = iota
	setupRead
	setupProg
	setupGetID
)

// errStatus marks a write or erase the chip reported as failed. It fails the
// attempt, not the operation.
var errStatus = errors.New("device: chip status not ready")

// idProbe is where GetID reads back array contents to tell an answering chip
// from an empty socket.
const idProbe = 0x200

// session is one operation on an open bus.
type session struct {
	d   *Device
	b   bus.Primitives
	s   Settings
	cmd commandSet
	log *slog.Logger

	phase   Phase
	current uint32
	total   uint32
}

// first returns the first non-nil error. Bus errors are sticky, so a
// sequence of calls can be issued and checked once.
func first(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func micros(d time.Duration) uint32 { return uint32(d / time.Microsecond) }

func (x *session) open(mode setup, phase Phase) error {
	b, err := x.d.opener.Open()
	if err != nil {
		return err
	}
	x.b = b

	span := x.s.Units()
	if top := x.cmd.span(); top > span {
		span = top
	}
	b.SetSize(span)

	vdd, vpp := x.s.VddRead, physic.ElectricPotential(0)
	switch phase {
	case PhaseProgram, PhaseUnprotect, PhaseProtect:
		vdd, vpp = x.s.VddWrite, x.s.Vpp
	case PhaseErase:
		vdd, vpp = x.s.VddWrite, x.s.Vee
	case PhaseGetID:
		vpp = x.s.Vee
	}
	if err := b.RailSetV(bus.VDD, vdd); err != nil {
		return err
	}
	if vpp > 0 {
		if err := b.RailSetV(bus.VPP, vpp); err != nil {
			return err
		}
		x.log.Debug("rails", "rail", "VPP", "volts", vpp.String())
	}
	return x.setupBus(mode)
}

// close resets the bus to its safe state and releases it. It runs after
// failures too; a sticky bus error only skips the reset.
func (x *session) close() error {
	if x.b == nil {
		return nil
	}
	var err error
	if x.b.Err() == nil {
		err = x.setupBus(setupReset)
	}
	if cerr := x.b.Close(); err == nil {
		err = cerr
	}
	return err
}

func (x *session) route(p bus.Pin, on bool) error { return x.b.RailOnPin(bus.VPP, p, on) }

func (x *session) vddOnVpp(on bool) error { return x.b.RailOnPin(bus.VDD, bus.PinVPP, on) }

// setupBus starts from everything off, then powers and strobes the chip for
// mode.
func (x *session) setupBus(mode setup) error {
	b, f := x.b, x.s.Flags
	err := first(
		b.RailCtrl(bus.VDD, false),
		b.RailCtrl(bus.VPP, false),
		x.vddOnVpp(false),
		b.AddrClr(),
		b.SetOE(false),
		b.SetCE(false),
		b.SetWE(f.PgmPositive),
		x.route(bus.PinA9, false),
		x.route(bus.PinA18, false),
		x.route(bus.PinCE, false),
		x.route(bus.PinOE, false),
		x.route(bus.PinWE, false),
		b.DataClr(),
	)
	if err != nil {
		return err
	}

	switch mode {
	case setupRead:
		return first(
			b.RailCtrl(bus.VDD, true),
			x.vddOnVpp(true),
			b.SetWE(f.PgmCePin),
			b.SetCE(true),
		)
	case setupProg:
		if err := b.RailCtrl(bus.VDD, true); err != nil {
			return err
		}
		if f.VppOePin {
			if err := x.vddOnVpp(true); err != nil {
				return err
			}
		}
		if err := first(b.SetWE(f.PgmPositive), b.SetCE(true)); err != nil {
			return err
		}
		return x.disableSDP()
	case setupGetID:
		if err := first(b.RailCtrl(bus.VDD, true), b.SetWE(f.PgmCePin), b.SetCE(true)); err != nil {
			return err
		}
		if !f.VppOePin {
			if err := x.vddOnVpp(true); err != nil {
				return err
			}
		}
		return first(b.SetOE(true), x.route(bus.PinA9, true))
	}
	return nil
}

// disableSDP lifts software data protection with the chip's read sequence.
func (x *session) disableSDP() error {
	if len(x.cmd.sdpDisable) == 0 {
		return nil
	}
	for _, addr := range x.cmd.sdpDisable {
		if err := x.b.AddrSet(addr); err != nil {
			return err
		}
		if _, err := x.readUnit(false); err != nil {
			return err
		}
	}
	x.log.Debug("software data protection disabled")
	return x.b.AddrClr()
}

func (x *session) dataSet(v uint16) error {
	if x.s.Flags.Is16Bit {
		return x.b.DataSetW(v)
	}
	return x.b.DataSet(byte(v))
}

func (x *session) dataGet() (uint16, error) {
	if x.s.Flags.Is16Bit {
		return x.b.DataGetW()
	}
	v, err := x.b.DataGet()
	return uint16(v), err
}

// pulse strobes WE for d with the polarity the chip programs on.
func (x *session) pulse(d time.Duration) error {
	active := !x.s.Flags.PgmPositive
	if err := x.b.SetWE(active); err != nil {
		return err
	}
	x.b.UsDelay(micros(d))
	return x.b.SetWE(!active)
}

// readUnit reads the unit under the cursor, optionally selecting read mode
// first. With VPP on OE, the VDD route is lifted so OE can go low.
func (x *session) readUnit(sendCmd bool) (uint16, error) {
	if sendCmd {
		if err := x.sendCmd(x.cmd.read, true); err != nil {
			return 0, err
		}
	}
	f := x.s.Flags
	if f.VppOePin {
		if err := x.vddOnVpp(false); err != nil {
			return 0, err
		}
	}
	if err := x.b.SetOE(true); err != nil {
		return 0, err
	}
	v, err := x.dataGet()
	if err := first(err, x.b.SetOE(false)); err != nil {
		return 0, err
	}
	if f.VppOePin {
		if err := x.vddOnVpp(true); err != nil {
			return 0, err
		}
	}
	return v, nil
}

// writeUnit writes v at the cursor: raise VPP if the chip programs with it,
// send the write command, drive the data, pulse, check status, drop VPP.
func (x *session) writeUnit(v uint16, disableVpp, sendCmd bool) error {
	f := x.s.Flags
	vpp := f.ProgWithVpp && !disableVpp
	// WE back at its idle level so raising VPP cannot start a program cycle.
	if err := x.b.SetWE(f.PgmPositive); err != nil {
		return err
	}
	if vpp {
		if err := first(x.vddOnVpp(false), x.b.RailCtrl(bus.VPP, true)); err != nil {
			return err
		}
	}
	if sendCmd {
		if err := x.sendCmd(x.cmd.write, true); err != nil {
			return err
		}
	}
	if err := first(x.dataSet(v), x.pulse(x.s.Twp)); err != nil {
		return err
	}
	var status error
	if sendCmd && x.cmd.status {
		status = x.checkStatus()
	}
	if vpp {
		if err := first(x.b.RailCtrl(bus.VPP, false), x.vddOnVpp(true)); err != nil {
			return err
		}
	}
	return status
}

// checkStatus reads the status byte left on the bus after a write or erase.
func (x *session) checkStatus() error {
	if err := x.b.SetOE(true); err != nil {
		return err
	}
	s, err := x.dataGet()
	if err := first(err, x.b.SetOE(false)); err != nil {
		return err
	}
	if s&0xFE != 0x80 {
		x.log.Debug("status", "addr", x.b.AddrGet(), "data", s)
		return fmt.Errorf("%w: 0x%02X", errStatus, s)
	}
	return nil
}

// sendCmd writes a command sequence. Steps without an address go to the
// cursor. Commands sent around a write keep VPP where it is.
func (x *session) sendCmd(steps []matcher.Step, disableVpp bool) error {
	for _, st := range steps {
		addr := st.Addr
		if addr == matcher.AnyAddress {
			addr = x.b.AddrGet()
		}
		if err := x.writeAt(addr, st.Data, disableVpp); err != nil {
			return err
		}
	}
	return nil
}

func (x *session) writeAt(addr uint32, v uint16, disableVpp bool) error {
	if err := x.b.AddrSet(addr); err != nil {
		return err
	}
	if err := x.writeUnit(v, disableVpp, false); err != nil {
		return err
	}
	x.b.UsDelay(micros(x.s.Twp))
	return nil
}

// verifyUnit reads back the cursor unit after the verify command, which also
// selects read mode. During programming, chips with PGM on CE get WE raised
// around the read.
func (x *session) verifyUnit(want uint16, fromProg bool) (uint16, bool, error) {
	if err := x.sendCmd(x.cmd.verify, true); err != nil {
		return 0, false, err
	}
	toggle := fromProg && x.s.Flags.PgmCePin
	if toggle {
		if err := x.b.SetWE(true); err != nil {
			return 0, false, err
		}
	}
	got, err := x.readUnit(false)
	if err != nil {
		return 0, false, err
	}
	if toggle {
		if err := x.b.SetWE(false); err != nil {
			return 0, false, err
		}
	}
	return got, got == want, nil
}

// tick runs once per unit: it honours Cancel, yields and reports progress
// every progressStep units.
func (x *session) tick(i uint32) error {
	if x.d.canceled.Load() {
		x.log.Info("canceled", "addr", i)
		return ErrCanceled
	}
	runtime.Gosched()
	x.current = i
	if i%progressStep == 0 {
		x.d.report(Progress{Phase: x.phase, Current: i, Total: x.total})
	}
	return nil
}

func (x *session) begin(phase Phase, total uint32) {
	x.phase, x.total, x.current = phase, total, 0
}

// unitCount is how many units of buf fit the chip.
func (x *session) unitCount(buf []byte) uint32 {
	n := uint32(len(buf))
	if x.s.Flags.Is16Bit {
		n /= 2
	}
	return min(n, x.s.Units())
}

func (x *session) unitAt(buf []byte, i uint32) uint16 {
	if x.s.Flags.Is16Bit {
		return uint16(buf[2*i])<<8 | uint16(buf[2*i+1])
	}
	return uint16(buf[i])
}

func (x *session) attempts() int {
	return max(x.s.MaxAttempts, 1)
}

// programBuffer writes buf unit by unit, or sector by sector when the chip
// has a sector size. While erasing, progress stays in the erase phase.
func (x *session) programBuffer(buf []byte, erasing bool) error {
	total := x.unitCount(buf)
	if !erasing {
		x.begin(PhaseProgram, total)
	}
	if x.s.SectorSize > 0 {
		return x.programSectors(buf, total)
	}
	if err := x.b.AddrClr(); err != nil {
		return err
	}
	blank := x.s.Blank()
	for i := uint32(0); i < total; i++ {
		if err := x.tick(i); err != nil {
			return err
		}
		if err := x.programUnit(i, x.unitAt(buf, i), blank); err != nil {
			return err
		}
		if err := x.b.AddrInc(); err != nil {
			return err
		}
	}
	x.current = total
	return nil
}

func (x *session) programUnit(addr uint32, want, blank uint16) error {
	skip := x.s.Flags.SkipFF && want == blank
	n := x.attempts()
	for attempt := 1; attempt <= n; attempt++ {
		if !skip {
			err := x.writeUnit(want, false, true)
			if err != nil && !errors.Is(err, errStatus) {
				return err
			}
			if err == nil {
				x.b.UsDelay(micros(x.s.Twc))
			}
		}
		got, ok, err := x.verifyUnit(want, true)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		x.log.Debug("program retry", "addr", addr, "data", want, "read", got, "attempt", attempt)
		if skip {
			return &AttemptsExhaustedError{Address: addr, Attempts: attempt}
		}
	}
	return &AttemptsExhaustedError{Address: addr, Attempts: n}
}

// programSectors writes a whole sector, waits one write cycle and verifies
// it, retrying the sector on mismatch.
func (x *session) programSectors(buf []byte, total uint32) error {
	size := uint32(x.s.SectorSize)
	if x.s.Flags.Is16Bit {
		size /= 2
	}
	n := x.attempts()
	for start := uint32(0); start < total; start += size {
		end := min(start+size, total)
		var bad *AttemptsExhaustedError
		for attempt := 1; attempt <= n; attempt++ {
			for i := start; i < end; i++ {
				if attempt == 1 {
					if err := x.tick(i); err != nil {
						return err
					}
				} else if x.d.canceled.Load() {
					return ErrCanceled
				}
				if err := x.writeAt(i, x.unitAt(buf, i), false); err != nil {
					return err
				}
			}
			x.b.UsDelay(micros(x.s.Twc))

			bad = nil
			for i := start; i < end; i++ {
				if err := x.b.AddrSet(i); err != nil {
					return err
				}
				got, ok, err := x.verifyUnit(x.unitAt(buf, i), true)
				if err != nil {
					return err
				}
				if !ok {
					x.log.Debug("sector retry", "addr", i, "read", got, "attempt", attempt)
					bad = &AttemptsExhaustedError{Address: i, Attempts: attempt}
					break
				}
			}
			if bad == nil {
				break
			}
		}
		if bad != nil {
			return bad
		}
	}
	x.current = total
	return nil
}

// scan reads units [0, total) in order and hands each to check.
func (x *session) scan(total uint32, check func(i uint32, v uint16) error) error {
	if err := x.b.AddrClr(); err != nil {
		return err
	}
	if err := x.sendCmd(x.cmd.read, true); err != nil {
		return err
	}
	for i := uint32(0); i < total; i++ {
		if err := x.tick(i); err != nil {
			return err
		}
		v, err := x.readUnit(false)
		if err != nil {
			return err
		}
		if err := check(i, v); err != nil {
			return err
		}
		if err := x.b.AddrInc(); err != nil {
			return err
		}
	}
	x.current = total
	return nil
}

func (x *session) verifyBuffer(buf []byte) error {
	total := x.unitCount(buf)
	x.begin(PhaseVerify, total)
	return x.scan(total, func(i uint32, v uint16) error {
		if want := x.unitAt(buf, i); v != want {
			return &VerifyMismatchError{Address: i, Expected: want, Actual: v}
		}
		return nil
	})
}

func (x *session) readAll() ([]byte, error) {
	total := x.s.Units()
	x.begin(PhaseRead, total)
	out := make([]byte, 0, x.s.Size)
	err := x.scan(total, func(_ uint32, v uint16) error {
		if x.s.Flags.Is16Bit {
			out = append(out, byte(v>>8))
		}
		out = append(out, byte(v))
		return nil
	})
	return out, err
}

func (x *session) blankCheck() error {
	x.begin(PhaseBlankCheck, x.s.Units())
	return x.blankScan()
}

func (x *session) blankScan() error {
	blank := x.s.Blank()
	return x.scan(x.s.Units(), func(i uint32, v uint16) error {
		if v != blank {
			return &VerifyMismatchError{Address: i, Expected: blank, Actual: v}
		}
		return nil
	})
}

func (x *session) eraseChip() error {
	x.begin(PhaseErase, x.s.Units())
	switch x.d.family.erase {
	case eraseFill:
		return x.programBuffer(PadBuffer(nil, int(x.s.Size)), true)
	case eraseCommand:
		// Flash erases reliably only from all zeroes.
		zero := make([]byte, x.s.Size)
		if err := x.programBuffer(zero, true); err != nil {
			return err
		}
		return x.eraseLoop(x.eraseCommand)
	case erasePulse:
		return x.eraseLoop(x.erasePulse)
	}
	return &UnsupportedOperationError{Family: x.d.family.Description, Op: "erase"}
}

// eraseLoop repeats erase and blank check with the erase rail on until the
// chip reads blank.
func (x *session) eraseLoop(erase func() error) error {
	vpp := x.d.Capabilities().VPP
	if vpp {
		if err := x.b.RailCtrl(bus.VPP, true); err != nil {
			return err
		}
	}
	var last error
	n := x.attempts()
	for attempt := 1; attempt <= n; attempt++ {
		if err := x.b.AddrClr(); err != nil {
			return err
		}
		err := erase()
		if err != nil && !errors.Is(err, errStatus) {
			return err
		}
		if err == nil {
			x.current = 0
			err = x.blankScan()
			var mismatch *VerifyMismatchError
			if err != nil && !errors.As(err, &mismatch) {
				return err
			}
			if err == nil {
				last = nil
				break
			}
		}
		x.log.Debug("erase retry", "attempt", attempt, "err", err)
		last = &AttemptsExhaustedError{Address: x.current, Attempts: attempt}
	}
	if vpp {
		if err := x.b.RailCtrl(bus.VPP, false); err != nil {
			return err
		}
	}
	return last
}

func (x *session) eraseCommand() error {
	if err := x.sendCmd(x.cmd.erase, true); err != nil {
		return err
	}
	if x.cmd.status {
		if err := x.checkStatus(); err != nil {
			return err
		}
	}
	x.b.MsDelay(10)
	return nil
}

// erasePulse bulk-erases an electrically erasable EPROM: all ones on the
// data bus, the programming rail on A9 and one long program pulse at
// address 0.
func (x *session) erasePulse() error {
	if err := first(x.b.DataSetW(0xFFFF), x.route(bus.PinA9, true)); err != nil {
		return err
	}
	if err := x.pulse(x.s.ErasePulse); err != nil {
		return err
	}
	x.b.UsDelay(micros(x.s.Twc))
	if err := x.route(bus.PinA9, false); err != nil {
		return err
	}
	if x.s.Flags.PgmCePin {
		return x.b.SetWE(true)
	}
	return nil
}

// getID reads the identification pair, then reads array data at idProbe
// in normal mode: a chip that returns the same pair there is not answering.
func (x *session) getID() (ID, error) {
	x.begin(PhaseGetID, 2)
	if err := x.setupBus(setupGetID); err != nil {
		return ID{}, err
	}
	if err := x.sendCmd(x.cmd.getID, false); err != nil {
		return ID{}, err
	}
	if err := x.b.AddrClr(); err != nil {
		return ID{}, err
	}
	mfr, err := x.dataGet()
	if err != nil {
		return ID{}, err
	}
	if err := x.b.AddrInc(); err != nil {
		return ID{}, err
	}
	dev, err := x.dataGet()
	if err != nil {
		return ID{}, err
	}

	if err := x.setupBus(setupRead); err != nil {
		return ID{}, err
	}
	if err := x.b.AddrSet(idProbe); err != nil {
		return ID{}, err
	}
	rd1, err := x.readUnit(true)
	if err != nil {
		return ID{}, err
	}
	if err := x.b.AddrSet(idProbe + 1); err != nil {
		return ID{}, err
	}
	rd2, err := x.readUnit(true)
	if err != nil {
		return ID{}, err
	}
	if err := x.setupBus(setupReset); err != nil {
		return ID{}, err
	}

	x.log.Debug("id", "manufacturer", mfr, "device", dev, "probe", []uint16{rd1, rd2})
	if (mfr == 0 && dev == 0) || (rd1 == mfr && rd2 == dev) {
		return ID{}, ErrNoID
	}
	x.current = 2
	return ID{Manufacturer: mfr, Device: dev}, nil
}

// sendProtection writes a software data protection sequence with CE held.
func (x *session) sendProtection(steps []matcher.Step) error {
	x.begin(x.phase, 1)
	if err := x.b.SetCE(true); err != nil {
		return err
	}
	if err := x.sendCmd(steps, false); err != nil {
		return err
	}
	x.b.UsDelay(micros(x.s.Twc))
	if err := x.b.SetCE(false); err != nil {
		return err
	}
	x.current = 1
	return nil
}

// selfTest exercises an SRAM: write and read back a checkerboard, verify the
// whole array, then the same with random data.
func (x *session) selfTest() error {
	units := x.s.Units()
	x.begin(PhaseProgram, units*4)
	if err := x.b.SetCE(true); err != nil {
		return err
	}
	x.b.MsDelay(30)

	patterns := [][]byte{PatternBuffer(int(x.s.Size), 0x55), RandomBuffer(x.d.rng, int(x.s.Size))}
	var base uint32
	for _, p := range patterns {
		if err := x.sramPass(p, base); err != nil {
			return err
		}
		base += 2 * units
	}
	x.current = x.total
	return nil
}

func (x *session) sramPass(p []byte, base uint32) error {
	units := x.s.Units()
	if err := x.b.AddrClr(); err != nil {
		return err
	}
	for i := uint32(0); i < units; i++ {
		if err := x.tick(base + i); err != nil {
			return err
		}
		want := x.unitAt(p, i)
		if err := first(x.dataSet(want), x.b.SetWE(true)); err != nil {
			return err
		}
		x.b.UsDelay(micros(x.s.Twp))
		if err := x.b.SetWE(false); err != nil {
			return err
		}
		x.b.UsDelay(micros(x.s.Twc))
		got, err := x.readUnit(false)
		if err != nil {
			return err
		}
		if got != want {
			return &VerifyMismatchError{Address: i, Expected: want, Actual: got}
		}
		if err := x.b.AddrInc(); err != nil {
			return err
		}
	}
	if err := x.b.AddrClr(); err != nil {
		return err
	}
	for i := uint32(0); i < units; i++ {
		if err := x.tick(base + units + i); err != nil {
			return err
		}
		got, err := x.readUnit(false)
		if err != nil {
			return err
		}
		if want := x.unitAt(p, i); got != want {
			return &VerifyMismatchError{Address: i, Expected: want, Actual: got}
		}
		if err := x.b.AddrInc(); err != nil {
			return err
		}
	}
	return nil
}
