package bus

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/OpenTraceLab/OpenTraceFlash/pkg/protocol"
)

// Blank values returned for reads beyond the configured size.
const (
	FillByte = 0xFF
	FillWord = 0xFFFF
)

type railOpcodes struct {
	ctrl, setV, getV, getDuty, getCal, initCal, saveCal protocol.Opcode
}

var railTable = map[Rail]railOpcodes{
	VDD: {protocol.OpVddCtrl, protocol.OpVddSetV, protocol.OpVddGetV, protocol.OpVddGetDuty,
		protocol.OpVddGetCal, protocol.OpVddInitCal, protocol.OpVddSaveCal},
	VPP: {protocol.OpVppCtrl, protocol.OpVppSetV, protocol.OpVppGetV, protocol.OpVppGetDuty,
		protocol.OpVppGetCal, protocol.OpVppInitCal, protocol.OpVppSaveCal},
}

type route struct {
	rail Rail
	pin  Pin
}

var routeTable = map[route]protocol.Opcode{
	{VPP, PinA9}:  protocol.OpVppOnA9,
	{VPP, PinA18}: protocol.OpVppOnA18,
	{VPP, PinCE}:  protocol.OpVppOnCE,
	{VPP, PinOE}:  protocol.OpVppOnOE,
	{VPP, PinWE}:  protocol.OpVppOnWE,
	{VDD, PinVPP}: protocol.OpVddOnVpp,
}

// line caches the last value driven onto a control line.
type line struct {
	on    bool
	known bool
}

func (l *line) same(on bool) bool {
	return l.known && l.on == on
}

func (l *line) set(on bool) {
	l.on, l.known = on, true
}

// Option configures a Remote.
type Option func(*Remote)

// WithLogger sets the logger used for bus traffic at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(r *Remote) {
		if l != nil {
			r.log = l
		}
	}
}

// WithSleep replaces the function used by UsDelay and MsDelay.
func WithSleep(sleep func(time.Duration)) Option {
	return func(r *Remote) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithSize sets the initial number of addressable units.
func WithSize(units uint32) Option {
	return func(r *Remote) {
		r.size = units
	}
}

// Remote implements Primitives over a protocol.Client.
type Remote struct {
	client *protocol.Client
	log    *slog.Logger
	sleep  func(time.Duration)

	size uint32

	ce, oe, we line

	addr      uint32
	addrKnown bool
	data      uint16
	dataKnown bool

	err    error
	closed bool
}

// NewRemote wraps client. The size defaults to the full address register.
func NewRemote(client *protocol.Client, opts ...Option) *Remote {
	r := &Remote{
		client: client,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		sleep:  time.Sleep,
		size:   MaxAddress + 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// send runs one request unless a previous call already failed.
func (r *Remote) send(op protocol.Opcode, params ...byte) ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if r.err != nil {
		return nil, r.err
	}
	res, err := r.client.Send(op, params...)
	if err != nil {
		r.err = err
		r.log.Debug("bus request failed", "op", op.String(), "err", err)
		return nil, err
	}
	return res, nil
}

func (r *Remote) fail(err error) error {
	if r.err == nil {
		r.err = err
	}
	return err
}

func (r *Remote) setLine(l *line, op protocol.Opcode, on bool) error {
	if r.err != nil {
		return r.err
	}
	if l.same(on) {
		return nil
	}
	if _, err := r.send(op, protocol.EncodeBool(on)); err != nil {
		return err
	}
	l.set(on)
	r.log.Debug("bus", "op", op.String(), "on", on)
	return nil
}

func (r *Remote) SetCE(on bool) error { return r.setLine(&r.ce, protocol.OpBusCE, on) }
func (r *Remote) SetOE(on bool) error { return r.setLine(&r.oe, protocol.OpBusOE, on) }
func (r *Remote) SetWE(on bool) error { return r.setLine(&r.we, protocol.OpBusWE, on) }

func (r *Remote) AddrClr() error {
	if r.err != nil {
		return r.err
	}
	if r.addrKnown && r.addr == 0 {
		return nil
	}
	if _, err := r.send(protocol.OpAddrClr); err != nil {
		return err
	}
	r.addr, r.addrKnown = 0, true
	r.log.Debug("bus", "op", "AddrClr")
	return nil
}

// AddrInc advances the cursor. Moving one past the last unit is allowed so
// sequential loops can end on an increment; going further is a RangeError.
func (r *Remote) AddrInc() error {
	if r.err != nil {
		return r.err
	}
	if r.addr >= r.size || r.addr >= MaxAddress {
		return r.fail(&RangeError{Address: r.addr + 1, Limit: r.size})
	}
	if _, err := r.send(protocol.OpAddrInc); err != nil {
		return err
	}
	r.addr++
	return nil
}

// AddrSet loads addr using the shortest opcode that holds it.
func (r *Remote) AddrSet(addr uint32) error {
	if r.err != nil {
		return r.err
	}
	if addr > MaxAddress {
		return r.fail(&RangeError{Address: addr, Limit: MaxAddress + 1})
	}
	if r.addrKnown && r.addr == addr {
		return nil
	}
	var err error
	switch {
	case addr <= 0xFF:
		_, err = r.send(protocol.OpAddrSetB, byte(addr))
	case addr <= 0xFFFF:
		_, err = r.send(protocol.OpAddrSetW, protocol.EncodeWord(uint16(addr))...)
	default:
		_, err = r.send(protocol.OpAddrSet, protocol.EncodeAddress(addr)...)
	}
	if err != nil {
		return err
	}
	r.addr, r.addrKnown = addr, true
	r.log.Debug("bus", "op", "AddrSet", "addr", addr)
	return nil
}

// AddrGet returns the cursor as last driven onto the address register.
func (r *Remote) AddrGet() uint32 {
	return r.addr
}

func (r *Remote) outOfRange() bool {
	return r.addr >= r.size
}

func (r *Remote) DataClr() error {
	if r.err != nil {
		return r.err
	}
	if r.dataKnown && r.data == 0 {
		return nil
	}
	if _, err := r.send(protocol.OpDataClr); err != nil {
		return err
	}
	r.data, r.dataKnown = 0, true
	return nil
}

func (r *Remote) DataSet(b byte) error {
	if r.err != nil {
		return r.err
	}
	if r.outOfRange() {
		r.log.Debug("bus write past end dropped", "addr", r.addr, "data", b)
		return nil
	}
	if r.dataKnown && r.data == uint16(b) {
		return nil
	}
	if _, err := r.send(protocol.OpDataSet, b); err != nil {
		return err
	}
	r.data, r.dataKnown = uint16(b), true
	r.log.Debug("bus", "op", "DataSet", "addr", r.addr, "data", b)
	return nil
}

func (r *Remote) DataSetW(w uint16) error {
	if r.err != nil {
		return r.err
	}
	if r.outOfRange() {
		r.log.Debug("bus write past end dropped", "addr", r.addr, "data", w)
		return nil
	}
	if r.dataKnown && r.data == w {
		return nil
	}
	if _, err := r.send(protocol.OpDataSetW, protocol.EncodeWord(w)...); err != nil {
		return err
	}
	r.data, r.dataKnown = w, true
	r.log.Debug("bus", "op", "DataSetW", "addr", r.addr, "data", w)
	return nil
}

func (r *Remote) DataGet() (byte, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.outOfRange() {
		return FillByte, nil
	}
	res, err := r.send(protocol.OpDataGet)
	if err != nil {
		return 0, err
	}
	return res[0], nil
}

func (r *Remote) DataGetW() (uint16, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.outOfRange() {
		return FillWord, nil
	}
	res, err := r.send(protocol.OpDataGetW)
	if err != nil {
		return 0, err
	}
	return protocol.DecodeWord(res), nil
}

func (r *Remote) rail(rl Rail) (railOpcodes, error) {
	ops, ok := railTable[rl]
	if !ok {
		return railOpcodes{}, r.fail(ErrNoRoute)
	}
	return ops, nil
}

func (r *Remote) RailCtrl(rl Rail, on bool) error {
	ops, err := r.rail(rl)
	if err != nil {
		return err
	}
	if _, err := r.send(ops.ctrl, protocol.EncodeBool(on)); err != nil {
		return err
	}
	r.log.Debug("bus", "op", ops.ctrl.String(), "rail", rl.String(), "on", on)
	return nil
}

func (r *Remote) RailSetV(rl Rail, v physic.ElectricPotential) error {
	ops, err := r.rail(rl)
	if err != nil {
		return err
	}
	param, err := protocol.EncodeVoltage(v)
	if err != nil {
		return r.fail(err)
	}
	if _, err := r.send(ops.setV, param...); err != nil {
		return err
	}
	r.log.Debug("bus", "op", ops.setV.String(), "rail", rl.String(), "volts", v.String())
	return nil
}

func (r *Remote) RailGetV(rl Rail) (physic.ElectricPotential, error) {
	ops, err := r.rail(rl)
	if err != nil {
		return 0, err
	}
	res, err := r.send(ops.getV)
	if err != nil {
		return 0, err
	}
	return protocol.DecodeVoltage(res), nil
}

func (r *Remote) RailGetDuty(rl Rail) (float64, error) {
	ops, err := r.rail(rl)
	if err != nil {
		return 0, err
	}
	res, err := r.send(ops.getDuty)
	if err != nil {
		return 0, err
	}
	return protocol.DecodeFloat(res), nil
}

func (r *Remote) RailGetCalibration(rl Rail) (float64, error) {
	ops, err := r.rail(rl)
	if err != nil {
		return 0, err
	}
	res, err := r.send(ops.getCal)
	if err != nil {
		return 0, err
	}
	return protocol.DecodeFloat(res), nil
}

func (r *Remote) RailInitCalibration(rl Rail) error {
	ops, err := r.rail(rl)
	if err != nil {
		return err
	}
	_, err = r.send(ops.initCal)
	return err
}

func (r *Remote) RailSaveCalibration(rl Rail, cal float64) error {
	ops, err := r.rail(rl)
	if err != nil {
		return err
	}
	_, err = r.send(ops.saveCal, protocol.EncodeFloat(cal)...)
	return err
}

func (r *Remote) RailOnPin(rl Rail, p Pin, on bool) error {
	op, ok := routeTable[route{rl, p}]
	if !ok {
		return r.fail(ErrNoRoute)
	}
	if _, err := r.send(op, protocol.EncodeBool(on)); err != nil {
		return err
	}
	r.log.Debug("bus", "op", op.String(), "on", on)
	return nil
}

func (r *Remote) UsDelay(us uint32) {
	if us > 0 {
		r.sleep(time.Duration(us) * time.Microsecond)
	}
}

func (r *Remote) MsDelay(ms uint32) {
	if ms > 0 {
		r.sleep(time.Duration(ms) * time.Millisecond)
	}
}

func (r *Remote) SetSize(units uint32) {
	r.size = units
}

// Err returns the sticky error, if any.
func (r *Remote) Err() error {
	return r.err
}

// Close closes the underlying client. It is safe to call more than once.
func (r *Remote) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.ce, r.oe, r.we = line{}, line{}, line{}
	r.addrKnown, r.dataKnown = false, false
	if err := r.client.Close(); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}
