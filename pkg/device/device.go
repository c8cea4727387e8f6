// Package device runs the programming algorithms for parallel memory chips:
// read, program, verify, erase, blank check, identification and software
// data protection. A Device owns one chip family and opens the programmer
// bus for each operation through a bus.Opener.
package device

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OpenTraceLab/OpenTraceFlash/pkg/bus"
)

// State is where a Device is in its operation lifecycle.
type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateRunning
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateInitializing:
		return "Initializing"
	case StateRunning:
		return "Running"
	case StateFinalizing:
		return "Finalizing"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the logger for operation and retry messages.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

// WithProgress registers the progress callback. It runs on the goroutine
// executing the operation.
func WithProgress(fn func(Progress)) Option {
	return func(d *Device) { d.onProgress = fn }
}

// WithCompletion registers a callback fired once at the end of every
// operation with the last unit address reached.
func WithCompletion(fn func(address uint32, success bool)) Option {
	return func(d *Device) { d.onComplete = fn }
}

// WithSeed fixes the random source of the SRAM self-test.
func WithSeed(seed uint64) Option {
	return func(d *Device) { d.rng = rand.New(rand.NewPCG(seed, seed>>1|1)) }
}

// WithName overrides the chip name reported by Info.
func WithName(name string) Option {
	return func(d *Device) { d.name = name }
}

// WithSettings replaces the family defaults.
func WithSettings(s Settings) Option {
	return func(d *Device) {
		d.settings, d.caps = d.family.Resize(s, s.Size)
	}
}

// Device runs operations against one chip. Operations are synchronous and
// one at a time; Cancel may be called from any goroutine.
type Device struct {
	family *Family
	opener bus.Opener
	log    *slog.Logger
	rng    *rand.Rand
	name   string

	onProgress func(Progress)
	onComplete func(address uint32, success bool)

	mu       sync.Mutex
	settings Settings
	caps     Capabilities
	err      error

	busy     atomic.Bool
	canceled atomic.Bool
	state    atomic.Int32
}

// New returns a Device for family f using the family defaults.
func New(f *Family, opener bus.Opener, opts ...Option) *Device {
	d := &Device{
		family: f,
		opener: opener,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5DEECE66D)),
	}
	d.settings, d.caps = f.Resize(f.defaults, f.defaults.Size)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Family returns the chip family.
func (d *Device) Family() *Family { return d.family }

// Info describes the chip at its current size.
func (d *Device) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	name := d.name
	if name == "" {
		name = d.family.ChipName(d.settings.Size)
	}
	return Info{Name: name, Bus: BusParallel, Capabilities: d.caps}
}

// Settings returns a copy of the current settings.
func (d *Device) Settings() Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// Capabilities returns what the chip supports at its current size.
func (d *Device) Capabilities() Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}

// SetSettings replaces the settings. Size-dependent fields are derived again
// from s.Size.
func (d *Device) SetSettings(s Settings) error {
	if d.busy.Load() {
		return ErrBusy
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settings, d.caps = d.family.Resize(s, s.Size)
	return nil
}

// SetSize changes the capacity in bytes and recomputes the capabilities.
func (d *Device) SetSize(size uint32) error {
	if d.busy.Load() {
		return ErrBusy
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settings, d.caps = d.family.Resize(d.settings, size)
	return nil
}

// State returns the lifecycle state.
func (d *Device) State() State { return State(d.state.Load()) }

// Cancel asks the running operation to stop at the next unit.
func (d *Device) Cancel() { d.canceled.Store(true) }

// Err returns the error of the last operation, nil if it succeeded.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Device) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *Device) unsupported(phase Phase, op string) bool {
	err := &UnsupportedOperationError{Family: d.family.Description, Op: op}
	d.setErr(err)
	d.log.Warn("unsupported operation", "op", op, "family", d.family.Key)
	d.finish(&session{phase: phase}, err)
	return false
}

// Program writes buf from address 0. Units past the end of buf are left
// alone. With verify a full verify pass follows. For SRAM, Program runs the
// memory self-test and buf is ignored.
func (d *Device) Program(buf []byte, verify bool) bool {
	caps := d.Capabilities()
	if !caps.Program {
		return d.unsupported(PhaseProgram, "program")
	}
	return d.run(PhaseProgram, setupProg, func(x *session) error {
		if d.family.program == programSelfTest {
			return x.selfTest()
		}
		if err := x.programBuffer(buf, false); err != nil {
			return err
		}
		if !verify {
			return nil
		}
		if err := x.setupBus(setupRead); err != nil {
			return err
		}
		return x.verifyBuffer(buf)
	}) == nil
}

// Verify compares the chip against buf.
func (d *Device) Verify(buf []byte) bool {
	if !d.Capabilities().Verify {
		return d.unsupported(PhaseVerify, "verify")
	}
	return d.run(PhaseVerify, setupRead, func(x *session) error {
		return x.verifyBuffer(buf)
	}) == nil
}

// Read returns the whole chip, 16-bit units as MSB,LSB.
func (d *Device) Read() ([]byte, bool) {
	if !d.Capabilities().Read {
		return nil, d.unsupported(PhaseRead, "read")
	}
	var out []byte
	err := d.run(PhaseRead, setupRead, func(x *session) error {
		var err error
		out, err = x.readAll()
		return err
	})
	if err != nil {
		return nil, false
	}
	return out, true
}

// Erase clears the chip. With check a blank check follows.
func (d *Device) Erase(check bool) bool {
	if !d.Capabilities().Erase {
		return d.unsupported(PhaseErase, "erase")
	}
	return d.run(PhaseErase, setupProg, func(x *session) error {
		if err := x.eraseChip(); err != nil {
			return err
		}
		if !check {
			return nil
		}
		if err := x.setupBus(setupRead); err != nil {
			return err
		}
		return x.blankCheck()
	}) == nil
}

// BlankCheck reports whether every unit is erased.
func (d *Device) BlankCheck() bool {
	if !d.Capabilities().BlankCheck {
		return d.unsupported(PhaseBlankCheck, "blank check")
	}
	return d.run(PhaseBlankCheck, setupRead, func(x *session) error {
		return x.blankCheck()
	}) == nil
}

// GetID reads the manufacturer and device codes.
func (d *Device) GetID() (ID, error) {
	if !d.Capabilities().GetID {
		d.unsupported(PhaseGetID, "get id")
		return ID{}, d.Err()
	}
	var id ID
	err := d.run(PhaseGetID, setupReset, func(x *session) error {
		var err error
		id, err = x.getID()
		return err
	})
	if err != nil {
		return ID{}, err
	}
	return id, nil
}

// Unprotect disables software data protection.
func (d *Device) Unprotect() bool {
	if !d.Capabilities().Unprotect {
		return d.unsupported(PhaseUnprotect, "unprotect")
	}
	return d.run(PhaseUnprotect, setupProg, func(x *session) error {
		return x.sendProtection(x.cmd.unprotect)
	}) == nil
}

// Protect enables software data protection.
func (d *Device) Protect() bool {
	if !d.Capabilities().Protect {
		return d.unsupported(PhaseProtect, "protect")
	}
	return d.run(PhaseProtect, setupProg, func(x *session) error {
		return x.sendProtection(x.cmd.protect)
	}) == nil
}

// run drives one operation through Initializing, Running and Finalizing.
// Finalizing always runs; the outcome is reported to the callbacks once. A
// call rejected as busy reports its own failure but leaves Err to the
// operation in progress.
func (d *Device) run(phase Phase, mode setup, body func(x *session) error) error {
	if !d.busy.CompareAndSwap(false, true) {
		d.log.Warn("operation rejected", "op", phase.String(), "err", ErrBusy)
		d.finish(&session{phase: phase}, ErrBusy)
		return ErrBusy
	}
	defer d.busy.Store(false)
	d.canceled.Store(false)

	s := d.Settings()
	x := &session{
		d:     d,
		s:     s,
		cmd:   commandSets[s.Algorithm],
		log:   d.log.With("op", phase.String()),
		phase: phase,
	}
	start := time.Now()
	x.log.Info("operation started", "chip", d.Info().Name, "size", s.Size)

	d.state.Store(int32(StateInitializing))
	err := x.open(mode, phase)
	if err == nil {
		d.state.Store(int32(StateRunning))
		err = body(x)
	}
	d.state.Store(int32(StateFinalizing))
	if cerr := x.close(); err == nil && cerr != nil {
		err = cerr
	}
	d.state.Store(int32(StateIdle))

	err = classify(phase.String(), err)
	d.setErr(err)
	d.finish(x, err)
	if err != nil {
		x.log.Warn("operation failed", "err", err, "elapsed", time.Since(start))
	} else {
		x.log.Info("operation finished", "elapsed", time.Since(start))
	}
	return err
}

func (d *Device) finish(x *session, err error) {
	p := Progress{
		Phase:   x.phase,
		Current: x.current,
		Total:   x.total,
		Done:    true,
		Success: err == nil,
		Address: x.current,
	}
	if err != nil {
		p.Reason = err.Error()
		p.Canceled = errors.Is(err, ErrCanceled)
		if addr, ok := failureAddress(err); ok {
			p.Address = addr
		}
	} else {
		p.Current = p.Total
	}
	if d.onProgress != nil {
		d.onProgress(p)
	}
	if d.onComplete != nil {
		d.onComplete(p.Address, p.Success)
	}
}

func (d *Device) report(p Progress) {
	if d.onProgress != nil {
		d.onProgress(p)
	}
}
