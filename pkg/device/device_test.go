package device

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/OpenTraceLab/OpenTraceFlash/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceFlash/pkg/chip"
	"github.com/OpenTraceLab/OpenTraceFlash/pkg/protocol"
	"github.com/OpenTraceLab/OpenTraceFlash/pkg/sim"
)

// rig is a device wired to a simulated programmer through the wire codec.
type rig struct {
	board  *sim.Board
	dev    *Device
	opens  int
	events []Progress
	done   int
}

func newRig(t *testing.T, f *Family, size uint32, c chip.Chip, opts ...Option) *rig {
	t.Helper()
	r := &rig{board: sim.NewBoard(c)}
	opener := bus.OpenerFunc(func() (bus.Primitives, error) {
		r.opens++
		client := protocol.NewClient(r.board, protocol.StatusCurrent)
		client.SetTimeout(time.Second)
		return bus.NewRemote(client, bus.WithSleep(func(time.Duration) {})), nil
	})
	opts = append([]Option{
		WithSeed(7),
		WithProgress(func(p Progress) { r.events = append(r.events, p) }),
		WithCompletion(func(uint32, bool) { r.done++ }),
	}, opts...)
	r.dev = New(f, opener, opts...)
	if err := r.dev.SetSize(size); err != nil {
		t.Fatalf("SetSize(0x%X) error = %v", size, err)
	}
	return r
}

func (r *rig) last() Progress {
	if len(r.events) == 0 {
		return Progress{}
	}
	return r.events[len(r.events)-1]
}

func newChip(t *testing.T, kind string, units uint32, opts ...chip.Option) chip.Chip {
	t.Helper()
	c, err := sim.NewChip(kind, units, append([]chip.Option{chip.WithSeed(1)}, opts...)...)
	if err != nil {
		t.Fatalf("NewChip(%q) error = %v", kind, err)
	}
	return c
}

func randomBytes(n int, seed uint64) []byte {
	return RandomBuffer(rand.New(rand.NewPCG(seed, seed+1)), n)
}

type familyCase struct {
	name string
	fam  *Family
	kind string
	size uint32 // bytes
	data int    // bytes programmed
}

func (c familyCase) units() uint32 {
	if c.fam.defaults.Flags.Is16Bit {
		return c.size / 2
	}
	return c.size
}

var roundTripCases = []familyCase{
	{"27C16", EPROM27C, "eprom", 0x800, 0x800},
	{"27C32", EPROM27C, "eprom", 0x1000, 0x1000},
	{"27C64", EPROM27C, "eprom", 0x2000, 0x2000},
	{"27C256", EPROM27C, "eprom", 0x8000, 0x400},
	{"2764", EPROM27, "eprom", 0x2000, 0x1000},
	{"27C1024", EPROM27C16, "eprom16", 0x1000, 0x1000},
	{"W27E257", EPROM27E, "eprom-e", 0x8000, 0x400},
	{"28C64", EEPROM28C, "eeprom", 0x2000, 0x2000},
	{"AT28C256", EEPROMAT28C, "eeprom", 0x8000, 0x300},
	{"28F", Flash28F, "28f", 0x2000, 0x2000},
	{"Am28F", FlashAm28F, "am28f", 0x2000, 0x2000},
	{"SST28SF", FlashSST28SF, "sst28sf", 0x2000, 0x2000},
	{"i28F", FlashI28F, "i28f", 0x2000, 0x2000},
	{"LH28F", FlashSharpI28F, "i28f", 0x2000, 0x2000},
	{"i28F16", FlashI28F16, "i28f16", 0x2000, 0x2000},
}

func TestProgramReadRoundTrip(t *testing.T) {
	for i, tc := range roundTripCases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t, tc.fam, tc.size, newChip(t, tc.kind, tc.units()))
			buf := randomBytes(tc.data, uint64(i))

			if !r.dev.Program(buf, true) {
				t.Fatalf("Program() = false, err %v", r.dev.Err())
			}
			got, ok := r.dev.Read()
			if !ok {
				t.Fatalf("Read() = false, err %v", r.dev.Err())
			}
			want := PadBuffer(buf, int(tc.size))
			if !bytes.Equal(got, want) {
				for j := range want {
					if got[j] != want[j] {
						t.Fatalf("Read()[0x%X] = 0x%02X, want 0x%02X", j, got[j], want[j])
					}
				}
			}
			if !r.dev.Verify(buf) {
				t.Fatalf("Verify() after Program = false, err %v", r.dev.Err())
			}
			if !r.dev.Program(buf, true) {
				t.Errorf("second Program() = false, err %v", r.dev.Err())
			}
			if r.done != 4 {
				t.Errorf("completion callbacks = %d, want 4", r.done)
			}
			if r.board.Closes() != 4 {
				t.Errorf("bus closes = %d, want 4", r.board.Closes())
			}
		})
	}
}

func TestProgramSkipsBlankUnits(t *testing.T) {
	written := map[uint32]int{}
	c := newChip(t, "eprom", 0x2000, chip.WithWriteHook(func(addr uint32, _ uint16) { written[addr]++ }))
	r := newRig(t, EPROM27C, 0x2000, c)

	buf := PadBuffer([]byte{0x12, 0xFF, 0x34, 0xFF, 0xFF, 0x56}, 0x100)
	if !r.dev.Program(buf, false) {
		t.Fatalf("Program() = false, err %v", r.dev.Err())
	}
	for addr, b := range buf {
		n := written[uint32(addr)]
		if b == 0xFF && n != 0 {
			t.Errorf("blank unit 0x%X written %d times", addr, n)
		}
		if b != 0xFF && n != 1 {
			t.Errorf("unit 0x%X written %d times, want 1", addr, n)
		}
	}
}

func TestProgramExhaustsAttempts(t *testing.T) {
	c := newChip(t, "eprom", 0x2000)
	mem := PadBuffer(nil, 0x2000)
	mem[0x42] = 0x0F
	c.Load(mem)

	var completed []bool
	var at uint32
	r := newRig(t, EPROM27C, 0x2000, c, WithCompletion(func(addr uint32, ok bool) {
		completed = append(completed, ok)
		at = addr
	}))
	buf := PadBuffer(nil, 0x80)
	buf[0x10] = 0x00
	buf[0x42] = 0xF0

	if r.dev.Program(buf, false) {
		t.Fatal("Program() over programmed cells = true, want false")
	}
	var aerr *AttemptsExhaustedError
	if !errors.As(r.dev.Err(), &aerr) {
		t.Fatalf("Err() = %v, want *AttemptsExhaustedError", r.dev.Err())
	}
	if aerr.Address != 0x42 || aerr.Attempts != 25 {
		t.Errorf("AttemptsExhaustedError = %+v, want address 0x42 after 25 attempts", aerr)
	}
	last := r.last()
	if !last.Done || last.Success || last.Address != 0x42 || last.Reason == "" {
		t.Errorf("final progress = %+v", last)
	}
	if len(completed) != 1 || completed[0] || at != 0x42 {
		t.Errorf("completion = %v at 0x%X, want one failure at 0x42", completed, at)
	}
	if got := c.Bytes()[0x10]; got != 0x00 {
		t.Errorf("unit before the failure = 0x%02X, want it left programmed", got)
	}
}

func TestVerifyMismatch(t *testing.T) {
	c := newChip(t, "28f", 0x100)
	r := newRig(t, Flash28F, 0x100, c)
	buf := PadBuffer(nil, 0x100)
	buf[0x80] = 0x00

	if r.dev.Verify(buf) {
		t.Fatal("Verify() against a blank chip = true")
	}
	var verr *VerifyMismatchError
	if !errors.As(r.dev.Err(), &verr) {
		t.Fatalf("Err() = %v, want *VerifyMismatchError", r.dev.Err())
	}
	if verr.Address != 0x80 || verr.Expected != 0x00 || verr.Actual != 0xFF {
		t.Errorf("VerifyMismatchError = %+v", verr)
	}
}

func TestSRAMSelfTest(t *testing.T) {
	r := newRig(t, SRAM, 2048, newChip(t, "sram", 2048))
	if !r.dev.Program(nil, false) {
		t.Fatalf("Program() = false, err %v", r.dev.Err())
	}
	last := r.last()
	if !last.Done || !last.Success || last.Total != 4*2048 || last.Current != last.Total {
		t.Errorf("final progress = %+v", last)
	}
	if last.Percent() != 100 {
		t.Errorf("Percent() = %v, want 100", last.Percent())
	}
}

func TestEEPROMProtection(t *testing.T) {
	c := newChip(t, "eeprom", 0x2000)
	r := newRig(t, EEPROM28C, 0x2000, c)
	buf := randomBytes(0x40, 3)

	if !r.dev.Protect() {
		t.Fatalf("Protect() = false, err %v", r.dev.Err())
	}
	if !c.(*chip.EEPROM).Protected() {
		t.Fatal("chip not protected after Protect()")
	}
	if r.dev.Program(buf, false) {
		t.Fatal("Program() on a protected chip = true")
	}
	var aerr *AttemptsExhaustedError
	if !errors.As(r.dev.Err(), &aerr) || aerr.Address != 0 || aerr.Attempts != 3 {
		t.Fatalf("Err() = %v, want exhausted at 0 after 3 attempts", r.dev.Err())
	}

	if !r.dev.Unprotect() {
		t.Fatalf("Unprotect() = false, err %v", r.dev.Err())
	}
	if c.(*chip.EEPROM).Protected() {
		t.Fatal("chip still protected after Unprotect()")
	}
	if !r.dev.Program(buf, true) {
		t.Fatalf("Program() after Unprotect = false, err %v", r.dev.Err())
	}
}

func TestEEPROM28C256Protection(t *testing.T) {
	c := newChip(t, "eeprom", 0x8000)
	r := newRig(t, EEPROMAT28C, 0x8000, c)
	if r.dev.Settings().Algorithm != AlgorithmEEPROM28C256 {
		t.Fatalf("Algorithm = %v", r.dev.Settings().Algorithm)
	}
	if !r.dev.Protect() || !c.(*chip.EEPROM).Protected() {
		t.Fatalf("Protect() failed, err %v", r.dev.Err())
	}
	if !r.dev.Unprotect() || c.(*chip.EEPROM).Protected() {
		t.Fatalf("Unprotect() failed, err %v", r.dev.Err())
	}
}

func TestEraseAndBlankCheck(t *testing.T) {
	cases := []familyCase{
		{"28F", Flash28F, "28f", 0x800, 0x800},
		{"Am28F", FlashAm28F, "am28f", 0x800, 0x800},
		{"SST28SF", FlashSST28SF, "sst28sf", 0x2000, 0x800},
		{"i28F", FlashI28F, "i28f", 0x800, 0x800},
		{"i28F16", FlashI28F16, "i28f16", 0x1000, 0x1000},
		{"W27E257", EPROM27E, "eprom-e", 0x8000, 0x200},
		{"28C64", EEPROM28C, "eeprom", 0x2000, 0x400},
		{"AT28C256", EEPROMAT28C, "eeprom", 0x8000, 0x200},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t, tc.fam, tc.size, newChip(t, tc.kind, tc.units()))
			buf := randomBytes(tc.data, uint64(100+i))
			buf[0] = 0x00
			if !r.dev.Program(buf, false) {
				t.Fatalf("Program() = false, err %v", r.dev.Err())
			}
			if r.dev.BlankCheck() {
				t.Fatal("BlankCheck() on a programmed chip = true")
			}
			if !r.dev.Erase(true) {
				t.Fatalf("Erase(true) = false, err %v", r.dev.Err())
			}
			if !r.dev.BlankCheck() {
				t.Fatalf("BlankCheck() after Erase = false, err %v", r.dev.Err())
			}
			got, ok := r.dev.Read()
			if !ok || !bytes.Equal(got, PadBuffer(nil, int(tc.size))) {
				t.Errorf("Read() after Erase not blank (ok=%v)", ok)
			}
		})
	}
}

func TestGetID(t *testing.T) {
	tests := []struct {
		name string
		fam  *Family
		kind string
		size uint32
		opts []chip.Option
		want ID
	}{
		{"27C256", EPROM27C, "eprom", 0x8000, nil, ID{0x20, 0x8C}},
		{"27C64", EPROM27C, "eprom", 0x2000, []chip.Option{chip.WithID(0x1C, 0x08)}, ID{0x1C, 0x08}},
		{"27C1024", EPROM27C16, "eprom16", 0x1000, nil, ID{0x20, 0x8C}},
		{"28F", Flash28F, "28f", 0x800, nil, ID{0x20, 0xA8}},
		{"Am28F", FlashAm28F, "am28f", 0x800, nil, ID{0x01, 0xA2}},
		{"SST28SF", FlashSST28SF, "sst28sf", 0x2000, nil, ID{0xBF, 0x04}},
		{"i28F", FlashI28F, "i28f", 0x800, nil, ID{0x89, 0x94}},
		{"i28F16", FlashI28F16, "i28f16", 0x1000, nil, ID{0x0089, 0x8894}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			units := tt.size
			if tt.fam.defaults.Flags.Is16Bit {
				units /= 2
			}
			r := newRig(t, tt.fam, tt.size, newChip(t, tt.kind, units, tt.opts...))
			got, err := r.dev.GetID()
			if err != nil {
				t.Fatalf("GetID() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("GetID() = %v, want %v", got, tt.want)
			}
			if r.board.Routed(bus.PinA9) {
				t.Error("VPP left on A9 after GetID")
			}
		})
	}
}

func TestGetIDNoAnswer(t *testing.T) {
	r := newRig(t, EPROM27C, 0x2000, newChip(t, "eprom", 0x2000, chip.WithID(0, 0)))
	if _, err := r.dev.GetID(); !errors.Is(err, ErrNoID) {
		t.Errorf("GetID() error = %v, want ErrNoID", err)
	}
}

func TestUnsupportedOperations(t *testing.T) {
	tests := []struct {
		name string
		fam  *Family
		size uint32
		op   func(d *Device) bool
	}{
		{"SRAM erase", SRAM, 2048, func(d *Device) bool { return d.Erase(false) }},
		{"SRAM blank check", SRAM, 2048, func(d *Device) bool { return d.BlankCheck() }},
		{"SRAM protect", SRAM, 2048, func(d *Device) bool { return d.Protect() }},
		{"EPROM erase", EPROM27C, 0x8000, func(d *Device) bool { return d.Erase(true) }},
		{"EPROM unprotect", EPROM27C, 0x8000, func(d *Device) bool { return d.Unprotect() }},
		{"small EEPROM protect", EEPROM28C, 0x800, func(d *Device) bool { return d.Protect() }},
		{"EEPROM get id", EEPROM28C, 0x2000, func(d *Device) bool {
			_, err := d.GetID()
			return err == nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, tt.fam, tt.size, newChip(t, "sram", tt.size))
			if tt.op(r.dev) {
				t.Fatal("operation succeeded, want unsupported")
			}
			var uerr *UnsupportedOperationError
			if !errors.As(r.dev.Err(), &uerr) {
				t.Errorf("Err() = %v, want *UnsupportedOperationError", r.dev.Err())
			}
			if r.opens != 0 {
				t.Errorf("bus opened %d times for an unsupported operation", r.opens)
			}
			if len(r.events) != 1 || r.done != 1 {
				t.Fatalf("events = %d, completions = %d, want 1 and 1", len(r.events), r.done)
			}
			last := r.last()
			if !last.Done || last.Success || last.Reason != uerr.Error() {
				t.Errorf("final progress = %+v, want failure carrying %q", last, uerr.Error())
			}
		})
	}
}

func TestCancel(t *testing.T) {
	var r *rig
	r = newRig(t, EPROM27C, 0x2000, newChip(t, "eprom", 0x2000), WithProgress(func(p Progress) {
		r.events = append(r.events, p)
		if p.Current >= 0x200 && !p.Done {
			r.dev.Cancel()
		}
	}))
	if r.dev.Program(randomBytes(0x2000, 9), false) {
		t.Fatal("Program() = true after Cancel")
	}
	if !errors.Is(r.dev.Err(), ErrCanceled) {
		t.Fatalf("Err() = %v, want ErrCanceled", r.dev.Err())
	}
	last := r.last()
	if !last.Done || !last.Canceled || last.Success || last.Address != 0x200 {
		t.Errorf("final progress = %+v", last)
	}
	if r.dev.State() != StateIdle {
		t.Errorf("State() = %v, want Idle", r.dev.State())
	}
	if vdd, vpp := r.board.Rails(); vdd || vpp {
		t.Errorf("rails after cancel: VDD %v VPP %v, want both off", vdd, vpp)
	}
	if r.board.Closes() != 1 {
		t.Errorf("closes = %d, want 1", r.board.Closes())
	}

	if _, ok := r.dev.Read(); !ok {
		t.Errorf("Read() after a canceled operation = false, err %v", r.dev.Err())
	}
}

func TestTransportTimeout(t *testing.T) {
	c := newChip(t, "eprom", 0x2000)
	r := newRig(t, EPROM27C, 0x2000, c)
	reads := 0
	r.board.OnRequest = func(op protocol.Opcode, _ []byte) error {
		if op == protocol.OpDataGet {
			reads++
			if reads > 5 {
				return sim.ErrNoResponse
			}
		}
		return nil
	}
	r.dev.opener = bus.OpenerFunc(func() (bus.Primitives, error) {
		client := protocol.NewClient(r.board, protocol.StatusCurrent)
		client.SetTimeout(20 * time.Millisecond)
		return bus.NewRemote(client, bus.WithSleep(func(time.Duration) {})), nil
	})

	start := time.Now()
	if _, ok := r.dev.Read(); ok {
		t.Fatal("Read() = true with a hung programmer")
	}
	var terr *TransportError
	if !errors.As(r.dev.Err(), &terr) || !errors.Is(r.dev.Err(), protocol.ErrTimeout) {
		t.Fatalf("Err() = %v, want TransportError wrapping ErrTimeout", r.dev.Err())
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout took %v", time.Since(start))
	}
	if r.last().Address != 5 {
		t.Errorf("final progress address = 0x%X, want 5", r.last().Address)
	}
	if r.board.Closes() != 1 || r.dev.State() != StateIdle {
		t.Errorf("closes = %d state %v, want 1 Idle", r.board.Closes(), r.dev.State())
	}
}

func TestBusyRejectsReentry(t *testing.T) {
	var r *rig
	var nested bool
	var sizeErr error
	var rejected []Progress
	r = newRig(t, Flash28F, 0x400, newChip(t, "28f", 0x400), WithProgress(func(p Progress) {
		if p.Done && p.Reason == ErrBusy.Error() {
			rejected = append(rejected, p)
			return
		}
		r.events = append(r.events, p)
		if p.Current == 0x100 && !p.Done {
			_, nested = r.dev.Read()
			sizeErr = r.dev.SetSize(0x800)
		}
	}))
	if _, ok := r.dev.Read(); !ok {
		t.Fatalf("Read() = false, err %v", r.dev.Err())
	}
	if nested {
		t.Error("nested Read() = true, want rejected")
	}
	if len(rejected) != 1 || rejected[0].Phase != PhaseRead || rejected[0].Success {
		t.Errorf("rejection events = %+v, want one failed read event", rejected)
	}
	if r.done != 2 {
		t.Errorf("completions = %d, want 2 (rejected and outer)", r.done)
	}
	if err := r.dev.Err(); err != nil {
		t.Errorf("Err() = %v, want the outer Read's nil", err)
	}
	if last := r.last(); !last.Done || !last.Success {
		t.Errorf("outer final progress = %+v", last)
	}
	if !errors.Is(sizeErr, ErrBusy) {
		t.Errorf("SetSize() while running = %v, want ErrBusy", sizeErr)
	}
	if r.dev.Settings().Size != 0x400 {
		t.Errorf("Size = 0x%X, want unchanged 0x400", r.dev.Settings().Size)
	}
}

func TestVerifyIsRepeatable(t *testing.T) {
	data := randomBytes(0x800, 21)
	mismatch := append([]byte(nil), data...)
	mismatch[0x42] ^= 0xFF

	tests := []struct {
		name string
		buf  []byte
		want bool
	}{
		{"match", data, true},
		{"mismatch", mismatch, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newChip(t, "eeprom", 0x800)
			c.Load(data)
			r := newRig(t, EEPROM28C, 0x800, c)

			var errs [2]error
			for i := range errs {
				if got := r.dev.Verify(tt.buf); got != tt.want {
					t.Fatalf("Verify() #%d = %v, want %v", i+1, got, tt.want)
				}
				errs[i] = r.dev.Err()
			}
			if tt.want {
				return
			}
			var first, second *VerifyMismatchError
			if !errors.As(errs[0], &first) || !errors.As(errs[1], &second) {
				t.Fatalf("errors = %v, %v, want *VerifyMismatchError", errs[0], errs[1])
			}
			if *first != *second || first.Address != 0x42 {
				t.Errorf("mismatches = %+v, %+v, want both at 0x42", first, second)
			}
			if !bytes.Equal(c.Bytes(), data) {
				t.Error("Verify() changed the chip contents")
			}
		})
	}
}

func TestProgressEvents(t *testing.T) {
	r := newRig(t, Flash28F, 0x400, newChip(t, "28f", 0x400))
	if _, ok := r.dev.Read(); !ok {
		t.Fatalf("Read() = false, err %v", r.dev.Err())
	}
	var got []uint32
	for _, p := range r.events {
		if p.Phase != PhaseRead {
			t.Errorf("event phase = %v, want read", p.Phase)
		}
		got = append(got, p.Current)
	}
	want := []uint32{0, 0x100, 0x200, 0x300, 0x400}
	if len(got) != len(want) {
		t.Fatalf("progress = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d Current = 0x%X, want 0x%X", i, got[i], want[i])
		}
	}
	if last := r.last(); !last.Done || !last.Success || last.Percent() != 100 {
		t.Errorf("final progress = %+v", last)
	}
}

func TestClassify(t *testing.T) {
	cause := errors.New("usb: pipe")
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"bus range", &bus.RangeError{Address: 0x1000000, Limit: 0x1000000}, func(err error) bool {
			var rerr *RangeError
			return errors.As(err, &rerr) && rerr.Address == 0x1000000
		}},
		{"transport", cause, func(err error) bool {
			var terr *TransportError
			return errors.As(err, &terr) && errors.Is(err, cause) && terr.Op == "read"
		}},
		{"canceled", ErrCanceled, func(err error) bool { return err == ErrCanceled }},
		{"mismatch", &VerifyMismatchError{Address: 3}, func(err error) bool {
			addr, ok := failureAddress(err)
			return ok && addr == 3
		}},
		{"nil", nil, func(err error) bool { return err == nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify("read", tt.err); !tt.check(got) {
				t.Errorf("classify(%v) = %v", tt.err, got)
			}
		})
	}
}
