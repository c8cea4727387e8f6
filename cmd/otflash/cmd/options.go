package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/physic"

	"github.com/OpenTraceLab/OpenTraceFlash/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceFlash/pkg/catalog"
	"github.com/OpenTraceLab/OpenTraceFlash/pkg/chip"
	"github.com/OpenTraceLab/OpenTraceFlash/pkg/device"
	"github.com/OpenTraceLab/OpenTraceFlash/pkg/progress"
	"github.com/OpenTraceLab/OpenTraceFlash/pkg/protocol"
	"github.com/OpenTraceLab/OpenTraceFlash/pkg/sim"
	"github.com/OpenTraceLab/OpenTraceFlash/pkg/transport"
)

// simAuto picks the simulated chip from the selected family.
const simAuto = "auto"

// simKinds maps family keys to simulated chip models.
var simKinds = map[string]string{
	"sram":    "sram",
	"27":      "eprom",
	"27c":     "eprom",
	"27c16":   "eprom16",
	"27e":     "eprom-e",
	"28c":     "eeprom",
	"at28c":   "eeprom",
	"28f":     "28f",
	"am28f":   "am28f",
	"sst28sf": "sst28sf",
	"i28f":    "i28f",
	"lh28f":   "i28f",
	"i28f16":  "i28f16",
}

// voltageFlag is a physic.ElectricPotential usable as a command-line flag.
type voltageFlag struct {
	v   physic.ElectricPotential
	set bool
}

func (f *voltageFlag) String() string {
	if !f.set {
		return ""
	}
	return f.v.String()
}

func (f *voltageFlag) Set(s string) error {
	if err := f.v.Set(s); err != nil {
		return err
	}
	f.set = true
	return nil
}

func (f *voltageFlag) Type() string { return "voltage" }

type options struct {
	port     string
	usb      bool
	legacy   bool
	sim      string
	simImage string
	timeout  time.Duration

	device   string
	family   string
	size     string
	catalogs []string
	sets     []string

	vdd, vddRd, vddWr, vpp, vee voltageFlag

	verbose bool
	quiet   bool
	tui     bool

	log   *slog.Logger
	board *sim.Board
}

func (o *options) bind(root *cobra.Command) {
	f := root.PersistentFlags()
	f.StringVarP(&o.port, "port", "p", "", "serial port of the programmer (for example /dev/ttyACM0)")
	f.BoolVar(&o.usb, "usb", false, "talk to the programmer over raw USB bulk endpoints")
	f.BoolVar(&o.legacy, "legacy", false, "programmer answers with first-generation status bytes")
	f.StringVar(&o.sim, "sim", "", "use a simulated programmer; --sim=<model> picks the chip model ("+strings.Join(sim.ChipKinds(), ", ")+")")
	f.Lookup("sim").NoOptDefVal = simAuto
	f.StringVar(&o.simImage, "sim-image", "", "preload the simulated chip from this file")
	f.DurationVar(&o.timeout, "timeout", 10*time.Second, "response timeout per request")

	f.StringVarP(&o.device, "device", "d", "", "chip name from the catalog")
	f.StringVarP(&o.family, "family", "f", "", "chip family key, used when the chip is not in the catalog")
	f.StringVarP(&o.size, "size", "s", "", "chip capacity in bytes (32K, 0x8000, 1M)")
	f.StringArrayVar(&o.catalogs, "catalog", nil, "extra catalog file or directory (repeatable)")
	f.StringArrayVar(&o.sets, "set", nil, "override a chip setting, key=value (twp=100us, attempts=5)")

	f.Var(&o.vdd, "vdd", "VDD for reading and writing (5V)")
	f.Var(&o.vddRd, "vdd-read", "VDD while reading")
	f.Var(&o.vddWr, "vdd-write", "VDD while programming")
	f.Var(&o.vpp, "vpp", "programming voltage (12.5V)")
	f.Var(&o.vee, "vee", "erase and identification voltage")

	f.BoolVarP(&o.verbose, "verbose", "v", false, "verbose output")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "no progress output")
	f.BoolVar(&o.tui, "tui", false, "full-screen progress with a stop key")
}

func (o *options) setup(cmd *cobra.Command) error {
	if o.verbose {
		o.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	} else {
		o.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	sources := 0
	for _, on := range []bool{o.port != "", o.usb, o.sim != ""} {
		if on {
			sources++
		}
	}
	if sources > 1 {
		return errors.New("--port, --usb and --sim are mutually exclusive")
	}
	return nil
}

func (o *options) repository() (*catalog.Repository, error) {
	repo, err := catalog.Default()
	if err != nil {
		return nil, err
	}
	for _, path := range o.catalogs {
		st, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		if st.IsDir() {
			err = repo.LoadDir(path)
		} else {
			err = repo.LoadFiles(path)
		}
		if err != nil {
			return nil, err
		}
	}
	return repo, nil
}

// chip resolves the selected chip and applies every override.
func (o *options) chip() (*catalog.Chip, error) {
	var c catalog.Chip
	switch {
	case o.device != "":
		repo, err := o.repository()
		if err != nil {
			return nil, err
		}
		found, err := repo.Lookup(o.device)
		if err != nil {
			return nil, err
		}
		c = *found
	case o.family != "":
		fam, ok := device.LookupFamily(o.family)
		if !ok {
			return nil, fmt.Errorf("unknown family %q", o.family)
		}
		s := fam.Defaults()
		c = catalog.Chip{Name: fam.ChipName(s.Size), Family: fam, Settings: s}
	default:
		return nil, errors.New("no chip selected: use --device or --family")
	}

	if o.size != "" {
		size, err := catalog.ParseSize(o.size)
		if err != nil {
			return nil, err
		}
		c.Settings, _ = c.Family.Resize(c.Settings, size)
		if o.device == "" {
			c.Name = c.Family.ChipName(size)
		}
	}
	for _, kv := range o.sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("--set %q: want key=value", kv)
		}
		if err := catalog.Override(&c.Settings, strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return nil, fmt.Errorf("--set: %w", err)
		}
	}
	if o.vdd.set {
		c.Settings.VddRead, c.Settings.VddWrite = o.vdd.v, o.vdd.v
	}
	if o.vddRd.set {
		c.Settings.VddRead = o.vddRd.v
	}
	if o.vddWr.set {
		c.Settings.VddWrite = o.vddWr.v
	}
	if o.vpp.set {
		c.Settings.Vpp = o.vpp.v
	}
	if o.vee.set {
		c.Settings.Vee = o.vee.v
	}
	return &c, nil
}

func (o *options) status() protocol.StatusEncoding {
	if o.legacy {
		return protocol.StatusLegacy
	}
	return protocol.StatusCurrent
}

// opener returns how each operation reaches the programmer. c may be nil for
// commands that only talk to the programmer itself.
func (o *options) opener(c *catalog.Chip) (bus.Opener, error) {
	if o.sim != "" {
		return o.simOpener(c)
	}

	open := func() (protocol.Port, error) {
		if o.usb {
			return transport.OpenUSB(transport.VendorID, transport.ProductID)
		}
		return transport.OpenSerial(o.port)
	}
	if o.port == "" && !o.usb {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		found, err := transport.Discover(ctx)
		if err != nil {
			o.log.Debug("discovery incomplete", "err", err)
		}
		for _, p := range found {
			if p.Kind == transport.KindSerial {
				o.port = p.Path
				break
			}
			if p.Kind == transport.KindUSB {
				o.usb = true
				break
			}
		}
		if o.port == "" && !o.usb {
			return nil, errors.New("no programmer found: use --port, --usb or --sim")
		}
		o.log.Debug("programmer selected", "port", o.port, "usb", o.usb)
	}

	return bus.OpenerFunc(func() (bus.Primitives, error) {
		port, err := open()
		if err != nil {
			return nil, err
		}
		client := protocol.NewClient(port, o.status())
		client.SetTimeout(o.timeout)
		return bus.NewRemote(client, bus.WithLogger(o.log)), nil
	}), nil
}

func (o *options) simOpener(c *catalog.Chip) (bus.Opener, error) {
	kind, units := "eprom", uint32(0x8000)
	if c != nil {
		kind, units = simKinds[c.Family.Key], c.Settings.Units()
	}
	if o.sim != simAuto {
		kind = o.sim
	}
	model, err := sim.NewChip(kind, units, chip.WithLogger(o.log))
	if err != nil {
		return nil, err
	}
	if o.simImage != "" {
		img, err := os.ReadFile(o.simImage)
		if err != nil {
			return nil, fmt.Errorf("sim image: %w", err)
		}
		model.Load(img)
	}
	o.board = sim.NewBoard(model, sim.WithStatus(o.status()), sim.WithLogger(o.log))
	o.log.Debug("simulated programmer", "chip", model.Name(), "units", units)

	return bus.OpenerFunc(func() (bus.Primitives, error) {
		client := protocol.NewClient(o.board, o.status())
		client.SetTimeout(o.timeout)
		return bus.NewRemote(client, bus.WithLogger(o.log), bus.WithSleep(func(time.Duration) {})), nil
	}), nil
}

// operate runs op on the selected chip with progress reporting. Ctrl-C or the
// terminal stop key cancels the running operation.
func (o *options) operate(cmd *cobra.Command, op func(d *device.Device) error) error {
	c, err := o.chip()
	if err != nil {
		return err
	}
	opener, err := o.opener(c)
	if err != nil {
		return err
	}

	var report func(device.Progress)
	d := c.Device(opener,
		device.WithLogger(o.log),
		device.WithProgress(func(p device.Progress) {
			if report != nil {
				report(p)
			}
		}),
	)
	if o.verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "Chip: %s (%s)\n", d.Info().Name, c.Family.Description)
	}

	switch {
	case o.tui:
		term, err := progress.NewTerminal("otflash: "+d.Info().Name, d.Cancel)
		if err != nil {
			return fmt.Errorf("terminal: %w", err)
		}
		defer term.Close()
		term.Status(c.String())
		report = term.Report
	case !o.quiet:
		report = progress.NewText(cmd.ErrOrStderr(), 10).Report
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			d.Cancel()
		case <-done:
		}
	}()

	return op(d)
}

// failed turns a false operation result into the device error.
func failed(d *device.Device) error {
	if err := d.Err(); err != nil {
		return err
	}
	return errors.New("operation failed")
}
