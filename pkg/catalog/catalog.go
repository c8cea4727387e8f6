// Package catalog names concrete chips. A catalog entry binds a part number to
// a device family, a capacity and optional timing or voltage overrides; the
// built-in catalog covers the common parts and user files can add more.
package catalog

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/OpenTraceLab/OpenTraceFlash/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceFlash/pkg/device"
)

//go:embed default.cat
var defaultCatalog string

// Chip is a resolved catalog entry.
type Chip struct {
	Name     string
	Family   *device.Family
	Settings device.Settings
	// Source is the file the entry came from.
	Source string
}

// Device returns a device for the chip. opts are applied after the chip's
// name and settings.
func (c *Chip) Device(opener bus.Opener, opts ...device.Option) *device.Device {
	base := []device.Option{device.WithName(c.Name), device.WithSettings(c.Settings)}
	return device.New(c.Family, opener, append(base, opts...)...)
}

func (c *Chip) String() string {
	return fmt.Sprintf("%s (%s, %s)", c.Name, c.Family.Key, FormatSize(c.Settings.Size))
}

// Resolve turns a parsed entry into a Chip.
func Resolve(e *Entry, source string) (*Chip, error) {
	fam, ok := device.LookupFamily(e.Family)
	if !ok {
		return nil, fmt.Errorf("%s: chip %q: unknown family %q", e.Pos, e.Name, e.Family)
	}
	size, err := ParseSize(e.Size)
	if err != nil {
		return nil, fmt.Errorf("%s: chip %q: %w", e.Pos, e.Name, err)
	}
	s, _ := fam.Resize(fam.Defaults(), size)
	for _, st := range e.Settings {
		if err := apply(&s, st.Key, st.Value); err != nil {
			return nil, fmt.Errorf("%s: chip %q: %w", st.Pos, e.Name, err)
		}
	}
	return &Chip{Name: e.Name, Family: fam, Settings: s, Source: source}, nil
}

// Override applies one key = value setting to s, the same way a catalog
// block does.
func Override(s *device.Settings, key, value string) error {
	return apply(s, key, value)
}

func apply(s *device.Settings, key, value string) error {
	switch strings.ToLower(key) {
	case "twp":
		return setDuration(&s.Twp, key, value)
	case "twc":
		return setDuration(&s.Twc, key, value)
	case "erasepulse":
		return setDuration(&s.ErasePulse, key, value)
	case "vdd":
		if err := setVoltage(&s.VddRead, key, value); err != nil {
			return err
		}
		s.VddWrite = s.VddRead
		return nil
	case "vddrd":
		return setVoltage(&s.VddRead, key, value)
	case "vddwr":
		return setVoltage(&s.VddWrite, key, value)
	case "vpp":
		return setVoltage(&s.Vpp, key, value)
	case "vee":
		return setVoltage(&s.Vee, key, value)
	case "attempts":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("%s: invalid attempt count %q", key, value)
		}
		s.MaxAttempts = n
		return nil
	case "skipff":
		return setBool(&s.Flags.SkipFF, key, value)
	case "progwithvpp":
		return setBool(&s.Flags.ProgWithVpp, key, value)
	}
	return fmt.Errorf("unknown setting %q", key)
}

func setDuration(dst *time.Duration, key, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return fmt.Errorf("%s: invalid duration %q", key, value)
	}
	*dst = d
	return nil
}

func setVoltage(dst *physic.ElectricPotential, key, value string) error {
	var v physic.ElectricPotential
	if err := v.Set(value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if v < 0 || v > 25*physic.Volt {
		return fmt.Errorf("%s: %s out of range", key, v)
	}
	*dst = v
	return nil
}

func setBool(dst *bool, key, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", key, value)
	}
	*dst = b
	return nil
}

// ParseSize parses a capacity in bytes: 512, 0x8000, 32K or 1M.
func ParseSize(s string) (uint32, error) {
	mult := uint64(1)
	num := s
	switch {
	case strings.HasSuffix(s, "K"), strings.HasSuffix(s, "k"):
		mult, num = 1024, s[:len(s)-1]
	case strings.HasSuffix(s, "M"), strings.HasSuffix(s, "m"):
		mult, num = 1024*1024, s[:len(s)-1]
	}
	n, err := strconv.ParseUint(num, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	size := n * mult
	if size == 0 || size > bus.MaxAddress+1 {
		return 0, fmt.Errorf("size %q out of range", s)
	}
	return uint32(size), nil
}

// FormatSize renders a capacity the way ParseSize reads it.
func FormatSize(size uint32) string {
	switch {
	case size >= 1024*1024 && size%(1024*1024) == 0:
		return fmt.Sprintf("%dM", size/(1024*1024))
	case size >= 1024 && size%1024 == 0:
		return fmt.Sprintf("%dK", size/1024)
	}
	return strconv.FormatUint(uint64(size), 10)
}
