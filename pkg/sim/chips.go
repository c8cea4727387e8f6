package sim

import (
	"fmt"
	"sort"
	"strings"

	"github.com/OpenTraceLab/OpenTraceFlash/pkg/chip"
)

type chipFactory func(size uint32, opts ...chip.Option) (chip.Chip, error)

func flash(v chip.FlashVariant) chipFactory {
	return func(size uint32, opts ...chip.Option) (chip.Chip, error) {
		return chip.NewFlash(v, size, opts...)
	}
}

var chipKinds = map[string]chipFactory{
	"sram": func(size uint32, opts ...chip.Option) (chip.Chip, error) {
		return chip.NewSRAM(size, opts...), nil
	},
	"eprom": func(size uint32, opts ...chip.Option) (chip.Chip, error) {
		return chip.NewEPROM(size, opts...), nil
	},
	"eprom16": func(size uint32, opts ...chip.Option) (chip.Chip, error) {
		return chip.NewEPROM(size, append(opts, chip.WithWide())...), nil
	},
	"eprom-e": func(size uint32, opts ...chip.Option) (chip.Chip, error) {
		return chip.NewEPROM(size, append(opts, chip.WithElectricalErase())...), nil
	},
	"eeprom": func(size uint32, opts ...chip.Option) (chip.Chip, error) {
		return chip.NewEEPROM(size, opts...), nil
	},
	"28f":     flash(chip.Flash28F),
	"am28f":   flash(chip.FlashAm28F),
	"sst28sf": flash(chip.FlashSST28SF),
	"i28f":    flash(chip.FlashI28F),
	"i28f16":  flash(chip.FlashI28F16),
}

// ChipKinds lists the names NewChip accepts.
func ChipKinds() []string {
	kinds := make([]string, 0, len(chipKinds))
	for k := range chipKinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// NewChip builds a simulated chip by kind name. size counts addressable
// units: bytes, or words for the 16-bit kinds.
func NewChip(kind string, size uint32, opts ...chip.Option) (chip.Chip, error) {
	f, ok := chipKinds[strings.ToLower(kind)]
	if !ok {
		return nil, fmt.Errorf("sim: unknown chip %q (have %s)", kind, strings.Join(ChipKinds(), ", "))
	}
	return f(size, opts...)
}
