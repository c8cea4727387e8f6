package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/physic"

	"github.com/OpenTraceLab/OpenTraceFlash/pkg/bus"
)

func parseRail(s string) (bus.Rail, error) {
	switch strings.ToLower(s) {
	case "vdd":
		return bus.VDD, nil
	case "vpp":
		return bus.VPP, nil
	}
	return 0, fmt.Errorf("unknown rail %q (want vdd or vpp)", s)
}

// withBus opens the programmer once and runs fn on it.
func (o *options) withBus(fn func(b bus.Primitives) error) error {
	opener, err := o.opener(nil)
	if err != nil {
		return err
	}
	b, err := opener.Open()
	if err != nil {
		return err
	}
	if err := fn(b); err != nil {
		b.Close()
		return err
	}
	return b.Close()
}

func newRailCmd(o *options) *cobra.Command {
	rail := &cobra.Command{
		Use:   "rail",
		Short: "Inspect and calibrate the VDD and VPP supplies",
		Long: `Talk to the programmer's adjustable supplies directly. No chip needs to be
selected.

Calibration: run "rail cal-init", measure the rail with a meter, then store the
ratio with "rail cal-save".`,
	}

	get := &cobra.Command{
		Use:   "get <vdd|vpp>",
		Short: "Show voltage, PWM duty and calibration of a rail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRail(args[0])
			if err != nil {
				return err
			}
			return o.withBus(func(b bus.Primitives) error {
				v, err := b.RailGetV(r)
				if err != nil {
					return err
				}
				duty, err := b.RailGetDuty(r)
				if err != nil {
					return err
				}
				cal, err := b.RailGetCalibration(r)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s:\n", r)
				fmt.Fprintf(out, "  Voltage:     %s\n", v)
				fmt.Fprintf(out, "  Duty:        %.2f%%\n", duty)
				fmt.Fprintf(out, "  Calibration: %.3f\n", cal)
				return nil
			})
		},
	}

	set := &cobra.Command{
		Use:   "set <vdd|vpp> <volts>",
		Short: "Set a rail's target voltage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRail(args[0])
			if err != nil {
				return err
			}
			var v physic.ElectricPotential
			if err := v.Set(args[1]); err != nil {
				return err
			}
			return o.withBus(func(b bus.Primitives) error {
				if err := b.RailSetV(r, v); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s set to %s\n", r, v)
				return nil
			})
		},
	}

	ctrl := func(on bool) *cobra.Command {
		use, short := "off <vdd|vpp>", "Switch a rail off"
		if on {
			use, short = "on <vdd|vpp>", "Switch a rail on"
		}
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := parseRail(args[0])
				if err != nil {
					return err
				}
				return o.withBus(func(b bus.Primitives) error {
					return b.RailCtrl(r, on)
				})
			},
		}
	}

	calInit := &cobra.Command{
		Use:   "cal-init <vdd|vpp>",
		Short: "Start calibrating a rail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRail(args[0])
			if err != nil {
				return err
			}
			return o.withBus(func(b bus.Primitives) error {
				if err := b.RailInitCalibration(r); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s calibration started; measure the rail and run cal-save\n", r)
				return nil
			})
		},
	}

	calSave := &cobra.Command{
		Use:   "cal-save <vdd|vpp> <factor>",
		Short: "Store a rail's calibration factor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRail(args[0])
			if err != nil {
				return err
			}
			cal, err := strconv.ParseFloat(args[1], 64)
			if err != nil || cal <= 0 {
				return fmt.Errorf("invalid calibration factor %q", args[1])
			}
			return o.withBus(func(b bus.Primitives) error {
				if err := b.RailSaveCalibration(r, cal); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s calibration saved: %.3f\n", r, cal)
				return nil
			})
		},
	}

	rail.AddCommand(get, set, ctrl(true), ctrl(false), calInit, calSave)
	return rail
}
