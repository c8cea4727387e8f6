package cmd

import (
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceFlash/pkg/catalog"
	"github.com/OpenTraceLab/OpenTraceFlash/pkg/device"
	"github.com/OpenTraceLab/OpenTraceFlash/pkg/idcode/deviceinfo"
)

func newReadCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "read [file]",
		Short: "Read the chip into a file",
		Long: `Read the whole chip. Without a file, or with "-", a hex dump is printed.
16-bit chips are stored most significant byte first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.operate(cmd, func(d *device.Device) error {
				data, ok := d.Read()
				if !ok {
					return failed(d)
				}
				if len(args) == 0 || args[0] == "-" {
					fmt.Fprint(cmd.OutOrStdout(), hex.Dump(data))
					return nil
				}
				if err := os.WriteFile(args[0], data, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Read %d bytes from %s into %s\n", len(data), d.Info().Name, args[0])
				return nil
			})
		},
	}
}

// fillBuffer builds a buffer for --fill: random, pattern, or one byte value.
func fillBuffer(mode string, size int) ([]byte, error) {
	switch strings.ToLower(mode) {
	case "random":
		seed := uint64(time.Now().UnixNano())
		return device.RandomBuffer(rand.New(rand.NewPCG(seed, seed>>1)), size), nil
	case "pattern":
		return device.PatternBuffer(size, 0x55), nil
	}
	b, err := strconv.ParseUint(mode, 0, 8)
	if err != nil {
		return nil, fmt.Errorf("--fill %q: want random, pattern or a byte value", mode)
	}
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(b)
	}
	return out, nil
}

func newProgramCmd(o *options) *cobra.Command {
	var (
		noVerify bool
		fill     string
	)
	cmd := &cobra.Command{
		Use:   "program [file]",
		Short: "Write a file to the chip",
		Long: `Program the chip from a file. Files shorter than the chip are padded with
0xFF. Each unit is verified as it is written, and the whole chip is read back
afterwards unless --no-verify is given. SRAM chips run a self-test instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (fill == "") {
				return fmt.Errorf("program needs a file or --fill")
			}
			return o.operate(cmd, func(d *device.Device) error {
				var (
					buf []byte
					err error
				)
				if fill != "" {
					buf, err = fillBuffer(fill, int(d.Settings().Size))
				} else {
					buf, err = os.ReadFile(args[0])
				}
				if err != nil {
					return err
				}
				if len(buf) > int(d.Settings().Size) {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %d bytes do not fit, truncating to %d\n", len(buf), d.Settings().Size)
					buf = buf[:d.Settings().Size]
				}
				n := len(buf)
				if !d.Program(device.PadBuffer(buf, int(d.Settings().Size)), !noVerify) {
					return failed(d)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Programmed %d bytes into %s\n", n, d.Info().Name)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip the read-back pass")
	cmd.Flags().StringVar(&fill, "fill", "", "program generated data: random, pattern or a byte value")
	return cmd
}

func newVerifyCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Compare the chip with a file",
		Long: `Compare the chip with a file. Files shorter than the chip are compared as if
padded with 0xFF, so the rest of the chip must be blank.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return o.operate(cmd, func(d *device.Device) error {
				if !d.Verify(device.PadBuffer(buf, int(d.Settings().Size))) {
					return failed(d)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s matches %s\n", d.Info().Name, args[0])
				return nil
			})
		},
	}
}

func newEraseCmd(o *options) *cobra.Command {
	var noCheck bool
	cmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase the chip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.operate(cmd, func(d *device.Device) error {
				if !d.Erase(!noCheck) {
					return failed(d)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Erased %s\n", d.Info().Name)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&noCheck, "no-check", false, "skip the blank check after erasing")
	return cmd
}

func newBlankCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "blank",
		Short: "Check that the chip is erased",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.operate(cmd, func(d *device.Device) error {
				if !d.BlankCheck() {
					return failed(d)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is blank\n", d.Info().Name)
				return nil
			})
		},
	}
}

func newIDCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "Read the manufacturer and device ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.operate(cmd, func(d *device.Device) error {
				id, err := d.GetID()
				if err != nil {
					return err
				}
				info := deviceinfo.Lookup(id.Manufacturer, id.Device)
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID: %s\n", id)
				fmt.Fprintf(out, "Manufacturer: %s\n", info.Manufacturer.Name)
				if !info.IDCode.ParityOK {
					fmt.Fprintln(out, "Warning: manufacturer byte fails the JEDEC parity check")
				}
				if !info.Known() {
					fmt.Fprintf(out, "Device: %s\n", info.Name)
					return nil
				}
				fmt.Fprintf(out, "Device: %s (%s, %s)\n", info.Name, info.Description, catalog.FormatSize(info.Size))
				if info.Family != d.Family().Key || info.Size != d.Settings().Size {
					fmt.Fprintf(out, "Warning: selected chip is %s (%s, %s)\n", d.Info().Name, d.Family().Key, catalog.FormatSize(d.Settings().Size))
				}
				return nil
			})
		},
	}
}

func newProtectCmd(o *options, protect bool) *cobra.Command {
	use, short, done := "unprotect", "Disable software data protection", "Unprotected"
	if protect {
		use, short, done = "protect", "Enable software data protection", "Protected"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.operate(cmd, func(d *device.Device) error {
				ok := d.Unprotect
				if protect {
					ok = d.Protect
				}
				if !ok() {
					return failed(d)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", done, d.Info().Name)
				return nil
			})
		},
	}
}
