package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the otflash command tree. Every call returns fresh
// flag state.
func NewRootCommand() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "otflash",
		Short: "Parallel EPROM, EEPROM, flash and SRAM programmer",
		Long: `Read, program, verify and erase parallel memory chips on a USB
programmer, or on a simulated one.

Examples:
  otflash detect                                        # List attached programmers
  otflash list                                          # Show the chip catalog
  otflash read --device 27C256 dump.bin                 # Read a chip to a file
  otflash program --device W27E257 --port /dev/ttyACM0 image.bin
  otflash erase --device W27E257 --sim                  # Run against the simulator
  otflash rail get vpp --usb                            # Read the VPP rail`,
		Version:       "0.3.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.setup(cmd)
		},
	}
	o.bind(root)

	root.AddCommand(
		newReadCmd(o),
		newProgramCmd(o),
		newVerifyCmd(o),
		newEraseCmd(o),
		newBlankCmd(o),
		newIDCmd(o),
		newProtectCmd(o, true),
		newProtectCmd(o, false),
		newRailCmd(o),
		newListCmd(o),
		newInfoCmd(o),
		newDetectCmd(o),
	)
	return root
}

// Execute runs the root command
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
