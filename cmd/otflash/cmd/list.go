package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceFlash/pkg/catalog"
	"github.com/OpenTraceLab/OpenTraceFlash/pkg/device"
)

func newListCmd(o *options) *cobra.Command {
	var families bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog chips or chip families",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			if families {
				fmt.Fprintln(w, "KEY\tDESCRIPTION\tDEFAULT")
				for _, f := range device.Families() {
					fmt.Fprintf(w, "%s\t%s\t%s\n", f.Key, f.Description, catalog.FormatSize(f.Defaults().Size))
				}
				return w.Flush()
			}

			repo, err := o.repository()
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "NAME\tFAMILY\tSIZE\tVDD\tVPP\tVEE")
			for _, c := range repo.Chips() {
				s := c.Settings
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", c.Name, c.Family.Key,
					catalog.FormatSize(s.Size), s.VddRead, s.Vpp, s.Vee)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&families, "families", false, "list chip families instead of chips")
	return cmd
}

func newInfoCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the resolved settings of the selected chip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.chip()
			if err != nil {
				return err
			}
			_, caps := c.Family.Resize(c.Settings, c.Settings.Size)
			s := c.Settings
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Chip:        %s\n", c.Name)
			fmt.Fprintf(out, "Family:      %s (%s)\n", c.Family.Key, c.Family.Description)
			fmt.Fprintf(out, "Size:        %s (0x%X units)\n", catalog.FormatSize(s.Size), s.Units())
			fmt.Fprintf(out, "Timing:      twp %s, twc %s\n", s.Twp, s.Twc)
			fmt.Fprintf(out, "VDD:         read %s, write %s\n", s.VddRead, s.VddWrite)
			fmt.Fprintf(out, "VPP:         %s\n", s.Vpp)
			fmt.Fprintf(out, "VEE:         %s\n", s.Vee)
			fmt.Fprintf(out, "Algorithm:   %s\n", s.Algorithm)
			fmt.Fprintf(out, "Flags:       %s\n", s.Flags)
			fmt.Fprintf(out, "Config word: 0x%04X\n", s.Flags.Encode(s.Algorithm))
			fmt.Fprintf(out, "Attempts:    %d\n", s.MaxAttempts)
			if s.SectorSize > 0 {
				fmt.Fprintf(out, "Sector:      %d bytes\n", s.SectorSize)
			}
			if s.ErasePulse > 0 {
				fmt.Fprintf(out, "Erase pulse: %s\n", s.ErasePulse)
			}
			fmt.Fprintf(out, "Supports:    %s\n", capabilityList(caps))
			return nil
		},
	}
}

func capabilityList(c device.Capabilities) string {
	var names []string
	for _, f := range []struct {
		on   bool
		name string
	}{
		{c.Read, "read"},
		{c.Program, "program"},
		{c.Verify, "verify"},
		{c.Erase, "erase"},
		{c.BlankCheck, "blank"},
		{c.GetID, "id"},
		{c.Protect, "protect"},
		{c.Unprotect, "unprotect"},
	} {
		if f.on {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, " ")
}
