package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceFlash/pkg/transport"
)

func newDetectCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "List attached programmers",
		Long: `Scan serial ports and USB devices for the programmer (VID 2E8A, PID 000A)
and print what was found. The simulator is always listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			found, err := transport.Discover(ctx)
			if err != nil && o.verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Detected programmers:")
			for _, p := range found {
				fmt.Fprintf(out, "  - %s [%s]\n", p.Label(), p.Kind)
			}
			return nil
		},
	}
}
