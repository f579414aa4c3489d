package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/kernsim/internal/workload"
)

var programHelp = map[string]string{
	"counter": "increments RAX each step, exits with its low byte at limit (args: limit)",
	"yielder": "yields every step, exits after limit yields when limit > 0 (args: limit)",
	"sleeper": "sleeps for ticks on every step (args: ticks, rounds)",
	"io":      "issues device requests completing after ticks (args: ticks, rounds)",
	"faulty":  "raises a protection fault after some steps (args: after, panic)",
	"spin":    "busy loop incrementing R8, never exits",
}

func newProgramsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "programs",
		Short: "List builtin programs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, name := range workload.NewRegistry().Names() {
				fmt.Fprintf(out, "%-10s  %s\n", name, programHelp[name])
			}
			return nil
		},
	}
}
