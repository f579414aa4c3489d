package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/kernsim/pkg/model"
)

// The commands in this file drive a machine running under "kernsim serve".

func newPsCmd() *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List live processes on a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			procs, err := client.ListProcesses(cmd.Context(), state)
			if err != nil {
				return fmt.Errorf("list processes: %w", err)
			}
			if len(procs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No processes.")
				return nil
			}
			printProcessTable(cmd.OutOrStdout(), procs)
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Only processes in this state")
	return cmd
}

func newSpawnCmd() *cobra.Command {
	var (
		program    string
		scriptFile string
		priority   uint8
		uid        uint32
		progArgs   map[string]int64
	)

	cmd := &cobra.Command{
		Use:   "spawn <name>",
		Short: "Create a process on a running server",
		Example: `  kernsim spawn worker --program counter --arg limit=50
  kernsim spawn tty --script-file tty.js --priority 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := model.CreateProcessRequest{
				Name:     args[0],
				UID:      uid,
				Priority: priority,
				Program:  program,
				Args:     progArgs,
			}
			if scriptFile != "" {
				src, err := os.ReadFile(scriptFile)
				if err != nil {
					return fmt.Errorf("read script: %w", err)
				}
				req.Script = string(src)
			}

			p, err := client.Spawn(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("create process: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Process created: pid %d (%s)\n", p.PID, p.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&program, "program", "", "Builtin program (see kernsim programs)")
	cmd.Flags().StringVar(&scriptFile, "script-file", "", "JavaScript file defining step(regs)")
	cmd.Flags().Uint8Var(&priority, "priority", 0, "Scheduling priority (higher runs first)")
	cmd.Flags().Uint32Var(&uid, "uid", 0, "Owning user id")
	cmd.Flags().StringToInt64Var(&progArgs, "arg", nil, "Program argument key=value (repeatable)")
	cmd.MarkFlagsMutuallyExclusive("program", "script-file")
	cmd.MarkFlagsOneRequired("program", "script-file")
	return cmd
}

func newWakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wake <pid>",
		Short: "Wake a blocked or waiting process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			p, err := client.Wake(cmd.Context(), pid)
			if err != nil {
				return fmt.Errorf("wake: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pid %d is %s\n", p.PID, p.State)
			return nil
		},
	}
}

func newNiceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nice <pid> <priority>",
		Short: "Change the priority of a process",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			prio, err := strconv.ParseUint(args[1], 10, 8)
			if err != nil {
				return fmt.Errorf("invalid priority %q: must be 0-255", args[1])
			}
			p, err := client.SetPriority(cmd.Context(), pid, uint8(prio))
			if err != nil {
				return fmt.Errorf("set priority: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pid %d priority %d\n", p.PID, p.Priority)
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show scheduler counters of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("get stats: %w", err)
			}
			out := cmd.OutOrStdout()
			printRunSummary(out, st, nil, st.RunID != "")
			cur := "idle"
			if st.CurrentPID != 0 {
				cur = fmt.Sprintf("pid %d", st.CurrentPID)
			}
			fmt.Fprintf(out, "Current:    %s, %d ready, %s of %s slots used\n",
				cur, st.Ready, humanize.Comma(int64(st.Live)), humanize.Comma(int64(st.Capacity)))
			return nil
		},
	}
}

func parsePID(s string) (uint32, error) {
	pid, err := strconv.ParseUint(s, 10, 32)
	if err != nil || pid == 0 {
		return 0, fmt.Errorf("invalid pid %q: must be a positive integer", s)
	}
	return uint32(pid), nil
}
