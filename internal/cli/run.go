package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/kernsim/internal/machine"
	"github.com/me/kernsim/internal/workload"
	"github.com/me/kernsim/pkg/model"
)

func newRunCmd() *cobra.Command {
	var ticks uint64
	var untilIdle bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot a machine and run it headless",
		Long: `Boots the machine described by --config, creates its processes and
steps the scheduler as fast as possible for --ticks timer ticks, stopping
early once every process has exited unless --until-idle=false. Prints a
per-process accounting summary.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := loadMachineFile(flagConfig)
			if err != nil {
				return err
			}
			if err := applyFileLogging(cmd, file.Machine); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStore(ctx, file.Machine)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}

			m := machine.New(file.Machine, st, workload.NewRegistry(), logger)
			if err := m.Boot(ctx, file.Processes); err != nil {
				return err
			}

			n, runErr := m.RunFor(ctx, ticks, untilIdle)
			if err := m.Shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Error("shutdown", "error", err)
			}
			if runErr != nil {
				return fmt.Errorf("run stopped after %d ticks: %w", n, runErr)
			}

			stats, err := m.Stats(ctx)
			if err != nil {
				return err
			}
			live, err := m.Processes(ctx)
			if err != nil {
				return err
			}
			var reaped []model.Process
			if st != nil {
				if reaped, err = st.ListProcesses(ctx, m.RunID()); err != nil {
					return err
				}
			}
			printRunSummary(cmd.OutOrStdout(), stats, append(reaped, live...), st != nil)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&ticks, "ticks", 10000, "Maximum number of timer ticks to run")
	cmd.Flags().BoolVar(&untilIdle, "until-idle", true, "Stop once no process is left")
	return cmd
}

func printRunSummary(w io.Writer, st model.Stats, procs []model.Process, traced bool) {
	if traced {
		fmt.Fprintf(w, "Run:        %s\n", st.RunID)
	}
	fmt.Fprintf(w, "Ticks:      %s (%s idle)\n", humanize.Comma(int64(st.Ticks)), humanize.Comma(int64(st.IdleTicks)))
	fmt.Fprintf(w, "Dispatches: %s, %s switches, %s preemptions\n",
		humanize.Comma(int64(st.Dispatches)), humanize.Comma(int64(st.Switches)), humanize.Comma(int64(st.Preempts)))
	fmt.Fprintf(w, "Processes:  %d reaped, %d live, %d faulted\n", st.Reaped, st.Live, st.Faults)
	fmt.Fprintf(w, "Memory:     %s of %s in use\n", humanize.IBytes(st.MemoryUsed), humanize.IBytes(st.MemoryTotal))

	if len(procs) == 0 {
		return
	}
	fmt.Fprintln(w)
	printProcessTable(w, procs)
}

func printProcessTable(w io.Writer, procs []model.Process) {
	fmt.Fprintf(w, "%-5s  %-16s  %-10s  %4s  %8s  %10s  %s\n", "PID", "NAME", "STATE", "PRIO", "CPU", "DISPATCHES", "EXIT")
	fmt.Fprintf(w, "%-5s  %-16s  %-10s  %4s  %8s  %10s  %s\n", "---", "----", "-----", "----", "---", "----------", "----")
	for _, p := range procs {
		exit := "-"
		if p.State == model.ProcessStateTerminated {
			exit = fmt.Sprintf("%d", p.ExitStatus)
			if p.ExitCause != "" {
				exit = "fault"
			}
		}
		fmt.Fprintf(w, "%-5d  %-16s  %-10s  %4d  %8s  %10s  %s\n",
			p.PID, p.Name, p.State, p.Priority,
			humanize.Comma(int64(p.CPUTime)), humanize.Comma(int64(p.Dispatches)), exit)
	}
}
