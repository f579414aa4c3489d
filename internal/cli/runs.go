package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/kernsim/pkg/model"
)

func newRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs in the trace database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openTraceStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			opts := model.ListOptions{Limit: limit}
			opts.Clamp()
			runs, total, err := st.ListRuns(ctx, opts)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			fmt.Fprintf(out, "%-44s  %-16s  %10s  %s\n", "ID", "STARTED", "TICKS", "STATUS")
			fmt.Fprintf(out, "%-44s  %-16s  %10s  %s\n", "--", "-------", "-----", "------")
			for _, r := range runs {
				status := "running"
				if r.FinishedAt != nil {
					status = "finished " + humanize.Time(*r.FinishedAt)
				}
				fmt.Fprintf(out, "%-44s  %-16s  %10s  %s\n",
					r.ID, humanize.Time(r.StartedAt), humanize.Comma(int64(r.Ticks)), status)
			}
			if len(runs) < total {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(runs), total)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show")
	return cmd
}

func newEventsCmd() *cobra.Command {
	var (
		kind   string
		pid    uint32
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "events <run_id|latest>",
		Short: "Print the scheduler event trace of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openTraceStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			runID := args[0]
			if runID == "latest" {
				runs, _, err := st.ListRuns(ctx, model.ListOptions{Limit: 1})
				if err != nil {
					return fmt.Errorf("list runs: %w", err)
				}
				if len(runs) == 0 {
					return fmt.Errorf("no runs recorded")
				}
				runID = runs[0].ID
			}
			run, err := st.GetRun(ctx, runID)
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			if run == nil {
				return model.NewNotFoundError("run", runID)
			}

			opts := model.ListOptions{Limit: limit, Offset: offset, Kind: kind, PID: pid}
			opts.Clamp()
			events, total, err := st.ListEvents(ctx, runID, opts)
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%6s  %8s  %-9s  %5s  %-16s  %s\n", "SEQ", "TICK", "KIND", "PID", "NAME", "DETAIL")
			for _, ev := range events {
				detail := ev.Detail
				if ev.Error != "" {
					detail = ev.Error
				}
				pidCol := "-"
				if ev.PID != 0 {
					pidCol = fmt.Sprintf("%d", ev.PID)
				}
				fmt.Fprintf(out, "%6d  %8d  %-9s  %5s  %-16s  %s\n", ev.Seq, ev.Tick, ev.Kind, pidCol, ev.Name, detail)
			}
			if opts.Offset+len(events) < total {
				fmt.Fprintf(out, "\n(%d of %d shown, use --offset %d for more)\n", len(events), total, opts.Offset+len(events))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Only events of this kind (dispatch, preempt, block, ...)")
	cmd.Flags().Uint32Var(&pid, "pid", 0, "Only events of this process")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of events (max 500)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of events to skip")
	return cmd
}
