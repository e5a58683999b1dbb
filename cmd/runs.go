package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/opportunity-cli/internal/artifact"
	"github.com/sells-group/opportunity-cli/internal/model"
	"github.com/sells-group/opportunity-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect analysis run history",
	Long:  "Commands for listing, viewing, and summarizing analysis runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		projectID, _ := cmd.Flags().GetString("project")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{ProjectID: projectID, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if ok, err := writeStructured(os.Stdout, outputFormat(cmd), runs); ok {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the step status of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		if run == nil {
			return eris.Errorf("run %s not found", args[0])
		}

		if ok, err := writeStructured(os.Stdout, outputFormat(cmd), run); ok {
			return err
		}
		formatRunSteps(os.Stdout, run)
		return nil
	},
}

// -- runs artifact --

var runsArtifactCmd = &cobra.Command{
	Use:   "artifact <run-id> <type>",
	Short: "Print the authoritative artifact of a run",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		typ := model.ArtifactType(args[1])
		if !typ.Valid() {
			return eris.Errorf("unknown artifact type %q", args[1])
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs artifact")
		}
		if run == nil {
			return eris.Errorf("run %s not found", args[0])
		}

		a, ok := artifact.NewSelector(st).Latest(ctx, run.ProjectID, run.ID, typ)
		if !ok {
			return eris.Errorf("run %s has no %s artifact", run.ID, typ)
		}

		var data any
		if err := a.Decode(&data); err != nil {
			return eris.Wrap(err, "runs artifact: decode")
		}
		format := outputFormat(cmd)
		if format == formatTable {
			format = formatJSON
		}
		_, err = writeStructured(os.Stdout, format, data)
		return err
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		projectID, _ := cmd.Flags().GetString("project")
		runs, err := st.ListRuns(ctx, store.RunFilter{ProjectID: projectID, Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		stats := computeRunStats(runs)
		formatRunStats(os.Stdout, stats)
		return nil
	},
}

func init() {
	runsListCmd.Flags().StringP("project", "p", "", "filter by project id")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsStatsCmd.Flags().StringP("project", "p", "", "filter by project id")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsArtifactCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// runState summarizes the step map of a run in one word.
func runState(r model.Run) string {
	completed := 0
	for _, s := range model.Steps {
		switch r.Steps.Status(s) {
		case model.StepStatusFailed:
			return "failed"
		case model.StepStatusRunning:
			return "running"
		case model.StepStatusCompleted:
			completed++
		}
	}
	switch completed {
	case len(model.Steps):
		return "complete"
	case 0:
		return "pending"
	default:
		return "partial"
	}
}

// progress reports completed steps out of the pipeline length.
func progress(r model.Run) string {
	n := 0
	for _, s := range model.Steps {
		if r.Steps.Status(s) == model.StepStatusCompleted {
			n++
		}
	}
	return fmt.Sprintf("%d/%d", n, len(model.Steps))
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	Complete   int
	Failed     int
	Running    int
	Other      int
	AvgDurSecs float64
}

// computeRunStats computes aggregate statistics from a list of runs.
func computeRunStats(runs []model.Run) runStats {
	var s runStats
	s.Total = len(runs)

	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		switch runState(r) {
		case "complete":
			s.Complete++
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
			durCount++
		case "failed":
			s.Failed++
		case "running":
			s.Running++
		default:
			s.Other++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPROJECT\tSTATE\tSTEPS\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-------\t-----\t-----\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			truncateID(r.ProjectID),
			runState(r),
			progress(r),
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunSteps writes the step status map of a run in pipeline order.
func formatRunSteps(out io.Writer, r *model.Run) {
	_, _ = fmt.Fprintf(out, "Run %s (project %s), %s, version %d\n\n", r.ID, r.ProjectID, runState(*r), r.Version)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STEP\tSTATUS\tSTARTED\tCOMPLETED\tERROR")
	for _, s := range model.Steps {
		e := r.Steps.Entry(s)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s, e.Status, stamp(e.StartedAt), stamp(e.CompletedAt), truncate(e.Error, 60))
	}
	_ = w.Flush()
}

func stamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.Running)
	_, _ = fmt.Fprintf(w, "Other:\t%d\n", s.Other)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}
