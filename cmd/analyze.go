package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/opportunity-cli/internal/model"
	"github.com/sells-group/opportunity-cli/internal/opportunity"
	"github.com/sells-group/opportunity-cli/internal/orchestrator"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the analysis pipeline for a project",
	Long: `Starts a new run and executes every step: load input, collect evidence,
check coverage, generate, validate, score, persist and finalize. Pass --run to
resume an existing run; completed steps are reused.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		projectID, _ := cmd.Flags().GetString("project")
		runID, _ := cmd.Flags().GetString("run")

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if runID == "" {
			run, err := env.Orch.StartRun(ctx, projectID)
			if err != nil {
				return eris.Wrap(err, "analyze")
			}
			runID = run.ID
			fmt.Fprintf(os.Stderr, "Started run %s\n", runID)
		}

		report, runErr := env.Orch.Analyze(ctx, projectID, runID)
		if report != nil {
			if ok, err := writeStructured(os.Stdout, outputFormat(cmd), report); ok {
				if err != nil {
					return err
				}
			} else {
				formatReport(os.Stdout, report)
			}
		}
		if runErr != nil {
			return eris.Wrapf(runErr, "analyze run %s", runID)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringP("project", "p", "", "project id")
	analyzeCmd.Flags().String("run", "", "resume this run instead of starting a new one")
	_ = analyzeCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(analyzeCmd)
}

// formatReport writes a human-readable analysis report to out.
func formatReport(out io.Writer, r *orchestrator.Report) {
	_, _ = fmt.Fprintf(out, "Run %s: %s\n\n", r.RunID, r.Status)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STEP\tRESULT\tDURATION\tERROR")
	for _, s := range r.Steps {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%dms\t%s\n", s.Step, s.Disposition, s.DurationMs, truncate(s.Error, 60))
	}
	_ = w.Flush()

	if r.Coverage != nil {
		_, _ = fmt.Fprintf(out, "\nCoverage: %d/%d competitors with evidence (%.0f%%), %d items\n",
			r.Coverage.CoveredCompetitors, r.Coverage.TotalCompetitors, r.Coverage.Ratio*100, r.Coverage.EvidenceItems)
		for _, msg := range r.Coverage.ReasonMessages() {
			_, _ = fmt.Fprintf(out, "  - %s\n", msg)
		}
	}
	if r.NextAction != nil {
		_, _ = fmt.Fprintf(out, "\nNext: %s\n", r.NextAction.Message)
	}
	if len(r.Opportunities) > 0 {
		_, _ = fmt.Fprintln(out)
		formatOpportunities(out, r.Opportunities)
	}
	if len(r.Rejected) > 0 {
		_, _ = fmt.Fprintf(out, "\nRejected %d draft(s):\n", len(r.Rejected))
		for _, rej := range r.Rejected {
			_, _ = fmt.Fprintf(out, "  - %s (%s)\n", truncate(rej.Title, 60), rej.Reason)
		}
	}
}

// formatOpportunities writes ranked opportunities as a table, followed by
// the titles each merged opportunity was built from.
func formatOpportunities(out io.Writer, opps []model.Opportunity) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tSCORE\tCONFIDENCE\tSOURCES\tTITLE")
	for i, o := range opps {
		conf := ""
		if o.Confidence != nil {
			conf = string(o.Confidence.Level)
		}
		_, _ = fmt.Fprintf(w, "%d\t%.1f\t%s\t%d\t%s\n", i+1, o.Score, conf, len(o.Citations), truncate(o.Title, 60))
	}
	_ = w.Flush()

	for i, o := range opps {
		if ind := opportunity.MergeIndicator(o, opportunity.DefaultIndicatorLimit); ind != "" {
			_, _ = fmt.Fprintf(out, "  %d. %s\n", i+1, ind)
		}
	}
}
