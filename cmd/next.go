package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/opportunity-cli/internal/evidence"
)

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Recommend the next action for a project",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		projectID, _ := cmd.Flags().GetString("project")

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		action, err := env.Orch.NextBestAction(ctx, projectID)
		if err != nil {
			return eris.Wrap(err, "next")
		}

		if ok, err := writeStructured(os.Stdout, outputFormat(cmd), action); ok {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s (%s)\n", action.Message, action.Kind)
		for _, r := range action.Reasons {
			fmt.Fprintf(os.Stdout, "  - %s\n", r.Message)
		}
		return nil
	},
}

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Show evidence coverage for a project",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		projectID, _ := cmd.Flags().GetString("project")

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		cov, err := env.Orch.ComputeCoverage(ctx, projectID)
		if err != nil {
			return eris.Wrap(err, "coverage")
		}

		if ok, err := writeStructured(os.Stdout, outputFormat(cmd), cov); ok {
			return err
		}
		formatCoverage(os.Stdout, cov)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{nextCmd, coverageCmd} {
		c.Flags().StringP("project", "p", "", "project id")
		_ = c.MarkFlagRequired("project")
		rootCmd.AddCommand(c)
	}
}

func formatCoverage(out io.Writer, cov evidence.Coverage) {
	verdict := "insufficient"
	if cov.Sufficient {
		verdict = "sufficient"
	}
	_, _ = fmt.Fprintf(out, "Evidence is %s: %d/%d competitors covered (%.0f%%), %d items\n\n",
		verdict, cov.CoveredCompetitors, cov.TotalCompetitors, cov.Ratio*100, cov.EvidenceItems)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COMPETITOR\tITEMS\tSOURCES")
	for _, c := range cov.Competitors {
		types := make([]string, 0, len(c.SourceTypes))
		for _, t := range c.SourceTypes {
			types = append(types, string(t))
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", c.Name, c.Items, strings.Join(types, ", "))
	}
	_ = w.Flush()

	for _, msg := range cov.ReasonMessages() {
		_, _ = fmt.Fprintf(out, "  - %s\n", msg)
	}
}
