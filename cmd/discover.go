package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-cli/internal/model"
)

var discoverCmd = &cobra.Command{
	Use:   "discover <query>",
	Short: "Find competitor candidates with web search",
	Long:  "Searches for the query, scores the results as competitor candidates and optionally adds the best ones to a project.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, _ := cmd.Flags().GetString("project")
		add, _ := cmd.Flags().GetInt("add")
		limit, _ := cmd.Flags().GetInt("limit")

		if cfg.Jina.Key == "" {
			return eris.New("discover requires OPPORTUNITY_JINA_KEY")
		}
		if add > 0 && projectID == "" {
			return eris.New("--add requires --project")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		candidates, err := env.Orch.DiscoverCompetitors(ctx, strings.Join(args, " "))
		if err != nil {
			return eris.Wrap(err, "discover")
		}
		if limit > 0 && len(candidates) > limit {
			candidates = candidates[:limit]
		}

		for i := 0; i < add && i < len(candidates); i++ {
			c := candidates[i]
			comp, err := competitorFromArgs(projectID, c.Name, c.URL)
			if err != nil {
				zap.L().Warn("discover: skipping candidate", zap.String("url", c.URL), zap.Error(err))
				continue
			}
			if _, err := env.Store.AddCompetitor(ctx, comp); err != nil {
				return eris.Wrapf(err, "discover: add %s", c.Domain)
			}
			fmt.Fprintf(os.Stderr, "Added %s (%s)\n", comp.Name, comp.Domain)
		}

		if ok, err := writeStructured(os.Stdout, outputFormat(cmd), candidates); ok {
			return err
		}
		if len(candidates) == 0 {
			fmt.Fprintln(os.Stderr, "No candidates found.")
			return nil
		}
		formatCandidates(os.Stdout, candidates)
		return nil
	},
}

func init() {
	discoverCmd.Flags().StringP("project", "p", "", "project id (required with --add)")
	discoverCmd.Flags().Int("add", 0, "add the top N candidates to the project as competitors")
	discoverCmd.Flags().Int("limit", 10, "max candidates to display")
	rootCmd.AddCommand(discoverCmd)
}

func formatCandidates(out io.Writer, candidates []model.CompetitorCandidate) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SCORE\tNAME\tDOMAIN\tURL")
	for _, c := range candidates {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.Score, truncate(c.Name, 40), c.Domain, c.URL)
	}
	_ = w.Flush()
}
