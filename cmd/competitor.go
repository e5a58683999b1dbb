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
	"github.com/sells-group/opportunity-cli/internal/model"
)

var competitorCmd = &cobra.Command{
	Use:   "competitor",
	Short: "Manage the competitors of a project",
}

var competitorAddCmd = &cobra.Command{
	Use:   "add <name> <website>",
	Short: "Add a competitor to a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, _ := cmd.Flags().GetString("project")

		c, err := competitorFromArgs(projectID, args[0], args[1])
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := st.GetProject(ctx, projectID)
		if err != nil {
			return eris.Wrap(err, "competitor add")
		}
		if p == nil {
			return eris.Errorf("project %s not found", projectID)
		}

		added, err := st.AddCompetitor(ctx, c)
		if err != nil {
			return eris.Wrap(err, "competitor add")
		}

		if ok, err := writeStructured(os.Stdout, outputFormat(cmd), added); ok {
			return err
		}
		fmt.Fprintf(os.Stdout, "Added %s (%s) to %s\n", added.Name, added.Domain, p.Name)
		return nil
	},
}

var competitorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the competitors of a project",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		projectID, _ := cmd.Flags().GetString("project")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		competitors, err := st.ListCompetitors(ctx, projectID)
		if err != nil {
			return eris.Wrap(err, "competitor list")
		}

		if ok, err := writeStructured(os.Stdout, outputFormat(cmd), competitors); ok {
			return err
		}
		if len(competitors) == 0 {
			fmt.Fprintln(os.Stderr, "No competitors found.")
			return nil
		}
		formatCompetitors(os.Stdout, competitors)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{competitorAddCmd, competitorListCmd} {
		c.Flags().StringP("project", "p", "", "project id")
		_ = c.MarkFlagRequired("project")
	}
	competitorCmd.AddCommand(competitorAddCmd)
	competitorCmd.AddCommand(competitorListCmd)
	rootCmd.AddCommand(competitorCmd)
}

// competitorFromArgs builds a competitor from a name and website. A bare
// domain is accepted as the website.
func competitorFromArgs(projectID, name, website string) (model.Competitor, error) {
	if name == "" {
		return model.Competitor{}, eris.New("competitor name is required")
	}
	if !strings.Contains(website, "://") {
		website = "https://" + website
	}
	domain := evidence.Domain(website)
	if domain == "" {
		return model.Competitor{}, eris.Errorf("invalid website %q", website)
	}
	return model.Competitor{
		ProjectID: projectID,
		Name:      name,
		Website:   evidence.CanonicalURL(website),
		Domain:    domain,
	}, nil
}

func formatCompetitors(out io.Writer, competitors []model.Competitor) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tDOMAIN\tWEBSITE")
	for _, c := range competitors {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", truncateID(c.ID), c.Name, c.Domain, c.Website)
	}
	_ = w.Flush()
}
