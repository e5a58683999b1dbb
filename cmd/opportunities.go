package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var opportunitiesCmd = &cobra.Command{
	Use:     "opportunities",
	Aliases: []string{"opps"},
	Short:   "Show the ranked opportunities of the latest completed run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		projectID, _ := cmd.Flags().GetString("project")

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		published, ok, err := env.Orch.LatestOpportunities(ctx, projectID)
		if err != nil {
			return eris.Wrap(err, "opportunities")
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "No opportunities yet. Run `opportunity-cli analyze` first.")
			return nil
		}

		if ok, err := writeStructured(os.Stdout, outputFormat(cmd), published); ok {
			return err
		}
		fmt.Fprintf(os.Stdout, "Run %s\n\n", published.RunID)
		formatOpportunities(os.Stdout, published.Opportunities)
		return nil
	},
}

func init() {
	opportunitiesCmd.Flags().StringP("project", "p", "", "project id")
	_ = opportunitiesCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(opportunitiesCmd)
}
