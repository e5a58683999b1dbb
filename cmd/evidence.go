package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/opportunity-cli/internal/collect"
	"github.com/sells-group/opportunity-cli/internal/evidence"
	"github.com/sells-group/opportunity-cli/internal/model"
	"github.com/sells-group/opportunity-cli/internal/store"
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Add, import, collect and list competitor evidence",
}

var evidenceAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Add one evidence item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, _ := cmd.Flags().GetString("project")
		competitorID, _ := cmd.Flags().GetString("competitor")
		sourceType, _ := cmd.Flags().GetString("source-type")
		title, _ := cmd.Flags().GetString("title")
		content, _ := cmd.Flags().GetString("content")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		item := evidenceRecord{
			Competitor: competitorID,
			URL:        args[0],
			SourceType: sourceType,
			Title:      title,
			Content:    content,
		}
		added, err := storeEvidence(cmd, st, projectID, []evidenceRecord{item}, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Added %d evidence item(s)\n", added)
		return nil
	},
}

var evidenceImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import evidence items from a YAML file",
	Long: `Import evidence from a YAML list. Each entry needs a url and a competitor
(id, name or domain); source_type defaults to one inferred from the url.

  - competitor: acme.com
    url: https://acme.com/pricing
    source_type: pricing
    content: SSO is Enterprise only`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, _ := cmd.Flags().GetString("project")

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "evidence import: open file")
		}
		defer f.Close() //nolint:errcheck

		records, err := parseEvidenceYAML(f)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		added, err := storeEvidence(cmd, st, projectID, records, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Imported %d new evidence item(s) from %d record(s)\n", added, len(records))
		return nil
	},
}

var evidenceCollectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Search the web for evidence on every competitor of a project",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		projectID, _ := cmd.Flags().GetString("project")

		if cfg.Jina.Key == "" {
			return eris.New("evidence collect requires OPPORTUNITY_JINA_KEY")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		competitors, err := st.ListCompetitors(ctx, projectID)
		if err != nil {
			return eris.Wrap(err, "evidence collect")
		}
		if len(competitors) == 0 {
			return eris.Errorf("project %s has no competitors", projectID)
		}

		src := collect.NewJinaSource(newJinaClient(), cfg.Collect)
		items, err := src.Collect(ctx, projectID, competitors)
		if err != nil {
			return eris.Wrap(err, "evidence collect")
		}
		added, err := st.AddEvidence(ctx, items)
		if err != nil {
			return eris.Wrap(err, "evidence collect: store")
		}
		fmt.Fprintf(os.Stdout, "Collected %d item(s), %d new\n", len(items), added)
		return nil
	},
}

var evidenceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the evidence of a project",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		projectID, _ := cmd.Flags().GetString("project")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		items, err := st.ListEvidence(ctx, projectID)
		if err != nil {
			return eris.Wrap(err, "evidence list")
		}

		if ok, err := writeStructured(os.Stdout, outputFormat(cmd), items); ok {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "No evidence found.")
			return nil
		}
		formatEvidence(os.Stdout, items)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{evidenceAddCmd, evidenceImportCmd, evidenceCollectCmd, evidenceListCmd} {
		c.Flags().StringP("project", "p", "", "project id")
		_ = c.MarkFlagRequired("project")
	}
	evidenceAddCmd.Flags().String("competitor", "", "competitor id, name or domain")
	evidenceAddCmd.Flags().String("source-type", "", "pricing, docs, reviews, changelog, marketing or other (inferred from the url when empty)")
	evidenceAddCmd.Flags().String("title", "", "page title")
	evidenceAddCmd.Flags().String("content", "", "extracted text")
	_ = evidenceAddCmd.MarkFlagRequired("competitor")

	evidenceCmd.AddCommand(evidenceAddCmd)
	evidenceCmd.AddCommand(evidenceImportCmd)
	evidenceCmd.AddCommand(evidenceCollectCmd)
	evidenceCmd.AddCommand(evidenceListCmd)
	rootCmd.AddCommand(evidenceCmd)
}

// evidenceRecord is the import file layout of one evidence item.
type evidenceRecord struct {
	Competitor  string    `yaml:"competitor"`
	URL         string    `yaml:"url"`
	SourceType  string    `yaml:"source_type"`
	Title       string    `yaml:"title"`
	Content     string    `yaml:"content"`
	ExtractedAt time.Time `yaml:"extracted_at"`
}

func parseEvidenceYAML(r io.Reader) ([]evidenceRecord, error) {
	var records []evidenceRecord
	if err := yaml.NewDecoder(r).Decode(&records); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "evidence import: parse yaml")
	}
	return records, nil
}

// resolveCompetitor matches ref against competitor ids, names and domains.
func resolveCompetitor(competitors []model.Competitor, ref string) (model.Competitor, bool) {
	domain := evidence.Domain(ref)
	for _, c := range competitors {
		if c.ID == ref || c.Name == ref || (domain != "" && c.Domain == domain) {
			return c, true
		}
	}
	return model.Competitor{}, false
}

// buildEvidence converts records into normalized evidence items of
// projectID. Records without an extraction time are stamped with now.
func buildEvidence(projectID string, competitors []model.Competitor, records []evidenceRecord, now time.Time) ([]model.EvidenceItem, error) {
	items := make([]model.EvidenceItem, 0, len(records))
	for i, r := range records {
		if r.URL == "" {
			return nil, eris.Errorf("record %d: url is required", i+1)
		}
		c, ok := resolveCompetitor(competitors, r.Competitor)
		if !ok {
			return nil, eris.Errorf("record %d: unknown competitor %q", i+1, r.Competitor)
		}
		st := model.ParseSourceType(r.SourceType)
		if r.SourceType == "" {
			st = collect.ClassifySource(r.URL)
		}
		at := r.ExtractedAt
		if at.IsZero() {
			at = now
		}
		items = append(items, evidence.Normalize(model.EvidenceItem{
			ProjectID:    projectID,
			CompetitorID: c.ID,
			URL:          r.URL,
			SourceType:   st,
			Title:        r.Title,
			Content:      r.Content,
			ExtractedAt:  at.UTC(),
		}))
	}
	return items, nil
}

func storeEvidence(cmd *cobra.Command, st store.Store, projectID string, records []evidenceRecord, now time.Time) (int, error) {
	ctx := cmd.Context()
	competitors, err := st.ListCompetitors(ctx, projectID)
	if err != nil {
		return 0, eris.Wrap(err, "list competitors")
	}
	items, err := buildEvidence(projectID, competitors, records, now)
	if err != nil {
		return 0, err
	}
	added, err := st.AddEvidence(ctx, items)
	if err != nil {
		return 0, eris.Wrap(err, "store evidence")
	}
	return added, nil
}

func formatEvidence(out io.Writer, items []model.EvidenceItem) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COMPETITOR\tTYPE\tEXTRACTED\tURL")
	for _, it := range items {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			truncateID(it.CompetitorID), it.SourceType, it.ExtractedAt.Format("2006-01-02"), truncate(it.URL, 80))
	}
	_ = w.Flush()
}
