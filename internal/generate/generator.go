// Package generate produces candidate opportunities from collected evidence
// with an LLM.
package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-cli/internal/config"
	"github.com/sells-group/opportunity-cli/internal/evidence"
	"github.com/sells-group/opportunity-cli/internal/model"
	"github.com/sells-group/opportunity-cli/pkg/anthropic"
)

const (
	maxPromptItems   = 60
	maxContentChars  = 1200
	defaultMaxTokens = 4096
)

const systemPrompt = `You are a competitive analyst. From the evidence provided, identify concrete product opportunities: gaps, weaknesses or unmet needs in the competitors' offerings.

Rules:
- Every opportunity must cite at least one evidence URL from the list, copied exactly.
- Claims must be specific: name the competitor, the plan or feature, and the number or date where the evidence gives one.
- Do not invent evidence.

Respond with JSON only:
{"opportunities":[{"title":"...","summary":"...","claims":["..."],"citations":["https://..."]}]}`

// Request is the input to one generation call.
type Request struct {
	Project     model.Project
	Competitors []model.Competitor
	Evidence    []model.EvidenceItem
	Coverage    evidence.Coverage
}

// Generator drafts opportunities with Anthropic.
type Generator struct {
	client anthropic.Client
	cfg    config.AnthropicConfig
}

// New creates a Generator.
func New(client anthropic.Client, cfg config.AnthropicConfig) *Generator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Generator{client: client, cfg: cfg}
}

type draft struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Claims    []string `json:"claims"`
	Citations []string `json:"citations"`
}

type draftResponse struct {
	Opportunities []draft `json:"opportunities"`
}

// Generate asks the model for opportunities and resolves their citations
// against the request evidence. Citations that match no evidence item are
// kept with source type other; validation decides whether to drop them.
func (g *Generator) Generate(ctx context.Context, req Request) ([]model.Opportunity, error) {
	log := zap.L().With(zap.String("project_id", req.Project.ID), zap.Int("evidence", len(req.Evidence)))

	msgReq := anthropic.MessageRequest{
		Model:     g.cfg.Model,
		MaxTokens: g.cfg.MaxTokens,
		System: []anthropic.SystemBlock{{
			Text:         systemPrompt,
			CacheControl: &anthropic.CacheControl{TTL: "5m"},
		}},
		Messages: []anthropic.Message{{Role: "user", Content: BuildPrompt(req)}},
	}
	if g.cfg.Temp > 0 {
		temp := g.cfg.Temp
		msgReq.Temperature = &temp
	}

	resp, err := g.client.CreateMessage(ctx, msgReq)
	if err != nil {
		return nil, eris.Wrap(err, "generate: create message")
	}
	resp.Usage.LogCost(g.cfg.Model, "generate")

	opps, err := ParseOpportunities(resp.Text(), req.Project.ID, req.Evidence)
	if err != nil {
		return nil, err
	}
	log.Info("generate: drafted opportunities", zap.Int("count", len(opps)))
	return opps, nil
}

// BuildPrompt renders the evidence listing sent to the model. Items are
// ordered by competitor then URL so the same evidence yields the same prompt.
func BuildPrompt(req Request) string {
	names := make(map[string]string, len(req.Competitors))
	for _, c := range req.Competitors {
		names[c.ID] = c.Name
	}

	items := evidence.Dedupe(req.Evidence)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CompetitorID != items[j].CompetitorID {
			return names[items[i].CompetitorID] < names[items[j].CompetitorID]
		}
		return items[i].URL < items[j].URL
	})
	if len(items) > maxPromptItems {
		items = items[:maxPromptItems]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", req.Project.Name)
	b.WriteString("Competitors:\n")
	for _, c := range req.Competitors {
		fmt.Fprintf(&b, "- %s (%s)\n", c.Name, c.Domain)
	}
	fmt.Fprintf(&b, "\nEvidence (%d items):\n", len(items))
	for i, it := range items {
		content := strings.TrimSpace(it.Content)
		if len(content) > maxContentChars {
			content = content[:maxContentChars] + "..."
		}
		fmt.Fprintf(&b, "\n[%d] %s | %s | %s | %s\n%s\n",
			i+1, names[it.CompetitorID], it.SourceType, it.ExtractedAt.Format("2006-01-02"), it.URL, content)
	}
	return b.String()
}

// ParseOpportunities decodes a model response into opportunities. IDs are
// derived from the project and title so regeneration is stable.
func ParseOpportunities(text, projectID string, items []model.EvidenceItem) ([]model.Opportunity, error) {
	var parsed draftResponse
	if err := json.Unmarshal([]byte(cleanJSON(text)), &parsed); err != nil {
		return nil, eris.Wrap(err, "generate: parse response")
	}

	byURL := make(map[string]model.EvidenceItem, len(items))
	for _, it := range evidence.Dedupe(items) {
		if _, ok := byURL[it.URL]; !ok {
			byURL[it.URL] = it
		}
	}

	out := make([]model.Opportunity, 0, len(parsed.Opportunities))
	for _, d := range parsed.Opportunities {
		title := strings.TrimSpace(d.Title)
		if title == "" {
			continue
		}
		o := model.Opportunity{
			ID:      uuid.NewSHA1(uuid.NameSpaceURL, []byte(projectID+"|"+title)).String(),
			Title:   title,
			Summary: strings.TrimSpace(d.Summary),
		}
		for _, c := range d.Claims {
			if c = strings.TrimSpace(c); c != "" {
				o.Claims = append(o.Claims, c)
			}
		}
		seen := make(map[string]bool)
		for _, raw := range d.Citations {
			u := evidence.CanonicalURL(strings.TrimSpace(raw))
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			if it, ok := byURL[u]; ok {
				o.Citations = append(o.Citations, evidence.ToCitation(it))
			} else {
				o.Citations = append(o.Citations, model.Citation{URL: u, SourceType: model.SourceOther})
			}
		}
		out = append(out, o)
	}
	return out, nil
}

// cleanJSON strips markdown fences and extracts the JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
