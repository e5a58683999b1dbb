package opportunity

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/opportunity-cli/internal/evidence"
	"github.com/sells-group/opportunity-cli/internal/model"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func cite(url string, st model.SourceType, date time.Time, comp string) model.Citation {
	return model.Citation{URL: url, SourceType: st, Date: date, CompetitorID: comp}
}

func TestTitleSimilarity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, TitleSimilarity("Self-serve SSO for SMB plans", "SSO for SMB self-serve plans"), 1e-9)
	assert.InDelta(t, 1.0, TitleSimilarity("The SSO gap", "SSO gap"), 1e-9)
	assert.InDelta(t, 0.0, TitleSimilarity("Usage pricing", "Audit logs"), 1e-9)
	assert.InDelta(t, 0.5, TitleSimilarity("audit logs export", "audit logs retention"), 1e-9)
	assert.InDelta(t, 0.0, TitleSimilarity("", ""), 1e-9)
}

func mergeFixture() []model.Opportunity {
	return []model.Opportunity{
		{
			ID:    "b",
			Title: "SSO for SMB self-serve plans",
			Citations: []model.Citation{
				cite("https://x.com/pricing/", model.SourcePricing, now, "c1"),
			},
			Claims: []string{"SSO is enterprise-only at X"},
		},
		{
			ID:    "c",
			Title: "Usage-based pricing for API",
			Citations: []model.Citation{
				cite("https://z.com/pricing", model.SourcePricing, now, "c3"),
			},
		},
		{
			ID:    "a",
			Title: "Self-serve SSO for SMB plans",
			Citations: []model.Citation{
				cite("https://x.com/pricing?utm_source=a", model.SourcePricing, now, "c1"),
				cite("https://y.com/docs/sso", model.SourceDocs, now, "c2"),
			},
			Claims: []string{"SSO is enterprise-only at X"},
		},
	}
}

func TestMerge_CombinesEquivalentTitles(t *testing.T) {
	t.Parallel()

	out := Merge(mergeFixture(), nil, 0)
	require.Len(t, out, 2)

	first := out[0]
	assert.Equal(t, "a", first.ID)
	assert.Equal(t, 2, first.MergeCount)
	assert.Equal(t, []string{"Self-serve SSO for SMB plans", "SSO for SMB self-serve plans"}, first.MergeGroup)
	assert.Len(t, first.Citations, 2, "citations are unioned by canonical URL")
	assert.Equal(t, []string{"SSO is enterprise-only at X"}, first.Claims)

	second := out[1]
	assert.Equal(t, "c", second.ID)
	assert.Equal(t, 1, second.MergeCount)
	assert.Empty(t, second.MergeGroup)
}

func TestMerge_IndependentOfInputOrder(t *testing.T) {
	t.Parallel()

	in := mergeFixture()
	reversed := []model.Opportunity{in[2], in[1], in[0]}
	assert.Equal(t, Merge(in, nil, 0), Merge(reversed, nil, 0))
}

func TestMerge_CustomSimilarity(t *testing.T) {
	t.Parallel()

	never := func(a, b string) float64 { return 0 }
	out := Merge(mergeFixture(), never, 0.5)
	assert.Len(t, out, 3)

	always := func(a, b string) float64 { return 1 }
	out = Merge(mergeFixture(), always, 0.5)
	require.Len(t, out, 1)
	assert.Equal(t, 3, out[0].MergeCount)
}

func TestMergeIndicator(t *testing.T) {
	t.Parallel()

	single := model.Opportunity{Title: "Only", MergeCount: 1, MergeGroup: []string{"Only"}}
	assert.Empty(t, MergeIndicator(single, 3))

	three := model.Opportunity{MergeCount: 3, MergeGroup: []string{"A", "B", "C"}}
	assert.Equal(t, "Merged from 3: A; B; C", MergeIndicator(three, 3))
	assert.Equal(t, "Merged from 3: A; B (+1 more)", MergeIndicator(three, 2))
	assert.Equal(t, "Merged from 3: A; B; C", MergeIndicator(three, 0))
}

func TestRecency(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, Recency([]model.Citation{cite("u", "", now, "")}, now, 90), 1e-9)
	assert.InDelta(t, 0.5, Recency([]model.Citation{cite("u", "", now.AddDate(0, 0, -90), "")}, now, 90), 1e-9)
	assert.InDelta(t, 1.0, Recency([]model.Citation{cite("u", "", now.AddDate(0, 0, 5), "")}, now, 90), 1e-9)
	assert.InDelta(t, 0.0, Recency([]model.Citation{cite("u", "", time.Time{}, "")}, now, 90), 1e-9)

	// Newest citation wins.
	mixed := []model.Citation{
		cite("a", "", now.AddDate(-1, 0, 0), ""),
		cite("b", "", now, ""),
	}
	assert.InDelta(t, 1.0, Recency(mixed, now, 90), 1e-9)
}

func TestConsistency(t *testing.T) {
	t.Parallel()

	cits := []model.Citation{cite("a", "", now, "c1"), cite("b", "", now, "c1"), cite("c", "", now, "c2")}
	assert.InDelta(t, 0.5, Consistency(cits, evidence.Coverage{CoveredCompetitors: 4}), 1e-9)
	assert.InDelta(t, 1.0, Consistency(cits, evidence.Coverage{CoveredCompetitors: 1}), 1e-9)
	assert.InDelta(t, 0.0, Consistency(cits, evidence.Coverage{}), 1e-9)
}

func strongCitations() []model.Citation {
	types := []model.SourceType{model.SourcePricing, model.SourceDocs, model.SourceReviews, model.SourceChangelog}
	var out []model.Citation
	for i := 0; i < 10; i++ {
		comp := "c1"
		if i%2 == 1 {
			comp = "c2"
		}
		out = append(out, cite(fmt.Sprintf("https://ev.example.com/%d", i), types[i%len(types)], now, comp))
	}
	return out
}

func TestRank_CompositeAndBreakdown(t *testing.T) {
	t.Parallel()

	cov := evidence.Coverage{CoveredCompetitors: 2}
	opps := []model.Opportunity{
		{ID: "weak", Title: "Weak", Citations: []model.Citation{cite("https://a.com/p", model.SourcePricing, now, "c1")}},
		{ID: "strong", Title: "Strong", Citations: strongCitations()},
	}

	out := Rank(opps, cov, DefaultRankConfig(), now)
	require.Len(t, out, 2)

	assert.Equal(t, "strong", out[0].ID)
	assert.InDelta(t, 100.0, out[0].Score, 1e-9)
	require.NotNil(t, out[0].Confidence)
	assert.Equal(t, model.ConfidenceStrong, out[0].Confidence.Level)

	assert.Equal(t, "weak", out[1].ID)
	// 0.5*0.25 + 0.2*1 + 0.3*0.5
	assert.InDelta(t, 47.5, out[1].Score, 1e-9)
	require.NotNil(t, out[1].Breakdown)
	assert.InDelta(t, 0.25, out[1].Breakdown.Strength, 1e-9)
	assert.InDelta(t, 1.0, out[1].Breakdown.Recency, 1e-9)
	assert.InDelta(t, 0.5, out[1].Breakdown.Consistency, 1e-9)
}

func TestRank_TieBreaks(t *testing.T) {
	t.Parallel()

	cov := evidence.Coverage{CoveredCompetitors: 1}
	one := []model.Citation{cite("https://a.com/1", model.SourceDocs, now, "c1")}
	two := []model.Citation{
		cite("https://a.com/1", model.SourceDocs, now, "c1"),
		cite("https://a.com/2", model.SourceDocs, now, "c1"),
	}
	opps := []model.Opportunity{
		{ID: "1", Title: "Beta", Citations: one},
		{ID: "2", Title: "Alpha", Citations: one},
		{ID: "3", Title: "Zulu", Citations: two},
	}

	out := Rank(opps, cov, DefaultRankConfig(), now)
	require.Len(t, out, 3)
	assert.Equal(t, out[0].Score, out[2].Score, "fixture must produce a score tie")
	assert.Equal(t, []string{"Zulu", "Alpha", "Beta"}, []string{out[0].Title, out[1].Title, out[2].Title})
}

func TestRank_ZeroWeightsFallBackToDefaults(t *testing.T) {
	t.Parallel()

	cov := evidence.Coverage{CoveredCompetitors: 2}
	o := model.Opportunity{Title: "S", Citations: strongCitations()}
	score, _, _ := ScoreOne(o, cov, RankConfig{}, now)
	assert.InDelta(t, 100.0, score, 1e-9)
}

func TestRankOpportunities_MergesThenRanks(t *testing.T) {
	t.Parallel()

	cov := evidence.Coverage{CoveredCompetitors: 3}
	out := RankOpportunities(mergeFixture(), cov, DefaultRankConfig(), nil, now)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, 2, out[0].MergeCount)
	assert.Greater(t, out[0].Score, out[1].Score)
}
