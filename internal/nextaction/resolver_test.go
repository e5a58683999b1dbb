package nextaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/opportunity-cli/internal/evidence"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	sufficient := evidence.Coverage{Sufficient: true}
	insufficient := evidence.Coverage{
		Missing: []evidence.MissingReason{{Code: evidence.ReasonNeedEvidence, Count: 2, Message: "need evidence for 2 more competitors"}},
	}

	tests := []struct {
		name  string
		state State
		want  Kind
	}{
		{"too few competitors wins over sufficient evidence", State{CompetitorCount: 1, MinCompetitors: 3, Coverage: sufficient, HasOpportunities: true}, AddCompetitors},
		{"too few competitors wins over missing evidence", State{CompetitorCount: 1, MinCompetitors: 3, Coverage: insufficient}, AddCompetitors},
		{"insufficient evidence", State{CompetitorCount: 3, MinCompetitors: 3, Coverage: insufficient, HasOpportunities: true}, FetchEvidence},
		{"ready to generate", State{CompetitorCount: 4, MinCompetitors: 3, Coverage: sufficient}, GenerateOpportunities},
		{"done", State{CompetitorCount: 4, MinCompetitors: 3, Coverage: sufficient, HasOpportunities: true}, ViewOpportunities},
		{"zero state", State{}, AddCompetitors},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Resolve(tt.state)
			assert.Equal(t, tt.want, got.Kind)
			assert.NotEmpty(t, got.Message)
		})
	}
}

func TestResolve_Messages(t *testing.T) {
	t.Parallel()

	a := Resolve(State{CompetitorCount: 1, MinCompetitors: 3})
	assert.Equal(t, "Add 2 more competitors to start an analysis.", a.Message)
	require.Len(t, a.Reasons, 1)
	assert.Equal(t, evidence.ReasonNeedCompetitors, a.Reasons[0].Code)
	assert.Equal(t, 2, a.Reasons[0].Count)

	a = Resolve(State{CompetitorCount: 3, MinCompetitors: 3, Coverage: evidence.Coverage{
		Missing: []evidence.MissingReason{{Code: evidence.ReasonNeedEvidence, Count: 1}},
	}})
	assert.Equal(t, "Fetch evidence for 1 more competitor.", a.Message)
	assert.Len(t, a.Reasons, 1)
}
