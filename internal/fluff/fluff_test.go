package fluff

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFluffy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		statement string
		want      bool
	}{
		{"capability claim", "We have the capability to execute", true},
		{"specific pricing claim", "Competitor X added SSO to its Enterprise plan per its pricing page, published 2 months ago", false},
		{"evolving needs", "Our platform adapts to the evolving needs of modern customers across every segment", true},
		{"unqualified opportunity", "There is a significant opportunity in the mid-market segment for teams like ours", true},
		{"buzzwords", "A best-in-class, seamless experience for every stakeholder in the organization", true},
		{"empty", "   ", true},
		{"short and thin", "Better onboarding", true},
		{"short but dense", "Beta cut Pro tier price 20% in March", false},
		{"no signals few tokens", "it is what it is and we like it a lot", true},
		{"long without signals but many tokens", "onboarding flows feel slow compared with peers because setup requires manual imports and account provisioning", false},
		{"acronym only signal", "Rivals now ship native SAML login for smaller accounts without sales calls", false},
		{"changelog reference", "changelog shows weekly releases of audit logging improvements for admins", false},
		{"fullwidth digits normalize", "Acme raised prices by ２０％ on the starter plan last quarter", false},
		{"case insensitive ban", "WE HAVE THE CAPABILITY TO DELIVER", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsFluffy(tt.statement), tt.statement)
		})
	}
}

func TestInspect(t *testing.T) {
	t.Parallel()

	sig := Inspect("Competitor X added SSO to its Enterprise plan per its pricing page, published 2 months ago")
	assert.True(t, sig.Measurable)
	assert.True(t, sig.SourceKeyword)
	assert.True(t, sig.NamedEntity)
	assert.False(t, sig.BannedPhraseFound)
	assert.GreaterOrEqual(t, sig.MeaningfulTokens, 5)

	sig = Inspect("We have the capability to execute")
	assert.True(t, sig.BannedPhraseFound)
	assert.False(t, sig.Measurable)
	assert.False(t, sig.NamedEntity)
}

func TestHasBannedPhrase(t *testing.T) {
	t.Parallel()

	assert.True(t, HasBannedPhrase("There is a huge opportunity to grow"))
	assert.True(t, HasBannedPhrase("Huge opportunity"))
	assert.True(t, HasBannedPhrase("ＳＴＡＹ ahead of the curve"))
	// Short but plain headlines are not banned, even though IsFluffy rejects them.
	assert.False(t, HasBannedPhrase("Self-serve SSO"))
	assert.True(t, IsFluffy("Self-serve SSO"))
	assert.False(t, HasBannedPhrase("Undercut Beta's SSO price by 20%"))
}

func TestHasNamedEntity_SentenceStartIgnored(t *testing.T) {
	t.Parallel()

	assert.False(t, hasNamedEntity("Teams want faster setup. Many churn early."))
	assert.True(t, hasNamedEntity("Teams compare us with Linear before buying."))
	assert.True(t, hasNamedEntity("teams ask for SSO"))
}
