package triage

import "github.com/cloudflare/ahocorasick"

// Keyword tiers for severity assessment. Tiers are scanned independently and
// each tier contributes its bonus at most once per complaint.
var urgentKeywords = []string{
	"emergency", "urgent", "danger", "critical", "immediate", "asap",
	"life-threatening", "injury", "injured", "accident", "severe",
	"flooding", "fire", "gas leak", "explosion", "electrical hazard",
}

var highKeywords = []string{
	"broken", "leak", "unsafe", "hazard", "risk", "damaged",
	"blocked", "overflowing", "major", "serious", "urgent",
}

var moderateKeywords = []string{
	"repair", "fix", "problem", "issue", "concern", "needs attention",
	"faulty", "not working", "malfunctioning",
}

// tierMatcher wraps an Aho-Corasick matcher for one keyword tier.
type tierMatcher struct {
	matcher *ahocorasick.Matcher
	bonus   int
}

func newTierMatcher(keywords []string, bonus int) tierMatcher {
	return tierMatcher{
		matcher: ahocorasick.NewStringMatcher(keywords),
		bonus:   bonus,
	}
}

// score returns the tier bonus if any keyword occurs in the text, else 0.
// The text must already be lowercased. Matchers are shared across requests
// and the consumer goroutine, so only the thread-safe match may be used here.
func (t tierMatcher) score(text []byte) int {
	if len(t.matcher.MatchThreadSafe(text)) > 0 {
		return t.bonus
	}
	return 0
}
