package router

import "strings"

// Keyword groups used by the complexity score. Heavy intents push a query
// toward larger models; light intents are simple lookups a cheap model
// answers well.
var heavyIntents = []string{
	"analyze", "summarize", "summarise", "plan", "compare", "explain",
	"draft", "rewrite", "recommend", "prioritize", "prioritise", "why",
}

var lightIntents = []string{
	"list", "show", "when is", "what time", "where is", "remind", "status",
}

// ScoreComplexity produces a deterministic 0-10 complexity estimate for a
// query from its text, intent keywords, question density and conversation
// length. Thresholding into tiers happens in the router.
func ScoreComplexity(query string, historyLen int) int {
	score := 0
	lower := strings.ToLower(query)

	switch {
	case len(query) > 400:
		score += 3
	case len(query) > 200:
		score += 2
	case len(query) > 80:
		score += 1
	}

	questions := strings.Count(query, "?")
	if questions > 2 {
		questions = 2
	}
	score += questions

	switch {
	case historyLen >= 10:
		score += 2
	case historyLen >= 4:
		score += 1
	}

	for _, kw := range heavyIntents {
		if strings.Contains(lower, kw) {
			score += 3
			break
		}
	}
	for _, kw := range lightIntents {
		if strings.Contains(lower, kw) {
			score -= 2
			break
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}
	return score
}
