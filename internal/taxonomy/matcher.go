package taxonomy

import "strings"

// Strategy names reported on matches and in metrics.
const (
	StrategyExact     = "exact"
	StrategySubstring = "substring"
	StrategyTokenSet  = "token_set"
	StrategyNone      = "none"
)

// Normalize lowercases s, turns underscores into spaces and collapses runs of
// whitespace, so "Alstonia_scholaris" and " alstonia  Scholaris" compare equal.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(strings.ToLower(s), "_", " ")), " ")
}

// Matcher is one resolution strategy. Query is already normalized; candidates
// are in catalog order and the first hit wins.
type Matcher interface {
	Name() string
	Match(query string, candidates []Species) (Species, bool)
}

// DefaultMatchers returns the exact, substring, token-set chain.
func DefaultMatchers() []Matcher {
	return []Matcher{ExactMatcher{}, SubstringMatcher{}, TokenSetMatcher{}}
}

// ExactMatcher matches on normalized equality.
type ExactMatcher struct{}

func (ExactMatcher) Name() string { return StrategyExact }

func (ExactMatcher) Match(query string, candidates []Species) (Species, bool) {
	for _, c := range candidates {
		if Normalize(c.ScientificName) == query {
			return c, true
		}
	}
	return Species{}, false
}

// SubstringMatcher first looks for a candidate containing the query, then for
// a candidate contained in the query.
type SubstringMatcher struct{}

func (SubstringMatcher) Name() string { return StrategySubstring }

func (SubstringMatcher) Match(query string, candidates []Species) (Species, bool) {
	for _, c := range candidates {
		if strings.Contains(Normalize(c.ScientificName), query) {
			return c, true
		}
	}
	for _, c := range candidates {
		name := Normalize(c.ScientificName)
		if name != "" && strings.Contains(query, name) {
			return c, true
		}
	}
	return Species{}, false
}

// TokenSetMatcher matches multi-word queries whose every word overlaps some
// word of the candidate, in any order. The candidate needs at least as many
// words as the query.
type TokenSetMatcher struct{}

func (TokenSetMatcher) Name() string { return StrategyTokenSet }

func (TokenSetMatcher) Match(query string, candidates []Species) (Species, bool) {
	words := strings.Fields(query)
	if len(words) < 2 {
		return Species{}, false
	}
	for _, c := range candidates {
		candidateWords := strings.Fields(Normalize(c.ScientificName))
		if len(candidateWords) < len(words) {
			continue
		}
		if allWordsOverlap(words, candidateWords) {
			return c, true
		}
	}
	return Species{}, false
}

func allWordsOverlap(query, candidate []string) bool {
	for _, w := range query {
		found := false
		for _, cw := range candidate {
			if strings.Contains(cw, w) || strings.Contains(w, cw) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
