// Package classify maps free-text maintenance requests to a work group
// and category using keyword heuristics.
package classify

import (
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/upkeep-io/upkeep/pkg/protocol"
)

// Result is the outcome of classifying a request text.
type Result struct {
	Group    protocol.Group `json:"group"`
	Category string         `json:"category"`
	Scores   map[string]int `json:"scores,omitempty"` // "group:category" → score
}

// Classifier maps request text to a (group, category) pair. Pure
// function of the input text, no side effects.
type Classifier interface {
	Classify(text string) Result
}

// category is one scored classification bucket.
type category struct {
	title    string
	keywords []string
}

// KeywordClassifier scores categories by substring keyword hits plus a
// fuzzy-match bonus on the category title.
type KeywordClassifier struct {
	groups map[protocol.Group][]category
}

// NewKeyword returns a classifier loaded with the built-in keyword
// tables for the three work groups.
func NewKeyword() *KeywordClassifier {
	return &KeywordClassifier{groups: builtinCategories}
}

// Classify returns the best-scoring (group, category) pair, or the
// unclassified sentinel when nothing scores above zero. Groups are
// scanned in the fixed protocol.Groups() order and a strictly higher
// score is required to displace the current best, so ties resolve to
// the earliest candidate and the result is a pure function of the
// input text.
func (c *KeywordClassifier) Classify(text string) Result {
	lowered := strings.ToLower(text)

	best := Result{
		Group:    protocol.GroupUnknown,
		Category: "Другое",
		Scores:   make(map[string]int),
	}
	bestScore := 0

	for _, group := range protocol.Groups() {
		for _, cat := range c.groups[group] {
			s := score(lowered, cat)
			best.Scores[string(group)+":"+cat.title] = s
			if s > bestScore {
				bestScore = s
				best.Group = group
				best.Category = cat.title
			}
		}
	}
	return best
}

func score(lowered string, cat category) int {
	n := 0
	for _, kw := range cat.keywords {
		if strings.Contains(lowered, strings.ToLower(kw)) {
			n++
		}
	}
	// The title appearing near-verbatim in the text counts once.
	if partialRatio(strings.ToLower(cat.title), lowered) >= 85 {
		n++
	}
	return n
}

// partialRatio is the best similarity, in percent, between the shorter
// string and any equal-length window of the longer one. A Levenshtein
// sliding window, so a short title only scores on texts that contain
// it (almost) verbatim.
func partialRatio(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	if len(ra) == 0 {
		return 0
	}

	needle := string(ra)
	best := 0
	for i := 0; i+len(ra) <= len(rb); i++ {
		d := fuzzy.LevenshteinDistance(needle, string(rb[i:i+len(ra)]))
		if r := (len(ra) - d) * 100 / len(ra); r > best {
			best = r
		}
	}
	return best
}
