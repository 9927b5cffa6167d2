package plate

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"plate-search-service/internal/utils"
)

type MatchResult struct {
	IsMatch    bool
	Similarity float64
	Variation  string
}

// Matcher scores candidates against the variation set of a single target.
// It is immutable after construction and safe for concurrent use.
type Matcher struct {
	target     string
	threshold  float64
	variations []string
}

func NewMatcher(target string, threshold float64) *Matcher {
	return &Matcher{
		target:     target,
		threshold:  threshold,
		variations: Variations(target),
	}
}

func (m *Matcher) Target() string {
	return m.target
}

func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Variations returns a copy of the sorted variation set.
func (m *Matcher) Variations() []string {
	out := make([]string, len(m.variations))
	copy(out, m.variations)
	return out
}

// Match normalizes candidate and compares it with every variation. An exact
// hit returns immediately with similarity 1. Otherwise the highest ratio wins,
// ties going to the lexicographically smallest variation. When nothing
// overlaps at all the reported variation is the normalized candidate.
func (m *Matcher) Match(candidate string) MatchResult {
	c := utils.NormalizePlate(candidate)

	for _, v := range m.variations {
		if c == v {
			return MatchResult{IsMatch: true, Similarity: 1.0, Variation: v}
		}
	}

	best := 0.0
	bestVariation := c
	for _, v := range m.variations {
		if s := Similarity(c, v); s > best {
			best = s
			bestVariation = v
		}
	}

	return MatchResult{
		IsMatch:    best >= m.threshold,
		Similarity: best,
		Variation:  bestVariation,
	}
}

// Match is a one-shot helper over NewMatcher.
func Match(candidate, target string, threshold float64) MatchResult {
	return NewMatcher(target, threshold).Match(candidate)
}

// Similarity is the Ratcliff/Obershelp ratio of a and b: twice the length of
// the matching blocks over the combined length. Two empty strings score 1.
func Similarity(a, b string) float64 {
	return difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, "")).Ratio()
}
