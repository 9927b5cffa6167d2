package plate

import (
	"math"

	"plate-search-service/internal/domain/anpr"
	"plate-search-service/internal/utils"
)

// Combine returns every token as its own candidate followed by both
// concatenation orders of each token pair, since OCR may split one plate
// across two regions in either order. Pair confidence is the lower of the two.
func Combine(tokens []anpr.Token) []anpr.Candidate {
	if len(tokens) == 0 {
		return nil
	}

	cleaned := make([]string, len(tokens))
	out := make([]anpr.Candidate, 0, len(tokens)*len(tokens))
	for i, t := range tokens {
		cleaned[i] = utils.NormalizePlate(t.Text)
		out = append(out, anpr.Candidate{
			Text:       cleaned[i],
			Label:      t.Text,
			Confidence: t.Confidence,
		})
	}

	for i := 0; i < len(tokens); i++ {
		for j := i + 1; j < len(tokens); j++ {
			conf := math.Min(tokens[i].Confidence, tokens[j].Confidence)
			out = append(out,
				anpr.Candidate{
					Text:       cleaned[i] + cleaned[j],
					Label:      tokens[i].Text + "+" + tokens[j].Text,
					Confidence: conf,
				},
				anpr.Candidate{
					Text:       cleaned[j] + cleaned[i],
					Label:      tokens[j].Text + "+" + tokens[i].Text,
					Confidence: conf,
				},
			)
		}
	}
	return out
}
