package dialog

import (
	"github.com/steveyegge/sleuth/internal/types"
)

// positionWeights weight the ranked candidates when computing overall confidence.
var positionWeights = []float64{1.0, 0.8, 0.6, 0.4, 0.2}

// merge folds findings into cands and returns the new ranked top-N.
// A finding whose component and label match an existing candidate replaces its
// description and recommendation and averages the two confidences. Anything
// else is appended as a dialog candidate. cands is not modified.
func merge(cands []types.BottleneckCandidate, findings []Finding, topN int) []types.BottleneckCandidate {
	out := make([]types.BottleneckCandidate, 0, len(cands)+len(findings))
	index := make(map[string]int, len(cands)+len(findings))
	for _, c := range cands {
		index[c.Key()] = len(out)
		out = append(out, c)
	}

	for _, f := range findings {
		incoming := f.candidate()
		i, ok := index[incoming.Key()]
		if !ok {
			index[incoming.Key()] = len(out)
			out = append(out, incoming)
			continue
		}

		existing := out[i]
		updated := existing.WithConfidence((existing.Confidence + incoming.Confidence) / 2)
		if incoming.Description != "" {
			updated.Description = incoming.Description
		}
		if incoming.Recommendation != "" {
			updated.Recommendation = incoming.Recommendation
		}
		if len(incoming.Evidence) > 0 {
			if updated.Evidence == nil {
				updated.Evidence = make(map[string]float64, len(incoming.Evidence))
			}
			for k, v := range incoming.Evidence {
				updated.Evidence[k] = v
			}
		}
		out[i] = updated
	}

	types.RankCandidates(out)
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// overallConfidence is the positional weighted average of the ranked candidates.
func overallConfidence(cands []types.BottleneckCandidate) float64 {
	var sum, weights float64
	for i, c := range cands {
		if i >= len(positionWeights) {
			break
		}
		sum += c.Confidence * positionWeights[i]
		weights += positionWeights[i]
	}
	if weights == 0 {
		return 0
	}
	return types.ClampConfidence(sum / weights)
}
