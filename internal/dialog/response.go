package dialog

import (
	"fmt"
	"strings"

	"github.com/steveyegge/sleuth/internal/ai"
	"github.com/steveyegge/sleuth/internal/types"
)

// Finding is one hypothesis returned by the reasoning service.
type Finding struct {
	Component      string             `json:"component"`
	Label          string             `json:"label"`
	Description    string             `json:"description"`
	Confidence     float64            `json:"confidence"`
	Severity       int                `json:"severity"`
	Recommendation string             `json:"recommendation"`
	Evidence       map[string]float64 `json:"evidence"`
}

// Answer is a reply to one of the turn's questions.
type Answer struct {
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

// Response is the structured reply expected from the reasoning service.
type Response struct {
	Findings []Finding `json:"findings"`
	Answers  []Answer  `json:"answers"`
}

// defaultLabel names a finding that arrived without a label.
const defaultLabel = "general"

// parseResponse decodes a reply. A reply that is not JSON, or carries
// neither findings nor answers, is unusable.
func parseResponse(content string) (Response, error) {
	result := ai.Parse[Response](content, ai.ParseOptions{Context: "reasoning response"})
	if !result.Success {
		return Response{}, fmt.Errorf("%w: %s", types.ErrReasoningFailure, result.Error)
	}

	resp := Response{Answers: result.Data.Answers}
	for _, f := range result.Data.Findings {
		if strings.TrimSpace(f.Component) == "" && strings.TrimSpace(f.Label) == "" && strings.TrimSpace(f.Description) == "" {
			continue
		}
		if strings.TrimSpace(f.Label) == "" {
			f.Label = defaultLabel
		}
		f.Label = strings.TrimSpace(f.Label)
		f.Confidence = types.ClampConfidence(f.Confidence)
		if f.Severity < 0 {
			f.Severity = 0
		}
		resp.Findings = append(resp.Findings, f)
	}

	if len(resp.Findings) == 0 && len(resp.Answers) == 0 {
		return Response{}, fmt.Errorf("%w: response contained no findings or answers", types.ErrReasoningFailure)
	}
	return resp, nil
}

// candidate converts f into a dialog-origin candidate.
func (f Finding) candidate() types.BottleneckCandidate {
	c := types.BottleneckCandidate{
		Component:      types.ParseComponent(f.Component),
		Label:          f.Label,
		Description:    f.Description,
		Severity:       f.Severity,
		Origin:         types.OriginDialog,
		Recommendation: f.Recommendation,
	}
	if len(f.Evidence) > 0 {
		c.Evidence = make(map[string]float64, len(f.Evidence))
		for k, v := range f.Evidence {
			c.Evidence[k] = v
		}
	}
	return c.WithConfidence(f.Confidence)
}
