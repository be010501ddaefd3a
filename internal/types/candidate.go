package types

import (
	"sort"
	"strings"
)

// Component identifies the subsystem a bottleneck belongs to.
type Component string

const (
	ComponentCPU     Component = "CPU"
	ComponentMemory  Component = "Memory"
	ComponentDisk    Component = "Disk"
	ComponentEngine  Component = "Engine"
	ComponentNetwork Component = "Network"
	ComponentOther   Component = "Other"
)

// ParseComponent maps free text onto a Component, case-insensitively.
// Unknown names map to ComponentOther.
func ParseComponent(s string) Component {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu", "processor":
		return ComponentCPU
	case "memory", "mem", "ram":
		return ComponentMemory
	case "disk", "io", "storage":
		return ComponentDisk
	case "engine", "database", "db", "sql":
		return ComponentEngine
	case "network", "net":
		return ComponentNetwork
	default:
		return ComponentOther
	}
}

// Origin records who produced a candidate.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginDialog Origin = "dialog"
)

// BottleneckCandidate is one hypothesis about where the bottleneck lies.
type BottleneckCandidate struct {
	Component          Component          `json:"component"`
	Label              string             `json:"label"`
	Description        string             `json:"description"`
	Confidence         float64            `json:"confidence"`
	Severity           int                `json:"severity"`
	Evidence           map[string]float64 `json:"evidence,omitempty"`
	Origin             Origin             `json:"origin"`
	SuggestedQuestions []string           `json:"suggested_questions,omitempty"`
	Recommendation     string             `json:"recommendation,omitempty"`
}

// Key is the identity used when merging candidates from different origins.
func (c BottleneckCandidate) Key() string {
	return strings.ToLower(string(c.Component)) + "/" + strings.ToLower(strings.TrimSpace(c.Label))
}

// Clone returns a deep copy.
func (c BottleneckCandidate) Clone() BottleneckCandidate {
	out := c
	if c.Evidence != nil {
		out.Evidence = make(map[string]float64, len(c.Evidence))
		for k, v := range c.Evidence {
			out.Evidence[k] = v
		}
	}
	if c.SuggestedQuestions != nil {
		out.SuggestedQuestions = append([]string(nil), c.SuggestedQuestions...)
	}
	return out
}

// WithConfidence returns a copy with confidence clamped into [0, 1].
func (c BottleneckCandidate) WithConfidence(conf float64) BottleneckCandidate {
	out := c.Clone()
	out.Confidence = ClampConfidence(conf)
	return out
}

// ClampConfidence bounds a confidence value to [0, 1].
func ClampConfidence(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RankCandidates sorts by confidence then severity, both descending.
// The sort is stable so equal candidates keep their insertion order.
func RankCandidates(cands []BottleneckCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Confidence != cands[j].Confidence {
			return cands[i].Confidence > cands[j].Confidence
		}
		return cands[i].Severity > cands[j].Severity
	})
}
