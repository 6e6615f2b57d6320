package classify

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/dkrasnov/sift/internal/model"
	"github.com/dkrasnov/sift/internal/provider"
)

// DefaultReasoning is stored when the provider omits its reasoning.
const DefaultReasoning = "No reasoning provided"

var validPriorities = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
	"urgent": true,
}

// Normalized is the fully-defaulted classification outcome. Normalization is
// total: whatever the provider returned, every field here is in range.
type Normalized struct {
	Category   string
	Confidence float64
	Reasoning  string
	Actions    []model.ExtractedAction
	Tags       []model.Tag
}

// Normalize converts a raw provider result into a Normalized value. This is
// the single place clamping and defaulting happen; no other component may
// re-implement it.
func Normalize(raw *provider.RawResult) Normalized {
	n := Normalized{
		Category:   strings.TrimSpace(strings.ToLower(raw.Category)),
		Confidence: clampConfidence(coerceConfidence(raw.Confidence)),
		Reasoning:  strings.TrimSpace(raw.Reasoning),
		Actions:    normalizeActions(raw.ExtractedActions),
		Tags:       normalizeTags(raw.Tags),
	}
	if n.Category == "" {
		n.Category = "unknown"
	}
	if n.Reasoning == "" {
		n.Reasoning = DefaultReasoning
	}
	return n
}

// coerceConfidence accepts the shapes providers have actually produced:
// numbers, json.Number, numeric strings and null. Anything else scores zero.
func coerceConfidence(v any) float64 {
	switch c := v.(type) {
	case float64:
		return c
	case int:
		return float64(c)
	case json.Number:
		f, err := c.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func normalizeActions(raw json.RawMessage) []model.ExtractedAction {
	if len(raw) == 0 {
		return []model.ExtractedAction{}
	}
	var actions []model.ExtractedAction
	if err := json.Unmarshal(raw, &actions); err != nil {
		return []model.ExtractedAction{}
	}
	out := make([]model.ExtractedAction, 0, len(actions))
	for _, a := range actions {
		a.Description = strings.TrimSpace(a.Description)
		if a.Description == "" {
			continue
		}
		a.Confidence = clampConfidence(a.Confidence)
		a.Priority = strings.ToLower(strings.TrimSpace(a.Priority))
		if !validPriorities[a.Priority] {
			a.Priority = "medium"
		}
		out = append(out, a)
	}
	return out
}

func normalizeTags(raw json.RawMessage) []model.Tag {
	if len(raw) == 0 {
		return []model.Tag{}
	}
	var tags []model.Tag
	if err := json.Unmarshal(raw, &tags); err == nil {
		out := make([]model.Tag, 0, len(tags))
		for _, t := range tags {
			t.Value = strings.TrimSpace(t.Value)
			if t.Value == "" {
				continue
			}
			if t.Type == "" {
				t.Type = "label"
			}
			out = append(out, t)
		}
		return out
	}
	// Some responses arrive as a plain string array.
	var plain []string
	if err := json.Unmarshal(raw, &plain); err == nil {
		out := make([]model.Tag, 0, len(plain))
		for _, v := range plain {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			out = append(out, model.Tag{Type: "label", Value: v})
		}
		return out
	}
	return []model.Tag{}
}
