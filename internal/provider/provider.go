// Package provider wraps the external text-classification capability. The
// adapter is pure request/response; retry policy and result normalization
// belong to the classify package.
package provider

import (
	"context"
	"encoding/json"
)

// Request carries the item content plus the user context the prompt is built
// from.
type Request struct {
	Content  string
	Source   string
	Areas    []string
	Projects []string
}

// RawResult is the provider output before normalization. Confidence is typed
// as any because providers have returned numbers, numeric strings and null;
// actions and tags stay raw JSON so malformed shapes survive until the
// central normalization pass.
type RawResult struct {
	Category         string          `json:"category"`
	Confidence       any             `json:"confidence"`
	Reasoning        string          `json:"reasoning"`
	ExtractedActions json.RawMessage `json:"extractedActions"`
	Tags             json.RawMessage `json:"tags"`
	Model            string          `json:"-"`
}

// Classifier is the single call the classification engine depends on.
type Classifier interface {
	Classify(ctx context.Context, req Request) (*RawResult, error)
}
