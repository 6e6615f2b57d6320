package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker/v2"
)

// Categories the classifier is allowed to emit. Anything else is coerced to
// "unknown" during normalization.
var Categories = []string{"task", "event", "idea", "note", "reference", "someday"}

// Anthropic calls the Claude Messages API and extracts the JSON object from
// the response. Calls run behind a circuit breaker so a flapping provider
// fails fast instead of burning the retry budget on every item.
type Anthropic struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[*RawResult]
	logger  *slog.Logger
}

// NewAnthropic constructs the adapter.
func NewAnthropic(apiKey, model string, timeout time.Duration, logger *slog.Logger) *Anthropic {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:    "anthropic-classifier",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
	return &Anthropic{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker[*RawResult](settings),
		logger:  logger,
	}
}

// Classify sends one request to the provider. Every error it returns is
// transient from the caller's point of view: timeouts, malformed responses
// and an open breaker are all retried by the engine's ledger.
func (a *Anthropic) Classify(ctx context.Context, req Request) (*RawResult, error) {
	result, err := a.breaker.Execute(func() (*RawResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		return a.call(callCtx, req)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, fmt.Errorf("classifier unavailable: %w", err)
	}
	return result, err
}

func (a *Anthropic) call(ctx context.Context, req Request) (*RawResult, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage(req))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("classification api call: %w", err)
	}
	if len(msg.Content) == 0 {
		return nil, fmt.Errorf("empty classification response")
	}
	raw, err := decodeRawResult(msg.Content[0].Text)
	if err != nil {
		return nil, err
	}
	raw.Model = a.model
	return raw, nil
}

// decodeRawResult extracts the JSON object from the response text and decodes
// it into a RawResult. Partial shapes decode fine; only structurally invalid
// JSON is an error.
func decodeRawResult(text string) (*RawResult, error) {
	jsonStr, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	if !json.Valid([]byte(jsonStr)) {
		return nil, fmt.Errorf("response does not contain valid JSON")
	}
	var raw RawResult
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("decode classification response: %w", err)
	}
	return &raw, nil
}

// extractJSON finds the first complete JSON object in a string.
func extractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in response")
	}
	return s[start : end+1], nil
}

func systemPrompt() string {
	return fmt.Sprintf(`You are an inbox triage assistant for a personal organization system.

Classify the captured text into exactly one category: %s.

Output ONLY a valid JSON object matching this exact schema:
{
  "category": "<category>",
  "confidence": <number between 0 and 1>,
  "reasoning": "<one or two sentences explaining the choice>",
  "extractedActions": [
    {"description": "<actionable task>", "confidence": <0..1>, "priority": "<low|medium|high|urgent>", "owner": "<person or empty>", "dueDate": "<ISO date or empty>"}
  ],
  "tags": [
    {"type": "<topic|person|place|project>", "value": "<tag value>"}
  ]
}

Rules:
- extractedActions lists concrete tasks implied by the text, most important first
- Omit actions and tags you are not confident about; empty arrays are fine
- Output ONLY the JSON, no markdown, no explanations`, strings.Join(Categories, ", "))
}

func userMessage(req Request) string {
	var b strings.Builder
	if req.Source != "" {
		fmt.Fprintf(&b, "Capture source: %s\n", req.Source)
	}
	if len(req.Areas) > 0 {
		fmt.Fprintf(&b, "User's areas: %s\n", strings.Join(req.Areas, ", "))
	}
	if len(req.Projects) > 0 {
		fmt.Fprintf(&b, "Active projects: %s\n", strings.Join(req.Projects, ", "))
	}
	b.WriteString("\nCaptured text:\n")
	b.WriteString(req.Content)
	return b.String()
}
