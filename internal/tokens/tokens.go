// Package tokens computes safe output-token budgets for model calls.
//
// A budget is the desired max-output-tokens ceiling clamped to what is left
// of the model's context window after the prompt messages are counted.
// Token counting is a pluggable Counter; the default is a fast heuristic
// that is close enough for budgeting and deterministic across runs.
package tokens

import (
	"strings"
	"unicode/utf8"
)

// DefaultContextLimit is used for model identifiers not in the limit table.
const DefaultContextLimit = 128_000

// MinOutputTokens is the floor applied to a non-positive desired ceiling.
const MinOutputTokens = 1

// messageOverhead approximates the per-message framing tokens (role, separators).
const messageOverhead = 4

// Clamp reasons recorded in Budget.Reasons.
const (
	ReasonDesired          = "maxTokens_desired"
	ReasonClampedToContext = "maxTokens_clamped_model_limit"
	ReasonInvalidDesired   = "maxTokens_clamped_invalid_desired"
	ReasonContextExhausted = "maxTokens_context_exhausted"
)

// Message is one prompt message as counted by the clamp.
type Message struct {
	Role    string
	Content string
}

// Counter counts tokens for a text under a specific model.
type Counter interface {
	Count(modelID, text string) int
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(modelID, text string) int

func (f CounterFunc) Count(modelID, text string) int { return f(modelID, text) }

// HeuristicCounter estimates tokens from character counts. Model families
// with denser tokenizers get a smaller chars-per-token ratio.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(modelID, text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	chars := utf8.RuneCountInString(text)
	ratio := charsPerToken(modelID)
	return (chars + ratio - 1) / ratio
}

func charsPerToken(modelID string) int {
	id := strings.ToLower(modelID)
	switch {
	case strings.Contains(id, "claude"):
		return 3
	default:
		return 4
	}
}

// contextLimits maps model identifier prefixes to context window sizes.
// Longest matching prefix wins.
var contextLimits = map[string]int{
	"gpt-4o":             128_000,
	"gpt-4o-mini":        128_000,
	"gpt-4.1":            1_047_576,
	"gpt-4-turbo":        128_000,
	"gpt-4":              8_192,
	"gpt-3.5-turbo":      16_385,
	"gpt-5":              400_000,
	"o1":                 200_000,
	"o3":                 200_000,
	"o4-mini":            200_000,
	"claude-3":           200_000,
	"claude-sonnet-4":    200_000,
	"claude-opus-4":      200_000,
	"claude-3-5-haiku":   200_000,
	"gemini-1.5":         1_048_576,
	"gemini-2":           1_048_576,
	"llama-3":            128_000,
	"mistral-large":      128_000,
	"openai/gpt-4o":      128_000,
	"anthropic/claude-3": 200_000,
}

// ContextLimit returns the context window size for a model identifier.
func ContextLimit(modelID string) int {
	id := strings.ToLower(strings.TrimSpace(modelID))
	best, limit := 0, DefaultContextLimit
	for prefix, n := range contextLimits {
		if strings.HasPrefix(id, prefix) && len(prefix) > best {
			best, limit = len(prefix), n
		}
	}
	return limit
}

// Budget is the result of a clamp.
type Budget struct {
	MaxTokens    int      `json:"maxTokens"`
	Reasons      []string `json:"reasons"`
	PromptTokens int      `json:"promptTokens"`
	Available    int      `json:"available"`
	ContextLimit int      `json:"contextLimit"`
}

// Clamper computes budgets. The zero value uses HeuristicCounter and the
// built-in context table.
type Clamper struct {
	Counter Counter
	// Limit overrides ContextLimit when set.
	Limit func(modelID string) int
}

// NewClamper returns a Clamper using counter (HeuristicCounter when nil).
func NewClamper(counter Counter) *Clamper {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	return &Clamper{Counter: counter}
}

func (c *Clamper) counter() Counter {
	if c == nil || c.Counter == nil {
		return HeuristicCounter{}
	}
	return c.Counter
}

// ContextLimit returns the context window the clamper assumes for modelID.
func (c *Clamper) ContextLimit(modelID string) int {
	if c != nil && c.Limit != nil {
		return c.Limit(modelID)
	}
	return ContextLimit(modelID)
}

// CountText counts a bare text.
func (c *Clamper) CountText(modelID, text string) int {
	return c.counter().Count(modelID, text)
}

// CountMessages counts the tokens consumed by messages including framing.
func (c *Clamper) CountMessages(modelID string, messages []Message) int {
	counter := c.counter()
	total := 0
	for _, m := range messages {
		total += counter.Count(modelID, m.Content) + messageOverhead
	}
	return total
}

// Available returns the context left after messages; it may be negative.
func (c *Clamper) Available(modelID string, messages []Message) int {
	return c.ContextLimit(modelID) - c.CountMessages(modelID, messages)
}

// Clamp returns min(desired, available) with a floor for non-positive
// desired values. It never fails; when the context is exhausted MaxTokens
// is 0 and the caller decides whether to fail fast.
func (c *Clamper) Clamp(messages []Message, desired int, modelID string) Budget {
	limit := c.ContextLimit(modelID)
	used := c.CountMessages(modelID, messages)
	available := limit - used
	if available < 0 {
		available = 0
	}

	b := Budget{PromptTokens: used, Available: available, ContextLimit: limit}
	if desired < MinOutputTokens {
		desired = MinOutputTokens
		b.Reasons = append(b.Reasons, ReasonInvalidDesired)
	}

	switch {
	case available == 0:
		b.MaxTokens = 0
		b.Reasons = append(b.Reasons, ReasonContextExhausted)
	case desired > available:
		b.MaxTokens = available
		b.Reasons = append(b.Reasons, ReasonClampedToContext)
	default:
		b.MaxTokens = desired
		if len(b.Reasons) == 0 {
			b.Reasons = append(b.Reasons, ReasonDesired)
		}
	}
	return b
}

// Clamp is a convenience wrapper around a zero Clamper.
func Clamp(messages []Message, desired int, modelID string) Budget {
	var c Clamper
	return c.Clamp(messages, desired, modelID)
}
