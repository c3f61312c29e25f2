package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedLimit(n int) func(string) int {
	return func(string) int { return n }
}

func TestHeuristicCounter(t *testing.T) {
	var c HeuristicCounter
	assert.Equal(t, 0, c.Count("gpt-4o", "   "))
	assert.Equal(t, 1, c.Count("gpt-4o", "abcd"))
	assert.Equal(t, 2, c.Count("gpt-4o", "abcde"))
	assert.Equal(t, 2, c.Count("claude-3-5-sonnet", "abcdef"))
}

func TestContextLimit_LongestPrefix(t *testing.T) {
	assert.Equal(t, 8_192, ContextLimit("gpt-4-0613"))
	assert.Equal(t, 128_000, ContextLimit("gpt-4o-2024-08-06"))
	assert.Equal(t, 1_047_576, ContextLimit("gpt-4.1-mini"))
	assert.Equal(t, DefaultContextLimit, ContextLimit("some-unknown-model"))
}

func TestClamp_DesiredFits(t *testing.T) {
	b := Clamp([]Message{{Role: "system", Content: "You are helpful."}}, 4096, "gpt-4o")
	assert.Equal(t, 4096, b.MaxTokens)
	assert.Equal(t, []string{ReasonDesired}, b.Reasons)
	assert.Greater(t, b.PromptTokens, 0)
}

func TestClamp_ClampedToContext(t *testing.T) {
	c := &Clamper{Limit: fixedLimit(100)}
	msgs := []Message{{Role: "user", Content: strings.Repeat("a", 200)}} // 50 + 4
	b := c.Clamp(msgs, 4096, "m")
	assert.Equal(t, 46, b.MaxTokens)
	assert.Equal(t, 46, b.Available)
	assert.Contains(t, b.Reasons, ReasonClampedToContext)
}

func TestClamp_InvalidDesiredGetsFloor(t *testing.T) {
	b := Clamp(nil, 0, "gpt-4o")
	assert.Equal(t, MinOutputTokens, b.MaxTokens)
	assert.Contains(t, b.Reasons, ReasonInvalidDesired)
}

func TestClamp_Boundary(t *testing.T) {
	c := &Clamper{Limit: fixedLimit(54)}
	msgs := []Message{{Role: "user", Content: strings.Repeat("a", 200)}} // exactly 54
	require.LessOrEqual(t, c.Available("m", msgs), 0)

	b := c.Clamp(msgs, 1000, "m")
	assert.Equal(t, 0, b.Available)
	assert.Equal(t, 0, b.MaxTokens)
	assert.Contains(t, b.Reasons, ReasonContextExhausted)
}

func TestClamp_Monotonic(t *testing.T) {
	c := &Clamper{Limit: fixedLimit(2_000)}
	msgs := []Message{
		{Role: "system", Content: strings.Repeat("plan a trip ", 50)},
		{Role: "user", Content: "Tokyo in spring"},
	}
	prev := -1
	for desired := -5; desired <= 3_000; desired += 37 {
		got := c.Clamp(msgs, desired, "m").MaxTokens
		assert.GreaterOrEqual(t, got, prev, "desired=%d", desired)
		prev = got
	}
}

func TestClamper_CustomCounter(t *testing.T) {
	c := NewClamper(CounterFunc(func(_, text string) int { return len(text) }))
	c.Limit = fixedLimit(100)
	b := c.Clamp([]Message{{Content: "0123456789"}}, 500, "m")
	assert.Equal(t, 14, b.PromptTokens)
	assert.Equal(t, 86, b.MaxTokens)
}
