package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tripsage/tripsage-core/internal/schema"
	"github.com/tripsage/tripsage-core/internal/tools"
)

func TestNewSchedule_Boundaries(t *testing.T) {
	s := NewSchedule(15,
		PhaseSpec{Until: 0.4, Tools: []string{"a"}},
		PhaseSpec{Until: 0.73, Tools: []string{"b"}},
		PhaseSpec{Until: 0.1, Tools: []string{"c"}},
	)
	assert.Equal(t, []int{6, 10, 14}, []int{s[0].MaxStep, s[1].MaxStep, s[2].MaxStep})

	for step, want := range map[int]string{0: "a", 6: "a", 7: "b", 10: "b", 11: "c", 14: "c", 20: "c"} {
		assert.Equal(t, []string{want}, s.ActiveFor(step), "step %d", step)
	}
}

func TestSchedule_Empty(t *testing.T) {
	var s Schedule
	assert.Nil(t, s.ActiveFor(3))
}

func TestCoerce(t *testing.T) {
	assert.Equal(t, int64(3), coerce("3", "integer"))
	assert.Equal(t, "3.5", coerce("3.5", "integer"))
	assert.Equal(t, 2.5, coerce("2.5", "number"))
	assert.Equal(t, true, coerce("true", "boolean"))
	assert.Equal(t, "12", coerce(float64(12), "string"))
	assert.Equal(t, []any{"x"}, coerce("x", "array"))
	assert.Equal(t, "keep", coerce("keep", "object"))
}

func TestLocalRepair(t *testing.T) {
	tool := &tools.Tool{
		Name: "t",
		InputSchema: schema.MustCompile(`{
			"type": "object",
			"properties": {"n": {"type": "integer"}, "flag": {"type": "boolean"}},
			"required": ["n"]
		}`),
	}

	out := localRepair(context.Background(), RepairRequest{Tool: tool, Input: json.RawMessage("```json\n{\"n\": \"4\", \"flag\": \"false\"}\n```")})
	assert.True(t, out.OK)
	assert.JSONEq(t, `{"n":4,"flag":false}`, string(out.Value))

	out = localRepair(context.Background(), RepairRequest{Tool: tool, Input: json.RawMessage(`{"flag": true}`)})
	assert.False(t, out.OK)
	assert.Error(t, out.Err)
}

func TestRepairer_Budget(t *testing.T) {
	calls := 0
	r := NewRepairerWith(RepairStrategy{Name: "fixed", Run: func(context.Context, RepairRequest) RepairOutcome {
		calls++
		return RepairOutcome{OK: true, Value: json.RawMessage(`{}`)}
	}})
	tool := &tools.Tool{Name: "t"}

	v, err := r.Repair(context.Background(), RepairRequest{Tool: tool, Attempts: 1})
	assert.NoError(t, err)
	assert.NotNil(t, v)

	v, err = r.Repair(context.Background(), RepairRequest{Tool: tool, Attempts: MaxRepairAttempts})
	assert.NoError(t, err)
	assert.Nil(t, v)
	assert.Equal(t, 1, calls)
}
