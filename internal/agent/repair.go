package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/model"
	"github.com/tripsage/tripsage-core/internal/tools"
)

// MaxRepairAttempts bounds repairs per tool call.
const MaxRepairAttempts = 2

// RepairRequest describes one failed tool call.
type RepairRequest struct {
	Tool     *tools.Tool
	Input    json.RawMessage
	Attempts int
	Err      error
}

// RepairOutcome is what a strategy produced.
type RepairOutcome struct {
	OK    bool
	Value json.RawMessage
	Err   error
}

// RepairStrategy is one way of fixing tool input.
type RepairStrategy struct {
	Name string
	Run  func(ctx context.Context, req RepairRequest) RepairOutcome
}

// Repairer tries its strategies in order until one yields valid input.
type Repairer struct {
	strategies []RepairStrategy
}

// NewRepairer builds the default chain: primary model, secondary model
// (when set and distinct), then local coercion.
func NewRepairer(primary, secondary model.LanguageModel) *Repairer {
	var s []RepairStrategy
	if primary != nil {
		s = append(s, ModelStrategy("primary", primary))
	}
	if secondary != nil && (primary == nil || secondary.ModelID() != primary.ModelID()) {
		s = append(s, ModelStrategy("secondary", secondary))
	}
	s = append(s, RepairStrategy{Name: "local", Run: localRepair})
	return &Repairer{strategies: s}
}

// NewRepairerWith builds a repairer from explicit strategies.
func NewRepairerWith(strategies ...RepairStrategy) *Repairer {
	return &Repairer{strategies: strategies}
}

// Repair returns corrected input. A nil value with a nil error means the
// attempt budget is spent and the original failure should stand.
func (r *Repairer) Repair(ctx context.Context, req RepairRequest) (json.RawMessage, error) {
	if req.Attempts >= MaxRepairAttempts {
		return nil, nil
	}

	var errs []error
	for _, s := range r.strategies {
		if err := ctx.Err(); err != nil {
			return nil, cerr.New(cerr.Canceled, "tool repair canceled", err)
		}
		out := s.Run(ctx, req)
		if out.OK {
			log.Debug().
				Str("tool", req.Tool.Name).
				Str("strategy", s.Name).
				Int("attempt", req.Attempts+1).
				Msg("Tool input repaired")
			return out.Value, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, out.Err))
	}

	log.Warn().
		Str("tool", req.Tool.Name).
		Int("attempt", req.Attempts+1).
		Msg("Tool input repair failed")
	return nil, cerr.New(cerr.ToolRepairFailed,
		fmt.Sprintf("could not repair input for tool %s", req.Tool.Name),
		errors.Join(errs...),
	).WithMeta("tool", req.Tool.Name)
}

const repairSystem = "You fix malformed tool arguments. Reply with only the corrected JSON arguments object."

// ModelStrategy asks m for input conforming to the tool's schema.
func ModelStrategy(name string, m model.LanguageModel) RepairStrategy {
	return RepairStrategy{
		Name: name,
		Run: func(ctx context.Context, req RepairRequest) RepairOutcome {
			var b strings.Builder
			fmt.Fprintf(&b, "Tool: %s\n", req.Tool.Name)
			if req.Tool.Description != "" {
				fmt.Fprintf(&b, "Description: %s\n", req.Tool.Description)
			}
			fmt.Fprintf(&b, "Input schema: %s\n", req.Tool.InputSchema.Raw())
			fmt.Fprintf(&b, "Invalid arguments: %s\n", req.Input)
			if req.Err != nil {
				fmt.Fprintf(&b, "Error: %s\n", req.Err)
			}

			var fixed json.RawMessage
			_, err := model.GenerateObject(ctx, m, &model.Request{
				System:       repairSystem,
				Messages:     []model.Message{{Role: model.RoleUser, Content: b.String()}},
				Temperature:  model.Float(0),
				ResponseName: req.Tool.Name + "_input",
			}, req.Tool.InputSchema, &fixed)
			if err != nil {
				return RepairOutcome{Err: err}
			}
			return RepairOutcome{OK: true, Value: fixed}
		},
	}
}

// localRepair unwraps string-encoded arguments and coerces scalar type
// mismatches against the declared property types.
func localRepair(_ context.Context, req RepairRequest) RepairOutcome {
	candidate := req.Input
	var s string
	if err := json.Unmarshal(candidate, &s); err == nil {
		candidate = json.RawMessage(s)
	}
	if x := model.ExtractJSON(string(candidate)); x != nil {
		candidate = x
	}

	var obj map[string]any
	if err := json.Unmarshal(candidate, &obj); err != nil {
		return RepairOutcome{Err: fmt.Errorf("arguments are not a JSON object: %w", err)}
	}
	for name, typ := range req.Tool.InputSchema.Properties() {
		if v, ok := obj[name]; ok {
			obj[name] = coerce(v, typ)
		}
	}

	fixed, err := json.Marshal(obj)
	if err != nil {
		return RepairOutcome{Err: err}
	}
	if err := req.Tool.InputSchema.Validate(fixed); err != nil {
		return RepairOutcome{Err: err}
	}
	return RepairOutcome{OK: true, Value: fixed}
}

func coerce(v any, typ string) any {
	switch typ {
	case "integer":
		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && f == math.Trunc(f) {
				return int64(f)
			}
		}
	case "number":
		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f
			}
		}
	case "boolean":
		if s, ok := v.(string); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
				return b
			}
		}
	case "string":
		switch x := v.(type) {
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(x)
		}
	case "array":
		if _, ok := v.([]any); !ok && v != nil {
			return []any{v}
		}
	}
	return v
}
