// Package workflows holds the per-workflow agent builders and the registry
// that dispatches a workflow kind to its builder.
//
// Every builder follows the same template: resolve the stored agent
// parameters, write instructions from the validated request, attach the
// schema-enforcing default message, clamp the output token budget, select
// the workflow's tool subset (optionally phased across steps) and hand it
// all to agent.New.
package workflows

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tripsage/tripsage-core/internal/agent"
	"github.com/tripsage/tripsage-core/internal/catalog"
	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/memory"
	"github.com/tripsage/tripsage-core/internal/model"
	"github.com/tripsage/tripsage-core/internal/tokens"
	"github.com/tripsage/tripsage-core/internal/tools"
	"github.com/tripsage/tripsage-core/pkg/models"
)

// Env holds the long-lived collaborators the builders share. It is built
// once by the composition root.
type Env struct {
	Tools   *tools.Registry
	Memory  *memory.Service
	Clamper *tokens.Clamper
}

// Built is what a builder returns to the caller.
type Built struct {
	Agent           *agent.Agent
	AgentType       models.WorkflowKind
	ModelID         string
	DefaultMessages []model.Message
	Budget          tokens.Budget
}

// BuilderFunc builds an agent from a raw JSON request payload.
type BuilderFunc func(ctx context.Context, env *Env, deps agent.Dependencies, cfg models.AgentConfig, input json.RawMessage) (*Built, error)

// plan is the per-workflow part of the template.
type plan struct {
	kind          models.WorkflowKind
	instructions  string
	schemaMessage string
	tools         []string
	phases        []agent.PhaseSpec
	// scoped injects the caller identity into user-scoped tools.
	scoped bool
}

func (e *Env) clamper() *tokens.Clamper {
	if e.Clamper == nil {
		return tokens.NewClamper(nil)
	}
	return e.Clamper
}

func modelID(deps agent.Dependencies) string {
	if deps.ModelID != "" {
		return deps.ModelID
	}
	if deps.Model != nil {
		return deps.Model.ModelID()
	}
	return ""
}

// assemble runs the shared template for p.
func (e *Env) assemble(deps agent.Dependencies, cfg models.AgentConfig, p plan) (*Built, error) {
	if e.Tools == nil {
		return nil, cerr.New(cerr.AgentConfigInvalid, "tool registry is not configured", nil)
	}
	params := cfg.Resolve()
	maxSteps := params.MaxSteps
	if floor := MinSteps(p.kind); maxSteps < floor {
		maxSteps = floor
	}

	id := modelID(deps)
	var defaults []model.Message
	prompt := []tokens.Message{{Role: string(model.RoleSystem), Content: p.instructions}}
	if p.schemaMessage != "" {
		defaults = append(defaults, model.Message{Role: model.RoleUser, Content: p.schemaMessage})
		prompt = append(prompt, tokens.Message{Role: string(model.RoleUser), Content: p.schemaMessage})
	}
	budget := e.clamper().Clamp(prompt, params.MaxTokens, id)
	if budget.Available <= 0 {
		return nil, contextExceeded(id, budget)
	}

	set, err := e.Tools.Set(p.tools...)
	if err != nil {
		return nil, err
	}
	if p.scoped {
		set = tools.ScopeSet(set, tools.Identity{UserID: deps.UserID, SessionID: deps.SessionID}, catalog.UserScoped...)
	}

	ac := agent.Config{
		AgentType:       p.kind,
		Name:            DisplayName(p.kind),
		Instructions:    p.instructions,
		Tools:           set,
		DefaultMessages: defaults,
		MaxSteps:        maxSteps,
		MaxOutputTokens: budget.MaxTokens,
		Temperature:     model.Float(params.Temperature),
		TopP:            params.TopP,
	}
	if len(p.phases) > 0 {
		ac.PrepareStep = agent.NewSchedule(maxSteps, p.phases...).PrepareStep()
	}

	deps.ModelID = id
	a, err := agent.New(deps, ac)
	if err != nil {
		return nil, err
	}
	return &Built{
		Agent:           a,
		AgentType:       p.kind,
		ModelID:         id,
		DefaultMessages: defaults,
		Budget:          budget,
	}, nil
}

// contextExceeded fails a build whose prompt leaves no room for output.
func contextExceeded(id string, b tokens.Budget) error {
	return cerr.Newf(cerr.ContextLimitExceeded,
		"prompt needs %d tokens but %s allows %d", b.PromptTokens, id, b.ContextLimit).
		WithMeta("promptTokens", b.PromptTokens).
		WithMeta("contextLimit", b.ContextLimit)
}

// ── request decoding ────────────────────────────────────────

const dateLayout = "2006-01-02"

// request is implemented by the pointer of every workflow request type.
// validate normalizes defaults in place.
type request[T any] interface {
	*T
	validate() error
}

// typed adapts a typed builder to BuilderFunc.
func typed[T any, P request[T]](build func(*Env, context.Context, agent.Dependencies, models.AgentConfig, T) (*Built, error)) BuilderFunc {
	return func(ctx context.Context, env *Env, deps agent.Dependencies, cfg models.AgentConfig, input json.RawMessage) (*Built, error) {
		var req T
		if len(input) > 0 {
			if err := json.Unmarshal(input, &req); err != nil {
				return nil, cerr.New(cerr.WorkflowBadRequest, "malformed workflow request", err)
			}
		}
		if err := P(&req).validate(); err != nil {
			return nil, err
		}
		return build(env, ctx, deps, cfg, req)
	}
}

func badRequest(format string, args ...interface{}) error {
	return cerr.Newf(cerr.WorkflowBadRequest, format, args...)
}

func parseDate(field, v string) (time.Time, error) {
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, badRequest("%s must be a date (YYYY-MM-DD)", field)
	}
	return t, nil
}

// dateRange validates optional start/end dates.
func dateRange(startField, start, endField, end string) error {
	var s, e time.Time
	var err error
	if start != "" {
		if s, err = parseDate(startField, start); err != nil {
			return err
		}
	}
	if end != "" {
		if e, err = parseDate(endField, end); err != nil {
			return err
		}
	}
	if start != "" && end != "" && e.Before(s) {
		return badRequest("%s must not be before %s", endField, startField)
	}
	return nil
}
