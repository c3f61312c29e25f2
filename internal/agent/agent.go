// Package agent implements the bounded, auto-repairing tool loop every
// TripSage workflow runs on.
//
// An Agent is built fresh per request from a Config (instructions, tool
// set, step budget, sampling settings, optional per-step tool phasing) and
// the request's Dependencies (model handles and caller identity):
//
//	for step in 0..maxSteps-1:
//	    active tools ← PrepareStep(step)
//	    call model with messages + active tool definitions
//	    no tool calls → stop
//	    execute requested calls concurrently (invalid input → repair)
//	    append results, continue
//
// Steps are strictly sequential; the calls within one step run in
// parallel. Cancellation of ctx stops the loop before the next model call.
package agent

import (
	"context"
	"encoding/json"

	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/model"
	"github.com/tripsage/tripsage-core/internal/tools"
	"github.com/tripsage/tripsage-core/pkg/models"
)

// DefaultMaxSteps bounds the loop when the config leaves MaxSteps unset.
const DefaultMaxSteps = models.DefaultMaxSteps

// StepSettings overrides loop settings for one step.
type StepSettings struct {
	// ActiveTools restricts the tools offered to the model. Nil offers
	// every tool; an empty slice forces a text-only step.
	ActiveTools []string
}

// Config is the factory input. Built per invocation, never shared.
type Config struct {
	AgentType       models.WorkflowKind
	Name            string
	Instructions    string
	Tools           tools.ToolSet
	DefaultMessages []model.Message

	MaxSteps        int
	MaxOutputTokens int
	Temperature     *float64
	TopP            *float64

	// ActiveTools is a static restriction applied when PrepareStep is nil.
	ActiveTools []string
	PrepareStep func(step int) StepSettings
}

// Dependencies is the per-request context. Never persisted.
type Dependencies struct {
	Model model.LanguageModel
	// RepairModel is tried after Model when repairing tool input.
	RepairModel model.LanguageModel
	ModelID     string
	// Identifier is the stable rate-limit identity (user id or hashed IP).
	Identifier string
	UserID     string
	SessionID  string
}

// Agent is a configured loop ready to run.
type Agent struct {
	cfg      Config
	deps     Dependencies
	repairer *Repairer
}

// New validates cfg and deps and returns an agent.
func New(deps Dependencies, cfg Config) (*Agent, error) {
	if deps.Model == nil {
		return nil, cerr.New(cerr.AgentConfigInvalid, "agent requires a language model", nil)
	}
	if cfg.AgentType == "" {
		return nil, cerr.New(cerr.AgentConfigInvalid, "agent type is required", nil)
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Name == "" {
		cfg.Name = string(cfg.AgentType)
	}
	if deps.ModelID == "" {
		deps.ModelID = deps.Model.ModelID()
	}
	if cfg.Tools == nil {
		cfg.Tools = tools.ToolSet{}
	}
	return &Agent{
		cfg:      cfg,
		deps:     deps,
		repairer: NewRepairer(deps.Model, deps.RepairModel),
	}, nil
}

func (a *Agent) Type() models.WorkflowKind { return a.cfg.AgentType }
func (a *Agent) Name() string              { return a.cfg.Name }
func (a *Agent) ModelID() string           { return a.deps.ModelID }
func (a *Agent) MaxSteps() int             { return a.cfg.MaxSteps }
func (a *Agent) Instructions() string      { return a.cfg.Instructions }

// Tools returns the agent's tool set. Callers must not modify it.
func (a *Agent) Tools() tools.ToolSet { return a.cfg.Tools }

// DefaultMessages returns the messages every run starts with.
func (a *Agent) DefaultMessages() []model.Message {
	return append([]model.Message(nil), a.cfg.DefaultMessages...)
}

// ActiveTools returns the tool names offered at step, or nil for all.
func (a *Agent) ActiveTools(step int) []string {
	if a.cfg.PrepareStep != nil {
		return a.cfg.PrepareStep(step).ActiveTools
	}
	return a.cfg.ActiveTools
}

// ── Results ─────────────────────────────────────────────────

// FinishReason explains why a run ended.
type FinishReason string

const (
	FinishStop     FinishReason = "stop"
	FinishMaxSteps FinishReason = "max_steps"
	FinishLength   FinishReason = "length"
)

// ToolError is the wire form of a failed tool call.
type ToolError struct {
	Code    cerr.Code `json:"code"`
	Message string    `json:"message"`
}

// ToolResult is the outcome of one tool call.
type ToolResult struct {
	ToolCallID     string          `json:"toolCallId"`
	Name           string          `json:"name"`
	Input          json.RawMessage `json:"input"`
	Output         any             `json:"output,omitempty"`
	Error          *ToolError      `json:"error,omitempty"`
	RepairAttempts int             `json:"repairAttempts,omitempty"`
	LatencyMs      int64           `json:"latencyMs"`

	approval *models.ApprovalRecord
}

// StepRecord is one iteration of the loop.
type StepRecord struct {
	Number      int              `json:"number"`
	ActiveTools []string         `json:"activeTools,omitempty"`
	Text        string           `json:"text,omitempty"`
	ToolCalls   []model.ToolCall `json:"toolCalls,omitempty"`
	ToolResults []ToolResult     `json:"toolResults,omitempty"`
	Usage       model.Usage      `json:"usage"`
	LatencyMs   int64            `json:"latencyMs"`
}

// Result is the outcome of a full run.
type Result struct {
	AgentType        models.WorkflowKind      `json:"agentType"`
	ModelID          string                   `json:"modelId"`
	Text             string                   `json:"text"`
	FinishReason     FinishReason             `json:"finishReason"`
	Steps            []StepRecord             `json:"steps"`
	Usage            model.Usage              `json:"usage"`
	PendingApprovals []*models.ApprovalRecord `json:"pendingApprovals,omitempty"`
	Messages         []model.Message          `json:"-"`
	TotalMs          int64                    `json:"totalMs"`
}

// Generate runs the loop to completion. messages are appended to the
// config's default messages.
func (a *Agent) Generate(ctx context.Context, messages ...model.Message) (*Result, error) {
	return a.run(ctx, messages, nil)
}
