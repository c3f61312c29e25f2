package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tripsage/tripsage-core/internal/approvals"
	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/guardrails"
	"github.com/tripsage/tripsage-core/internal/model"
	"github.com/tripsage/tripsage-core/internal/telemetry"
	"github.com/tripsage/tripsage-core/internal/tools"
)

func (a *Agent) run(ctx context.Context, input []model.Message, emit func(Event)) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	started := time.Now()
	if a.deps.Identifier != "" {
		ctx = guardrails.WithIdentifier(ctx, a.deps.Identifier)
	}

	attrs := []attribute.KeyValue{
		attribute.String("agent.type", string(a.cfg.AgentType)),
		attribute.String("agent.name", a.cfg.Name),
		attribute.String("agent.identifier", guardrails.IdentifierFromContext(ctx)),
		attribute.String("agent.model_id", a.deps.ModelID),
		attribute.Int("agent.max_steps", a.cfg.MaxSteps),
	}
	if a.deps.SessionID != "" {
		attrs = append(attrs, attribute.String("agent.session_id", a.deps.SessionID))
	}
	if a.deps.UserID != "" {
		attrs = append(attrs, attribute.String("agent.user_id", a.deps.UserID))
	}
	ctx, span := telemetry.Tracer().Start(ctx, "agent.run", trace.WithAttributes(attrs...))
	defer span.End()

	messages := make([]model.Message, 0, len(a.cfg.DefaultMessages)+len(input)+2*a.cfg.MaxSteps)
	messages = append(messages, a.cfg.DefaultMessages...)
	messages = append(messages, input...)

	res := &Result{AgentType: a.cfg.AgentType, ModelID: a.deps.ModelID}
	seenApprovals := map[string]bool{}

	for step := 0; step < a.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			err = cerr.New(cerr.Canceled, "agent run canceled", err)
			telemetry.RecordError(span, err)
			return res, err
		}

		rec, resp, err := a.step(ctx, step, messages, emit)
		if err != nil {
			telemetry.RecordError(span, err)
			log.Warn().
				Err(err).
				Str("agent", a.cfg.Name).
				Int("step", step).
				Msg("Agent step failed")
			return res, err
		}
		res.Usage.Add(rec.Usage)
		if rec.Text != "" {
			res.Text = rec.Text
		}

		messages = append(messages, model.Message{
			Role:      model.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: rec.ToolCalls,
		})

		if len(rec.ToolCalls) == 0 {
			res.Steps = append(res.Steps, rec)
			res.FinishReason = FinishStop
			if resp.FinishReason == model.FinishLength {
				res.FinishReason = FinishLength
			}
			break
		}

		for i := range rec.ToolResults {
			tr := &rec.ToolResults[i]
			emit(Event{Type: EventToolResult, Step: step, ToolResult: tr})
			if tr.approval != nil {
				emit(Event{Type: EventApprovalRequired, Step: step, Approval: tr.approval})
				if !seenApprovals[tr.approval.ID] {
					seenApprovals[tr.approval.ID] = true
					res.PendingApprovals = append(res.PendingApprovals, tr.approval)
				}
			}
			messages = append(messages, model.Message{
				Role:       model.RoleTool,
				ToolCallID: tr.ToolCallID,
				Name:       tr.Name,
				Content:    toolContent(tr),
			})
		}
		res.Steps = append(res.Steps, rec)

		log.Debug().
			Str("agent", a.cfg.Name).
			Int("step", step).
			Int("tool_calls", len(rec.ToolCalls)).
			Msg("Agent loop continuing")
	}

	if res.FinishReason == "" {
		res.FinishReason = FinishMaxSteps
		log.Warn().
			Str("agent", a.cfg.Name).
			Int("max_steps", a.cfg.MaxSteps).
			Msg("Agent hit max steps")
	}
	res.Messages = messages
	res.TotalMs = time.Since(started).Milliseconds()

	span.SetAttributes(
		attribute.Int("agent.steps", len(res.Steps)),
		attribute.String("agent.finish_reason", string(res.FinishReason)),
		attribute.Int64("agent.usage.total_tokens", res.Usage.TotalTokens),
	)
	log.Info().
		Str("agent", a.cfg.Name).
		Int("steps", len(res.Steps)).
		Str("finish", string(res.FinishReason)).
		Int64("total_ms", res.TotalMs).
		Msg("Agent run complete")
	return res, nil
}

func (a *Agent) step(ctx context.Context, step int, messages []model.Message, emit func(Event)) (StepRecord, *model.Response, error) {
	started := time.Now()
	active := a.ActiveTools(step)
	rec := StepRecord{Number: step, ActiveTools: active}
	emit(Event{Type: EventStepStart, Step: step, ActiveTools: active})

	ctx, span := telemetry.Tracer().Start(ctx, "agent.step", trace.WithAttributes(
		attribute.Int("agent.step", step),
		attribute.StringSlice("agent.active_tools", active),
	))
	defer span.End()

	req := &model.Request{
		System:          a.cfg.Instructions,
		Messages:        messages,
		Tools:           a.cfg.Tools.Definitions(active),
		MaxOutputTokens: a.cfg.MaxOutputTokens,
		Temperature:     a.cfg.Temperature,
		TopP:            a.cfg.TopP,
	}
	resp, err := a.deps.Model.Generate(ctx, req)
	if err != nil {
		err = cerr.Wrap(err, cerr.ModelCallFailed, "model call failed")
		telemetry.RecordError(span, err)
		return rec, nil, err
	}

	rec.Text = resp.Text
	rec.Usage = resp.Usage
	if resp.Text != "" {
		emit(Event{Type: EventText, Step: step, Text: resp.Text})
	}

	calls := make([]model.ToolCall, len(resp.ToolCalls))
	for i, c := range resp.ToolCalls {
		if c.ID == "" {
			c.ID = "call_" + ulid.Make().String()
		}
		calls[i] = c
		emit(Event{Type: EventToolCall, Step: step, ToolCall: &calls[i]})
	}
	rec.ToolCalls = calls

	if len(calls) > 0 {
		rec.ToolResults = a.executeCalls(ctx, step, active, calls)
	}
	rec.LatencyMs = time.Since(started).Milliseconds()
	span.SetAttributes(attribute.Int("agent.tool_calls", len(calls)))
	return rec, resp, nil
}

// executeCalls runs the calls of one step concurrently. Results keep the
// order of calls.
func (a *Agent) executeCalls(ctx context.Context, step int, active []string, calls []model.ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	var g errgroup.Group
	for i, c := range calls {
		g.Go(func() error {
			results[i] = a.executeCall(ctx, step, active, c)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (a *Agent) executeCall(ctx context.Context, step int, active []string, call model.ToolCall) ToolResult {
	started := time.Now()
	res := ToolResult{ToolCallID: call.ID, Name: call.Name, Input: call.Arguments}
	defer func() { res.LatencyMs = time.Since(started).Milliseconds() }()

	tool, ok := a.lookup(call.Name, active)
	if !ok {
		res.Error = &ToolError{
			Code:    cerr.ToolNotFound,
			Message: fmt.Sprintf("tool %s is not available at this step", call.Name),
		}
		return res
	}

	opts := tools.CallOptions{ToolCallID: call.ID, Step: step}
	args := call.Arguments
	attempts := 0
	for {
		out, err := invoke(ctx, tool, args, opts)
		if err == nil {
			res.Input = args
			res.Output = out
			break
		}
		if !cerr.IsCode(err, cerr.ToolInvalidInput) {
			res.setError(err)
			break
		}

		fixed, rerr := a.repairer.Repair(ctx, RepairRequest{
			Tool:     tool,
			Input:    args,
			Attempts: attempts,
			Err:      err,
		})
		if rerr != nil {
			res.setError(rerr)
			break
		}
		if fixed == nil {
			// Budget exhausted; report the original failure.
			res.setError(err)
			break
		}
		attempts++
		args = fixed
	}
	res.RepairAttempts = attempts
	return res
}

func invoke(ctx context.Context, t *tools.Tool, args json.RawMessage, opts tools.CallOptions) (any, error) {
	if err := t.ValidateInput(args); err != nil {
		return nil, err
	}
	return t.Execute(ctx, args, opts)
}

func (a *Agent) lookup(name string, active []string) (*tools.Tool, bool) {
	t, ok := a.cfg.Tools[name]
	if !ok {
		return nil, false
	}
	if active == nil {
		return t, true
	}
	for _, n := range active {
		if n == name {
			return t, true
		}
	}
	return nil, false
}

func (r *ToolResult) setError(err error) {
	code := cerr.CodeOf(err)
	msg := err.Error()
	if e, ok := cerr.As(err); ok {
		msg = e.Msg
	}
	r.Error = &ToolError{Code: code, Message: msg}
	if rec, ok := approvals.PendingRecord(err); ok {
		r.approval = rec
	}
}

// toolContent is the tool message the model sees for a result.
func toolContent(r *ToolResult) string {
	var v any
	switch {
	case r.approval != nil:
		v = map[string]any{
			"error": r.Error,
			"approval": map[string]any{
				"id":             r.approval.ID,
				"action":         r.approval.Action,
				"idempotencyKey": r.approval.IdempotencyKey,
				"status":         r.approval.Status,
			},
		}
	case r.Error != nil:
		v = map[string]any{"error": r.Error}
	default:
		v = r.Output
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":{"code":"%s","message":"unencodable tool result"}}`, cerr.Internal)
	}
	return string(b)
}
