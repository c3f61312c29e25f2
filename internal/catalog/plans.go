package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tripsage/tripsage-core/internal/approvals"
	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/guardrails"
	"github.com/tripsage/tripsage-core/internal/plans"
	"github.com/tripsage/tripsage-core/internal/schema"
	"github.com/tripsage/tripsage-core/internal/tools"
	"github.com/tripsage/tripsage-core/pkg/models"
)

var createPlanSchema = schema.MustCompile(`{
	"type": "object",
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"destinations": {"type": "array", "items": {"type": "string"}, "minItems": 1},
		"startDate": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
		"endDate": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
		"travelers": {"type": "integer", "minimum": 1},
		"budget": {"type": "number", "minimum": 0},
		"preferences": {"type": "object"},
		"userId": {"type": "string"},
		"sessionId": {"type": "string"}
	},
	"required": ["title", "destinations", "startDate", "endDate"]
}`)

var updatePlanSchema = schema.MustCompile(`{
	"type": "object",
	"properties": {
		"planId": {"type": "string", "minLength": 1},
		"title": {"type": "string"},
		"destinations": {"type": "array", "items": {"type": "string"}},
		"startDate": {"type": "string"},
		"endDate": {"type": "string"},
		"travelers": {"type": "integer", "minimum": 1},
		"budget": {"type": "number", "minimum": 0},
		"flights": {"type": "array", "items": {"type": "object"}},
		"accommodations": {"type": "array", "items": {"type": "object"}},
		"activities": {"type": "array", "items": {"type": "object"}},
		"transportation": {"type": "array", "items": {"type": "object"}},
		"notes": {"type": "array", "items": {"type": "string"}},
		"userId": {"type": "string"},
		"sessionId": {"type": "string"}
	},
	"required": ["planId"]
}`)

var savePlanSchema = schema.MustCompile(`{
	"type": "object",
	"properties": {
		"planId": {"type": "string", "minLength": 1},
		"finalize": {"type": "boolean"},
		"userId": {"type": "string"},
		"sessionId": {"type": "string"}
	},
	"required": ["planId"]
}`)

var deletePlanSchema = schema.MustCompile(`{
	"type": "object",
	"properties": {
		"planId": {"type": "string", "minLength": 1},
		"userId": {"type": "string"},
		"sessionId": {"type": "string"}
	},
	"required": ["planId"]
}`)

type planRef struct {
	tools.ScopedInput
	PlanID   string `json:"planId"`
	Finalize bool   `json:"finalize"`
}

type updatePlanInput struct {
	tools.ScopedInput
	plans.UpdateInput
	PlanID string `json:"planId"`
}

func errPlansNotConfigured() error {
	return cerr.New(cerr.PlanStoreFailed, "plan storage is not configured", nil)
}

func planTools(d Deps) []entry {
	create := &tools.Tool{
		Name:        CreateTravelPlan,
		Description: "Create a draft travel plan for the user.",
		InputSchema: createPlanSchema,
		Execute: func(ctx context.Context, input json.RawMessage, _ tools.CallOptions) (any, error) {
			in, err := tools.Decode[plans.CreateInput](input)
			if err != nil {
				return nil, err
			}
			if d.Plans == nil {
				return nil, errPlansNotConfigured()
			}
			p, err := d.Plans.Create(ctx, in)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"success": true,
				"planId":  p.PlanID,
				"plan":    p,
				"message": "Travel plan created",
			}, nil
		},
	}

	update := &tools.Tool{
		Name:        UpdateTravelPlan,
		Description: "Update a draft travel plan. Component lists (flights, accommodations, activities, transportation, notes) are appended.",
		InputSchema: updatePlanSchema,
		Execute: func(ctx context.Context, input json.RawMessage, _ tools.CallOptions) (any, error) {
			in, err := tools.Decode[updatePlanInput](input)
			if err != nil {
				return nil, err
			}
			if d.Plans == nil {
				return nil, errPlansNotConfigured()
			}
			p, err := d.Plans.Update(ctx, in.UserID, in.PlanID, in.UpdateInput)
			if err != nil {
				return nil, err
			}
			return map[string]any{"success": true, "planId": p.PlanID, "plan": p}, nil
		},
	}

	save := &tools.Tool{
		Name:        SaveTravelPlan,
		Description: "Save a travel plan, optionally finalizing it. Returns a markdown summary.",
		InputSchema: savePlanSchema,
		Execute: func(ctx context.Context, input json.RawMessage, _ tools.CallOptions) (any, error) {
			in, err := tools.Decode[planRef](input)
			if err != nil {
				return nil, err
			}
			if d.Plans == nil {
				return nil, errPlansNotConfigured()
			}
			p, summary, err := d.Plans.Save(ctx, in.UserID, in.PlanID, in.Finalize)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"success": true,
				"planId":  p.PlanID,
				"status":  p.Status,
				"summary": summary,
			}, nil
		},
	}

	del := &tools.Tool{
		Name:        DeleteTravelPlan,
		Description: "Delete a travel plan. Requires user approval.",
		InputSchema: deletePlanSchema,
		Execute: func(ctx context.Context, input json.RawMessage, _ tools.CallOptions) (any, error) {
			in, err := tools.Decode[planRef](input)
			if err != nil {
				return nil, err
			}
			if d.Plans == nil || d.Approvals == nil {
				return nil, errPlansNotConfigured()
			}
			// Ownership is checked before asking anyone to approve.
			if _, err := d.Plans.Get(ctx, in.UserID, in.PlanID); err != nil {
				return nil, err
			}
			if err := d.Approvals.Require(ctx, DeleteTravelPlan, approvals.Options{
				IdempotencyKey: in.PlanID,
				SessionID:      in.SessionID,
			}); err != nil {
				return nil, err
			}
			if err := d.Plans.Delete(context.WithoutCancel(ctx), in.UserID, in.PlanID); err != nil {
				return nil, err
			}
			return map[string]any{"success": true, "planId": in.PlanID}, nil
		},
	}

	perUser := func(limit int) *guardrails.RateLimitConfig {
		return &guardrails.RateLimitConfig{Identifier: byUser, Limit: limit, Window: time.Minute}
	}
	telemetry := &guardrails.TelemetryConfig{
		Workflow:   string(models.WorkflowItinerary),
		RedactKeys: []string{"userId", "destinations", "title", "notes", "preferences"},
	}

	return []entry{
		{tool: create, cfg: guardrails.Config{RateLimit: perUser(10), Telemetry: telemetry}},
		{tool: update, cfg: guardrails.Config{RateLimit: perUser(30), Telemetry: telemetry}},
		{tool: save, cfg: guardrails.Config{RateLimit: perUser(30), Telemetry: telemetry}},
		{tool: del, cfg: guardrails.Config{RateLimit: perUser(10), Telemetry: telemetry}},
	}
}
