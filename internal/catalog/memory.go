package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/guardrails"
	"github.com/tripsage/tripsage-core/internal/schema"
	"github.com/tripsage/tripsage-core/internal/tools"
	"github.com/tripsage/tripsage-core/pkg/models"
)

var addMemorySchema = schema.MustCompile(`{
	"type": "object",
	"properties": {
		"content": {"type": "string", "minLength": 1, "maxLength": 4000},
		"category": {"type": "string", "enum": ["user_preference", "travel_history", "fact", "conversation"]},
		"userId": {"type": "string"},
		"sessionId": {"type": "string"}
	},
	"required": ["content"]
}`)

var searchMemorySchema = schema.MustCompile(`{
	"type": "object",
	"properties": {
		"query": {"type": "string"},
		"limit": {"type": "integer", "minimum": 1, "maximum": 50},
		"userId": {"type": "string"},
		"sessionId": {"type": "string"}
	}
}`)

func memoryTools(d Deps) []entry {
	add := &tools.Tool{
		Name:        AddConversationMemory,
		Description: "Remember a fact or preference about the user for future conversations.",
		InputSchema: addMemorySchema,
		Execute: func(ctx context.Context, input json.RawMessage, _ tools.CallOptions) (any, error) {
			in, err := tools.Decode[struct {
				tools.ScopedInput
				Content  string `json:"content"`
				Category string `json:"category"`
			}](input)
			if err != nil {
				return nil, err
			}
			if d.Memory == nil {
				return nil, cerr.New(cerr.MemoryStoreFailed, "memory is not configured", nil)
			}
			rec, err := d.Memory.Add(ctx, in.UserID, in.SessionID, in.Category, in.Content)
			if err != nil {
				return nil, err
			}
			return map[string]any{"success": true, "memoryId": rec.ID}, nil
		},
	}

	search := &tools.Tool{
		Name:        SearchUserMemories,
		Description: "Search what is remembered about the user (preferences, past trips).",
		InputSchema: searchMemorySchema,
		Execute: func(ctx context.Context, input json.RawMessage, _ tools.CallOptions) (any, error) {
			in, err := tools.Decode[struct {
				tools.ScopedInput
				Query string `json:"query"`
				Limit int    `json:"limit"`
			}](input)
			if err != nil {
				return nil, err
			}
			if d.Memory == nil {
				return nil, cerr.New(cerr.MemoryStoreFailed, "memory is not configured", nil)
			}
			recs, err := d.Memory.Search(ctx, in.UserID, in.Query, in.Limit)
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, 0, len(recs))
			for _, r := range recs {
				out = append(out, map[string]any{
					"content":   r.Content,
					"category":  r.Category,
					"createdAt": r.CreatedAt,
				})
			}
			return map[string]any{"memories": out}, nil
		},
	}

	tel := &guardrails.TelemetryConfig{
		Workflow:   string(models.WorkflowChat),
		RedactKeys: []string{"content", "query", "userId"},
	}
	perUser := &guardrails.RateLimitConfig{Identifier: byUser, Limit: 60, Window: time.Minute}

	return []entry{
		{tool: add, cfg: guardrails.Config{RateLimit: perUser, Telemetry: tel}},
		{tool: search, cfg: guardrails.Config{RateLimit: perUser, Telemetry: tel}},
	}
}
