package workflows

import (
	"context"
	"fmt"
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/rs/zerolog/log"

	"github.com/tripsage/tripsage-core/internal/agent"
	"github.com/tripsage/tripsage-core/internal/catalog"
	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/model"
	"github.com/tripsage/tripsage-core/internal/tokens"
	"github.com/tripsage/tripsage-core/internal/tools"
	"github.com/tripsage/tripsage-core/pkg/models"
)

// ChatRequest is the conversational workflow payload.
type ChatRequest struct {
	Messages []model.Message `json:"messages"`
	// Desired output ceiling; the stored maxTokens is used when zero.
	MaxTokens int `json:"maxTokens,omitempty"`
}

func (r *ChatRequest) validate() error {
	if len(r.Messages) == 0 {
		return badRequest("messages are required")
	}
	for i, m := range r.Messages {
		if m.Role != model.RoleUser && m.Role != model.RoleAssistant {
			return badRequest("message %d has unsupported role %q", i, m.Role)
		}
	}
	if strings.TrimSpace(r.lastUserText()) == "" {
		return badRequest("a non-empty user message is required")
	}
	return nil
}

func (r *ChatRequest) lastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == model.RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

const chatBase = `You are TripSage, a travel planning assistant. Help the user research destinations, compare flights and stays, plan budgets and itineraries, and manage their saved travel plans.
Use tools for anything factual or time-sensitive. Bookings and deletions need the user's approval; when a tool reports that approval is required, tell the user what is waiting for them.`

// Chat builds the general assistant over every registered tool. It needs
// a user id because memory, plan and booking tools are user-scoped.
func (e *Env) Chat(ctx context.Context, deps agent.Dependencies, cfg models.AgentConfig, req ChatRequest) (*Built, error) {
	if strings.TrimSpace(deps.UserID) == "" {
		return nil, cerr.New(cerr.AgentUserRequired, "chat agent requires a user id", nil)
	}
	if e.Tools == nil {
		return nil, cerr.New(cerr.AgentConfigInvalid, "tool registry is not configured", nil)
	}
	params := cfg.Resolve()
	id := modelID(deps)
	clamper := e.clamper()
	last := req.lastUserText()

	instructions := e.chatInstructions(ctx, deps, last)

	desired := params.MaxTokens
	if req.MaxTokens > 0 {
		desired = req.MaxTokens
	}
	prompt := make([]tokens.Message, 0, len(req.Messages)+1)
	prompt = append(prompt, tokens.Message{Role: string(model.RoleSystem), Content: instructions})
	for _, m := range req.Messages {
		prompt = append(prompt, tokens.Message{Role: string(m.Role), Content: m.Content})
	}
	budget := clamper.Clamp(prompt, desired, id)
	if budget.Available <= 0 {
		return nil, contextExceeded(id, budget)
	}

	if e.Memory != nil {
		e.Memory.RecordTurn(ctx, deps.UserID, deps.SessionID, last)
	}

	set := tools.ScopeSet(e.Tools.All(), tools.Identity{UserID: deps.UserID, SessionID: deps.SessionID}, catalog.UserScoped...)

	deps.ModelID = id
	a, err := agent.New(deps, agent.Config{
		AgentType:       models.WorkflowChat,
		Name:            DisplayName(models.WorkflowChat),
		Instructions:    instructions,
		Tools:           set,
		DefaultMessages: req.Messages,
		MaxSteps:        max(params.MaxSteps, MinSteps(models.WorkflowChat)),
		MaxOutputTokens: budget.MaxTokens,
		Temperature:     model.Float(params.Temperature),
		TopP:            params.TopP,
	})
	if err != nil {
		return nil, err
	}
	return &Built{
		Agent:           a,
		AgentType:       models.WorkflowChat,
		ModelID:         id,
		DefaultMessages: req.Messages,
		Budget:          budget,
	}, nil
}

// chatInstructions adds a reply-language hint and what is remembered about
// the user. Both are best effort.
func (e *Env) chatInstructions(ctx context.Context, deps agent.Dependencies, last string) string {
	var b strings.Builder
	b.WriteString(chatBase)

	if info := whatlanggo.Detect(last); info.IsReliable() && info.Lang != whatlanggo.Eng {
		fmt.Fprintf(&b, "\nThe user writes in %s (%s); reply in that language.", info.Lang.String(), info.Lang.Iso6391())
	}

	if e.Memory != nil {
		mems, err := e.Memory.Search(ctx, deps.UserID, last, 5)
		if err != nil {
			log.Warn().Err(err).Str("user_id", deps.UserID).Msg("Memory lookup failed")
		} else if len(mems) > 0 {
			b.WriteString("\nKnown about this user:")
			for _, m := range mems {
				fmt.Fprintf(&b, "\n- %s", m.Content)
			}
		}
	}
	return b.String()
}
