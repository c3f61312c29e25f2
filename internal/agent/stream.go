package agent

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/model"
	"github.com/tripsage/tripsage-core/pkg/models"
)

// EventType names a stream event.
type EventType string

const (
	EventStepStart        EventType = "step-start"
	EventText             EventType = "text"
	EventToolCall         EventType = "tool-call"
	EventToolResult       EventType = "tool-result"
	EventApprovalRequired EventType = "approval-required"
	EventFinish           EventType = "finish"
	EventError            EventType = "error"
)

// Event is one incremental update of a streamed run.
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	Step        int                    `json:"step"`
	ActiveTools []string               `json:"activeTools,omitempty"`
	Text        string                 `json:"text,omitempty"`
	ToolCall    *model.ToolCall        `json:"toolCall,omitempty"`
	ToolResult  *ToolResult            `json:"toolResult,omitempty"`
	Approval    *models.ApprovalRecord `json:"approval,omitempty"`
	Result      *Result                `json:"result,omitempty"`
	Error       *ToolError             `json:"error,omitempty"`
}

// Stream runs the loop in the background and delivers events on the
// returned channel. The channel is closed after a finish or error event.
// Events are dropped once ctx is done.
func (a *Agent) Stream(ctx context.Context, messages ...model.Message) <-chan Event {
	ch := make(chan Event, 16)
	send := func(e Event) {
		e.ID = ulid.Make().String()
		select {
		case ch <- e:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(ch)
		res, err := a.run(ctx, messages, send)
		if err != nil {
			e := cerr.Wrap(err, cerr.Internal, "agent run failed")
			send(Event{Type: EventError, Error: &ToolError{Code: e.Code, Message: e.Msg}, Result: res})
			return
		}
		send(Event{Type: EventFinish, Step: len(res.Steps) - 1, Result: res})
	}()
	return ch
}
