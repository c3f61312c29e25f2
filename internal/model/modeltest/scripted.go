// Package modeltest provides a scripted LanguageModel for tests.
package modeltest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/tripsage/tripsage-core/internal/model"
)

// Step is one scripted reply. Exactly one of Response, Err or Func is used.
type Step struct {
	Response *model.Response
	Err      error
	Func     func(req *model.Request) (*model.Response, error)
}

// Scripted replays Steps in order and records every request it receives.
// Once the script is exhausted it keeps returning the last step, or a plain
// "done" text reply when the script is empty.
type Scripted struct {
	ID string

	mu       sync.Mutex
	steps    []Step
	next     int
	requests []*model.Request
}

// New creates a scripted model.
func New(id string, steps ...Step) *Scripted {
	return &Scripted{ID: id, steps: steps}
}

func (s *Scripted) ModelID() string { return s.ID }

func (s *Scripted) Generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	cp := *req
	cp.Messages = append([]model.Message(nil), req.Messages...)
	cp.Tools = append([]model.ToolDefinition(nil), req.Tools...)
	s.requests = append(s.requests, &cp)

	var step Step
	switch {
	case len(s.steps) == 0:
		step = Step{Response: Text("done")}
	case s.next < len(s.steps):
		step = s.steps[s.next]
		s.next++
	default:
		step = s.steps[len(s.steps)-1]
	}
	s.mu.Unlock()

	switch {
	case step.Func != nil:
		return step.Func(&cp)
	case step.Err != nil:
		return nil, step.Err
	case step.Response != nil:
		r := *step.Response
		if r.ModelID == "" {
			r.ModelID = s.ID
		}
		return &r, nil
	}
	return nil, errors.New("modeltest: empty step")
}

// Requests returns the requests seen so far.
func (s *Scripted) Requests() []*model.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Request(nil), s.requests...)
}

// Calls returns the number of Generate calls.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Text is a final text reply.
func Text(text string) *model.Response {
	return &model.Response{Text: text, FinishReason: model.FinishStop}
}

// ToolCalls is a reply requesting the given calls.
func ToolCalls(calls ...model.ToolCall) *model.Response {
	return &model.Response{ToolCalls: calls, FinishReason: model.FinishToolCalls}
}

// Call builds a tool call with JSON-encoded args. A string args value is
// used verbatim as the raw argument bytes.
func Call(id, name string, args any) model.ToolCall {
	var raw json.RawMessage
	switch a := args.(type) {
	case string:
		raw = json.RawMessage(a)
	case json.RawMessage:
		raw = a
	default:
		raw, _ = json.Marshal(a)
	}
	return model.ToolCall{ID: id, Name: name, Arguments: raw}
}

// Reply is a Step returning resp.
func Reply(resp *model.Response) Step { return Step{Response: resp} }

// Fail is a Step returning err.
func Fail(err error) Step { return Step{Err: err} }
