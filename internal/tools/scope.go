package tools

import (
	"context"
	"encoding/json"
)

// Identity is the caller identity injected into user-scoped tools.
type Identity struct {
	UserID    string
	SessionID string
}

// WithUserContext returns a new tool that overwrites the userId and
// sessionId fields of every input with the caller's identity, so the tool
// never trusts an identity supplied by the model or the client. The
// original tool is not modified.
func WithUserContext(t *Tool, id Identity) *Tool {
	inner := t.Execute
	scoped := t.Clone()
	scoped.Execute = func(ctx context.Context, input json.RawMessage, opts CallOptions) (any, error) {
		merged, err := injectIdentity(input, id)
		if err != nil {
			return nil, err
		}
		return inner(ctx, merged, opts)
	}
	return scoped
}

// ScopeSet applies WithUserContext to the named tools of s and returns a
// new set. Tools not named are shared unchanged.
func ScopeSet(s ToolSet, id Identity, names ...string) ToolSet {
	out := make(ToolSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	for _, n := range names {
		if t, ok := s[n]; ok {
			out[n] = WithUserContext(t, id)
		}
	}
	return out
}

func injectIdentity(input json.RawMessage, id Identity) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(input) > 0 && string(input) != "null" {
		if err := json.Unmarshal(input, &fields); err != nil {
			// Leave non-object input for schema validation to reject.
			return input, nil
		}
	}
	if id.UserID != "" {
		fields["userId"], _ = json.Marshal(id.UserID)
	} else {
		delete(fields, "userId")
	}
	if id.SessionID != "" {
		fields["sessionId"], _ = json.Marshal(id.SessionID)
	} else {
		delete(fields, "sessionId")
	}
	return json.Marshal(fields)
}

// ScopedInput is embedded by inputs of user-scoped tools.
type ScopedInput struct {
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}
