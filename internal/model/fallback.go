package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Fallback tries each model in order and returns the first success.
type Fallback struct {
	models []LanguageModel
}

// NewFallback builds a chain with primary first. Nil entries are skipped.
func NewFallback(primary LanguageModel, rest ...LanguageModel) *Fallback {
	f := &Fallback{}
	for _, m := range append([]LanguageModel{primary}, rest...) {
		if m != nil {
			f.models = append(f.models, m)
		}
	}
	return f
}

// ModelID reports the primary model's id.
func (f *Fallback) ModelID() string {
	if len(f.models) == 0 {
		return ""
	}
	return f.models[0].ModelID()
}

// Len returns the number of models in the chain.
func (f *Fallback) Len() int { return len(f.models) }

func (f *Fallback) Generate(ctx context.Context, req *Request) (*Response, error) {
	if len(f.models) == 0 {
		return nil, errors.New("fallback: no models configured")
	}

	var lastErr error
	for _, m := range f.models {
		resp, err := m.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().
			Str("model", m.ModelID()).
			Err(err).
			Msg("Model call failed, trying next")
		lastErr = err
	}
	return nil, fmt.Errorf("all models failed, last error: %w", lastErr)
}
