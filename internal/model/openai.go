package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tripsage/tripsage-core/internal/cerr"
)

// ── OpenAI-compatible Provider ──────────────────────────────

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	BaseURL string // default https://api.openai.com/v1
	APIKey  string
	Model   string
	// Azure selects the api-key header instead of Bearer auth.
	Azure      bool
	HTTPClient *http.Client
}

// OpenAI calls /chat/completions with tool and response-format support.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI creates a client. The API key is checked lazily on first call.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &OpenAI{cfg: cfg, client: client}
}

func (o *OpenAI) ModelID() string { return o.cfg.Model }

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type openAIResponseFormat struct {
	Type       string `json:"type"`
	JSONSchema *struct {
		Name   string          `json:"name"`
		Schema json.RawMessage `json:"schema"`
	} `json:"json_schema,omitempty"`
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	Tools          []openAITool          `json:"tools,omitempty"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	Temperature    *float64              `json:"temperature,omitempty"`
	TopP           *float64              `json:"top_p,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (o *OpenAI) Generate(ctx context.Context, req *Request) (*Response, error) {
	if o.cfg.APIKey == "" {
		return nil, cerr.New(cerr.ProviderNotConfigured, "openai: api key not configured", nil)
	}

	body, err := json.Marshal(o.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}

	url := o.cfg.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.cfg.Azure {
		httpReq.Header.Set("api-key", o.cfg.APIKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, cerr.New(cerr.ModelCallFailed, "openai: request failed", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, cerr.Newf(cerr.ModelCallFailed, "openai: status %d: %s", httpResp.StatusCode, string(respBody)).
			WithMeta("status", httpResp.StatusCode)
	}

	var oaiResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oaiResp); err != nil {
		return nil, cerr.New(cerr.ModelInvalidResponse, "openai: decode response", err)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, cerr.New(cerr.ModelInvalidResponse, "openai: response has no choices", nil)
	}

	choice := oaiResp.Choices[0]
	resp := &Response{
		Text:         choice.Message.Content,
		FinishReason: finishReason(choice.FinishReason),
		ModelID:      o.cfg.Model,
		Usage: Usage{
			InputTokens:  oaiResp.Usage.PromptTokens,
			OutputTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:  oaiResp.Usage.TotalTokens,
		},
	}
	if oaiResp.Model != "" {
		resp.ModelID = oaiResp.Model
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: rawArguments(tc.Function.Arguments),
		})
	}
	return resp, nil
}

func (o *OpenAI) buildRequest(req *Request) openAIRequest {
	out := openAIRequest{
		Model:       o.cfg.Model,
		MaxTokens:   req.MaxOutputTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}

	if req.System != "" {
		out.Messages = append(out.Messages, openAIMessage{Role: string(RoleSystem), Content: req.System})
	}
	for _, m := range req.Messages {
		om := openAIMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			var otc openAIToolCall
			otc.ID = tc.ID
			otc.Type = "function"
			otc.Function.Name = tc.Name
			otc.Function.Arguments = string(tc.Arguments)
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out.Messages = append(out.Messages, om)
	}

	for _, t := range req.Tools {
		var ot openAITool
		ot.Type = "function"
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.InputSchema
		if len(ot.Function.Parameters) == 0 {
			ot.Function.Parameters = json.RawMessage(`{"type":"object"}`)
		}
		out.Tools = append(out.Tools, ot)
	}

	if len(req.ResponseSchema) > 0 {
		name := req.ResponseName
		if name == "" {
			name = "response"
		}
		out.ResponseFormat = &openAIResponseFormat{
			Type: "json_schema",
			JSONSchema: &struct {
				Name   string          `json:"name"`
				Schema json.RawMessage `json:"schema"`
			}{Name: name, Schema: req.ResponseSchema},
		}
	}
	return out
}

// rawArguments keeps valid JSON as-is and wraps anything else as a JSON
// string so tool-call repair can see what the model actually sent.
func rawArguments(args string) json.RawMessage {
	if args == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	quoted, _ := json.Marshal(args)
	return quoted
}

func finishReason(s string) FinishReason {
	switch s {
	case "stop":
		return FinishStop
	case "tool_calls", "function_call":
		return FinishToolCalls
	case "length":
		return FinishLength
	default:
		return FinishOther
	}
}
