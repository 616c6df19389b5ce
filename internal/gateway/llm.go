package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
)

// LLM adapts a langchaingo model to Gateway.
type LLM struct {
	model       llms.Model
	temperature float64
	maxTokens   int
}

// NewLLM wraps model with default sampling settings.
func NewLLM(model llms.Model, temperature float64, maxTokens int) *LLM {
	return &LLM{model: model, temperature: temperature, maxTokens: maxTokens}
}

// Invoke implements Gateway.
func (l *LLM) Invoke(ctx context.Context, messages []Message, opts ...Option) (*Response, error) {
	o := Apply(opts...)

	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role, err := chatRole(m.Role)
		if err != nil {
			return nil, err
		}
		content = append(content, llms.TextParts(role, m.Content))
	}

	temperature := l.temperature
	if o.Temperature != nil {
		temperature = *o.Temperature
	}
	maxTokens := l.maxTokens
	if o.MaxTokens > 0 {
		maxTokens = o.MaxTokens
	}

	callOpts := []llms.CallOption{llms.WithTemperature(temperature)}
	if maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(maxTokens))
	}
	if o.Model != "" {
		callOpts = append(callOpts, llms.WithModel(o.Model))
	}
	if len(o.Tools) > 0 {
		callOpts = append(callOpts, llms.WithTools(o.Tools))
	}
	if o.JSONMode {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	resp, err := l.model.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	return fromChoice(resp.Choices[0]), nil
}

func chatRole(r Role) (llms.ChatMessageType, error) {
	switch r {
	case RoleSystem:
		return llms.ChatMessageTypeSystem, nil
	case RoleUser:
		return llms.ChatMessageTypeHuman, nil
	case RoleAssistant:
		return llms.ChatMessageTypeAI, nil
	default:
		return "", fmt.Errorf("unsupported message role %q", r)
	}
}

func fromChoice(c *llms.ContentChoice) *Response {
	resp := &Response{Role: RoleAssistant, Content: c.Content, StopReason: c.StopReason}
	for _, tc := range c.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		resp.ToolCalls = append(resp.ToolCalls, toolCall(tc.ID, tc.FunctionCall))
	}
	if len(resp.ToolCalls) == 0 && c.FuncCall != nil {
		resp.ToolCalls = append(resp.ToolCalls, toolCall("", c.FuncCall))
	}
	return resp
}

func toolCall(id string, fc *llms.FunctionCall) ToolCall {
	if id == "" {
		id = uuid.NewString()
	}
	call := ToolCall{ID: id, Name: fc.Name, Args: map[string]any{}}
	if fc.Arguments == "" {
		return call
	}
	if err := json.Unmarshal([]byte(fc.Arguments), &call.Args); err != nil {
		call.Args = map[string]any{}
		call.ArgsError = fmt.Sprintf("invalid arguments %q: %v", fc.Arguments, err)
	}
	return call
}

var _ Gateway = (*LLM)(nil)
