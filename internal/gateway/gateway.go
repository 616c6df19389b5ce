// Package gateway is the language-model boundary of assistd.
//
// The orchestrator talks to a Gateway: role-tagged messages in, text (and
// optionally tool calls) out. LLM adapts any langchaingo llms.Model to that
// interface, and Client layers rate limiting, retries, metrics and tracing
// on top of any Gateway.
package gateway

import (
	"context"
	"errors"

	"github.com/tmc/langchaingo/llms"
)

var (
	// ErrInvalidConfig is returned for unusable gateway settings.
	ErrInvalidConfig = errors.New("invalid gateway config")
	// ErrUnknownProvider is returned for a provider name with no adapter.
	ErrUnknownProvider = errors.New("unknown model provider")
	// ErrEmptyResponse is returned when the model produced no choices.
	ErrEmptyResponse = errors.New("empty response from model")
)

// Role tags a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System builds a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// ToolCall is a structured tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
	// ArgsError is set when the model's argument payload was not a JSON object.
	ArgsError string `json:"args_error,omitempty"`
}

// Response is the model's reply.
type Response struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
}

// Gateway sends a conversation to a language model.
type Gateway interface {
	Invoke(ctx context.Context, messages []Message, opts ...Option) (*Response, error)
}

// Options are per-call settings.
type Options struct {
	Model       string
	Tools       []llms.Tool
	JSONMode    bool
	Temperature *float64
	MaxTokens   int
}

// Option configures a single Invoke call.
type Option func(*Options)

// WithModel selects the model for this call.
func WithModel(model string) Option {
	return func(o *Options) { o.Model = model }
}

// WithTools offers tool definitions the model may call.
func WithTools(tools []llms.Tool) Option {
	return func(o *Options) { o.Tools = tools }
}

// WithJSONMode asks the provider to constrain output to a JSON object.
func WithJSONMode() Option {
	return func(o *Options) { o.JSONMode = true }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Options) { o.Temperature = &t }
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = n }
}

// Apply folds opts into an Options value.
func Apply(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
