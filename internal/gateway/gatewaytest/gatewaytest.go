// Package gatewaytest provides fake gateways for tests.
package gatewaytest

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/fyrsmithlabs/assistd/internal/gateway"
)

// ErrExhausted is returned once a Scripted gateway runs out of steps.
var ErrExhausted = errors.New("gatewaytest: script exhausted")

// Call records one Invoke.
type Call struct {
	Messages []gateway.Message
	Options  gateway.Options
}

// Step is one scripted reply.
type Step struct {
	Response *gateway.Response
	Err      error
}

// Reply returns a plain text step.
func Reply(content string) Step {
	return Step{Response: &gateway.Response{Role: gateway.RoleAssistant, Content: content}}
}

// ReplyTools returns a step carrying structured tool calls.
func ReplyTools(content string, calls ...gateway.ToolCall) Step {
	return Step{Response: &gateway.Response{Role: gateway.RoleAssistant, Content: content, ToolCalls: calls}}
}

// Fail returns an error step.
func Fail(err error) Step {
	return Step{Err: err}
}

// Scripted replays steps in order and records every call.
type Scripted struct {
	mu    sync.Mutex
	steps []Step
	calls []Call
}

// New creates a Scripted gateway.
func New(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Invoke implements gateway.Gateway.
func (s *Scripted) Invoke(ctx context.Context, messages []gateway.Message, opts ...gateway.Option) (*gateway.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.calls)
	s.calls = append(s.calls, Call{Messages: append([]gateway.Message(nil), messages...), Options: gateway.Apply(opts...)})
	if idx >= len(s.steps) {
		return nil, ErrExhausted
	}
	return s.steps[idx].Response, s.steps[idx].Err
}

// Calls returns the recorded calls.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how many times Invoke ran.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Func adapts a function to gateway.Gateway.
type Func func(ctx context.Context, messages []gateway.Message, opts gateway.Options) (*gateway.Response, error)

// Invoke implements gateway.Gateway.
func (f Func) Invoke(ctx context.Context, messages []gateway.Message, opts ...gateway.Option) (*gateway.Response, error) {
	return f(ctx, messages, gateway.Apply(opts...))
}

// Mock is a testify mock of gateway.Gateway. Expectations match on
// (ctx, messages, gateway.Options).
type Mock struct {
	mock.Mock
}

// Invoke implements gateway.Gateway.
func (m *Mock) Invoke(ctx context.Context, messages []gateway.Message, opts ...gateway.Option) (*gateway.Response, error) {
	args := m.Called(ctx, messages, gateway.Apply(opts...))
	var resp *gateway.Response
	if r := args.Get(0); r != nil {
		resp = r.(*gateway.Response)
	}
	return resp, args.Error(1)
}

var (
	_ gateway.Gateway = (*Scripted)(nil)
	_ gateway.Gateway = Func(nil)
	_ gateway.Gateway = (*Mock)(nil)
)
