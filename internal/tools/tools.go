// Package tools provides the tool registry the task executor dispatches to.
package tools

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assistd/internal/logging"
)

var (
	// ErrNotFound is returned when no tool is registered under a name.
	ErrNotFound = errors.New("tool not found")
	// ErrInvalidArgs is returned when arguments do not satisfy the schema.
	ErrInvalidArgs = errors.New("invalid tool arguments")
	// ErrDuplicate is returned when registering a name twice.
	ErrDuplicate = errors.New("tool already registered")
)

var (
	invocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistd",
		Subsystem: "tools",
		Name:      "invocations_total",
		Help:      "Tool invocations by tool and result.",
	}, []string{"tool", "result"})

	invocationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "assistd",
		Subsystem: "tools",
		Name:      "invocation_duration_seconds",
		Help:      "Tool invocation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})
)

// Tool is a named, independently fallible capability.
type Tool interface {
	Name() string
	Description() string
	Parameters() Schema
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// Schema is the JSON-schema object describing a tool's arguments.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes one argument.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Registry maps tool names to tools. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry holding the given tools.
// It panics on duplicate names.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a tool.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns the tools sorted by name.
func (r *Registry) List() []Tool {
	names := r.Names()
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		if t, ok := r.Get(n); ok {
			out = append(out, t)
		}
	}
	return out
}

// Specs returns the tools as function definitions for model-side tool calling.
func (r *Registry) Specs() []llms.Tool {
	list := r.List()
	specs := make([]llms.Tool, 0, len(list))
	for _, t := range list {
		specs = append(specs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return specs
}

// Invoke validates args against the tool schema and calls it.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		invocationsTotal.WithLabelValues("unknown", "not_found").Inc()
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := validate(t.Parameters(), args); err != nil {
		invocationsTotal.WithLabelValues(name, "invalid_args").Inc()
		return "", fmt.Errorf("%s: %w", name, err)
	}

	start := time.Now()
	out, err := t.Invoke(ctx, args)
	invocationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	logger := logging.FromContext(ctx)
	if err != nil {
		invocationsTotal.WithLabelValues(name, "error").Inc()
		logger.Warn(ctx, "tool failed", zap.String("tool", name), zap.Error(err))
		return "", err
	}
	invocationsTotal.WithLabelValues(name, "ok").Inc()
	logger.Debug(ctx, "tool invoked", zap.String("tool", name), zap.Duration("duration", time.Since(start)))
	return out, nil
}

func validate(s Schema, args map[string]any) error {
	for _, req := range s.Required {
		v, ok := args[req]
		if !ok || v == nil {
			return fmt.Errorf("%w: missing %q", ErrInvalidArgs, req)
		}
		if s.Properties[req].Type == "string" {
			if _, err := stringArg(v); err != nil {
				return fmt.Errorf("%w: %q %v", ErrInvalidArgs, req, err)
			}
		}
	}
	for name := range args {
		if _, ok := s.Properties[name]; !ok && !slices.Contains(s.Required, name) {
			return fmt.Errorf("%w: unexpected %q", ErrInvalidArgs, name)
		}
	}
	return nil
}

// stringArg accepts strings and renders scalar JSON values as text.
func stringArg(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case float64, int, int64, bool:
		return fmt.Sprint(val), nil
	default:
		return "", fmt.Errorf("must be a string, got %T", v)
	}
}
