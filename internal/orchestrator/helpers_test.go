package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/assistd/internal/gateway"
	"github.com/fyrsmithlabs/assistd/internal/gateway/gatewaytest"
	"github.com/fyrsmithlabs/assistd/internal/tools"
)

// stagedGateway replies per stage, keyed by the system prompt. The last
// reply of a stage repeats once its script runs out.
type stagedGateway struct {
	mu      sync.Mutex
	scripts map[string][]gatewaytest.Step
	calls   map[string]int
	options map[string][]gateway.Options
}

func newStagedGateway() *stagedGateway {
	return &stagedGateway{
		scripts: make(map[string][]gatewaytest.Step),
		calls:   make(map[string]int),
		options: make(map[string][]gateway.Options),
	}
}

func (g *stagedGateway) planner(steps ...gatewaytest.Step) *stagedGateway {
	g.scripts[plannerSystemPrompt] = steps
	return g
}

func (g *stagedGateway) executor(steps ...gatewaytest.Step) *stagedGateway {
	g.scripts[executorSystemPrompt] = steps
	return g
}

func (g *stagedGateway) replanner(steps ...gatewaytest.Step) *stagedGateway {
	g.scripts[replannerSystemPrompt] = steps
	return g
}

func (g *stagedGateway) Invoke(ctx context.Context, messages []gateway.Message, opts ...gateway.Option) (*gateway.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	key := messages[0].Content
	n := g.calls[key]
	g.calls[key] = n + 1
	g.options[key] = append(g.options[key], gateway.Apply(opts...))

	steps := g.scripts[key]
	if len(steps) == 0 {
		return nil, fmt.Errorf("no script for %q", key)
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	return steps[n].Response, steps[n].Err
}

func (g *stagedGateway) count(system string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[system]
}

func (g *stagedGateway) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

func builtinRegistry() *tools.Registry {
	return tools.NewRegistry(tools.Builtins(nil)...)
}

func planJSON(goal string, steps ...string) gatewaytest.Step {
	quoted := make([]string, len(steps))
	for i, s := range steps {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return gatewaytest.Reply(fmt.Sprintf(`{"goals": %q, "plan": [%s]}`, goal, strings.Join(quoted, ", ")))
}
