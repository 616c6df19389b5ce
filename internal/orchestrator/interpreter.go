package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/assistd/internal/gateway"
	"github.com/fyrsmithlabs/assistd/internal/parser"
	"github.com/fyrsmithlabs/assistd/internal/tools"
)

// Strategy names accepted by NewInterpreter.
const (
	StrategyText       = "text"
	StrategyStructured = "structured"
)

// Interpreter decides how executor and replanner exchanges with the model
// are framed and read back.
type Interpreter interface {
	Name() string
	// ExecutorRequest returns the executor's human message and call options.
	ExecutorRequest(task, goal string, reg *tools.Registry) (string, []gateway.Option)
	// Dispatch runs any tools the response asks for and returns the step's
	// response text. Tool failures are rendered inline.
	Dispatch(ctx context.Context, resp *gateway.Response, reg *tools.Registry) string
	// ReplannerRequest returns the replanner's human message and call options.
	ReplannerRequest(s State) (string, []gateway.Option)
	// Decide reads the replanner's verdict.
	Decide(resp *gateway.Response) (parser.Decision, error)
}

// NewInterpreter returns the interpreter for a strategy name.
func NewInterpreter(strategy string) (Interpreter, error) {
	switch strategy {
	case StrategyText, "":
		return TextInterpreter{}, nil
	case StrategyStructured:
		return StructuredInterpreter{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
}

// TextInterpreter reads free text.
type TextInterpreter struct{}

var toolMarker = regexp.MustCompile(`Tool: (\w+)\nArgs: (.+)`)

// Name implements Interpreter.
func (TextInterpreter) Name() string { return StrategyText }

// ExecutorRequest implements Interpreter. The tool list and call convention
// are spelled out in the prompt.
func (TextInterpreter) ExecutorRequest(task, goal string, reg *tools.Registry) (string, []gateway.Option) {
	prompt := executorPrompt(task, goal)
	if reg == nil || len(reg.Names()) == 0 {
		return prompt, nil
	}
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nAvailable tools:\n")
	for _, t := range reg.List() {
		fmt.Fprintf(&b, "- %s(%s): %s\n", t.Name(), strings.Join(t.Parameters().Required, ", "), t.Description())
	}
	b.WriteString("\nTo use a tool, write a line \"Tool: <name>\" followed by a line \"Args: <json object>\".")
	return b.String(), nil
}

// Dispatch implements Interpreter.
func (TextInterpreter) Dispatch(ctx context.Context, resp *gateway.Response, reg *tools.Registry) string {
	response := resp.Content
	var outputs []string
	for _, m := range toolMarker.FindAllStringSubmatch(response, -1) {
		name := m[1]
		out, err := invokeText(ctx, reg, name, m[2])
		if err != nil {
			outputs = append(outputs, fmt.Sprintf("Error using tool %s: %v", name, err))
			continue
		}
		outputs = append(outputs, fmt.Sprintf("Tool %s output: %s", name, out))
	}
	if len(outputs) > 0 {
		response += "\n\n" + strings.Join(outputs, "\n")
	}
	return response
}

func invokeText(ctx context.Context, reg *tools.Registry, name, rawArgs string) (string, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(rawArgs)), &args); err != nil {
		return "", fmt.Errorf("%w: %v", tools.ErrInvalidArgs, err)
	}
	if reg == nil {
		return "", fmt.Errorf("%w: %s", tools.ErrNotFound, name)
	}
	return reg.Invoke(ctx, name, args)
}

// ReplannerRequest implements Interpreter.
func (TextInterpreter) ReplannerRequest(s State) (string, []gateway.Option) {
	return replannerPrompt(s) + "\nStart your answer with COMPLETE, REPLAN or CONTINUE. " +
		"When replanning, put each new step on its own line starting with \"- \".", nil
}

// Decide implements Interpreter. Text decisions never fail.
func (TextInterpreter) Decide(resp *gateway.Response) (parser.Decision, error) {
	return parser.DecisionFromText(resp.Content), nil
}

// StructuredInterpreter relies on tool calling and JSON output.
type StructuredInterpreter struct{}

// Name implements Interpreter.
func (StructuredInterpreter) Name() string { return StrategyStructured }

// ExecutorRequest implements Interpreter.
func (StructuredInterpreter) ExecutorRequest(task, goal string, reg *tools.Registry) (string, []gateway.Option) {
	if reg == nil {
		return executorPrompt(task, goal), nil
	}
	return executorPrompt(task, goal), []gateway.Option{gateway.WithTools(reg.Specs())}
}

// Dispatch implements Interpreter.
func (StructuredInterpreter) Dispatch(ctx context.Context, resp *gateway.Response, reg *tools.Registry) string {
	parts := make([]string, 0, len(resp.ToolCalls)+1)
	if resp.Content != "" {
		parts = append(parts, resp.Content)
	}
	for _, call := range resp.ToolCalls {
		out, err := invokeStructured(ctx, reg, call)
		if err != nil {
			parts = append(parts, fmt.Sprintf("Tool error: %s: %v", call.Name, err))
			continue
		}
		parts = append(parts, fmt.Sprintf("Tool used: %s\nArgs: %s\nOutput: %s", call.Name, renderArgs(call.Args), out))
	}
	return strings.Join(parts, "\n\n")
}

func invokeStructured(ctx context.Context, reg *tools.Registry, call gateway.ToolCall) (string, error) {
	if call.ArgsError != "" {
		return "", fmt.Errorf("%w: %s", tools.ErrInvalidArgs, call.ArgsError)
	}
	if reg == nil {
		return "", fmt.Errorf("%w: %s", tools.ErrNotFound, call.Name)
	}
	return reg.Invoke(ctx, call.Name, call.Args)
}

func renderArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprint(args)
	}
	return string(b)
}

const decisionFormat = `Respond with a JSON object only:
{
    "decision": "complete" | "replan" | "continue",
    "reasoning": "why",
    "new_plan": ["Step 1", "Step 2"]
}
Include new_plan only when the decision is "replan".`

// ReplannerRequest implements Interpreter.
func (StructuredInterpreter) ReplannerRequest(s State) (string, []gateway.Option) {
	return replannerPrompt(s) + "\n\n" + decisionFormat, []gateway.Option{gateway.WithJSONMode()}
}

// Decide implements Interpreter.
func (StructuredInterpreter) Decide(resp *gateway.Response) (parser.Decision, error) {
	return parser.DecisionFromJSON(resp.Content)
}

var (
	_ Interpreter = TextInterpreter{}
	_ Interpreter = StructuredInterpreter{}
)
