package orchestrator

import (
	"slices"

	"github.com/fyrsmithlabs/assistd/internal/gateway"
)

// Prompts seeding every run.
const (
	assistantSystemPrompt = "You are a helpful personal AI assistant."
)

// Action is one executed step and what came of it.
type Action struct {
	Task    string `json:"task"`
	Outcome string `json:"outcome"`
}

// RunContext is immutable per-run configuration.
type RunContext struct {
	ModelID string `json:"model_id"`
}

// State is threaded through the stages. Stages never mutate the State they
// receive; they return a modified copy.
type State struct {
	// History is seeded once and only read afterwards.
	History []gateway.Message
	Plan    []string
	Goal    string
	// PastActions only grows: one entry per executed step.
	PastActions []Action
	// PlanStart indexes the first PastActions entry of the current plan.
	PlanStart   int
	CurrentTask string
	// Step is the index of CurrentTask in Plan. It disambiguates repeated
	// steps; when it disagrees with Plan the task is looked up by value.
	Step int
	// NextTask is empty when the executor reached the end of the plan.
	NextTask     string
	nextStep     int
	LastResponse string
	Context      RunContext
	Node         Node
	// Err holds the message of the last recoverable failure.
	Err    string
	Cycles int
}

// NewState seeds a run with the assistant system message and the question.
func NewState(question, modelID string) State {
	return State{
		History: []gateway.Message{
			gateway.System(assistantSystemPrompt),
			gateway.User(question),
		},
		Context: RunContext{ModelID: modelID},
		Node:    NodePlanner,
	}
}

// Clone returns a copy that shares no slices with s.
func (s State) Clone() State {
	s.History = slices.Clone(s.History)
	s.Plan = slices.Clone(s.Plan)
	s.PastActions = slices.Clone(s.PastActions)
	return s
}

// ActionsThisPlan returns the actions recorded since the current plan was set.
func (s State) ActionsThisPlan() []Action {
	if s.PlanStart >= len(s.PastActions) {
		return nil
	}
	return s.PastActions[s.PlanStart:]
}

// LastUserMessage returns the most recent user message.
func (s State) LastUserMessage() (gateway.Message, bool) {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == gateway.RoleUser {
			return s.History[i], true
		}
	}
	return gateway.Message{}, false
}

// withPlan installs a new plan, points CurrentTask at its head and opens a
// new plan lifetime.
func (s State) withPlan(plan []string) State {
	s.Plan = plan
	s.CurrentTask = ""
	if len(plan) > 0 {
		s.CurrentTask = plan[0]
	}
	s.NextTask = ""
	s.Step = 0
	s.PlanStart = len(s.PastActions)
	return s
}

// next returns the step following CurrentTask and its index. ok is false
// when CurrentTask is the last step or is not in the plan.
func (s State) next() (task string, step int, ok bool) {
	i := s.Step
	if i < 0 || i >= len(s.Plan) || s.Plan[i] != s.CurrentTask {
		i = slices.Index(s.Plan, s.CurrentTask)
	}
	if i < 0 || i+1 >= len(s.Plan) {
		return "", 0, false
	}
	return s.Plan[i+1], i + 1, true
}
