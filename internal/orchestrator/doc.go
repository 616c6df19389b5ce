// Package orchestrator drives the plan, execute, update, replan loop.
//
// # Overview
//
// A run starts from a free-text request and moves through four stages:
//
//	planner → task_executor ⟲ → project_updater → replanner → task_executor | end
//
// Each stage receives a copy of State and returns a new one. The Driver routes
// between stages and yields a Snapshot after every stage, lazily, so a
// consumer that stops ranging also stops further model calls.
//
// # Error Handling
//
// Only planning can fail a run: a missing user message (ErrNoTask) or a
// gateway failure while planning (ErrPlanning). Execution and replanning
// failures are folded into the step outcome and the loop keeps going. Panics
// become a single error Snapshot carrying a stack trace.
//
// # Response Interpretation
//
// Two interchangeable strategies read model output:
//   - TextInterpreter scans for "Tool: <name>\nArgs: <json>" markers and
//     COMPLETE/REPLAN tokens.
//   - StructuredInterpreter sends tool definitions, dispatches the returned
//     tool calls, and asks for a JSON decision object.
//
// # Guards
//
// MaxSteps truncates oversized plans. MaxCycles ends the run after that many
// replanner passes without a complete decision.
package orchestrator
