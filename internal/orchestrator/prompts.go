package orchestrator

import (
	"fmt"
	"strings"
)

const (
	plannerSystemPrompt   = "You are a planning expert. Create a concise step-by-step minimum required plan with no more than 10 steps."
	executorSystemPrompt  = "You are a helpful AI assistant. Use the available tools to complete tasks."
	replannerSystemPrompt = "You are a replanning expert. Evaluate the current progress and decide if the plan needs to be updated or if the task is complete."

	plannerFormat = `Please provide a response in the following format:
{
    "goals": "Main goal of the task (1 sentence)",
    "plan": [
        "Step 1",
        "Step 2",
        "Step 3",
        ...
    ]
}
Ensure the plan has no more than 10 steps.`

	noActionTask    = "No action"
	noActionOutcome = "No details"
)

func plannerPrompt(task string) string {
	return "Task: " + task + "\n\n" + plannerFormat
}

func executorPrompt(task, goal string) string {
	return fmt.Sprintf("Task: %s\nGoal: %s\n\nPlease complete this task using the available tools if necessary.", task, goal)
}

func replannerPrompt(s State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original goal: %s\n", s.Goal)
	b.WriteString("Current plan:\n")
	for i, step := range s.Plan {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	b.WriteString("Completed actions:\n")
	if len(s.PastActions) == 0 {
		b.WriteString("(none)\n")
	}
	for _, a := range s.PastActions {
		fmt.Fprintf(&b, "- %s: %s\n", a.Task, a.Outcome)
	}
	fmt.Fprintf(&b, "Last update:\n%s\n\n", s.LastResponse)
	b.WriteString("Please provide your decision on whether the plan should be continued, updated, or marked as complete. ")
	b.WriteString("If you decide to replan, provide a new step-by-step plan.")
	return b.String()
}

// errorOutcome and errorResponse are the recoverable error shapes.
func errorOutcome(msg string) string  { return "Error occurred: " + msg }
func errorResponse(msg string) string { return "Error occurred while executing the task: " + msg }

// summarize renders the update summary for the latest action and the plan.
func summarize(last Action, plan []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Completed task: %s. Action taken: %s\n\nChecklist:", last.Task, last.Outcome)
	for _, step := range plan {
		b.WriteString("\n- ")
		b.WriteString(step)
	}
	return b.String()
}
