// Package parser pulls plans and replanning decisions out of free-form
// model output. It never fails on malformed text: plan parsing degrades to
// one step per line, and text decisions default to continue.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// FallbackGoal is the goal reported when the model output held no usable JSON.
const FallbackGoal = "Could not parse goals"

// PlanResult is a goal and its ordered steps.
type PlanResult struct {
	Goal string   `json:"goals"`
	Plan []string `json:"plan"`
	// Parsed is false when the fallback was used.
	Parsed bool `json:"-"`
}

// Plan extracts {"goals": ..., "plan": [...]} from text. Without a decodable
// object carrying a plan array it returns FallbackGoal and the text split
// into lines.
func Plan(text string) PlanResult {
	if span, ok := ExtractJSON(text); ok {
		var raw struct {
			Goals json.RawMessage   `json:"goals"`
			Plan  []json.RawMessage `json:"plan"`
		}
		if err := json.Unmarshal([]byte(span), &raw); err == nil && raw.Plan != nil {
			return PlanResult{Goal: scalar(raw.Goals), Plan: steps(raw.Plan), Parsed: true}
		}
	}
	return PlanResult{Goal: FallbackGoal, Plan: strings.Split(text, "\n")}
}

// ExtractJSON returns the greedy span from the first '{' to the last '}'.
func ExtractJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// scalar renders a JSON value as text. Strings are unquoted.
func scalar(v json.RawMessage) string {
	if len(v) == 0 || string(v) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}

func steps(items []json.RawMessage) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, scalar(it))
	}
	return out
}

// Verdict is the replanner's choice.
type Verdict string

const (
	Complete Verdict = "complete"
	Replan   Verdict = "replan"
	Continue Verdict = "continue"
)

// Valid reports whether v is one of the three verdicts.
func (v Verdict) Valid() bool {
	return v == Complete || v == Replan || v == Continue
}

// Decision is the parsed replanner output.
type Decision struct {
	Verdict   Verdict  `json:"decision"`
	Reasoning string   `json:"reasoning"`
	NewPlan   []string `json:"new_plan,omitempty"`
}

var (
	completePattern = regexp.MustCompile(`(?i)\bcomplete(?:d)?\b`)
	replanPattern   = regexp.MustCompile(`(?i)\breplan`)
	leadingWord     = regexp.MustCompile(`^[A-Za-z]+`)
)

// DecisionFromText reads a free-text verdict. A reply that opens with
// COMPLETE, REPLAN or CONTINUE is taken at its word, whatever follows.
// Otherwise a "complete" token anywhere wins over "replan", and with
// neither the verdict is continue. On replan the new plan is every line
// starting with a dash, dash removed.
func DecisionFromText(text string) Decision {
	d := Decision{Verdict: Continue, Reasoning: text}
	if v := Verdict(strings.ToLower(leadingWord.FindString(strings.TrimSpace(text)))); v.Valid() {
		d.Verdict = v
	} else {
		switch {
		case completePattern.MatchString(text):
			d.Verdict = Complete
		case replanPattern.MatchString(text):
			d.Verdict = Replan
		}
	}
	if d.Verdict == Replan {
		d.NewPlan = dashLines(text)
	}
	return d
}

func dashLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") {
			continue
		}
		if step := strings.TrimSpace(strings.TrimLeft(line, "-")); step != "" {
			out = append(out, step)
		}
	}
	return out
}

// DecisionFromJSON decodes {"decision": ..., "reasoning": ..., "new_plan": [...]}.
// Unlike plan parsing this is strict: the structured strategy relies on it.
func DecisionFromJSON(text string) (Decision, error) {
	span, ok := ExtractJSON(text)
	if !ok {
		return Decision{}, fmt.Errorf("parser: no JSON object in decision %q", truncate(text, 80))
	}
	var d Decision
	if err := json.Unmarshal([]byte(span), &d); err != nil {
		return Decision{}, fmt.Errorf("parser: decoding decision: %w", err)
	}
	d.Verdict = Verdict(strings.ToLower(strings.TrimSpace(string(d.Verdict))))
	if !d.Verdict.Valid() {
		return Decision{}, fmt.Errorf("parser: unknown decision %q", d.Verdict)
	}
	if d.Verdict != Replan {
		d.NewPlan = nil
	}
	return d, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
