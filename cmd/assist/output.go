package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/assistd/internal/orchestrator"
	"github.com/fyrsmithlabs/assistd/internal/tui"
)

const (
	outputText = "text"
	outputJSON = "json"
)

const maxLine = 200

var (
	stageStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	answerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

func validOutput(format string) error {
	switch format {
	case outputText, outputJSON:
		return nil
	}
	return fmt.Errorf("unknown output format %q (must be text or json)", format)
}

// printer writes snapshots as they arrive: one JSON object per line, or a
// short human-readable line per stage with the answer at the end.
type printer struct {
	w      io.Writer
	format string
	enc    *json.Encoder
}

func newPrinter(w io.Writer, format string) *printer {
	return &printer{w: w, format: format, enc: json.NewEncoder(w)}
}

func (p *printer) print(v any, s orchestrator.Snapshot) error {
	if p.format == outputJSON {
		return p.enc.Encode(v)
	}
	_, err := io.WriteString(p.w, renderText(s))
	return err
}

// snapshot prints s and returns an error for a failed terminal snapshot.
func (p *printer) snapshot(s orchestrator.Snapshot) error {
	if err := p.print(s, s); err != nil {
		return err
	}
	return failure(s)
}

func failure(s orchestrator.Snapshot) error {
	if s.Terminal() && s.Failed() {
		return fmt.Errorf("run failed: %s", s.Error)
	}
	return nil
}

func renderText(s orchestrator.Snapshot) string {
	var b strings.Builder
	if s.Terminal() {
		b.WriteString("\n")
		if s.Failed() {
			b.WriteString(errorStyle.Render("Error: ") + s.Error + "\n")
			return b.String()
		}
		b.WriteString(answerStyle.Render("Answer") + dimStyle.Render(
			fmt.Sprintf("  (%s, %d cycles)", tui.FormatElapsed(s.ElapsedMS), s.Cycle)) + "\n")
		b.WriteString(s.Response + "\n")
		return b.String()
	}

	fmt.Fprintf(&b, "%s %s %s\n",
		stageStyle.Render("▸ "+s.Node.String()),
		dimStyle.Render(tui.FormatPercentage(s.Progress)),
		dimStyle.Render(tui.FormatLatency(s.DurationMS)))

	if s.Node == orchestrator.NodePlanner || (s.Node == orchestrator.NodeReplanner && s.Next == orchestrator.NodeExecutor) {
		if s.Goal != "" {
			fmt.Fprintf(&b, "  goal: %s\n", s.Goal)
		}
		for i, step := range s.Plan {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, step)
		}
		return b.String()
	}
	if s.Response != "" {
		resp := strings.ReplaceAll(tui.Truncate(s.Response, maxLine), "\n", " ")
		b.WriteString("  " + resp + "\n")
	}
	return b.String()
}
