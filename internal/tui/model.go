// Package tui renders a live view of one orchestration run.
package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/assistd/internal/orchestrator"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	maxResponse     = 600
)

// Lipgloss styles
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	doneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	currentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// Model is the bubbletea model for a single run.
type Model struct {
	question string
	source   *Source

	spinner  spinner.Model
	progress progress.Model

	snap      orchestrator.Snapshot
	seen      bool
	latencies []float64
	done      bool
	quitting  bool
}

// New creates a model that renders the snapshots pulled from src.
func New(question string, src *Source) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = currentStyle

	return Model{
		question: question,
		source:   src,
		spinner:  sp,
		progress: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
		latencies: make([]float64, 0, historySize),
	}
}

// Init starts the spinner and the first pull.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, Listen(m.source))
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.source.Cancel()
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.progress.Width = min(max(msg.Width-24, 10), 60)

	case SnapshotMsg:
		m.snap = msg.Snapshot
		m.seen = true
		m.latencies = appendToHistory(m.latencies, float64(msg.Snapshot.DurationMS))
		return m, Listen(m.source)

	case DoneMsg:
		m.done = true
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// Snapshot returns the latest snapshot and whether one has arrived.
func (m Model) Snapshot() (orchestrator.Snapshot, bool) {
	return m.snap, m.seen
}

// Done reports whether the run's stream is exhausted.
func (m Model) Done() bool {
	return m.done
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

type mark int

const (
	markPending mark = iota
	markCurrent
	markDone
)

// checklist marks each plan step relative to the snapshot's position.
func checklist(s orchestrator.Snapshot) []mark {
	marks := make([]mark, len(s.Plan))
	allDone := (s.Terminal() && !s.Failed()) ||
		s.Node == orchestrator.NodeUpdater ||
		(s.Node == orchestrator.NodeExecutor && s.Next == orchestrator.NodeUpdater)
	if allDone {
		for i := range marks {
			marks[i] = markDone
		}
		return marks
	}

	idx := -1
	if s.CurrentTask != "" {
		idx = slices.Index(s.Plan, s.CurrentTask)
	}
	for i := range marks {
		switch {
		case i < idx:
			marks[i] = markDone
		case i == idx:
			marks[i] = markCurrent
		}
	}
	return marks
}

// View renders the run.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	status := m.spinner.View() + " " + dimStyle.Render("running")
	switch {
	case m.snap.Failed():
		status = errorStyle.Render("✗ failed")
	case m.done || m.snap.Terminal():
		status = doneStyle.Render("✓ done")
	}
	b.WriteString(headerStyle.Render(" assistd ") + "  " + status + "\n")
	b.WriteString(labelStyle.Render("Question: ") + valueStyle.Render(Truncate(m.question, 120)) + "\n")

	if !m.seen {
		b.WriteString("\n" + dimStyle.Render("Planning…") + "\n")
		b.WriteString(m.footer())
		return containerStyle.Render(b.String())
	}

	s := m.snap
	if s.Goal != "" {
		b.WriteString(labelStyle.Render("Goal: ") + valueStyle.Render(s.Goal) + "\n")
	}
	b.WriteString(labelStyle.Render("Stage: ") + valueStyle.Render(s.Node.String()) +
		dimStyle.Render(fmt.Sprintf("  cycle %d  %s", s.Cycle, FormatElapsed(s.ElapsedMS))) + "\n")
	b.WriteString(m.progress.ViewAs(float64(s.Progress)/100) + " " +
		dimStyle.Render(FormatPercentage(s.Progress)) + "\n")

	if len(s.Plan) > 0 {
		b.WriteString("\n" + sectionStyle.Render("┃ Plan") + "\n")
		for i, mk := range checklist(s) {
			switch mk {
			case markDone:
				b.WriteString("  " + doneStyle.Render("✓") + " " + dimStyle.Render(s.Plan[i]) + "\n")
			case markCurrent:
				b.WriteString("  " + currentStyle.Render("▶") + " " + valueStyle.Render(s.Plan[i]) + "\n")
			default:
				b.WriteString("  " + dimStyle.Render("·") + " " + s.Plan[i] + "\n")
			}
		}
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Stage latency") + "\n")
	last := int64(0)
	if n := len(m.latencies); n > 0 {
		last = int64(m.latencies[n-1])
	}
	b.WriteString(createSparkline(m.latencies) + "  " + dimStyle.Render("last "+FormatLatency(last)) + "\n")

	switch {
	case s.Failed():
		b.WriteString("\n" + sectionStyle.Render("┃ Error") + "\n")
		b.WriteString(errorStyle.Render(s.Error) + "\n")
	case s.Terminal():
		b.WriteString("\n" + sectionStyle.Render("┃ Answer") + "\n")
		b.WriteString(s.Response + "\n")
	case s.Response != "":
		b.WriteString("\n" + sectionStyle.Render("┃ Latest") + "\n")
		b.WriteString(dimStyle.Render(Truncate(s.Response, maxResponse)) + "\n")
	}

	b.WriteString(m.footer())
	return containerStyle.Render(b.String())
}

func (m Model) footer() string {
	return "\n" + footerKeyStyle.Render("[q]") + footerStyle.Render(" quit")
}
