package tui

import (
	"context"
	"iter"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/assistd/internal/orchestrator"
)

func sourceOf(snaps ...orchestrator.Snapshot) *Source {
	return NewSource(context.Background(), func(context.Context) iter.Seq[orchestrator.Snapshot] {
		return func(yield func(orchestrator.Snapshot) bool) {
			for _, s := range snaps {
				if !yield(s) {
					return
				}
			}
		}
	})
}

func executing() orchestrator.Snapshot {
	return orchestrator.Snapshot{
		Node:        orchestrator.NodeExecutor,
		Next:        orchestrator.NodeExecutor,
		Goal:        "Plan a trip",
		Plan:        []string{"Search flights", "Book hotel", "Email itinerary"},
		CurrentTask: "Book hotel",
		Response:    "Found three flights.",
		Progress:    50,
		Cycle:       0,
		ElapsedMS:   2300,
		DurationMS:  800,
	}
}

func TestNew(t *testing.T) {
	model := New("plan a trip", sourceOf())
	assert.Equal(t, "plan a trip", model.question)
	assert.False(t, model.quitting)
	assert.False(t, model.done)
	assert.NotNil(t, model.Init())
}

func TestModel_Update_QuitKeyCancelsRun(t *testing.T) {
	var runCtx context.Context
	src := NewSource(context.Background(), func(ctx context.Context) iter.Seq[orchestrator.Snapshot] {
		runCtx = ctx
		return func(func(orchestrator.Snapshot) bool) {}
	})
	model := New("q", src)

	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyCtrlC},
	} {
		updated, cmd := model.Update(key)
		m := updated.(Model)
		assert.True(t, m.quitting)
		assert.NotNil(t, cmd)
		assert.Empty(t, m.View())
	}
	require.NotNil(t, runCtx)
	assert.Error(t, runCtx.Err())
}

func TestModel_Update_SnapshotMsg(t *testing.T) {
	model := New("q", sourceOf())

	updated, cmd := model.Update(SnapshotMsg{Snapshot: executing()})

	m := updated.(Model)
	snap, ok := m.Snapshot()
	assert.True(t, ok)
	assert.Equal(t, "Book hotel", snap.CurrentTask)
	assert.Equal(t, []float64{800}, m.latencies)
	assert.NotNil(t, cmd, "pulls the next snapshot")
}

func TestModel_Update_DoneMsg(t *testing.T) {
	model := New("q", sourceOf())

	updated, cmd := model.Update(DoneMsg{})

	m := updated.(Model)
	assert.True(t, m.Done())
	assert.Nil(t, cmd)
}

func TestModel_PullsWholeStream(t *testing.T) {
	first := executing()
	last := orchestrator.Snapshot{Node: orchestrator.NodeEnd, Next: orchestrator.NodeEnd, Response: "Booked.", Progress: 100}
	src := sourceOf(first, last)
	var model tea.Model = New("q", src)

	cmd := Listen(src)
	for range 5 {
		msg := cmd()
		model, cmd = model.Update(msg)
		if _, ok := msg.(DoneMsg); ok {
			break
		}
	}

	m := model.(Model)
	assert.True(t, m.Done())
	snap, _ := m.Snapshot()
	assert.Equal(t, "Booked.", snap.Response)
	assert.Len(t, m.latencies, 2)
}

func TestHistoryIsBounded(t *testing.T) {
	var h []float64
	for i := range historySize + 5 {
		h = appendToHistory(h, float64(i))
	}
	assert.Len(t, h, historySize)
	assert.Equal(t, float64(5), h[0])
}

func TestChecklist(t *testing.T) {
	plan := []string{"a", "b", "c"}
	tests := []struct {
		name string
		snap orchestrator.Snapshot
		want []mark
	}{
		{
			name: "planner points at first step",
			snap: orchestrator.Snapshot{Node: orchestrator.NodePlanner, Next: orchestrator.NodeExecutor, Plan: plan, CurrentTask: "a"},
			want: []mark{markCurrent, markPending, markPending},
		},
		{
			name: "executor moving to next step",
			snap: orchestrator.Snapshot{Node: orchestrator.NodeExecutor, Next: orchestrator.NodeExecutor, Plan: plan, CurrentTask: "c"},
			want: []mark{markDone, markDone, markCurrent},
		},
		{
			name: "executor finished the plan",
			snap: orchestrator.Snapshot{Node: orchestrator.NodeExecutor, Next: orchestrator.NodeUpdater, Plan: plan, CurrentTask: "c"},
			want: []mark{markDone, markDone, markDone},
		},
		{
			name: "updater",
			snap: orchestrator.Snapshot{Node: orchestrator.NodeUpdater, Next: orchestrator.NodeReplanner, Plan: plan, CurrentTask: "c"},
			want: []mark{markDone, markDone, markDone},
		},
		{
			name: "successful end",
			snap: orchestrator.Snapshot{Node: orchestrator.NodeEnd, Next: orchestrator.NodeEnd, Plan: plan},
			want: []mark{markDone, markDone, markDone},
		},
		{
			name: "failed end keeps position",
			snap: orchestrator.Snapshot{Node: orchestrator.NodeEnd, Next: orchestrator.NodeEnd, Plan: plan, CurrentTask: "b", Error: "boom"},
			want: []mark{markDone, markCurrent, markPending},
		},
		{
			name: "task not in plan",
			snap: orchestrator.Snapshot{Node: orchestrator.NodeReplanner, Next: orchestrator.NodeExecutor, Plan: plan, CurrentTask: "zzz"},
			want: []mark{markPending, markPending, markPending},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checklist(tt.snap))
		})
	}
}

func TestModel_View_Running(t *testing.T) {
	model := New("plan a trip", sourceOf())
	updated, _ := model.Update(SnapshotMsg{Snapshot: executing()})

	view := updated.View()

	assert.Contains(t, view, "assistd")
	assert.Contains(t, view, "running")
	assert.Contains(t, view, "Plan a trip")
	assert.Contains(t, view, "task_executor")
	assert.Contains(t, view, "50%")
	assert.Contains(t, view, "✓")
	assert.Contains(t, view, "▶")
	assert.Contains(t, view, "·")
	assert.Contains(t, view, "Book hotel")
	assert.Contains(t, view, "Found three flights.")
	assert.Contains(t, view, "last 800ms")
	assert.Contains(t, view, "[q]")
}

func TestModel_View_NoData(t *testing.T) {
	view := New("plan a trip", sourceOf()).View()

	assert.Contains(t, view, "plan a trip")
	assert.Contains(t, view, "Planning")
	assert.Contains(t, view, "[q]")
}

func TestModel_View_Answer(t *testing.T) {
	model := New("q", sourceOf())
	updated, _ := model.Update(SnapshotMsg{Snapshot: orchestrator.Snapshot{
		Node: orchestrator.NodeEnd, Next: orchestrator.NodeEnd,
		Response: "Your trip is booked.", Progress: 100,
	}})

	view := updated.View()

	assert.Contains(t, view, "done")
	assert.Contains(t, view, "Answer")
	assert.Contains(t, view, "Your trip is booked.")
}

func TestModel_View_Error(t *testing.T) {
	model := New("q", sourceOf())
	updated, _ := model.Update(SnapshotMsg{Snapshot: orchestrator.Snapshot{
		Node: orchestrator.NodeEnd, Next: orchestrator.NodeEnd,
		Error: "planning failed: gateway down",
	}})

	view := updated.View()

	assert.Contains(t, view, "failed")
	assert.Contains(t, view, "planning failed: gateway down")
	assert.NotContains(t, view, "Answer")
}
