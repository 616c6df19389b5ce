package tui

import (
	"context"
	"iter"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fyrsmithlabs/assistd/internal/orchestrator"
)

// SnapshotMsg carries the next snapshot of the run.
type SnapshotMsg struct {
	Snapshot orchestrator.Snapshot
}

// DoneMsg reports that the run's iterator is exhausted.
type DoneMsg struct{}

// Source turns a run's snapshot iterator into pull-based messages.
// Pulls are serialized so Close can safely stop the iterator.
type Source struct {
	mu     sync.Mutex
	next   func() (orchestrator.Snapshot, bool)
	stop   func()
	cancel context.CancelFunc
	closed bool
}

// NewSource starts run lazily with a cancellable child of ctx.
func NewSource(ctx context.Context, run func(ctx context.Context) iter.Seq[orchestrator.Snapshot]) *Source {
	ctx, cancel := context.WithCancel(ctx)
	next, stop := iter.Pull(run(ctx))
	return &Source{next: next, stop: stop, cancel: cancel}
}

func (s *Source) pull() (orchestrator.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return orchestrator.Snapshot{}, false
	}
	return s.next()
}

// Cancel asks the run to stop at its next stage boundary without waiting.
func (s *Source) Cancel() {
	s.cancel()
}

// Close cancels the run and stops the iterator. It waits for an in-flight
// pull to return.
func (s *Source) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.stop()
	}
}

// Listen pulls one snapshot. The model issues it again after every
// SnapshotMsg until DoneMsg arrives.
func Listen(src *Source) tea.Cmd {
	return func() tea.Msg {
		snap, ok := src.pull()
		if !ok {
			return DoneMsg{}
		}
		return SnapshotMsg{Snapshot: snap}
	}
}
