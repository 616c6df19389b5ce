// Package runs tracks orchestration runs started in the background.
//
// Each run owns its own driver invocation and state. Snapshots are scrubbed
// of secrets, stored with a sequence number, and published to NATS on
//
//	<prefix>.<run id>.<node>
//
// so other processes can follow a run live.
package runs

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/assistd/internal/orchestrator"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Finished reports whether s is terminal.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Event is one stored snapshot.
type Event struct {
	Seq      uint64                `json:"seq"`
	RunID    string                `json:"run_id"`
	At       time.Time             `json:"at"`
	Snapshot orchestrator.Snapshot `json:"snapshot"`
}

// Summary is the list view of a run.
type Summary struct {
	ID         string     `json:"id"`
	Question   string     `json:"question"`
	ModelID    string     `json:"model_id"`
	Status     Status     `json:"status"`
	Node       string     `json:"current_node,omitempty"`
	Progress   int        `json:"progress"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Detail is a run with its stored snapshots.
type Detail struct {
	Summary
	Response string  `json:"response,omitempty"`
	Events   []Event `json:"events"`
}

// Run is a single background run. All methods are safe for concurrent use.
type Run struct {
	id       string
	question string
	modelID  string
	cancel   context.CancelFunc
	done     chan struct{}

	mu         sync.Mutex
	status     Status
	events     []Event
	errMsg     string
	createdAt  time.Time
	updatedAt  time.Time
	finishedAt time.Time
	// changed is closed and replaced whenever an event is appended or the
	// status changes.
	changed chan struct{}
}

func newRun(id, question, modelID string, cancel context.CancelFunc) *Run {
	now := time.Now()
	return &Run{
		id:        id,
		question:  question,
		modelID:   modelID,
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    StatusPending,
		createdAt: now,
		updatedAt: now,
		changed:   make(chan struct{}),
	}
}

// ID returns the run ID.
func (r *Run) ID() string { return r.id }

// Done is closed when the run has stopped.
func (r *Run) Done() <-chan struct{} { return r.done }

// Status returns the current status.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Summary returns the list view.
func (r *Run) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaryLocked()
}

func (r *Run) summaryLocked() Summary {
	s := Summary{
		ID:        r.id,
		Question:  r.question,
		ModelID:   r.modelID,
		Status:    r.status,
		Error:     r.errMsg,
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
	}
	if n := len(r.events); n > 0 {
		last := r.events[n-1].Snapshot
		s.Node = last.Node.String()
		s.Progress = last.Progress
	}
	if !r.finishedAt.IsZero() {
		t := r.finishedAt
		s.FinishedAt = &t
	}
	return s
}

// Detail returns the run with every stored snapshot.
func (r *Run) Detail() Detail {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := Detail{Summary: r.summaryLocked(), Events: append([]Event(nil), r.events...)}
	if n := len(r.events); n > 0 && r.events[n-1].Snapshot.Terminal() {
		d.Response = r.events[n-1].Snapshot.Response
	}
	return d
}

// EventsAfter returns stored events with Seq > after.
func (r *Run) EventsAfter(after uint64) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eventsAfterLocked(after)
}

func (r *Run) eventsAfterLocked(after uint64) []Event {
	// Seq starts at 1 and is dense, so it doubles as an index.
	if after >= uint64(len(r.events)) {
		return nil
	}
	return append([]Event(nil), r.events[after:]...)
}

// Next blocks until there are events after the given sequence number or
// the run has finished. finished is true once no more events will come.
func (r *Run) Next(ctx context.Context, after uint64) (events []Event, finished bool, err error) {
	for {
		r.mu.Lock()
		events = r.eventsAfterLocked(after)
		finished = r.status.Finished()
		changed := r.changed
		r.mu.Unlock()

		if len(events) > 0 || finished {
			return events, finished, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

func (r *Run) append(snap orchestrator.Snapshot) Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	ev := Event{Seq: uint64(len(r.events)) + 1, RunID: r.id, At: now, Snapshot: snap}
	r.events = append(r.events, ev)
	r.updatedAt = now
	r.notifyLocked()
	return ev
}

func (r *Run) setStatus(s Status, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
	r.updatedAt = time.Now()
	if errMsg != "" {
		r.errMsg = errMsg
	}
	if s.Finished() {
		r.finishedAt = r.updatedAt
	}
	r.notifyLocked()
}

func (r *Run) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *Run) finishedBefore(t time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.Finished() && r.finishedAt.Before(t)
}
