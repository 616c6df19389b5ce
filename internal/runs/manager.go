package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assistd/internal/logging"
	"github.com/fyrsmithlabs/assistd/internal/orchestrator"
	"github.com/fyrsmithlabs/assistd/internal/secrets"
)

var (
	// ErrRunNotFound is returned for an unknown run ID.
	ErrRunNotFound = errors.New("run not found")
	// ErrEmptyQuestion is returned by Start for a blank question.
	ErrEmptyQuestion = errors.New("question is required")
	// ErrClosed is returned by Start after Shutdown.
	ErrClosed = errors.New("run manager is shut down")
)

// DefaultSubjectPrefix is the NATS subject prefix when none is configured.
const DefaultSubjectPrefix = "assistd.runs"

var (
	runsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "assistd",
		Subsystem: "runs",
		Name:      "active",
		Help:      "Runs currently executing.",
	})

	runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistd",
		Subsystem: "runs",
		Name:      "finished_total",
		Help:      "Finished runs by status.",
	}, []string{"status"})

	secretsRedacted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "assistd",
		Subsystem: "runs",
		Name:      "secrets_redacted_total",
		Help:      "Secrets redacted from stored snapshots.",
	})

	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "assistd",
		Subsystem: "runs",
		Name:      "publish_errors_total",
		Help:      "Snapshots that failed to publish to NATS.",
	})
)

// Runner produces the snapshot stream of a run. *orchestrator.Driver
// implements it.
type Runner interface {
	Run(ctx context.Context, question, modelID string) iter.Seq[orchestrator.Snapshot]
}

// Options configure a Manager.
type Options struct {
	// Scrubber redacts secrets before snapshots are stored. Nil disables it.
	Scrubber secrets.Scrubber
	// NATS, when set, receives every stored snapshot.
	NATS          *nats.Conn
	SubjectPrefix string
	Logger        *logging.Logger
}

// Manager starts runs and keeps them queryable until pruned.
type Manager struct {
	runner   Runner
	scrubber secrets.Scrubber
	nc       *nats.Conn
	prefix   string
	logger   *logging.Logger

	mu     sync.RWMutex
	runs   map[string]*Run
	closed bool
	wg     sync.WaitGroup
}

// NewManager creates a manager around runner.
func NewManager(runner Runner, opts Options) *Manager {
	if opts.Scrubber == nil {
		opts.Scrubber = secrets.NoopScrubber{}
	}
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = DefaultSubjectPrefix
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Manager{
		runner:   runner,
		scrubber: opts.Scrubber,
		nc:       opts.NATS,
		prefix:   opts.SubjectPrefix,
		logger:   opts.Logger.Named("runs"),
		runs:     make(map[string]*Run),
	}
}

// SubjectPrefix returns the NATS subject prefix.
func (m *Manager) SubjectPrefix() string { return m.prefix }

// Start launches a run in the background. The run outlives ctx but keeps
// its values, so request-scoped loggers and IDs follow it.
func (m *Manager) Start(ctx context.Context, question, modelID string) (*Run, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	id := uuid.New().String()
	runCtx, cancel := context.WithCancel(logging.WithRunID(context.WithoutCancel(ctx), id))
	run := newRun(id, question, modelID, cancel)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	m.runs[id] = run
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info(runCtx, "run started", zap.String("model", modelID))
	go m.execute(runCtx, run)
	return run, nil
}

func (m *Manager) execute(ctx context.Context, run *Run) {
	defer m.wg.Done()
	defer close(run.done)
	defer run.cancel()

	runsActive.Inc()
	defer runsActive.Dec()

	run.setStatus(StatusRunning, "")
	var last *orchestrator.Snapshot
	for snap := range m.runner.Run(ctx, run.question, run.modelID) {
		ev := m.record(ctx, run, snap)
		last = &ev.Snapshot
	}

	status, errMsg := StatusCompleted, ""
	switch {
	case ctx.Err() != nil && (last == nil || last.Failed()):
		status, errMsg = StatusCancelled, context.Canceled.Error()
	case last == nil:
		status, errMsg = StatusFailed, "run produced no snapshots"
	case last.Failed():
		status, errMsg = StatusFailed, last.Error
	}
	run.setStatus(status, errMsg)
	runsFinished.WithLabelValues(string(status)).Inc()
	m.logger.Info(ctx, "run finished", zap.String("status", string(status)))
}

// record scrubs, stores and publishes one snapshot.
func (m *Manager) record(ctx context.Context, run *Run, snap orchestrator.Snapshot) Event {
	if n := Scrub(m.scrubber, &snap); n > 0 {
		secretsRedacted.Add(float64(n))
		m.logger.Warn(ctx, "redacted secrets from snapshot", zap.Int("findings", n))
	}
	ev := run.append(snap)
	m.publish(ctx, ev)
	return ev
}

// Scrub redacts secrets from every text field of snap in place and returns
// the number of findings. Slices are copied first so the caller's snapshot
// is not touched.
func Scrub(s secrets.Scrubber, snap *orchestrator.Snapshot) int {
	if s == nil || !s.IsEnabled() {
		return 0
	}
	snap.Plan = slices.Clone(snap.Plan)
	snap.PastActions = slices.Clone(snap.PastActions)
	fields := []*string{&snap.Response, &snap.Goal, &snap.CurrentTask, &snap.Error, &snap.Traceback}
	for i := range snap.Plan {
		fields = append(fields, &snap.Plan[i])
	}
	for i := range snap.PastActions {
		fields = append(fields, &snap.PastActions[i].Task, &snap.PastActions[i].Outcome)
	}
	return secrets.ScrubAll(s, fields...)
}

func (m *Manager) publish(ctx context.Context, ev Event) {
	if m.nc == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		publishErrors.Inc()
		m.logger.Warn(ctx, "marshal snapshot", zap.Error(err))
		return
	}
	if err := m.nc.Publish(Subject(m.prefix, ev.RunID, ev.Snapshot.Node.String()), data); err != nil {
		publishErrors.Inc()
		m.logger.Warn(ctx, "publish snapshot", zap.Error(err))
	}
}

// Get returns a run by ID.
func (m *Manager) Get(id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// List returns every known run, newest first.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	out := make([]Summary, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r.Summary())
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Summary) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// Cancel stops a run at its next stage boundary. Cancelling a finished run
// is a no-op.
func (m *Manager) Cancel(id string) error {
	run, err := m.Get(id)
	if err != nil {
		return err
	}
	run.cancel()
	return nil
}

// Prune forgets runs that finished more than ttl ago and returns how many
// were removed.
func (m *Manager) Prune(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.runs {
		if r.finishedBefore(cutoff) {
			delete(m.runs, id)
			n++
		}
	}
	return n
}

// PruneEvery prunes on a ticker until ctx is done.
func (m *Manager) PruneEvery(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Prune(ttl); n > 0 {
				m.logger.Debug(ctx, "pruned finished runs", zap.Int("count", n))
			}
		}
	}
}

// Shutdown cancels every run and waits for them to stop or ctx to end.
// Start fails afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, r := range m.runs {
		r.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
