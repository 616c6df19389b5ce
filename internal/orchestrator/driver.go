package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime/debug"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assistd/internal/logging"
)

// NoPlanResponse is the final response when planning yields no steps.
const NoPlanResponse = "No actionable plan could be derived from the request."

var runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "assistd",
	Subsystem: "orchestrator",
	Name:      "runs_total",
	Help:      "Finished runs by outcome.",
}, []string{"outcome"})

// Run outcomes.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
	outcomeAbandoned = "abandoned"
)

// Snapshot is the observable state after a stage completes.
type Snapshot struct {
	// Node is the stage that just ran, or NodeEnd for the final snapshot.
	Node        Node     `json:"current_node"`
	Next        Node     `json:"next_node"`
	Response    string   `json:"response"`
	Plan        []string `json:"plan"`
	Goal        string   `json:"goals"`
	CurrentTask string   `json:"current_task"`
	PastActions []Action `json:"past_actions"`
	// Error and Traceback are only set on a failed run's final snapshot.
	Error     string       `json:"error,omitempty"`
	Traceback string       `json:"traceback,omitempty"`
	Reason    FinishReason `json:"finish_reason,omitempty"`
	Progress  int          `json:"progress"`
	Cycle     int          `json:"cycle"`
	// ElapsedMS is time since the run started; DurationMS is the stage's own time.
	ElapsedMS  int64 `json:"elapsed_ms"`
	DurationMS int64 `json:"duration_ms"`
}

// Terminal reports whether s is the last snapshot of a run.
func (s Snapshot) Terminal() bool {
	return s.Node == NodeEnd
}

// Failed reports whether the run ended in error.
func (s Snapshot) Failed() bool {
	return s.Error != ""
}

// PanicError carries a recovered panic and its stack.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Driver routes State between the stages.
type Driver struct {
	stages       *Stages
	maxCycles    int
	defaultModel string
	logger       *logging.Logger
	tracer       trace.Tracer
}

// NewDriver validates cfg and builds a driver. A driver holds no per-run
// state and may serve concurrent runs.
func NewDriver(cfg Config) (*Driver, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	return &Driver{
		stages:       newStages(cfg),
		maxCycles:    cfg.MaxCycles,
		defaultModel: cfg.DefaultModel,
		logger:       cfg.Logger.Named("driver"),
		tracer:       cfg.Tracer,
	}, nil
}

// Stages returns the stage functions the driver routes between.
func (d *Driver) Stages() *Stages {
	return d.stages
}

// Run returns the snapshot stream for one request. Nothing happens until
// the sequence is ranged over, and each snapshot is produced only when the
// consumer asks for it. The stream ends with a NodeEnd snapshot, which
// carries Error when the run failed.
func (d *Driver) Run(ctx context.Context, question, modelID string) iter.Seq[Snapshot] {
	return func(yield func(Snapshot) bool) {
		if modelID == "" {
			modelID = d.defaultModel
		}
		ctx := logging.WithModelID(ctx, modelID)
		ctx, span := d.tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
			attribute.String("model.id", modelID),
		))
		outcome := outcomeCompleted
		defer func() {
			runsTotal.WithLabelValues(outcome).Inc()
			span.SetAttributes(attribute.String("run.outcome", outcome))
			span.End()
		}()

		runStart := time.Now()
		st := NewState(question, modelID)
		d.logger.Info(ctx, "run started")

		fail := func(err error) {
			outcome = outcomeFailed
			if ctx.Err() != nil {
				outcome = outcomeCancelled
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.logger.Error(ctx, "run failed", zap.Error(err), zap.String("outcome", outcome))
			yield(errorSnapshot(st, err, runStart))
		}

		for {
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}

			completed := st.Node
			stageStart := time.Now()
			next, fin, err := d.step(ctx, st)
			if err != nil {
				fail(err)
				return
			}
			st = next

			if fin != nil {
				snap := snapshotOf(st, NodeEnd, NodeEnd, runStart, stageStart)
				snap.Response = fin.Output
				snap.CurrentTask = ""
				snap.Reason = fin.Reason
				d.logger.Info(ctx, "run finished",
					zap.String("reason", string(fin.Reason)),
					zap.Int("cycles", st.Cycles),
					zap.Int("actions", len(st.PastActions)),
				)
				yield(snap)
				return
			}

			if !yield(snapshotOf(st, completed, st.Node, runStart, stageStart)) {
				outcome = outcomeAbandoned
				d.logger.Info(ctx, "consumer stopped, run abandoned")
				return
			}
		}
	}
}

// step runs the stage st.Node names and routes to the next one. Panics are
// returned as *PanicError.
func (d *Driver) step(ctx context.Context, in State) (st State, fin *Finish, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	switch in.Node {
	case NodePlanner:
		st, err = d.stages.Plan(ctx, in)
		if err != nil {
			return in, nil, err
		}
		if len(st.Plan) == 0 {
			return st, &Finish{Output: NoPlanResponse, Reason: FinishEmptyPlan}, nil
		}
		st.Node = NodeExecutor

	case NodeExecutor:
		st = d.stages.Execute(ctx, in)
		if st.NextTask != "" {
			st.CurrentTask, st.Step = st.NextTask, st.nextStep
			st.NextTask = ""
			st.Node = NodeExecutor
		} else {
			st.Node = NodeUpdater
		}

	case NodeUpdater:
		st = d.stages.Update(ctx, in)
		st.Node = NodeReplanner

	case NodeReplanner:
		summary := in.LastResponse
		st, fin = d.stages.Replan(ctx, in)
		if fin != nil {
			return st, fin, nil
		}
		if st.Cycles >= d.maxCycles {
			d.logger.Warn(ctx, "replanning cycle limit reached", zap.Int("max_cycles", d.maxCycles))
			return st, &Finish{
				Output: fmt.Sprintf("Stopped after %d replanning cycles\n\n%s", st.Cycles, summary),
				Reason: FinishMaxCycles,
			}, nil
		}
		if len(st.Plan) == 0 {
			return st, &Finish{Output: st.LastResponse, Reason: FinishEmptyPlan}, nil
		}
		st.Node = NodeExecutor

	default:
		return in, nil, fmt.Errorf("orchestrator: cannot run node %s", in.Node)
	}
	return st, nil, nil
}

func snapshotOf(st State, node, next Node, runStart, stageStart time.Time) Snapshot {
	now := time.Now()
	return Snapshot{
		Node:        node,
		Next:        next,
		Response:    st.LastResponse,
		Plan:        slices.Clone(st.Plan),
		Goal:        st.Goal,
		CurrentTask: st.CurrentTask,
		PastActions: slices.Clone(st.PastActions),
		Progress:    node.Progress(),
		Cycle:       st.Cycles,
		ElapsedMS:   now.Sub(runStart).Milliseconds(),
		DurationMS:  now.Sub(stageStart).Milliseconds(),
	}
}

func errorSnapshot(st State, err error, runStart time.Time) Snapshot {
	snap := snapshotOf(st, NodeEnd, NodeEnd, runStart, time.Now())
	snap.Response = ""
	snap.Error = err.Error()
	var pe *PanicError
	if errors.As(err, &pe) {
		snap.Traceback = string(pe.Stack)
	}
	return snap
}
