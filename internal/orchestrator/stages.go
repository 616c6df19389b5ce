package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assistd/internal/gateway"
	"github.com/fyrsmithlabs/assistd/internal/logging"
	"github.com/fyrsmithlabs/assistd/internal/parser"
	"github.com/fyrsmithlabs/assistd/internal/tools"
)

const instrumentationName = "github.com/fyrsmithlabs/assistd/internal/orchestrator"

var (
	// ErrNoTask is returned when the history holds no user request.
	ErrNoTask = errors.New("no task given")
	// ErrPlanning wraps gateway failures during planning.
	ErrPlanning = errors.New("planning failed")
	// ErrMissingModel is the recoverable error for a run without a model id.
	ErrMissingModel = errors.New("missing context or model_id")
)

var (
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "assistd",
		Subsystem: "orchestrator",
		Name:      "stage_duration_seconds",
		Help:      "Stage latency by stage.",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	stagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistd",
		Subsystem: "orchestrator",
		Name:      "stages_total",
		Help:      "Completed stages by stage and result (ok, recovered, failed).",
	}, []string{"stage", "result"})

	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistd",
		Subsystem: "orchestrator",
		Name:      "replan_decisions_total",
		Help:      "Replanner verdicts.",
	}, []string{"decision"})
)

// Stage results recorded in metrics and spans.
const (
	resultOK        = "ok"
	resultRecovered = "recovered"
	resultFailed    = "failed"
)

// FinishReason says why a run ended.
type FinishReason string

const (
	FinishComplete  FinishReason = "complete"
	FinishEmptyPlan FinishReason = "empty_plan"
	FinishMaxCycles FinishReason = "max_cycles"
)

// Finish is a terminal replanner result.
type Finish struct {
	Output string
	Reason FinishReason
}

// Config wires the stages and the driver.
type Config struct {
	Gateway     gateway.Gateway
	Tools       *tools.Registry
	Interpreter Interpreter
	// DefaultModel fills in an empty model id passed to Driver.Run.
	DefaultModel string
	// MaxSteps caps accepted plan length. Zero means 10.
	MaxSteps int
	// MaxCycles caps replanner passes. Zero means 5.
	MaxCycles int
	Logger    *logging.Logger
	Tracer    trace.Tracer
}

func (c *Config) setDefaults() error {
	if c.Gateway == nil {
		return errors.New("orchestrator: gateway is required")
	}
	if c.Interpreter == nil {
		c.Interpreter = TextInterpreter{}
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = 10
	}
	if c.MaxCycles <= 0 {
		c.MaxCycles = 5
	}
	if c.Logger == nil {
		c.Logger = logging.NewNop()
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(instrumentationName)
	}
	return nil
}

// Stages holds the four stage functions.
type Stages struct {
	gateway  gateway.Gateway
	tools    *tools.Registry
	interp   Interpreter
	maxSteps int
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewStages validates cfg and builds the stages.
func NewStages(cfg Config) (*Stages, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	return newStages(cfg), nil
}

func newStages(cfg Config) *Stages {
	return &Stages{
		gateway:  cfg.Gateway,
		tools:    cfg.Tools,
		interp:   cfg.Interpreter,
		maxSteps: cfg.MaxSteps,
		logger:   cfg.Logger.Named("orchestrator"),
		tracer:   cfg.Tracer,
	}
}

// stageSpan names the span of each stage.
var stageSpan = map[Node]string{
	NodePlanner:   "orchestrator.plan",
	NodeExecutor:  "orchestrator.execute",
	NodeUpdater:   "orchestrator.update",
	NodeReplanner: "orchestrator.replan",
}

// begin opens a stage span and logs the start. The returned func closes
// the span and records the result.
func (s *Stages) begin(ctx context.Context, node Node, attrs ...attribute.KeyValue) (context.Context, func(result string, err error)) {
	ctx = logging.WithStage(ctx, node.String())
	ctx, span := s.tracer.Start(ctx, stageSpan[node], trace.WithAttributes(attrs...))
	start := time.Now()
	s.logger.Info(ctx, node.String()+" started")

	return ctx, func(result string, err error) {
		elapsed := time.Since(start)
		stageDuration.WithLabelValues(node.String()).Observe(elapsed.Seconds())
		stagesTotal.WithLabelValues(node.String(), result).Inc()
		span.SetAttributes(attribute.String("stage.result", result))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.logger.Info(ctx, node.String()+" completed",
			zap.String("result", result),
			zap.Duration("duration", elapsed),
		)
	}
}

// Plan asks the model for a goal and plan. Failures here are fatal.
func (s *Stages) Plan(ctx context.Context, in State) (State, error) {
	st := in.Clone()
	ctx, end := s.begin(ctx, NodePlanner)

	msg, ok := st.LastUserMessage()
	if !ok || strings.TrimSpace(msg.Content) == "" {
		s.logger.Error(ctx, "no user message in history")
		end(resultFailed, ErrNoTask)
		return in, ErrNoTask
	}

	messages := []gateway.Message{
		gateway.System(plannerSystemPrompt),
		gateway.User(plannerPrompt(msg.Content)),
	}
	resp, err := s.gateway.Invoke(ctx, messages, gateway.WithModel(st.Context.ModelID))
	if err == nil && resp == nil {
		err = gateway.ErrEmptyResponse
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPlanning, err)
		s.logger.Error(ctx, "planner failed", zap.Error(err))
		end(resultFailed, err)
		return in, err
	}

	result := parser.Plan(resp.Content)
	if !result.Parsed {
		s.logger.Warn(ctx, "planner output was not JSON, using one step per line")
	}
	st = st.withPlan(s.normalize(ctx, result.Plan))
	st.Goal = result.Goal
	st.LastResponse = ""
	st.Err = ""
	st.Node = NodePlanner

	end(resultOK, nil)
	return st, nil
}

// normalize drops blank steps and enforces MaxSteps.
func (s *Stages) normalize(ctx context.Context, plan []string) []string {
	out := make([]string, 0, len(plan))
	for _, step := range plan {
		if strings.TrimSpace(step) != "" {
			out = append(out, step)
		}
	}
	if len(out) > s.maxSteps {
		s.logger.Warn(ctx, "plan truncated",
			zap.Int("steps", len(out)),
			zap.Int("max_steps", s.maxSteps),
		)
		out = out[:s.maxSteps]
	}
	return out
}

// Execute runs CurrentTask. It never fails: errors become the step outcome.
func (s *Stages) Execute(ctx context.Context, in State) State {
	st := in.Clone()
	st.Node = NodeExecutor
	st.Err = ""
	st.NextTask = ""
	ctx, end := s.begin(ctx, NodeExecutor, attribute.String("task", st.CurrentTask))

	if st.Context.ModelID == "" {
		st = s.absorb(ctx, st, ErrMissingModel)
		end(resultRecovered, ErrMissingModel)
		return st
	}

	prompt, opts := s.interp.ExecutorRequest(st.CurrentTask, st.Goal, s.tools)
	messages := []gateway.Message{gateway.System(executorSystemPrompt), gateway.User(prompt)}
	resp, err := s.gateway.Invoke(ctx, messages, append(opts, gateway.WithModel(st.Context.ModelID))...)
	if err == nil && resp == nil {
		err = gateway.ErrEmptyResponse
	}
	if err != nil {
		st = s.absorb(ctx, st, err)
		end(resultRecovered, err)
		return st
	}

	response := s.interp.Dispatch(ctx, resp, s.tools)
	st.PastActions = append(st.PastActions, Action{Task: st.CurrentTask, Outcome: response})
	st.LastResponse = response
	if next, step, ok := st.next(); ok {
		st.NextTask = next
		st.nextStep = step
	}

	end(resultOK, nil)
	return st
}

// absorb records a failed step and clears NextTask so the driver moves on
// to the update stage.
func (s *Stages) absorb(ctx context.Context, st State, err error) State {
	s.logger.Warn(ctx, "task failed, continuing", zap.String("task", st.CurrentTask), zap.Error(err))
	msg := err.Error()
	st.PastActions = append(st.PastActions, Action{Task: st.CurrentTask, Outcome: errorOutcome(msg)})
	st.LastResponse = errorResponse(msg)
	st.Err = msg
	st.NextTask = ""
	return st
}

// Update summarizes the latest action against the plan. It is pure.
func Update(in State) State {
	st := in.Clone()
	last := Action{Task: noActionTask, Outcome: noActionOutcome}
	if n := len(st.PastActions); n > 0 {
		last = st.PastActions[n-1]
	}
	st.LastResponse = summarize(last, st.Plan)
	st.Node = NodeUpdater
	return st
}

// Update wraps the pure Update with a span and metrics.
func (s *Stages) Update(ctx context.Context, in State) State {
	_, end := s.begin(ctx, NodeUpdater)
	st := Update(in)
	end(resultOK, nil)
	return st
}

// Replan asks the model whether to finish, replace the plan, or keep
// going. A non-nil Finish ends the run. Failures are absorbed and treated
// as continue. On continue the driver runs the last executed step again,
// so a tool with side effects such as send_email fires a second time.
func (s *Stages) Replan(ctx context.Context, in State) (State, *Finish) {
	st := in.Clone()
	st.Node = NodeReplanner
	st.Err = ""
	st.Cycles++
	ctx, end := s.begin(ctx, NodeReplanner, attribute.Int("cycle", st.Cycles))

	prompt, opts := s.interp.ReplannerRequest(st)
	messages := []gateway.Message{gateway.System(replannerSystemPrompt), gateway.User(prompt)}
	resp, err := s.gateway.Invoke(ctx, messages, append(opts, gateway.WithModel(st.Context.ModelID))...)
	if err == nil && resp == nil {
		err = gateway.ErrEmptyResponse
	}
	var d parser.Decision
	if err == nil {
		d, err = s.interp.Decide(resp)
	}
	if err != nil {
		s.logger.Warn(ctx, "replanner failed, continuing", zap.Error(err))
		st.Err = err.Error()
		st.LastResponse = errorResponse(err.Error())
		end(resultRecovered, err)
		return st, nil
	}

	decisionsTotal.WithLabelValues(string(d.Verdict)).Inc()
	s.logger.Debug(ctx, "replanner decided", zap.String("decision", string(d.Verdict)))

	switch d.Verdict {
	case parser.Complete:
		end(resultOK, nil)
		return st, &Finish{Output: finalOutput(d, resp), Reason: FinishComplete}
	case parser.Replan:
		plan := s.normalize(ctx, d.NewPlan)
		if len(plan) == 0 {
			end(resultOK, nil)
			return st, &Finish{Output: finalOutput(d, resp), Reason: FinishEmptyPlan}
		}
		st = st.withPlan(plan)
	}
	st.LastResponse = resp.Content
	end(resultOK, nil)
	return st, nil
}

// finalOutput prefers the decision reasoning and falls back to the raw reply.
func finalOutput(d parser.Decision, resp *gateway.Response) string {
	if strings.TrimSpace(d.Reasoning) != "" {
		return d.Reasoning
	}
	return resp.Content
}
