package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/assistd/internal/config"
	"github.com/fyrsmithlabs/assistd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/assistd/internal/gateway"

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistd",
		Subsystem: "gateway",
		Name:      "calls_total",
		Help:      "Model calls by model and result.",
	}, []string{"model", "result"})

	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "assistd",
		Subsystem: "gateway",
		Name:      "call_duration_seconds",
		Help:      "Model call latency including retries.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"model"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistd",
		Subsystem: "gateway",
		Name:      "retries_total",
		Help:      "Retried model calls by model.",
	}, []string{"model"})
)

// ClientOptions tune Client.
type ClientOptions struct {
	// DefaultModel is used when a call does not pass WithModel.
	DefaultModel string
	RateLimit    float64
	Burst        int
	MaxRetries   int
	// InitialBackoff is the first retry delay. Zero uses 500ms.
	InitialBackoff time.Duration
	Logger         *logging.Logger
	Tracer         trace.Tracer
}

// Client adds rate limiting, retries, metrics and tracing to a Gateway.
type Client struct {
	inner   Gateway
	opts    ClientOptions
	limiter *rate.Limiter
	logger  *logging.Logger
	tracer  trace.Tracer
}

// NewClient wraps inner.
func NewClient(inner Gateway, opts ClientOptions) (*Client, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: nil gateway", ErrInvalidConfig)
	}
	if opts.RateLimit <= 0 {
		return nil, fmt.Errorf("%w: rate limit must be > 0", ErrInvalidConfig)
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries must be >= 0", ErrInvalidConfig)
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	return &Client{
		inner:   inner,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		logger:  logger.Named("gateway"),
		tracer:  tracer,
	}, nil
}

// New builds the configured provider model and wraps it in a Client.
func New(cfg config.GatewayConfig, logger *logging.Logger, tracer trace.Tracer) (*Client, error) {
	model, err := NewModel(cfg, nil)
	if err != nil {
		return nil, err
	}
	return NewClient(NewLLM(model, cfg.Temperature, cfg.MaxTokens), ClientOptions{
		DefaultModel: cfg.Model,
		RateLimit:    cfg.RateLimit,
		Burst:        cfg.Burst,
		MaxRetries:   cfg.MaxRetries,
		Logger:       logger,
		Tracer:       tracer,
	})
}

// Invoke implements Gateway.
func (c *Client) Invoke(ctx context.Context, messages []Message, opts ...Option) (*Response, error) {
	o := Apply(opts...)
	model := o.Model
	if model == "" {
		model = c.opts.DefaultModel
		opts = append(opts, WithModel(model))
	}
	ctx = logging.WithModelID(ctx, model)

	ctx, span := c.tracer.Start(ctx, "gateway.invoke", trace.WithAttributes(
		attribute.String("model.id", model),
		attribute.Int("messages", len(messages)),
		attribute.Int("tools", len(o.Tools)),
	))
	defer span.End()

	for _, m := range messages {
		c.logger.Trace(ctx, "prompt message", zap.String("role", string(m.Role)), zap.String("content", m.Content))
	}

	start := time.Now()
	attempts := 0
	resp, err := backoff.Retry(ctx, func() (*Response, error) {
		attempts++
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		resp, err := c.inner.Invoke(ctx, messages, opts...)
		if err != nil {
			if ctx.Err() != nil || !IsRetryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return resp, nil
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.opts.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			retriesTotal.WithLabelValues(model).Inc()
			c.logger.Warn(ctx, "model call failed, retrying", zap.Error(err), zap.Duration("backoff", next))
		}),
	)
	elapsed := time.Since(start)
	callDuration.WithLabelValues(model).Observe(elapsed.Seconds())
	span.SetAttributes(attribute.Int("attempts", attempts))

	if err != nil {
		callsTotal.WithLabelValues(model, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("model %s: %w", model, err)
	}

	callsTotal.WithLabelValues(model, "ok").Inc()
	c.logger.Trace(ctx, "model response",
		zap.String("content", resp.Content),
		zap.Int("tool_calls", len(resp.ToolCalls)),
		zap.Duration("duration", elapsed),
	)
	return resp, nil
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = 30 * time.Second
	return b
}

var statusCodePattern = regexp.MustCompile(`(?:status code:?\s*|^)(\d{3})\b`)

// IsRetryable reports whether a provider error is worth retrying:
// transport failures, 429 and 5xx responses.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if m := statusCodePattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code == 429 || code >= 500
	}
	return false
}

var _ Gateway = (*Client)(nil)
