package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assistd/internal/config"
	"github.com/fyrsmithlabs/assistd/internal/gateway"
	"github.com/fyrsmithlabs/assistd/internal/logging"
	"github.com/fyrsmithlabs/assistd/internal/orchestrator"
	"github.com/fyrsmithlabs/assistd/internal/runs"
	"github.com/fyrsmithlabs/assistd/internal/secrets"
	"github.com/fyrsmithlabs/assistd/internal/tools"
)

// Options override parts of the stack NewRegistry would otherwise build.
type Options struct {
	Logger *logging.Logger
	Tracer trace.Tracer
	// Gateway replaces the provider-backed client.
	Gateway gateway.Gateway
	// Strategy overrides orchestrator.strategy when set.
	Strategy string
	// SkipNATS leaves NATS disconnected even when enabled in config.
	SkipNATS bool
}

// Registry holds the wired components. Close releases them.
type Registry struct {
	scrubber secrets.Scrubber
	contacts *tools.Directory
	tools    *tools.Registry
	gateway  gateway.Gateway
	driver   *orchestrator.Driver
	nc       *nats.Conn
	runs     *runs.Manager
	logger   *logging.Logger
}

// NewRegistry builds every component from cfg.
func NewRegistry(ctx context.Context, cfg *config.Config, opts Options) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Registry{logger: logger}

	scrubber, err := secrets.New(secrets.FromAppConfig(cfg.Secrets))
	if err != nil {
		return nil, fmt.Errorf("creating scrubber: %w", err)
	}
	r.scrubber = scrubber

	var contacts tools.ContactLookup
	if cfg.Tools.ContactsFile != "" {
		dir, err := tools.LoadDirectory(cfg.Tools.ContactsFile, logger.Named("contacts"))
		if err != nil {
			return nil, err
		}
		if cfg.Tools.Watch {
			if err := dir.Watch(ctx); err != nil {
				logger.Warn(ctx, "contacts watcher unavailable", zap.Error(err))
			}
		}
		r.contacts = dir
		contacts = dir
	}
	r.tools = tools.NewRegistry(tools.Builtins(contacts)...)

	r.gateway = opts.Gateway
	if r.gateway == nil {
		client, err := gateway.New(cfg.Gateway, logger, opts.Tracer)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("creating gateway: %w", err)
		}
		r.gateway = client
	}

	strategy := cfg.Orchestrator.Strategy
	if opts.Strategy != "" {
		strategy = opts.Strategy
	}
	interp, err := orchestrator.NewInterpreter(strategy)
	if err != nil {
		r.Close()
		return nil, err
	}

	r.driver, err = orchestrator.NewDriver(orchestrator.Config{
		Gateway:      r.gateway,
		Tools:        r.tools,
		Interpreter:  interp,
		DefaultModel: cfg.Gateway.Model,
		MaxSteps:     cfg.Orchestrator.MaxSteps,
		MaxCycles:    cfg.Orchestrator.MaxCycles,
		Logger:       logger,
		Tracer:       opts.Tracer,
	})
	if err != nil {
		r.Close()
		return nil, err
	}

	if cfg.NATS.Enabled && !opts.SkipNATS {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("assistd"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.NATS.URL, err)
		}
		r.nc = nc
		logger.Info(ctx, "nats configured", zap.String("url", cfg.NATS.URL))
	}

	r.runs = runs.NewManager(r.driver, runs.Options{
		Scrubber:      r.scrubber,
		NATS:          r.nc,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
		Logger:        logger,
	})

	logger.Info(ctx, "services initialized",
		zap.String("provider", cfg.Gateway.Provider),
		zap.String("model", cfg.Gateway.Model),
		zap.String("strategy", interp.Name()),
		zap.Strings("tools", r.tools.Names()),
		zap.Bool("nats", r.nc != nil),
		zap.Bool("scrubbing", r.scrubber.IsEnabled()),
	)
	return r, nil
}

func (r *Registry) Scrubber() secrets.Scrubber   { return r.scrubber }
func (r *Registry) Tools() *tools.Registry       { return r.tools }
func (r *Registry) Gateway() gateway.Gateway     { return r.gateway }
func (r *Registry) Driver() *orchestrator.Driver { return r.driver }
func (r *Registry) Runs() *runs.Manager          { return r.runs }
func (r *Registry) NATS() *nats.Conn             { return r.nc }

// Close stops the contacts watcher and drains the NATS connection.
func (r *Registry) Close() {
	if r.contacts != nil {
		if err := r.contacts.Close(); err != nil {
			r.logger.Warn(context.Background(), "closing contacts watcher", zap.Error(err))
		}
	}
	if r.nc != nil {
		if err := r.nc.Drain(); err != nil {
			r.nc.Close()
		}
	}
}
