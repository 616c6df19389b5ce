package logging

import (
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newCore builds the console, error-file and OTEL cores and tees them.
// The returned closer releases the error file, if any.
func newCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, io.Closer, error) {
	cores := make([]zapcore.Core, 0, 3)
	var closer io.Closer = nopCloser{}

	if cfg.Output.Stream != "" {
		encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		writer := zapcore.Lock(zapcore.AddSync(os.Stderr))
		if cfg.Output.Stream == "stdout" {
			writer = zapcore.Lock(zapcore.AddSync(os.Stdout))
		}
		cores = append(cores, newSampledCore(zapcore.NewCore(encoder, writer, cfg.Level), cfg.Sampling))
	}

	if cfg.Output.ErrorFile != "" {
		f, err := os.OpenFile(cfg.Output.ErrorFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open error log %s: %w", cfg.Output.ErrorFile, err)
		}
		encoder, err := NewRedactingEncoder(newEncoder("json"), cfg.Redaction)
		if err != nil {
			_ = f.Close()
			return nil, nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		// Error entries bypass sampling.
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(f), zap.NewAtomicLevelAt(zapcore.ErrorLevel)))
		closer = f
	}

	if cfg.Output.OTEL && otelProvider != nil {
		otelCore := otelzap.NewCore("github.com/fyrsmithlabs/assistd",
			otelzap.WithLoggerProvider(otelProvider),
		)
		cores = append(cores, newSampledCore(otelCore, cfg.Sampling))
	}

	if len(cores) == 0 {
		return nil, nil, fmt.Errorf("at least one output must be enabled and available")
	}
	if len(cores) == 1 {
		return cores[0], closer, nil
	}
	return zapcore.NewTee(cores...), closer, nil
}

// newSampledCore wraps core with sampling below Error.
// Error and above are never sampled.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	errorCore := &levelFilterCore{Core: core, minLevel: zapcore.ErrorLevel, hasMin: true}
	belowError := &levelFilterCore{Core: core, maxLevel: zapcore.WarnLevel, hasMax: true}

	sampled := zapcore.NewSamplerWithOptions(
		belowError,
		cfg.Tick.Duration(),
		cfg.Initial,
		cfg.Thereafter,
	)
	return zapcore.NewTee(errorCore, sampled)
}

// levelFilterCore restricts a core to a level range.
type levelFilterCore struct {
	zapcore.Core
	minLevel, maxLevel zapcore.Level
	hasMin, hasMax     bool
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	if c.hasMin && lvl < c.minLevel {
		return false
	}
	if c.hasMax && lvl > c.maxLevel {
		return false
	}
	return c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{
		Core:     c.Core.With(fields),
		minLevel: c.minLevel,
		maxLevel: c.maxLevel,
		hasMin:   c.hasMin,
		hasMax:   c.hasMax,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
