// Package logging provides structured logging for assistd.
//
// Logger wraps Zap with:
//   - a Trace level (-2, below Debug) used for prompts and raw model output
//   - console output on stdout or stderr, plus an optional error-only file
//   - an optional OpenTelemetry log bridge
//   - secret redaction by field name and value pattern
//   - level-aware sampling (errors are never sampled)
//
// Every method takes a context and appends the correlation fields stored in
// it: trace_id/span_id, run.id, stage, model.id and request.id.
//
//	cfg, err := logging.FromAppConfig(appCfg.Logging, false)
//	logger, err := logging.NewLogger(cfg, nil)
//	defer logger.Close()
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithStage(ctx, "planner")
//	logger.Info(ctx, "planner completed", zap.Int("steps", 3))
package logging
