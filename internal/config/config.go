// Package config provides configuration loading for assistd.
//
// Configuration is read from a YAML file and overridden by ASSISTD_*
// environment variables. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete assistd configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Gateway      GatewayConfig      `koanf:"gateway"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Tools        ToolsConfig        `koanf:"tools"`
	NATS         NATSConfig         `koanf:"nats"`
	Logging      LoggingConfig      `koanf:"logging"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Secrets      SecretsConfig      `koanf:"secrets"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// RunTTL is how long finished runs stay queryable.
	RunTTL Duration `koanf:"run_ttl"`
}

// GatewayConfig configures the language-model gateway.
type GatewayConfig struct {
	Provider    string   `koanf:"provider"` // openai, ollama, anthropic
	BaseURL     string   `koanf:"base_url"`
	APIKey      Secret   `koanf:"api_key"`
	Model       string   `koanf:"model"`
	Temperature float64  `koanf:"temperature"`
	MaxTokens   int      `koanf:"max_tokens"`
	Timeout     Duration `koanf:"timeout"`
	RateLimit   float64  `koanf:"rate_limit"` // requests per second
	Burst       int      `koanf:"burst"`
	MaxRetries  int      `koanf:"max_retries"`
}

// OrchestratorConfig configures the plan/execute/replan loop.
type OrchestratorConfig struct {
	// Strategy selects how executor and replanner responses are interpreted:
	// "text" scans free text, "structured" uses tool calls and JSON decisions.
	Strategy  string `koanf:"strategy"`
	MaxCycles int    `koanf:"max_cycles"`
	MaxSteps  int    `koanf:"max_steps"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	ContactsFile string `koanf:"contacts_file"`
	Watch        bool   `koanf:"watch"`
}

// NATSConfig configures snapshot publishing.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig is the file-level view of logging settings.
// internal/logging turns it into a full logger config.
type LoggingConfig struct {
	Level     string `koanf:"level"`
	Format    string `koanf:"format"`
	Output    string `koanf:"output"` // stdout or stderr
	ErrorFile string `koanf:"error_file"`
	Sampling  bool   `koanf:"sampling"`
}

// TelemetryConfig is the file-level view of OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // grpc or http
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
	ServiceName string  `koanf:"service_name"`
}

// SecretsConfig controls scrubbing of published snapshots.
type SecretsConfig struct {
	Enabled   bool     `koanf:"enabled"`
	AllowList []string `koanf:"allow_list"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
			RunTTL:          Duration(30 * time.Minute),
		},
		Gateway: GatewayConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   4096,
			Timeout:     Duration(60 * time.Second),
			RateLimit:   2,
			Burst:       1,
			MaxRetries:  3,
		},
		Orchestrator: OrchestratorConfig{
			Strategy:  "text",
			MaxCycles: 5,
			MaxSteps:  10,
		},
		Tools: ToolsConfig{
			Watch: true,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "assistd.runs",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "stderr",
			Sampling: true,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			SampleRate:  1.0,
			ServiceName: "assistd",
		},
		Secrets: SecretsConfig{
			Enabled: true,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Gateway.Provider {
	case "openai", "ollama", "anthropic":
	default:
		return fmt.Errorf("unknown gateway provider %q (must be openai, ollama or anthropic)", c.Gateway.Provider)
	}
	if c.Gateway.Temperature < 0 || c.Gateway.Temperature > 2 {
		return fmt.Errorf("gateway temperature must be between 0 and 2, got %v", c.Gateway.Temperature)
	}
	if c.Gateway.RateLimit <= 0 {
		return errors.New("gateway rate_limit must be positive")
	}
	if c.Gateway.Burst < 1 {
		return errors.New("gateway burst must be at least 1")
	}
	if c.Gateway.MaxRetries < 0 {
		return errors.New("gateway max_retries cannot be negative")
	}

	switch c.Orchestrator.Strategy {
	case "text", "structured":
	default:
		return fmt.Errorf("unknown orchestrator strategy %q (must be text or structured)", c.Orchestrator.Strategy)
	}
	if c.Orchestrator.MaxCycles <= 0 {
		return errors.New("orchestrator max_cycles must be positive")
	}
	if c.Orchestrator.MaxSteps <= 0 {
		return errors.New("orchestrator max_steps must be positive")
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats url required when nats is enabled")
	}
	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}
