// Package main implements the assist CLI. It runs the plan-and-execute loop
// locally or talks to an assistd daemon over HTTP and NATS.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/assistd/internal/config"
	"github.com/fyrsmithlabs/assistd/internal/gateway"
	"github.com/fyrsmithlabs/assistd/internal/logging"
)

// version information
var (
	version   = "dev"
	gitCommit = "unknown"
)

const defaultServerURL = "http://127.0.0.1:9191"

func main() {
	if err := newRootCmd(&cli{}).Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries global flags and the seams tests replace.
type cli struct {
	serverURL  string
	configPath string
	verbose    bool

	// gateway replaces the configured model provider for local runs.
	gateway gateway.Gateway
	// program runs the interactive view. Nil uses bubbletea.
	program func(m tea.Model, out io.Writer) (tea.Model, error)
	client  *http.Client
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "assist",
		Short: "Plan-and-execute assistant",
		Long: `assist answers questions by planning a list of steps, executing them with
tools, and replanning until the goal is met.

It runs the loop locally (ask) or against an assistd daemon (submit, runs,
watch, health).`,
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&c.serverURL, "server", defaultServerURL, "assistd server URL")
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to config file (default ~/.config/assistd/config.yaml)")
	root.PersistentFlags().BoolVar(&c.verbose, "verbose", false, "log at debug level to stderr")

	root.AddCommand(
		c.askCmd(),
		c.toolsCmd(),
		c.submitCmd(),
		c.runsCmd(),
		c.watchCmd(),
		c.healthCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "assist %s (%s)\n", version, gitCommit)
		},
	}
}

// loadConfig reads the config file and environment.
func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newLogger logs to stderr so stdout stays clean for answers. Only warnings
// show unless --verbose is set.
func (c *cli) newLogger(cfg *config.Config) (*logging.Logger, error) {
	app := cfg.Logging
	app.Output = "stderr"
	app.Format = "console"
	app.ErrorFile = ""
	app.Level = "warn"
	if c.verbose {
		app.Level = "debug"
	}
	logCfg, err := logging.FromAppConfig(app, false)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(logCfg, nil)
}

func (c *cli) httpClient(timeout time.Duration) *http.Client {
	if c.client != nil {
		return c.client
	}
	return &http.Client{Timeout: timeout}
}
