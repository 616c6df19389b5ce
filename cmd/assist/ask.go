package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/signal"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assistd/internal/orchestrator"
	"github.com/fyrsmithlabs/assistd/internal/runs"
	"github.com/fyrsmithlabs/assistd/internal/secrets"
	"github.com/fyrsmithlabs/assistd/internal/services"
	"github.com/fyrsmithlabs/assistd/internal/tui"
)

func (c *cli) askCmd() *cobra.Command {
	var (
		model    string
		strategy string
		output   string
		useTUI   bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question by running the loop locally",
		Long: `Plan, execute and replan locally until the question is answered.

Examples:
  # Print each stage and the final answer
  assist ask "What is Eric's email address?"

  # One JSON snapshot per line
  assist ask --output json "Book a flight to Lisbon"

  # Live view
  assist ask --tui "Plan a trip to Kyoto"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validOutput(output); err != nil {
				return err
			}
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return errors.New("question cannot be empty")
			}

			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			logger, err := c.newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			reg, err := services.NewRegistry(ctx, cfg, services.Options{
				Logger:   logger,
				Gateway:  c.gateway,
				Strategy: strategy,
				SkipNATS: true,
			})
			if err != nil {
				return err
			}
			defer reg.Close()

			run := func(ctx context.Context) iter.Seq[orchestrator.Snapshot] {
				return scrubbed(reg.Scrubber(), reg.Driver().Run(ctx, question, model))
			}
			logger.Debug(ctx, "asking", zap.String("question", question), zap.Bool("tui", useTUI))

			if useTUI {
				return c.runTUI(ctx, cmd.OutOrStdout(), question, run)
			}
			p := newPrinter(cmd.OutOrStdout(), output)
			for snap := range run(ctx) {
				if err := p.snapshot(snap); err != nil {
					return err
				}
			}
			return ctx.Err()
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model ID (default gateway.model)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "tool-use strategy: text or structured (default orchestrator.strategy)")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format: text or json")
	cmd.Flags().BoolVar(&useTUI, "tui", false, "show a live terminal view")
	return cmd
}

// scrubbed redacts secrets from each snapshot before it is shown.
func scrubbed(s secrets.Scrubber, seq iter.Seq[orchestrator.Snapshot]) iter.Seq[orchestrator.Snapshot] {
	return func(yield func(orchestrator.Snapshot) bool) {
		for snap := range seq {
			runs.Scrub(s, &snap)
			if !yield(snap) {
				return
			}
		}
	}
}

func (c *cli) runTUI(ctx context.Context, out io.Writer, question string, run func(context.Context) iter.Seq[orchestrator.Snapshot]) error {
	src := tui.NewSource(ctx, run)
	defer src.Close()

	program := c.program
	if program == nil {
		program = func(m tea.Model, out io.Writer) (tea.Model, error) {
			return tea.NewProgram(m, tea.WithOutput(out), tea.WithContext(ctx)).Run()
		}
	}
	final, err := program(tui.New(question, src), out)
	if err != nil {
		return fmt.Errorf("terminal view: %w", err)
	}
	if m, ok := final.(tui.Model); ok {
		if snap, seen := m.Snapshot(); seen {
			return failure(snap)
		}
	}
	return nil
}
