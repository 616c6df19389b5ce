package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/assistd/internal/runs"
)

func (c *cli) watchCmd() *cobra.Command {
	var (
		natsURL string
		prefix  string
		output  string
	)
	cmd := &cobra.Command{
		Use:   "watch <id>",
		Short: "Follow a background run's snapshots over NATS",
		Long: `Subscribe to a run's NATS subjects and print each snapshot until the
run ends. Snapshots published before the subscription are not replayed;
use "assist runs get <id>" for those.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validOutput(output); err != nil {
				return err
			}
			if natsURL == "" || prefix == "" {
				cfg, err := c.loadConfig()
				if err != nil {
					return err
				}
				if natsURL == "" {
					natsURL = cfg.NATS.URL
				}
				if prefix == "" {
					prefix = cfg.NATS.SubjectPrefix
				}
			}

			nc, err := nats.Connect(natsURL, nats.Name("assist-watch"))
			if err != nil {
				return fmt.Errorf("connecting to NATS at %s: %w", natsURL, err)
			}
			defer nc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			p := newPrinter(cmd.OutOrStdout(), output)
			var lastErr error
			for ev, err := range runs.Follow(ctx, nc, prefix, args[0]) {
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					lastErr = err
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
					continue
				}
				if err := p.print(ev, ev.Snapshot); err != nil {
					return err
				}
				if ev.Snapshot.Terminal() {
					return failure(ev.Snapshot)
				}
			}
			// Interrupted before the run ended.
			if ctx.Err() != nil {
				return nil
			}
			return lastErr
		},
	}
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (default nats.url)")
	cmd.Flags().StringVar(&prefix, "subject-prefix", "", "run subject prefix (default nats.subject_prefix)")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format: text or json")
	return cmd
}
