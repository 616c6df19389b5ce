package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/assistd/internal/http"
	"github.com/fyrsmithlabs/assistd/internal/runs"
)

const requestTimeout = 30 * time.Second

// do sends a JSON request to the daemon and decodes a JSON reply into out.
// Non-2xx replies become errors carrying the server's message.
func (c *cli) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	u := strings.TrimRight(c.serverURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient(requestTimeout).Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		var e httpapi.ErrorResponse
		if json.Unmarshal(raw, &e) == nil && e.Message != "" {
			return fmt.Errorf("server returned status %d: %s", resp.StatusCode, e.Message)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check assistd server health",
		Long: `Check the health status of the assistd HTTP server.

Examples:
  # Check health
  assist health

  # Check health on a different server
  assist health --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var health httpapi.HealthResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/health", nil, &health); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", health.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "Server URL: %s\n", c.serverURL)
			return nil
		},
	}
}

func (c *cli) submitCmd() *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "submit <question>",
		Short: "Submit a question to the daemon as a background run",
		Long: `Submit a question to assistd and print the run ID. Follow it with
"assist watch <id>" or fetch it later with "assist runs get <id>".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := httpapi.RunRequest{
				Question: strings.Join(args, " "),
				ModelID:  model,
			}
			var resp httpapi.RunResponse
			if err := c.do(cmd.Context(), http.MethodPost, "/api/v1/runs", req, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", resp.ID, resp.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model ID (default is the daemon's gateway.model)")
	return cmd
}

func (c *cli) runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect background runs on the daemon",
	}

	var output string
	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a run and its snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validOutput(output); err != nil {
				return err
			}
			var d runs.Detail
			if err := c.do(cmd.Context(), http.MethodGet, "/api/v1/runs/"+url.PathEscape(args[0]), nil, &d); err != nil {
				return err
			}
			if output == outputJSON {
				return newPrinter(cmd.OutOrStdout(), outputJSON).enc.Encode(d)
			}
			return printDetail(cmd.OutOrStdout(), d)
		},
	}
	get.Flags().StringVarP(&output, "output", "o", outputText, "output format: text or json")

	list := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp httpapi.RunListResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/api/v1/runs", nil, &resp); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tQUESTION")
			for _, s := range resp.Runs {
				fmt.Fprintf(tw, "%s\t%s\t%d%%\t%s\n", s.ID, s.Status, s.Progress, s.Question)
			}
			return tw.Flush()
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpapi.RunResponse
			if err := c.do(cmd.Context(), http.MethodDelete, "/api/v1/runs/"+url.PathEscape(args[0]), nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", resp.ID, resp.Status)
			return nil
		},
	}

	cmd.AddCommand(get, list, cancel)
	return cmd
}

func printDetail(w io.Writer, d runs.Detail) error {
	fmt.Fprintf(w, "Run:      %s\n", d.ID)
	fmt.Fprintf(w, "Question: %s\n", d.Question)
	fmt.Fprintf(w, "Status:   %s (%d%%)\n", d.Status, d.Progress)
	if d.Node != "" {
		fmt.Fprintf(w, "Stage:    %s\n", d.Node)
	}
	if d.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", d.Error)
	}
	if d.Response != "" {
		fmt.Fprintf(w, "\n%s\n", d.Response)
	}
	return nil
}
