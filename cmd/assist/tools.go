package main

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/assistd/internal/tools"
)

func (c *cli) toolsCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the built-in tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validOutput(output); err != nil {
				return err
			}
			reg := tools.NewRegistry(tools.Builtins(nil)...)
			list := reg.List()

			if output == outputJSON {
				type info struct {
					Name        string       `json:"name"`
					Description string       `json:"description"`
					Parameters  tools.Schema `json:"parameters"`
				}
				out := make([]info, 0, len(list))
				for _, t := range list {
					out = append(out, info{t.Name(), t.Description(), t.Parameters()})
				}
				return newPrinter(cmd.OutOrStdout(), outputJSON).enc.Encode(out)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tARGS\tDESCRIPTION")
			for _, t := range list {
				args := make([]string, 0, len(t.Parameters().Properties))
				for name := range t.Parameters().Properties {
					args = append(args, name)
				}
				slices.Sort(args)
				fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name(), strings.Join(args, ","), t.Description())
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format: text or json")
	return cmd
}
