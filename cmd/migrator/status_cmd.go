package main

import (
	"github.com/spf13/cobra"
)

func newStatusCmd(g *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show a run's batch statuses and counts, or list recent runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g, appOptions{durable: true})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if len(args) == 0 {
				runs, err := a.controller.List(ctx, limit)
				if err != nil {
					return err
				}
				type summary struct {
					ID     string `json:"id"`
					Status string `json:"status"`
					Resume bool   `json:"resume,omitempty"`
					Parent string `json:"parent_run_id,omitempty"`
				}
				out := make([]summary, 0, len(runs))
				for _, r := range runs {
					out = append(out, summary{ID: r.ID, Status: string(r.Status), Resume: r.Resume, Parent: r.ParentRunID})
				}
				return writeJSON(cmd.OutOrStdout(), out)
			}

			view, err := a.controller.Status(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list")
	return cmd
}
