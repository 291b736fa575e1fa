package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

func newRollbackCmd(g *globalOptions) *cobra.Command {
	var (
		batch int
		yes   bool
	)

	cmd := &cobra.Command{
		Use:   "rollback <run-id>",
		Short: "Supersede the ledger entries of a run (or one batch) so the next run re-resolves them",
		Long: "Rollback marks ledger entries written by the run as superseded. Entities already " +
			"created in the target are left in place; the next run matches them again.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return withCode(exitUsage, errors.New("rollback rewrites the ledger: pass --yes to confirm"))
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, g, appOptions{durable: true})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			var run *models.BatchRun
			if cmd.Flags().Changed("batch") {
				run, err = a.controller.RollbackBatch(ctx, args[0], batch)
			} else {
				run, err = a.controller.Rollback(ctx, args[0])
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), run.View())
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "Roll back only the batch at this position")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the rollback")
	return cmd
}
