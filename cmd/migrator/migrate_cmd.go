package main

import (
	"github.com/spf13/cobra"
)

func newMigrateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			// Startup runs the migrations dependency before returning.
			a, err := newApp(ctx, g, appOptions{durable: true, noEngine: true})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			a.logger.WithContext(ctx).WithField("database", a.cfg.DatabaseName).Info("Migrations applied")
			return nil
		},
	}
}
