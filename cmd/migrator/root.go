package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "migrator",
		Short:         "Entity resolution and dependency-ordered load into the target ERP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.configPath, "config", "config.yaml", "YAML config file (environment variables override it)")
	cmd.PersistentFlags().StringVar(&g.entityTypesPath, "entity-types", "", "Entity type specs (default: ENTITY_TYPES_PATH)")

	cmd.AddCommand(newRunCmd(g))
	cmd.AddCommand(newPlanCmd(g))
	cmd.AddCommand(newStatusCmd(g))
	cmd.AddCommand(newRollbackCmd(g))
	cmd.AddCommand(newQuarantineCmd(g))
	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newMigrateCmd(g))
	return cmd
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}
