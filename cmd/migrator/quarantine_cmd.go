package main

import (
	"errors"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/quarantine"
)

func newQuarantineCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarantine",
		Short: "Review quarantined records",
	}
	cmd.AddCommand(newQuarantineListCmd(g))
	cmd.AddCommand(newQuarantineResolveCmd(g))
	cmd.AddCommand(newQuarantineBulkResolveCmd(g))
	cmd.AddCommand(newQuarantineDecisionsCmd(g))
	return cmd
}

func bindFilterFlags(cmd *cobra.Command, f *models.QuarantineFilter) {
	cmd.Flags().StringVar(&f.RunID, "run", "", "Only items of this run")
	cmd.Flags().StringVar(&f.BatchID, "batch", "", "Only items of this batch id")
	cmd.Flags().StringVar(&f.EntityType, "type", "", "Only items of this entity type")
}

func newQuarantineListCmd(g *globalOptions) *cobra.Command {
	var (
		filter models.QuarantineFilter
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List quarantined records with their candidates",
		PreRunE: func(*cobra.Command, []string) error {
			switch models.QuarantineStatus(status) {
			case "", models.QuarantineStatusPending, models.QuarantineStatusResolved, models.QuarantineStatusSkipped:
				filter.Status = models.QuarantineStatus(status)
				return nil
			}
			return withCode(exitUsage, errors.New("--status must be pending, resolved or skipped"))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g, appOptions{durable: true})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			items, err := a.quarantine.List(ctx, filter)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), items)
		},
	}
	bindFilterFlags(cmd, &filter)
	cmd.Flags().StringVar(&status, "status", string(models.QuarantineStatusPending), "pending, resolved, skipped or empty for all")
	cmd.Flags().Float64Var(&filter.MinScore, "min-score", 0, "Only items whose top candidate scores at least this")
	cmd.Flags().IntVar(&filter.Limit, "limit", 100, "Maximum items to print")
	return cmd
}

func newQuarantineResolveCmd(g *globalOptions) *cobra.Command {
	var req quarantine.ResolveRequest
	var action string

	cmd := &cobra.Command{
		Use:   "resolve <item-id>",
		Short: "Record a reviewer decision (match, create or skip) for one item",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(*cobra.Command, []string) error {
			req.Action = models.ResolveAction(action)
			if !req.Action.Valid() {
				return withCode(exitUsage, errors.New("--action must be match, create or skip"))
			}
			if req.Action == models.ActionMatch && req.CanonicalID == "" {
				return withCode(exitUsage, errors.New("--canonical-id is required for --action match"))
			}
			req.ResolvedBy = reviewer(req.ResolvedBy)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g, appOptions{durable: true})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			item, err := a.quarantine.Resolve(ctx, args[0], req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), item)
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "match, create or skip")
	cmd.Flags().StringVar(&req.CanonicalID, "canonical-id", "", "Target entity id for --action match")
	cmd.Flags().StringVar(&req.ResolvedBy, "by", "", "Reviewer recorded on the decision (defaults to the OS user)")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func newQuarantineBulkResolveCmd(g *globalOptions) *cobra.Command {
	var req quarantine.BulkResolveRequest
	var (
		action string
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "bulk-resolve",
		Short: "Apply one action to every pending item at or above a score",
		Long: "bulk-resolve applies --action to each pending item selected by the filters whose top " +
			"candidate scores at least --min-score. match uses the top candidate.",
		PreRunE: func(*cobra.Command, []string) error {
			req.Action = models.ResolveAction(action)
			if !req.Action.Valid() {
				return withCode(exitUsage, errors.New("--action must be match, create or skip"))
			}
			if req.MinScore < 0 || req.MinScore > 1 {
				return withCode(exitUsage, errors.New("--min-score must be between 0 and 1"))
			}
			if !yes {
				return withCode(exitUsage, errors.New("bulk-resolve changes many items: pass --yes to confirm"))
			}
			req.ResolvedBy = reviewer(req.ResolvedBy)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g, appOptions{durable: true})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			res, err := a.quarantine.BulkResolve(ctx, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	bindFilterFlags(cmd, &req.Filter)
	cmd.Flags().StringVar(&action, "action", "", "match, create or skip")
	cmd.Flags().Float64Var(&req.MinScore, "min-score", 0, "Minimum top-candidate score")
	cmd.Flags().StringVar(&req.ResolvedBy, "by", "", "Reviewer recorded on each decision (defaults to the OS user)")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the bulk resolution")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func newQuarantineDecisionsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decisions <item-id>",
		Short: "Print the decision log of one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g, appOptions{durable: true})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			decisions, err := a.quarantine.Decisions(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), decisions)
		},
	}
}

func reviewer(flag string) string {
	if flag != "" {
		return flag
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "cli"
}
