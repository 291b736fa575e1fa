package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/runner"
	"github.com/bgross0/data-migrator-sub001/pkg/source"
)

type runOptions struct {
	inputs       []string
	resumeFrom   string
	dryRun       bool
	snapshotPath string
}

func newRunCmd(g *globalOptions) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run --input <file.jsonl>... | --resume-from-quarantine <run-id>",
		Short: "Load mapped records batch by batch, or replay a run's quarantine",
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			hasInput := len(opts.inputs) > 0
			hasResume := strings.TrimSpace(opts.resumeFrom) != ""
			if hasInput == hasResume {
				return withCode(exitUsage, errors.New("exactly one of --input or --resume-from-quarantine is required"))
			}
			if opts.snapshotPath != "" && !opts.dryRun {
				return withCode(exitUsage, errors.New("--snapshot only applies to --dry-run"))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var records []models.SourceRecord
			if len(opts.inputs) > 0 {
				var err error
				if records, err = source.ReadFiles(opts.inputs...); err != nil {
					return withCode(exitConfig, err)
				}
			}

			a, err := newApp(ctx, g, appOptions{
				durable:      opts.resumeFrom != "" && !opts.dryRun,
				dryRun:       opts.dryRun,
				snapshotPath: opts.snapshotPath,
			})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			// SIGINT cancels ctx; the runner stops at the next batch boundary.
			var run *models.BatchRun
			if opts.resumeFrom != "" {
				run, err = a.controller.Resume(ctx, strings.TrimSpace(opts.resumeFrom))
			} else {
				run, err = a.controller.Start(ctx, runner.RunRequest{Records: records})
			}
			if err != nil {
				return err
			}

			if err := writeJSON(cmd.OutOrStdout(), run.View()); err != nil {
				return err
			}
			if opts.dryRun {
				fmt.Fprintln(cmd.ErrOrStderr(), "dry run: nothing was written to the target or persisted")
			}
			return runExit(run)
		},
	}

	cmd.Flags().StringArrayVar(&opts.inputs, "input", nil, "JSON Lines file written by the field mapper (repeatable)")
	cmd.Flags().StringVar(&opts.resumeFrom, "resume-from-quarantine", "", "Replay pending and resolved quarantine items of this run")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Load into an in-memory target and keep all state in memory")
	cmd.Flags().StringVar(&opts.snapshotPath, "snapshot", "", "Canonical snapshot (JSON array of entities) seeding the dry-run target")
	return cmd
}
