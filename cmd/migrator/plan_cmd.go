package main

import (
	"github.com/spf13/cobra"

	"github.com/bgross0/data-migrator-sub001/pkg/planner"
	"github.com/bgross0/data-migrator-sub001/pkg/specs"
)

type planOutput struct {
	Batches      [][]string          `json:"batches"`
	Dependencies map[string][]string `json:"dependencies"`
}

func newPlanCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the batch plan derived from the entity type specs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, sync, err := loadConfig(g)
			if err != nil {
				return err
			}
			defer sync()

			loaded, err := specs.LoadFile(cfg.EntityTypesPath)
			if err != nil {
				return withCode(exitConfig, err)
			}
			levels, err := planner.Plan(loaded)
			if err != nil {
				return withCode(exitConfig, err)
			}

			out := planOutput{Batches: levels, Dependencies: make(map[string][]string, len(loaded))}
			for _, spec := range loaded {
				out.Dependencies[spec.Name] = planner.Dependencies(spec)
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}
