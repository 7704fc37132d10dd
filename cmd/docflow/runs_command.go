package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/workflow"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var (
		opts   workflow.ListOpts
		status string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "runs [runId]",
		Short: "List saved runs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *runtime) error {
				if len(args) == 1 {
					runID, err := id.ParseRunID(args[0])
					if err != nil {
						return fmt.Errorf("invalid run ID: %w", err)
					}
					res, err := rt.exec.GetRun(cmd.Context(), runID)
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(cmd, res)
					}
					renderRun(cmd.OutOrStdout(), res)
					return nil
				}

				opts.Outcome = workflow.RunOutcome(status)
				runs, err := rt.exec.ListRuns(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, runs)
				}
				renderRunList(cmd.OutOrStdout(), runs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.WorkflowID, "workflow", "", "Filter by workflow id")
	cmd.Flags().StringVar(&opts.DocumentID, "document", "", "Filter by document id")
	cmd.Flags().StringVar(&status, "outcome", "", "Filter by outcome")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "Maximum runs to list")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Runs to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
