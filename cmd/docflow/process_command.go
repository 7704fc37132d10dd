package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/medocr/docflow/scope"
	"github.com/medocr/docflow/workflow"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var (
		orgID   string
		actorID string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "process <documentId>",
		Short: "Run the active workflow for a document's type",
		Long: "Run the active workflow registered for the document's organization and\n" +
			"type. A default extract-only workflow is created when none exists.\n" +
			"Needs a database store; a workflow directory cannot be searched by type.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			if orgID != "" {
				runCtx = scope.WithOrg(runCtx, orgID)
			}
			if actorID != "" {
				runCtx = scope.WithActor(runCtx, actorID)
			}

			return ctx.withRuntime(cmd, func(rt *runtime) error {
				res, err := rt.exec.Process(runCtx, args[0])
				if res != nil {
					if asJSON {
						if jerr := writeJSON(cmd, res); jerr != nil {
							return jerr
						}
					} else {
						renderRun(cmd.OutOrStdout(), res)
					}
				}
				if err != nil {
					return err
				}
				if res.Outcome == workflow.OutcomeFailed {
					return fmt.Errorf("%w: %s", errRunFailed, res.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "Organization the caller acts for")
	cmd.Flags().StringVar(&actorID, "actor", "", "Actor recorded on audit entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run result as JSON")
	return cmd
}
