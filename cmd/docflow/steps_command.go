package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/medocr/docflow/capability"
)

func newStepsCommand(_ *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "steps",
		Short:       "List the built-in step types",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries := capability.NewRegistry(capability.Deps{}).Entries()
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				timeout := "default"
				if e.Timeout > 0 {
					timeout = e.Timeout.String()
				}
				rows = append(rows, []string{e.Type, yesNo(e.External), timeout, e.Description})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Type", "Retried", "Timeout", "Description"},
				rows,
				nil,
			))
			return nil
		},
	}
}
