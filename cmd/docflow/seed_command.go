package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/medocr/docflow/store/file"
)

func newSeedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Write workflows, documents and preferences into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fx, err := file.LoadFixtureFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			s, err := openStore(cmd.Context(), cfg, ctx.logger(cmd))
			if err != nil {
				return err
			}
			defer s.Close()

			if err := fx.Seed(cmd.Context(), s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d workflows, %d documents, %d preferences\n",
				len(fx.Workflows), len(fx.Documents), len(fx.Preferences))
			return nil
		},
	}
}

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations to the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			s, err := openStore(cmd.Context(), cfg, ctx.logger(cmd))
			if err != nil {
				return err
			}
			defer s.Close()

			// openStore skips migrations when the config disables them.
			if err := s.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s store migrated\n", cfg.Store.Driver)
			return nil
		},
	}
}
