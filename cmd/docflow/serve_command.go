package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/medocr/docflow/api"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return ctx.withRuntime(cmd, func(rt *runtime) error {
				addr := rt.cfg.API.Bind
				if bind != "" {
					addr = bind
				}
				a := api.New(rt.exec,
					api.WithLogger(rt.logger),
					api.WithToken(rt.cfg.API.Token),
					api.WithBroker(rt.broker),
				)
				return a.ListenAndServe(signalCtx, addr)
			})
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (overrides api.bind)")
	return cmd
}
