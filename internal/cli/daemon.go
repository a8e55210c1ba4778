package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mithrel/upbridge/internal/daemon"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the bridge daemon",
		Long: `Run the bridge daemon. It serves the listener socket the host delivers to,
registers the configured subscriptions and exposes the status server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd) // initialized via PersistentPreRunE
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Starting upbridge daemon...\n")
			return daemon.Run(cmd.Context(), app)
		},
	}
	cmd.Flags().String("http-addr", "", "status server listen address")
	cmd.Flags().StringSlice("subscribe", nil, "subscription as <uri>[=log|nats] (repeatable)")
	cmd.Flags().String("dispatch", "", "delivery mode (inline, pool)")
	cmd.Flags().Int("workers", 0, "dispatch pool workers")
	cmd.Flags().Duration("call-timeout", 0, "timeout for calls into the host")
	cmd.Flags().String("nats-url", "", "NATS server for nats subscriptions")
	cmd.Flags().String("quic-addr", "", "reach the host over QUIC at this address")
	cmd.Flags().Bool("insecure", false, "skip QUIC certificate verification")
	return cmd
}
