package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	qnet "github.com/mithrel/upbridge/internal/quicnet"
)

func newQuicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quic",
		Short: "QUIC tools",
	}

	// quic ping [addr]
	ping := &cobra.Command{
		Use:   "ping [addr]",
		Short: "Ping a host served over QUIC",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd)
			addr := app.Cfg.QUICAddr
			if len(args) == 1 {
				addr = args[0]
			}
			if addr == "" {
				return fmt.Errorf("no address: pass one or set host.quic_addr")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			rtt, err := qnet.Ping(ctx, addr, app.Cfg.QUICInsecure)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pong in %s\n", rtt)
			return nil
		},
	}
	ping.Flags().Bool("insecure", false, "skip certificate verification")

	cmd.AddCommand(ping)
	return cmd
}
