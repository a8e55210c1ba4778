package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mithrel/upbridge/internal/config"
	"github.com/mithrel/upbridge/internal/wire"
)

type ctxKey string

const appKey ctxKey = "app"

// flagKeys maps command flags to the config keys they override.
var flagKeys = map[string]string{
	"log-level":    "log.level",
	"log-format":   "log.format",
	"runtime-dir":  "runtime_dir",
	"http-addr":    "http_addr",
	"subscribe":    "subscriptions",
	"host-version": "host.version",
	"quic-addr":    "host.quic_addr",
	"insecure":     "host.quic_insecure",
	"dispatch":     "dispatch.mode",
	"workers":      "dispatch.workers",
	"call-timeout": "bridge.call_timeout",
	"nats-url":     "nats.url",
}

// skipValidation marks commands that must run even with a broken config.
const skipValidation = "upbridge/skip-validation"

// Execute builds the root command and runs it with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd constructs the Cobra root command and wires dependencies.
func NewRootCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:           "upbridge",
		Short:         "upbridge bridges native listeners to a host message bus",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if cfgPath != "" {
				v.SetConfigFile(cfgPath)
			}
			if err := config.Load(cmd.Context(), v); err != nil {
				return err
			}
			applyConfigFlagOverrides(cmd, v, flagKeys)
			if !skipsValidation(cmd) {
				if err := config.CheckConfigValidity(v); err != nil {
					return fmt.Errorf("invalid config:\n%w", err)
				}
			}
			app, err := wire.BuildApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			ctx := context.WithValue(cmd.Context(), appKey, app)
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app, ok := cmd.Context().Value(appKey).(*wire.App); ok {
				return app.Close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (toml)")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "", "log format (auto, console, json)")
	cmd.PersistentFlags().String("runtime-dir", "", "directory holding sockets and the daemon lock")

	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newHostCmd())
	cmd.AddCommand(newPublishCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newQuicCmd())
	cmd.AddCommand(newCompletionCmd())

	cmd.Run = func(cmd *cobra.Command, args []string) { _ = cmd.Help() }

	return cmd
}

func skipsValidation(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if _, ok := c.Annotations[skipValidation]; ok {
			return true
		}
	}
	return false
}

func getApp(cmd *cobra.Command) *wire.App {
	v := cmd.Context().Value(appKey)
	if v == nil {
		fmt.Fprintln(os.Stderr, "internal error: app not initialized")
		os.Exit(1)
	}
	return v.(*wire.App)
}
