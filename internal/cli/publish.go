package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mithrel/upbridge/internal/bridge"
	"github.com/mithrel/upbridge/internal/server"
	"github.com/mithrel/upbridge/internal/wire"
	"github.com/mithrel/upbridge/pkg/api"
)

func newPublishCmd() *cobra.Command {
	var (
		format string
		token  string
		file   string
		direct bool
	)
	cmd := &cobra.Command{
		Use:   "publish <uri> [payload]",
		Short: "Publish a message on a topic",
		Long: `Publish a message on a topic. The payload comes from the argument, from
--file, or from stdin with --file -. By default the running daemon sends it;
--direct talks to the host without a daemon.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd)
			payload, err := readPayload(cmd.InOrStdin(), args, file)
			if err != nil {
				return err
			}
			req := server.PublishRequest{Topic: args[0], Payload: payload, Format: format, Token: token}
			var id string
			if direct {
				id, err = publishDirect(cmd.Context(), app, req)
			} else {
				var resp server.PublishResponse
				resp, err = server.NewClient(app.Cfg.HTTPAddr).Publish(cmd.Context(), req)
				id = resp.ID
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Published %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "raw", "payload format (raw, text, json, protobuf)")
	cmd.Flags().StringVar(&token, "token", "", "message token attribute")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the payload from a file, - for stdin")
	cmd.Flags().BoolVar(&direct, "direct", false, "send through the host directly instead of the daemon")
	return cmd
}

func readPayload(stdin io.Reader, args []string, file string) ([]byte, error) {
	switch {
	case file != "" && len(args) > 1:
		return nil, fmt.Errorf("give the payload as an argument or with --file, not both")
	case file == "-":
		return io.ReadAll(stdin)
	case file != "":
		return os.ReadFile(file)
	case len(args) > 1:
		return []byte(args[1]), nil
	}
	return nil, nil
}

func publishDirect(ctx context.Context, app *wire.App, req server.PublishRequest) (string, error) {
	topic, err := api.ParseURI(req.Topic)
	if err != nil {
		return "", err
	}
	format, err := server.ParseFormat(req.Format)
	if err != nil {
		return "", err
	}
	b, err := app.NewBridge()
	if err != nil {
		return "", err
	}
	msg := api.NewPublish(topic, req.Payload, format)
	msg.Attributes.Token = req.Token
	ctx, cancel := context.WithTimeout(ctx, app.Cfg.CallTimeout)
	defer cancel()
	if err := b.Connect(ctx); err != nil {
		return "", fmt.Errorf("%w (%s)", err, bridge.StatusOf(err))
	}
	if err := b.Send(ctx, msg); err != nil {
		return "", fmt.Errorf("%w (%s)", err, bridge.StatusOf(err))
	}
	return msg.Attributes.ID.String(), nil
}
