package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thankyoucode/livekit-webstream/client"
)

type probeOptions struct {
	URL  string
	Role string
}

func probeCmd() *cobra.Command {
	var opts probeOptions
	cmd := &cobra.Command{
		Use:          "probe",
		SilenceUsage: true,
		Short:        "join a relay and log every message it sends",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runProbe(ctx, opts)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&opts.URL, "url", "u", "ws://localhost:8080/ws", "relay WebSocket url")
	fs.StringVarP(&opts.Role, "role", "r", "viewer", "role to join as (streamer, viewer)")
	return cmd
}

func runProbe(ctx context.Context, opts probeOptions) error {
	logger := slog.Default().With("mod", "probe")

	c, err := client.Dial(ctx, opts.URL)
	if err != nil {
		return err
	}
	defer c.Close()

	switch opts.Role {
	case "streamer":
		err = c.JoinAsStreamer(ctx)
	case "viewer":
		err = c.JoinAsViewer(ctx)
	default:
		return fmt.Errorf("unknown role %q", opts.Role)
	}
	if err != nil {
		return err
	}
	logger.Info("joined", "url", opts.URL, "role", opts.Role)

	for {
		ev, err := c.Receive(ctx)
		var closeErr *client.CloseError
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case errors.As(err, &closeErr):
			logger.Info("relay closed connection", "code", closeErr.Code, "reason", closeErr.Reason)
			return nil
		case err != nil:
			return err
		}
		if ev.Error != "" {
			logger.Warn("relay error", "error", ev.Error)
			continue
		}
		logger.Info("message", "type", ev.Type, "bytes", len(ev.Raw))
	}
}
