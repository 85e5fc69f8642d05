package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thankyoucode/livekit-webstream/config"
	"github.com/thankyoucode/livekit-webstream/hub"
	"github.com/thankyoucode/livekit-webstream/metrics"
	"github.com/thankyoucode/livekit-webstream/protocol"
	"github.com/thankyoucode/livekit-webstream/server"
	"github.com/thankyoucode/livekit-webstream/token"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "serve",
		SilenceUsage: true,
		Short:        "run the signaling relay",
		Long:         `serve accepts WebSocket clients on /ws and relays offers, answers and ICE candidates between the streamer and its viewers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	fs := cmd.Flags()
	fs.String("host", "", "listen host (default 0.0.0.0)")
	fs.StringP("port", "p", "", "listen port (default 8080)")
	fs.String("mode", "", "protocol mode (strict, permissive)")
	fs.String("static-dir", "", "directory served on /")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()

	mode, err := protocol.ParseMode(cfg.Relay.Mode)
	if err != nil {
		return err
	}
	if mode == protocol.ModePermissive {
		logger.Warn("permissive mode: unknown message types are relayed by sender role")
	}

	issuer, err := token.NewIssuer(cfg.Token.APIKey, cfg.Token.APISecret, cfg.Token.TTL)
	if err != nil {
		logger.Warn("token endpoint disabled", "error", err)
	}
	if cfg.DevCredentials() {
		logger.Warn("using LiveKit dev credentials for tokens; set token.api_key and token.api_secret in production")
	}

	h := hub.New()
	m := metrics.New(h.Stats)
	handler := protocol.NewHandler(h,
		protocol.WithMode(mode),
		protocol.WithMetrics(m),
		protocol.WithLogger(logger),
	)

	return server.New(cfg, h, handler, m, issuer, logger).Run(ctx)
}
