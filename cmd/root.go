package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/thankyoucode/livekit-webstream/config"
	"github.com/thankyoucode/livekit-webstream/logging"
)

var configFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "webstream [command]",
		SilenceUsage: true,
		Short:        "webstream is a one-to-many WebRTC signaling relay",
		Long: `webstream relays WebRTC signaling between a single streamer and any number of viewers
over WebSocket, and issues access tokens for the media server.`,
	}
	fs := cmd.PersistentFlags()
	fs.StringVarP(&configFile, "config", "c", "", "config file (yaml, json or toml)")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("log-format", "", "log format (text, json)")

	cmd.AddCommand(serveCmd(), probeCmd(), tokenCmd())
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"host":       "host",
	"port":       "port",
	"mode":       "relay.mode",
	"static-dir": "static_dir",
}

// loadConfig resolves .env, environment, config file and explicitly set
// flags, then installs the process logger.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return config.Config{}, err
	}

	v := config.New()
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return config.Config{}, err
	}

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return config.Config{}, fmt.Errorf("logger: %w", err)
	}
	slog.SetDefault(logger)
	return cfg, nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil || !f.Changed {
			return
		}
		err = v.BindPFlag(key, f)
	})
	return err
}
