package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "WEBSTREAM"

type Config struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	StaticDir       string        `mapstructure:"static_dir"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Log             LogConfig     `mapstructure:"log"`
	Relay           RelayConfig   `mapstructure:"relay"`
	Token           TokenConfig   `mapstructure:"token"`
	TLS             TLSConfig     `mapstructure:"tls"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RelayConfig struct {
	Mode              string   `mapstructure:"mode"`
	MaxMessageBytes   int64    `mapstructure:"max_message_bytes"`
	SendBuffer        int      `mapstructure:"send_buffer"`
	MessagesPerSecond float64  `mapstructure:"messages_per_second"`
	Burst             int      `mapstructure:"burst"`
	AllowedOrigins    []string `mapstructure:"allowed_origins"`
}

type TokenConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type TLSConfig struct {
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// Credentials accepted by a LiveKit server started with --dev.
const (
	DevAPIKey    = "devkey"
	DevAPISecret = "secret"
)

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c Config) TLSEnabled() bool {
	return c.TLS.CertFile != "" && c.TLS.KeyFile != ""
}

func (c Config) DevCredentials() bool {
	return c.Token.APIKey == DevAPIKey && c.Token.APISecret == DevAPISecret
}

// New returns a viper instance with defaults and environment bindings.
// Environment variables use the WEBSTREAM_ prefix with dots replaced by
// underscores (WEBSTREAM_RELAY_MODE); PORT and LOG_LEVEL are honored too.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", "8080")
	v.SetDefault("static_dir", "")
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("relay.mode", "strict")
	v.SetDefault("relay.max_message_bytes", 64*1024)
	v.SetDefault("relay.send_buffer", 256)
	v.SetDefault("relay.messages_per_second", 0)
	v.SetDefault("relay.burst", 0)
	v.SetDefault("relay.allowed_origins", []string{})
	v.SetDefault("token.api_key", DevAPIKey)
	v.SetDefault("token.api_secret", DevAPISecret)
	v.SetDefault("token.ttl", 6*time.Hour)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("port", envPrefix+"_PORT", "PORT")
	v.BindEnv("log.level", envPrefix+"_LOG_LEVEL", "LOG_LEVEL")

	return v
}

// LoadDotEnv reads .env from the working directory. A missing file is not an
// error.
func LoadDotEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load merges an optional config file into v and decodes the result.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("port must be set")
	}
	switch c.Relay.Mode {
	case "strict", "permissive":
	default:
		return fmt.Errorf("relay.mode must be strict or permissive, got %q", c.Relay.Mode)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Relay.MaxMessageBytes <= 0 {
		return fmt.Errorf("relay.max_message_bytes must be positive, got %d", c.Relay.MaxMessageBytes)
	}
	if c.Relay.SendBuffer <= 0 {
		return fmt.Errorf("relay.send_buffer must be positive, got %d", c.Relay.SendBuffer)
	}
	if c.Relay.MessagesPerSecond < 0 || c.Relay.Burst < 0 {
		return errors.New("relay rate limits must not be negative")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.New("tls.cert_file and tls.key_file must be set together")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout)
	}
	return nil
}
