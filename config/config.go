// Package config reads the server configuration from flags, the environment
// and an optional config file.
package config

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. NOCACHE_PORT.
	EnvPrefix = "NOCACHE"

	DefaultPort = 8001
	DefaultRoot = "."
)

const (
	keyConfig            = "config"
	keyHost              = "host"
	keyPort              = "port"
	keyRoot              = "root"
	keyDirectoryListing  = "directory-listing"
	keyReadHeaderTimeout = "read-header-timeout"
	keyReadTimeout       = "read-timeout"
	keyWriteTimeout      = "write-timeout"
	keyIdleTimeout       = "idle-timeout"
	keyShutdownTimeout   = "shutdown-timeout"
	keyMetricsAddress    = "metrics-address"
	keyStatsDB           = "stats-db"
	keyLogLevel          = "log-level"
	keyLogFormat         = "log-format"
)

// ServerConfig contains all the necessary information of the file server.
type ServerConfig struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	Root             string `mapstructure:"root" validate:"required,dir"`
	DirectoryListing bool   `mapstructure:"directory-listing"`

	ReadHeaderTimeout time.Duration `mapstructure:"read-header-timeout" validate:"gte=0"`
	ReadTimeout       time.Duration `mapstructure:"read-timeout" validate:"gte=0"`
	WriteTimeout      time.Duration `mapstructure:"write-timeout" validate:"gte=0"`
	IdleTimeout       time.Duration `mapstructure:"idle-timeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown-timeout" validate:"gte=0"`

	// MetricsAddress enables the Prometheus listener when not empty.
	MetricsAddress string `mapstructure:"metrics-address" validate:"omitempty,hostname_port"`
	// StatsDB enables the hit counter database when not empty.
	StatsDB string `mapstructure:"stats-db"`

	LogLevel  string `mapstructure:"log-level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log-format" validate:"oneof=text json logfmt"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *ServerConfig {
	return &ServerConfig{
		Port:              DefaultPort,
		Root:              DefaultRoot,
		DirectoryListing:  true,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// BindFlags defines the server flags on cmd and binds them to v together
// with the NOCACHE_* environment variables.
func BindFlags(cmd *cobra.Command, v *viper.Viper) error {
	f := cmd.Flags()
	AddFlags(f)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(f); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	return nil
}

// AddFlags defines the server flags on f with the Default values.
func AddFlags(f *pflag.FlagSet) {
	d := Default()

	f.String(keyConfig, "", "Path to a JSON, YAML or TOML config file. Env: NOCACHE_CONFIG")
	f.String(keyHost, d.Host, "Interface to bind, empty for all interfaces. Env: NOCACHE_HOST")
	f.IntP(keyPort, "p", d.Port, "TCP port to listen on, 0 picks a free one. Env: NOCACHE_PORT")
	f.StringP(keyRoot, "d", d.Root, "Directory to serve. Env: NOCACHE_ROOT")
	f.Bool(keyDirectoryListing, d.DirectoryListing, "Generate listings for directories without an index file. Env: NOCACHE_DIRECTORY_LISTING")
	f.Duration(keyReadHeaderTimeout, d.ReadHeaderTimeout, "Time allowed to read request headers. Env: NOCACHE_READ_HEADER_TIMEOUT")
	f.Duration(keyReadTimeout, d.ReadTimeout, "Time allowed to read a whole request. Env: NOCACHE_READ_TIMEOUT")
	f.Duration(keyWriteTimeout, d.WriteTimeout, "Time allowed to write a response, 0 disables it. Env: NOCACHE_WRITE_TIMEOUT")
	f.Duration(keyIdleTimeout, d.IdleTimeout, "Keep-alive idle timeout. Env: NOCACHE_IDLE_TIMEOUT")
	f.Duration(keyShutdownTimeout, d.ShutdownTimeout, "Time allowed for in-flight requests on interrupt. Env: NOCACHE_SHUTDOWN_TIMEOUT")
	f.String(keyMetricsAddress, d.MetricsAddress, "host:port to expose Prometheus metrics on, empty disables it. Env: NOCACHE_METRICS_ADDRESS")
	f.String(keyStatsDB, d.StatsDB, "Path to the hit counter database, empty disables it. Env: NOCACHE_STATS_DB")
	f.String(keyLogLevel, d.LogLevel, "Log level (debug, info, warn, error). Env: NOCACHE_LOG_LEVEL")
	f.String(keyLogFormat, d.LogFormat, "Log format (text, json, logfmt). Env: NOCACHE_LOG_FORMAT")
}

// Load merges flags, environment and the optional config file into a
// validated ServerConfig.
func Load(v *viper.Viper) (*ServerConfig, error) {
	if path := v.GetString(keyConfig); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags of the config.
func (c *ServerConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Address is the host:port pair the file server binds to.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Logger builds the structured logger described by the config.
func (c *ServerConfig) Logger(w io.Writer) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          "nocache",
	})

	if level, err := log.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	switch c.LogFormat {
	case "json":
		logger.SetFormatter(log.JSONFormatter)
	case "logfmt":
		logger.SetFormatter(log.LogfmtFormatter)
	}
	return logger
}
