// Package config defines all configuration for the marketplace broker.
// Config is loaded from an optional YAML file with every field overridable
// via MARKET_* environment variables; built-in defaults make a bare
// `brokerd` invocation fully functional.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Market  MarketConfig  `mapstructure:"market"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig tunes the TCP listener and per-session plumbing.
//
//   - Port: TCP port the broker listens on.
//   - HandshakeTimeout: how long a fresh connection may take to REGISTER.
//   - WriteTimeout: per-frame write deadline; a peer stuck longer is dead.
//   - OutboundBuffer: per-session send queue depth. A session whose queue
//     fills is a slow consumer and gets disconnected rather than stall the
//     dispatcher.
//   - BroadcastBuffer: depth of the broker-wide broadcast queue.
//   - HeartbeatTimeout: sessions silent for longer are reaped; 0 disables.
//   - ShutdownTimeout: how long Stop waits for goroutines to drain.
type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	OutboundBuffer   int           `mapstructure:"outbound_buffer"`
	BroadcastBuffer  int           `mapstructure:"broadcast_buffer"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
}

// MarketConfig tunes the trading core.
//
//   - InitialStock: units of every catalog kind a new seller starts with.
//   - DefaultSaleDuration: applied when a SALE_START omits a duration.
//   - MaxSaleDuration: hard cap on requested sale durations.
//   - SweepInterval: how often the expiry sweeper scans for dead sales.
type MarketConfig struct {
	InitialStock        int64         `mapstructure:"initial_stock"`
	DefaultSaleDuration time.Duration `mapstructure:"default_sale_duration"`
	MaxSaleDuration     time.Duration `mapstructure:"max_sale_duration"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
}

// MonitorConfig controls the HTTP observability server (health, snapshot,
// websocket event stream, prometheus metrics). With an empty AllowedOrigins
// the websocket endpoint accepts local and same-host origins only.
type MonitorConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Listen         string   `mapstructure:"listen"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from an optional YAML file with env var overrides.
// An empty path skips the file and runs on defaults + environment, e.g.
// MARKET_SERVER_PORT=6000.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.handshake_timeout", "5s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.outbound_buffer", 64)
	v.SetDefault("server.broadcast_buffer", 256)
	v.SetDefault("server.heartbeat_timeout", "0s")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("market.initial_stock", 1000)
	v.SetDefault("market.default_sale_duration", "60s")
	v.SetDefault("market.max_sale_duration", "60s")
	v.SetDefault("market.sweep_interval", "1s")

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.listen", ":5050")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	if c.Server.HandshakeTimeout <= 0 {
		return fmt.Errorf("server.handshake_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.OutboundBuffer <= 0 {
		return fmt.Errorf("server.outbound_buffer must be > 0")
	}
	if c.Server.BroadcastBuffer <= 0 {
		return fmt.Errorf("server.broadcast_buffer must be > 0")
	}
	if c.Server.HeartbeatTimeout < 0 {
		return fmt.Errorf("server.heartbeat_timeout must be >= 0 (0 disables)")
	}
	if c.Market.InitialStock <= 0 {
		return fmt.Errorf("market.initial_stock must be > 0")
	}
	if c.Market.DefaultSaleDuration <= 0 {
		return fmt.Errorf("market.default_sale_duration must be > 0")
	}
	if c.Market.MaxSaleDuration <= 0 {
		return fmt.Errorf("market.max_sale_duration must be > 0")
	}
	if c.Market.DefaultSaleDuration > c.Market.MaxSaleDuration {
		return fmt.Errorf("market.default_sale_duration exceeds market.max_sale_duration")
	}
	if c.Market.SweepInterval <= 0 {
		return fmt.Errorf("market.sweep_interval must be > 0")
	}
	if c.Monitor.Enabled && c.Monitor.Listen == "" {
		return fmt.Errorf("monitor.listen is required when monitor.enabled")
	}
	return nil
}
