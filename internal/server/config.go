package server

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/Tyrowin/chatrelay/internal/logging"
	"github.com/Tyrowin/chatrelay/internal/mirror"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
}

// WebSocketConfig holds per-connection transport limits.
type WebSocketConfig struct {
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
}

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refill_interval"`
}

// RelayConfig controls the relay's in-memory state.
type RelayConfig struct {
	HistoryCapacity     int           `mapstructure:"history_capacity"`
	TypingTTL           time.Duration `mapstructure:"typing_ttl"`
	TypingSweepInterval time.Duration `mapstructure:"typing_sweep_interval"`
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Config holds the complete relay configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown"`
	Log       logging.Config  `mapstructure:"log"`
	Mirror    mirror.Config   `mapstructure:"mirror"`
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:           ":5000",
			AllowedOrigins: []string{"*"},
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			SendBuffer:     256,
			PingInterval:   54 * time.Second,
			PongWait:       60 * time.Second,
			WriteWait:      10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		Relay: RelayConfig{
			HistoryCapacity:     chat.DefaultHistoryCapacity,
			TypingSweepInterval: time.Second,
		},
		Shutdown: ShutdownConfig{
			Timeout: 30 * time.Second,
		},
		Log: logging.Config{
			Level:       "info",
			ServiceName: "chatrelay",
		},
		Mirror: mirror.Config{
			Channel: "chatrelay:events",
			Buffer:  1024,
		},
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// envAliases keeps the short environment names working next to the
// automatic SECTION_KEY form.
var envAliases = map[string]string{
	"websocket.max_message_size":  "MAX_MESSAGE_SIZE",
	"relay.history_capacity":      "HISTORY_CAPACITY",
	"relay.typing_ttl":            "TYPING_TTL",
	"server.allowed_origins":      "ALLOWED_ORIGINS",
	"log.level":                   "LOG_LEVEL",
	"mirror.redis_address":        "MIRROR_REDIS_ADDRESS",
	"shutdown.timeout":            "SHUTDOWN_TIMEOUT",
	"rate_limit.refill_interval":  "RATE_LIMIT_REFILL_INTERVAL",
	"websocket.send_buffer":       "SEND_BUFFER",
	"relay.typing_sweep_interval": "TYPING_SWEEP_INTERVAL",
}

// LoadConfig reads configuration from an optional YAML file and the
// environment, layered over the defaults. An empty path searches ./config
// and the working directory for config.yaml; a missing file there is not an
// error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v, defaultConfig())
	for key, env := range envAliases {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationHook(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	sanitized := sanitizeConfig(cfg)
	return &sanitized, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)

	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.send_buffer", d.WebSocket.SendBuffer)
	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.pong_wait", d.WebSocket.PongWait)
	v.SetDefault("websocket.write_wait", d.WebSocket.WriteWait)

	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("rate_limit.refill_interval", d.RateLimit.RefillInterval)

	v.SetDefault("relay.history_capacity", d.Relay.HistoryCapacity)
	v.SetDefault("relay.typing_ttl", d.Relay.TypingTTL)
	v.SetDefault("relay.typing_sweep_interval", d.Relay.TypingSweepInterval)

	v.SetDefault("shutdown.timeout", d.Shutdown.Timeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("log.service_name", d.Log.ServiceName)

	v.SetDefault("mirror.redis_address", d.Mirror.RedisAddress)
	v.SetDefault("mirror.password", d.Mirror.Password)
	v.SetDefault("mirror.db", d.Mirror.DB)
	v.SetDefault("mirror.channel", d.Mirror.Channel)
	v.SetDefault("mirror.buffer", d.Mirror.Buffer)
}

// durationHook accepts Go duration strings ("1500ms") as well as bare
// integers, which are read as whole seconds.
func durationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return parseDuration(v)
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		}
		return data, nil
	}
}

func parseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return d, nil
}

// sanitizeConfig replaces unusable values with defaults.
func sanitizeConfig(cfg Config) Config {
	d := defaultConfig()

	cfg.Server.Port = normalizePort(cfg.Server.Port, d.Server.Port)
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = d.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = d.Server.WriteTimeout
	}
	if cfg.Server.IdleTimeout <= 0 {
		cfg.Server.IdleTimeout = d.Server.IdleTimeout
	}
	cfg.Server.AllowedOrigins = trimOrigins(cfg.Server.AllowedOrigins)

	if cfg.WebSocket.MaxMessageSize <= 0 {
		cfg.WebSocket.MaxMessageSize = d.WebSocket.MaxMessageSize
	}
	if cfg.WebSocket.SendBuffer <= 0 {
		cfg.WebSocket.SendBuffer = d.WebSocket.SendBuffer
	}
	if cfg.WebSocket.PongWait <= 0 {
		cfg.WebSocket.PongWait = d.WebSocket.PongWait
	}
	if cfg.WebSocket.PingInterval <= 0 || cfg.WebSocket.PingInterval >= cfg.WebSocket.PongWait {
		cfg.WebSocket.PingInterval = cfg.WebSocket.PongWait * 9 / 10
	}
	if cfg.WebSocket.WriteWait <= 0 {
		cfg.WebSocket.WriteWait = d.WebSocket.WriteWait
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = d.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = d.RateLimit.RefillInterval
	}

	if cfg.Relay.HistoryCapacity <= 0 {
		cfg.Relay.HistoryCapacity = d.Relay.HistoryCapacity
	}
	if cfg.Relay.TypingTTL < 0 {
		cfg.Relay.TypingTTL = 0
	}
	if cfg.Relay.TypingSweepInterval <= 0 {
		cfg.Relay.TypingSweepInterval = d.Relay.TypingSweepInterval
	}

	if cfg.Shutdown.Timeout <= 0 {
		cfg.Shutdown.Timeout = d.Shutdown.Timeout
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}

	return cfg
}

func normalizePort(port, fallback string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return fallback
	}
	if !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}

func trimOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
