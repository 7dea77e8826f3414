package server

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/Tyrowin/chatpro/internal/auth"
	"github.com/Tyrowin/chatpro/internal/hub"
)

// EnvPrefix prefixes every environment variable read by Load, for example
// CHATPRO_SERVER_PORT or CHATPRO_JWT_SECRET.
const EnvPrefix = "CHATPRO"

// ServerConfig holds the listener and socket settings.
type ServerConfig struct {
	Port            string              `mapstructure:"port"`
	AllowedOrigins  []string            `mapstructure:"allowedOrigins"`
	MaxMessageSize  int64               `mapstructure:"maxMessageSize"`
	SendBuffer      int                 `mapstructure:"sendBuffer"`
	RateLimit       hub.RateLimitConfig `mapstructure:"rateLimit"`
	ShutdownTimeout time.Duration       `mapstructure:"shutdownTimeout"`
}

// DatabaseConfig selects the sqlite database.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// UploadsConfig controls where uploaded images are kept.
type UploadsConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxBytes int64  `mapstructure:"maxBytes"`
}

// LogConfig sets the zap level.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Config holds the full server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Uploads  UploadsConfig  `mapstructure:"uploads"`
	JWT      auth.Config    `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
}

// DefaultConfig returns a Config populated with default values for all settings.
func DefaultConfig() Config {
	hc := hub.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Port: ":8080",
			AllowedOrigins: []string{
				"http://localhost:8080",
				"http://localhost:5173",
			},
			MaxMessageSize:  hc.MaxMessageSize,
			SendBuffer:      hc.SendBuffer,
			RateLimit:       hc.RateLimit,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{DSN: "chatpro.db"},
		Uploads: UploadsConfig{
			Dir:      "uploads",
			MaxBytes: 5 << 20,
		},
		JWT: auth.Config{
			Issuer:   "chatpro",
			Audience: "chatpro-web",
			Expiry:   7 * 24 * time.Hour,
		},
		Log: LogConfig{Level: "info"},
	}
}

// SetDefaults registers every key of DefaultConfig on v so that environment
// variables and bound flags are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.allowedOrigins", d.Server.AllowedOrigins)
	v.SetDefault("server.maxMessageSize", d.Server.MaxMessageSize)
	v.SetDefault("server.sendBuffer", d.Server.SendBuffer)
	v.SetDefault("server.rateLimit.burst", d.Server.RateLimit.Burst)
	v.SetDefault("server.rateLimit.refillInterval", d.Server.RateLimit.RefillInterval)
	v.SetDefault("server.shutdownTimeout", d.Server.ShutdownTimeout)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("uploads.dir", d.Uploads.Dir)
	v.SetDefault("uploads.maxBytes", d.Uploads.MaxBytes)
	v.SetDefault("jwt.secret", d.JWT.Secret)
	v.SetDefault("jwt.issuer", d.JWT.Issuer)
	v.SetDefault("jwt.audience", d.JWT.Audience)
	v.SetDefault("jwt.expiry", d.JWT.Expiry)
	v.SetDefault("log.level", d.Log.Level)
}

// NewViper returns a viper instance with defaults and the CHATPRO_ environment
// mapping applied.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile, or chatpro.yaml from the working directory when
// configFile is empty, and returns the sanitized result. A missing default
// file is not an error.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("chatpro")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return sanitizeConfig(cfg), nil
}

func sanitizeConfig(cfg Config) Config {
	d := DefaultConfig()

	if cfg.Server.Port == "" {
		cfg.Server.Port = d.Server.Port
	}
	if !strings.Contains(cfg.Server.Port, ":") {
		cfg.Server.Port = ":" + cfg.Server.Port
	}
	if cfg.Server.MaxMessageSize <= 0 {
		cfg.Server.MaxMessageSize = d.Server.MaxMessageSize
	}
	if cfg.Server.SendBuffer <= 0 {
		cfg.Server.SendBuffer = d.Server.SendBuffer
	}
	if cfg.Server.RateLimit.Burst <= 0 {
		cfg.Server.RateLimit.Burst = d.Server.RateLimit.Burst
	}
	if cfg.Server.RateLimit.RefillInterval <= 0 {
		cfg.Server.RateLimit.RefillInterval = d.Server.RateLimit.RefillInterval
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	cfg.Server.AllowedOrigins = parseOrigins(cfg.Server.AllowedOrigins)

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = d.Database.DSN
	}
	if cfg.Uploads.Dir == "" {
		cfg.Uploads.Dir = d.Uploads.Dir
	}
	if cfg.Uploads.MaxBytes <= 0 {
		cfg.Uploads.MaxBytes = d.Uploads.MaxBytes
	}
	if cfg.JWT.Expiry <= 0 {
		cfg.JWT.Expiry = d.JWT.Expiry
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	return cfg
}

// parseOrigins splits comma separated entries, which is how a list arrives
// from a single environment variable, and drops blanks.
func parseOrigins(origins []string) []string {
	var out []string
	for _, entry := range origins {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// hubConfig derives the delivery hub settings.
func (c Config) hubConfig() hub.Config {
	hc := hub.DefaultConfig()
	hc.MaxMessageSize = c.Server.MaxMessageSize
	hc.SendBuffer = c.Server.SendBuffer
	hc.RateLimit = c.Server.RateLimit
	return hc
}
