package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix                = "XCLONE"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = "sqlite"
	defaultDatabasePath      = "xclone.db"
	defaultMongoName         = "xclone"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultCookieName        = "jwt"
	defaultSendBuffer        = 32
	defaultWriteTimeout      = 10 * time.Second
	defaultPongTimeout       = 60 * time.Second
	defaultMaxMessageBytes   = 4096
	defaultAllowedOrigin     = "http://localhost:3000"
	minimumSigningSecretSize = 16
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	JWTSecret       string
	CookieName      string
	DatabaseDriver  string
	DatabasePath    string
	DatabaseDSN     string
	MongoURI        string
	MongoName       string
	AllowedOrigins  []string
	SendBuffer      int
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	MaxMessageBytes int64
	LogLevel        string
	LogFormat       string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.mongo_name", defaultMongoName)
	configViper.SetDefault("cors.allowed_origins", []string{defaultAllowedOrigin})
	configViper.SetDefault("realtime.send_buffer", defaultSendBuffer)
	configViper.SetDefault("realtime.write_timeout", defaultWriteTimeout)
	configViper.SetDefault("realtime.pong_timeout", defaultPongTimeout)
	configViper.SetDefault("realtime.max_message_bytes", defaultMaxMessageBytes)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
}

// LoadDotEnv populates the process environment from the given files, or .env when none
// are named. Missing files are ignored and existing variables are never overridden.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		JWTSecret:       configViper.GetString("auth.jwt_secret"),
		CookieName:      configViper.GetString("auth.cookie_name"),
		DatabaseDriver:  strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:    configViper.GetString("database.path"),
		DatabaseDSN:     configViper.GetString("database.dsn"),
		MongoURI:        configViper.GetString("database.mongo_uri"),
		MongoName:       configViper.GetString("database.mongo_name"),
		AllowedOrigins:  splitOrigins(configViper.GetStringSlice("cors.allowed_origins")),
		SendBuffer:      configViper.GetInt("realtime.send_buffer"),
		WriteTimeout:    configViper.GetDuration("realtime.write_timeout"),
		PongTimeout:     configViper.GetDuration("realtime.pong_timeout"),
		MaxMessageBytes: configViper.GetInt64("realtime.max_message_bytes"),
		LogLevel:        configViper.GetString("log.level"),
		LogFormat:       configViper.GetString("log.format"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.JWTSecret) < minimumSigningSecretSize {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minimumSigningSecretSize)
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	switch c.DatabaseDriver {
	case "sqlite":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case "postgres":
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	case "mongo":
		if strings.TrimSpace(c.MongoURI) == "" || strings.TrimSpace(c.MongoName) == "" {
			return fmt.Errorf("database.mongo_uri and database.mongo_name are required for mongo")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive")
	}
	if c.WriteTimeout <= 0 || c.PongTimeout <= 0 {
		return fmt.Errorf("realtime timeouts must be positive")
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("realtime.max_message_bytes must be positive")
	}
	return nil
}

// splitOrigins accepts both list values and a single comma separated env value.
func splitOrigins(values []string) []string {
	var origins []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}
