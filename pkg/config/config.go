package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config is the full runtime configuration of the service.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Engine   EngineConfig   `koanf:"engine"`
	Mail     MailConfig     `koanf:"mail"`
	AI       AIConfig       `koanf:"ai"`
	Webhook  WebhookConfig  `koanf:"webhook"`
	Links    LinksConfig    `koanf:"links"`
	Log      LogConfig      `koanf:"log"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type DatabaseConfig struct {
	URL string `koanf:"url" validate:"required"`
}

// EngineConfig bounds a single run. NodeTimeout applies to every handler invocation.
type EngineConfig struct {
	NodeTimeout     time.Duration `koanf:"node_timeout" validate:"gt=0"`
	TickConcurrency int           `koanf:"tick_concurrency" validate:"gte=1"`
}

type MailConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port" validate:"gte=0,lte=65535"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from" validate:"omitempty,email"`
}

type AIConfig struct {
	Endpoint string        `koanf:"endpoint" validate:"omitempty,url"`
	APIKey   string        `koanf:"api_key"`
	Timeout  time.Duration `koanf:"timeout" validate:"gt=0"`
}

type WebhookConfig struct {
	BridgeURL string        `koanf:"bridge_url" validate:"omitempty,url"`
	Timeout   time.Duration `koanf:"timeout" validate:"gt=0"`
}

type LinksConfig struct {
	BaseURL           string `koanf:"base_url" validate:"required,url"`
	DefaultExpiryDays int    `koanf:"default_expiry_days" validate:"gte=0"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"http://localhost:3003"},
			ShutdownTimeout: 5 * time.Second,
		},
		Engine: EngineConfig{
			NodeTimeout:     60 * time.Second,
			TickConcurrency: 4,
		},
		Mail: MailConfig{
			Port: 587,
			From: "automation@example.com",
		},
		AI: AIConfig{
			Timeout: 60 * time.Second,
		},
		Webhook: WebhookConfig{
			Timeout: 15 * time.Second,
		},
		Links: LinksConfig{
			BaseURL:           "http://localhost:8080/api/v1",
			DefaultExpiryDays: 7,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

var sections = map[string]bool{
	"server":   true,
	"database": true,
	"engine":   true,
	"mail":     true,
	"ai":       true,
	"webhook":  true,
	"links":    true,
	"log":      true,
}

// envKey maps an environment variable name onto a koanf path.
// DATABASE_URL -> database.url, ENGINE_NODE_TIMEOUT -> engine.node_timeout.
// Variables outside the known sections map to "" and are skipped.
func envKey(name string) string {
	name = strings.ToLower(name)
	section, rest, ok := strings.Cut(name, "_")
	if !ok || rest == "" || !sections[section] {
		return ""
	}
	return section + "." + strings.Trim(rest, "_")
}

// Load reads defaults, then environment overrides, and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(env.Provider(".", env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			path := envKey(key)
			if path == "" {
				return "", nil
			}
			if path == "server.allowed_origins" {
				return path, strings.Split(value, ",")
			}
			return path, value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
