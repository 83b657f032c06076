package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Store       StoreConfig      `yaml:"store"`
	ShareTokens ShareTokenConfig `yaml:"share_tokens"`
	Chat        ChatConfig       `yaml:"chat"`
	Reminder    ReminderConfig   `yaml:"reminder"`
}

// BusConfig points at the internal NATS pub/sub deployment that decouples
// the Orchestrator from the Reminder Dispatcher and Chat Adapter.
type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// StoreConfig selects and configures the persistence driver.
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory | sqlite
	Path   string `yaml:"path"`
}

// ShareTokenConfig configures the Redis-backed, single-use share-token store.
type ShareTokenConfig struct {
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	TTLSecs   int    `yaml:"ttl_seconds"`
}

// ChatConfig configures the concrete Telegram Chat Adapter.
type ChatConfig struct {
	Enabled            bool    `yaml:"enabled"`
	BotToken           string  `yaml:"bot_token"`
	WebhookSecret      string  `yaml:"webhook_secret"`
	WebAppURL          string  `yaml:"web_app_url"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`
	DedupCacheSize     int     `yaml:"dedup_cache_size"`
}

// ReminderConfig drives the Reminder Dispatcher's tick cadence and
// imminent-reminder lookahead window.
type ReminderConfig struct {
	PollIntervalSecs       int    `yaml:"poll_interval_seconds"`
	ImminentHorizonMinutes int    `yaml:"imminent_horizon_minutes"`
	TriggerToken           string `yaml:"trigger_token"`
}

func Default() Config {
	return Config{
		RuntimeName: "gatherd",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "./data/gatherd.db",
		},
		ShareTokens: ShareTokenConfig{
			RedisAddr: "localhost:6379",
			RedisDB:   0,
			TTLSecs:   900,
		},
		Chat: ChatConfig{
			Enabled:            false,
			RateLimitPerSecond: 20,
			RateLimitBurst:     5,
			DedupCacheSize:     4096,
		},
		Reminder: ReminderConfig{
			PollIntervalSecs:       60,
			ImminentHorizonMinutes: 120,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "GATHERD_RUNTIME_NAME")
	overrideString(&cfg.Environment, "GATHERD_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "GATHERD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "GATHERD_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "GATHERD_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "GATHERD_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "GATHERD_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "GATHERD_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "GATHERD_BUS_EMBEDDED")
	overrideStringSlice(&cfg.Bus.Servers, "GATHERD_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "GATHERD_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "GATHERD_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "GATHERD_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "GATHERD_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "GATHERD_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Driver, "GATHERD_STORE_DRIVER")
	overrideString(&cfg.Store.Path, "GATHERD_STORE_PATH")
	overrideString(&cfg.ShareTokens.RedisAddr, "GATHERD_SHARE_TOKENS_REDIS_ADDR")
	overrideInt(&cfg.ShareTokens.RedisDB, "GATHERD_SHARE_TOKENS_REDIS_DB")
	overrideInt(&cfg.ShareTokens.TTLSecs, "GATHERD_SHARE_TOKENS_TTL_SECONDS")
	overrideBool(&cfg.Chat.Enabled, "GATHERD_CHAT_ENABLED")
	overrideString(&cfg.Chat.BotToken, "GATHERD_CHAT_BOT_TOKEN")
	overrideString(&cfg.Chat.WebhookSecret, "GATHERD_CHAT_WEBHOOK_SECRET")
	overrideString(&cfg.Chat.WebAppURL, "GATHERD_CHAT_WEB_APP_URL")
	overrideFloat(&cfg.Chat.RateLimitPerSecond, "GATHERD_CHAT_RATE_LIMIT_PER_SECOND")
	overrideInt(&cfg.Chat.RateLimitBurst, "GATHERD_CHAT_RATE_LIMIT_BURST")
	overrideInt(&cfg.Chat.DedupCacheSize, "GATHERD_CHAT_DEDUP_CACHE_SIZE")
	overrideInt(&cfg.Reminder.PollIntervalSecs, "GATHERD_REMINDER_POLL_INTERVAL_SECONDS")
	overrideInt(&cfg.Reminder.ImminentHorizonMinutes, "GATHERD_REMINDER_IMMINENT_HORIZON_MINUTES")
	overrideString(&cfg.Reminder.TriggerToken, "GATHERD_REMINDER_TRIGGER_TOKEN")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if !cfg.Bus.Embedded && len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty unless bus.embedded is true")
	}
	switch cfg.Store.Driver {
	case "memory", "sqlite":
	default:
		return errors.New("store.driver must be one of memory|sqlite")
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.Path == "" {
		return errors.New("store.path must not be empty when store.driver=sqlite")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.ShareTokens.TTLSecs <= 0 {
		return errors.New("share_tokens.ttl_seconds must be positive")
	}
	if cfg.Chat.Enabled {
		if cfg.Chat.BotToken == "" {
			return errors.New("chat.bot_token must be set when chat.enabled")
		}
		if cfg.Chat.RateLimitPerSecond <= 0 {
			return errors.New("chat.rate_limit_per_second must be positive")
		}
		if cfg.Chat.DedupCacheSize <= 0 {
			return errors.New("chat.dedup_cache_size must be positive")
		}
	}
	if cfg.Reminder.PollIntervalSecs <= 0 {
		return errors.New("reminder.poll_interval_seconds must be positive")
	}
	if cfg.Reminder.ImminentHorizonMinutes <= 0 {
		return errors.New("reminder.imminent_horizon_minutes must be positive")
	}
	return nil
}
