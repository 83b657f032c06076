package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Telemetry.PrometheusBind != ":9091" {
		t.Fatalf("unexpected default prometheus bind: %s", cfg.Telemetry.PrometheusBind)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("expected default store driver sqlite, got %s", cfg.Store.Driver)
	}
	if cfg.Reminder.PollIntervalSecs != 60 {
		t.Fatalf("expected default poll interval 60, got %d", cfg.Reminder.PollIntervalSecs)
	}
	if cfg.Reminder.ImminentHorizonMinutes != 120 {
		t.Fatalf("expected default imminent horizon 120 minutes, got %d", cfg.Reminder.ImminentHorizonMinutes)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GATHERD_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("GATHERD_BUS_USERNAME", "alice")
	t.Setenv("GATHERD_BUS_PASSWORD", "secret")
	t.Setenv("GATHERD_BUS_TLS_INSECURE", "true")
	t.Setenv("GATHERD_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("GATHERD_STORE_DRIVER", "memory")
	t.Setenv("GATHERD_STORE_PATH", "./tmp.db")
	t.Setenv("GATHERD_SHARE_TOKENS_REDIS_ADDR", "redis:6380")
	t.Setenv("GATHERD_SHARE_TOKENS_TTL_SECONDS", "300")
	t.Setenv("GATHERD_CHAT_ENABLED", "true")
	t.Setenv("GATHERD_CHAT_BOT_TOKEN", "123:abc")
	t.Setenv("GATHERD_CHAT_WEBHOOK_SECRET", "shh")
	t.Setenv("GATHERD_CHAT_RATE_LIMIT_PER_SECOND", "5")
	t.Setenv("GATHERD_CHAT_DEDUP_CACHE_SIZE", "2048")
	t.Setenv("GATHERD_REMINDER_POLL_INTERVAL_SECONDS", "30")
	t.Setenv("GATHERD_REMINDER_IMMINENT_HORIZON_MINUTES", "90")
	t.Setenv("GATHERD_REMINDER_TRIGGER_TOKEN", "trigger-secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Store.Driver != "memory" {
		t.Fatalf("expected store driver override")
	}
	if cfg.Store.Path != "./tmp.db" {
		t.Fatalf("expected store path override")
	}
	if cfg.ShareTokens.RedisAddr != "redis:6380" || cfg.ShareTokens.TTLSecs != 300 {
		t.Fatalf("expected share token overrides")
	}
	if !cfg.Chat.Enabled || cfg.Chat.BotToken != "123:abc" || cfg.Chat.WebhookSecret != "shh" {
		t.Fatalf("expected chat overrides")
	}
	if cfg.Chat.RateLimitPerSecond != 5 || cfg.Chat.DedupCacheSize != 2048 {
		t.Fatalf("expected chat rate limit/dedup overrides")
	}
	if cfg.Reminder.PollIntervalSecs != 30 || cfg.Reminder.ImminentHorizonMinutes != 90 {
		t.Fatalf("expected reminder overrides")
	}
	if cfg.Reminder.TriggerToken != "trigger-secret" {
		t.Fatalf("expected reminder trigger token override")
	}
}

func TestValidateRejectsBadStoreDriver(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "postgres"
	if err := validate(cfg); err == nil {
		t.Fatal("expected validation error for unknown store driver")
	}
}

func TestValidateRequiresBotTokenWhenChatEnabled(t *testing.T) {
	cfg := Default()
	cfg.Chat.Enabled = true
	if err := validate(cfg); err == nil {
		t.Fatal("expected validation error for missing chat.bot_token")
	}
}
