package config

import (
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mhenrichs/notisync/internal/pkg/env"
)

// Config carries everything the sync core needs. It is loaded once in main
// and injected; the core never reads the environment itself.
type Config struct {
	StripeAPIKey        string `validate:"required"`
	StripeWebhookSecret string `validate:"required"`

	NotionSecret           string `validate:"required"`
	NotionInvoicesDatabase string `validate:"required"`
	NotionClientsDatabase  string `validate:"required"`

	SweepInterval   time.Duration `validate:"min=0"`
	StripeLookback  time.Duration `validate:"gt=0"`
	NotionLookback  time.Duration `validate:"gt=0"`
	EventRetention  time.Duration `validate:"gt=0"`
	SweepWorkers    int           `validate:"min=1,max=32"`
	StartupLookback time.Duration `validate:"gt=0"`
}

// NewFromEnv builds a Config from the environment and validates it.
func NewFromEnv() (*Config, error) {
	cfg := &Config{
		StripeAPIKey:        env.GetEnv("STRIPE_API_KEY", ""),
		StripeWebhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),

		NotionSecret:           env.GetEnv("NOTION_INTEGRATION_SECRET", ""),
		NotionInvoicesDatabase: env.GetEnv("NOTION_INVOICES_DATABASE_ID", ""),
		NotionClientsDatabase:  env.GetEnv("NOTION_CLIENTS_DATABASE_ID", ""),

		SweepInterval:   time.Duration(envInt("SYNC_INTERVAL_SECONDS", 30)) * time.Second,
		StripeLookback:  time.Duration(envInt("STRIPE_LOOKBACK_DAYS", 30)) * 24 * time.Hour,
		NotionLookback:  time.Duration(envInt("NOTION_LOOKBACK_HOURS", 1)) * time.Hour,
		EventRetention:  time.Duration(envInt("EVENT_RETENTION_HOURS", 24)) * time.Hour,
		SweepWorkers:    envInt("SWEEP_WORKER_COUNT", 4),
		StartupLookback: time.Duration(envInt("STARTUP_LOOKBACK_HOURS", 72)) * time.Hour,
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envInt(key string, def int) int {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
