// Package config содержит логику чтения конфигурации сервиса начисления баллов за членство.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress       = "localhost:8080"
	defaultPointType        = "mycred_default"
	defaultLogLevel         = "info"
	defaultPlanSyncInterval = 5 * time.Minute
	defaultLanguage         = "en"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	HostSystemAddress string        `env:"HOST_SYSTEM_ADDRESS"`
	WebhookSecret     string        `env:"WEBHOOK_SECRET"`
	PointType         string        `env:"POINT_TYPE"`
	PreferencesFile   string        `env:"PREFERENCES_FILE"`
	LogLevel          string        `env:"LOG_LEVEL"`
	PlanSyncInterval  time.Duration `env:"PLAN_SYNC_INTERVAL"`
	Language          string        `env:"POINT_LANGUAGE"`
	PointSingular     string        `env:"POINT_SINGULAR"`
	PointPlural       string        `env:"POINT_PLURAL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	envCfg := Config{}
	if err := env.Parse(&envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.HostSystemAddress, "r", "", "host system address")
	flag.StringVar(&cfg.WebhookSecret, "s", "", "shared secret for signed requests")
	flag.StringVar(&cfg.PointType, "t", defaultPointType, "point type key for awards")
	flag.StringVar(&cfg.PreferencesFile, "p", "", "YAML file with plans and preferences to seed on startup")
	flag.StringVar(&cfg.LogLevel, "l", defaultLogLevel, "log level")
	flag.DurationVar(&cfg.PlanSyncInterval, "i", defaultPlanSyncInterval, "plan synchronisation interval, 0 disables it")
	flag.StringVar(&cfg.Language, "lang", defaultLanguage, "language tag for number formatting in log entries")

	flag.Parse()

	overrideString(&cfg.RunAddress, envCfg.RunAddress)
	overrideString(&cfg.DatabaseURI, envCfg.DatabaseURI)
	overrideString(&cfg.HostSystemAddress, envCfg.HostSystemAddress)
	overrideString(&cfg.WebhookSecret, envCfg.WebhookSecret)
	overrideString(&cfg.PointType, envCfg.PointType)
	overrideString(&cfg.PreferencesFile, envCfg.PreferencesFile)
	overrideString(&cfg.LogLevel, envCfg.LogLevel)
	overrideString(&cfg.Language, envCfg.Language)
	if envCfg.PlanSyncInterval != 0 {
		cfg.PlanSyncInterval = envCfg.PlanSyncInterval
	}
	cfg.PointSingular = envCfg.PointSingular
	cfg.PointPlural = envCfg.PointPlural

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.PointType == "" {
		cfg.PointType = defaultPointType
	}

	return cfg, nil
}

func overrideString(dst *string, envValue string) {
	if envValue != "" {
		*dst = envValue
	}
}
