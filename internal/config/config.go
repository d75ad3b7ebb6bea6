// Package config содержит логику чтения конфигурации сервиса мем-кредитов.
package config

import (
	"flag"
	"fmt"
	"math"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса мем-кредитов.
//
// CreditsPerPurchase и BundlePrice независимы друг от друга: количество
// начисляемых кредитов и стоимость пакета задаются политикой, а не протоколом.
type Config struct {
	RunAddress         string  `env:"RUN_ADDRESS"`
	DatabaseURI        string  `env:"DATABASE_URI"`
	StateFile          string  `env:"STATE_FILE"`
	WebhookSecret      string  `env:"WEBHOOK_SECRET"`
	CreditsPerPurchase int64   `env:"CREDITS_PER_PURCHASE"`
	BundlePrice        float64 `env:"BUNDLE_PRICE"`
	MemeCost           int64   `env:"MEME_COST"`
	DemoUserID         string  `env:"DEMO_USER_ID"`
	DemoCredits        int64   `env:"DEMO_CREDITS"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envValues := *cfg

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI (empty: in-memory store)")
	flag.StringVar(&cfg.StateFile, "f", "", "snapshot file for the in-memory store")
	flag.StringVar(&cfg.WebhookSecret, "s", "", "payment webhook signing secret")
	flag.Int64Var(&cfg.CreditsPerPurchase, "c", 10, "credits granted per confirmed purchase")
	flag.Float64Var(&cfg.BundlePrice, "p", 7, "credit bundle price in currency units")
	flag.Int64Var(&cfg.MemeCost, "m", 2, "credits deducted per meme generation")
	flag.StringVar(&cfg.DemoUserID, "u", "demo-user", "demo user identifier")
	flag.Int64Var(&cfg.DemoCredits, "n", 10, "credits seeded for the demo user")

	flag.Parse()

	if envValues.RunAddress != "" {
		cfg.RunAddress = envValues.RunAddress
	}
	if envValues.DatabaseURI != "" {
		cfg.DatabaseURI = envValues.DatabaseURI
	}
	if envValues.StateFile != "" {
		cfg.StateFile = envValues.StateFile
	}
	if envValues.WebhookSecret != "" {
		cfg.WebhookSecret = envValues.WebhookSecret
	}
	if envValues.CreditsPerPurchase != 0 {
		cfg.CreditsPerPurchase = envValues.CreditsPerPurchase
	}
	if envValues.BundlePrice != 0 {
		cfg.BundlePrice = envValues.BundlePrice
	}
	if envValues.MemeCost != 0 {
		cfg.MemeCost = envValues.MemeCost
	}
	if envValues.DemoUserID != "" {
		cfg.DemoUserID = envValues.DemoUserID
	}
	if envValues.DemoCredits != 0 {
		cfg.DemoCredits = envValues.DemoCredits
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.CreditsPerPurchase <= 0 {
		return nil, fmt.Errorf("credits per purchase must be positive, got %d", cfg.CreditsPerPurchase)
	}
	if cfg.BundlePrice <= 0 {
		return nil, fmt.Errorf("bundle price must be positive, got %v", cfg.BundlePrice)
	}
	if cfg.MemeCost <= 0 {
		return nil, fmt.Errorf("meme cost must be positive, got %d", cfg.MemeCost)
	}

	return cfg, nil
}

// BundlePriceCents возвращает стоимость пакета кредитов в минорных единицах валюты.
// Округление обязательно: усечение занижало бы суммы вида 0.29 на один цент.
func (c *Config) BundlePriceCents() int64 {
	return int64(math.Round(c.BundlePrice * 100))
}
