package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loomworks/loom-go/internal/platform/env"
)

// serviceConfig is the file-based service configuration. Everything here
// has an env override so container deployments need no file at all.
type serviceConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	RunRate  float64 `yaml:"run_rate_per_second"`
	RunBurst int     `yaml:"run_burst"`
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
		RunRate:         2,
		RunBurst:        10,
	}
}

// loadServiceConfig reads the optional YAML file named by
// LOOM_CONFIG_FILE, then applies env overrides on top.
func loadServiceConfig() (serviceConfig, error) {
	cfg := defaultServiceConfig()

	if path := env.String("LOOM_CONFIG_FILE", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return serviceConfig{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return serviceConfig{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Addr = env.String("LOOM_HTTP_ADDR", cfg.Addr)
	shutdownTimeout, err := env.Duration("LOOM_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return serviceConfig{}, err
	}
	cfg.ShutdownTimeout = shutdownTimeout
	runRate, err := env.Float64("LOOM_RUN_RATE", cfg.RunRate)
	if err != nil {
		return serviceConfig{}, err
	}
	cfg.RunRate = runRate
	runBurst, err := env.Int("LOOM_RUN_BURST", cfg.RunBurst)
	if err != nil {
		return serviceConfig{}, err
	}
	cfg.RunBurst = runBurst

	if err := cfg.validate(); err != nil {
		return serviceConfig{}, err
	}
	return cfg, nil
}

func (c serviceConfig) validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown_timeout must be positive")
	}
	if c.RunRate <= 0 || c.RunBurst <= 0 {
		return errors.New("run rate limit settings must be positive")
	}
	return nil
}
