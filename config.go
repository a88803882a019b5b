package main

import (
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the bot
type Config struct {
	Token        string   `yaml:"bot_token"`
	OwnerID      string   `yaml:"owner_id"`
	DatabasePath string   `yaml:"database_path"`
	LogLevel     string   `yaml:"log_level"`
	Statuses     []string `yaml:"statuses"`
}

var defaultStatuses = []string{
	"for new members", "for boosts", "/script preview", "/welcome add",
}

// LoadConfig reads config.yaml if present and merges with environment variables (env overrides file)
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); err == nil {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// env overrides
	if t := os.Getenv("BOT_TOKEN"); t != "" {
		cfg.Token = t
	}
	if o := os.Getenv("OWNER_ID"); o != "" {
		cfg.OwnerID = o
	}
	if p := os.Getenv("DATABASE_PATH"); p != "" {
		cfg.DatabasePath = p
	}
	if l := os.Getenv("LOG_LEVEL"); l != "" {
		cfg.LogLevel = l
	}
	if s := os.Getenv("STATUSES"); s != "" {
		// comma-separated
		parts := []string{}
		for _, v := range strings.Split(s, ",") {
			if v = strings.TrimSpace(v); v != "" {
				parts = append(parts, v)
			}
		}
		cfg.Statuses = parts
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "scriptbot.db"
	}
	if len(cfg.Statuses) == 0 {
		cfg.Statuses = defaultStatuses
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	return cfg, nil
}
