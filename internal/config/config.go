package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port       string `yaml:"port"`
		AdminToken string `yaml:"admin_token"`
		PublicURL  string `yaml:"public_url"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Questions struct {
		File string `yaml:"file"`
		TTL  string `yaml:"ttl"`
	} `yaml:"questions"`
	Game struct {
		MaxPlayers  int    `yaml:"max_players"`
		ProctorName string `yaml:"proctor_name"`
		LatePolicy  string `yaml:"late_policy"`
		Groups      int    `yaml:"groups"`
	} `yaml:"game"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// Default returns the settings used for anything a config file leaves out.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Redis.TTL = "2h"
	cfg.Questions.TTL = "10m"
	cfg.Game.MaxPlayers = 4
	cfg.Game.ProctorName = "PROCTOR"
	cfg.Game.LatePolicy = "accept"
	cfg.Game.Groups = 25
	cfg.Log.Level = "info"
	return cfg
}

// Load reads YAML config from path on top of Default. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// NewLogger builds the process logger from the log section.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
