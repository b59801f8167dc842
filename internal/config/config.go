package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port         string `yaml:"port"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"server"`
	Store struct {
		// Backend is memory, redis or postgres. Empty picks the richest configured one.
		Backend string `yaml:"backend"`
	} `yaml:"store"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Questions struct {
		TTL   string `yaml:"ttl"`
		Limit int    `yaml:"limit"`
	} `yaml:"questions"`
	Game struct {
		SettleDelay      string `yaml:"settle_delay"`
		FixedPoints      int    `yaml:"fixed_points"`
		TimeMultiplier   int    `yaml:"time_multiplier"`
		JoinCodeAttempts int    `yaml:"join_code_attempts"`
	} `yaml:"game"`
	Client struct {
		PollInterval     string `yaml:"poll_interval"`
		BackstopInterval string `yaml:"backstop_interval"`
	} `yaml:"client"`
}

// Default returns the settings used when a field is absent from the file.
func Default() Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Server.ReadTimeout = "15s"
	cfg.Server.WriteTimeout = "15s"
	cfg.Redis.TTL = "2h"
	cfg.Redis.Channel = "quiz:patches"
	cfg.Questions.TTL = "10m"
	cfg.Questions.Limit = 10
	cfg.Game.SettleDelay = "2s"
	cfg.Game.FixedPoints = 100
	cfg.Game.TimeMultiplier = 10
	cfg.Game.JoinCodeAttempts = 10
	cfg.Client.PollInterval = "2s"
	cfg.Client.BackstopInterval = "5s"
	return cfg
}

// Load reads YAML config from path on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or malformed.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
