// Package config resolves runtime settings from an optional YAML file and the environment.
// Environment variables always win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/vision-demo/internal/credentials"
	"github.com/example/vision-demo/internal/demo"
	"github.com/example/vision-demo/internal/transport"
)

// Config holds every setting the commands need.
type Config struct {
	APIURL          string        `yaml:"api_url"`
	ListenAddr      string        `yaml:"listen_addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PollMaxAttempts int           `yaml:"poll_max_attempts"`
	APIToken        string        `yaml:"api_token"`
	RedisAddr       string        `yaml:"redis_addr"`
	CredentialKey   string        `yaml:"credential_key"`
	JWTSecret       string        `yaml:"jwt_secret"`
	JWTAudience     string        `yaml:"jwt_audience"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	poll := demo.DefaultPollConfig()
	return Config{
		APIURL:          transport.DefaultBaseURL,
		ListenAddr:      ":8080",
		RequestTimeout:  30 * time.Second,
		PollInterval:    poll.Interval,
		PollMaxAttempts: poll.MaxAttempts,
		CredentialKey:   credentials.DefaultKey,
	}
}

// Load reads path when it is non-empty, then applies the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	getEnv := func(key string) (string, bool) {
		value, ok := lookup(key)
		value = strings.TrimSpace(value)
		return value, ok && value != ""
	}

	strs := map[string]*string{
		"VISION_API_URL":   &c.APIURL,
		"LISTEN_ADDR":      &c.ListenAddr,
		"VISION_API_TOKEN": &c.APIToken,
		"REDIS_ADDR":       &c.RedisAddr,
		"CREDENTIAL_KEY":   &c.CredentialKey,
		"JWT_SECRET":       &c.JWTSecret,
		"JWT_AUDIENCE":     &c.JWTAudience,
	}
	for key, dst := range strs {
		if value, ok := getEnv(key); ok {
			*dst = value
		}
	}

	durations := map[string]*time.Duration{
		"VISION_REQUEST_TIMEOUT": &c.RequestTimeout,
		"POLL_INTERVAL":          &c.PollInterval,
	}
	for key, dst := range durations {
		value, ok := getEnv(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	if value, ok := getEnv("POLL_MAX_ATTEMPTS"); ok {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("POLL_MAX_ATTEMPTS: %w", err)
		}
		c.PollMaxAttempts = n
	}
	return nil
}

// Validate rejects settings no command can run with.
func (c Config) Validate() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if err := c.Poll().Validate(); err != nil {
		return err
	}
	if c.RedisAddr != "" && c.CredentialKey == "" {
		return fmt.Errorf("credential key must be set when redis is configured")
	}
	return nil
}

// Poll returns the default poll bounds for callers that do not pass their own.
func (c Config) Poll() demo.PollConfig {
	return demo.PollConfig{Interval: c.PollInterval, MaxAttempts: c.PollMaxAttempts}
}
