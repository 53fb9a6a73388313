// Package config loads the subscriber process's configuration: a
// compiled-in JSON default, optionally overridden by a config file and
// by environment variables, following the teacher's loadConfig /
// applyEnvOverrides pattern.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the subscriber daemon's full configuration.
type Config struct {
	Resolver struct {
		Addrs           []string `json:"addrs"`
		MaxReconnects   int      `json:"maxReconnects"`
		ReconnectWaitMs int      `json:"reconnectWaitMs"`
		ReconnectJitterMs int    `json:"reconnectJitterMs"`
	} `json:"resolver"`

	Auth struct {
		Mode            string `json:"mode"` // "anonymous" or "token"
		JWTSecret       string `json:"jwtSecret"`
		TokenExpiration int    `json:"tokenExpirationSeconds"`
	} `json:"auth"`

	Debug struct {
		Enable bool   `json:"enable"`
		Host   string `json:"host"`
		Port   int    `json:"port"`
	} `json:"debug"`

	Metrics struct {
		EnablePrometheus bool   `json:"enablePrometheus"`
		MetricsPath      string `json:"metricsPath"`
		UpdateIntervalMs int    `json:"updateIntervalMs"`
	} `json:"metrics"`
}

const defaultConfigJSON = `{
  "resolver": {
    "addrs": ["http://127.0.0.1:4433"],
    "maxReconnects": 5,
    "reconnectWaitMs": 1000,
    "reconnectJitterMs": 200
  },
  "auth": {
    "mode": "anonymous",
    "jwtSecret": "",
    "tokenExpirationSeconds": 3600
  },
  "debug": {
    "enable": true,
    "host": "0.0.0.0",
    "port": 8090
  },
  "metrics": {
    "enablePrometheus": true,
    "metricsPath": "/metrics",
    "updateIntervalMs": 5000
  }
}`

// Load reads path if non-empty, otherwise the compiled-in default, then
// applies environment-variable overrides.
func Load(path string) (*Config, error) {
	raw := []byte(defaultConfigJSON)
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		raw = b
	}
	raw = []byte(os.ExpandEnv(string(raw)))

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RESOLVER_ADDRS"); v != "" {
		cfg.Resolver.Addrs = []string{v}
	}
	if v := os.Getenv("AUTH_MODE"); v != "" {
		cfg.Auth.Mode = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("DEBUG_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Debug.Port = n
		}
	}
	if v := os.Getenv("ENABLE_PROMETHEUS"); v != "" {
		cfg.Metrics.EnablePrometheus = v == "true"
	}
}

func (c *Config) ReconnectWait() time.Duration {
	return time.Duration(c.Resolver.ReconnectWaitMs) * time.Millisecond
}

func (c *Config) ReconnectJitter() time.Duration {
	return time.Duration(c.Resolver.ReconnectJitterMs) * time.Millisecond
}

func (c *Config) MetricsUpdateInterval() time.Duration {
	return time.Duration(c.Metrics.UpdateIntervalMs) * time.Millisecond
}
