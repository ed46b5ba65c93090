// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the TOML configuration shared by the trow binaries.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
)

// DefaultFile is the config file name looked up when none is given.
const DefaultFile = "trow.toml"

type Config struct {
	// Listen is the front end's HTTP address.
	Listen string `toml:"listen"`
	// HostNames are the names the registry is reachable under. Admission
	// checks images on these hosts against the registry.
	HostNames []string `toml:"host_names"`
	// DataDir holds blobs, manifests and upload scratch space.
	DataDir string `toml:"data_dir"`

	Backend   BackendConfig   `toml:"backend"`
	Auth      AuthConfig      `toml:"auth"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Tsnet     TsnetConfig     `toml:"tsnet"`
	Log       LogConfig       `toml:"log"`
}

type BackendConfig struct {
	// Address is where the backend listens and where the front end dials.
	Address string `toml:"address"`
	// PoolSize bounds concurrent streaming calls.
	PoolSize int `toml:"pool_size"`
	// IdleConns is how many stream connections are kept open between calls.
	IdleConns int `toml:"idle_conns"`
}

type AuthConfig struct {
	Enabled   bool   `toml:"enabled"`
	DBFile    string `toml:"db_file"`
	UsersFile string `toml:"users_file"`
	Realm     string `toml:"realm"`
}

type RateLimitConfig struct {
	// RequestsPerSecond of zero disables rate limiting.
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// TsnetConfig enables an additional listener on a tailnet when Hostname is
// set.
type TsnetConfig struct {
	Hostname string `toml:"hostname"`
	Dir      string `toml:"dir"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Prefix string `toml:"prefix"`
}

// Default returns the configuration used for unset fields.
func Default() *Config {
	return &Config{
		Listen:    ":8000",
		HostNames: []string{"localhost:8000"},
		DataDir:   "data",
		Backend: BackendConfig{
			Address:   "127.0.0.1:51000",
			PoolSize:  16,
			IdleConns: 4,
		},
		Auth: AuthConfig{
			Realm: "trow",
		},
		RateLimit: RateLimitConfig{
			Burst: 100,
		},
		Log: LogConfig{
			Level:  "info",
			Prefix: "trow",
		},
	}
}

// Load reads path over the defaults. An empty path, or DefaultFile when it
// does not exist, yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultFile
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg.resolvePaths()
			return cfg, nil
		}
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// resolvePaths places unset auth and tsnet files under DataDir.
func (c *Config) resolvePaths() {
	if c.Auth.DBFile == "" {
		c.Auth.DBFile = filepath.Join(c.DataDir, "users.db")
	}
	if c.Tsnet.Hostname != "" && c.Tsnet.Dir == "" {
		c.Tsnet.Dir = filepath.Join(c.DataDir, "tsnet")
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("listen %q: %w", c.Listen, err)
	}
	if _, _, err := net.SplitHostPort(c.Backend.Address); err != nil {
		return fmt.Errorf("backend.address %q: %w", c.Backend.Address, err)
	}
	if c.DataDir == "" {
		return errors.New("data_dir is empty")
	}
	if c.Backend.PoolSize < 1 {
		return fmt.Errorf("backend.pool_size must be positive, got %d", c.Backend.PoolSize)
	}
	if c.Backend.IdleConns < 0 || c.Backend.IdleConns > c.Backend.PoolSize {
		return fmt.Errorf("backend.idle_conns must be between 0 and pool_size, got %d", c.Backend.IdleConns)
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.requests_per_second is negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate_limit.burst must be positive when rate limiting is on")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Logger returns a logger configured from the log section.
func (c *Config) Logger() *log.Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          c.Log.Prefix,
		ReportTimestamp: true,
	})
	if lvl, err := log.ParseLevel(c.Log.Level); err == nil {
		l.SetLevel(lvl)
	}
	return l
}

// Save writes c to path in TOML.
func Save(path string, c *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}
