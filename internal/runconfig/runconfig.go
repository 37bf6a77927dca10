// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package runconfig loads run settings from a YAML document. Settings
// given on the command line take precedence over the file; the file
// itself can live anywhere go-getter can fetch from.
package runconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
	getter "github.com/hashicorp/go-getter/v2"
	"github.com/spf13/afero"
)

var (
	// ErrGetConfigFile is returned when the file cannot be fetched or read.
	ErrGetConfigFile = errors.New("failed to get config file")
	// ErrParseConfig is returned when the YAML cannot be parsed.
	ErrParseConfig = errors.New("failed to parse config")
	// ErrInvalidConfig is returned when a parsed value is out of range.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config is the YAML run configuration.
type Config struct {
	// Task is the registered task name to run.
	Task string `yaml:"task"`
	// Workers is the pool size N.
	Workers int `yaml:"workers"`
	// Verbose enables debug diagnostics.
	Verbose bool `yaml:"verbose"`
	// Socket overrides the dispatch socket path.
	Socket string `yaml:"socket"`
	// GracefulTimeout is a Go duration string capping the graceful drain,
	// e.g. "30s".
	GracefulTimeout string `yaml:"graceful_timeout"`
}

// ParseGracefulTimeout parses the graceful timeout, returning 0 when the
// field is empty so the engine default applies.
func (c *Config) ParseGracefulTimeout() (time.Duration, error) {
	if c.GracefulTimeout == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(c.GracefulTimeout)
	if err != nil {
		return 0, fmt.Errorf("%w: graceful_timeout: %w", ErrInvalidConfig, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("%w: graceful_timeout must not be negative", ErrInvalidConfig)
	}

	return d, nil
}

// Parse decodes a YAML document.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Join(ErrParseConfig, err)
	}

	if c.Workers < 0 {
		return nil, fmt.Errorf("%w: workers must not be negative", ErrInvalidConfig)
	}

	return &c, nil
}

// Load reads and parses a config file from the given filesystem.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Join(ErrGetConfigFile, err)
	}

	return Parse(data)
}

// Fetch retrieves a config file from a go-getter URL (local path, http,
// git, ...) and parses it. Local paths bypass the getter.
func Fetch(ctx context.Context, fs afero.Fs, url string) (*Config, error) {
	if url == "" {
		return nil, ErrGetConfigFile
	}

	if ok, err := afero.Exists(fs, url); err == nil && ok {
		return Load(fs, url)
	}

	tmpDir, err := os.MkdirTemp("", "divvy-getter-*")
	if err != nil {
		return nil, errors.Join(ErrGetConfigFile, err)
	}

	defer os.RemoveAll(tmpDir) //nolint:errcheck

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Join(ErrGetConfigFile, err)
	}

	cli := getter.Client{
		DisableSymlinks: true,
	}

	dst := filepath.Join(tmpDir, "config.yaml")

	req := &getter.Request{
		Src:     url,
		Dst:     dst,
		Pwd:     wd,
		GetMode: getter.ModeFile,
	}

	if _, err := cli.Get(ctx, req); err != nil {
		return nil, errors.Join(ErrGetConfigFile, err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		return nil, errors.Join(ErrGetConfigFile, err)
	}

	return Parse(data)
}
