// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads process-level settings for the sibyl CLI: logging,
// runtime defaults, tracing and metrics. Workspace files (shops, pipelines,
// providers) are handled by pkg/workspace.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/omarrsalif594/sibyl-sub000/internal/log"
	"github.com/omarrsalif594/sibyl-sub000/internal/tracing"
	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
	"github.com/omarrsalif594/sibyl-sub000/pkg/runtime"
)

// Config represents the complete sibyl process configuration.
type Config struct {
	Log     LogConfig      `yaml:"log"`
	Runtime RuntimeConfig  `yaml:"runtime"`
	Tracing tracing.Config `yaml:"tracing"`
	Metrics MetricsConfig  `yaml:"metrics"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is the log level (trace, debug, info, warn, error).
	// Environment: SIBYL_LOG_LEVEL, LOG_LEVEL
	Level string `yaml:"level"`

	// Format is the log format (json, text).
	// Environment: LOG_FORMAT
	Format string `yaml:"format"`

	// AddSource adds source file and line to log records.
	// Environment: LOG_SOURCE
	AddSource bool `yaml:"add_source"`
}

// RuntimeConfig holds defaults applied to every pipeline run.
type RuntimeConfig struct {
	// DefaultStepTimeout bounds leaf steps that set no timeout. 0 disables it.
	// Environment: SIBYL_STEP_TIMEOUT
	DefaultStepTimeout time.Duration `yaml:"default_step_timeout,omitempty"`

	// LoopOverflow is what happens when a loop reaches max_iterations while
	// still active: "stop" or "error".
	// Environment: SIBYL_LOOP_OVERFLOW
	// Default: stop
	LoopOverflow string `yaml:"loop_overflow,omitempty"`

	// MaxParallel caps concurrent branches of parallel steps that set no
	// max_concurrency. 0 means unlimited.
	// Environment: SIBYL_MAX_PARALLEL
	MaxParallel int `yaml:"max_parallel,omitempty"`

	// Retry enables honouring step retry blocks.
	// Environment: SIBYL_RETRY
	Retry bool `yaml:"retry"`

	// PassEnv exposes the process environment to templates as {{ env }}.
	// Environment: SIBYL_PASS_ENV
	// Default: true
	PassEnv bool `yaml:"pass_env"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics (e.g. ":9090"). Empty disables it.
	// Environment: SIBYL_METRICS_ADDR
	Addr string `yaml:"addr,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Runtime: RuntimeConfig{
			LoopOverflow: runtime.LoopOverflowStop.String(),
			PassEnv:      true,
		},
		Tracing: tracing.Config{
			Enabled:     false,
			ServiceName: "sibyl",
			SampleRate:  1.0,
		},
	}
}

// Load loads configuration from an optional YAML file and then from
// environment variables, which take precedence. If configPath is empty,
// the default path is used when a file exists there.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		if path, err := ConfigPath(); err == nil {
			if _, statErr := os.Stat(path); statErr == nil {
				configPath = path
			}
		}
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &errors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &errors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}
	return cfg, nil
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	if c.Runtime.LoopOverflow == "" {
		c.Runtime.LoopOverflow = defaults.Runtime.LoopOverflow
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaults.Tracing.ServiceName
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	// Log configuration
	lc := &log.Config{
		Level:     c.Log.Level,
		Format:    log.Format(c.Log.Format),
		AddSource: c.Log.AddSource,
	}
	log.ApplyEnv(lc)
	c.Log.Level = lc.Level
	c.Log.Format = string(lc.Format)
	c.Log.AddSource = lc.AddSource

	// Runtime configuration
	if val := os.Getenv("SIBYL_STEP_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Runtime.DefaultStepTimeout = duration
		}
	}
	if val := os.Getenv("SIBYL_LOOP_OVERFLOW"); val != "" {
		c.Runtime.LoopOverflow = strings.ToLower(val)
	}
	if val := os.Getenv("SIBYL_MAX_PARALLEL"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Runtime.MaxParallel = n
		}
	}
	if val := os.Getenv("SIBYL_RETRY"); val != "" {
		c.Runtime.Retry = isTrue(val)
	}
	if val := os.Getenv("SIBYL_PASS_ENV"); val != "" {
		c.Runtime.PassEnv = isTrue(val)
	}

	// Tracing configuration
	if val := os.Getenv("SIBYL_TRACING"); val != "" {
		c.Tracing.Enabled = isTrue(val)
	}
	if val := os.Getenv("SIBYL_TRACE_SAMPLE_RATE"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			c.Tracing.SampleRate = rate
		}
	}

	// Metrics configuration
	if val := os.Getenv("SIBYL_METRICS_ADDR"); val != "" {
		c.Metrics.Addr = val
	}
}

func isTrue(val string) bool {
	return val == "1" || strings.ToLower(val) == "true"
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if c.Runtime.DefaultStepTimeout < 0 {
		errs = append(errs, fmt.Sprintf("runtime.default_step_timeout must not be negative, got %v", c.Runtime.DefaultStepTimeout))
	}
	if _, err := runtime.ParseLoopOverflowPolicy(c.Runtime.LoopOverflow); err != nil {
		errs = append(errs, fmt.Sprintf("runtime.loop_overflow must be one of [stop, error], got %q", c.Runtime.LoopOverflow))
	}
	if c.Runtime.MaxParallel < 0 {
		errs = append(errs, fmt.Sprintf("runtime.max_parallel must not be negative, got %d", c.Runtime.MaxParallel))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %v", c.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return &errors.ValidationError{
			Field:   "config",
			Message: strings.Join(errs, "; "),
		}
	}
	return nil
}

// Logger builds the process logger, writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	return log.New(&log.Config{
		Level:     c.Log.Level,
		Format:    log.Format(c.Log.Format),
		Output:    w,
		AddSource: c.Log.AddSource,
	})
}

// RuntimeOptions converts the runtime section into runtime options.
func (c *Config) RuntimeOptions() []runtime.Option {
	policy, _ := runtime.ParseLoopOverflowPolicy(c.Runtime.LoopOverflow)

	opts := []runtime.Option{
		runtime.WithDefaultStepTimeout(c.Runtime.DefaultStepTimeout),
		runtime.WithLoopOverflow(policy),
		runtime.WithMaxParallel(c.Runtime.MaxParallel),
	}
	if c.Runtime.Retry {
		opts = append(opts, runtime.WithRetryPolicy(runtime.BackoffRetry{}))
	}
	if c.Runtime.PassEnv {
		opts = append(opts, runtime.WithEnv(environ()))
	}
	return opts
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
