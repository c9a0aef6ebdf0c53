// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config provides configuration management for the mipod host
// driver.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the host driver binary.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	Media       MediaConfig     `yaml:"media" json:"media"`
	Channel     ChannelConfig   `yaml:"channel" json:"channel"`
	Provision   ProvisionConfig `yaml:"provision" json:"provision"`
	Logging     *LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig  `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig   `yaml:"health" json:"health"`
}

// MediaConfig locates song files and the digital-out capture directory.
type MediaConfig struct {
	Dir          string `yaml:"dir" json:"dir"`
	DigitalOutDir string `yaml:"digital_out_dir" json:"digital_out_dir"`
}

// ChannelConfig tunes the shared command/data channel between the host
// driver and the secure module.
type ChannelConfig struct {
	// PollInterval is defaulted and validated here but not read by the host
	// driver; the hostdriver feeder polls buffer_offset at a fixed interval.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// CommandTimeout is defaulted and validated here but not read by the
	// host driver; a dispatched command runs to completion with no timeout.
	CommandTimeout time.Duration `yaml:"command_timeout" json:"command_timeout"`
}

// ProvisionConfig locates the device's provisioned secrets bundle.
type ProvisionConfig struct {
	SecretsFile string `yaml:"secrets_file" json:"secrets_file"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig represents health check configuration.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file. Format is chosen by extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if len(path) > 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults fills in zero-valued fields with their defaults.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Media.Dir == "" {
		cfg.Media.Dir = "media"
	}
	if cfg.Media.DigitalOutDir == "" {
		cfg.Media.DigitalOutDir = "digital_out"
	}

	if cfg.Channel.PollInterval == 0 {
		cfg.Channel.PollInterval = 5 * time.Millisecond
	}
	if cfg.Channel.CommandTimeout == 0 {
		cfg.Channel.CommandTimeout = 5 * time.Second
	}

	if cfg.Provision.SecretsFile == "" {
		cfg.Provision.SecretsFile = "secrets/provision.yaml"
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Health == nil {
		cfg.Health = &HealthConfig{}
	}
	if cfg.Health.Addr == "" {
		cfg.Health.Addr = ":9090"
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/healthz"
	}
}
