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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_FallsBackToDefaults(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(LoaderOptions{
		ConfigDir:      tmpDir,
		Environment:    "development",
		SkipValidation: true,
	})
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Environment != "development" {
		t.Errorf("Environment = %q, want %q", cfg.Environment, "development")
	}
	if cfg.Media.Dir == "" {
		t.Error("Media.Dir should have a default value")
	}
}

func TestLoadForEnvironment(t *testing.T) {
	tests := []string{"development", "staging", "production", "local"}

	for _, env := range tests {
		t.Run(env, func(t *testing.T) {
			cfg, err := Load(LoaderOptions{
				ConfigDir:      t.TempDir(),
				Environment:    env,
				SkipValidation: true,
			})
			if err != nil {
				t.Fatalf("Failed to load %s config: %v", env, err)
			}

			if cfg.Environment != env {
				t.Errorf("Environment = %q, want %q", cfg.Environment, env)
			}
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	os.Setenv("MIPOD_MEDIA_DIR", "/override/media")
	os.Setenv("MIPOD_LOG_LEVEL", "debug")
	defer os.Unsetenv("MIPOD_MEDIA_DIR")
	defer os.Unsetenv("MIPOD_LOG_LEVEL")

	cfg, err := Load(LoaderOptions{
		ConfigDir:      t.TempDir(),
		Environment:    "development",
		SkipValidation: true,
	})
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Media.Dir != "/override/media" {
		t.Errorf("Media.Dir = %q, want %q", cfg.Media.Dir, "/override/media")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoadWithCustomConfigDir(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")

	testConfig := `
environment: test
logging:
  level: info
  format: json
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(LoaderOptions{
		ConfigDir:      tmpDir,
		Environment:    "test",
		SkipValidation: true,
	})
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg == nil {
		t.Fatal("Config should not be nil")
	}
	if cfg.Environment != "test" {
		t.Errorf("Environment = %q, want %q", cfg.Environment, "test")
	}
}

func TestDefaultLoaderOptions(t *testing.T) {
	opts := DefaultLoaderOptions()

	if opts.ConfigDir != "config" {
		t.Errorf("ConfigDir = %q, want %q", opts.ConfigDir, "config")
	}
	if opts.SkipEnvSubstitution {
		t.Error("SkipEnvSubstitution should be false by default")
	}
	if opts.SkipValidation {
		t.Error("SkipValidation should be false by default")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	if cfg.Environment != "development" {
		t.Errorf("Default environment = %q, want %q", cfg.Environment, "development")
	}
	if cfg.Channel.PollInterval == 0 {
		t.Error("Channel.PollInterval should have a default value")
	}
	if cfg.Channel.CommandTimeout == 0 {
		t.Error("Channel.CommandTimeout should have a default value")
	}
}

func TestMustLoad_ReturnsConfig(t *testing.T) {
	cfg := MustLoad(LoaderOptions{ConfigDir: t.TempDir(), Environment: "development"})
	if cfg == nil {
		t.Fatal("MustLoad should return a non-nil config")
	}
}

func TestValidateConfiguration_EmptyConfig(t *testing.T) {
	// Direct construction bypasses setDefaults to exercise the error path;
	// Load() itself always fills required fields before validating.
	issues := ValidateConfiguration(&Config{})
	found := false
	for _, iss := range issues {
		if iss.Field == "media.dir" && iss.Level == "error" {
			found = true
		}
	}
	if !found {
		t.Error("expected a media.dir error for an empty config")
	}
}
