package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `environment: "production"

media:
  dir: "/var/mipod/media"
  digital_out_dir: "/var/mipod/digital_out"

channel:
  poll_interval: "10ms"
  command_timeout: "2s"

provision:
  secrets_file: "/etc/mipod/provision.yaml"

logging:
  level: "debug"
  format: "json"
  output: "stdout"
`

	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "/var/mipod/media", cfg.Media.Dir)
	assert.Equal(t, "/var/mipod/digital_out", cfg.Media.DigitalOutDir)
	assert.Equal(t, "/etc/mipod/provision.yaml", cfg.Provision.SecretsFile)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "minimal.yaml")

	err := os.WriteFile(configPath, []byte("environment: \"test\"\n"), 0644)
	require.NoError(t, err)

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "media", cfg.Media.Dir)
	assert.Equal(t, "digital_out", cfg.Media.DigitalOutDir)
	assert.Equal(t, "secrets/provision.yaml", cfg.Provision.SecretsFile)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "out.yaml")
	jsonPath := filepath.Join(tmpDir, "out.json")

	cfg := &Config{Environment: "staging"}
	setDefaults(cfg)

	require.NoError(t, SaveToFile(cfg, yamlPath))
	require.NoError(t, SaveToFile(cfg, jsonPath))

	yamlCfg, err := LoadFromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, cfg.Media.Dir, yamlCfg.Media.Dir)

	jsonCfg, err := LoadFromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, cfg.Media.Dir, jsonCfg.Media.Dir)
}

func TestValidateConfiguration(t *testing.T) {
	tests := []struct {
		name       string
		cfg        *Config
		wantErrors int
	}{
		{
			name: "valid config",
			cfg: func() *Config {
				c := &Config{}
				setDefaults(c)
				return c
			}(),
			wantErrors: 0,
		},
		{
			name: "missing media dir",
			cfg: &Config{
				Media:     MediaConfig{Dir: ""},
				Provision: ProvisionConfig{SecretsFile: "x.yaml"},
				Channel:   ChannelConfig{CommandTimeout: 1, PollInterval: 1},
			},
			wantErrors: 1,
		},
		{
			name: "missing secrets file",
			cfg: &Config{
				Media:     MediaConfig{Dir: "media"},
				Provision: ProvisionConfig{SecretsFile: ""},
				Channel:   ChannelConfig{CommandTimeout: 1, PollInterval: 1},
			},
			wantErrors: 1,
		},
		{
			name: "non-positive command timeout",
			cfg: &Config{
				Media:     MediaConfig{Dir: "media"},
				Provision: ProvisionConfig{SecretsFile: "x.yaml"},
				Channel:   ChannelConfig{CommandTimeout: 0, PollInterval: 1},
			},
			wantErrors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := ValidateConfiguration(tt.cfg)
			errCount := 0
			for _, iss := range issues {
				if iss.Level == "error" {
					errCount++
				}
			}
			assert.Equal(t, tt.wantErrors, errCount)
		})
	}
}
