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

// Package config resolves the CLI's own settings: where workflows,
// checkpoints, and audit logs live, how logging is configured, and which
// LLM provider/model backs each of the fast/balanced/strategic tiers a
// workflow step can ask for. It is deliberately narrow — the teacher's own
// internal/config covered a multi-tenant controller (Postgres backend,
// distributed leader election, webhook routes, public API, TLS,
// observability exporters) that this single-process engine has no use for.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LogConfig configures the CLI's structured logger.
type LogConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
	Source bool   `yaml:"source,omitempty" json:"source,omitempty"`
}

// ModelTierMap maps the three abstract tiers a workflow step can request
// (fast/balanced/strategic) to a provider-specific model name.
type ModelTierMap struct {
	Fast      string `yaml:"fast,omitempty" json:"fast,omitempty"`
	Balanced  string `yaml:"balanced,omitempty" json:"balanced,omitempty"`
	Strategic string `yaml:"strategic,omitempty" json:"strategic,omitempty"`
}

// ProviderConfig configures one named LLM provider instance.
type ProviderConfig struct {
	Type    string       `yaml:"type" json:"type"`
	APIKey  string       `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL string       `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Models  ModelTierMap `yaml:"models,omitempty" json:"models,omitempty"`
}

// ProvidersMap is keyed by a user-chosen provider instance name.
type ProvidersMap map[string]ProviderConfig

// Paths resolves where a run's working state lives on disk.
type Paths struct {
	CheckpointDir string `yaml:"checkpoint_dir,omitempty" json:"checkpoint_dir,omitempty"`
	AuditDir      string `yaml:"audit_dir,omitempty" json:"audit_dir,omitempty"`
	WorkflowsDir  string `yaml:"workflows_dir,omitempty" json:"workflows_dir,omitempty"`
}

// TracingConfig controls span export for `conductor run`/`conductor daemon`.
// Exporter is one of "stdout", "otlp-grpc", "otlp-http"; Endpoint is only
// consulted for the otlp variants.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Exporter string `yaml:"exporter,omitempty" json:"exporter,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// Config is the CLI's resolved configuration, loaded from
// ~/.config/conductor/config.yaml (or $XDG_CONFIG_HOME/conductor/config.yaml).
type Config struct {
	Log             LogConfig      `yaml:"log,omitempty" json:"log,omitempty"`
	Paths           Paths          `yaml:"paths,omitempty" json:"paths,omitempty"`
	Providers       ProvidersMap   `yaml:"providers,omitempty" json:"providers,omitempty"`
	DefaultProvider string         `yaml:"default_provider,omitempty" json:"default_provider,omitempty"`
	DefaultProfile  string         `yaml:"default_profile,omitempty" json:"default_profile,omitempty"`
	Tracing         TracingConfig  `yaml:"tracing,omitempty" json:"tracing,omitempty"`
}

// Default returns a Config with conservative, always-valid defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Paths: Paths{
			CheckpointDir: "",
			AuditDir:      "",
			WorkflowsDir:  "",
		},
		Providers: ProvidersMap{},
		Tracing:   TracingConfig{Enabled: true, Exporter: "stdout"},
	}
}

// Load reads and parses the config file at path. A missing file is not an
// error: it yields Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating its parent directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: failed to write %s: %w", path, err)
	}
	return nil
}

// ResolveAPIKey returns a provider's API key, falling back to the
// <TYPE>_API_KEY environment variable convention (e.g. ANTHROPIC_API_KEY)
// when the config file leaves it blank, so keys need not be committed to
// disk alongside the rest of the config.
func (p ProviderConfig) ResolveAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	return os.Getenv(envKeyName(p.Type))
}

func envKeyName(providerType string) string {
	name := ""
	for _, r := range providerType {
		switch {
		case r >= 'a' && r <= 'z':
			name += string(r - 32)
		case r == '-':
			name += "_"
		default:
			name += string(r)
		}
	}
	return name + "_API_KEY"
}
