// Package repoconfig reads the per-repository .docsynth.yaml that lets a
// repository tune pipeline behavior without operator involvement.
package repoconfig

import (
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// FileName is the expected config path at the repository root.
const FileName = ".docsynth.yaml"

// DriftConfig overrides the self-healing defaults. Zero values mean "use the
// built-in default".
type DriftConfig struct {
	Threshold         float64 `yaml:"threshold"`
	ConfidenceMinimum int     `yaml:"confidence_minimum"`
	MaxSectionsPerRun int     `yaml:"max_sections_per_run"`
}

// Config is the per-repository pipeline configuration.
type Config struct {
	Enabled              *bool       `yaml:"enabled"`
	DocDir               string      `yaml:"doc_dir"`
	Ignore               []string    `yaml:"ignore"`
	AutoApproveThreshold int         `yaml:"auto_approve_threshold"`
	LLMRequestsPerMinute int         `yaml:"llm_requests_per_minute"`
	Drift                DriftConfig `yaml:"drift"`
}

// Default returns the configuration used when a repository carries no file.
func Default() *Config {
	return &Config{DocDir: "docs"}
}

// IsEnabled reports whether the pipeline should run for this repository.
// Absent means enabled.
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Ignores reports whether a changed file path matches any ignore glob.
// Invalid globs never match.
func (c *Config) Ignores(filePath string) bool {
	for _, pattern := range c.Ignore {
		if ok, err := path.Match(pattern, filePath); err == nil && ok {
			return true
		}
	}
	return false
}

// Parse decodes raw YAML into a Config, filling defaults for absent fields.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse repo config: %w", err)
	}
	if cfg.DocDir == "" {
		cfg.DocDir = Default().DocDir
	}
	return cfg, nil
}

// Load reads the config file at configPath. A missing file yields defaults.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read repo config: %w", err)
	}
	return Parse(data)
}
