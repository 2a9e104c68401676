package repoconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullConfig(t *testing.T) {
	data := []byte(`
enabled: false
doc_dir: documentation
ignore:
  - "*.gen.go"
  - "vendor/*"
auto_approve_threshold: 90
llm_requests_per_minute: 10
drift:
  threshold: 0.8
  confidence_minimum: 80
  max_sections_per_run: 6
`)
	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.False(t, cfg.IsEnabled())
	assert.Equal(t, "documentation", cfg.DocDir)
	assert.Equal(t, 90, cfg.AutoApproveThreshold)
	assert.Equal(t, 10, cfg.LLMRequestsPerMinute)
	assert.Equal(t, 0.8, cfg.Drift.Threshold)
	assert.Equal(t, 6, cfg.Drift.MaxSectionsPerRun)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("ignore: []\n"))
	require.NoError(t, err)
	assert.True(t, cfg.IsEnabled()) // absent means enabled
	assert.Equal(t, "docs", cfg.DocDir)
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("enabled: [unclosed"))
	assert.Error(t, err)
}

func TestIgnores(t *testing.T) {
	cfg, err := Parse([]byte("ignore: [\"*.gen.go\", \"vendor/*\"]\n"))
	require.NoError(t, err)

	assert.True(t, cfg.Ignores("api.gen.go"))
	assert.True(t, cfg.Ignores("vendor/lib.go"))
	assert.False(t, cfg.Ignores("api/server.go"))
	// path.Match does not cross separators.
	assert.False(t, cfg.Ignores("vendor/pkg/lib.go"))
}

func TestIgnoresInvalidGlobNeverMatches(t *testing.T) {
	cfg := &Config{Ignore: []string{"[unclosed"}}
	assert.False(t, cfg.Ignores("anything.go"))
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	assert.True(t, cfg.IsEnabled())
	assert.Equal(t, "docs", cfg.DocDir)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("doc_dir: site\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "site", cfg.DocDir)
}
