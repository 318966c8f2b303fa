package testsupport

import (
	"path/filepath"
	"testing"

	"fieldnotes/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retry backoff is disabled so failing stages do not sleep.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.Database = filepath.Join(base, "data", "fieldnotes.db")
	cfgVal.LLM.APIKey = "test"
	cfgVal.LLM.RequestsPerSecond = 0
	cfgVal.Analysis.BackoffBaseMillis = 0
	cfgVal.Analysis.BackoffMaxMillis = 0
	cfgVal.API.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithAPIToken sets the bearer token required by the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Token = token
	}
}

// WithMaxUploadBytes overrides the HTTP upload limit.
func WithMaxUploadBytes(limit int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.MaxUploadBytes = limit
	}
}

// WithAnalysis applies fn to the analysis section.
func WithAnalysis(fn func(*config.Analysis)) ConfigOption {
	return func(b *configBuilder) {
		fn(&b.cfg.Analysis)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
