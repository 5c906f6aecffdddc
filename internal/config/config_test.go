package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"versfm/internal/domain"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(NewViper(), filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "local", cfg.Providers[LocalProviderID].Backend)
	assert.Equal(t, "/", cfg.Providers[LocalProviderID].Options["root"])
	assert.Equal(t, LocalProviderID, cfg.Left.Provider)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.InitialWait)
	assert.NoError(t, Validate(cfg))
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"providers": {
			"home": {"backend": "local", "options": {"root": "/home"}},
			"backup": {"backend": "s3", "options": {"bucket": "backup", "region": "eu-west-1"}}
		},
		"left": {"provider": "home", "path": "/user"},
		"right": {"provider": "backup"},
		"providerLimits": {"backup": 2},
		"retry": {"attempts": 5, "initialWait": "250ms"},
		"showHidden": true
	}`), 0o600))
	t.Setenv("VERSFM_CONCURRENCY", "9")

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Providers["backup"].Options["region"])
	assert.Equal(t, PaneConfig{Provider: "home", Path: "/user"}, cfg.Left)
	assert.Equal(t, "backup", cfg.Right.Provider)
	assert.Equal(t, 2, cfg.ProviderLimits["backup"])
	assert.Equal(t, 5, cfg.Retry.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialWait)
	assert.Equal(t, 5*time.Second, cfg.Retry.MaxWait)
	assert.True(t, cfg.ShowHidden)
	assert.Equal(t, 9, cfg.Concurrency)
	assert.NoError(t, Validate(cfg))
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"providers": `), 0o600))
	_, err := Load(NewViper(), path)
	assert.Error(t, err)
}

func TestFlagsOverrideFile(t *testing.T) {
	v := NewViper()
	flags := pflag.NewFlagSet("versfm", pflag.ContinueOnError)
	legacy, err := AddFlags(flags, v)
	require.NoError(t, err)
	require.NoError(t, flags.Parse([]string{
		"--concurrency", "2", "--left-path", "/tmp", "--left-pane", "s3", "--s3-bucket-name", "photos", "--aws-region", "us-west-2",
	}))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, "/tmp", cfg.Left.Path)

	cfg, err = ApplyLegacy(cfg, *legacy)
	require.NoError(t, err)
	assert.Equal(t, PaneConfig{Provider: "photos", Path: "/"}, cfg.Left)
	assert.Equal(t, ProviderConfig{Backend: "s3", Options: map[string]string{"bucket": "photos", "region": "us-west-2"}}, cfg.Providers["photos"])
	assert.Contains(t, cfg.Providers, LocalProviderID)
	assert.NoError(t, Validate(cfg))
}

func TestApplyLegacy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers = map[string]ProviderConfig{"home": {Backend: "local"}}

	_, err := ApplyLegacy(cfg, Legacy{RightPane: "s3"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	_, err = ApplyLegacy(cfg, Legacy{LeftPane: "ftp"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	updated, err := ApplyLegacy(cfg, Legacy{RightPane: "fs"})
	require.NoError(t, err)
	assert.Equal(t, LocalProviderID, updated.Right.Provider)
	assert.Equal(t, "local", updated.Providers[LocalProviderID].Backend)
	assert.NotContains(t, cfg.Providers, LocalProviderID)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no providers", func(cfg *Config) { cfg.Providers = nil }},
		{"missing backend", func(cfg *Config) { cfg.Providers["bad"] = ProviderConfig{} }},
		{"unknown pane provider", func(cfg *Config) { cfg.Right.Provider = "ghost" }},
		{"zero concurrency", func(cfg *Config) { cfg.Concurrency = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, Validate(cfg), domain.ErrConfiguration)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := DefaultConfig()
	cfg.Left.Path = "/srv"
	cfg.Retry.MaxWait = 2 * time.Second
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, "/srv", loaded.Left.Path)
	assert.Equal(t, 2*time.Second, loaded.Retry.MaxWait)
	assert.Equal(t, cfg.Providers, loaded.Providers)
}
