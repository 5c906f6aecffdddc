package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gitlab.com/tozd/go/errors"

	"versfm/internal/domain"
)

const (
	configDirName  = "versfm"
	configFileName = "config.json"
	envPrefix      = "VERSFM"

	LocalProviderID = "local"
)

func DefaultConfig() Config {
	return Config{
		Providers: map[string]ProviderConfig{
			LocalProviderID: {Backend: "local", Options: map[string]string{"root": "/"}},
		},
		Left:        PaneConfig{Provider: LocalProviderID},
		Right:       PaneConfig{Provider: LocalProviderID},
		Concurrency: 4,
		Retry: RetryConfig{
			Attempts:    3,
			InitialWait: 100 * time.Millisecond,
			MaxWait:     5 * time.Second,
		},
		Theme: "dark",
		Log:   LogConfig{Level: "info", Format: "json"},
	}
}

func ConfigPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", errors.WithStack(err)
	}
	return filepath.Join(base, configDirName, configFileName), nil
}

// NewViper returns a viper instance with the defaults registered and
// VERSFM_* environment overrides enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultConfig()
	v.SetDefault("providers", map[string]any{
		LocalProviderID: map[string]any{"backend": "local", "options": map[string]any{"root": "/"}},
	})
	v.SetDefault("left.provider", defaults.Left.Provider)
	v.SetDefault("left.path", defaults.Left.Path)
	v.SetDefault("right.provider", defaults.Right.Provider)
	v.SetDefault("right.path", defaults.Right.Path)
	v.SetDefault("concurrency", defaults.Concurrency)
	v.SetDefault("retry.attempts", defaults.Retry.Attempts)
	v.SetDefault("retry.initialWait", defaults.Retry.InitialWait)
	v.SetDefault("retry.maxWait", defaults.Retry.MaxWait)
	v.SetDefault("showHidden", defaults.ShowHidden)
	v.SetDefault("theme", defaults.Theme)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("log.file", defaults.Log.File)
	v.SetDefault("metricsAddr", "")
	return v
}

// Load reads path into v and decodes the result. A missing file is not an
// error; the defaults apply.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return DefaultConfig(), errors.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return DefaultConfig(), errors.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WithStack(err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(path, data, 0o600))
}

// Validate checks the references between panes and providers.
func Validate(cfg Config) error {
	if len(cfg.Providers) == 0 {
		return errors.Errorf("no providers configured: %w", domain.ErrConfiguration)
	}
	for _, id := range ProviderIDs(cfg) {
		if cfg.Providers[id].Backend == "" {
			return errors.Errorf("provider %q has no backend: %w", id, domain.ErrConfiguration)
		}
	}
	for name, pane := range map[string]PaneConfig{"left": cfg.Left, "right": cfg.Right} {
		if _, ok := cfg.Providers[pane.Provider]; !ok {
			return errors.Errorf("%s pane uses unknown provider %q: %w", name, pane.Provider, domain.ErrConfiguration)
		}
	}
	if cfg.Concurrency < 1 {
		return errors.Errorf("concurrency must be positive, got %d: %w", cfg.Concurrency, domain.ErrConfiguration)
	}
	return nil
}

// ProviderIDs returns the configured provider ids in sorted order.
func ProviderIDs(cfg Config) []string {
	ids := make([]string, 0, len(cfg.Providers))
	for id := range cfg.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
