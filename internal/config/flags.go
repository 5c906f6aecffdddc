package config

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gitlab.com/tozd/go/errors"

	"versfm/internal/domain"
)

// Legacy holds the pane shortcut flags: a pane is either "fs" (the local
// filesystem) or "s3" (one bucket).
type Legacy struct {
	LeftPane   string
	RightPane  string
	AWSRegion  string
	BucketName string
}

var boundFlags = map[string]string{
	"left-provider":  "left.provider",
	"left-path":      "left.path",
	"right-provider": "right.provider",
	"right-path":     "right.path",
	"concurrency":    "concurrency",
	"show-hidden":    "showHidden",
	"theme":          "theme",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"log-file":       "log.file",
	"metrics-addr":   "metricsAddr",
}

// AddFlags registers the configuration flags on flags and binds them into
// v. Values read from the returned Legacy are applied with ApplyLegacy.
func AddFlags(flags *pflag.FlagSet, v *viper.Viper) (*Legacy, error) {
	defaults := DefaultConfig()
	flags.String("left-provider", defaults.Left.Provider, "Provider id shown in the left pane")
	flags.String("left-path", defaults.Left.Path, "Initial path of the left pane")
	flags.String("right-provider", defaults.Right.Provider, "Provider id shown in the right pane")
	flags.String("right-path", defaults.Right.Path, "Initial path of the right pane")
	flags.Int("concurrency", defaults.Concurrency, "Tasks run at once")
	flags.Bool("show-hidden", defaults.ShowHidden, "Show hidden files")
	flags.String("theme", defaults.Theme, "Color theme (dark or light)")
	flags.String("log-level", defaults.Log.Level, "Log level")
	flags.String("log-format", defaults.Log.Format, "Log format (json or console)")
	flags.String("log-file", defaults.Log.File, "Log file (default is in the user cache dir)")
	flags.String("metrics-addr", "", "Serve prometheus metrics on this address")

	legacy := &Legacy{}
	flags.StringVar(&legacy.LeftPane, "left-pane", "", "Left pane backend: fs or s3")
	flags.StringVar(&legacy.RightPane, "right-pane", "", "Right pane backend: fs or s3")
	flags.StringVar(&legacy.AWSRegion, "aws-region", "", "AWS region for s3 panes")
	flags.StringVar(&legacy.BucketName, "s3-bucket-name", "", "Bucket for s3 panes")

	for name, key := range boundFlags {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, errors.Errorf("bind flag %s: %w", name, err)
		}
	}
	return legacy, nil
}

// ApplyLegacy turns the pane shortcut flags into provider entries.
func ApplyLegacy(cfg Config, legacy Legacy) (Config, error) {
	for _, pane := range []struct {
		tag    string
		target *PaneConfig
	}{
		{legacy.LeftPane, &cfg.Left},
		{legacy.RightPane, &cfg.Right},
	} {
		switch pane.tag {
		case "":
			continue
		case "fs":
			if _, ok := cfg.Providers[LocalProviderID]; !ok {
				cfg.Providers = withProvider(cfg.Providers, LocalProviderID, ProviderConfig{
					Backend: "local",
					Options: map[string]string{"root": "/"},
				})
			}
			*pane.target = PaneConfig{Provider: LocalProviderID}
		case "s3":
			if legacy.BucketName == "" {
				return cfg, errors.Errorf("--s3-bucket-name is required for an s3 pane: %w", domain.ErrConfiguration)
			}
			options := map[string]string{"bucket": legacy.BucketName}
			if legacy.AWSRegion != "" {
				options["region"] = legacy.AWSRegion
			}
			cfg.Providers = withProvider(cfg.Providers, legacy.BucketName, ProviderConfig{Backend: "s3", Options: options})
			*pane.target = PaneConfig{Provider: legacy.BucketName, Path: "/"}
		default:
			return cfg, errors.Errorf("unknown pane backend %q, want fs or s3: %w", pane.tag, domain.ErrConfiguration)
		}
	}
	return cfg, nil
}

func withProvider(providers map[string]ProviderConfig, id string, provider ProviderConfig) map[string]ProviderConfig {
	merged := make(map[string]ProviderConfig, len(providers)+1)
	for key, value := range providers {
		merged[key] = value
	}
	merged[id] = provider
	return merged
}
