package config

import "time"

// ProviderConfig names a backend tag and the options its constructor takes.
type ProviderConfig struct {
	Backend string            `json:"backend" mapstructure:"backend"`
	Options map[string]string `json:"options,omitempty" mapstructure:"options"`
}

type PaneConfig struct {
	Provider string `json:"provider" mapstructure:"provider"`
	// Path is where the pane opens. Empty means the working directory for
	// local providers and the root otherwise.
	Path string `json:"path" mapstructure:"path"`
}

type RetryConfig struct {
	Attempts    int           `json:"attempts" mapstructure:"attempts"`
	InitialWait time.Duration `json:"initialWait" mapstructure:"initialWait"`
	MaxWait     time.Duration `json:"maxWait" mapstructure:"maxWait"`
}

type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
	File   string `json:"file" mapstructure:"file"`
}

type Config struct {
	Providers      map[string]ProviderConfig `json:"providers" mapstructure:"providers"`
	Left           PaneConfig                `json:"left" mapstructure:"left"`
	Right          PaneConfig                `json:"right" mapstructure:"right"`
	Concurrency    int                       `json:"concurrency" mapstructure:"concurrency"`
	ProviderLimits map[string]int            `json:"providerLimits,omitempty" mapstructure:"providerLimits"`
	Retry          RetryConfig               `json:"retry" mapstructure:"retry"`
	ShowHidden     bool                      `json:"showHidden" mapstructure:"showHidden"`
	Theme          string                    `json:"theme" mapstructure:"theme"`
	Log            LogConfig                 `json:"log" mapstructure:"log"`
	MetricsAddr    string                    `json:"metricsAddr,omitempty" mapstructure:"metricsAddr"`
}
