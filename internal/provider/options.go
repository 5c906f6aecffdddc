package provider

import (
	"strconv"
	"strings"

	"gitlab.com/tozd/go/errors"

	"versfm/internal/domain"
)

// Options are the named configuration values a backend is built from.
type Options map[string]string

// Require returns the value for key or a configuration error.
func (options Options) Require(key string) (string, error) {
	value := strings.TrimSpace(options[key])
	if value == "" {
		return "", errors.Errorf("option %q is required: %w", key, domain.ErrConfiguration)
	}
	return value, nil
}

func (options Options) String(key, fallback string) string {
	value := strings.TrimSpace(options[key])
	if value == "" {
		return fallback
	}
	return value
}

func (options Options) Bool(key string, fallback bool) (bool, error) {
	value := strings.TrimSpace(options[key])
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, errors.Errorf("option %q: %q is not a boolean: %w", key, value, domain.ErrConfiguration)
	}
	return parsed, nil
}

func (options Options) Int64(key string, fallback int64) (int64, error) {
	value := strings.TrimSpace(options[key])
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, errors.Errorf("option %q: %q is not an integer: %w", key, value, domain.ErrConfiguration)
	}
	return parsed, nil
}

// Clone returns a copy that can be modified without touching options.
func (options Options) Clone() Options {
	cloned := make(Options, len(options))
	for key, value := range options {
		cloned[key] = value
	}
	return cloned
}
