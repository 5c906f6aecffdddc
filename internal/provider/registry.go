package provider

import (
	"context"
	"sort"
	"sync"

	"gitlab.com/tozd/go/errors"
	"go.uber.org/zap"

	"versfm/internal/domain"
)

// Spec describes one provider instance to build.
type Spec struct {
	ID      string
	Backend string
	Options Options
	Logger  *zap.Logger
}

// Factory builds a provider. It must validate the options and fail with
// ErrConfiguration before any listing is attempted.
type Factory func(ctx context.Context, spec Spec) (Provider, error)

// Registry maps backend tags to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// Register adds a factory for tag, replacing any previous one.
func (registry *Registry) Register(tag string, factory Factory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[tag] = factory
}

func (registry *Registry) Tags() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	tags := make([]string, 0, len(registry.factories))
	for tag := range registry.factories {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// New builds the provider instance id from the backend tag and options.
func (registry *Registry) New(ctx context.Context, tag, id string, options Options) (Provider, error) {
	registry.mu.RLock()
	factory, ok := registry.factories[tag]
	registry.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("provider %q: unknown backend %q: %w", id, tag, domain.ErrConfiguration)
	}
	if id == "" {
		return nil, errors.Errorf("backend %q: provider id is empty: %w", tag, domain.ErrConfiguration)
	}
	if options == nil {
		options = Options{}
	}

	built, err := factory(ctx, Spec{
		ID:      id,
		Backend: tag,
		Options: options,
		Logger:  registry.logger.With(zap.String("provider", id), zap.String("backend", tag)),
	})
	if err != nil {
		return nil, errors.Errorf("provider %q: %w", id, err)
	}
	registry.logger.Debug("provider ready", zap.String("provider", id), zap.String("backend", tag))
	return built, nil
}
