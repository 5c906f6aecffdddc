// Package app wires configuration, providers and the transfer engine into
// the terminal program.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gitlab.com/tozd/go/errors"
	"go.uber.org/zap"

	"versfm/internal/config"
	"versfm/internal/executor"
	"versfm/internal/logging"
	"versfm/internal/metrics"
	"versfm/internal/planner"
	"versfm/internal/provider"
	"versfm/internal/provider/local"
	"versfm/internal/provider/minio"
	"versfm/internal/provider/s3"
	"versfm/internal/retry"
	"versfm/internal/services"
	"versfm/internal/state"
	"versfm/internal/ui"
)

type Options struct {
	Config config.Config
	// ConfigPath is where the pane locations are saved on exit. Empty
	// disables saving.
	ConfigPath string
	// Warning is shown in the status line at startup.
	Warning string
}

// Runtime is everything a session needs, built from one configuration.
type Runtime struct {
	Logger    *zap.Logger
	Providers *provider.Set
	State     *state.State
	Engine    *services.Engine
	Session   *services.Session
}

// NewRegistry returns a registry with every built-in backend.
func NewRegistry(logger *zap.Logger) *provider.Registry {
	registry := provider.NewRegistry(logger)
	registry.Register(local.BackendLocal, local.Factory)
	registry.Register(local.BackendMemory, local.MemoryFactory)
	registry.Register(s3.Backend, s3.Factory)
	registry.Register(minio.Backend, minio.Factory)
	return registry
}

// Build creates the providers named in cfg and the session over them. Both
// panes are listed before it returns.
func Build(ctx context.Context, cfg config.Config, registry *provider.Registry, logger *zap.Logger) (*Runtime, error) {
	logger = logging.OrNop(logger)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	set, err := provider.NewSet()
	if err != nil {
		return nil, err
	}
	for _, id := range config.ProviderIDs(cfg) {
		providerCfg := cfg.Providers[id]
		built, err := registry.New(ctx, providerCfg.Backend, id, provider.Options(providerCfg.Options))
		if err != nil {
			return nil, err
		}
		if err := set.Add(built); err != nil {
			return nil, err
		}
	}

	executorCfg := executor.DefaultConfig()
	executorCfg.Concurrency = cfg.Concurrency
	executorCfg.ProviderLimits = cfg.ProviderLimits
	executorCfg.Retry = retryConfig(cfg.Retry)

	engine := services.NewEngine(
		planner.New(set, logger.Named("planner")),
		executor.New(set, executorCfg, logger.Named("executor")),
		logger.Named("engine"),
	)
	appState := state.New(set,
		paneRef(cfg, cfg.Left),
		paneRef(cfg, cfg.Right),
		state.Preferences{ShowHidden: cfg.ShowHidden, Theme: cfg.Theme},
	)
	appState.Load(ctx)

	return &Runtime{
		Logger:    logger,
		Providers: set,
		State:     appState,
		Engine:    engine,
		Session:   services.NewSession(appState, engine, logger.Named("session")),
	}, nil
}

func retryConfig(cfg config.RetryConfig) retry.Config {
	out := retry.DefaultConfig()
	if cfg.Attempts > 0 {
		out.MaxAttempts = cfg.Attempts
	}
	if cfg.InitialWait > 0 {
		out.InitialWait = cfg.InitialWait
	}
	if cfg.MaxWait > 0 {
		out.MaxWait = cfg.MaxWait
	}
	return out
}

// paneRef resolves the starting directory of a pane. An empty path opens
// the working directory on a local provider rooted at "/" and the root
// everywhere else.
func paneRef(cfg config.Config, pane config.PaneConfig) planner.PaneRef {
	ref := planner.PaneRef{ProviderID: pane.Provider, Path: pane.Path}
	if ref.Path != "" {
		return ref
	}
	ref.Path = "/"
	providerCfg := cfg.Providers[pane.Provider]
	if providerCfg.Backend != local.BackendLocal {
		return ref
	}
	root := providerCfg.Options["root"]
	if root != "" && root != "/" {
		return ref
	}
	if cwd, err := os.Getwd(); err == nil {
		ref.Path = filepath.ToSlash(cwd)
	}
	return ref
}

// Run builds the runtime and blocks until the user quits.
func Run(ctx context.Context, options Options) error {
	cfg := options.Config
	logger, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.File,
	})
	if err != nil {
		return errors.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	runtime, err := Build(ctx, cfg, NewRegistry(logger), logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	logger.Info("versfm started",
		zap.Strings("providers", runtime.Providers.IDs()),
		zap.String("left", cfg.Left.Provider),
		zap.String("right", cfg.Right.Provider),
	)

	if cfg.MetricsAddr != "" {
		server := serveMetrics(cfg.MetricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	model := ui.NewModel(runtime.Session, runtime.Engine, runtime.Providers)
	model = model.WithStatus(options.Warning)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	finalModel, err := program.Run()
	if err != nil && ctx.Err() == nil {
		return errors.Errorf("terminal: %w", err)
	}

	if options.ConfigPath == "" {
		return nil
	}
	if snapshotter, ok := finalModel.(ui.ConfigProvider); ok {
		if err := config.Save(snapshotter.ConfigSnapshot(cfg), options.ConfigPath); err != nil {
			logger.Warn("config not saved", zap.String("path", options.ConfigPath), zap.Error(err))
			return errors.Errorf("save config: %w", err)
		}
	}
	return nil
}

func serveMetrics(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return server
}

// Describe renders the configured providers for the providers command.
func Describe(cfg config.Config) string {
	var builder strings.Builder
	for _, id := range config.ProviderIDs(cfg) {
		providerCfg := cfg.Providers[id]
		fmt.Fprintf(&builder, "%s\t%s", id, providerCfg.Backend)
		keys := make([]string, 0, len(providerCfg.Options))
		for key := range providerCfg.Options {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value := providerCfg.Options[key]
			if strings.Contains(key, "secret") {
				value = "****"
			}
			fmt.Fprintf(&builder, "\t%s=%s", key, value)
		}
		builder.WriteString("\n")
	}
	return builder.String()
}
