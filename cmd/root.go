package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gitlab.com/tozd/go/errors"

	"versfm/internal/app"
	"versfm/internal/config"
)

type rootOptions struct {
	viper      *viper.Viper
	legacy     *config.Legacy
	configPath string
	noSave     bool
}

// NewRootCmd returns the versfm command. Without a subcommand it opens the
// two-pane browser.
func NewRootCmd() (*cobra.Command, error) {
	opts := &rootOptions{viper: config.NewViper()}
	defaultPath, err := config.ConfigPath()
	if err != nil {
		defaultPath = ""
	}

	rootCmd := &cobra.Command{
		Use:           "versfm",
		Short:         "Dual-pane file manager for local disks and object stores",
		Long:          "versfm browses two providers side by side and moves, copies or deletes\nmarked entries between them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, warning, err := opts.load()
			if err != nil {
				return err
			}
			savePath := opts.configPath
			if opts.noSave {
				savePath = ""
			}
			return app.Run(cmd.Context(), app.Options{Config: cfg, ConfigPath: savePath, Warning: warning})
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", defaultPath, "Config file path")
	flags.BoolVar(&opts.noSave, "no-save", false, "Do not save pane locations on exit")
	opts.legacy, err = config.AddFlags(flags, opts.viper)
	if err != nil {
		return nil, err
	}

	rootCmd.AddCommand(newProvidersCmd(opts))
	return rootCmd, nil
}

// load reads the config file and applies flag and environment overrides. A
// broken file falls back to the defaults with a warning.
func (opts *rootOptions) load() (config.Config, string, error) {
	warning := ""
	cfg, err := config.Load(opts.viper, opts.configPath)
	if err != nil {
		warning = "Config warning: using defaults"
	}
	cfg, err = config.ApplyLegacy(cfg, *opts.legacy)
	if err != nil {
		return cfg, warning, err
	}
	if err := config.Validate(cfg); err != nil {
		return cfg, warning, err
	}
	return cfg, warning, nil
}

func newProvidersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured providers and available backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, warning, err := opts.load()
			if err != nil {
				return errors.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			if warning != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), warning)
			}
			fmt.Fprint(out, app.Describe(cfg))
			fmt.Fprintf(out, "backends: %s\n", strings.Join(app.NewRegistry(nil).Tags(), ", "))
			return nil
		},
	}
}
