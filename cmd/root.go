package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/revscore/internal/config"
	"github.com/okian/revscore/pkg/logger"
)

// newRootCmd is the command-line entrypoint for all other commands.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "revscore",
		Short:         "Score wiki revisions with an edit-quality model.",
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "",
		"YAML config file (defaults to $"+config.EnvConfigPath+")")

	load := func(cmd *cobra.Command) (*config.Config, error) {
		return setup(cmd.Context(), cmd, configPath)
	}
	root.AddCommand(newServeCmd(load), newScoreCmd(load), newBenchCmd(load))
	return root
}

type loadFunc func(cmd *cobra.Command) (*config.Config, error)

// setup loads the configuration and initializes logging from it.
func setup(ctx context.Context, cmd *cobra.Command, path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(ctx, path)
	} else {
		cfg, err = config.Load(ctx)
	}
	if err != nil {
		return nil, err
	}

	if err := logger.InitWith(cmd.ErrOrStderr(), logger.Format(cfg.LogFormat)); err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}
	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, nil
}
