package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blockedby/tgsaver/internal/config"
	"github.com/blockedby/tgsaver/internal/logger"
)

type rootOptions struct {
	configFile string
	logLevel   string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "tgsaver",
		Short:         "Bulk downloader and exporter for telegram channels",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "yaml config file (overrides CONFIG_FILE)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	cmd.AddCommand(
		newWatchCmd(opts),
		newDownloadCmd(opts),
		newExportCmd(opts, "export", "html"),
		newExportCmd(opts, "export-json", "json"),
		newStatsCmd(opts),
		newHistoryCmd(opts),
		newServeCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

// load reads the config and sets up the global logger.
func (o *rootOptions) load() error {
	if o.configFile != "" {
		if err := os.Setenv("CONFIG_FILE", o.configFile); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, JSON: cfg.LogFormat == "json"}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	o.cfg = cfg
	return nil
}
