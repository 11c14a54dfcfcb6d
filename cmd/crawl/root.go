package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/timmy/mpcrawl/internal/config"
	"github.com/timmy/mpcrawl/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "crawl",
		Short:         "Crawl articles published by content accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ./configs/config.yaml or ./config.yaml)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newRunCommand(opts),
		newArticlesCommand(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "mpcrawl version %s\n", version)
			},
		},
	)
	return cmd
}

// setup loads configuration and installs the process logger.
func (o *rootOptions) setup() (*config.Config, *logger.Logger, error) {
	envCfg := logger.LoadFromEnv()
	envCfg.Format = "text"
	if o.debug {
		envCfg.Level = "debug"
	}
	log := logger.NewFromEnv(envCfg)
	logger.SetDefaultLogger(log)

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
