package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/conductor/internal/config"
	"github.com/alekspetrov/conductor/internal/logging"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "conductor",
		Short: "Build orchestrator driven by GitHub mentions",
		Long: `Conductor watches GitHub for mentions, turns them into build requests
and supervises the builds it starts in Docker on a remote host until they finish.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "path to config file")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if err := logging.Init(cfg.Logging); err != nil {
			return nil, fmt.Errorf("failed to initialize logging: %w", err)
		}
		return cfg, nil
	}

	rootCmd.AddCommand(
		newStartCmd(load),
		newTalksCmd(load),
		newTalkCmd(load),
		newTicksCmd(load),
		newVersionCmd(),
	)
	return rootCmd
}

// loader reads the configuration named by the --config flag.
type loader func() (*config.Config, error)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show conductor version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "conductor v%s\n", version)
		},
	}
}
