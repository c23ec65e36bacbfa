package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/conductor/internal/config"
	"github.com/alekspetrov/conductor/internal/daemons"
	"github.com/alekspetrov/conductor/internal/github"
	"github.com/alekspetrov/conductor/internal/logging"
	"github.com/alekspetrov/conductor/internal/requests"
	"github.com/alekspetrov/conductor/internal/scheduler"
	"github.com/alekspetrov/conductor/internal/shell"
	"github.com/alekspetrov/conductor/internal/talk"
)

// pulseRetention is how long heartbeats are kept.
const pulseRetention = 7 * 24 * time.Hour

func newStartCmd(load loader) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the scheduler until interrupted",
		Long: `Run the scheduler. Every interval it reads new GitHub mentions,
advances the most recent active talks and archives the finished ones.

Examples:
  conductor start
  conductor start --once
  conductor start -c /etc/conductor/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			store, err := talk.Open(cfg.Storage.Driver, cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			routine, pulse, err := buildRoutine(cfg, store)
			if err != nil {
				return err
			}
			if n, err := pulse.Prune(ctx, time.Now().Add(-pulseRetention)); err != nil {
				logging.Warn("failed to prune heartbeats", "error", err)
			} else if n > 0 {
				logging.Info("old heartbeats pruned", "count", n)
			}

			if once {
				tick, err := routine.Tick(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d talks in %s\n", tick.Total, tick.Duration.Round(time.Millisecond))
				return err
			}

			sched := scheduler.NewScheduler(routine, cfg.Scheduler.Interval, logging.WithComponent("scheduler"))
			if err := sched.Start(ctx); err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logging.Info("shutting down, waiting for the current tick")
			sched.Stop()
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single tick and exit")
	return cmd
}

// buildRoutine wires the production agents to the store.
func buildRoutine(cfg *config.Config, store *talk.Store) (*scheduler.Routine, *scheduler.Pulse, error) {
	pulse, err := scheduler.NewPulse(store.DB())
	if err != nil {
		return nil, nil, err
	}
	key, err := cfg.SSHKey()
	if err != nil {
		return nil, nil, err
	}

	client := github.NewClientWithBaseURL(cfg.GitHub.Token, cfg.GitHub.APIURL)
	dopts := daemons.DefaultOptions()
	dopts.Shells = shell.SSHFactory(cfg.SSH.KnownHosts)
	dopts.Keyring = daemons.Keyring{Pubring: cfg.Keyring.Pubring, Secring: cfg.Keyring.Secring}
	dopts.Version = version

	ropts := requests.DefaultOptions()
	if cfg.Docker != nil {
		if cfg.Docker.Image != "" {
			ropts.Image = cfg.Docker.Image
		}
		if cfg.Docker.WorkDir != "" {
			ropts.WorkDir = cfg.Docker.WorkDir
		}
	}

	catalog := &scheduler.Agents{
		API:  client,
		Self: cfg.GitHub.Login,
		Host: scheduler.Host{
			Address: cfg.SSH.Host,
			Port:    cfg.SSH.Port,
			Login:   cfg.SSH.Login,
			Key:     key,
		},
		Daemons:  dopts,
		Requests: ropts,
	}
	routine := scheduler.NewRoutine(store, catalog, catalog.Starters(), catalog.Closers(), pulse, scheduler.Options{
		MaxTalks: cfg.Scheduler.MaxTalks,
		Isolate:  cfg.Scheduler.Isolate,
		Parallel: cfg.Scheduler.Parallel,
	})
	return routine, pulse, nil
}
