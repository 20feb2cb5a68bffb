package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/workerspages/mail-backup/internal/config"
	"github.com/workerspages/mail-backup/internal/scheduler"
	"github.com/workerspages/mail-backup/internal/services/runner"
	"github.com/workerspages/mail-backup/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backup scheduler daemon",
	Long: `Run the backup scheduler daemon:
1. Load and validate the configuration
2. Open the job run history database
3. Register every task with the cron scheduler
4. Fire tasks on their schedules until interrupted`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Load configuration
	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}

	log.Info().
		Str("config", configFile).
		Str("smtp_host", cfg.SMTP.Host).
		Int("tasks", len(cfg.Tasks)).
		Msg("configuration loaded")

	// Open run history
	history, err := store.Open(cfg.History.Path)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.History.Path).Msg("failed to open history store")
		return err
	}
	defer func() { _ = history.Close() }()

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	// Register tasks and start firing
	runnerSvc := runner.New(log.Logger, cfg.SMTP, history)
	sched := scheduler.New(log.Logger, runnerSvc)
	for _, task := range cfg.Tasks {
		if err := sched.Register(task); err != nil {
			log.Error().Err(err).Str("task", task.Name).Msg("failed to schedule task")
			return err
		}
	}

	sched.Start(ctx)
	<-ctx.Done()
	sched.Stop()

	log.Info().Msg("daemon stopped")
	return nil
}
