package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/workerspages/mail-backup/internal/config"
	"github.com/workerspages/mail-backup/internal/services/runner"
	"github.com/workerspages/mail-backup/internal/store"
)

var runTaskName string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one backup task immediately",
	Long: `Execute a single named task through the full pipeline right now,
outside its schedule: archive, split, restore kit, ordered email
delivery. The run is recorded in the history database like any
scheduled firing.`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVar(&runTaskName, "task", "", "name of the task to run (required)")
}

func runOnce(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}
	if runTaskName == "" {
		log.Error().Msg("--task is required")
		return cmd.Help()
	}

	// Load configuration
	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}

	task := cfg.TaskByName(runTaskName)
	if task == nil {
		err := fmt.Errorf("no task named %q in %s", runTaskName, configFile)
		log.Error().Err(err).Msg("unknown task")
		return err
	}

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

	// Run the pipeline
	runnerSvc := runner.New(log.Logger, cfg.SMTP, history)
	run, err := runnerSvc.Trigger(ctx, *task)
	if err != nil {
		log.Error().Err(err).Msg("backup failed")
		return err
	}

	log.Info().
		Str("status", string(run.Status)).
		Int("chunks", run.ChunkCount).
		Int("delivered", run.DeliveredCount).
		Msg("backup completed successfully")
	return nil
}
