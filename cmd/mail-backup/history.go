package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/workerspages/mail-backup/internal/config"
	"github.com/workerspages/mail-backup/internal/models"
	"github.com/workerspages/mail-backup/internal/store"
)

var (
	historyTaskName string
	historyLimit    int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent job runs",
	Long:  `Print recent job runs from the history database, newest first.`,
	RunE:  showHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyTaskName, "task", "", "only show runs of this task")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs to show")
}

func showHistory(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}

	taskID := ""
	if historyTaskName != "" {
		task := cfg.TaskByName(historyTaskName)
		if task == nil {
			return fmt.Errorf("no task named %q in %s", historyTaskName, configFile)
		}
		taskID = task.ID
	}

	history, err := store.Open(cfg.History.Path)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.History.Path).Msg("failed to open history store")
		return err
	}
	defer func() { _ = history.Close() }()

	runs, err := history.ListRuns(taskID, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	for _, run := range runs {
		printRun(run)
	}
	return nil
}

func printRun(run models.JobRun) {
	fmt.Printf("%s  %-16s  %s\n", run.StartedAt.Format("2006-01-02 15:04:05"), run.Status, run.TaskName)
	if run.ChunkCount > 0 {
		fmt.Printf("    archive %s in %d chunk(s), %d delivered\n",
			formatBytes(run.ArchiveSizeBytes), run.ChunkCount, run.DeliveredCount)
	}
	if !run.FinishedAt.IsZero() {
		fmt.Printf("    duration %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
	}
	if run.ErrorDetail != "" {
		fmt.Printf("    error: %s\n", run.ErrorDetail)
	}
	for _, warning := range run.Warnings {
		fmt.Printf("    warning: %s\n", warning)
	}
}

// formatBytes formats bytes into human-readable format.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
