package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/workerspages/mail-backup/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without executing any backup operations.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	// Load configuration
	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("SMTP:")
	fmt.Printf("  Host: %s\n", cfg.SMTP.Host)
	fmt.Printf("  Port: %d\n", cfg.SMTP.Port)
	fmt.Printf("  Account: %s\n", cfg.SMTP.Username)
	fmt.Printf("  From: %s\n", cfg.SMTP.Sender())
	fmt.Printf("  Max retries per chunk: %d\n", cfg.SMTP.MaxRetries)
	fmt.Println()
	fmt.Println("History:")
	fmt.Printf("  Database: %s\n", cfg.History.Path)
	fmt.Println()
	fmt.Printf("Tasks (%d):\n", len(cfg.Tasks))

	for _, task := range cfg.Tasks {
		fmt.Println()
		fmt.Printf("  %s (id: %s)\n", task.Name, task.ID)
		fmt.Printf("    Source: %s\n", task.SourcePath)
		fmt.Printf("    Schedule: %s\n", task.Schedule)
		fmt.Printf("    Chunk size: %d MiB\n", task.ChunkSizeBytes>>20)
		fmt.Printf("    Encrypted: %v\n", task.Password != "")
		if task.Recipient != "" {
			fmt.Printf("    Recipient: %s\n", task.Recipient)
		} else {
			fmt.Printf("    Recipient: %s (default)\n", cfg.SMTP.Sender())
		}
	}

	return nil
}
