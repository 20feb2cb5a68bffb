// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"github.com/workerspages/mail-backup/internal/models"
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.AppConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.AppConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// rawTask mirrors one entry of the tasks list in the config file.
type rawTask struct {
	ID          string `mapstructure:"id"`
	Name        string `mapstructure:"name"`
	SourcePath  string `mapstructure:"source_path"`
	Schedule    string `mapstructure:"schedule"`
	Password    string `mapstructure:"password"`
	Recipient   string `mapstructure:"recipient"`
	ChunkSizeMB int64  `mapstructure:"chunk_size_mb"`
}

func (p *Parser) parse() (*models.AppConfig, error) {
	cfg := &models.AppConfig{}

	// Parse SMTP config (required).
	cfg.SMTP = models.SMTPConfig{
		Host:       p.v.GetString("smtp.host"),
		Port:       p.v.GetInt("smtp.port"),
		Username:   p.expandEnv(p.v.GetString("smtp.username")),
		Password:   p.expandEnv(p.v.GetString("smtp.password")),
		From:       p.expandEnv(p.v.GetString("smtp.from")),
		MaxRetries: p.v.GetInt("smtp.max_retries"),
		RetryDelay: p.v.GetDuration("smtp.retry_delay"),
	}

	if cfg.SMTP.Host == "" {
		return nil, fmt.Errorf("smtp.host is required")
	}
	if cfg.SMTP.Username == "" {
		return nil, fmt.Errorf("smtp.username is required")
	}
	if cfg.SMTP.Password == "" {
		return nil, fmt.Errorf("smtp.password is required")
	}

	// Set defaults.
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 465
	}
	if cfg.SMTP.MaxRetries == 0 {
		cfg.SMTP.MaxRetries = 3
	}
	if cfg.SMTP.RetryDelay == 0 {
		cfg.SMTP.RetryDelay = 5 * time.Second
	}

	// Parse history settings.
	cfg.History = models.HistorySettings{
		Path: p.expandEnv(p.v.GetString("history.path")),
	}
	if cfg.History.Path == "" {
		cfg.History.Path = "mail-backup.db"
	}

	// Parse tasks (at least one required).
	var raws []rawTask
	if err := p.v.UnmarshalKey("tasks", &raws); err != nil {
		return nil, fmt.Errorf("parsing tasks: %w", err)
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("at least one task is required")
	}

	seen := make(map[string]bool, len(raws))
	for i, raw := range raws {
		task, err := p.parseTask(raw)
		if err != nil {
			return nil, fmt.Errorf("tasks[%d]: %w", i, err)
		}
		if seen[task.ID] {
			return nil, fmt.Errorf("tasks[%d]: duplicate task id %q", i, task.ID)
		}
		seen[task.ID] = true
		cfg.Tasks = append(cfg.Tasks, *task)
	}

	return cfg, nil
}

func (p *Parser) parseTask(raw rawTask) (*models.BackupTask, error) {
	task := &models.BackupTask{
		ID:         raw.ID,
		Name:       raw.Name,
		SourcePath: p.expandEnv(raw.SourcePath),
		Schedule:   raw.Schedule,
		Password:   p.expandEnv(raw.Password),
		Recipient:  raw.Recipient,
	}

	if task.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if task.ID == "" {
		task.ID = Slugify(task.Name)
	}
	if task.SourcePath == "" {
		return nil, fmt.Errorf("source_path is required")
	}
	if !filepath.IsAbs(task.SourcePath) {
		return nil, fmt.Errorf("source_path must be absolute, got %q", task.SourcePath)
	}
	if task.Schedule == "" {
		return nil, fmt.Errorf("schedule is required")
	}

	// Reject malformed schedules at load time rather than at first firing.
	if _, err := cron.ParseStandard(task.Schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", task.Schedule, err)
	}

	// source_path existence is deliberately not checked here: the path may
	// appear or disappear between config load and firing, so absence is a
	// run-time failure.

	switch {
	case raw.ChunkSizeMB == 0:
		task.ChunkSizeBytes = models.DefaultChunkSizeBytes
	case raw.ChunkSizeMB < 0:
		return nil, fmt.Errorf("chunk_size_mb must be positive, got %d", raw.ChunkSizeMB)
	default:
		task.ChunkSizeBytes = raw.ChunkSizeMB << 20
		if task.ChunkSizeBytes > models.MaxChunkSizeBytes {
			return nil, fmt.Errorf("chunk_size_mb %d exceeds the %d MiB ceiling",
				raw.ChunkSizeMB, models.MaxChunkSizeBytes>>20)
		}
	}

	return task, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Slugify converts a task name into a stable identifier: lowercase, with
// runs of other characters collapsed to single dashes.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Validate checks an already built configuration against the same rules
// the parser enforces, so a config assembled in code cannot bypass them.
func Validate(cfg *models.AppConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if cfg.SMTP.Host == "" {
		return fmt.Errorf("smtp.host is required")
	}
	if cfg.SMTP.Port <= 0 {
		return fmt.Errorf("smtp.port must be positive, got %d", cfg.SMTP.Port)
	}
	if cfg.SMTP.Username == "" {
		return fmt.Errorf("smtp.username is required")
	}
	if cfg.SMTP.Password == "" {
		return fmt.Errorf("smtp.password is required")
	}
	if len(cfg.Tasks) == 0 {
		return fmt.Errorf("at least one task is required")
	}

	seen := make(map[string]bool, len(cfg.Tasks))
	for i, task := range cfg.Tasks {
		if err := validateTask(task); err != nil {
			return fmt.Errorf("tasks[%d]: %w", i, err)
		}
		if seen[task.ID] {
			return fmt.Errorf("tasks[%d]: duplicate task id %q", i, task.ID)
		}
		seen[task.ID] = true
	}
	return nil
}

func validateTask(task models.BackupTask) error {
	if task.ID == "" {
		return fmt.Errorf("id is required")
	}
	if task.Name == "" {
		return fmt.Errorf("name is required")
	}
	if task.SourcePath == "" {
		return fmt.Errorf("source_path is required")
	}
	if !filepath.IsAbs(task.SourcePath) {
		return fmt.Errorf("source_path must be absolute, got %q", task.SourcePath)
	}
	if task.Schedule == "" {
		return fmt.Errorf("schedule is required")
	}
	if _, err := cron.ParseStandard(task.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", task.Schedule, err)
	}
	if task.ChunkSizeBytes <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", task.ChunkSizeBytes)
	}
	if task.ChunkSizeBytes > models.MaxChunkSizeBytes {
		return fmt.Errorf("chunk size %d exceeds the %d MiB ceiling",
			task.ChunkSizeBytes, models.MaxChunkSizeBytes>>20)
	}
	return nil
}
