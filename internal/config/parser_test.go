package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workerspages/mail-backup/internal/models"
)

func TestParser_LoadReader_MinimalConfig(t *testing.T) {
	yaml := `
smtp:
  host: smtp.example.com
  username: backup@example.com
  password: secret
tasks:
  - name: photos
    source_path: /volumes/photos
    schedule: "0 4 * * *"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com", cfg.SMTP.Host)
	assert.Equal(t, "backup@example.com", cfg.SMTP.Username)
	assert.Equal(t, "secret", cfg.SMTP.Password)
	// Check defaults
	assert.Equal(t, 465, cfg.SMTP.Port)
	assert.Equal(t, 3, cfg.SMTP.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.SMTP.RetryDelay)
	assert.Equal(t, "mail-backup.db", cfg.History.Path)

	require.Len(t, cfg.Tasks, 1)
	task := cfg.Tasks[0]
	assert.Equal(t, "photos", task.ID)
	assert.Equal(t, "/volumes/photos", task.SourcePath)
	assert.Equal(t, models.DefaultChunkSizeBytes, task.ChunkSizeBytes)
	assert.Empty(t, task.Password)
	assert.Empty(t, task.Recipient)
}

func TestParser_LoadReader_FullConfig(t *testing.T) {
	yaml := `
smtp:
  host: smtp.example.com
  port: 587
  username: backup@example.com
  password: secret
  from: noreply@example.com
  max_retries: 5
  retry_delay: 10s

history:
  path: /data/history.db

tasks:
  - name: Family Photos
    source_path: /volumes/photos
    schedule: "0 4 * * *"
    password: "zip secret"
    recipient: me@example.com
    chunk_size_mb: 20
  - id: docs
    name: Documents
    source_path: /volumes/docs
    schedule: "30 2 * * 1"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, "noreply@example.com", cfg.SMTP.Sender())
	assert.Equal(t, 5, cfg.SMTP.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.SMTP.RetryDelay)
	assert.Equal(t, "/data/history.db", cfg.History.Path)

	require.Len(t, cfg.Tasks, 2)
	photos := cfg.Tasks[0]
	assert.Equal(t, "family-photos", photos.ID)
	assert.Equal(t, "zip secret", photos.Password)
	assert.Equal(t, "me@example.com", photos.Recipient)
	assert.Equal(t, int64(20<<20), photos.ChunkSizeBytes)

	docs := cfg.Tasks[1]
	assert.Equal(t, "docs", docs.ID)
	assert.Equal(t, models.DefaultChunkSizeBytes, docs.ChunkSizeBytes)
}

func TestParser_LoadReader_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_SMTP_PASSWORD", "from-env")

	yaml := `
smtp:
  host: smtp.example.com
  username: backup@example.com
  password: ${TEST_SMTP_PASSWORD}
tasks:
  - name: photos
    source_path: /volumes/photos
    schedule: "0 4 * * *"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.SMTP.Password)
}

func TestParser_LoadReader_Rejections(t *testing.T) {
	base := `
smtp:
  host: smtp.example.com
  username: backup@example.com
  password: secret
`
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing smtp host",
			yaml:    "smtp:\n  username: a\n  password: b\ntasks:\n  - name: t\n    source_path: /d\n    schedule: \"* * * * *\"\n",
			wantErr: "smtp.host is required",
		},
		{
			name:    "no tasks",
			yaml:    base,
			wantErr: "at least one task is required",
		},
		{
			name:    "invalid cron",
			yaml:    base + "tasks:\n  - name: t\n    source_path: /d\n    schedule: \"not a cron\"\n",
			wantErr: "invalid schedule",
		},
		{
			name:    "relative source path",
			yaml:    base + "tasks:\n  - name: t\n    source_path: relative/dir\n    schedule: \"0 4 * * *\"\n",
			wantErr: "must be absolute",
		},
		{
			name:    "chunk size over ceiling",
			yaml:    base + "tasks:\n  - name: t\n    source_path: /d\n    schedule: \"0 4 * * *\"\n    chunk_size_mb: 51\n",
			wantErr: "exceeds the 50 MiB ceiling",
		},
		{
			name:    "negative chunk size",
			yaml:    base + "tasks:\n  - name: t\n    source_path: /d\n    schedule: \"0 4 * * *\"\n    chunk_size_mb: -1\n",
			wantErr: "must be positive",
		},
		{
			name:    "duplicate task ids",
			yaml:    base + "tasks:\n  - name: t\n    source_path: /d\n    schedule: \"0 4 * * *\"\n  - name: t\n    source_path: /e\n    schedule: \"0 5 * * *\"\n",
			wantErr: "duplicate task id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := NewParser()
			_, err := parser.LoadReader(tt.yaml)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParser_LoadReader_MissingSourceDirIsNotALoadError(t *testing.T) {
	yaml := `
smtp:
  host: smtp.example.com
  username: backup@example.com
  password: secret
tasks:
  - name: photos
    source_path: /definitely/not/there
    schedule: "0 4 * * *"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	// Absence of the source directory is a run-time failure, not a
	// configuration-time one.
	require.NoError(t, err)
	assert.Equal(t, "/definitely/not/there", cfg.Tasks[0].SourcePath)
}

func validConfig() *models.AppConfig {
	return &models.AppConfig{
		SMTP: models.SMTPConfig{
			Host:     "smtp.example.com",
			Port:     465,
			Username: "backup@example.com",
			Password: "secret",
		},
		Tasks: []models.BackupTask{{
			ID:             "photos",
			Name:           "photos",
			SourcePath:     "/volumes/photos",
			Schedule:       "0 4 * * *",
			ChunkSizeBytes: models.DefaultChunkSizeBytes,
		}},
	}
}

func TestValidate_AcceptsLoadedConfig(t *testing.T) {
	yaml := `
smtp:
  host: smtp.example.com
  username: backup@example.com
  password: secret
tasks:
  - name: photos
    source_path: /volumes/photos
    schedule: "0 4 * * *"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)
	require.NoError(t, err)

	assert.NoError(t, Validate(cfg))
}

func TestValidate_EnforcesParserRulesOnHandBuiltConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *models.AppConfig)
		wantErr string
	}{
		{
			name:    "nil config",
			mutate:  nil,
			wantErr: "configuration is nil",
		},
		{
			name:    "missing password",
			mutate:  func(cfg *models.AppConfig) { cfg.SMTP.Password = "" },
			wantErr: "smtp.password is required",
		},
		{
			name:    "zero port",
			mutate:  func(cfg *models.AppConfig) { cfg.SMTP.Port = 0 },
			wantErr: "smtp.port must be positive",
		},
		{
			name:    "malformed schedule",
			mutate:  func(cfg *models.AppConfig) { cfg.Tasks[0].Schedule = "not a cron" },
			wantErr: "invalid schedule",
		},
		{
			name:    "chunk size over ceiling",
			mutate:  func(cfg *models.AppConfig) { cfg.Tasks[0].ChunkSizeBytes = 51 << 20 },
			wantErr: "exceeds the 50 MiB ceiling",
		},
		{
			name:    "zero chunk size",
			mutate:  func(cfg *models.AppConfig) { cfg.Tasks[0].ChunkSizeBytes = 0 },
			wantErr: "chunk size must be positive",
		},
		{
			name:    "relative source path",
			mutate:  func(cfg *models.AppConfig) { cfg.Tasks[0].SourcePath = "relative/dir" },
			wantErr: "must be absolute",
		},
		{
			name: "duplicate task ids",
			mutate: func(cfg *models.AppConfig) {
				cfg.Tasks = append(cfg.Tasks, cfg.Tasks[0])
			},
			wantErr: "duplicate task id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg *models.AppConfig
			if tt.mutate != nil {
				cfg = validConfig()
				tt.mutate(cfg)
			}
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "family-photos", Slugify("Family Photos"))
	assert.Equal(t, "docs", Slugify("docs"))
	assert.Equal(t, "a-b-c", Slugify("  A__B--C  "))
	assert.Equal(t, "db2", Slugify("DB2"))
}
