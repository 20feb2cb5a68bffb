package models

// AppConfig holds the complete configuration for the mail-backup daemon.
type AppConfig struct {
	SMTP    SMTPConfig
	History HistorySettings
	Tasks   []BackupTask
}

// HistorySettings configures the job run history store.
type HistorySettings struct {
	Path string // SQLite database file
}

// TaskByName returns the task with the given name, or nil.
func (c *AppConfig) TaskByName(name string) *BackupTask {
	for i := range c.Tasks {
		if c.Tasks[i].Name == name {
			return &c.Tasks[i]
		}
	}
	return nil
}
