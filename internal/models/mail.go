package models

import "time"

// SMTPConfig holds the mail account used for chunk delivery. It is global
// configuration, resolved at send time, not per task.
type SMTPConfig struct {
	Host       string
	Port       int    // 465 uses implicit TLS
	Username   string
	Password   string
	From       string // defaults to Username
	MaxRetries int    // send attempts per chunk
	RetryDelay time.Duration
}

// Sender returns the from address for outgoing mail.
func (c SMTPConfig) Sender() string {
	if c.From != "" {
		return c.From
	}
	return c.Username
}

// DeliveryReport describes how far a chunk sequence got. DeliveredCount is
// always a strict prefix length: chunks after the first failure are never
// attempted.
type DeliveryReport struct {
	TotalCount     int
	DeliveredCount int
	FailedIndex    int // 0 when all chunks were delivered
	Duration       time.Duration
	Error          error
}
