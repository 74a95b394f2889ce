// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Mail       MailConfig       `mapstructure:"mail"`
	Links      LinksConfig      `mapstructure:"links"`
	Sender     SenderConfig     `mapstructure:"sender"`
	Submission SubmissionConfig `mapstructure:"submission"`
	Watcher    WatcherConfig    `mapstructure:"watcher"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Documents  DocumentsConfig  `mapstructure:"documents"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Address         string `mapstructure:"address"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // seconds
	WriteTimeout    int    `mapstructure:"write_timeout"`    // seconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // seconds
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Mail Config ---
type MailConfig struct {
	From         string     `mapstructure:"from"`
	AWSRegion    string     `mapstructure:"aws_region"`
	BounceSender string     `mapstructure:"bounce_sender"`
	IMAP         IMAPConfig `mapstructure:"imap"`
}

type IMAPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Mailbox  string `mapstructure:"mailbox"`
}

// GetAddress returns the host:port dial target for the IMAP server.
func (i IMAPConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

// LinksConfig controls submission link generation and expiry.
type LinksConfig struct {
	BaseURL string `mapstructure:"base_url"`
	TTLDays int    `mapstructure:"ttl_days"`
}

// SenderConfig controls outbound send pacing and retry behavior.
type SenderConfig struct {
	InterSendDelay int `mapstructure:"inter_send_delay"` // seconds between vendors in a batch
	SendTimeout    int `mapstructure:"send_timeout"`     // seconds per SES attempt
	SendRetries    int `mapstructure:"send_retries"`
	SendRetryDelay int `mapstructure:"send_retry_delay"` // milliseconds
	StoreRetries   int `mapstructure:"store_retries"`
	StoreDelay     int `mapstructure:"store_delay"` // milliseconds
}

// SubmissionConfig controls the submission handler's store retry loop.
type SubmissionConfig struct {
	StoreRetries int `mapstructure:"store_retries"`
	StoreDelay   int `mapstructure:"store_delay"` // milliseconds
}

// WatcherConfig controls the inbox watcher's reconnect behavior.
type WatcherConfig struct {
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts"`
	BackoffCap           int `mapstructure:"backoff_cap"` // seconds
}

type AlertsConfig struct {
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
}

type DocumentsConfig struct {
	Dir          string   `mapstructure:"dir"`
	MaxUploadMB  int      `mapstructure:"max_upload_mb"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
