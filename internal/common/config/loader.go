// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like MAIL_IMAP_PASSWORD
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay, ignored when absent
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig()

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Load .env from multiple possible locations so the binary and tests can
// run from any directory.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				fmt.Printf("Loaded .env from: %s\n", path)
				return
			}
		}
	}

	fmt.Printf(".env file not found in any location, using system environment variables\n")
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// Direct override if config values are still empty after expansion
func overrideEmptyConfig(cfg *Config) {
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}

	if cfg.Mail.IMAP.Username == "" {
		if val := os.Getenv("IMAP_USERNAME"); val != "" {
			cfg.Mail.IMAP.Username = val
		}
	}
	if cfg.Mail.IMAP.Password == "" {
		if val := os.Getenv("IMAP_PASSWORD"); val != "" {
			cfg.Mail.IMAP.Password = val
		}
	}

	if cfg.Mail.From == "" {
		if val := os.Getenv("MAIL_FROM"); val != "" {
			cfg.Mail.From = val
		}
	}
	if cfg.Alerts.SNSTopicARN == "" {
		if val := os.Getenv("ALERTS_SNS_TOPIC_ARN"); val != "" {
			cfg.Alerts.SNSTopicARN = val
		}
	}
	if cfg.Links.BaseURL == "" {
		if val := os.Getenv("LINKS_BASE_URL"); val != "" {
			cfg.Links.BaseURL = val
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "vendor-onboarding"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}

	if cfg.HTTP.Address == "" {
		cfg.HTTP.Address = ":8080"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 30
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 60
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 15
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Redis.Address == "" {
		cfg.Database.Redis.Address = "localhost:6379"
	}

	if cfg.Mail.AWSRegion == "" {
		cfg.Mail.AWSRegion = "us-east-1"
	}
	if cfg.Mail.BounceSender == "" {
		cfg.Mail.BounceSender = "mailer-daemon@googlemail.com"
	}
	if cfg.Mail.IMAP.Port == 0 {
		cfg.Mail.IMAP.Port = 993
	}
	if cfg.Mail.IMAP.Mailbox == "" {
		cfg.Mail.IMAP.Mailbox = "INBOX"
	}

	if cfg.Links.TTLDays == 0 {
		cfg.Links.TTLDays = 15
	}

	if cfg.Sender.InterSendDelay == 0 {
		cfg.Sender.InterSendDelay = 60
	}
	if cfg.Sender.SendTimeout == 0 {
		cfg.Sender.SendTimeout = 15
	}
	if cfg.Sender.SendRetries == 0 {
		cfg.Sender.SendRetries = 3
	}
	if cfg.Sender.SendRetryDelay == 0 {
		cfg.Sender.SendRetryDelay = 500
	}
	if cfg.Sender.StoreRetries == 0 {
		cfg.Sender.StoreRetries = 3
	}
	if cfg.Sender.StoreDelay == 0 {
		cfg.Sender.StoreDelay = 500
	}

	if cfg.Submission.StoreRetries == 0 {
		cfg.Submission.StoreRetries = 3
	}
	if cfg.Submission.StoreDelay == 0 {
		cfg.Submission.StoreDelay = 1000
	}

	if cfg.Watcher.MaxReconnectAttempts == 0 {
		cfg.Watcher.MaxReconnectAttempts = 10
	}
	if cfg.Watcher.BackoffCap == 0 {
		cfg.Watcher.BackoffCap = 300
	}

	if cfg.Documents.Dir == "" {
		cfg.Documents.Dir = "documents"
	}
	if cfg.Documents.MaxUploadMB == 0 {
		cfg.Documents.MaxUploadMB = 7
	}
	if len(cfg.Documents.AllowedTypes) == 0 {
		cfg.Documents.AllowedTypes = []string{
			"application/pdf",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig checks required configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Mail.From == "" {
		return fmt.Errorf("mail.from is required")
	}
	if cfg.Links.BaseURL == "" {
		return fmt.Errorf("links.base_url is required")
	}
	if cfg.Sender.InterSendDelay < 0 {
		return fmt.Errorf("sender.inter_send_delay must not be negative")
	}
	return nil
}
