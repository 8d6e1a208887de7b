// Package config loads application configuration from the environment.
// A .env file in the working directory is applied first when present.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the spendsight services.
type Config struct {
	Server     ServerConfig
	Data       DataConfig
	Mailbox    MailboxConfig
	Classifier ClassifierConfig
	Drive      DriveConfig
	OAuth      OAuthConfig
	LogLevel   string
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port int
}

// DataConfig holds filesystem layout configuration.
type DataConfig struct {
	Root      string // root of per-user namespaces
	TokensDir string // OAuth token files, one per user
}

// MailboxConfig holds the mailbox watcher configuration.
type MailboxConfig struct {
	IMAPAddr         string
	AlertSender      string
	IdleTimeout      time.Duration
	ReconnectBackoff time.Duration
	AuthFailureLimit int
	AuthCooldown     time.Duration
}

// ClassifierConfig holds the generative classifier configuration.
type ClassifierConfig struct {
	APIKey      string
	Model       string
	CallTimeout time.Duration
	BatchSize   int
}

// DriveConfig holds the remote archive polling configuration.
type DriveConfig struct {
	FolderName   string
	PollInterval time.Duration
}

// OAuthConfig holds the OAuth client used to refresh user credentials.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// Load reads configuration from environment variables, applying .env first.
func Load() *Config {
	// Missing .env is fine; the environment may be set by the runtime.
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8000),
		},
		Data: DataConfig{
			Root:      getEnv("USER_DATA_ROOT", "user_data"),
			TokensDir: getEnv("TOKENS_DIR", "tokens"),
		},
		Mailbox: MailboxConfig{
			IMAPAddr:         getEnv("IMAP_ADDR", "imap.gmail.com:993"),
			AlertSender:      getEnv("ALERT_SENDER", "alerts@hdfcbank.net"),
			IdleTimeout:      getEnvAsDuration("IDLE_TIMEOUT", 29*time.Minute),
			ReconnectBackoff: getEnvAsDuration("RECONNECT_BACKOFF", 30*time.Second),
			AuthFailureLimit: getEnvAsInt("AUTH_FAILURE_LIMIT", 3),
			AuthCooldown:     getEnvAsDuration("AUTH_COOLDOWN", 5*time.Minute),
		},
		Classifier: ClassifierConfig{
			APIKey:      getEnv("GEMINI_API_KEY", ""),
			Model:       getEnv("GEMINI_MODEL", "gemini-2.5-flash-lite"),
			CallTimeout: getEnvAsDuration("CLASSIFIER_TIMEOUT", 60*time.Second),
			BatchSize:   getEnvAsInt("ARCHIVE_BATCH_SIZE", 500),
		},
		Drive: DriveConfig{
			FolderName:   getEnv("DRIVE_FOLDER_NAME", "takeout"),
			PollInterval: getEnvAsDuration("DRIVE_POLL_INTERVAL", 5*time.Minute),
		},
		OAuth: OAuthConfig{
			ClientID:     getEnv("OAUTH_CLIENT_ID", ""),
			ClientSecret: getEnv("OAUTH_CLIENT_SECRET", ""),
			TokenURL:     getEnv("OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
