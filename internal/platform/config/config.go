// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the binaries read from the environment.
type Config struct {
	Debug        bool
	SecretKey    string
	AllowedHosts []string
	Port         string

	DatabaseDriver string
	DatabaseURL    string

	Email Email

	GoogleBooksAPIKey   string
	GoogleBooksURL      string
	CatalogSyncInterval time.Duration

	Location *time.Location
	MediaDir string

	OTLPEndpoint string

	LoginAttemptsPerMinute int
	MailPollInterval       time.Duration
	ReminderInterval       time.Duration
}

// Email is the outgoing SMTP configuration.
type Email struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	ReplyTo  string
}

const insecureDevKey = "dev_secret_change_me"

// Load reads the environment. SECRET_KEY is mandatory unless DEBUG is on.
func Load() (*Config, error) {
	var errs []error

	debug := getBool("DEBUG", false, &errs)
	cfg := &Config{
		Debug:          debug,
		SecretKey:      getEnv("SECRET_KEY", ""),
		AllowedHosts:   splitList(getEnv("ALLOWED_HOSTS", "localhost,127.0.0.1")),
		Port:           getEnv("PORT", "8000"),
		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite3"),
		DatabaseURL:    getEnv("DATABASE_URL", "boipoka.db"),
		Email: Email{
			Host:     getEnv("EMAIL_HOST", "smtp.sendgrid.net"),
			Port:     getInt("EMAIL_PORT", 587, &errs),
			User:     getEnv("EMAIL_HOST_USER", "apikey"),
			Password: getEnv("EMAIL_HOST_PASSWORD", ""),
			From:     getEnv("DEFAULT_FROM_EMAIL", "noreply@boipoka.com"),
			ReplyTo:  getEnv("REPLY_TO_EMAIL", "boipoka_admin@boipoka.com"),
		},
		GoogleBooksAPIKey:      getEnv("GOOGLE_BOOKS_API_KEY", ""),
		GoogleBooksURL:         getEnv("GOOGLE_BOOKS_URL", "https://www.googleapis.com/books/v1"),
		CatalogSyncInterval:    getDuration("CATALOG_SYNC_INTERVAL", 0, &errs),
		MediaDir:               getEnv("MEDIA_DIR", "media"),
		OTLPEndpoint:           getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		LoginAttemptsPerMinute: getInt("LOGIN_ATTEMPTS_PER_MINUTE", 10, &errs),
		MailPollInterval:       getDuration("MAIL_POLL_INTERVAL", 10*time.Second, &errs),
		ReminderInterval:       getDuration("REMINDER_INTERVAL", 24*time.Hour, &errs),
	}

	loc, err := time.LoadLocation(getEnv("TIME_ZONE", "Asia/Dhaka"))
	if err != nil {
		errs = append(errs, fmt.Errorf("TIME_ZONE: %w", err))
	}
	cfg.Location = loc

	if cfg.SecretKey == "" {
		if !debug {
			errs = append(errs, errors.New("SECRET_KEY is required when DEBUG is off"))
		}
		cfg.SecretKey = insecureDevKey
	}

	switch cfg.DatabaseDriver {
	case "postgres", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER: unsupported driver %q", cfg.DatabaseDriver))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("load config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool, errs *[]error) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return v
}

func getInt(key string, defaultValue int, errs *[]error) int {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
