package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL       string
	HTTPListenAddr    string
	MetricsListenAddr string
	LogLevel          string
	ServiceName       string
	CertificateRoot   string
	// ServicesFile points at the YAML definition of managed services
	// (render/validate/reload commands and liveness ports).
	ServicesFile string

	ACMEToolPath     string
	ACMEContactEmail string
	ACMEWebroot      string
	ACMETimeout      time.Duration

	RenewalMarginHours int
	MaxRetryAttempts   int
	SweepInterval      time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		HTTPListenAddr:     getEnv("HTTP_LISTEN_ADDR", ":8091"),
		MetricsListenAddr:  getEnv("METRICS_LISTEN_ADDR", ":9091"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		ServiceName:        getEnv("SERVICE_NAME", ""),
		CertificateRoot:    getEnv("CERTIFICATE_ROOT", "/etc/certkeeper/certs"),
		ServicesFile:       getEnv("SERVICES_FILE", "services.yaml"),
		ACMEToolPath:       getEnv("ACME_TOOL_PATH", "certbot"),
		ACMEContactEmail:   getEnv("ACME_CONTACT_EMAIL", ""),
		ACMEWebroot:        getEnv("ACME_WEBROOT", "/var/www/acme"),
		ACMETimeout:        getEnvDuration("ACME_TIMEOUT", 2*time.Minute),
		RenewalMarginHours: getEnvInt("RENEWAL_MARGIN_HOURS", 24),
		MaxRetryAttempts:   getEnvInt("MAX_RETRY_ATTEMPTS", 5),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", time.Hour),
	}

	return cfg, nil
}

// RenewalMargin returns the selection safety margin as a duration.
func (c *Config) RenewalMargin() time.Duration {
	return time.Duration(c.RenewalMarginHours) * time.Hour
}

// Validate checks that the fields required by the named binary are set.
func (c *Config) Validate(service string) error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s: DATABASE_URL is required", service)
	}
	if c.RenewalMarginHours <= 0 {
		return fmt.Errorf("%s: RENEWAL_MARGIN_HOURS must be positive", service)
	}
	if c.MaxRetryAttempts <= 0 {
		return fmt.Errorf("%s: MAX_RETRY_ATTEMPTS must be positive", service)
	}

	switch service {
	case "certkeeper-watcher":
		if c.ServicesFile == "" {
			return fmt.Errorf("%s: SERVICES_FILE is required", service)
		}
		if c.CertificateRoot == "" {
			return fmt.Errorf("%s: CERTIFICATE_ROOT is required", service)
		}
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
