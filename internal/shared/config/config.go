package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"bankbridge/internal/domain/tenant"
)

const (
	ProviderName      = "revolut"
	TenantEnvPrefix   = "REVOLUT_"
	DefaultAPIURL     = "https://b2b.revolut.com/api/1.0"
	AssertionAudience = "https://revolut.com"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Store      StoreConfig
	Provider   ProviderConfig
	Tenants    []tenant.Credential
	Encryption EncryptionConfig
	Admin      AdminConfig
	Scheduler  SchedulerConfig
	TLS        TLSConfig
	Telemetry  TelemetryConfig
}

type ServerConfig struct {
	Port    string
	Host    string
	HostURL string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type StoreConfig struct {
	Driver string
}

type ProviderConfig struct {
	Name         string
	APIURL       string
	Audience     string
	RateLimitRPS float64
	TenantsFile  string
}

type EncryptionConfig struct {
	Key string
}

type AdminConfig struct {
	APIKey string
}

type SchedulerConfig struct {
	Enabled             bool
	TransactionInterval time.Duration
	AccountInterval     time.Duration
	ReconciliationHour  int
	WorkerCount         int
	JobDelay            time.Duration
	QueueSize           int
	RunOnStartup        bool
}

type TLSConfig struct {
	Enabled  bool
	CertPath string
	KeyPath  string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	MetricsPort  string
}

func Load() (*Config, error) {
	dbPort, err := getIntEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	syncInterval, err := getIntEnv("SYNC_INTERVAL_MINUTES", 5)
	if err != nil {
		return nil, err
	}
	accountInterval, err := getIntEnv("ACCOUNT_SYNC_INTERVAL_MINUTES", 30)
	if err != nil {
		return nil, err
	}
	reconciliationHour, err := getIntEnv("RECONCILIATION_HOUR", 6)
	if err != nil {
		return nil, err
	}
	schedulerWorkers, err := getIntEnv("SCHEDULER_WORKERS", 5)
	if err != nil {
		return nil, err
	}
	schedulerQueueSize, err := getIntEnv("SCHEDULER_QUEUE_SIZE", 100)
	if err != nil {
		return nil, err
	}
	schedulerJobDelay, err := time.ParseDuration(getEnv("SCHEDULER_JOB_DELAY", "0s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_JOB_DELAY: %w", err)
	}

	rateLimit, err := strconv.ParseFloat(getEnv("API_RATE_LIMIT_RPS", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid API_RATE_LIMIT_RPS: %w", err)
	}

	tenantsFile := getEnv("TENANTS_FILE", "")
	tenants, err := loadTenants(tenantsFile)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:    getEnv("PORT", "8080"),
			Host:    getEnv("HOST", "0.0.0.0"),
			HostURL: strings.TrimRight(getEnv("HOST_URL", ""), "/"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "bankbridge"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "bankbridge"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		},
		Provider: ProviderConfig{
			Name:         ProviderName,
			APIURL:       strings.TrimRight(getEnv("API_URL", DefaultAPIURL), "/"),
			Audience:     AssertionAudience,
			RateLimitRPS: rateLimit,
			TenantsFile:  tenantsFile,
		},
		Tenants: tenants,
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		Admin: AdminConfig{
			APIKey: getEnv("ADMIN_API_KEY", ""),
		},
		Scheduler: SchedulerConfig{
			Enabled:             getBoolEnv("SCHEDULER_ENABLED", true),
			TransactionInterval: time.Duration(syncInterval) * time.Minute,
			AccountInterval:     time.Duration(accountInterval) * time.Minute,
			ReconciliationHour:  reconciliationHour,
			WorkerCount:         schedulerWorkers,
			JobDelay:            schedulerJobDelay,
			QueueSize:           schedulerQueueSize,
			RunOnStartup:        getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
		},
		TLS: TLSConfig{
			Enabled:  getBoolEnv("TLS_ENABLED", false),
			CertPath: getEnv("TLS_CERT_PATH", ""),
			KeyPath:  getEnv("TLS_KEY_PATH", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "bankbridge"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9090"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Scheduler.TransactionInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL_MINUTES must be positive")
	}
	if c.Scheduler.AccountInterval <= 0 {
		return fmt.Errorf("ACCOUNT_SYNC_INTERVAL_MINUTES must be positive")
	}
	if c.Scheduler.ReconciliationHour < 0 || c.Scheduler.ReconciliationHour > 23 {
		return fmt.Errorf("RECONCILIATION_HOUR must be between 0 and 23, got %d", c.Scheduler.ReconciliationHour)
	}
	if c.Scheduler.WorkerCount < 1 {
		return fmt.Errorf("SCHEDULER_WORKERS must be at least 1")
	}
	if c.Scheduler.QueueSize < 1 {
		return fmt.Errorf("SCHEDULER_QUEUE_SIZE must be at least 1")
	}
	if c.Provider.RateLimitRPS <= 0 {
		return fmt.Errorf("API_RATE_LIMIT_RPS must be positive")
	}

	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.Store.Driver)
	}

	if c.Encryption.Key != "" && len(c.Encryption.Key) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	if c.TLS.Enabled {
		if c.TLS.CertPath == "" {
			return fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if c.TLS.KeyPath == "" {
			return fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}
	return nil
}

// WebhookURL is the public endpoint a tenant registers with the provider.
func (c *Config) WebhookURL(tenantID string) string {
	return fmt.Sprintf("%s/webhooks/%s/%s", c.Server.HostURL, c.Provider.Name, tenantID)
}

// TokenURL is the provider's OAuth2 token endpoint.
func (c *ProviderConfig) TokenURL() string {
	return c.APIURL + "/auth/token"
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func loadTenants(path string) ([]tenant.Credential, error) {
	env := tenant.FromEnv(TenantEnvPrefix, os.Environ())
	if path == "" {
		return env, nil
	}
	file, err := tenant.FromFile(path)
	if err != nil {
		return nil, err
	}
	return tenant.Merge(file, env), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
