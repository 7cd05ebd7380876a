// Package config provides environment-aware configuration management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// ParseEnvironment validates and normalises a raw environment string.
func ParseEnvironment(raw string) (Environment, bool) {
	switch Environment(strings.ToLower(raw)) {
	case Development:
		return Development, true
	case Testing:
		return Testing, true
	case Production:
		return Production, true
	default:
		return "", false
	}
}

// Config holds all node configuration.
type Config struct {
	Env Environment

	// Network
	ListenAddr string
	PeerURLs   []string

	// Filesystem
	WorkDir string

	// Database (optional; falls back to the in-memory repository set when empty)
	DatabaseDSN      string
	DBMaxConnections int
	DBIdleTimeout    time.Duration

	// Session layer
	HeartbeatInterval time.Duration
	JobLeaseDuration  time.Duration
	TokenExpiration   time.Duration
	RSAKeyBits        int

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsEnabled bool
	MetricsAddr    string
}

// Load loads configuration based on the NODE_ENV environment variable,
// optionally merging the environment-specific file config/<env>.env
// (relative to the working directory).
func Load() (*Config, error) {
	envStr := os.Getenv("NODE_ENV")
	if envStr == "" {
		envStr = string(Development)
	}

	env, ok := ParseEnvironment(envStr)
	if !ok {
		return nil, fmt.Errorf("invalid NODE_ENV: %s (must be development, testing, or production)", envStr)
	}

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("Warning: Could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads a YAML configuration file and fills fields the file leaves
// unset with defaults. Environment variables are not consulted.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var doc struct {
		Env               string   `yaml:"env"`
		ListenAddr        string   `yaml:"listen_addr"`
		PeerURLs          []string `yaml:"peer_urls"`
		WorkDir           string   `yaml:"workdir"`
		DatabaseDSN       string   `yaml:"database_dsn"`
		DBMaxConnections  int      `yaml:"db_max_connections"`
		DBIdleTimeout     string   `yaml:"db_idle_timeout"`
		HeartbeatInterval string   `yaml:"heartbeat_interval"`
		JobLeaseDuration  string   `yaml:"job_lease_duration"`
		TokenExpiration   string   `yaml:"token_expiration"`
		RSAKeyBits        int      `yaml:"rsa_key_bits"`
		LogLevel          string   `yaml:"log_level"`
		LogFormat         string   `yaml:"log_format"`
		MetricsEnabled    bool     `yaml:"metrics_enabled"`
		MetricsAddr       string   `yaml:"metrics_addr"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	env, ok := ParseEnvironment(doc.Env)
	if !ok {
		env = Development
	}
	cfg := &Config{
		Env:              env,
		ListenAddr:       doc.ListenAddr,
		PeerURLs:         doc.PeerURLs,
		WorkDir:          doc.WorkDir,
		DatabaseDSN:      doc.DatabaseDSN,
		DBMaxConnections: doc.DBMaxConnections,
		RSAKeyBits:       doc.RSAKeyBits,
		LogLevel:         doc.LogLevel,
		LogFormat:        doc.LogFormat,
		MetricsEnabled:   doc.MetricsEnabled,
		MetricsAddr:      doc.MetricsAddr,
	}

	var err2 error
	if doc.DBIdleTimeout != "" {
		if cfg.DBIdleTimeout, err2 = time.ParseDuration(doc.DBIdleTimeout); err2 != nil {
			return nil, fmt.Errorf("invalid db_idle_timeout: %w", err2)
		}
	}
	if doc.HeartbeatInterval != "" {
		if cfg.HeartbeatInterval, err2 = time.ParseDuration(doc.HeartbeatInterval); err2 != nil {
			return nil, fmt.Errorf("invalid heartbeat_interval: %w", err2)
		}
	}
	if doc.JobLeaseDuration != "" {
		if cfg.JobLeaseDuration, err2 = time.ParseDuration(doc.JobLeaseDuration); err2 != nil {
			return nil, fmt.Errorf("invalid job_lease_duration: %w", err2)
		}
	}
	if doc.TokenExpiration != "" {
		if cfg.TokenExpiration, err2 = time.ParseDuration(doc.TokenExpiration); err2 != nil {
			return nil, fmt.Errorf("invalid token_expiration: %w", err2)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.ListenAddr = getEnv("LISTEN_ADDR", ":8443")
	c.PeerURLs = splitNonEmpty(getEnv("PEER_URLS", ""), ",")
	c.WorkDir = getEnv("WORKDIR", "workdir")

	c.DatabaseDSN = getEnv("DATABASE_DSN", "")
	c.DBMaxConnections = getIntEnv("DB_MAX_CONNECTIONS", 20)
	dbIdleTimeout := getEnv("DB_IDLE_TIMEOUT", "5m")
	idle, err := time.ParseDuration(dbIdleTimeout)
	if err != nil {
		return fmt.Errorf("invalid DB_IDLE_TIMEOUT: %w", err)
	}
	c.DBIdleTimeout = idle

	heartbeat := getEnv("HEARTBEAT_INTERVAL", "10s")
	c.HeartbeatInterval, err = time.ParseDuration(heartbeat)
	if err != nil {
		return fmt.Errorf("invalid HEARTBEAT_INTERVAL: %w", err)
	}
	lease := getEnv("JOB_LEASE_DURATION", "")
	if lease == "" {
		c.JobLeaseDuration = 2 * c.HeartbeatInterval
	} else if c.JobLeaseDuration, err = time.ParseDuration(lease); err != nil {
		return fmt.Errorf("invalid JOB_LEASE_DURATION: %w", err)
	}
	tokenExp := getEnv("TOKEN_EXPIRATION", "720h")
	c.TokenExpiration, err = time.ParseDuration(tokenExp)
	if err != nil {
		return fmt.Errorf("invalid TOKEN_EXPIRATION: %w", err)
	}
	c.RSAKeyBits = getIntEnv("RSA_KEY_BITS", 4096)

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "text")

	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", true)
	c.MetricsAddr = getEnv("METRICS_ADDR", ":9090")

	c.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	if c.RSAKeyBits == 0 {
		c.RSAKeyBits = 4096
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.JobLeaseDuration == 0 {
		c.JobLeaseDuration = 2 * c.HeartbeatInterval
	}
	if c.TokenExpiration == 0 {
		c.TokenExpiration = 720 * time.Hour
	}
	if c.WorkDir == "" {
		c.WorkDir = "workdir"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8443"
	}
}

// IsDevelopment returns true if running in development environment.
func (c *Config) IsDevelopment() bool { return c.Env == Development }

// IsTesting returns true if running in testing environment.
func (c *Config) IsTesting() bool { return c.Env == Testing }

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool { return c.Env == Production }

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RSAKeyBits < 2048 {
		return fmt.Errorf("rsa key bits must be at least 2048, got %d", c.RSAKeyBits)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.JobLeaseDuration <= 0 {
		return fmt.Errorf("job lease duration must be positive")
	}
	if c.TokenExpiration <= 0 {
		return fmt.Errorf("token expiration must be positive")
	}
	if c.IsProduction() && c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required in production")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func splitNonEmpty(raw, sep string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
