package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	// Embedded zoneinfo so Europe/Zurich resolves in scratch containers.
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"settlement-reconciliation-engine/internal/models"
	"settlement-reconciliation-engine/internal/services/matching"
	"settlement-reconciliation-engine/internal/services/resolution"
)

// Config holds all application configuration
type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Logger         LoggerConfig
	Reconciliation ReconciliationConfig
}

type ServerConfig struct {
	Port           int
	CORSOrigins    []string
	MaxUploadBytes int64
}

// DatabaseConfig holds PostgreSQL configuration. DSN wins over the discrete fields.
type DatabaseConfig struct {
	DSN          string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

type ReconciliationConfig struct {
	Currency string
	Timezone string
	Location *time.Location
	Workers  int
	LockTTL  time.Duration
	Matching MatchingFile
}

// MatchingFile is the optional YAML file overriding scoring and policy knobs.
type MatchingFile struct {
	DateWindowDays       int                 `yaml:"date_window_days"`
	AmountTolerancePct   float64             `yaml:"amount_tolerance_pct"`
	AmountToleranceMinor int64               `yaml:"amount_tolerance_minor"`
	MinConfidence        int                 `yaml:"min_confidence"`
	AutoApplyThreshold   int                 `yaml:"auto_apply_threshold"`
	ReviewOnTie          bool                `yaml:"review_on_tie"`
	PaymentMethods       map[string][]string `yaml:"payment_methods,omitempty"`
}

// DefaultMatching mirrors the built-in engine and policy defaults.
func DefaultMatching() MatchingFile {
	m := matching.DefaultConfig()
	pct, _ := m.AmountTolerancePct.Float64()
	methods := make(map[string][]string)
	for src, ms := range m.PaymentMethods {
		methods[string(src)] = ms
	}
	return MatchingFile{
		DateWindowDays:       m.DateWindowDays,
		AmountTolerancePct:   pct,
		AmountToleranceMinor: m.AmountToleranceMinor,
		MinConfidence:        m.MinConfidence,
		AutoApplyThreshold:   resolution.DefaultConfig().AutoApplyThreshold,
		PaymentMethods:       methods,
	}
}

// LoadMatching reads a matching YAML file on top of the defaults.
func LoadMatching(path string) (MatchingFile, error) {
	m := DefaultMatching()
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("reading matching config: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parsing matching config: %w", err)
	}
	for src := range m.PaymentMethods {
		if !models.SourceKind(src).Valid() {
			return m, fmt.Errorf("matching config: unknown source %q in payment_methods", src)
		}
	}
	if m.AutoApplyThreshold < m.MinConfidence {
		return m, fmt.Errorf("matching config: auto_apply_threshold %d below min_confidence %d", m.AutoApplyThreshold, m.MinConfidence)
	}
	return m, nil
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			CORSOrigins:    getEnvAsList("CORS_ORIGINS", []string{"http://localhost:3000"}),
			MaxUploadBytes: int64(getEnvAsInt("RECON_MAX_UPLOAD_BYTES", 20<<20)),
		},
		Database: DatabaseConfig{
			DSN:          getEnv("DB_DSN", ""),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Name:         getEnv("DB_NAME", "reconciliation"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
		Reconciliation: ReconciliationConfig{
			Currency: strings.ToUpper(getEnv("RECON_CURRENCY", "CHF")),
			Timezone: getEnv("RECON_TIMEZONE", "Europe/Zurich"),
			Workers:  getEnvAsInt("RECON_WORKERS", 4),
			LockTTL:  getEnvAsDuration("RECON_LOCK_TTL", 15*time.Minute),
			Matching: DefaultMatching(),
		},
	}

	loc, err := time.LoadLocation(cfg.Reconciliation.Timezone)
	if err != nil {
		return nil, fmt.Errorf("RECON_TIMEZONE: %w", err)
	}
	cfg.Reconciliation.Location = loc

	if len(cfg.Reconciliation.Currency) != 3 {
		return nil, fmt.Errorf("RECON_CURRENCY must be an ISO 4217 code, got %q", cfg.Reconciliation.Currency)
	}
	if cfg.Reconciliation.Workers < 1 {
		cfg.Reconciliation.Workers = 1
	}

	if path := getEnv("MATCHING_CONFIG_FILE", ""); path != "" {
		m, err := LoadMatching(path)
		if err != nil {
			return nil, err
		}
		cfg.Reconciliation.Matching = m
	}

	return cfg, nil
}

// SetTimezone switches the reconciliation location.
func (c *ReconciliationConfig) SetTimezone(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", name, err)
	}
	c.Timezone = name
	c.Location = loc
	return nil
}

// MatchingConfig builds the engine configuration.
func (c *ReconciliationConfig) MatchingConfig() matching.Config {
	m := c.Matching
	methods := make(map[models.SourceKind][]string, len(m.PaymentMethods))
	for src, ms := range m.PaymentMethods {
		methods[models.SourceKind(src)] = ms
	}
	return matching.Config{
		DateWindowDays:       m.DateWindowDays,
		AmountTolerancePct:   decimal.NewFromFloat(m.AmountTolerancePct),
		AmountToleranceMinor: m.AmountToleranceMinor,
		MinConfidence:        m.MinConfidence,
		Location:             c.Location,
		PaymentMethods:       methods,
	}
}

func (c *ReconciliationConfig) ResolutionConfig() resolution.Config {
	return resolution.Config{
		AutoApplyThreshold: c.Matching.AutoApplyThreshold,
		ReviewOnTie:        c.Matching.ReviewOnTie,
	}
}

// ConnectionString returns the PostgreSQL DSN
func (c *DatabaseConfig) ConnectionString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
