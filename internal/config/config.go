// Package config provides application configuration loaded from environment variables,
// optionally overlaid with a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Payments PaymentsConfig `mapstructure:"payments"`
	Auth     AuthConfig     `mapstructure:"auth"`
	App      AppConfig      `mapstructure:"app"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // seconds
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig enables the distributed contract lock and notification fan-out.
// An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// GatewayConfig holds payment gateway credentials and call limits.
type GatewayConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	ClientKey    string `mapstructure:"client_key"`
	ClientSecret string `mapstructure:"client_secret"`
	CallbackURL  string `mapstructure:"callback_url"`
	Currency     string `mapstructure:"currency"`
	Timeout      int    `mapstructure:"timeout"` // seconds, per attempt
	MaxAttempts  int    `mapstructure:"max_attempts"`
	Sandbox      bool   `mapstructure:"sandbox"`
}

// AttemptTimeout returns the per-attempt timeout.
func (g GatewayConfig) AttemptTimeout() time.Duration {
	return time.Duration(g.Timeout) * time.Second
}

// PaymentsConfig holds payment scheduling settings.
type PaymentsConfig struct {
	DueDays int `mapstructure:"due_days"`
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	Secret   string `mapstructure:"secret"`
	TokenTTL int    `mapstructure:"token_ttl"` // minutes
	RoleTTL  int    `mapstructure:"role_ttl"`  // seconds a resolved role is cached
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Dev        bool `mapstructure:"dev"`
	Migrations bool `mapstructure:"migrations"`
}

// DSN returns the PostgreSQL connection string in key=value format.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// Load reads configuration from environment variables.
// It uses sensible defaults for local development.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvInt("SERVER_WRITE_TIMEOUT", 30),
			IdleTimeout:  getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "brokerage"),
			Password: getEnv("DB_PASSWORD", "brokerage123"),
			DBName:   getEnv("DB_NAME", "brokerage"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Gateway: GatewayConfig{
			BaseURL:      getEnv("GATEWAY_BASE_URL", "https://sandbox.payos.vn"),
			ClientKey:    getEnv("GATEWAY_CLIENT_KEY", ""),
			ClientSecret: getEnv("GATEWAY_CLIENT_SECRET", ""),
			CallbackURL:  getEnv("GATEWAY_CALLBACK_URL", "http://localhost:8080/payments/return"),
			Currency:     getEnv("GATEWAY_CURRENCY", "VND"),
			Timeout:      getEnvInt("GATEWAY_TIMEOUT", 10),
			MaxAttempts:  getEnvInt("GATEWAY_MAX_ATTEMPTS", 3),
			Sandbox:      getEnvBool("GATEWAY_SANDBOX", true),
		},
		Payments: PaymentsConfig{
			DueDays: getEnvInt("PAYMENT_DUE_DAYS", 7),
		},
		Auth: AuthConfig{
			Secret:   getEnv("AUTH_SECRET", "devtokensecret"),
			TokenTTL: getEnvInt("AUTH_TOKEN_TTL", 60),
			RoleTTL:  getEnvInt("AUTH_ROLE_TTL", 300),
		},
		App: AppConfig{
			Dev:        getEnvBool("DEV", true),
			Migrations: getEnvBool("MIGRATIONS", false),
		},
	}
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return v.Unmarshal(cfg)
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default.
// Accepts "1", "true", "yes" as true; everything else is false.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "1" || value == "true" || value == "yes"
}
