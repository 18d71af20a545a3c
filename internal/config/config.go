package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	DBConn         string
	LogLevel       string
	JWTSecret      string
	BankName       string
	BankPrefix     string
	CentralBankURL string
	APIKey         string
	PrivateKeyPath string
	RateURL        string
	MigrationsPath string
	SweepInterval  time.Duration
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "9001"),
		DBConn:         getEnv("DB_CONN", "host=localhost port=5432 user=test password=test dbname=bank sslmode=disable"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:      getEnv("JWT_SECRET", "secret"),
		BankName:       getEnv("BANK_NAME", "Mock Bank"),
		BankPrefix:     getEnv("BANK_PREFIX", "EE1"),
		CentralBankURL: getEnv("CENTRAL_BANK_URL", "https://keskpank.example.com"),
		APIKey:         getEnv("API_KEY", "test-api-key"),
		PrivateKeyPath: getEnv("PRIVATE_KEY_PATH", "keys/private.key"),
		RateURL:        getEnv("RATE_URL", "https://rates.example.com/latest"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
	}

	interval, err := time.ParseDuration(getEnv("SWEEP_INTERVAL", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
	}
	cfg.SweepInterval = interval

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.BankPrefix) != 3 {
		return nil, fmt.Errorf("BANK_PREFIX must be exactly 3 characters")
	}
	if cfg.CentralBankURL == "" {
		return nil, fmt.Errorf("CENTRAL_BANK_URL is required")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
