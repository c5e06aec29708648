// Package config loads the coordinator's process configuration from
// environment variables (and an optional .env file via godotenv),
// following the env-var-plus-small-helpers shape of the original
// config package this was generalized from.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every section the coordinator process needs to boot.
type Config struct {
	Database     Database
	EVM          EVM
	Stellar      Stellar
	API          API
	Verifier     Verifier
	Orchestrator OrchestratorConfig
	Store        Store
	LogLevel     string
}

// Database configures the Postgres order-store backend.
type Database struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d Database) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// EVM configures the coordinator's EVM-family chain adapter.
type EVM struct {
	ChainID        string
	PrivateKeyHex  string
	Address        string
	BlockTime      time.Duration
	FinalityBlocks uint64
}

// Stellar configures the coordinator's Stellar/Soroban-family chain
// adapter.
type Stellar struct {
	NetworkPassphrase string
	SourceSecretHex   string
	Address           string
	LedgerTime        time.Duration
	FinalityLedgers   uint64
}

// API configures the HTTP/WebSocket listener.
type API struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// Verifier configures the escrow verifier's per-chain freshness windows
// and retry backoff, resolving the independent-Δ open question: src and
// dst freshness are separate knobs rather than one shared constant.
type Verifier struct {
	FreshnessSrc       time.Duration
	FreshnessDst       time.Duration
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	BackoffFactor      float64
	VerificationBudget time.Duration
}

// OrchestratorConfig holds timelock delays and the minimum safety
// deposit. Only MinSafetyDeposit is applied (cmd/resolver uses it as
// the SafetyLedger minimum); the delay fields are loaded but not passed
// to the orchestrator, which always stages windows with DefaultPolicy.
type OrchestratorConfig struct {
	WithdrawalDelay         time.Duration
	PublicWithdrawalDelay   time.Duration
	CancellationDelay       time.Duration
	PublicCancellationDelay time.Duration
	MinSafetyDeposit        string
}

// Store selects and configures the order-store backend: "postgres" for
// the schema-of-record, "pebble" for the crash-recoverable local cache,
// or "memory" for tests and ephemeral demos.
type Store struct {
	Backend    string // postgres | pebble | memory
	PebblePath string
}

// Load reads configuration from the environment, loading a .env file
// first if one is present (a missing .env is not an error — production
// deployments set real environment variables instead).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	evmKey, err := getEnvRequired("EVM_PRIVATE_KEY_HEX")
	if err != nil {
		return nil, err
	}
	stellarKey, err := getEnvRequired("STELLAR_SOURCE_SECRET_HEX")
	if err != nil {
		return nil, err
	}
	dbPassword, err := getEnvRequired("DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	return &Config{
		Database: Database{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "htlc_coordinator"),
			Password: dbPassword,
			DBName:   getEnv("DB_NAME", "htlc_coordinator"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		EVM: EVM{
			ChainID:        getEnv("EVM_CHAIN_ID", "evm-sepolia"),
			PrivateKeyHex:  evmKey,
			Address:        getEnv("EVM_ADDRESS", ""),
			BlockTime:      getEnvDuration("EVM_BLOCK_TIME", time.Second),
			FinalityBlocks: getEnvUint64("EVM_FINALITY_BLOCKS", 1),
		},
		Stellar: Stellar{
			NetworkPassphrase: getEnv("STELLAR_NETWORK_PASSPHRASE", "Test SDF Network ; September 2015"),
			SourceSecretHex:   stellarKey,
			Address:           getEnv("STELLAR_ADDRESS", ""),
			LedgerTime:        getEnvDuration("STELLAR_LEDGER_TIME", 5*time.Second),
			FinalityLedgers:   getEnvUint64("STELLAR_FINALITY_LEDGERS", 1),
		},
		API: API{
			Port:            getEnvInt("API_PORT", 8080),
			Host:            getEnv("API_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvDuration("API_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvDuration("API_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvDuration("API_SHUTDOWN_TIMEOUT", 5*time.Second),
			AllowedOrigins:  getEnvList("API_ALLOWED_ORIGINS", nil),
		},
		Verifier: Verifier{
			FreshnessSrc:       getEnvDuration("VERIFIER_FRESHNESS_SRC", 10*time.Minute),
			FreshnessDst:       getEnvDuration("VERIFIER_FRESHNESS_DST", 10*time.Minute),
			BackoffInitial:     getEnvDuration("VERIFIER_BACKOFF_INITIAL", time.Second),
			BackoffMax:         getEnvDuration("VERIFIER_BACKOFF_MAX", 15*time.Second),
			BackoffFactor:      getEnvFloat("VERIFIER_BACKOFF_FACTOR", 2.0),
			VerificationBudget: getEnvDuration("VERIFIER_BUDGET", 90*time.Second),
		},
		Orchestrator: OrchestratorConfig{
			WithdrawalDelay:         getEnvDuration("ORCHESTRATOR_WITHDRAWAL_DELAY", 10*time.Minute),
			PublicWithdrawalDelay:   getEnvDuration("ORCHESTRATOR_PUBLIC_WITHDRAWAL_DELAY", 30*time.Minute),
			CancellationDelay:       getEnvDuration("ORCHESTRATOR_CANCELLATION_DELAY", 60*time.Minute),
			PublicCancellationDelay: getEnvDuration("ORCHESTRATOR_PUBLIC_CANCELLATION_DELAY", 90*time.Minute),
			MinSafetyDeposit:        getEnv("ORCHESTRATOR_MIN_SAFETY_DEPOSIT", "1000000000000000"),
		},
		Store: Store{
			Backend:    getEnv("STORE_BACKEND", "memory"),
			PebblePath: getEnv("STORE_PEBBLE_PATH", "./data/orders"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvRequired(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("config: required environment variable %s is not set", key)
	}
	return value, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	start := 0
	for i := 0; i <= len(value); i++ {
		if i == len(value) || value[i] == ',' {
			if i > start {
				out = append(out, value[start:i])
			}
			start = i + 1
		}
	}
	return out
}
