package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/avalkov/peerai-ledger/internal/address"
	"github.com/joho/godotenv"
)

// NewConfig loads envPath into the process environment and reads the
// settings from it. Variables already set in the environment win, and a
// missing file is not an error.
func NewConfig(envPath string) (Config, error) {
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}

	cfg := Config{
		ApiPort:             getEnvAsInt("PORT", 31337),
		ListenHost:          getEnv("LISTEN_HOST", "localhost"),
		EthNodeUrl:          getEnv("ETH_NODE_URL", ""),
		DbConnectionUrl:     getEnv("DB_CONNECTION_URL", ""),
		TokenAddress:        getEnv("PEERAI_TOKEN_ADDRESS", ""),
		CoreAddress:         getEnv("PEERAI_CORE_ADDRESS", ""),
		PrivateKey:          getEnv("PRIVATE_KEY", ""),
		ChainID:             int64(getEnvAsInt("CHAIN_ID", 11155111)),
		ReceiptPollAttempts: getEnvAsInt("RECEIPT_POLL_ATTEMPTS", 10),
		ReceiptPollInterval: getEnvAsDuration("RECEIPT_POLL_INTERVAL", 2*time.Second),
		OracleCallTimeout:   getEnvAsDuration("ORACLE_CALL_TIMEOUT", 10*time.Second),
		ConfirmTimeout:      getEnvAsDuration("CONFIRM_TIMEOUT", 45*time.Second),
		JwtSecret:           getEnv("JWT_SECRET", ""),
		TokenDuration:       getEnvAsDuration("TOKEN_DURATION", 11*time.Hour),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		MetricsPath:         getEnv("METRICS_PATH", "/metrics"),
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.EthNodeUrl == "" {
		return errors.New("ETH_NODE_URL is required")
	}
	if _, err := address.Normalize(c.TokenAddress); err != nil {
		return fmt.Errorf("PEERAI_TOKEN_ADDRESS: %w", err)
	}
	if _, err := address.Normalize(c.CoreAddress); err != nil {
		return fmt.Errorf("PEERAI_CORE_ADDRESS: %w", err)
	}
	if c.ReceiptPollAttempts < 0 {
		return fmt.Errorf("RECEIPT_POLL_ATTEMPTS must not be negative, got %d", c.ReceiptPollAttempts)
	}
	if c.JwtSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}

func getEnv(key string, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsInt(name string, defaultVal int) int {
	valueStr := getEnv(name, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	valueStr := getEnv(name, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultVal
}

type Config struct {
	ApiPort             int
	ListenHost          string
	EthNodeUrl          string
	DbConnectionUrl     string
	TokenAddress        string
	CoreAddress         string
	PrivateKey          string
	ChainID             int64
	ReceiptPollAttempts int
	ReceiptPollInterval time.Duration
	OracleCallTimeout   time.Duration
	ConfirmTimeout      time.Duration
	JwtSecret           string
	TokenDuration       time.Duration
	LogLevel            string
	MetricsPath         string
}
