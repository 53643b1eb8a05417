package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuecangming/transfer-queue/internal/common/types"
	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from the file named by CONFIG_PATH
func LoadConfig() (*types.Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	return LoadConfigFrom(configPath)
}

// LoadConfigFrom loads configuration from path. A missing file yields the
// default configuration.
func LoadConfigFrom(configPath string) (*types.Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultConfig returns default configuration
func DefaultConfig() *types.Config {
	return &types.Config{
		Server: types.ServerConfig{
			Host:      "127.0.0.1",
			Port:      8080,
			APIPrefix: "/api/v1",
			RateLimit: 50,
		},
		Database: types.DatabaseConfig{
			Enabled:        false,
			Host:           "localhost",
			Port:           5432,
			Name:           "transfer_queue",
			User:           "postgres",
			Password:       os.Getenv("DB_PASSWORD"),
			MaxConnections: 4,
		},
		Queue: types.QueueConfig{
			MaxConcurrentTransfers: 3,
			ChunkSize:              81920,   // 80KB
			InteractiveChunkSize:   1048576, // 1MB
			GlobalSpeedLimit:       0,
			PollInterval:           100,
			FaultBackoff:           1000,
			Retry: types.RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 5000,
				MaxDelay:     60000,
				Multiplier:   1,
			},
		},
		Metrics: types.MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: types.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *types.Config) error {
	if dbPassword := os.Getenv("DB_PASSWORD"); dbPassword != "" {
		config.Database.Password = dbPassword
	}
	if v := os.Getenv("TRANSFER_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid TRANSFER_MAX_CONCURRENT %q", v)
		}
		config.Queue.MaxConcurrentTransfers = n
	}
	if v := os.Getenv("TRANSFER_SPEED_LIMIT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid TRANSFER_SPEED_LIMIT %q", v)
		}
		config.Queue.GlobalSpeedLimit = n
	}
	return nil
}

// GenerateID generates a unique ID for entities
func GenerateID() string {
	return uuid.NewString()
}

// ValidatePath validates a filesystem path supplied by a caller
func ValidatePath(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	return !strings.ContainsRune(path, 0)
}

// ParseStatuses parses a comma separated status list such as "queued,running"
func ParseStatuses(raw string) ([]types.OperationStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var statuses []types.OperationStatus
	for _, part := range strings.Split(raw, ",") {
		status, err := types.ParseStatus(part)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// Millis converts a millisecond config value to a duration
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
