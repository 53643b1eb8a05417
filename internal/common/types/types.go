package types

// Config represents application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIPrefix  string `yaml:"api_prefix"`
	RateLimit  int    `yaml:"rate_limit"`  // requests per second per client, 0 = unlimited
	TrustProxy bool   `yaml:"trust_proxy"` // key the rate limit on X-Forwarded-For / X-Real-IP
}

// DatabaseConfig represents the transfer history database configuration.
// The queue itself never reads from it.
type DatabaseConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Name           string `yaml:"name"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	MaxConnections int    `yaml:"max_connections"`
}

// QueueConfig represents transfer queue configuration
type QueueConfig struct {
	MaxConcurrentTransfers int         `yaml:"max_concurrent_transfers"`
	ChunkSize              int         `yaml:"chunk_size"`
	InteractiveChunkSize   int         `yaml:"interactive_chunk_size"`
	GlobalSpeedLimit       int64       `yaml:"global_speed_limit"` // bytes per second, 0 = unlimited
	PollInterval           int         `yaml:"poll_interval_ms"`
	FaultBackoff           int         `yaml:"fault_backoff_ms"`
	TrashDir               string      `yaml:"trash_dir"`
	Retry                  RetryConfig `yaml:"retry"`
}

// RetryConfig represents retry configuration
type RetryConfig struct {
	MaxAttempts  int     `yaml:"max_attempts"`
	InitialDelay int     `yaml:"initial_delay"` // milliseconds
	MaxDelay     int     `yaml:"max_delay"`     // milliseconds
	Multiplier   float64 `yaml:"multiplier"`
	Jitter       bool    `yaml:"jitter"`
}

// MetricsConfig represents Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}
