package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	Endpoint          string
	Role              string
	InstanceName      string
	ProducerAddr      string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SweepInterval     time.Duration
	ImportBuffer      int
	HealthPort        int
	MetricsPort       int
	Claim             bool
	Query             bool
	LogLevel          string
	LogFormat         string
	ShowVersion       bool
	ShowHelp          bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	// Define flags with environment variable fallback
	flag.StringVar(&cfg.Endpoint, "endpoint",
		getEnv("ASSETPORTAL_ENDPOINT", "assetportal"),
		"Coordination endpoint name (env: ASSETPORTAL_ENDPOINT)")

	flag.StringVar(&cfg.Role, "role",
		getEnv("ASSETPORTAL_ROLE", "auto"),
		"Process role: auto, arbiter, secondary (env: ASSETPORTAL_ROLE)")

	flag.StringVar(&cfg.InstanceName, "name",
		getEnv("ASSETPORTAL_NAME", defaultInstanceName()),
		"Instance display name (env: ASSETPORTAL_NAME)")

	flag.StringVar(&cfg.ProducerAddr, "producer-addr",
		getEnv("ASSETPORTAL_PRODUCER_ADDR", "127.0.0.1:24981"),
		"Producer TCP listen address, empty to disable (env: ASSETPORTAL_PRODUCER_ADDR)")

	flag.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval",
		getEnvDuration("ASSETPORTAL_HEARTBEAT_INTERVAL", 2*time.Second),
		"Client heartbeat period (env: ASSETPORTAL_HEARTBEAT_INTERVAL)")

	flag.DurationVar(&cfg.HeartbeatTimeout, "heartbeat-timeout",
		getEnvDuration("ASSETPORTAL_HEARTBEAT_TIMEOUT", 6*time.Second),
		"Arbiter liveness threshold (env: ASSETPORTAL_HEARTBEAT_TIMEOUT)")

	flag.DurationVar(&cfg.SweepInterval, "sweep-interval",
		getEnvDuration("ASSETPORTAL_SWEEP_INTERVAL", 2*time.Second),
		"Arbiter eviction sweep period (env: ASSETPORTAL_SWEEP_INTERVAL)")

	flag.IntVar(&cfg.ImportBuffer, "import-buffer",
		getEnvInt("ASSETPORTAL_IMPORT_BUFFER", 32),
		"Import batches buffered while nobody is active, 0 to drop (env: ASSETPORTAL_IMPORT_BUFFER)")

	flag.IntVar(&cfg.HealthPort, "health-port",
		getEnvInt("ASSETPORTAL_HEALTH_PORT", 8080),
		"Arbiter health check port, 0 to disable (env: ASSETPORTAL_HEALTH_PORT)")

	flag.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("ASSETPORTAL_METRICS_PORT", 9090),
		"Arbiter metrics port, 0 to disable (env: ASSETPORTAL_METRICS_PORT)")

	flag.BoolVar(&cfg.Claim, "claim",
		getEnvBool("ASSETPORTAL_CLAIM", false),
		"Claim active status after registering (env: ASSETPORTAL_CLAIM)")

	flag.BoolVar(&cfg.Query, "query", false,
		"Print the coordination status as JSON and exit")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("ASSETPORTAL_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: ASSETPORTAL_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("ASSETPORTAL_LOG_FORMAT", "json"),
		"Log format: json, text (env: ASSETPORTAL_LOG_FORMAT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")

	flag.Usage = func() {
		printDetailedHelp()
	}

	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.Endpoint == "" {
		return fmt.Errorf("endpoint name must not be empty")
	}

	validRoles := []string{"auto", "arbiter", "secondary"}
	if !contains(validRoles, cfg.Role) {
		return fmt.Errorf("invalid role: %s", cfg.Role)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if cfg.HeartbeatTimeout <= cfg.HeartbeatInterval {
		return fmt.Errorf("heartbeat timeout (%v) must exceed the heartbeat interval (%v)",
			cfg.HeartbeatTimeout, cfg.HeartbeatInterval)
	}
	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	if cfg.ImportBuffer < 0 {
		return fmt.Errorf("import buffer must not be negative")
	}

	if cfg.HealthPort < 0 || cfg.HealthPort > 65535 {
		return fmt.Errorf("invalid health port: %d", cfg.HealthPort)
	}
	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}

	return nil
}

func defaultInstanceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "instance"
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Asset Import Coordination

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Join the default endpoint, becoming the arbiter if none is running
  %s

  # Join and immediately claim active status
  %s --claim

  # Print the current coordination status
  %s --query

  # Run with environment variables
  export ASSETPORTAL_ENDPOINT=studio
  export ASSETPORTAL_LOG_LEVEL=debug
  %s

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
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

// Utility function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
