package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Automation AutomationConfig `yaml:"automation"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration.
// Queue topology is derived from the automation queue set, so no queue
// names appear here.
type RabbitMQConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	VHost         string        `yaml:"vhost"`
	Exchange      string        `yaml:"exchange"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// AutomationConfig holds the scheduler, queue set, and retention settings
type AutomationConfig struct {
	Timezone  string          `yaml:"timezone"`
	Retention RetentionConfig `yaml:"retention"`
	Queues    []QueueConfig   `yaml:"queues"`
	Jobs      []JobSeed       `yaml:"jobs"`
}

// RetentionConfig controls the execution-log retention sweeper
type RetentionConfig struct {
	Window        time.Duration `yaml:"window"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// QueueConfig configures one named work queue
type QueueConfig struct {
	Name          string        `yaml:"name"`
	Attempts      int           `yaml:"attempts"`
	BackoffType   string        `yaml:"backoff_type"`
	BackoffDelay  time.Duration `yaml:"backoff_delay"`
	Concurrency   int           `yaml:"concurrency"`
	PrefetchCount int           `yaml:"prefetch_count"`
	KeepCompleted int           `yaml:"keep_completed"`
	KeepFailed    int           `yaml:"keep_failed"`
}

// JobSeed declares an automation job to ensure exists at startup.
// Existing rows with the same name are left untouched.
type JobSeed struct {
	Name     string         `yaml:"name"`
	Type     string         `yaml:"type"`
	Schedule string         `yaml:"schedule"`
	Enabled  bool           `yaml:"enabled"`
	Config   map[string]any `yaml:"config"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	return c.validateAutomation()
}

func (c *Config) validateAutomation() error {
	if c.Automation.Timezone != "" {
		if _, err := time.LoadLocation(c.Automation.Timezone); err != nil {
			return fmt.Errorf("invalid automation timezone %q: %w", c.Automation.Timezone, err)
		}
	}

	if c.Automation.Retention.Window <= 0 {
		return fmt.Errorf("automation retention window must be greater than 0")
	}

	if c.Automation.Retention.SweepInterval <= 0 {
		return fmt.Errorf("automation sweep_interval must be greater than 0")
	}

	if len(c.Automation.Queues) == 0 {
		return fmt.Errorf("at least one automation queue is required")
	}

	seen := make(map[string]bool, len(c.Automation.Queues))
	for _, q := range c.Automation.Queues {
		if q.Name == "" {
			return fmt.Errorf("automation queue name is required")
		}
		if seen[q.Name] {
			return fmt.Errorf("duplicate automation queue name: %s", q.Name)
		}
		seen[q.Name] = true

		if q.Attempts <= 0 {
			return fmt.Errorf("queue %s: attempts must be greater than 0", q.Name)
		}
		if q.BackoffType != "fixed" && q.BackoffType != "exponential" {
			return fmt.Errorf("queue %s: backoff_type must be fixed or exponential, got %q", q.Name, q.BackoffType)
		}
		if q.BackoffDelay <= 0 {
			return fmt.Errorf("queue %s: backoff_delay must be greater than 0", q.Name)
		}
		if q.Concurrency <= 0 {
			return fmt.Errorf("queue %s: concurrency must be greater than 0", q.Name)
		}
	}

	return nil
}

// QueueNames returns the configured queue names in declaration order.
func (c *Config) QueueNames() []string {
	names := make([]string, 0, len(c.Automation.Queues))
	for _, q := range c.Automation.Queues {
		names = append(names, q.Name)
	}
	return names
}

// Timezone returns the configured cron evaluation timezone, defaulting to UTC.
func (c *Config) Timezone() *time.Location {
	if c.Automation.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Automation.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
