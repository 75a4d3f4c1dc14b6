package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	PostgresURL    string  `mapstructure:"POSTGRES_URL"`
	RedisAddr      string  `mapstructure:"REDIS_ADDR"`
	ServerPort     string  `mapstructure:"SERVER_PORT"`
	Concurrency    int     `mapstructure:"CONCURRENCY"`
	MaxRetries     int     `mapstructure:"MAX_RETRIES"`
	TaskRetries    int     `mapstructure:"TASK_RETRIES"`
	TaskTimeout    int     `mapstructure:"TASK_TIMEOUT"`
	RequestTimeout int     `mapstructure:"REQUEST_TIMEOUT"`
	HostRate       float64 `mapstructure:"HOST_RATE"`
	HostBurst      int     `mapstructure:"HOST_BURST"`
	Proxies        string  `mapstructure:"PROXIES"`
}

// Load reads configuration from file or environment variables.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	// Attempt to read the .env file, but don't fail if it's not present
	// This allows configuration purely through environment variables in production
	_ = viper.ReadInConfig()

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("CONCURRENCY", 8)
	viper.SetDefault("MAX_RETRIES", 3)
	viper.SetDefault("TASK_RETRIES", 1)
	viper.SetDefault("TASK_TIMEOUT", 120)   // in seconds
	viper.SetDefault("REQUEST_TIMEOUT", 30) // in seconds
	viper.SetDefault("HOST_RATE", 2.0)      // requests per second per gate host
	viper.SetDefault("HOST_BURST", 4)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// TaskBudget is the per-task wall-clock budget.
func (c *Config) TaskBudget() time.Duration {
	return time.Duration(c.TaskTimeout) * time.Second
}

// ProxyList splits the PROXIES setting into individual proxy URLs.
func (c *Config) ProxyList() []string {
	if strings.TrimSpace(c.Proxies) == "" {
		return nil
	}
	parts := strings.Split(c.Proxies, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
