package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DaemonConfig holds the dispatcher process's own settings, as opposed
// to the per-service ServiceConfig tree loaded by Scan. It is read from
// environment variables (with an optional .env file for local
// development), the same split the teacher's server uses between
// process config (env vars) and workload config (its own directory
// tree).
type DaemonConfig struct {
	ConfigDir string `env:"DISPATCHERD_CONFIG_DIR" envDefault:"/etc/dispatcherd/services"`
	SocketDir string `env:"DISPATCHERD_SOCKET_DIR" envDefault:"/run/dispatcherd"`

	Workers int `env:"DISPATCHERD_WORKERS" envDefault:"1"`

	MaxIngressMsgsPerSec int     `env:"DISPATCHERD_MAX_INGRESS_RATE" envDefault:"5000"`
	MaxGoroutines        int     `env:"DISPATCHERD_MAX_GOROUTINES" envDefault:"2000"`
	CPURejectThreshold   float64 `env:"DISPATCHERD_CPU_REJECT_THRESHOLD" envDefault:"85.0"`

	MetricsAddr string `env:"DISPATCHERD_METRICS_ADDR" envDefault:":9090"`

	LogLevel  string `env:"DISPATCHERD_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"DISPATCHERD_LOG_FORMAT" envDefault:"json"`
}

// LoadDaemonConfig reads DaemonConfig from a .env file (if present) and
// the process environment, env vars taking priority over the file.
func LoadDaemonConfig() (*DaemonConfig, error) {
	_ = godotenv.Load()

	cfg := &DaemonConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks DaemonConfig's range invariants.
func (c *DaemonConfig) Validate() error {
	if c.ConfigDir == "" {
		return fmt.Errorf("config: DISPATCHERD_CONFIG_DIR is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: DISPATCHERD_WORKERS must be >= 1")
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("config: DISPATCHERD_CPU_REJECT_THRESHOLD must be 0-100")
	}
	return nil
}
