package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Load reads the YAML file at path (when given) and overlays environment variables.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig
	if strings.TrimSpace(path) != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.DBDriver)) {
	case "postgres", "pgx", "sqlite":
	default:
		return fmt.Errorf("unsupported db_driver %q", c.DBDriver)
	}
	if strings.TrimSpace(c.DBURL) == "" {
		return fmt.Errorf("db_url is required")
	}
	if c.Verify.RateLimitPerWindow < 0 {
		return fmt.Errorf("verify.rate_limit_per_window must not be negative")
	}
	return nil
}

// Usage describes every environment variable the service understands.
func Usage() string {
	var cfg AppConfig
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return text
}
