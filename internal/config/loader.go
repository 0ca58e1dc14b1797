package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "coreflow.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "COREFLOW_PORT")
	setString(&cfg.Server.CORSOrigin, "COREFLOW_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "COREFLOW_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "COREFLOW_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "COREFLOW_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "COREFLOW_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "COREFLOW_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "COREFLOW_LOG_LEVEL")
	setString(&cfg.Logging.Service, "COREFLOW_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "COREFLOW_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Cooldown, "COREFLOW_BREAKER_COOLDOWN")
	setDuration(&cfg.Breaker.MaxCooldown, "COREFLOW_BREAKER_MAX_COOLDOWN")
	setInt(&cfg.Retry.MaxAttempts, "COREFLOW_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.BaseBackoff, "COREFLOW_RETRY_BASE_BACKOFF")
	setDuration(&cfg.Health.Interval, "COREFLOW_HEALTH_INTERVAL")
	setInt(&cfg.Health.FailureThreshold, "COREFLOW_HEALTH_FAILURE_THRESHOLD")
	setInt64(&cfg.Cache.MaxSizeBytes, "COREFLOW_CACHE_MAX_SIZE_BYTES")
	setDuration(&cfg.Cache.EntitlementTTL, "COREFLOW_CACHE_ENTITLEMENT_TTL")
	setString((*string)(&cfg.Ledger.DowngradePolicy), "COREFLOW_LEDGER_DOWNGRADE_POLICY")
	setDuration(&cfg.Ledger.InvokeTimeout, "COREFLOW_LEDGER_INVOKE_TIMEOUT")
	setString(&cfg.Catalog.Path, "COREFLOW_CATALOG_PATH")
	setString(&cfg.Webhook.BillingSecret, "COREFLOW_WEBHOOK_BILLING_SECRET")

	setString(&cfg.Backends.FinGPT.URL, "FINGPT_URL")
	setString(&cfg.Backends.FinGPT.APIKeyEnv, "FINGPT_API_KEY_ENV")
	setDuration(&cfg.Backends.FinGPT.Timeout, "FINGPT_TIMEOUT")
	setString(&cfg.Backends.FinRobot.URL, "FINROBOT_URL")
	setString(&cfg.Backends.FinRobot.APIKeyEnv, "FINROBOT_API_KEY_ENV")
	setDuration(&cfg.Backends.FinRobot.Timeout, "FINROBOT_TIMEOUT")
	setString(&cfg.Backends.ERPNext.URL, "ERPNEXT_URL")
	setString(&cfg.Backends.ERPNext.APIKeyEnv, "ERPNEXT_API_KEY_ENV")
	setDuration(&cfg.Backends.ERPNext.Timeout, "ERPNEXT_TIMEOUT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if cfg.Catalog.Path == "" {
		return errors.New("catalog.path is required")
	}
	switch cfg.Ledger.DowngradePolicy {
	case DowngradeImmediate, DowngradeRenewal:
	default:
		return fmt.Errorf("ledger.downgrade_policy must be %q or %q", DowngradeImmediate, DowngradeRenewal)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
