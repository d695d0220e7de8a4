package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/cleanup"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/models"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/tls"
)

// EnvPrefix is prepended to every automatically bound environment variable
const EnvPrefix = "APP"

// APIKeyConfig is a pre-provisioned API key. Hash is the bcrypt hash of the
// secret part of "<id>.<secret>".
type APIKeyConfig struct {
	ID     string `mapstructure:"id" yaml:"id" json:"id"`
	Tenant string `mapstructure:"tenant" yaml:"tenant" json:"tenant"`
	Role   string `mapstructure:"role" yaml:"role" json:"role"`
	Hash   string `mapstructure:"hash" yaml:"hash" json:"hash"`
}

// Config is the service configuration
type Config struct {
	RequestTimeoutSeconds         int `mapstructure:"requesttimeoutseconds"`
	PendingOrderAgeMinutes        int `mapstructure:"pendingorderageminutes"`
	ReconciliationIntervalMinutes int `mapstructure:"reconciliationintervalminutes"`

	ReconciliationEnabled  bool `mapstructure:"reconciliation_enabled"`
	ShutdownTimeoutSeconds int  `mapstructure:"shutdown_timeout_seconds"`

	Port            int    `mapstructure:"port"`
	TLSCertFile     string `mapstructure:"tls_cert_file"`
	TLSKeyFile      string `mapstructure:"tls_key_file"`
	TLSClientCAFile string `mapstructure:"tls_client_ca_file"`

	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
	LogFile  string `mapstructure:"log_file"`

	DBType string `mapstructure:"db_type"`
	DBDSN  string `mapstructure:"db_dsn"`

	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`

	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`

	BusinessRuleStatus map[string]int `mapstructure:"business_rule_status"`
	APIKeys            []APIKeyConfig `mapstructure:"api_keys"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("RequestTimeoutSeconds", 60)
	v.SetDefault("PendingOrderAgeMinutes", 30)
	v.SetDefault("ReconciliationIntervalMinutes", 5)
	v.SetDefault("reconciliation_enabled", true)
	v.SetDefault("shutdown_timeout_seconds", 30)
	v.SetDefault("port", 8080)
	v.SetDefault("tls_cert_file", "")
	v.SetDefault("tls_key_file", "")
	v.SetDefault("tls_client_ca_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("log_file", "")
	v.SetDefault("db_type", "sqlite")
	v.SetDefault("db_dsn", "orders.db")
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("otlp_endpoint", "localhost:4318")
	v.SetDefault("rate_limit_rps", 20.0)
	v.SetDefault("rate_limit_burst", 40)
}

// policyEnv gives the three policy options their own unprefixed names.
// Each entry is a key followed by the variables bound to it.
var policyEnv = [][]string{
	{"RequestTimeoutSeconds", "REQUEST_TIMEOUT_SECONDS", EnvPrefix + "_REQUEST_TIMEOUT_SECONDS"},
	{"PendingOrderAgeMinutes", "PENDING_ORDER_AGE_MINUTES", EnvPrefix + "_PENDING_ORDER_AGE_MINUTES"},
	{"ReconciliationIntervalMinutes", "RECONCILIATION_INTERVAL_MINUTES", EnvPrefix + "_RECONCILIATION_INTERVAL_MINUTES"},
}

func bindEnvs(v *viper.Viper, bindings [][]string) error {
	var errs error
	for _, b := range bindings {
		if err := v.BindEnv(b...); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// Load reads configuration from defaults, the optional YAML file at path,
// environment variables and flags, in increasing order of precedence.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := bindEnvs(v, policyEnv); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil {
				bindErr = errors.Join(bindErr, err)
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// viper lowercases map keys; rule codes are upper case
	if len(cfg.BusinessRuleStatus) > 0 {
		rules := make(map[string]int, len(cfg.BusinessRuleStatus))
		for k, s := range cfg.BusinessRuleStatus {
			rules[strings.ToUpper(k)] = s
		}
		cfg.BusinessRuleStatus = rules
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.RequestTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("RequestTimeoutSeconds must be positive, got %d", c.RequestTimeoutSeconds))
	}
	if c.PendingOrderAgeMinutes <= 0 {
		errs = append(errs, fmt.Errorf("PendingOrderAgeMinutes must be positive, got %d", c.PendingOrderAgeMinutes))
	}
	if c.ReconciliationIntervalMinutes <= 0 {
		errs = append(errs, fmt.Errorf("ReconciliationIntervalMinutes must be positive, got %d", c.ReconciliationIntervalMinutes))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("tls_cert_file and tls_key_file must be set together"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	switch c.DBType {
	case "memory", "sqlite", "sqlite3", "postgres", "postgresql":
	default:
		errs = append(errs, fmt.Errorf("unsupported db_type %q", c.DBType))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limit values must not be negative"))
	}
	for rule, s := range c.BusinessRuleStatus {
		if s < 400 || s > 599 {
			errs = append(errs, fmt.Errorf("business_rule_status %s: %d is not an error status", rule, s))
		}
	}
	for i, k := range c.APIKeys {
		if k.ID == "" || k.Tenant == "" || k.Hash == "" {
			errs = append(errs, fmt.Errorf("api_keys[%d]: id, tenant and hash are required", i))
		}
		if !models.Role(k.Role).Valid() {
			errs = append(errs, fmt.Errorf("api_keys[%d]: invalid role %q", i, k.Role))
		}
	}
	return errors.Join(errs...)
}

// RequestTimeout is the execution guard bound
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// TLS returns the listener certificate settings
func (c *Config) TLS() tls.ServerConfig {
	return tls.ServerConfig{CertFile: c.TLSCertFile, KeyFile: c.TLSKeyFile, ClientCAFile: c.TLSClientCAFile}
}

// ExpiryPolicy returns the pending-order reconciliation settings
func (c *Config) ExpiryPolicy() cleanup.Config {
	return cleanup.Config{
		Enabled:      c.ReconciliationEnabled,
		AgeThreshold: time.Duration(c.PendingOrderAgeMinutes) * time.Minute,
		PollInterval: time.Duration(c.ReconciliationIntervalMinutes) * time.Minute,
	}
}
