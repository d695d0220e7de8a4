package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.RequestTimeout())
	policy := cfg.ExpiryPolicy()
	assert.True(t, policy.Enabled)
	assert.Equal(t, 30*time.Minute, policy.AgeThreshold)
	assert.Equal(t, 5*time.Minute, policy.PollInterval)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "sqlite", cfg.DBType)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
RequestTimeoutSeconds: 15
PendingOrderAgeMinutes: 45
ReconciliationIntervalMinutes: 2
port: 9090
db_type: memory
business_rule_status:
  ORDER_NOT_PENDING: 422
api_keys:
  - id: k1
    tenant: pizzeria
    role: staff
    hash: "$2a$04$abcdefghijklmnopqrstuuH5C1mRVS4mOeJ/Fk7j2q9Xw6nEGwE0G"
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 45*time.Minute, cfg.ExpiryPolicy().AgeThreshold)
	assert.Equal(t, 2*time.Minute, cfg.ExpiryPolicy().PollInterval)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, map[string]int{"ORDER_NOT_PENDING": 422}, cfg.BusinessRuleStatus)
	require.Len(t, cfg.APIKeys, 1)
	assert.Equal(t, "pizzeria", cfg.APIKeys[0].Tenant)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "RequestTimeoutSeconds: 15\nport: 9090\n")
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "5")
	t.Setenv("RECONCILIATION_INTERVAL_MINUTES", "1")
	t.Setenv("APP_PORT", "7070")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.RequestTimeout())
	assert.Equal(t, time.Minute, cfg.ExpiryPolicy().PollInterval)
	assert.Equal(t, 7070, cfg.Port)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("APP_PORT", "7070")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 8080, "")
	flags.String("db-type", "sqlite", "")
	require.NoError(t, flags.Parse([]string{"--port=6060", "--db-type=memory"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Port)
	assert.Equal(t, "memory", cfg.DBType)
}

func TestLoad_RejectsNonPositiveDurations(t *testing.T) {
	t.Setenv("PENDING_ORDER_AGE_MINUTES", "0")
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "-1")

	_, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PendingOrderAgeMinutes")
	assert.Contains(t, err.Error(), "RequestTimeoutSeconds")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			RequestTimeoutSeconds:         60,
			PendingOrderAgeMinutes:        30,
			ReconciliationIntervalMinutes: 5,
			Port:                          8080,
			DBType:                        "memory",
		}
	}

	c := base()
	assert.NoError(t, c.Validate())

	c = base()
	c.DBType = "mongodb"
	assert.Error(t, c.Validate())

	c = base()
	c.BusinessRuleStatus = map[string]int{"X": 200}
	assert.Error(t, c.Validate())

	c = base()
	c.APIKeys = []APIKeyConfig{{ID: "k", Tenant: "t", Role: "root", Hash: "h"}}
	assert.Error(t, c.Validate())

	c = base()
	c.TLSCertFile = "server.crt"
	assert.Error(t, c.Validate())

	c.TLSKeyFile = "server.key"
	assert.NoError(t, c.Validate())
	assert.True(t, c.TLS().Enabled())
}

func TestLoad_TLSFromEnv(t *testing.T) {
	t.Setenv("APP_TLS_CERT_FILE", "/etc/orders/tls.crt")
	t.Setenv("APP_TLS_KEY_FILE", "/etc/orders/tls.key")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "/etc/orders/tls.crt", cfg.TLS().CertFile)
	assert.Equal(t, "/etc/orders/tls.key", cfg.TLS().KeyFile)
	assert.Empty(t, cfg.TLS().ClientCAFile)
}

func TestBindEnvs(t *testing.T) {
	t.Setenv("PENDING_ORDER_AGE_MINUTES", "45")

	v := viper.New()
	require.NoError(t, bindEnvs(v, policyEnv))
	assert.Equal(t, 45, v.GetInt("PendingOrderAgeMinutes"))

	err := bindEnvs(viper.New(), [][]string{{}, {"port", "PORT"}, {}})
	require.Error(t, err)
	assert.Len(t, err.(interface{ Unwrap() []error }).Unwrap(), 2)
}
