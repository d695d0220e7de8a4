package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/apperr"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration inspection",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Resolves defaults, the config file, APP_* environment variables and
flags, and prints the resulting settings. Key hashes are not shown.`,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

type effectiveConfig struct {
	RequestTimeoutSeconds         int            `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	PendingOrderAgeMinutes        int            `json:"pending_order_age_minutes" yaml:"pending_order_age_minutes"`
	ReconciliationIntervalMinutes int            `json:"reconciliation_interval_minutes" yaml:"reconciliation_interval_minutes"`
	ReconciliationEnabled         bool           `json:"reconciliation_enabled" yaml:"reconciliation_enabled"`
	Port                          int            `json:"port" yaml:"port"`
	DBType                        string         `json:"db_type" yaml:"db_type"`
	LogLevel                      string         `json:"log_level" yaml:"log_level"`
	MetricsEnabled                bool           `json:"metrics_enabled" yaml:"metrics_enabled"`
	TracingEnabled                bool           `json:"tracing_enabled" yaml:"tracing_enabled"`
	RateLimitRPS                  float64        `json:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst                int            `json:"rate_limit_burst" yaml:"rate_limit_burst"`
	BusinessRuleStatus            map[string]int `json:"business_rule_status" yaml:"business_rule_status"`
	APIKeys                       int            `json:"api_keys" yaml:"api_keys"`
}

func newEffectiveConfig(cfg *config.Config) effectiveConfig {
	rules := apperr.BuiltinRuleStatus()
	for k, s := range cfg.BusinessRuleStatus {
		rules[k] = s
	}
	return effectiveConfig{
		RequestTimeoutSeconds:         cfg.RequestTimeoutSeconds,
		PendingOrderAgeMinutes:        cfg.PendingOrderAgeMinutes,
		ReconciliationIntervalMinutes: cfg.ReconciliationIntervalMinutes,
		ReconciliationEnabled:         cfg.ReconciliationEnabled,
		Port:                          cfg.Port,
		DBType:                        cfg.DBType,
		LogLevel:                      cfg.LogLevel,
		MetricsEnabled:                cfg.MetricsEnabled,
		TracingEnabled:                cfg.TracingEnabled,
		RateLimitRPS:                  cfg.RateLimitRPS,
		RateLimitBurst:                cfg.RateLimitBurst,
		BusinessRuleStatus:            rules,
		APIKeys:                       len(cfg.APIKeys),
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	eff := newEffectiveConfig(cfg)

	switch outputFormat {
	case "json":
		output, err := json.MarshalIndent(eff, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
	case "yaml":
		output, err := yaml.Marshal(eff)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		fmt.Print(string(output))
	default:
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Setting", "Value")
		table.Append("RequestTimeoutSeconds", strconv.Itoa(eff.RequestTimeoutSeconds))
		table.Append("PendingOrderAgeMinutes", strconv.Itoa(eff.PendingOrderAgeMinutes))
		table.Append("ReconciliationIntervalMinutes", strconv.Itoa(eff.ReconciliationIntervalMinutes))
		table.Append("reconciliation_enabled", strconv.FormatBool(eff.ReconciliationEnabled))
		table.Append("port", strconv.Itoa(eff.Port))
		table.Append("db_type", eff.DBType)
		table.Append("log_level", eff.LogLevel)
		table.Append("metrics_enabled", strconv.FormatBool(eff.MetricsEnabled))
		table.Append("tracing_enabled", strconv.FormatBool(eff.TracingEnabled))
		table.Append("rate_limit", fmt.Sprintf("%g rps, burst %d", eff.RateLimitRPS, eff.RateLimitBurst))
		table.Append("api_keys", strconv.Itoa(eff.APIKeys))
		table.Render()
	}
	return nil
}
