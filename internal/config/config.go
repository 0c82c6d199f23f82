// Package config holds operator-level configuration for a Vantage installation.
//
// This is infrastructure config set by whoever deploys Vantage, NOT tenant
// configuration. Tenant decision policy (permission tables, risk tiers,
// guardrails) lives in per-tenant YAML loaded by internal/policy.
//
// Each key maps to an env var with the VANTAGE_ prefix (e.g. "data_dir" →
// VANTAGE_DATA_DIR) and to a YAML field in vantage.config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Viper keys.
const (
	KeyDataDir       = "data_dir"
	KeyListenAddr    = "listen_addr"
	KeyProvider      = "provider"
	KeyModel         = "model"
	KeyProviderURL   = "provider_base_url"
	KeyPolicyDir     = "policy_dir"
	KeyPostureDir    = "posture_dir"
	KeyDailyBudget   = "default_daily_decisions"
	KeyMonthlyBudget = "default_monthly_cost"
)

// Defaults.
const (
	DefaultListenAddr    = ":8460"
	DefaultProvider      = "openai"
	DefaultModel         = "gpt-4o"
	DefaultDailyBudget   = 10
	DefaultMonthlyBudget = 250.0
)

// Config holds resolved operator-level configuration for a Vantage process.
type Config struct {
	DataDir         string  // Base directory for all state (~/.vantage)
	ListenAddr      string  // HTTP listen address
	Provider        string  // Generative provider name ("openai", "anthropic")
	Model           string  // Model identifier passed to the provider
	ProviderBaseURL string  // Override for the provider endpoint (tests, proxies)
	PolicyDir       string  // Directory of per-tenant policy YAML files
	PostureDir      string  // Directory of materialized account posture files
	DailyDecisions  int     // Default per-account daily decision allowance
	MonthlyCost     float64 // Default per-account monthly cost allowance (EUR)
}

// StoreDBPath returns the full path to the pipeline SQLite database. All
// stores (idempotency, run state, budgets, proposals, deferred runs) share it.
func (c *Config) StoreDBPath() string {
	return filepath.Join(c.DataDir, "vantage.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// Load resolves configuration from env vars (VANTAGE_*) and an optional
// config file. cfgFile may be empty, in which case vantage.config.yaml is
// looked up in the working directory and the data dir.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VANTAGE")
	v.AutomaticEnv()

	home, _ := os.UserHomeDir()
	defaultDataDir := filepath.Join(home, ".vantage")

	v.SetDefault(KeyDataDir, defaultDataDir)
	v.SetDefault(KeyListenAddr, DefaultListenAddr)
	v.SetDefault(KeyProvider, DefaultProvider)
	v.SetDefault(KeyModel, DefaultModel)
	v.SetDefault(KeyPolicyDir, filepath.Join(defaultDataDir, "policies"))
	v.SetDefault(KeyPostureDir, filepath.Join(defaultDataDir, "postures"))
	v.SetDefault(KeyDailyBudget, DefaultDailyBudget)
	v.SetDefault(KeyMonthlyBudget, DefaultMonthlyBudget)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("vantage.config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultDataDir)
		// Missing file is fine; env vars and defaults apply.
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	return &Config{
		DataDir:         v.GetString(KeyDataDir),
		ListenAddr:      v.GetString(KeyListenAddr),
		Provider:        v.GetString(KeyProvider),
		Model:           v.GetString(KeyModel),
		ProviderBaseURL: v.GetString(KeyProviderURL),
		PolicyDir:       v.GetString(KeyPolicyDir),
		PostureDir:      v.GetString(KeyPostureDir),
		DailyDecisions:  v.GetInt(KeyDailyBudget),
		MonthlyCost:     v.GetFloat64(KeyMonthlyBudget),
	}, nil
}
