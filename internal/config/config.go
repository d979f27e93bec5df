// Package config defines all configuration for the feed engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via MF_* environment variables. Both the
// config file and the credentials file are optional: a missing file yields
// built-in defaults, never an error.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"marketfeed/internal/adapter/deribit"
	"marketfeed/internal/adapter/terminal"
	"marketfeed/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Tabs            []types.TabConfig `mapstructure:"tabs"`
	Adapters        AdaptersConfig    `mapstructure:"adapters"`
	SymbolSheet     string            `mapstructure:"symbol_sheet"`
	CredentialsFile string            `mapstructure:"credentials_file"`
	Logging         LoggingConfig     `mapstructure:"logging"`
}

// AdaptersConfig groups the per-vendor endpoint settings.
type AdaptersConfig struct {
	Deribit  deribit.Config  `mapstructure:"deribit"`
	Terminal terminal.Config `mapstructure:"terminal"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: MF_CLIENT_ID, MF_CLIENT_SECRET.
// A missing config file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("adapters.deribit.http_url", "https://www.deribit.com/api/v2")
	v.SetDefault("adapters.deribit.ws_url", "wss://www.deribit.com/ws/api/v2")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if id := os.Getenv("MF_CLIENT_ID"); id != "" {
		cfg.Adapters.Deribit.ClientID = id
	}
	if secret := os.Getenv("MF_CLIENT_SECRET"); secret != "" {
		cfg.Adapters.Deribit.ClientSecret = secret
	}

	// Credentials file fills anything the env left empty.
	creds := LoadCredentials(cfg.CredentialsFile)
	if cfg.Adapters.Deribit.ClientID == "" {
		cfg.Adapters.Deribit.ClientID = creds["client_id"]
	}
	if cfg.Adapters.Deribit.ClientSecret == "" {
		cfg.Adapters.Deribit.ClientSecret = creds["client_secret"]
	}

	return &cfg, nil
}

// LoadCredentials reads a flat key/value credentials file (JSON or YAML).
// Missing or unreadable files yield an empty map; credentials are optional.
func LoadCredentials(path string) map[string]string {
	if path == "" {
		return map[string]string{}
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return map[string]string{}
	}

	out := make(map[string]string)
	for _, key := range v.AllKeys() {
		out[key] = v.GetString(key)
	}
	return out
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Tabs))
	for i, tab := range c.Tabs {
		if tab.TabName == "" {
			return fmt.Errorf("tabs[%d].tab_name is required", i)
		}
		if seen[tab.TabName] {
			return fmt.Errorf("tabs[%d].tab_name %q is duplicated", i, tab.TabName)
		}
		seen[tab.TabName] = true

		if tab.BaseSymbol == "" {
			return fmt.Errorf("tab %q: base_symbol is required", tab.TabName)
		}
		switch tab.Settlement {
		case types.SettlementCoin, types.SettlementUSD, "":
		default:
			return fmt.Errorf("tab %q: settlement must be %q or %q", tab.TabName, types.SettlementCoin, types.SettlementUSD)
		}
		if tab.Source == "" {
			return fmt.Errorf("tab %q: source is required", tab.TabName)
		}
	}
	return nil
}
