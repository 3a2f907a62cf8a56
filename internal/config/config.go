// Package config handles configuration loading for hegic-greeks.
// It layers defaults, an optional YAML config file, and HEGIC_* environment
// variable overrides, then validates the result.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the complete application configuration.
type Config struct {
	// Asset selects the options pool to analyze: "bitcoin" or "ethereum".
	Asset string `mapstructure:"asset" validate:"required,oneof=bitcoin ethereum"`

	// SubgraphURL is the Graph-node endpoint holding the option records.
	SubgraphURL string `mapstructure:"subgraph_url" validate:"required,url"`

	// SpotURL is the root of the CoinGecko-compatible price API.
	SpotURL string `mapstructure:"spot_url" validate:"required,url"`

	// Query overrides the built-in options query when non-empty.
	Query string `mapstructure:"query"`

	// Filter is an optional row predicate evaluated over cleaned rows,
	// e.g. `strike > 2000 && type == "c"`. Empty means keep everything.
	Filter string `mapstructure:"filter"`

	// ReportDir is where the CSV/JSON result tables are written.
	ReportDir string `mapstructure:"report_dir" validate:"required"`

	// TimeoutSec bounds each of the two network calls. Zero disables it.
	TimeoutSec int `mapstructure:"timeout_sec" validate:"gte=0"`

	// Verbosity maps onto the logger levels (0=error .. 3=trace).
	Verbosity int `mapstructure:"verbosity" validate:"gte=0,lte=3"`
}

// Timeout returns the per-call HTTP timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// Load reads the configuration.
//
// Precedence, lowest to highest: built-in defaults, the config file
// (explicit path, else ./hegic.yaml), HEGIC_* environment variables
// (e.g. HEGIC_SUBGRAPH_URL). A missing config file is fine; an unreadable or
// invalid one is not.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hegic")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("HEGIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("asset", "ethereum")
	v.SetDefault("subgraph_url", "https://api.thegraph.com/subgraphs/name/ppunky/hegic-v888")
	v.SetDefault("spot_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("query", "")
	v.SetDefault("filter", "")
	v.SetDefault("report_dir", "reports")
	v.SetDefault("timeout_sec", 30)
	v.SetDefault("verbosity", 1)
}
