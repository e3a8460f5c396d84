// Package config resolves janitor settings from defaults, an optional config
// file, and RECLAIM_* environment variables. Command-line flags override all
// of these at the CLI boundary.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries every tunable the janitor honors.
type Config struct {
	// HighWaterPercent triggers reclaiming when utilization exceeds it;
	// LowWaterPercent is where reclaiming stops.
	HighWaterPercent int `mapstructure:"highWaterPercent"`
	LowWaterPercent  int `mapstructure:"lowWaterPercent"`

	// MaxCandidates caps how many index entries one eviction round examines.
	MaxCandidates int `mapstructure:"maxCandidates"`

	// QuickScanBudget bounds the wall-clock time of an incremental scan.
	QuickScanBudget time.Duration `mapstructure:"quickScanBudget"`

	// DatabaseDir holds the per-mount metadata stores.
	DatabaseDir string `mapstructure:"databaseDir"`

	// CleanupEmptyParents removes a file's parent directory after unlinking
	// when the parent turns out to be empty. Best-effort; exists as a knob
	// because some cache layouts leave deep empty directory chains behind.
	CleanupEmptyParents bool `mapstructure:"cleanupEmptyParents"`
}

// Load reads configuration from configPath when given, otherwise from an
// optional reclaim.yaml next to the working directory, applying defaults and
// environment variables either way. A missing file is fine; a malformed one
// is not.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("highWaterPercent", 70)
	v.SetDefault("lowWaterPercent", 70)
	v.SetDefault("maxCandidates", 10000)
	v.SetDefault("quickScanBudget", 40*time.Second)
	v.SetDefault("databaseDir", os.TempDir())
	v.SetDefault("cleanupEmptyParents", true)

	v.SetEnvPrefix("reclaim")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("reclaim")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HighWaterPercent < 0 || c.HighWaterPercent > 100 {
		return fmt.Errorf("highWaterPercent %d out of range", c.HighWaterPercent)
	}
	if c.LowWaterPercent < 0 || c.LowWaterPercent > 100 {
		return fmt.Errorf("lowWaterPercent %d out of range", c.LowWaterPercent)
	}
	if c.LowWaterPercent > c.HighWaterPercent {
		return fmt.Errorf("lowWaterPercent %d exceeds highWaterPercent %d",
			c.LowWaterPercent, c.HighWaterPercent)
	}
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("maxCandidates must be positive, got %d", c.MaxCandidates)
	}
	if c.QuickScanBudget <= 0 {
		return fmt.Errorf("quickScanBudget must be positive, got %s", c.QuickScanBudget)
	}
	return nil
}
