// Package config loads pgreplicate's configuration from a YAML file,
// environment variables, or flags, the same layering
// edgeflare-pgo's pkg/config uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/quayio/pgreplicate/pkg/session"
)

// Config is the on-disk/ environment shape of pgreplicate's settings,
// mapped onto session.Config and the Kinesis sink's own options.
type Config struct {
	Source  SourceConfig  `mapstructure:"source"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type SourceConfig struct {
	Host                  string        `mapstructure:"host"`
	Port                  uint16        `mapstructure:"port"`
	Username              string        `mapstructure:"username"`
	Password              string        `mapstructure:"password"`
	Database              string        `mapstructure:"database"`
	Plugin                string        `mapstructure:"plugin"`
	Slot                  string        `mapstructure:"slot"`
	CreateSlot            bool          `mapstructure:"createSlot"`
	DropSlotOnStop        bool          `mapstructure:"dropSlotOnStop"`
	RetryInitialConnect   bool          `mapstructure:"retryInitialConnect"`
	StandbyMessageTimeout time.Duration `mapstructure:"standbyMessageTimeout"`
	ConnectionTimeout     time.Duration `mapstructure:"connectionTimeout"`
}

// SinkConfig selects and configures the example Kinesis sink (see
// examples/kinesis). A real deployment would swap this for its own
// session.Handler implementation.
type SinkConfig struct {
	Stream        string   `mapstructure:"stream"`
	IncludeTables []string `mapstructure:"includeTables"`
	ExcludeTables []string `mapstructure:"excludeTables"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Namespace  string `mapstructure:"namespace"`
	ListenAddr string `mapstructure:"listenAddr"`
}

// SessionConfig projects Config's Source section onto session.Config.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		Host:                  c.Source.Host,
		Port:                  c.Source.Port,
		Username:              c.Source.Username,
		Password:              c.Source.Password,
		Database:              c.Source.Database,
		ProgName:              "pgreplicate",
		Plugin:                c.Source.Plugin,
		Slot:                  c.Source.Slot,
		CreateSlot:            c.Source.CreateSlot,
		DropSlotOnStop:        c.Source.DropSlotOnStop,
		RetryInitialConnect:   c.Source.RetryInitialConnect,
		StandbyMessageTimeout: c.Source.StandbyMessageTimeout,
		ConnectionTimeout:     c.Source.ConnectionTimeout,
	}
}

func defaults() Config {
	return Config{
		Source: SourceConfig{
			Database: "replication",
			Plugin:   "test_decoding",
			Slot:     "pgreplicate",
		},
		Log: LogConfig{Level: "info"},
		Metrics: MetricsConfig{
			Namespace:  "pgreplicate",
			ListenAddr: ":9420",
		},
	}
}

// Load reads configuration from cfgFile (if set), otherwise searches
// $HOME/.config/pgreplicate.yaml and ./pgreplicate.yaml, then overlays
// PGREPLICATE_-prefixed environment variables, matching
// edgeflare-pgo's config.Load layering.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pgreplicate")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("PGREPLICATE")

	cfg := defaults()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &cfg, nil
}
