// Package config loads daemon configuration from a TOML file, command
// line flags, and built-in defaults. Flags override file values, which
// override defaults. The ANEMETER_CONFIG environment variable points
// at an explicit config file; otherwise /etc and ~/.config/anemeter
// are searched for anemeter.toml.
package config

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"codeberg.org/halvard/anemeter/internal/errors"
	"codeberg.org/halvard/anemeter/internal/model"
)

const (
	DefaultInterval    = 1000 // milliseconds
	DefaultLogLevel    = "info"
	DefaultBinPath     = "/usr/bin/powermetrics"
	DefaultTelemetryDB = "/var/lib/anemeter/telemetry.db"
	configEnvVar       = "ANEMETER_CONFIG"
)

var errFactory = errors.New()

type Config struct {
	Interval     int     `mapstructure:"interval"`      // sampling interval in milliseconds
	MaxANEPower  float64 `mapstructure:"max_ane_power"` // assumed peak ANE power in milliwatts
	Powermetrics string  `mapstructure:"powermetrics"`  // path to the powermetrics binary
	LogLevel     string  `mapstructure:"log_level"`
	Monitor      bool    `mapstructure:"monitor"` // log each sample to the console
	Once         bool    `mapstructure:"once"`    // take a single sample and exit
	Telemetry    bool    `mapstructure:"telemetry"`
	TelemetryDB  string  `mapstructure:"database"`
}

func Load() (*Config, error) {
	fs := pflag.NewFlagSet("anemeter", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true

	fs.Int("interval", DefaultInterval, "Sampling interval in milliseconds")
	fs.Float64("max-ane-power", model.DefaultMaxANEPowerMW, "Assumed peak ANE power draw in milliwatts")
	fs.String("powermetrics", DefaultBinPath, "Path to the powermetrics binary")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Bool("monitor", false, "Log each sample to the console")
	fs.Bool("once", false, "Take a single sample, print it, and exit")
	fs.Bool("telemetry", false, "Record samples to the telemetry database")
	fs.String("database", DefaultTelemetryDB, "Path to the telemetry database")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("max_ane_power", model.DefaultMaxANEPowerMW)
	v.SetDefault("powermetrics", DefaultBinPath)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("monitor", false)
	v.SetDefault("once", false)
	v.SetDefault("telemetry", false)
	v.SetDefault("database", DefaultTelemetryDB)

	if path := os.Getenv(configEnvVar); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName("anemeter")
		v.AddConfigPath("/etc")
		v.AddConfigPath("$HOME/.config/anemeter")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	// Flags that were set explicitly override file values
	fs.Visit(func(f *pflag.Flag) {
		v.Set(strings.ReplaceAll(f.Name, "-", "_"), f.Value.String())
	})

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks configuration invariants that the collector depends on
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if c.MaxANEPower <= 0 {
		return errFactory.WithData(errors.ErrInvalidMaxPower, c.MaxANEPower)
	}
	if c.Powermetrics == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "powermetrics path is empty")
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Telemetry && c.TelemetryDB == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "telemetry enabled without a database path")
	}

	return nil
}
