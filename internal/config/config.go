// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the simulator configuration from a YAML file,
// MODBUS_SIM_* environment variables and command-line flags.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	modbus "github.com/edgeo-scada/modbus-sim"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. MODBUS_SIM_LISTEN or MODBUS_SIM_METRICS_LISTEN.
const EnvPrefix = "MODBUS_SIM"

// Store sharing modes.
const (
	ModeShared        = "shared"
	ModePerConnection = "per-connection"
	ModePerUnit       = "per-unit"
)

// Config defines the simulator configuration.
type Config struct {
	Listen        string        `mapstructure:"listen"`
	Mode          string        `mapstructure:"mode"`           // shared, per-connection, per-unit
	Units         string        `mapstructure:"units"`          // unit ids for per-unit mode: "1", "1,2", "1-10"
	AutoProvision bool          `mapstructure:"auto_provision"` // per-unit mode only
	MaxConns      int           `mapstructure:"max_conns"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	Metrics       MetricsConfig `mapstructure:"metrics"`
	Seed          []SeedConfig  `mapstructure:"seed"`
	Log           LogConfig     `mapstructure:"log"`
}

// MetricsConfig defines the Prometheus exporter.
type MetricsConfig struct {
	Listen           string `mapstructure:"listen"` // empty disables the exporter
	GoCollector      bool   `mapstructure:"go_collector"`
	ProcessCollector bool   `mapstructure:"process_collector"`
}

// SeedConfig gives initial values for consecutive entries of one table.
type SeedConfig struct {
	Unit    int      `mapstructure:"unit"`  // ignored outside per-unit mode
	Table   string   `mapstructure:"table"` // coils, discrete, holding, input
	Address int      `mapstructure:"address"`
	Values  []uint16 `mapstructure:"values"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// NewViper returns a viper instance with defaults and environment
// overrides installed.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults installs the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen", "127.0.0.1:5020")
	v.SetDefault("mode", ModeShared)
	v.SetDefault("units", "1")
	v.SetDefault("auto_provision", false)
	v.SetDefault("max_conns", 100)
	v.SetDefault("idle_timeout", modbus.DefaultIdleTimeout)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.go_collector", false)
	v.SetDefault("metrics.process_collector", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// Load reads configFile, or searches the default locations when it is
// empty, and returns the validated configuration. A missing file in the
// default locations is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbus-sim/")
		v.AddConfigPath("$HOME/.modbus-sim")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.Mode = strings.ToLower(strings.TrimSpace(config.Mode))
	config.Log.Level = strings.ToLower(config.Log.Level)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks every field for values the simulator cannot run with.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeShared, ModePerConnection, ModePerUnit:
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if _, err := ParseUnitIDs(c.Units); err != nil {
		return fmt.Errorf("invalid units: %w", err)
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("max_conns must be positive, got %d", c.MaxConns)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout must not be negative, got %s", c.IdleTimeout)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}

	for i, s := range c.Seed {
		if _, err := modbus.ParseTable(s.Table); err != nil {
			return fmt.Errorf("seed %d: %w", i, err)
		}
		if s.Unit < 0 || s.Unit > 255 {
			return fmt.Errorf("seed %d: unit out of range: %d", i, s.Unit)
		}
		if s.Address < 0 || s.Address+len(s.Values) > modbus.BankSize {
			return fmt.Errorf("seed %d: %d values at address %d do not fit the table", i, len(s.Values), s.Address)
		}
	}
	return nil
}

// Policy builds the store policy selected by Mode, with seed values applied.
func (c *Config) Policy() (modbus.StorePolicy, error) {
	switch c.Mode {
	case ModeShared, "":
		store := modbus.NewRegisterStore()
		if err := c.seed(store); err != nil {
			return nil, err
		}
		return modbus.Shared(store), nil

	case ModePerConnection:
		template := modbus.NewRegisterStore()
		if err := c.seed(template); err != nil {
			return nil, err
		}
		return modbus.PerConnection(template), nil

	case ModePerUnit:
		units, err := ParseUnitIDs(c.Units)
		if err != nil {
			return nil, fmt.Errorf("invalid units: %w", err)
		}
		p := modbus.PerUnit(units, c.AutoProvision)
		for _, sc := range c.Seed {
			store, err := p.Store(modbus.UnitID(sc.Unit))
			if err != nil {
				return nil, fmt.Errorf("seed for unit %d: %w", sc.Unit, err)
			}
			if err := sc.apply(store); err != nil {
				return nil, err
			}
		}
		return p, nil

	default:
		return nil, fmt.Errorf("invalid mode %q", c.Mode)
	}
}

// seed applies every seed entry to store, whatever its unit.
func (c *Config) seed(store *modbus.RegisterStore) error {
	for _, sc := range c.Seed {
		if err := sc.apply(store); err != nil {
			return err
		}
	}
	return nil
}

func (s SeedConfig) apply(store *modbus.RegisterStore) error {
	table, err := modbus.ParseTable(s.Table)
	if err != nil {
		return err
	}
	return store.Seed(table, uint16(s.Address), s.Values)
}

// ParseUnitIDs parses a unit id list such as "1,2,5-10". Duplicates are
// removed and order of first appearance is kept.
func ParseUnitIDs(input string) ([]modbus.UnitID, error) {
	var ids []modbus.UnitID
	seen := make(map[int]bool)
	add := func(id int) error {
		if id < 0 || id > 255 {
			return fmt.Errorf("id out of range: %d", id)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, modbus.UnitID(id))
		}
		return nil
	}

	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			ranges := strings.Split(part, "-")
			if len(ranges) != 2 {
				return nil, fmt.Errorf("invalid range: %s", part)
			}
			start, err := strconv.Atoi(strings.TrimSpace(ranges[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid start of range: %w", err)
			}
			end, err := strconv.Atoi(strings.TrimSpace(ranges[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid end of range: %w", err)
			}
			if start > end {
				return nil, fmt.Errorf("start of range %d is greater than end %d", start, end)
			}
			for i := start; i <= end; i++ {
				if err := add(i); err != nil {
					return nil, err
				}
			}
			continue
		}

		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid id: %w", err)
		}
		if err := add(id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}
