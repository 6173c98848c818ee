// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads smastat settings from an optional YAML file, a .env
// file and SMASTAT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Thermoquad/smastat/pkg/backoff"
	"github.com/Thermoquad/smastat/pkg/smabt"
)

// EnvPrefix is prepended to every environment variable key
const EnvPrefix = "SMASTAT"

// ConnectionConfig selects the transport to the inverter
type ConnectionConfig struct {
	Port     string `mapstructure:"port"`
	Baud     int    `mapstructure:"baud"`
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
}

// InverterConfig identifies the inverter and the local Bluetooth adapter
type InverterConfig struct {
	Address  string `mapstructure:"address"`
	Client   string `mapstructure:"client"`
	Password string `mapstructure:"password"`
}

// BackoffConfig parameterises the reconnect timer
type BackoffConfig struct {
	Initial    time.Duration `mapstructure:"initial"`
	Multiplier float64       `mapstructure:"multiplier"`
	Max        time.Duration `mapstructure:"max"`
}

// SessionConfig bounds the request path
type SessionConfig struct {
	MinSpacing  time.Duration `mapstructure:"min_spacing"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// LumberjackConfig configures log file rotation
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig sets level, encoding and the optional rotating file
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MQTTConfig describes the broker telemetry is published to
type MQTTConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	BaseTopic string `mapstructure:"base_topic"`
}

// Enabled reports whether a broker is configured
func (m MQTTConfig) Enabled() bool {
	return m.Host != ""
}

// MetricsConfig sets the Prometheus listen address; empty disables it
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

// Config is the top level configuration
type Config struct {
	Connection ConnectionConfig `mapstructure:"connection"`
	Inverter   InverterConfig   `mapstructure:"inverter"`
	Backoff    BackoffConfig    `mapstructure:"backoff"`
	Session    SessionConfig    `mapstructure:"session"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// flagKeys maps CLI flag names to config keys
var flagKeys = map[string]string{
	"port":       "connection.port",
	"baud":       "connection.baud",
	"url":        "connection.url",
	"username":   "connection.username",
	"inverter":   "inverter.address",
	"client":     "inverter.client",
	"log-level":  "logging.level",
	"log-format": "logging.format",
	"log-file":   "logging.file.filename",
}

// Load reads configuration. path may be empty, in which case SMASTAT_CONFIG
// or ./smastat.yaml is tried. Flags present in fs override every other source.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	// A missing .env is normal
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("smastat")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("connection.port", "")
	v.SetDefault("connection.baud", 115200)
	v.SetDefault("connection.url", "")
	v.SetDefault("connection.username", "admin")

	v.SetDefault("inverter.address", "")
	v.SetDefault("inverter.client", "")
	v.SetDefault("inverter.password", "")

	v.SetDefault("backoff.initial", backoff.DefaultInitial)
	v.SetDefault("backoff.multiplier", backoff.DefaultMultiplier)
	v.SetDefault("backoff.max", backoff.DefaultMax)

	v.SetDefault("session.min_spacing", "1s")
	v.SetDefault("session.timeout", "10s")
	v.SetDefault("session.max_attempts", 3)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.max_size", 10)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age", 28)
	v.SetDefault("logging.file.compress", false)

	v.SetDefault("mqtt.host", "")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.base_topic", "smastat")

	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.path", "/metrics")
}

var topicPattern = regexp.MustCompile("^[a-z0-9_]+$")

// CheckMQTTTopic lowercases a base topic and rejects anything other than
// letters, digits and underscores
func CheckMQTTTopic(topic string) (string, error) {
	lower := strings.ToLower(topic)
	if !topicPattern.MatchString(lower) {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lower, nil
}

// Validate checks value ranges and normalises the MQTT base topic
func (c *Config) Validate() error {
	if c.Inverter.Address != "" {
		if _, err := smabt.ParseAddress(c.Inverter.Address); err != nil {
			return fmt.Errorf("config param inverter.address: %w", err)
		}
	}
	if c.Inverter.Client != "" {
		if _, err := smabt.ParseAddress(c.Inverter.Client); err != nil {
			return fmt.Errorf("config param inverter.client: %w", err)
		}
	}
	if len(c.Inverter.Password) > smabt.PasswordSize {
		return fmt.Errorf("config param inverter.password: %w", smabt.ErrPasswordTooLong)
	}

	if _, err := backoff.New(c.Backoff.Initial, c.Backoff.Multiplier, c.Backoff.Max); err != nil {
		return fmt.Errorf("config section backoff: %w", err)
	}

	if c.Session.MinSpacing < 0 {
		return errors.New("config param session.min_spacing should be >= 0")
	}
	if c.Session.Timeout <= 0 {
		return errors.New("config param session.timeout should be > 0")
	}
	if c.Session.MaxAttempts < 1 {
		return errors.New("config param session.max_attempts should be >= 1")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("config param logging.format: unknown format %q", c.Logging.Format)
	}

	if c.MQTT.Enabled() {
		if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
			return fmt.Errorf("config param mqtt.port out of range: %d", c.MQTT.Port)
		}
		topic, err := CheckMQTTTopic(c.MQTT.BaseTopic)
		if err != nil {
			return fmt.Errorf("config param mqtt.base_topic: %w", err)
		}
		c.MQTT.BaseTopic = topic
	}

	return nil
}

// InverterAddress parses inverter.address
func (c *Config) InverterAddress() (smabt.Address, error) {
	if c.Inverter.Address == "" {
		return smabt.Address{}, errors.New("inverter address not configured (--inverter or SMASTAT_INVERTER_ADDRESS)")
	}
	return smabt.ParseAddress(c.Inverter.Address)
}

// ClientAddress parses inverter.client, falling back to the unknown address
func (c *Config) ClientAddress() (smabt.Address, error) {
	if c.Inverter.Client == "" {
		return smabt.AddressUnknown, nil
	}
	return smabt.ParseAddress(c.Inverter.Client)
}
