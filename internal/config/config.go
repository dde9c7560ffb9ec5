// Package config loads bench settings from a file, HIL_ environment
// variables and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"go.tigermatt.uk/hil/protocol"
	"go.tigermatt.uk/hil/scaling"
)

// Scaling names the strategy used for each signal.
type Scaling struct {
	PWM         string `mapstructure:"pwm"`
	Current     string `mapstructure:"current"`
	Temperature string `mapstructure:"temperature"`
}

// HIL is the binary channel to the simulation board.
type HIL struct {
	Port       string        `mapstructure:"port"`
	Baud       int           `mapstructure:"baud"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Settle     time.Duration `mapstructure:"settle"`
	Attempts   int           `mapstructure:"attempts"`
	RetryDelay time.Duration `mapstructure:"retryDelay"`
	Shape      string        `mapstructure:"shape"`
	Scaling    Scaling       `mapstructure:"scaling"`
}

// Illuminator is the JSON channel to the device under test.
type Illuminator struct {
	Port    string        `mapstructure:"port"`
	Baud    int           `mapstructure:"baud"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogFile configures lumberjack rotation. An empty Filename disables file
// output.
type LogFile struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

type Logging struct {
	Level  string  `mapstructure:"level"`
	Format string  `mapstructure:"format"`
	File   LogFile `mapstructure:"file"`
}

// Soak paces the long-running ping loop.
type Soak struct {
	Interval    time.Duration `mapstructure:"interval"`
	MetricsAddr string        `mapstructure:"metricsAddr"`
}

type Config struct {
	Debug       bool        `mapstructure:"debug"`
	HIL         HIL         `mapstructure:"hil"`
	Illuminator Illuminator `mapstructure:"illuminator"`
	Logging     Logging     `mapstructure:"logging"`
	Soak        Soak        `mapstructure:"soak"`
}

// Load reads path, or hil.{yaml,toml,json} in the working directory when
// path is empty. A missing default file is not an error. HIL_HIL_PORT
// overrides hil.port and so on.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("hil")
	}

	setDefaults(v)

	v.SetEnvPrefix("HIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
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
	v.SetDefault("debug", false)

	v.SetDefault("hil.port", "")
	v.SetDefault("hil.baud", 115200)
	v.SetDefault("hil.timeout", "5s")
	v.SetDefault("hil.settle", "100ms")
	v.SetDefault("hil.attempts", 3)
	v.SetDefault("hil.retryDelay", "2s")
	v.SetDefault("hil.shape", protocol.ShapeStatus.String())
	v.SetDefault("hil.scaling.pwm", scaling.Direct)
	v.SetDefault("hil.scaling.current", scaling.Fixed1023MA)
	v.SetDefault("hil.scaling.temperature", scaling.Tenths)

	v.SetDefault("illuminator.port", "")
	v.SetDefault("illuminator.baud", 115200)
	v.SetDefault("illuminator.timeout", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 20)
	v.SetDefault("logging.file.maxBackups", 5)
	v.SetDefault("logging.file.maxAge", 14)
	v.SetDefault("logging.file.compress", false)

	v.SetDefault("soak.interval", "1s")
	v.SetDefault("soak.metricsAddr", ":9464")
}

// Validate rejects settings the dispatchers cannot use.
func (c *Config) Validate() error {
	if c.HIL.Attempts < 1 {
		return fmt.Errorf("hil.attempts must be at least 1, got %d", c.HIL.Attempts)
	}
	if c.HIL.Baud <= 0 || c.Illuminator.Baud <= 0 {
		return errors.New("baud rates must be positive")
	}
	if c.HIL.Settle < 0 || c.HIL.RetryDelay < 0 {
		return errors.New("hil.settle and hil.retryDelay must not be negative")
	}
	if _, err := c.Shape(); err != nil {
		return fmt.Errorf("hil.shape: %w", err)
	}
	if _, err := c.Profile(); err != nil {
		return fmt.Errorf("hil.scaling: %w", err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q: want console or json", c.Logging.Format)
	}
	return nil
}

// Shape is the parsed hil.shape.
func (c *Config) Shape() (protocol.Shape, error) {
	return protocol.ParseShape(c.HIL.Shape)
}

// Profile is the parsed hil.scaling.
func (c *Config) Profile() (scaling.Profile, error) {
	s := c.HIL.Scaling
	return scaling.NewProfile(s.PWM, s.Current, s.Temperature)
}
