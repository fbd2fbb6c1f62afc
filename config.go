package meterbridge

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type MeterConfig struct {
	Port string `toml:"port"`
}

type CANConfig struct {
	// Interface is the socketcan interface, empty to disable CAN publishing.
	Interface string `toml:"interface"`
}

type TestModeConfig struct {
	Baud     uint32        `toml:"baud"`
	Interval time.Duration `toml:"interval"`
}

type LogConfig struct {
	Level string `toml:"level"`
	// File enables rotated file output in addition to stderr.
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

type Config struct {
	Meter    MeterConfig    `toml:"meter"`
	CAN      CANConfig      `toml:"can"`
	TestMode TestModeConfig `toml:"test_mode"`
	Log      LogConfig      `toml:"log"`
}

func DefaultConfig() Config {
	return Config{
		Meter: MeterConfig{
			Port: "/dev/ttyAMA0",
		},
		TestMode: TestModeConfig{
			Baud:     1200,
			Interval: time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// ConfigPath resolves fileName relative to the binary's directory.
func ConfigPath(fileName string) (string, error) {
	if filepath.IsAbs(fileName) {
		return fileName, nil
	}
	dir, err := filepath.Abs(filepath.Dir(os.Args[0]))
	if err != nil {
		return "", errors.Wrapf(err, "unable to determine binary location")
	}
	return filepath.Join(dir, fileName), nil
}

// LoadConfigFromReader decodes a TOML configuration. Missing keys keep their
// default.
func LoadConfigFromReader(configReader io.Reader) (Config, error) {
	config := DefaultConfig()
	if _, err := toml.NewDecoder(configReader).Decode(&config); err != nil {
		return Config{}, errors.Wrap(err, "unable to load meterbridge configuration")
	}
	if config.TestMode.Baud == 0 {
		return Config{}, errors.New("test mode baud rate must not be 0")
	}
	return config, nil
}

// ConfigureLogging applies the log level and output.
func ConfigureLogging(c LogConfig) error {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", c.Level)
	}
	log.SetLevel(level)
	if c.File == "" {
		return nil
	}
	log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
		Compress:   c.Compress,
	}))
	log.WithField("file", c.File).Info("logging to file")
	return nil
}
