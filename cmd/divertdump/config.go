package main

import (
	"strings"

	"github.com/netdivert/divert"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	// DLL is the path of WinDivert.dll, empty uses the default search order.
	DLL     string        `mapstructure:"dll"`
	Log     LogConfig     `mapstructure:"log"`
	Capture CaptureConfig `mapstructure:"capture"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text | json
}

type CaptureConfig struct {
	Filter      string `mapstructure:"filter"`
	Layer       string `mapstructure:"layer"`
	Priority    int16  `mapstructure:"priority"`
	Batch       int    `mapstructure:"batch"`
	Count       int    `mapstructure:"count"` // 0 captures until interrupted
	Sniff       bool   `mapstructure:"sniff"`
	QueueLength uint64 `mapstructure:"queue_length"` // 0 keeps the driver default
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("DIVERTDUMP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dll", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("capture.filter", "true")
	v.SetDefault("capture.layer", "network")
	v.SetDefault("capture.priority", 0)
	v.SetDefault("capture.batch", 16)
	v.SetDefault("capture.count", 0)
	v.SetDefault("capture.sniff", true)
	v.SetDefault("capture.queue_length", 0)
}

// loadConfig reads the optional config file at path into v and decodes the
// merged file, environment and flag values.
func loadConfig(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.WithStack(err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("unknown log format %q", c.Log.Format)
	}

	if _, err := parseLayer(c.Capture.Layer); err != nil {
		return err
	}
	if c.Capture.Filter == "" {
		return errors.New("empty capture filter")
	}
	if c.Capture.Priority > divert.PriorityHighest || c.Capture.Priority < divert.PriorityLowest {
		return errors.Errorf("priority %d out of range [%d, %d]", c.Capture.Priority, divert.PriorityLowest, divert.PriorityHighest)
	}
	if c.Capture.Batch < 1 || c.Capture.Batch > divert.BatchMax {
		return errors.Errorf("batch %d out of range [1, %d]", c.Capture.Batch, divert.BatchMax)
	}
	if c.Capture.Count < 0 {
		return errors.Errorf("negative count %d", c.Capture.Count)
	}
	if q := c.Capture.QueueLength; q != 0 && (q < divert.QueueLengthMin || q > divert.QueueLengthMax) {
		return errors.Errorf("queue length %d out of range [%d, %d]", q, divert.QueueLengthMin, divert.QueueLengthMax)
	}
	return nil
}

func parseLayer(s string) (divert.Layer, error) {
	for _, l := range []divert.Layer{divert.Network, divert.NetworkForward, divert.Flow, divert.Socket, divert.Reflect} {
		if strings.EqualFold(s, l.String()) {
			return l, nil
		}
	}
	return 0, errors.Errorf("unknown layer %q", s)
}

// newLogger builds the logger described by c.
func (c LogConfig) newLogger() logrus.FieldLogger {
	l := logrus.New()
	if c.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	return l
}
