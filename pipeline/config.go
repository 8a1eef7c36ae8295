package pipeline

import (
	"os"
	"time"

	"dragonqueue/cd"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

type OutputConfig struct {
	// file, sqlite3 or postgres
	Type string `yaml:"Type"`
	Path string `yaml:"Path"`
	DSN  string `yaml:"DSN"`
}

type Config struct {
	Store    cd.Options `yaml:"Store"`
	PoolSize int        `yaml:"PoolSize"`

	List         string `yaml:"List"`
	CounterKey   string `yaml:"CounterKey"`
	InitialValue int64  `yaml:"InitialValue"`

	// number of messages, shared by producer and consumer
	Messages         int           `yaml:"Messages"`
	ProducerInterval time.Duration `yaml:"ProducerInterval"`
	ConsumerInterval time.Duration `yaml:"ConsumerInterval"`
	PopTimeout       time.Duration `yaml:"PopTimeout"`

	Output   OutputConfig `yaml:"Output"`
	LogLevel string       `yaml:"LogLevel"`
}

func DefaultConfig() Config {
	return Config{
		Store: cd.Options{
			Backend: cd.BackendRedis,
		},
		PoolSize:         2,
		List:             "queue",
		CounterKey:       "counter",
		InitialValue:     61,
		Messages:         50,
		ProducerInterval: 150 * time.Millisecond,
		ConsumerInterval: 200 * time.Millisecond,
		PopTimeout:       60 * time.Second,
		Output: OutputConfig{
			Type: "file",
			Path: "test/output.txt",
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path over DefaultConfig.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse %s", path)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Store.Backend {
	case cd.BackendRedis, cd.BackendDragon:
	default:
		return errors.Newf("unsupported store backend: %q", c.Store.Backend)
	}
	// the consumer holds a connection for the whole pop, the producer
	// needs a second one to push
	if c.PoolSize < 2 {
		return errors.Newf("PoolSize must be at least 2, got %d", c.PoolSize)
	}
	if err := cd.ValidName(c.List); err != nil {
		return errors.Wrap(err, "List")
	}
	if err := cd.ValidName(c.CounterKey); err != nil {
		return errors.Wrap(err, "CounterKey")
	}
	if c.Messages < 0 {
		return errors.New("Messages must not be negative")
	}
	if c.ProducerInterval < 0 || c.ConsumerInterval < 0 {
		return errors.New("intervals must not be negative")
	}
	if c.PopTimeout <= 0 {
		return errors.New("PopTimeout must be positive")
	}
	switch c.Output.Type {
	case "file":
		if c.Output.Path == "" {
			return errors.New("Output.Path is required for file output")
		}
	case "sqlite3":
		if c.Output.Path == "" && c.Output.DSN == "" {
			return errors.New("Output.Path or Output.DSN is required for sqlite3 output")
		}
	case "postgres":
		if c.Output.DSN == "" {
			return errors.New("Output.DSN is required for postgres output")
		}
	default:
		return errors.Newf("unsupported output type: %q", c.Output.Type)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "LogLevel")
	}
	return nil
}

func (c Config) ProducerConfig() ProducerConfig {
	return ProducerConfig{
		List:     c.List,
		Messages: c.Messages,
		Interval: c.ProducerInterval,
	}
}

func (c Config) ConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		List:     c.List,
		Messages: c.Messages,
		Interval: c.ConsumerInterval,
		Timeout:  c.PopTimeout,
	}
}
