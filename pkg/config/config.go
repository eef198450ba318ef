package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported broker drivers.
const (
	DriverKafkaGo = "kafka-go"
	DriverFranzGo = "franz-go"
	DriverSarama  = "sarama"
)

// Environment overrides applied after the YAML file.
const (
	envAddr   = "KPUBLISH_ADDR"
	envDriver = "KPUBLISH_DRIVER"
	envDebug  = "KPUBLISH_DEBUG"
)

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// ProducerConfig controls how producer handles talk to the broker.
type ProducerConfig struct {
	Driver                 string        `yaml:"driver"`
	DialTimeout            time.Duration `yaml:"dialTimeout"`
	SendTimeout            time.Duration `yaml:"sendTimeout"`
	RequiredAcks           string        `yaml:"requiredAcks"` // none | leader | all
	BatchSize              int           `yaml:"batchSize"`
	AllowAutoTopicCreation bool          `yaml:"allowAutoTopicCreation"`
}

type RegistryConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	VerifyOnCreate bool          `yaml:"verifyOnCreate"`
}

type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Producer ProducerConfig `yaml:"producer"`
	Registry RegistryConfig `yaml:"registry"`

	Log struct {
		Debug bool `yaml:"debug"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() AppConfig {
	cfg := AppConfig{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Producer: ProducerConfig{
			Driver:                 DriverKafkaGo,
			DialTimeout:            10 * time.Second,
			SendTimeout:            10 * time.Second,
			RequiredAcks:           "all",
			BatchSize:              1,
			AllowAutoTopicCreation: true,
		},
		Registry: RegistryConfig{
			Timeout:        5 * time.Second,
			VerifyOnCreate: true,
		},
	}
	return cfg
}

// Load reads and parses a YAML config file into an AppConfig struct.
// A missing file yields the defaults; an unreadable or invalid one is an error.
func Load(path string) (AppConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Printf("[Config] %s not found, using defaults", path)
	case err != nil:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv(envAddr); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv(envDriver); v != "" {
		cfg.Producer.Driver = v
	}
	if v := os.Getenv(envDebug); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Log.Debug = b
		} else {
			log.Printf("[Config] ignoring %s=%q: %v", envDebug, v, err)
		}
	}
}

// Validate checks the values that cannot be defaulted silently.
func (c AppConfig) Validate() error {
	switch c.Producer.Driver {
	case DriverKafkaGo, DriverFranzGo, DriverSarama:
	default:
		return fmt.Errorf("unknown producer driver %q", c.Producer.Driver)
	}
	switch c.Producer.RequiredAcks {
	case "none", "leader", "all":
	default:
		return fmt.Errorf("unknown requiredAcks %q", c.Producer.RequiredAcks)
	}
	if c.Server.Addr == "" {
		return errors.New("server addr must not be empty")
	}
	if c.Producer.BatchSize < 1 {
		return fmt.Errorf("producer batchSize must be positive, got %d", c.Producer.BatchSize)
	}
	return nil
}
