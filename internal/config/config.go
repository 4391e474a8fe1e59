package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"notifyhub/pkg/circuitbreaker"
	"notifyhub/pkg/config"
)

type StorageConfig struct {
	// Driver: postgres | memory
	Driver  string `yaml:"driver"`
	Migrate bool   `yaml:"migrate"`
}

type IntakeConfig struct {
	// Source: kafka | amqp
	Source string `yaml:"source"`
}

type PushConfig struct {
	// Transport: amqp | redis | log
	Transport string                `yaml:"transport"`
	Exchange  string                `yaml:"exchange"`
	Breaker   circuitbreaker.Config `yaml:"breaker"`
}

type FanoutConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
}

type DLQConfig struct {
	RetryInterval   time.Duration `yaml:"retry_interval"`
	RetryCounterTTL time.Duration `yaml:"retry_counter_ttl"`
	// RetryRate: entries replayed per second, 0 = unlimited
	RetryRate float64 `yaml:"retry_rate"`
}

type Config struct {
	Server  config.ServerConfig `yaml:"server"`
	DB      config.DBConfig     `yaml:"db"`
	Storage StorageConfig       `yaml:"storage"`
	Intake  IntakeConfig        `yaml:"intake"`
	Kafka   config.KafkaConfig  `yaml:"kafka"`
	MQ      config.MQConfig     `yaml:"mq"`
	Redis   config.RedisConfig  `yaml:"redis"`
	Push    PushConfig          `yaml:"push"`
	Fanout  FanoutConfig        `yaml:"fanout"`
	DLQ     DLQConfig           `yaml:"dlq"`
	Otel    config.OtelConfig   `yaml:"otel"`
	Log     config.LogConfig    `yaml:"log"`
}

// Load 使用统一配置中心：CONFIG_ENV 选择环境，CONFIG_DIR 指定目录
func Load() (*Config, error) {
	return LoadFrom(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
}

func LoadFrom(env, dir string) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg := defaults()
	if err := config.Decode(cfgMap, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideKafkaFromEnv(&cfg.Kafka)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideOtelFromEnv(&cfg.Otel)
	config.OverrideLogFromEnv(&cfg.Log)
	overrideFromEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server:  config.ServerConfig{Port: "8080", ShutdownTimeout: 10 * time.Second},
		Storage: StorageConfig{Driver: "postgres"},
		Intake:  IntakeConfig{Source: "kafka"},
		Push:    PushConfig{Transport: "log", Exchange: "notifications.push"},
		Fanout:  FanoutConfig{MaxConcurrency: 16},
		DLQ:     DLQConfig{RetryCounterTTL: 7 * 24 * time.Hour},
		Log:     config.LogConfig{Level: "info"},
	}
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("INTAKE_SOURCE"); v != "" {
		cfg.Intake.Source = v
	}
	if v := os.Getenv("PUSH_TRANSPORT"); v != "" {
		cfg.Push.Transport = v
	}
	if v := os.Getenv("FANOUT_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Fanout.MaxConcurrency = n
		}
	}
	if v := os.Getenv("DLQ_RETRY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DLQ.RetryInterval = d
		}
	}
	if v := os.Getenv("DLQ_RETRY_RATE"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DLQ.RetryRate = r
		}
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("storage.driver: unsupported value %q", c.Storage.Driver)
	}
	switch c.Intake.Source {
	case "kafka", "amqp", "none":
	default:
		return fmt.Errorf("intake.source: unsupported value %q", c.Intake.Source)
	}
	switch c.Push.Transport {
	case "amqp", "redis", "log":
	default:
		return fmt.Errorf("push.transport: unsupported value %q", c.Push.Transport)
	}
	if c.Intake.Source == "kafka" && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka: brokers and topic are required when intake.source is kafka")
	}
	return nil
}
