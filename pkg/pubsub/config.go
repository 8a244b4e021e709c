package pubsub

import (
	"fmt"
	"time"
)

// Supported drivers.
const (
	DriverRedis = "redis"
	DriverKafka = "kafka"
	DriverNone  = "none"
)

// KafkaConfig holds Kafka-specific configuration.
type KafkaConfig struct {
	Brokers    string `mapstructure:"brokers"`
	GroupID    string `mapstructure:"group_id"`
	Partitions int    `mapstructure:"partitions"`
}

// RedisConfig holds Redis-specific configuration.
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Config selects and configures the bus driver.
type Config struct {
	Driver     string      `mapstructure:"driver"`
	BufferSize int         `mapstructure:"buffer_size"`
	Redis      RedisConfig `mapstructure:"redis"`
	Kafka      KafkaConfig `mapstructure:"kafka"`
}

// Enabled reports whether a real bus should be created.
func (c Config) Enabled() bool {
	return c.Driver != "" && c.Driver != DriverNone
}

// NewPubSub creates the driver named in cfg.
func NewPubSub(cfg Config) (PubSub, error) {
	switch cfg.Driver {
	case DriverKafka:
		return NewKafkaPubSub(cfg.Kafka, cfg.BufferSize)
	case DriverRedis:
		return NewRedisPubSub(cfg.Redis, cfg.BufferSize)
	default:
		return nil, fmt.Errorf("unsupported pubsub driver %q", cfg.Driver)
	}
}

func bufferOrDefault(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
