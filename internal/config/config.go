package config

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	pkgconfig "github.com/weiawesome/groupwatch/pkg/config"
	pkglog "github.com/weiawesome/groupwatch/pkg/log"
	"github.com/weiawesome/groupwatch/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Room      RoomConfig      `mapstructure:"room"`
	Events    EventsConfig    `mapstructure:"events"`
	PubSub    pubsub.Config   `mapstructure:"pubsub"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Log       pkglog.Config   `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// RoomConfig bounds the client-supplied strings accepted by the relay.
type RoomConfig struct {
	MaxRoomIDLength   int `mapstructure:"max_room_id_length"`
	MaxUsernameLength int `mapstructure:"max_username_length"`
	MaxMessageLength  int `mapstructure:"max_message_length"`
}

type EventsConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

type RegistryConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Address           string        `mapstructure:"address"`
	Password          string        `mapstructure:"password"`
	DB                int           `mapstructure:"db"`
	Prefix            string        `mapstructure:"prefix"`
	KeyTTL            time.Duration `mapstructure:"key_ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	AdvertiseAddress  string        `mapstructure:"advertise_address"`
}

var defaults = map[string]interface{}{
	"server.host":             "0.0.0.0",
	"server.port":             5000,
	"server.read_timeout":     "15s",
	"server.idle_timeout":     "60s",
	"server.shutdown_timeout": "30s",

	"grpc.enabled": true,
	"grpc.port":    5001,

	"websocket.ping_interval":    "30s",
	"websocket.pong_wait":        "60s",
	"websocket.write_wait":       "10s",
	"websocket.max_message_size": 65536,
	"websocket.send_buffer":      256,
	"websocket.allowed_origins":  []string{},

	"room.max_room_id_length":  128,
	"room.max_username_length": 64,
	"room.max_message_length":  2000,

	"events.queue_size": 1024,

	"pubsub.driver":              pubsub.DriverNone,
	"pubsub.buffer_size":         100,
	"pubsub.redis.address":       "localhost:6379",
	"pubsub.redis.password":      "",
	"pubsub.redis.db":            0,
	"pubsub.redis.pool_size":     10,
	"pubsub.redis.read_timeout":  "3s",
	"pubsub.redis.write_timeout": "3s",
	"pubsub.kafka.brokers":       "localhost:9092",
	"pubsub.kafka.group_id":      "",
	"pubsub.kafka.partitions":    4,

	"registry.enabled":            false,
	"registry.address":            "localhost:6379",
	"registry.password":           "",
	"registry.db":                 0,
	"registry.prefix":             "groupwatch",
	"registry.key_ttl":            "30s",
	"registry.heartbeat_interval": "10s",
	"registry.advertise_address":  "",

	"log.level":        "info",
	"log.pretty":       false,
	"log.service_name": "groupwatch",
	"log.instance_id":  "",
}

// Load reads ./config/config.yaml, applies defaults and environment
// overrides. PORT and CLIENT_ORIGIN are honoured for compatibility with
// common hosting platforms.
func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	if err := pkgconfig.SetDefaults(v, defaults); err != nil {
		return nil, err
	}

	v.BindEnv("server.port", "SERVER_PORT", "PORT")
	v.BindEnv("pubsub.redis.address", "PUBSUB_REDIS_ADDRESS", "REDIS_ADDRESS")
	v.BindEnv("registry.address", "REGISTRY_ADDRESS", "REDIS_ADDRESS")
	v.BindEnv("pubsub.kafka.brokers", "PUBSUB_KAFKA_BROKERS", "KAFKA_BROKERS")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if origin := os.Getenv("CLIENT_ORIGIN"); origin != "" && len(cfg.WebSocket.AllowedOrigins) == 0 {
		cfg.WebSocket.AllowedOrigins = []string{origin}
	}

	cfg.Server.ReadTimeout = parseDuration(v, "server.read_timeout", 15*time.Second)
	cfg.Server.IdleTimeout = parseDuration(v, "server.idle_timeout", 60*time.Second)
	cfg.Server.ShutdownTimeout = parseDuration(v, "server.shutdown_timeout", 30*time.Second)
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.PubSub.Redis.ReadTimeout = parseDuration(v, "pubsub.redis.read_timeout", 3*time.Second)
	cfg.PubSub.Redis.WriteTimeout = parseDuration(v, "pubsub.redis.write_timeout", 3*time.Second)
	cfg.Registry.KeyTTL = parseDuration(v, "registry.key_ttl", 30*time.Second)
	cfg.Registry.HeartbeatInterval = parseDuration(v, "registry.heartbeat_interval", 10*time.Second)

	if cfg.Log.InstanceID == "" {
		cfg.Log.InstanceID = instanceID()
	}
	if cfg.PubSub.Kafka.GroupID == "" {
		cfg.PubSub.Kafka.GroupID = "groupwatch-" + cfg.Log.InstanceID
	}

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.New().String()[:8]
}
