package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Notify       NotifyConfig       `mapstructure:"notify"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Auth         AuthConfig         `mapstructure:"auth"`
	RateLimit    RateLimitConfig    `mapstructure:"ratelimit"`
	Stream       StreamConfig       `mapstructure:"stream"`
}

type ServerConfig struct {
	Environment string `mapstructure:"environment"`
	Port        string `mapstructure:"port"`
}

type StorageConfig struct {
	// Driver is "sqlite" (default, embedded per-device store) or "mysql".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type QueueConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// DrainInterval is the background retry sweep period. Zero disables it;
	// drains then only run on connectivity transitions or manual triggers.
	DrainInterval   time.Duration `mapstructure:"drain_interval"`
	DefaultPriority int           `mapstructure:"default_priority"`
	SendImmediate   bool          `mapstructure:"send_immediate"`
}

type ConnectivityConfig struct {
	ProbeURL      string        `mapstructure:"probe_url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

type NotifyConfig struct {
	// Channel is the redis pub/sub channel for sync events. Empty disables
	// the redis sink; the zap sink is always on.
	Channel string `mapstructure:"channel"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	SigningKey string `mapstructure:"signing_key"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
}

type StreamConfig struct {
	EventBufferSize int `mapstructure:"event_buffer_size"`
	HubBufferSize   int `mapstructure:"hub_buffer_size"`
}

func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("MIRSAL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", ":8730")
	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.dsn", "mirsal.db")
	viper.SetDefault("queue.max_retries", 3)
	viper.SetDefault("queue.request_timeout", 30*time.Second)
	viper.SetDefault("queue.drain_interval", time.Minute)
	viper.SetDefault("queue.default_priority", 0)
	viper.SetDefault("queue.send_immediate", true)
	viper.SetDefault("connectivity.probe_interval", 15*time.Second)
	viper.SetDefault("connectivity.probe_timeout", 5*time.Second)
	viper.SetDefault("stream.event_buffer_size", 256)
	viper.SetDefault("stream.hub_buffer_size", 64)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}
