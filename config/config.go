package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Log          LogConfig          `mapstructure:"log"`
	Stream       StreamConfig       `mapstructure:"stream"`
	Achievements AchievementsConfig `mapstructure:"achievements"`
}

type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Driver is "sqlite3" or "pgx".
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Redis is only used as a fan-out relay between instances.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type AuthConfig struct {
	SessionSecret string `mapstructure:"session_secret"`
	// PushTokenHash is a bcrypt hash of the token required by the internal push endpoint.
	// Empty disables the endpoint.
	PushTokenHash string `mapstructure:"push_token_hash"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StreamConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	SendBuffer        int           `mapstructure:"send_buffer"`
}

type AchievementsConfig struct {
	// TaskQueueSize bounds the side-effect queue (notification emails).
	TaskQueueSize int `mapstructure:"task_queue_size"`
	// ConflictRetries bounds conditional-write retries per increment.
	ConflictRetries int `mapstructure:"conflict_retries"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:8080"})

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "./fishtrip.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "achievements:fanout")

	v.SetDefault("auth.session_secret", "your-secret-key-change-this-in-production")
	v.SetDefault("auth.push_token_hash", "")

	v.SetDefault("log.level", "info")

	v.SetDefault("stream.heartbeat_interval", 30*time.Second)
	v.SetDefault("stream.heartbeat_timeout", 60*time.Second)
	v.SetDefault("stream.sweep_interval", 30*time.Second)
	v.SetDefault("stream.send_buffer", 64)

	v.SetDefault("achievements.task_queue_size", 256)
	v.SetDefault("achievements.conflict_retries", 3)
}

// Load reads config.yaml (and config.local.yaml on top of it) from the given
// paths, then environment variables prefixed with FISHTRIP_. A missing file is
// not an error; defaults apply.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("FISHTRIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	} else {
		// Local overrides, ignored by git.
		v.SetConfigName("config.local")
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
