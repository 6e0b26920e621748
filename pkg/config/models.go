package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Collab    CollabConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

type CollabConfig struct {
	// SaveDebounce is the coalescing window: a burst of edits produces one
	// durable write, timed from the last edit in the burst.
	SaveDebounce time.Duration `mapstructure:"saveDebounce"`
}

type RedisConfig struct {
	URL string
}

type PostgresConfig struct {
	URL string
}

type LogConfig struct {
	Level  string
	Format string // "text" or "json"
}
