package config

import (
	"strconv"
	"strings"
	"time"

	"linguaconnect-signaling/pkg/constants"
	"linguaconnect-signaling/pkg/env"
)

// Config holds the signaling service configuration, read from the environment
type Config struct {
	Env         string
	ServiceName string
	Port        int

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	JWTSecret string

	RingTimeout      time.Duration
	PresenceTTL      time.Duration
	MaxConnections   int
	AllowedOrigins   []string
	ShutdownTimeout  time.Duration
	RedisHealthEvery time.Duration
}

// Load reads configuration from environment variables with sane defaults
func Load() *Config {
	return &Config{
		Env:         env.GetString("ENV", "development"),
		ServiceName: env.GetString("SERVICE_NAME", "signaling-service"),
		Port:        env.GetInt("PORT", 8085),

		RedisHost:     env.GetString("REDIS_HOST", "localhost"),
		RedisPort:     env.GetInt("REDIS_PORT", 6379),
		RedisPassword: env.GetStringFromFile("REDIS_PASSWORD", ""),
		RedisDB:       env.GetInt("REDIS_DB", 0),

		JWTSecret: env.GetStringFromFile("JWT_SECRET", ""),

		RingTimeout:      env.GetDuration("RING_TIMEOUT", constants.DefaultRingTimeout),
		PresenceTTL:      env.GetDuration("PRESENCE_TTL", constants.PresenceTTL),
		MaxConnections:   env.GetInt("WS_MAX_CONNECTIONS", 1000),
		AllowedOrigins:   splitOrigins(env.GetString("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		ShutdownTimeout:  env.GetDuration("SHUTDOWN_TIMEOUT", constants.GracefulShutdownTimeout),
		RedisHealthEvery: env.GetDuration("REDIS_HEALTH_INTERVAL", 30*time.Second),
	}
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// RedisAddr returns the host:port address of the Redis instance
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + strconv.Itoa(c.RedisPort)
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
