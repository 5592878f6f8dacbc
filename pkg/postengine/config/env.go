package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// envConfig is the environment variable surface, read with cleanenv.
//
//	PORT               - server port (default "8080")
//	ENVIRONMENT        - runtime environment (default "development")
//	DATABASE_URL       - "memory", empty, or a postgres:// connection string
//	MAX_POST_SIZE      - maximum content size in bytes
//	MAX_THUMBNAIL_SIZE - maximum custom thumbnail size in bytes
type envConfig struct {
	Port             string `env:"PORT" env-default:"8080"`
	Environment      string `env:"ENVIRONMENT" env-default:"development"`
	DatabaseURL      string `env:"DATABASE_URL" env-default:""`
	MaxPostSize      int64  `env:"MAX_POST_SIZE" env-default:"26214400"`
	MaxThumbnailSize int64  `env:"MAX_THUMBNAIL_SIZE" env-default:"1048576"`
}

// WithEnv applies environment variable overrides.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		var env envConfig
		if err := cleanenv.ReadEnv(&env); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}

		c.Port = env.Port
		c.Environment = env.Environment
		c.MaxPostSize = env.MaxPostSize
		c.MaxThumbnailSize = env.MaxThumbnailSize

		switch {
		case env.DatabaseURL == "" || env.DatabaseURL == "memory":
			c.DatabaseType = "memory"
			c.DatabaseURL = ""
		case strings.HasPrefix(env.DatabaseURL, "postgres://"),
			strings.HasPrefix(env.DatabaseURL, "postgresql://"):
			c.DatabaseType = "postgres"
			c.DatabaseURL = env.DatabaseURL
		default:
			return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgresql://...')", env.DatabaseURL)
		}

		return nil
	}
}
