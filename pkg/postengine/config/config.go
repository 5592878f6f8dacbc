package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/post-engine/pkg/postengine"
	memoryrepo "github.com/tendant/post-engine/pkg/postengine/repo/memory"
	postgresrepo "github.com/tendant/post-engine/pkg/postengine/repo/postgres"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of
// library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	limits := postengine.DefaultConfig()
	return ServerConfig{
		Port:             "8080",
		Environment:      "development",
		DatabaseType:     "memory",
		MaxPostSize:      limits.MaxPostSize,
		MaxThumbnailSize: limits.MaxThumbnailSize,
	}
}

// ServerConfig represents server configuration for the post-engine service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"

	// Content policy limits
	MaxPostSize      int64
	MaxThumbnailSize int64
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	if c.MaxPostSize <= 0 {
		return errors.New("max_post_size must be positive")
	}
	if c.MaxThumbnailSize <= 0 {
		return errors.New("max_thumbnail_size must be positive")
	}

	return nil
}

// engineConfig returns the content policy limits as engine configuration.
func (c *ServerConfig) engineConfig() postengine.Config {
	return postengine.Config{
		MaxPostSize:      c.MaxPostSize,
		MaxThumbnailSize: c.MaxThumbnailSize,
	}
}

// BuildService creates a Service instance from the server configuration
func (c *ServerConfig) BuildService(ctx context.Context, extra ...postengine.Option) (postengine.Service, error) {
	var options []postengine.Option

	switch c.DatabaseType {
	case "memory":
		repo := memoryrepo.New()
		options = append(options,
			postengine.WithPostStore(repo),
			postengine.WithSnapshotStore(repo),
			postengine.WithGlobalParamStore(repo),
			postengine.WithTagResolver(repo),
			postengine.WithTransactionBoundary(memoryrepo.NewBoundary(repo)),
		)
	case "postgres":
		pool, err := pgxpool.New(ctx, c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		repo := postgresrepo.NewWithPool(pool)
		options = append(options,
			postengine.WithPostStore(repo),
			postengine.WithSnapshotStore(repo),
			postengine.WithGlobalParamStore(repo),
			postengine.WithTagResolver(repo),
			postengine.WithTransactionBoundary(postgresrepo.NewBoundary(pool)),
		)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}

	options = append(options, postengine.WithConfig(c.engineConfig()))
	options = append(options, extra...)
	return postengine.New(options...)
}
