package store

import (
	"context"
	"fmt"
)

// Config selects and configures the store backend.
type Config struct {
	Driver   string `yaml:"driver"`
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// Open returns the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "mongo":
		return NewMongo(ctx, cfg.URI, cfg.Database)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
