package database

import (
	"context"
	"fmt"

	"koma-chat/internal/config"
)

// Open connects to the configured store and applies the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Database, error) {
	switch cfg.Driver {
	case config.DatabaseDriverMemory:
		return NewMemoryDB(), nil
	case config.DatabaseDriverPostgres:
		db, err := NewPostgresDB(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
