package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/enaupload/internal/config"
)

// Open connects the backend selected by cfg.Driver, applying migrations for
// postgres. The returned func releases it.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := Connect(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := RunMigrations(cfg.URL, cfg.MigrationsDir); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
		return NewPostgresStore(pool), pool.Close, nil
	case "sqlite":
		s, err := NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	case "memory":
		return NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
