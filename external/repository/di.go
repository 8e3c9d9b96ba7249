package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/stagewarden/internal/config"
	"github.com/foxseedlab/stagewarden/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do/v2"
)

const databaseInitTimeout = 15 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (repository.Repository, error) {
		cfg := do.MustInvoke[*config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
		defer cancel()
		return Open(ctx, cfg.DatabaseURL)
	})
}

// Open picks the backend from the URL: postgres:// and postgresql:// use pgx, anything else is a sqlite DSN.
func Open(ctx context.Context, databaseURL string) (repository.Repository, error) {
	if isPostgresURL(databaseURL) {
		return openPostgres(ctx, databaseURL)
	}
	return openSQLite(ctx, sqliteDSN(databaseURL))
}

func openPostgres(ctx context.Context, databaseURL string) (repository.Repository, error) {
	p, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := RunMigration(ctx, p); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to run migration: %w", err)
	}
	return NewPostgresRepository(p), nil
}

func openSQLite(ctx context.Context, dsn string) (repository.Repository, error) {
	db, err := OpenSQLite(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := RunSQLiteMigration(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migration: %w", err)
	}
	return NewSQLiteRepository(db), nil
}

func isPostgresURL(u string) bool {
	return strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://")
}

func sqliteDSN(u string) string {
	return strings.TrimPrefix(u, "sqlite://")
}
