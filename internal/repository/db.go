package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/dpmorr/llm-structured-extraction/internal/common"
)

// Open connects per the configured driver and returns a ready SQLStore.
// Postgres goes through a pgx pool bridged into database/sql; SQLite uses
// the modernc driver directly. Both run the migration DDL.
func Open(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		db   *sql.DB
		pool *pgxpool.Pool
	)
	switch cfg.Driver {
	case "postgres":
		logger.Info("connecting to database", "driver", cfg.Driver)
		pc, err := pgxpool.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, common.WrapError(err, "parse postgres dsn")
		}
		pc.MaxConns = cfg.MaxConns
		pc.MinConns = cfg.MinConns
		pc.MaxConnLifetime = cfg.MaxConnLifetime
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
		pc.ConnConfig.RuntimeParams["application_name"] = "extractiond"

		dialCtx := ctx
		if cfg.DialTimeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
			defer cancel()
		}
		pool, err = pgxpool.NewWithConfig(dialCtx, pc)
		if err != nil {
			return nil, common.WrapError(err, "connect postgres")
		}
		db = stdlib.OpenDBFromPool(pool)

	case "sqlite":
		logger.Info("opening database", "driver", cfg.Driver)
		var err error
		db, err = sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, common.WrapError(err, "open sqlite")
		}
		// modernc sqlite is single-writer; serialize access through one conn.
		db.SetMaxOpenConns(1)

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	store := NewSQLStore(db, pool, logger)
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, common.WrapError(err, "migrate")
	}
	logger.Info("database ready", "driver", cfg.Driver)
	return store, nil
}
