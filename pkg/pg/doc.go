// Package pg bootstraps PostgreSQL access on top of pgx/v5: a connection
// pool with startup retries, goose migrations, a health check, a
// transaction helper and unique-violation classification.
//
// # Usage
//
//	var cfg pg.Config
//	if err := env.Parse(&cfg); err != nil {
//		return err
//	}
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	// Embedded migrations; pass nil to read cfg.MigrationsPath from disk.
//	if err := pg.Migrate(ctx, pool, cfg, migrations, slog.Default()); err != nil {
//		return err
//	}
//
//	err = pg.WithTx(ctx, pool, func(tx pgx.Tx) error {
//		_, err := tx.Exec(ctx, "UPDATE ...")
//		return err
//	})
//
// # Error Handling
//
// IsNotFoundError and IsDuplicateKeyError unwrap pgx errors; ConstraintName
// tells callers which unique index a write collided with.
package pg
