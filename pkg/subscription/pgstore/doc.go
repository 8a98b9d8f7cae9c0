// Package pgstore persists subscription records and dead letters in
// PostgreSQL.
//
// Each user is one row: the full record as jsonb plus the columns needed
// for lookups and maintenance scans (email, subscription id, session
// token, status, end time, oldest usage day). Update runs the callback in
// a transaction holding SELECT ... FOR UPDATE on the row, which serializes
// concurrent webhooks and user requests for the same record.
//
// The schema ships as embedded goose migrations:
//
//	if err := pgstore.Migrate(ctx, pool, cfg.Postgres, log); err != nil {
//		return err
//	}
//	store := pgstore.New(pool)
//	dlq := pgstore.NewDeadLetterQueue(pool)
package pgstore
