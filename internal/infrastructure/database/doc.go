// Package database provides SQLite connectivity for ColdWatch Core.
//
// This package manages:
//   - Database connection with WAL mode so dashboard queries run alongside
//     batch flushes
//   - Schema migrations embedded in the binary (see the top-level
//     migrations package)
//   - Lifecycle, health checks and WAL checkpoints
//
// Usage:
//
//	db, err := database.Open(database.FromAppConfig(cfg.Database))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive: new columns must be NULLABLE or carry a DEFAULT,
// and every .up.sql has a matching .down.sql.
package database
