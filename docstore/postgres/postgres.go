// Package postgres opens a docstore backed by Postgres through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/unkn0wn-root/taskcache/docstore/sqldoc"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/taskcache?sslmode=disable"
)

var sqlOpen = sql.Open

// Open connects to dsn (falls back to defaultDSN), pings and ensures the schema.
func Open(ctx context.Context, dsn string) (*sqldoc.Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sqlOpen(defaultDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s, err := sqldoc.New(ctx, db, sqldoc.Postgres)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
