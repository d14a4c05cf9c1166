// Package sqlite opens a docstore backed by a SQLite file (pure-Go driver).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/unkn0wn-root/taskcache/docstore/sqldoc"
)

const defaultPath = "taskcache.db"

var sqlOpen = sql.Open

// Open creates parent directories, opens path and ensures the schema.
func Open(ctx context.Context, path string) (*sqldoc.Store, error) {
	if path == "" {
		path = defaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sqlOpen("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time; SQLite would answer SQLITE_BUSY otherwise
	db.SetMaxOpenConns(1)
	s, err := sqldoc.New(ctx, db, sqldoc.SQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
