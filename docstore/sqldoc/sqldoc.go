// Package sqldoc implements docstore on top of database/sql. All collections
// share one table keyed by (collection, uid); the sqlite and postgres packages
// only open the connection and pick a Dialect.
package sqldoc

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/unkn0wn-root/taskcache/docstore"
)

const table = "taskcache_documents"

// Dialect captures what differs between SQL engines.
type Dialect struct {
	Name     string
	BlobType string
	// Bind renders the n-th (1-based) placeholder.
	Bind func(n int) string
}

var (
	SQLite   = Dialect{Name: "sqlite", BlobType: "BLOB", Bind: func(int) string { return "?" }}
	Postgres = Dialect{Name: "postgres", BlobType: "BYTEA", Bind: func(n int) string { return fmt.Sprintf("$%d", n) }}
)

type Store struct {
	db      *sql.DB
	dialect Dialect
	upsert  string
}

var _ docstore.Store = (*Store)(nil)

// New ensures the documents table exists and returns a store over db.
// The store owns db: Close closes it.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	if err := ensureTable(ctx, db, d); err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: d, upsert: upsertSQL(d)}, nil
}

func ensureTable(ctx context.Context, db *sql.DB, d Dialect) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + table + ` (
		collection TEXT NOT NULL,
		uid TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		business_name TEXT NOT NULL DEFAULT '',
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		task_status TEXT NOT NULL DEFAULT '',
		body ` + d.BlobType + ` NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (collection, uid)
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure %s table: %w", table, err)
	}
	idx := `CREATE INDEX IF NOT EXISTS ` + table + `_scope ON ` + table + ` (collection, business_name, user_id)`
	if _, err := db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("ensure %s index: %w", table, err)
	}
	return nil
}

func upsertSQL(d Dialect) string {
	ph := make([]string, 8)
	for i := range ph {
		ph[i] = d.Bind(i + 1)
	}
	return `INSERT INTO ` + table + ` (collection, uid, user_id, business_name, is_deleted, task_status, body, updated_at)
		VALUES (` + strings.Join(ph, ", ") + `)
		ON CONFLICT (collection, uid) DO UPDATE SET
			user_id = excluded.user_id,
			business_name = excluded.business_name,
			is_deleted = excluded.is_deleted,
			task_status = excluded.task_status,
			body = excluded.body,
			updated_at = excluded.updated_at
		WHERE ` + table + `.updated_at <= excluded.updated_at`
}

func (s *Store) Collection(_ context.Context, name string) (docstore.Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("sqldoc: collection name is required")
	}
	return &Collection{s: s, name: name}, nil
}

// DB exposes the underlying sql.DB for integration tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close(context.Context) error { return s.db.Close() }

type Collection struct {
	s    *Store
	name string
}

var _ docstore.Collection = (*Collection)(nil)

func (c *Collection) Name() string { return c.name }

func (c *Collection) FindOne(ctx context.Context, f docstore.Filter) (docstore.Document, bool, error) {
	bind := c.s.dialect.Bind
	q := `SELECT uid, user_id, business_name, is_deleted, task_status, body, updated_at FROM ` + table +
		` WHERE collection = ` + bind(1) + ` AND uid = ` + bind(2) + ` AND business_name = ` + bind(3)
	args := []any{c.name, f.UID, f.BusinessName}
	if f.UserID != "" {
		args = append(args, f.UserID)
		q += ` AND user_id = ` + bind(len(args))
	}
	if !f.IncludeDeleted {
		args = append(args, false)
		q += ` AND is_deleted = ` + bind(len(args))
	}

	var (
		d     docstore.Document
		nanos int64
	)
	err := c.s.db.QueryRowContext(ctx, q, args...).Scan(
		&d.UID, &d.UserID, &d.BusinessName, &d.Deleted, &d.TaskStatus, &d.Body, &nanos)
	if err == sql.ErrNoRows {
		return docstore.Document{}, false, nil
	}
	if err != nil {
		return docstore.Document{}, false, fmt.Errorf("find %s/%s: %w", c.name, f.UID, err)
	}
	d.UpdatedAt = time.Unix(0, nanos)
	return d, true, nil
}

// Upsert and BulkUpsert leave rows with a later updated_at untouched.
func (c *Collection) Upsert(ctx context.Context, doc docstore.Document) error {
	if _, err := c.s.db.ExecContext(ctx, c.s.upsert, c.args(doc)...); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", c.name, doc.UID, err)
	}
	return nil
}

func (c *Collection) BulkUpsert(ctx context.Context, docs []docstore.Document) (res docstore.BulkResult, retErr error) {
	if len(docs) == 0 {
		return res, nil
	}
	tx, err := c.s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin bulk upsert %s: %w", c.name, err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx, c.s.upsert)
	if err != nil {
		return res, fmt.Errorf("prepare bulk upsert %s: %w", c.name, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, d := range docs {
		r, err := stmt.ExecContext(ctx, c.args(d)...)
		if err != nil {
			return docstore.BulkResult{}, fmt.Errorf("bulk upsert %s/%s: %w", c.name, d.UID, err)
		}
		if n, err := r.RowsAffected(); err == nil && n > 0 {
			res.Upserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return docstore.BulkResult{}, fmt.Errorf("commit bulk upsert %s: %w", c.name, err)
	}
	return res, nil
}

func (c *Collection) args(d docstore.Document) []any {
	body := d.Body
	if body == nil {
		body = []byte{}
	}
	return []any{c.name, d.UID, d.UserID, d.BusinessName, d.Deleted, d.TaskStatus, body, d.UpdatedAt.UnixNano()}
}
