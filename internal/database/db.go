package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"polar-fitness-sync/internal/metrics"
)

const backendSQLite = "sqlite"

// DB is a Store backed by a single SQLite table.
// It serves local development and tests; production uses FirestoreStore.
type DB struct {
	conn *sql.DB
}

var _ Store = (*DB)(nil)

// Open opens a connection to the SQLite database at the specified path
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(1) // SQLite works best with a single writer
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	// Test the connection
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Init initializes the database schema by creating all tables and indexes
func (db *DB) Init() error {
	_, err := db.conn.Exec(Schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *DB) Get(ctx context.Context, path string) (Document, error) {
	var doc Document
	err := instrument(backendSQLite, metrics.StoreOpGet, func() error {
		var data string
		err := db.conn.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = ?`, path).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get %s: %w", path, err)
		}
		doc, err = decodeDocument(data)
		return err
	})
	return doc, err
}

func (db *DB) Set(ctx context.Context, path string, doc Document) error {
	return instrument(backendSQLite, metrics.StoreOpSet, func() error {
		clean := map[string]any{}
		deepMerge(clean, doc)
		return db.write(ctx, db.conn, path, clean)
	})
}

func (db *DB) Merge(ctx context.Context, path string, doc Document) error {
	return instrument(backendSQLite, metrics.StoreOpMerge, func() error {
		return db.update(ctx, path, func(existing map[string]any) {
			deepMerge(existing, doc)
		})
	})
}

func (db *DB) Increment(ctx context.Context, path, field string, delta int64) error {
	return instrument(backendSQLite, metrics.StoreOpIncrement, func() error {
		return db.update(ctx, path, func(existing map[string]any) {
			existing[field] = Int64(existing[field]) + delta
		})
	})
}

// update applies fn to the document at path inside a transaction
func (db *DB) update(ctx context.Context, path string, fn func(existing map[string]any)) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing := map[string]any{}
	var data string
	err = tx.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = ?`, path).Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to read %s: %w", path, err)
	default:
		current, err := decodeDocument(data)
		if err != nil {
			return err
		}
		existing = current
	}

	fn(existing)
	if err := db.write(ctx, tx, path, existing); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) Delete(ctx context.Context, path string) error {
	return instrument(backendSQLite, metrics.StoreOpDelete, func() error {
		if _, err := db.conn.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}
		return nil
	})
}

func (db *DB) List(ctx context.Context, collection string) ([]Snapshot, error) {
	var out []Snapshot
	err := instrument(backendSQLite, metrics.StoreOpList, func() error {
		rows, err := db.conn.QueryContext(ctx, `
			SELECT path, doc_id, data FROM documents
			WHERE collection = ?
			ORDER BY doc_id ASC
		`, collection)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", collection, err)
		}
		out, err = scanSnapshots(rows)
		return err
	})
	return out, err
}

func (db *DB) Query(ctx context.Context, collection, field string, value any) ([]Snapshot, error) {
	// JSON booleans come back from json_extract as integers
	if b, ok := value.(bool); ok {
		if b {
			value = 1
		} else {
			value = 0
		}
	}

	var out []Snapshot
	err := instrument(backendSQLite, metrics.StoreOpQuery, func() error {
		rows, err := db.conn.QueryContext(ctx, `
			SELECT path, doc_id, data FROM documents
			WHERE collection = ? AND json_extract(data, ?) = ?
			ORDER BY doc_id ASC
		`, collection, `$."`+field+`"`, value)
		if err != nil {
			return fmt.Errorf("failed to query %s by %s: %w", collection, field, err)
		}
		out, err = scanSnapshots(rows)
		return err
	})
	return out, err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (db *DB) write(ctx context.Context, conn execer, path string, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	collection, id := splitPath(path)
	now := time.Now().Unix()
	_, err = conn.ExecContext(ctx, `
		INSERT INTO documents (path, collection, doc_id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, path, collection, id, string(data), now, now)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func scanSnapshots(rows *sql.Rows) ([]Snapshot, error) {
	defer rows.Close()

	out := []Snapshot{}
	for rows.Next() {
		var s Snapshot
		var data string
		if err := rows.Scan(&s.Path, &s.ID, &data); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := decodeDocument(data)
		if err != nil {
			return nil, err
		}
		s.Data = doc
		out = append(out, s)
	}
	return out, rows.Err()
}

func decodeDocument(data string) (Document, error) {
	doc := Document{}
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}
