package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"drmtv-proxy/work/logger"
	"drmtv-proxy/work/types"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Repository is the load/save contract the gateway core depends on. The core
// is deliberately agnostic to the store's internal concurrency control: every
// mutating operation loads the whole catalog, mutates it in memory, and saves
// it back. Concurrent writers race and the last writer wins.
type Repository interface {
	LoadCatalog() (*types.Catalog, error)
	SaveCatalog(catalog *types.Catalog) error
}

// DB is the sqlite-backed Repository. The catalog is persisted as a single
// JSON document in a one-row table, which keeps the whole-document overwrite
// semantics while still getting WAL durability from sqlite.
type DB struct {
	*sql.DB
}

// Open creates the database connection with WAL mode and ensures the schema
// exists.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	wrapper := &DB{DB: db}

	if err := wrapper.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema setup failed: %w", err)
	}

	logger.Info("{database - Open} sqlite catalog opened: %s", path)
	return wrapper, nil
}

// ensureSchema creates the single-document catalog table.
func (db *DB) ensureSchema() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS catalog (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			document TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create catalog table: %w", err)
	}
	return nil
}

// LoadCatalog reads the catalog document. An empty database yields an empty
// catalog, not an error.
func (db *DB) LoadCatalog() (*types.Catalog, error) {
	var document string
	err := db.QueryRow("SELECT document FROM catalog WHERE id = 1").Scan(&document)
	if err == sql.ErrNoRows {
		return &types.Catalog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	var catalog types.Catalog
	if err := json.Unmarshal([]byte(document), &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog document: %w", err)
	}

	return &catalog, nil
}

// SaveCatalog replaces the whole catalog document.
func (db *DB) SaveCatalog(catalog *types.Catalog) error {
	document, err := json.Marshal(catalog)
	if err != nil {
		return fmt.Errorf("failed to encode catalog document: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO catalog (id, document, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			document = excluded.document,
			updated_at = CURRENT_TIMESTAMP
	`, string(document))
	if err != nil {
		return fmt.Errorf("failed to save catalog: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	logger.Debug("{database - Close} closing catalog database")
	return db.DB.Close()
}
