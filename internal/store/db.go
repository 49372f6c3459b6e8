// Package store provides the SQLite-based data access layer for VoiceTask.
// It uses modernc.org/sqlite for pure-Go, CGO-free database access.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed migrations/001_initial_schema.sql
var initialSchema string

// Store provides access to the SQLite database.
type Store struct {
	db *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
// The dataDir should point to a LOCAL directory (e.g., ~/.voicetask).
// Network paths are rejected to prevent SQLite corruption.
func NewDB(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	if err := validateLocalPath(dataDir); err != nil {
		return nil, fmt.Errorf("validate data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "voicetask.db")

	// WAL mode is enabled via PRAGMA after connection
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}

	if err := store.initPragmas(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize pragmas: %w", err)
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// initPragmas configures SQLite for optimal performance and safety.
func (s *Store) initPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for concurrent reads
		"PRAGMA synchronous = NORMAL", // Balance safety and performance
		"PRAGMA foreign_keys = ON",    // Enforce referential integrity
		"PRAGMA busy_timeout = 5000",  // Wait 5 seconds if locked
		"PRAGMA cache_size = -64000",  // 64MB cache (negative = KB)
		"PRAGMA temp_store = MEMORY",  // Keep temp tables in memory
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Migrate runs all embedded schema migrations.
// This is idempotent - safe to call multiple times.
func (s *Store) Migrate() error {
	migrations := []struct {
		name   string
		schema string
	}{
		{"initial_schema", initialSchema},
	}

	for _, m := range migrations {
		if err := s.runMigration(m.name, m.schema); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}

	return nil
}

// runMigration executes a single migration schema.
func (s *Store) runMigration(name, schema string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Split by semicolon to handle multi-statement SQL
	statements := splitSQL(schema)
	for i, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" || strings.HasPrefix(stmt, "--") {
			continue
		}

		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute statement %d: %w\nSQL: %s", i+1, err, stmt)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}

	return nil
}

// Health checks if the database connection is alive and responsive.
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var result int
	err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if result != 1 {
		return fmt.Errorf("health check returned unexpected value: %d", result)
	}

	return nil
}

// Close closes the database connection.
// This should be called when shutting down the application.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	// Run checkpoint to flush WAL to main database
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: WAL checkpoint failed: %v\n", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	return nil
}

// DB returns the underlying *sql.DB for advanced operations.
// Use with caution - prefer the Store methods when possible.
func (s *Store) DB() *sql.DB {
	return s.db
}

// BeginTx starts a new transaction with the given context and options.
// Use this for operations that need to be atomic.
func (s *Store) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, nil
}

// WithTx executes a function within a transaction.
// If the function returns an error, the transaction is rolled back.
// Otherwise, it is committed.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// validateLocalPath ensures the path is on a local filesystem.
// Network paths (SMB, NFS, etc.) can cause SQLite corruption.
func validateLocalPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}

	networkPrefixes := []string{
		"//",
		"\\\\",
		"/net/",
	}

	for _, prefix := range networkPrefixes {
		if strings.HasPrefix(absPath, prefix) {
			return fmt.Errorf("network path detected: %s (SQLite requires local filesystem)", absPath)
		}
	}

	// Ensure directory is writable
	testFile := filepath.Join(path, ".voicetask-write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}
	os.Remove(testFile)

	return nil
}

// splitSQL splits a multi-statement SQL string into individual statements.
// Comment-only lines are dropped; the schema contains no triggers, so a
// plain semicolon split suffices.
func splitSQL(sql string) []string {
	var kept []string
	for _, line := range strings.Split(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		kept = append(kept, line)
	}

	var statements []string
	for _, stmt := range strings.Split(strings.Join(kept, "\n"), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
