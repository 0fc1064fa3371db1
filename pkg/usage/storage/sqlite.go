package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // CGO SQLite driver ("sqlite3")
	_ "modernc.org/sqlite"          // pure-Go SQLite driver ("sqlite")

	"tokentracker-hq/relay/pkg/usage"
)

// Driver names accepted by SQLiteConfig.Driver.
const (
	// DriverModernc is the pure-Go driver (modernc.org/sqlite). Default.
	DriverModernc = "sqlite"

	// DriverMattn is the CGO driver (github.com/mattn/go-sqlite3).
	DriverMattn = "sqlite3"
)

// SQLiteConfig configures the SQLite usage store.
type SQLiteConfig struct {
	// Path is the database file path. Parent directories are created.
	Path string

	// Driver selects the SQL driver: DriverModernc (default) or
	// DriverMattn.
	Driver string

	// BusyTimeout is how long a writer waits for the file lock before
	// failing. Default: 5 seconds.
	BusyTimeout time.Duration

	// CheckpointInterval is how often the WAL is checkpointed in the
	// background. Default: 5 minutes.
	CheckpointInterval time.Duration

	// MaxOpenConns bounds the connection pool. Each request worker
	// obtains its own connection from the pool rather than sharing a
	// handle. Default: 10.
	MaxOpenConns int
}

// SQLiteStore implements Store using a local SQLite database.
//
// The database runs in WAL mode so concurrent appends from request workers
// and reads from the report command do not block each other; SQLite
// serializes writers at the file level and BusyTimeout bounds the wait.
type SQLiteStore struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	done               chan struct{}
	closeOnce          sync.Once

	appendStmt *sql.Stmt
	countStmt  *sql.Stmt
	deleteStmt *sql.Stmt
}

// NewSQLiteStore opens (creating if absent) the usage database at the given
// path with default settings.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteConfig{Path: path})
}

// NewSQLiteStoreWithConfig opens the usage database with custom settings.
func NewSQLiteStoreWithConfig(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:                 db,
		dbPath:             cfg.Path,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go store.checkpointLoop()

	return store, nil
}

// buildDSN constructs the driver-specific connection string. The pragma
// spelling differs between the two drivers.
func buildDSN(cfg SQLiteConfig) (string, error) {
	busyMs := int(cfg.BusyTimeout.Milliseconds())

	switch cfg.Driver {
	case DriverModernc:
		return fmt.Sprintf(
			"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
			cfg.Path, busyMs), nil
	case DriverMattn:
		return fmt.Sprintf(
			"file:%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
			cfg.Path, busyMs), nil
	default:
		return "", fmt.Errorf("unknown sqlite driver %q", cfg.Driver)
	}
}

// initSchema creates the schema if absent and applies additive column
// migrations for databases created by earlier versions.
func (s *SQLiteStore) initSchema() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return err
	}
	return s.applyMigrations()
}

// applyMigrations adds any columns missing from the requests table. Only
// additive, non-destructive changes are permitted.
func (s *SQLiteStore) applyMigrations() error {
	rows, err := s.db.Query(`PRAGMA table_info(requests)`)
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &primaryKey); err != nil {
			return fmt.Errorf("failed to scan schema row: %w", err)
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating schema rows: %w", err)
	}

	for _, m := range migrations {
		if existing[m.column] {
			continue
		}
		if _, err := s.db.Exec(m.ddl); err != nil {
			return fmt.Errorf("failed to add column %s: %w", m.column, err)
		}
	}

	return nil
}

// prepareStatements prepares the hot-path SQL statements for reuse.
func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.appendStmt, err = s.db.Prepare(`
		INSERT INTO requests
			(timestamp, provider, model, endpoint, input_tokens, output_tokens,
			 cache_creation_input_tokens, cache_read_input_tokens,
			 status_code, request_id, stop_reason, caller, error, api_key_hint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare append statement: %w", err)
	}

	s.countStmt, err = s.db.Prepare(`SELECT COUNT(*) FROM requests`)
	if err != nil {
		return fmt.Errorf("failed to prepare count statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM requests WHERE timestamp < ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	return nil
}

// Append durably writes one usage record. Safe for concurrent use.
func (s *SQLiteStore) Append(ctx context.Context, rec *usage.Record) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Provider == "" {
		rec.Provider = usage.Provider
	}
	if rec.Model == "" {
		rec.Model = usage.UnknownModel
	}

	result, err := s.appendStmt.ExecContext(ctx,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.Provider,
		rec.Model,
		rec.Endpoint,
		rec.InputTokens,
		rec.OutputTokens,
		rec.CacheCreationInputTokens,
		rec.CacheReadInputTokens,
		rec.StatusCode,
		rec.RequestID,
		rec.StopReason,
		rec.Caller,
		rec.Error,
		rec.APIKeyHint,
	)
	if err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		rec.ID = id
	}

	return nil
}

// Query returns records matching the filter, ordered by insertion.
func (s *SQLiteStore) Query(ctx context.Context, filter usage.QueryFilter) ([]*usage.Record, error) {
	query := `
		SELECT id, timestamp, provider, model, endpoint,
		       input_tokens, output_tokens,
		       cache_creation_input_tokens, cache_read_input_tokens,
		       status_code, request_id, stop_reason, caller, error, api_key_hint
		FROM requests`

	var (
		clauses []string
		args    []any
	)
	if !filter.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "timestamp < ?")
		args = append(args, filter.Until.UTC().Format(time.RFC3339Nano))
	}
	if filter.Model != "" {
		clauses = append(clauses, "model = ?")
		args = append(args, filter.Model)
	}
	if filter.Caller != "" {
		clauses = append(clauses, "caller = ?")
		args = append(args, filter.Caller)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*usage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// scanRecord reads one row into a Record, tolerating NULLs in the columns
// that early schema versions left nullable.
func scanRecord(rows *sql.Rows) (*usage.Record, error) {
	var (
		rec        usage.Record
		ts         string
		statusCode sql.NullInt64
		requestID  sql.NullString
		stopReason sql.NullString
		caller     sql.NullString
		errField   sql.NullString
	)

	if err := rows.Scan(
		&rec.ID, &ts, &rec.Provider, &rec.Model, &rec.Endpoint,
		&rec.InputTokens, &rec.OutputTokens,
		&rec.CacheCreationInputTokens, &rec.CacheReadInputTokens,
		&statusCode, &requestID, &stopReason, &caller, &errField,
		&rec.APIKeyHint,
	); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp %q: %w", ts, err)
	}

	rec.Timestamp = parsed
	rec.StatusCode = int(statusCode.Int64)
	rec.RequestID = requestID.String
	rec.StopReason = stopReason.String
	rec.Caller = caller.String
	rec.Error = errField.String

	return &rec, nil
}

// Count returns the total number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.countStmt.QueryRowContext(ctx).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes records older than the cutoff and returns the
// number removed.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.deleteStmt.ExecContext(ctx, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return deleted, nil
}

// Close releases the store's resources. Close is idempotent.
func (s *SQLiteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		if s.appendStmt != nil {
			s.appendStmt.Close()
		}
		if s.countStmt != nil {
			s.countStmt.Close()
		}
		if s.deleteStmt != nil {
			s.deleteStmt.Close()
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// checkpointLoop runs periodic passive WAL checkpoints so the WAL file does
// not grow without bound between restarts.
func (s *SQLiteStore) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}
