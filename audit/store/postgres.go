package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/streamloop/toolstream/audit"
	"github.com/streamloop/toolstream/config"
)

// PostgresRecorder persists audit records in PostgreSQL.
type PostgresRecorder struct {
	db *sql.DB
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DefaultPostgresConfig returns default PostgreSQL configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:    "localhost",
		Port:    5432,
		User:    "postgres",
		DBName:  "toolstream",
		SSLMode: "disable",
	}
}

// NewPostgresRecorder creates a PostgreSQL-backed audit recorder.
func NewPostgresRecorder(cfg *PostgresConfig) (*PostgresRecorder, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}
	if err := config.ValidatePostgresConfig(cfg.Host, cfg.Port, cfg.User, cfg.DBName, cfg.SSLMode); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	recorder := &PostgresRecorder{db: db}
	if err := recorder.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return recorder, nil
}

func (r *PostgresRecorder) createTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS tool_audit (
		id BIGSERIAL PRIMARY KEY,
		session_id VARCHAR(255) NOT NULL,
		provider VARCHAR(64) NOT NULL,
		model VARCHAR(128) NOT NULL,
		iteration INT NOT NULL,
		call_id VARCHAR(255) NOT NULL,
		tool VARCHAR(255) NOT NULL,
		arguments TEXT,
		success BOOLEAN NOT NULL,
		result TEXT,
		error TEXT,
		duration_ms BIGINT NOT NULL,
		at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_audit_session_at ON tool_audit(session_id, at DESC);
	CREATE INDEX IF NOT EXISTS idx_tool_audit_tool ON tool_audit(tool);
	`
	_, err := r.db.ExecContext(ctx, query)
	return err
}

// Record implements audit.Recorder.
func (r *PostgresRecorder) Record(ctx context.Context, records []audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tool_audit
			(session_id, provider, model, iteration, call_id, tool, arguments, success, result, error, duration_ms, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.SessionID, rec.Provider, rec.Model, rec.Iteration,
			rec.Call.ID, rec.Call.Name, rec.Call.Arguments,
			rec.Result.Success, rec.Result.Result, rec.Result.Error,
			rec.Result.ExecutionTime.Milliseconds(), rec.At)
		if err != nil {
			return fmt.Errorf("failed to insert audit record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit records: %w", err)
	}
	return nil
}

// BySession returns all records for a session, newest first.
func (r *PostgresRecorder) BySession(ctx context.Context, sessionID string, limit int) ([]audit.Record, error) {
	query := `
		SELECT session_id, provider, model, iteration, call_id, tool, arguments,
		       success, result, error, duration_ms, at
		FROM tool_audit WHERE session_id = $1 ORDER BY at DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []audit.Record
	for rows.Next() {
		var rec audit.Record
		var durationMs int64
		err := rows.Scan(
			&rec.SessionID, &rec.Provider, &rec.Model, &rec.Iteration,
			&rec.Call.ID, &rec.Call.Name, &rec.Call.Arguments,
			&rec.Result.Success, &rec.Result.Result, &rec.Result.Error,
			&durationMs, &rec.At)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Result.ID = rec.Call.ID
		rec.Result.Name = rec.Call.Name
		rec.Result.ExecutionTime = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the database connection pool.
func (r *PostgresRecorder) Close() error {
	return r.db.Close()
}
