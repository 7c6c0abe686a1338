// Package archive optionally records completed issuance runs in
// PostgreSQL, giving a fleet of clients one queryable history of what was
// issued, when, and for which domains.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/blockadesystems/certforge/internal/model"
)

// Archive defines the interface for storing and querying issuance runs.
type Archive interface {
	RecordIssuance(ctx context.Context, rec *model.IssuanceRecord) error
	GetIssuance(ctx context.Context, id string) (*model.IssuanceRecord, error)
	ListIssuances(ctx context.Context, primaryDomain string) ([]*model.IssuanceRecord, error)
	Close() error
}

// PostgresArchive holds the connection pool.
type PostgresArchive struct {
	db  *sql.DB
	log *zap.Logger
}

// Ensure PostgresArchive implements Archive (compile-time check).
var _ Archive = (*PostgresArchive)(nil)

// NewArchive is the factory function.
func NewArchive(archiveType string, dsn string, log *zap.Logger) (Archive, error) {
	switch strings.ToLower(archiveType) {
	case "postgres":
		return NewPostgresArchive(dsn, log)
	default:
		return nil, fmt.Errorf("archive: invalid archive type: %s", archiveType)
	}
}

// NewPostgresArchive opens the pool, verifies connectivity, and ensures
// the schema exists.
func NewPostgresArchive(dsn string, log *zap.Logger) (*PostgresArchive, error) {
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: failed to open PostgreSQL database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: failed to connect to PostgreSQL database: %w", err)
	}

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer schemaCancel()
	if err := ensureSchema(schemaCtx, db, log); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("issuance archive initialized")
	return &PostgresArchive{db: db, log: log}, nil
}

// ensureSchema creates tables and indexes if they don't exist.
func ensureSchema(ctx context.Context, db *sql.DB, log *zap.Logger) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS issuance_runs ( id TEXT PRIMARY KEY, primary_domain TEXT NOT NULL, domains TEXT[] NOT NULL, started_at TIMESTAMP WITH TIME ZONE NOT NULL, completed_at TIMESTAMP WITH TIME ZONE NOT NULL, certificate_url TEXT NOT NULL DEFAULT '', certificate_pem TEXT NOT NULL, chain_pem TEXT NOT NULL DEFAULT '', fullchain_pem TEXT NOT NULL );`,
		`CREATE INDEX IF NOT EXISTS idx_issuance_runs_primary_domain ON issuance_runs (primary_domain);`,
		`CREATE INDEX IF NOT EXISTS idx_issuance_runs_completed_at ON issuance_runs (completed_at);`,
	}

	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			log.Error("failed to execute schema statement",
				zap.Error(err), zap.Int("statement_index", i))
			return fmt.Errorf("archive: failed to initialize database schema: %w", err)
		}
	}
	return nil
}

// RecordIssuance stores one completed run.
func (a *PostgresArchive) RecordIssuance(ctx context.Context, rec *model.IssuanceRecord) error {
	query := `
        INSERT INTO issuance_runs
            (id, primary_domain, domains, started_at, completed_at, certificate_url, certificate_pem, chain_pem, fullchain_pem)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := a.db.ExecContext(ctx, query,
		rec.ID,
		rec.PrimaryDomain,
		pq.Array(rec.Domains),
		rec.StartedAt,
		rec.CompletedAt,
		rec.CertificateURL,
		rec.CertPEM,
		rec.ChainPEM,
		rec.FullchainPEM,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			a.log.Error("failed to record issuance",
				zap.Error(err), zap.String("pq_code", string(pqErr.Code)))
		}
		return fmt.Errorf("archive: failed to record issuance %s: %w", rec.ID, err)
	}

	a.log.Info("issuance recorded",
		zap.String("run_id", rec.ID),
		zap.String("primary_domain", rec.PrimaryDomain))
	return nil
}

// GetIssuance fetches one run by id, returning nil when it is absent.
func (a *PostgresArchive) GetIssuance(ctx context.Context, id string) (*model.IssuanceRecord, error) {
	query := `
        SELECT id, primary_domain, domains, started_at, completed_at, certificate_url, certificate_pem, chain_pem, fullchain_pem
        FROM issuance_runs WHERE id = $1`

	rec := &model.IssuanceRecord{}
	err := a.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&rec.PrimaryDomain,
		pq.Array(&rec.Domains),
		&rec.StartedAt,
		&rec.CompletedAt,
		&rec.CertificateURL,
		&rec.CertPEM,
		&rec.ChainPEM,
		&rec.FullchainPEM,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: failed to get issuance %s: %w", id, err)
	}
	return rec, nil
}

// ListIssuances returns the runs recorded for a primary domain, newest
// first.
func (a *PostgresArchive) ListIssuances(ctx context.Context, primaryDomain string) ([]*model.IssuanceRecord, error) {
	query := `
        SELECT id, primary_domain, domains, started_at, completed_at, certificate_url, certificate_pem, chain_pem, fullchain_pem
        FROM issuance_runs WHERE primary_domain = $1 ORDER BY completed_at DESC`

	rows, err := a.db.QueryContext(ctx, query, primaryDomain)
	if err != nil {
		return nil, fmt.Errorf("archive: failed to list issuances for %s: %w", primaryDomain, err)
	}
	defer rows.Close()

	var records []*model.IssuanceRecord
	for rows.Next() {
		rec := &model.IssuanceRecord{}
		if err := rows.Scan(
			&rec.ID,
			&rec.PrimaryDomain,
			pq.Array(&rec.Domains),
			&rec.StartedAt,
			&rec.CompletedAt,
			&rec.CertificateURL,
			&rec.CertPEM,
			&rec.ChainPEM,
			&rec.FullchainPEM,
		); err != nil {
			return nil, fmt.Errorf("archive: failed to scan issuance row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: failed to iterate issuance rows: %w", err)
	}
	return records, nil
}

// Close closes the underlying connection pool.
func (a *PostgresArchive) Close() error {
	return a.db.Close()
}
