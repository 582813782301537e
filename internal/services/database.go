package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/academic-manager/wa-service/internal/domain"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS auth_events (
	id         UUID PRIMARY KEY,
	kind       TEXT NOT NULL,
	actor      TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// AuditService writes auth and lifecycle events to Postgres. It is
// telemetry only: nothing reads it back, and without DATABASE_URL every
// call is a no-op.
type AuditService struct {
	db *sql.DB
}

func NewAuditService(databaseURL string) (domain.AuditService, error) {
	if databaseURL == "" {
		return &AuditService{}, nil // Allow nil DB for graceful degradation
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(auditSchema); err != nil {
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}

	return &AuditService{db: db}, nil
}

// Record inserts one audit row. Failures are logged, never propagated:
// a broken audit sink must not break the auth flow.
func (a *AuditService) Record(ctx context.Context, kind, actor, detail string) {
	if a.db == nil {
		return
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO auth_events (id, kind, actor, detail) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), kind, actor, detail)
	if err != nil {
		log.Printf("[Audit] Failed to record %s event: %v", kind, err)
	}
}

func (a *AuditService) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
