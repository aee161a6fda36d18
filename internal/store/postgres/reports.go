package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ReportStore persists report-user submissions to PostgreSQL and
// satisfies core.ReportStore.
type ReportStore struct {
	db *DB
}

// NewReportStore wraps db as a core.ReportStore.
func NewReportStore(db *DB) *ReportStore {
	return &ReportStore{db: db}
}

// Save inserts a report row and returns its generated id.
func (s *ReportStore) Save(ctx context.Context, reporterSessionID, reportedSessionID, reason string) (string, error) {
	id := uuid.NewString()
	query := `
        INSERT INTO reports (id, reporter_session_id, reported_session_id, reason, created_at)
        VALUES ($1, $2, $3, $4, NOW())`
	if _, err := s.db.ExecContext(ctx, query, id, reporterSessionID, reportedSessionID, reason); err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}
	return id, nil
}
