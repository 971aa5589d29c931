// Package leadsync mirrors appointment lifecycle transitions onto the CRM
// lead record so the sales pipeline reflects clinical reality. Sync is
// best-effort: a failed status write never fails the appointment transition
// that triggered it.
package leadsync

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/vittaclinic/agenda-platform/pkg/logging"
)

// Status is a CRM pipeline stage for a lead.
type Status string

const (
	StatusBookingPending Status = "booking_pending"
	StatusScheduled      Status = "scheduled"
	StatusInTreatment    Status = "in_treatment"
	StatusFinished       Status = "finished"
	StatusCanceled       Status = "canceled"
)

// Synchronizer pushes a lead's pipeline stage to the CRM store.
type Synchronizer interface {
	SetLeadStatus(ctx context.Context, tenantID string, leadID uuid.UUID, status Status) error
}

// Postgres writes lead statuses directly to the shared leads table.
type Postgres struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewPostgres creates a Postgres lead synchronizer.
func NewPostgres(db *sql.DB, logger *logging.Logger) *Postgres {
	if db == nil {
		panic("leadsync: db required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Postgres{db: db, logger: logger}
}

// SetLeadStatus updates the lead's pipeline stage. A missing lead is logged
// and swallowed; the appointment side already committed.
func (p *Postgres) SetLeadStatus(ctx context.Context, tenantID string, leadID uuid.UUID, status Status) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE leads
		SET status = $1, updated_at = now()
		WHERE id = $2 AND tenant_id = $3`,
		string(status), leadID, tenantID)
	if err != nil {
		return fmt.Errorf("leadsync: set status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("leadsync: rows affected: %w", err)
	}
	if affected == 0 {
		p.logger.Warn("lead not found for status sync",
			"tenant_id", tenantID, "lead_id", leadID, "status", string(status))
	}
	return nil
}

var _ Synchronizer = (*Postgres)(nil)

// Noop discards status updates. Used when the CRM integration is disabled.
type Noop struct{}

// SetLeadStatus does nothing.
func (Noop) SetLeadStatus(context.Context, string, uuid.UUID, Status) error { return nil }

var _ Synchronizer = Noop{}
