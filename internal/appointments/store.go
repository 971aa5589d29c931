package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store provides persistence for appointments and their child returns.
// Every read and write is scoped by tenant; lifecycle transitions are
// conditional updates so concurrent or retried calls cannot take the same
// transition twice.
type Store struct {
	db DB
}

// NewStore creates an appointment store.
func NewStore(db DB) *Store {
	if db == nil {
		panic("appointments: db required")
	}
	return &Store{db: db}
}

const appointmentColumns = `id, tenant_id, lead_id, procedure_id, procedure_ids, professional_id, created_by_id,
	scheduled_date, estimated_duration, location, status, payment_status, anamnesis_status,
	payment_proof, payment_amount_cents, payment_method,
	anamnesis_sent_at, anamnesis_filled_at, anamnesis_signed_at,
	confirmed_by_patient, confirmed_at,
	reminder_1day_sent, reminder_5hours_sent,
	checked_in, checked_in_at, checked_in_by,
	attendance_started_at, attendance_ended_at,
	has_return, return_count, return_frequency,
	notes, private_notes,
	canceled_at, canceled_by_id, cancel_reason,
	created_at, updated_at`

// Create inserts a new appointment row.
func (s *Store) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	var procIDs []byte
	if len(a.ProcedureIDs) > 0 {
		data, err := json.Marshal(a.ProcedureIDs)
		if err != nil {
			return fmt.Errorf("appointments: marshal procedure ids: %w", err)
		}
		procIDs = data
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO appointments (
			id, tenant_id, lead_id, procedure_id, procedure_ids, professional_id, created_by_id,
			scheduled_date, estimated_duration, location, status, payment_status, anamnesis_status,
			payment_amount_cents, payment_method, has_return, return_count, return_frequency, notes,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		a.ID, a.TenantID, a.LeadID, a.ProcedureID, procIDs, a.ProfessionalID, a.CreatedByID,
		a.ScheduledDate, a.EstimatedDuration, string(a.Location), string(a.Status), string(a.PaymentStatus), string(a.AnamnesisStatus),
		a.PaymentAmountCents, a.PaymentMethod, a.HasReturn, a.ReturnCount, a.ReturnFrequency, a.Notes,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("appointments: insert: %w", err)
	}
	return nil
}

// GetForTenant loads an appointment scoped to the tenant.
func (s *Store) GetForTenant(ctx context.Context, tenantID string, id uuid.UUID) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointments: load: %w", err)
	}
	return a, nil
}

// List returns a page of the tenant's appointments, most recent first.
func (s *Store) List(ctx context.Context, tenantID string, limit, offset int) (*Page, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int64
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE tenant_id = $1`, tenantID,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("appointments: count: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
		ORDER BY scheduled_date DESC
		LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("appointments: list: %w", err)
	}
	defer rows.Close()

	data, err := scanAppointments(rows)
	if err != nil {
		return nil, err
	}
	return &Page{Data: data, Total: total}, nil
}

// ListByLead returns a lead's appointments, most recent first.
func (s *Store) ListByLead(ctx context.Context, tenantID string, leadID uuid.UUID) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND lead_id = $2
		ORDER BY scheduled_date DESC`, tenantID, leadID)
	if err != nil {
		return nil, fmt.Errorf("appointments: list by lead: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// ListByProfessional returns a professional's appointments inside a date range.
func (s *Store) ListByProfessional(ctx context.Context, tenantID string, professionalID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND professional_id = $2 AND scheduled_date BETWEEN $3 AND $4
		ORDER BY scheduled_date ASC`, tenantID, professionalID, from, to)
	if err != nil {
		return nil, fmt.Errorf("appointments: list by professional: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// ListByDate returns the tenant's appointments inside a date range.
func (s *Store) ListByDate(ctx context.Context, tenantID string, from, to time.Time) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND scheduled_date BETWEEN $2 AND $3
		ORDER BY scheduled_date ASC`, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("appointments: list by date: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// UpdateFields applies an administrative patch. Only set fields are written.
func (s *Store) UpdateFields(ctx context.Context, tenantID string, id uuid.UUID, in UpdateInput, now time.Time) error {
	sets := []string{}
	args := []any{}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if in.ProfessionalID != nil {
		add("professional_id", *in.ProfessionalID)
	}
	if in.ScheduledDate != nil {
		add("scheduled_date", *in.ScheduledDate)
	}
	if in.EstimatedDuration != nil {
		add("estimated_duration", *in.EstimatedDuration)
	}
	if in.Location != nil {
		add("location", string(*in.Location))
	}
	if in.Status != nil {
		add("status", string(*in.Status))
	}
	if in.PaymentStatus != nil {
		add("payment_status", string(*in.PaymentStatus))
	}
	if in.PaymentProof != nil {
		add("payment_proof", *in.PaymentProof)
	}
	if in.PaymentAmountCents != nil {
		add("payment_amount_cents", *in.PaymentAmountCents)
	}
	if in.Notes != nil {
		add("notes", *in.Notes)
	}
	if in.PrivateNotes != nil {
		add("private_notes", *in.PrivateNotes)
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", now)

	args = append(args, id, tenantID)
	query := fmt.Sprintf(`UPDATE appointments SET %s WHERE id = $%d AND tenant_id = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args))

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("appointments: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ConfirmPayment takes the payment transition. The update is conditional on
// the payment still being unconfirmed, so a retried call cannot take the
// transition twice.
func (s *Store) ConfirmPayment(ctx context.Context, tenantID string, id uuid.UUID, proof, method string, now time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments
		SET payment_status = 'paid', status = 'awaiting_confirmation',
		    payment_proof = $1, payment_method = $2, updated_at = $3
		WHERE id = $4 AND tenant_id = $5 AND payment_status <> 'paid'`,
		proof, method, now, id, tenantID)
	if err != nil {
		return fmt.Errorf("appointments: confirm payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainNoRows(ctx, tenantID, id, ErrAlreadyPaid)
	}
	return nil
}

// MarkAnamnesisSent records a (re-)send of the intake form. Unlike the
// lifecycle transitions this is repeatable: every call refreshes sent_at.
func (s *Store) MarkAnamnesisSent(ctx context.Context, tenantID string, id uuid.UUID, now time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments
		SET anamnesis_status = 'sent', anamnesis_sent_at = $1, updated_at = $1
		WHERE id = $2 AND tenant_id = $3`, now, id, tenantID)
	if err != nil {
		return fmt.Errorf("appointments: mark anamnesis sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPatientConfirmed records the patient's confirmation.
func (s *Store) SetPatientConfirmed(ctx context.Context, tenantID string, id uuid.UUID, now time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments
		SET confirmed_by_patient = TRUE, confirmed_at = $1, status = 'confirmed', updated_at = $1
		WHERE id = $2 AND tenant_id = $3`, now, id, tenantID)
	if err != nil {
		return fmt.Errorf("appointments: set confirmed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRescheduled moves the appointment to the patient's proposed slot.
// confirmed_by_patient stays false; the new slot still needs confirmation.
func (s *Store) SetRescheduled(ctx context.Context, tenantID string, id uuid.UUID, newDate, now time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments
		SET status = 'rescheduled', scheduled_date = $1, updated_at = $2
		WHERE id = $3 AND tenant_id = $4`, newDate, now, id, tenantID)
	if err != nil {
		return fmt.Errorf("appointments: set rescheduled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCheckedIn records the reception check-in. No status transition.
func (s *Store) SetCheckedIn(ctx context.Context, tenantID string, id uuid.UUID, staffID uuid.UUID, now time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments
		SET checked_in = TRUE, checked_in_at = $1, checked_in_by = $2, updated_at = $1
		WHERE id = $3 AND tenant_id = $4`, now, staffID, id, tenantID)
	if err != nil {
		return fmt.Errorf("appointments: check in: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// StartAttendance moves the appointment into treatment. Terminal appointments
// are rejected.
func (s *Store) StartAttendance(ctx context.Context, tenantID string, id uuid.UUID, now time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments
		SET status = 'in_progress', attendance_started_at = $1, updated_at = $1
		WHERE id = $2 AND tenant_id = $3 AND status NOT IN ('finished', 'canceled', 'no_show')`,
		now, id, tenantID)
	if err != nil {
		return fmt.Errorf("appointments: start attendance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainNoRows(ctx, tenantID, id, ErrInvalidTransition)
	}
	return nil
}

// FinalizeWithReturns closes the attendance and persists the return plan in
// the same transaction, generating the cadence from the locked parent row so
// a parent cannot be finalized with a missing or stale-dated return plan.
func (s *Store) FinalizeWithReturns(ctx context.Context, tenantID string, id uuid.UUID, in FinalizeInput, now time.Time) ([]AppointmentReturn, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: begin finalize: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the parent so the return cadence bases on the committed slot,
	// not a snapshot a concurrent reschedule may have invalidated.
	parent := Appointment{ID: id, TenantID: tenantID}
	var location string
	err = tx.QueryRow(ctx, `
		SELECT scheduled_date, professional_id, location
		FROM appointments
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE`, id, tenantID).Scan(&parent.ScheduledDate, &parent.ProfessionalID, &location)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: lock finalize: %w", err)
	}
	parent.Location = Location(location)

	var returnCount, returnFrequency *int
	if in.ReturnCount > 0 {
		returnCount = &in.ReturnCount
	}
	if in.ReturnFrequency > 0 {
		returnFrequency = &in.ReturnFrequency
	}

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'finished', attendance_ended_at = $1,
		    has_return = $2, return_count = COALESCE($3, return_count), return_frequency = COALESCE($4, return_frequency),
		    notes = CASE WHEN $5 <> '' THEN $5 ELSE notes END,
		    updated_at = $1
		WHERE id = $6 AND tenant_id = $7 AND status = 'in_progress'`,
		now, in.HasReturn, returnCount, returnFrequency, in.Notes, id, tenantID)
	if err != nil {
		return nil, fmt.Errorf("appointments: finalize: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// The lock proved the row exists; the status was not in_progress.
		return nil, ErrInvalidTransition
	}

	var returns []AppointmentReturn
	if in.HasReturn {
		returns = GenerateReturns(&parent, in.ReturnCount, in.ReturnFrequency, now)
	}
	for i := range returns {
		r := &returns[i]
		if _, err := tx.Exec(ctx, `
			INSERT INTO appointment_returns (
				id, appointment_id, tenant_id, return_number, scheduled_date, original_scheduled_date,
				status, professional_id, location, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			r.ID, r.AppointmentID, r.TenantID, r.ReturnNumber, r.ScheduledDate, r.OriginalScheduledDate,
			string(r.Status), r.ProfessionalID, string(r.Location), r.CreatedAt, r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("appointments: insert return %d: %w", r.ReturnNumber, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("appointments: commit finalize: %w", err)
	}
	return returns, nil
}

// CancelWithCascade cancels the appointment and every non-terminal child
// return atomically. It returns the number of cascaded returns.
func (s *Store) CancelWithCascade(ctx context.Context, tenantID string, id uuid.UUID, userID uuid.UUID, reason string, now time.Time) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("appointments: begin cancel: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'canceled', canceled_at = $1, canceled_by_id = $2, cancel_reason = $3, updated_at = $1
		WHERE id = $4 AND tenant_id = $5 AND status NOT IN ('finished', 'canceled', 'no_show')`,
		now, userID, reason, id, tenantID)
	if err != nil {
		return 0, fmt.Errorf("appointments: cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, s.explainNoRows(ctx, tenantID, id, ErrInvalidTransition)
	}

	cascade, err := tx.Exec(ctx, `
		UPDATE appointment_returns
		SET status = 'canceled', canceled_at = $1, canceled_by_id = $2,
		    cancel_reason = 'parent appointment canceled', updated_at = $1
		WHERE appointment_id = $3 AND tenant_id = $4 AND status NOT IN ('done', 'canceled', 'no_show')`,
		now, userID, id, tenantID)
	if err != nil {
		return 0, fmt.Errorf("appointments: cancel returns: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("appointments: commit cancel: %w", err)
	}
	return cascade.RowsAffected(), nil
}

// FindNeedingReminders returns appointments inside either reminder window
// whose corresponding flag has not been set. The two windows are evaluated
// independently: an appointment a few hours out can be due for both kinds in
// the same scan.
func (s *Store) FindNeedingReminders(ctx context.Context, now time.Time, dayWindow, soonWindow time.Duration) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('confirmed', 'awaiting_confirmation')
		  AND (
			(scheduled_date BETWEEN $1 AND $2 AND reminder_1day_sent = FALSE)
			OR (scheduled_date BETWEEN $1 AND $3 AND reminder_5hours_sent = FALSE)
		  )
		ORDER BY scheduled_date ASC`,
		now, now.Add(dayWindow), now.Add(soonWindow))
	if err != nil {
		return nil, fmt.Errorf("appointments: find needing reminders: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// ClaimReminder flips a reminder flag, one way only. It reports whether this
// call won the claim; a false return means another scanner instance (or a
// prior run) already sent this kind.
func (s *Store) ClaimReminder(ctx context.Context, tenantID string, id uuid.UUID, kind ReminderKind) (bool, error) {
	var column string
	switch kind {
	case Reminder1Day:
		column = "reminder_1day_sent"
	case Reminder5Hours:
		column = "reminder_5hours_sent"
	default:
		return false, ErrInvalidReminderKind
	}

	tag, err := s.db.Exec(ctx, fmt.Sprintf(`
		UPDATE appointments
		SET %[1]s = TRUE, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND %[1]s = FALSE`, column),
		id, tenantID)
	if err != nil {
		return false, fmt.Errorf("appointments: claim reminder: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListReturns returns the child returns for an appointment ordered by
// sequence number.
func (s *Store) ListReturns(ctx context.Context, tenantID string, appointmentID uuid.UUID) ([]AppointmentReturn, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, appointment_id, tenant_id, return_number, scheduled_date, original_scheduled_date,
		       status, professional_id, location,
		       confirmed_by_patient, confirmed_at,
		       reminder_1day_sent, reminder_5hours_sent,
		       checked_in, checked_in_at,
		       canceled_at, canceled_by_id, cancel_reason,
		       created_at, updated_at
		FROM appointment_returns
		WHERE appointment_id = $1 AND tenant_id = $2
		ORDER BY return_number ASC`, appointmentID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("appointments: list returns: %w", err)
	}
	defer rows.Close()

	var result []AppointmentReturn
	for rows.Next() {
		var r AppointmentReturn
		var status, location string
		if err := rows.Scan(
			&r.ID, &r.AppointmentID, &r.TenantID, &r.ReturnNumber, &r.ScheduledDate, &r.OriginalScheduledDate,
			&status, &r.ProfessionalID, &location,
			&r.ConfirmedByPatient, &r.ConfirmedAt,
			&r.Reminder1DaySent, &r.Reminder5HoursSent,
			&r.CheckedIn, &r.CheckedInAt,
			&r.CanceledAt, &r.CanceledByID, &r.CancelReason,
			&r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("appointments: scan return: %w", err)
		}
		r.Status = ReturnStatus(status)
		r.Location = Location(location)
		result = append(result, r)
	}
	return result, rows.Err()
}

// explainNoRows disambiguates a zero-row conditional update: a missing (or
// foreign-tenant) row is NotFound, an existing row means the transition
// precondition failed.
func (s *Store) explainNoRows(ctx context.Context, tenantID string, id uuid.UUID, precondErr error) error {
	var exists int
	err := s.db.QueryRow(ctx,
		`SELECT 1 FROM appointments WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("appointments: existence check: %w", err)
	}
	return precondErr
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var procIDs []byte
	var location, status, payStatus, anamStatus string
	err := row.Scan(
		&a.ID, &a.TenantID, &a.LeadID, &a.ProcedureID, &procIDs, &a.ProfessionalID, &a.CreatedByID,
		&a.ScheduledDate, &a.EstimatedDuration, &location, &status, &payStatus, &anamStatus,
		&a.PaymentProof, &a.PaymentAmountCents, &a.PaymentMethod,
		&a.AnamnesisSentAt, &a.AnamnesisFilledAt, &a.AnamnesisSignedAt,
		&a.ConfirmedByPatient, &a.ConfirmedAt,
		&a.Reminder1DaySent, &a.Reminder5HoursSent,
		&a.CheckedIn, &a.CheckedInAt, &a.CheckedInBy,
		&a.AttendanceStartedAt, &a.AttendanceEndedAt,
		&a.HasReturn, &a.ReturnCount, &a.ReturnFrequency,
		&a.Notes, &a.PrivateNotes,
		&a.CanceledAt, &a.CanceledByID, &a.CancelReason,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Location = Location(location)
	a.Status = Status(status)
	a.PaymentStatus = PaymentStatus(payStatus)
	a.AnamnesisStatus = AnamnesisStatus(anamStatus)
	if len(procIDs) > 0 {
		if err := json.Unmarshal(procIDs, &a.ProcedureIDs); err != nil {
			return nil, fmt.Errorf("appointments: decode procedure ids: %w", err)
		}
	}
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}
