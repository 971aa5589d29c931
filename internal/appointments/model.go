// Package appointments owns the appointment aggregate: its lifecycle state
// machine, automatic return generation, and the reminder bookkeeping the
// scanner relies on.
package appointments

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusAwaitingPayment      Status = "awaiting_payment"
	StatusPaymentConfirmed     Status = "payment_confirmed"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusConfirmed            Status = "confirmed"
	StatusRescheduled          Status = "rescheduled"
	StatusInProgress           Status = "in_progress"
	StatusFinished             Status = "finished"
	StatusCanceled             Status = "canceled"
	StatusNoShow               Status = "no_show"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusCanceled || s == StatusNoShow
}

// PaymentStatus tracks the payment gate of an appointment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentCanceled PaymentStatus = "canceled"
)

// AnamnesisStatus tracks the intake form sent to the patient after payment.
type AnamnesisStatus string

const (
	AnamnesisPending AnamnesisStatus = "pending"
	AnamnesisSent    AnamnesisStatus = "sent"
	AnamnesisFilled  AnamnesisStatus = "filled"
	AnamnesisSigned  AnamnesisStatus = "signed"
)

// Location is one of the fixed service sites.
type Location string

const (
	LocationMainClinic Location = "main_clinic"
	LocationDowntown   Location = "downtown"
	LocationOnline     Location = "online"
	LocationHomeVisit  Location = "home_visit"
)

// Valid reports whether l is a known service site.
func (l Location) Valid() bool {
	switch l {
	case LocationMainClinic, LocationDowntown, LocationOnline, LocationHomeVisit:
		return true
	}
	return false
}

// ReturnStatus is the lifecycle state of a follow-up return visit.
type ReturnStatus string

const (
	ReturnScheduled   ReturnStatus = "scheduled"
	ReturnConfirmed   ReturnStatus = "confirmed"
	ReturnRescheduled ReturnStatus = "rescheduled"
	ReturnInProgress  ReturnStatus = "in_progress"
	ReturnDone        ReturnStatus = "done"
	ReturnCanceled    ReturnStatus = "canceled"
	ReturnNoShow      ReturnStatus = "no_show"
)

// Terminal reports whether the return can no longer change state.
func (s ReturnStatus) Terminal() bool {
	return s == ReturnDone || s == ReturnCanceled || s == ReturnNoShow
}

// ReminderKind identifies which reminder window a flag belongs to.
type ReminderKind string

const (
	Reminder1Day   ReminderKind = "1day"
	Reminder5Hours ReminderKind = "5hours"
)

// Valid reports whether k is a known reminder kind.
func (k ReminderKind) Valid() bool {
	return k == Reminder1Day || k == Reminder5Hours
}

// Appointment is the aggregate root tying a patient (lead) to a procedure,
// professional, time and location, gated by payment and patient confirmation.
type Appointment struct {
	ID       uuid.UUID `json:"id"`
	TenantID string    `json:"tenant_id"`

	LeadID         uuid.UUID   `json:"lead_id"`
	ProcedureID    uuid.UUID   `json:"procedure_id"`
	ProcedureIDs   []uuid.UUID `json:"procedure_ids,omitempty"`
	ProfessionalID *uuid.UUID  `json:"professional_id,omitempty"`
	CreatedByID    *uuid.UUID  `json:"created_by_id,omitempty"`

	ScheduledDate     time.Time `json:"scheduled_date"`
	EstimatedDuration *int      `json:"estimated_duration,omitempty"`
	Location          Location  `json:"location"`

	Status          Status          `json:"status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	AnamnesisStatus AnamnesisStatus `json:"anamnesis_status"`

	PaymentProof       string `json:"payment_proof,omitempty"`
	PaymentAmountCents *int64 `json:"payment_amount_cents,omitempty"`
	PaymentMethod      string `json:"payment_method,omitempty"`

	AnamnesisSentAt   *time.Time `json:"anamnesis_sent_at,omitempty"`
	AnamnesisFilledAt *time.Time `json:"anamnesis_filled_at,omitempty"`
	AnamnesisSignedAt *time.Time `json:"anamnesis_signed_at,omitempty"`

	ConfirmedByPatient bool       `json:"confirmed_by_patient"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`

	Reminder1DaySent   bool `json:"reminder_1day_sent"`
	Reminder5HoursSent bool `json:"reminder_5hours_sent"`

	CheckedIn   bool       `json:"checked_in"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
	CheckedInBy *uuid.UUID `json:"checked_in_by,omitempty"`

	AttendanceStartedAt *time.Time `json:"attendance_started_at,omitempty"`
	AttendanceEndedAt   *time.Time `json:"attendance_ended_at,omitempty"`

	HasReturn       bool `json:"has_return"`
	ReturnCount     *int `json:"return_count,omitempty"`
	ReturnFrequency *int `json:"return_frequency,omitempty"`

	Notes        string `json:"notes,omitempty"`
	PrivateNotes string `json:"-"`

	CanceledAt   *time.Time `json:"canceled_at,omitempty"`
	CanceledByID *uuid.UUID `json:"canceled_by_id,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReminderDue reports which reminder kinds are still due for the appointment
// given the scan instant and the two lookahead windows. Flags, not windows,
// are the exactly-once source of truth: an appointment inside both windows is
// due for both kinds until each flag is set.
func (a *Appointment) ReminderDue(now time.Time, dayWindow, soonWindow time.Duration) []ReminderKind {
	if a.Status != StatusConfirmed && a.Status != StatusAwaitingConfirmation {
		return nil
	}
	if a.ScheduledDate.Before(now) {
		return nil
	}
	var due []ReminderKind
	if !a.Reminder1DaySent && !a.ScheduledDate.After(now.Add(dayWindow)) {
		due = append(due, Reminder1Day)
	}
	if !a.Reminder5HoursSent && !a.ScheduledDate.After(now.Add(soonWindow)) {
		due = append(due, Reminder5Hours)
	}
	return due
}

// AppointmentReturn is a follow-up visit generated when the parent
// appointment is finalized. returnNumber is a 1-based sequence unique per
// parent.
type AppointmentReturn struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	TenantID      string    `json:"tenant_id"`

	ReturnNumber          int       `json:"return_number"`
	ScheduledDate         time.Time `json:"scheduled_date"`
	OriginalScheduledDate time.Time `json:"original_scheduled_date"`

	Status         ReturnStatus `json:"status"`
	ProfessionalID *uuid.UUID   `json:"professional_id,omitempty"`
	Location       Location     `json:"location"`

	ConfirmedByPatient bool       `json:"confirmed_by_patient"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`

	Reminder1DaySent   bool `json:"reminder_1day_sent"`
	Reminder5HoursSent bool `json:"reminder_5hours_sent"`

	CheckedIn   bool       `json:"checked_in"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`

	CanceledAt   *time.Time `json:"canceled_at,omitempty"`
	CanceledByID *uuid.UUID `json:"canceled_by_id,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateInput carries the booking request for a new appointment.
type CreateInput struct {
	TenantID           string      `json:"-"`
	LeadID             uuid.UUID   `json:"lead_id"`
	ProcedureID        uuid.UUID   `json:"procedure_id"`
	ProcedureIDs       []uuid.UUID `json:"procedure_ids,omitempty"`
	ProfessionalID     *uuid.UUID  `json:"professional_id,omitempty"`
	ScheduledDate      time.Time   `json:"scheduled_date"`
	EstimatedDuration  *int        `json:"estimated_duration,omitempty"`
	Location           Location    `json:"location"`
	PaymentAmountCents *int64      `json:"payment_amount_cents,omitempty"`
	PaymentMethod      string      `json:"payment_method,omitempty"`
	HasReturn          bool        `json:"has_return"`
	ReturnCount        *int        `json:"return_count,omitempty"`
	ReturnFrequency    *int        `json:"return_frequency,omitempty"`
	Notes              string      `json:"notes,omitempty"`
	CreatedByID        *uuid.UUID  `json:"created_by_id,omitempty"`
}

// Validate checks the required booking fields.
func (in *CreateInput) Validate() error {
	if in.TenantID == "" {
		return ErrMissingTenant
	}
	if in.LeadID == uuid.Nil {
		return ErrMissingLead
	}
	if in.ProcedureID == uuid.Nil {
		return ErrMissingProcedure
	}
	if in.ScheduledDate.IsZero() {
		return ErrMissingSchedule
	}
	if !in.Location.Valid() {
		return ErrInvalidLocation
	}
	return nil
}

// UpdateInput is an administrative field patch. It carries no lifecycle side
// effects; status overrides here bypass the state machine on purpose.
type UpdateInput struct {
	ProfessionalID     *uuid.UUID     `json:"professional_id,omitempty"`
	ScheduledDate      *time.Time     `json:"scheduled_date,omitempty"`
	EstimatedDuration  *int           `json:"estimated_duration,omitempty"`
	Location           *Location      `json:"location,omitempty"`
	Status             *Status        `json:"status,omitempty"`
	PaymentStatus      *PaymentStatus `json:"payment_status,omitempty"`
	PaymentProof       *string        `json:"payment_proof,omitempty"`
	PaymentAmountCents *int64         `json:"payment_amount_cents,omitempty"`
	Notes              *string        `json:"notes,omitempty"`
	PrivateNotes       *string        `json:"private_notes,omitempty"`
}

// RescheduleInput is the patient's proposed new slot.
type RescheduleInput struct {
	NewDate time.Time `json:"new_date"`
	Reason  string    `json:"reason,omitempty"`
}

// ConfirmInput is the patient's reply to a confirmation request. Exactly one
// branch applies; when neither does, the operation is a documented no-op.
type ConfirmInput struct {
	Confirmed  bool             `json:"confirmed"`
	Reschedule *RescheduleInput `json:"reschedule,omitempty"`
}

// FinalizeInput closes out an attendance and optionally schedules returns.
type FinalizeInput struct {
	HasReturn       bool   `json:"has_return"`
	ReturnCount     int    `json:"return_count,omitempty"`
	ReturnFrequency int    `json:"return_frequency,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// Page is a paginated appointment listing.
type Page struct {
	Data  []Appointment `json:"data"`
	Total int64         `json:"total"`
}
