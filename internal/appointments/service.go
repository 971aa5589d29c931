package appointments

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vittaclinic/agenda-platform/internal/clock"
	"github.com/vittaclinic/agenda-platform/internal/leadsync"
	"github.com/vittaclinic/agenda-platform/internal/notifications"
	"github.com/vittaclinic/agenda-platform/internal/observability/metrics"
	"github.com/vittaclinic/agenda-platform/pkg/logging"
)

// Storage is the persistence surface the service drives. *Store satisfies it;
// tests swap in a fake.
type Storage interface {
	Create(ctx context.Context, a *Appointment) error
	GetForTenant(ctx context.Context, tenantID string, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, tenantID string, limit, offset int) (*Page, error)
	ListByLead(ctx context.Context, tenantID string, leadID uuid.UUID) ([]Appointment, error)
	ListByProfessional(ctx context.Context, tenantID string, professionalID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListByDate(ctx context.Context, tenantID string, from, to time.Time) ([]Appointment, error)
	UpdateFields(ctx context.Context, tenantID string, id uuid.UUID, in UpdateInput, now time.Time) error
	ConfirmPayment(ctx context.Context, tenantID string, id uuid.UUID, proof, method string, now time.Time) error
	MarkAnamnesisSent(ctx context.Context, tenantID string, id uuid.UUID, now time.Time) error
	SetPatientConfirmed(ctx context.Context, tenantID string, id uuid.UUID, now time.Time) error
	SetRescheduled(ctx context.Context, tenantID string, id uuid.UUID, newDate, now time.Time) error
	SetCheckedIn(ctx context.Context, tenantID string, id uuid.UUID, staffID uuid.UUID, now time.Time) error
	StartAttendance(ctx context.Context, tenantID string, id uuid.UUID, now time.Time) error
	FinalizeWithReturns(ctx context.Context, tenantID string, id uuid.UUID, in FinalizeInput, now time.Time) ([]AppointmentReturn, error)
	CancelWithCascade(ctx context.Context, tenantID string, id uuid.UUID, userID uuid.UUID, reason string, now time.Time) (int64, error)
	ClaimReminder(ctx context.Context, tenantID string, id uuid.UUID, kind ReminderKind) (bool, error)
	ListReturns(ctx context.Context, tenantID string, appointmentID uuid.UUID) ([]AppointmentReturn, error)
}

// Notifier records outbound notification intents. Failures are best-effort:
// the service logs them and never rolls back the transition that triggered
// the notification.
type Notifier interface {
	EnqueueForAppointment(ctx context.Context, tenantID string, appointmentID uuid.UUID, typ notifications.Type, message string) error
}

// Service drives the appointment lifecycle. Every transition persists first,
// then emits its notification and lead-status side effects.
type Service struct {
	store    Storage
	notifier Notifier
	leads    leadsync.Synchronizer
	clock    clock.Clock
	metrics  *metrics.AgendaMetrics
	logger   *logging.Logger
}

// NewService creates the appointment service. notifier, leads and metrics may
// be nil; the corresponding side effects are skipped.
func NewService(store Storage, notifier Notifier, leads leadsync.Synchronizer, clk clock.Clock, m *metrics.AgendaMetrics, logger *logging.Logger) *Service {
	if store == nil {
		panic("appointments: store required")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if leads == nil {
		leads = leadsync.Noop{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:    store,
		notifier: notifier,
		leads:    leads,
		clock:    clk,
		metrics:  m,
		logger:   logger,
	}
}

// Create books a new appointment in AWAITING_PAYMENT.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Appointment, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	a := &Appointment{
		ID:                 uuid.New(),
		TenantID:           in.TenantID,
		LeadID:             in.LeadID,
		ProcedureID:        in.ProcedureID,
		ProcedureIDs:       in.ProcedureIDs,
		ProfessionalID:     in.ProfessionalID,
		CreatedByID:        in.CreatedByID,
		ScheduledDate:      in.ScheduledDate,
		EstimatedDuration:  in.EstimatedDuration,
		Location:           in.Location,
		Status:             StatusAwaitingPayment,
		PaymentStatus:      PaymentPending,
		AnamnesisStatus:    AnamnesisPending,
		PaymentAmountCents: in.PaymentAmountCents,
		PaymentMethod:      in.PaymentMethod,
		HasReturn:          in.HasReturn,
		ReturnCount:        in.ReturnCount,
		ReturnFrequency:    in.ReturnFrequency,
		Notes:              in.Notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Create(ctx, a); err != nil {
		s.metrics.ObserveTransition("create", "error")
		return nil, err
	}
	s.metrics.ObserveTransition("create", "ok")
	s.logger.Info("appointment created",
		"tenant_id", a.TenantID, "appointment_id", a.ID, "lead_id", a.LeadID, "scheduled_date", a.ScheduledDate)

	s.notify(ctx, a.TenantID, a.ID, notifications.TypeCreated, notifications.CreatedMessage())
	s.syncLead(ctx, a.TenantID, a.LeadID, leadsync.StatusBookingPending)
	return a, nil
}

// Get loads a tenant's appointment.
func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (*Appointment, error) {
	return s.store.GetForTenant(ctx, tenantID, id)
}

// List returns a page of the tenant's appointments.
func (s *Service) List(ctx context.Context, tenantID string, limit, offset int) (*Page, error) {
	return s.store.List(ctx, tenantID, limit, offset)
}

// ListByLead returns a lead's appointments.
func (s *Service) ListByLead(ctx context.Context, tenantID string, leadID uuid.UUID) ([]Appointment, error) {
	return s.store.ListByLead(ctx, tenantID, leadID)
}

// ListByProfessional returns a professional's appointments inside a range.
func (s *Service) ListByProfessional(ctx context.Context, tenantID string, professionalID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	return s.store.ListByProfessional(ctx, tenantID, professionalID, from, to)
}

// ListByDate returns the tenant's appointments inside a range.
func (s *Service) ListByDate(ctx context.Context, tenantID string, from, to time.Time) ([]Appointment, error) {
	return s.store.ListByDate(ctx, tenantID, from, to)
}

// FindToday returns the tenant's appointments for the current calendar day,
// UTC day bounds.
func (s *Service) FindToday(ctx context.Context, tenantID string) ([]Appointment, error) {
	now := s.clock.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return s.store.ListByDate(ctx, tenantID, start, end)
}

// Update applies an administrative patch and returns the updated record.
func (s *Service) Update(ctx context.Context, tenantID string, id uuid.UUID, in UpdateInput) (*Appointment, error) {
	if in.Location != nil && !in.Location.Valid() {
		return nil, ErrInvalidLocation
	}
	if err := s.store.UpdateFields(ctx, tenantID, id, in, s.clock.Now()); err != nil {
		return nil, err
	}
	return s.store.GetForTenant(ctx, tenantID, id)
}

// ConfirmPayment takes the payment gate: exactly once per appointment. A
// confirmed payment triggers the intake form send and moves the lead to
// SCHEDULED.
func (s *Service) ConfirmPayment(ctx context.Context, tenantID string, id uuid.UUID, proof, method string) (*Appointment, error) {
	if err := s.store.ConfirmPayment(ctx, tenantID, id, proof, method, s.clock.Now()); err != nil {
		s.metrics.ObserveTransition("confirm_payment", "error")
		return nil, err
	}
	s.metrics.ObserveTransition("confirm_payment", "ok")
	s.logger.Info("payment confirmed", "tenant_id", tenantID, "appointment_id", id)

	s.notify(ctx, tenantID, id, notifications.TypePaymentConfirmed, notifications.PaymentConfirmedMessage())

	a, err := s.store.GetForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	s.syncLead(ctx, tenantID, a.LeadID, leadsync.StatusScheduled)

	// The intake form follows the payment automatically; a failure here is
	// recoverable through the explicit resend operation.
	if _, err := s.SendAnamnesisForm(ctx, tenantID, id); err != nil {
		s.logger.Error("automatic anamnesis send failed",
			"error", err, "tenant_id", tenantID, "appointment_id", id)
	}
	return s.store.GetForTenant(ctx, tenantID, id)
}

// SendAnamnesisForm (re-)sends the intake form. Repeatable: every call
// refreshes the sent timestamp and enqueues another notification.
func (s *Service) SendAnamnesisForm(ctx context.Context, tenantID string, id uuid.UUID) (*Appointment, error) {
	if err := s.store.MarkAnamnesisSent(ctx, tenantID, id, s.clock.Now()); err != nil {
		return nil, err
	}
	s.notify(ctx, tenantID, id, notifications.TypeAnamnesisSent, notifications.AnamnesisSentMessage())
	return s.store.GetForTenant(ctx, tenantID, id)
}

// ConfirmByPatient applies the patient's reply: confirm the slot, propose a
// new one, or neither, which is a no-op that leaves the record untouched.
func (s *Service) ConfirmByPatient(ctx context.Context, tenantID string, id uuid.UUID, in ConfirmInput) (*Appointment, error) {
	now := s.clock.Now()
	switch {
	case in.Confirmed:
		if err := s.store.SetPatientConfirmed(ctx, tenantID, id, now); err != nil {
			s.metrics.ObserveTransition("patient_confirm", "error")
			return nil, err
		}
		s.metrics.ObserveTransition("patient_confirm", "ok")
		s.notify(ctx, tenantID, id, notifications.TypeConfirmationReceived, notifications.ConfirmationReceivedMessage())
	case in.Reschedule != nil:
		if in.Reschedule.NewDate.IsZero() {
			return nil, ErrMissingSchedule
		}
		if err := s.store.SetRescheduled(ctx, tenantID, id, in.Reschedule.NewDate, now); err != nil {
			s.metrics.ObserveTransition("patient_reschedule", "error")
			return nil, err
		}
		s.metrics.ObserveTransition("patient_reschedule", "ok")
		s.notify(ctx, tenantID, id, notifications.TypeRescheduleConfirmed,
			notifications.RescheduleConfirmedMessage(in.Reschedule.NewDate))
	default:
		s.logger.Info("confirmation reply carried no decision",
			"tenant_id", tenantID, "appointment_id", id)
	}
	return s.store.GetForTenant(ctx, tenantID, id)
}

// CheckIn records the patient's arrival at reception. It does not change the
// lifecycle status and sends nothing.
func (s *Service) CheckIn(ctx context.Context, tenantID string, id uuid.UUID, staffID uuid.UUID) (*Appointment, error) {
	if err := s.store.SetCheckedIn(ctx, tenantID, id, staffID, s.clock.Now()); err != nil {
		return nil, err
	}
	return s.store.GetForTenant(ctx, tenantID, id)
}

// StartAttendance moves the appointment into treatment and the lead into
// IN_TREATMENT.
func (s *Service) StartAttendance(ctx context.Context, tenantID string, id uuid.UUID) (*Appointment, error) {
	if err := s.store.StartAttendance(ctx, tenantID, id, s.clock.Now()); err != nil {
		s.metrics.ObserveTransition("start_attendance", "error")
		return nil, err
	}
	s.metrics.ObserveTransition("start_attendance", "ok")

	a, err := s.store.GetForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	s.syncLead(ctx, tenantID, a.LeadID, leadsync.StatusInTreatment)
	return a, nil
}

// Finalize closes the attendance. When a return plan is requested the child
// returns are generated and persisted in the same transaction as the status
// change, one per cadence step at frequency*i days after the parent's slot.
func (s *Service) Finalize(ctx context.Context, tenantID string, id uuid.UUID, in FinalizeInput) (*Appointment, []AppointmentReturn, error) {
	returns, err := s.store.FinalizeWithReturns(ctx, tenantID, id, in, s.clock.Now())
	if err != nil {
		s.metrics.ObserveTransition("finalize", "error")
		return nil, nil, err
	}
	s.metrics.ObserveTransition("finalize", "ok")
	s.logger.Info("attendance finalized",
		"tenant_id", tenantID, "appointment_id", id, "returns", len(returns))

	updated, err := s.store.GetForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, nil, err
	}
	s.notify(ctx, tenantID, id, notifications.TypeAttendanceFinished, notifications.AttendanceFinishedMessage())
	s.syncLead(ctx, tenantID, updated.LeadID, leadsync.StatusFinished)
	return updated, returns, nil
}

// Cancel cancels the appointment and cascades to every non-terminal child
// return. The lead moves to CANCELED.
func (s *Service) Cancel(ctx context.Context, tenantID string, id uuid.UUID, userID uuid.UUID, reason string) (*Appointment, error) {
	a, err := s.store.GetForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	cascaded, err := s.store.CancelWithCascade(ctx, tenantID, id, userID, reason, s.clock.Now())
	if err != nil {
		s.metrics.ObserveTransition("cancel", "error")
		return nil, err
	}
	s.metrics.ObserveTransition("cancel", "ok")
	s.logger.Info("appointment canceled",
		"tenant_id", tenantID, "appointment_id", id, "cascaded_returns", cascaded)

	s.notify(ctx, tenantID, id, notifications.TypeCanceled, notifications.CanceledMessage(reason))
	s.syncLead(ctx, tenantID, a.LeadID, leadsync.StatusCanceled)
	return s.store.GetForTenant(ctx, tenantID, id)
}

// MarkReminderSent claims a reminder flag for the scanner and enqueues the
// matching reminder notification. The claim is one-way; a lost claim means
// another scanner already sent this kind and nothing is enqueued.
func (s *Service) MarkReminderSent(ctx context.Context, tenantID string, id uuid.UUID, kind ReminderKind) (bool, error) {
	if !kind.Valid() {
		return false, ErrInvalidReminderKind
	}
	a, err := s.store.GetForTenant(ctx, tenantID, id)
	if err != nil {
		return false, err
	}

	claimed, err := s.store.ClaimReminder(ctx, tenantID, id, kind)
	if err != nil || !claimed {
		return false, err
	}
	s.metrics.ObserveReminderClaimed(string(kind))

	typ := notifications.TypeReminder1Day
	if kind == Reminder5Hours {
		typ = notifications.TypeReminder5Hours
	}
	s.notify(ctx, tenantID, id, typ, notifications.ReminderMessage(string(kind), a.ScheduledDate))
	return true, nil
}

// ListReturns returns an appointment's generated follow-up visits.
func (s *Service) ListReturns(ctx context.Context, tenantID string, appointmentID uuid.UUID) ([]AppointmentReturn, error) {
	return s.store.ListReturns(ctx, tenantID, appointmentID)
}

func (s *Service) notify(ctx context.Context, tenantID string, id uuid.UUID, typ notifications.Type, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.EnqueueForAppointment(ctx, tenantID, id, typ, message); err != nil {
		s.metrics.ObserveNotification(string(typ), "error")
		s.logger.Error("notification enqueue failed",
			"error", err, "tenant_id", tenantID, "appointment_id", id, "type", string(typ))
		return
	}
	s.metrics.ObserveNotification(string(typ), "ok")
}

func (s *Service) syncLead(ctx context.Context, tenantID string, leadID uuid.UUID, status leadsync.Status) {
	if err := s.leads.SetLeadStatus(ctx, tenantID, leadID, status); err != nil {
		s.logger.Error("lead status sync failed",
			"error", err, "tenant_id", tenantID, "lead_id", leadID, "status", string(status))
	}
}
