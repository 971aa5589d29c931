package appointments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vittaclinic/agenda-platform/internal/clock"
	"github.com/vittaclinic/agenda-platform/internal/leadsync"
	"github.com/vittaclinic/agenda-platform/internal/notifications"
)

// fakeStore is an in-memory Storage implementation with the same transition
// preconditions as the SQL store.
type fakeStore struct {
	appointments map[uuid.UUID]*Appointment
	returns      map[uuid.UUID][]AppointmentReturn
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		appointments: make(map[uuid.UUID]*Appointment),
		returns:      make(map[uuid.UUID][]AppointmentReturn),
	}
}

func (f *fakeStore) get(tenantID string, id uuid.UUID) (*Appointment, error) {
	a, ok := f.appointments[id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) Create(_ context.Context, a *Appointment) error {
	cp := *a
	f.appointments[a.ID] = &cp
	return nil
}

func (f *fakeStore) GetForTenant(_ context.Context, tenantID string, id uuid.UUID) (*Appointment, error) {
	a, err := f.get(tenantID, id)
	if err != nil {
		return nil, err
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) List(_ context.Context, tenantID string, _, _ int) (*Page, error) {
	var data []Appointment
	for _, a := range f.appointments {
		if a.TenantID == tenantID {
			data = append(data, *a)
		}
	}
	return &Page{Data: data, Total: int64(len(data))}, nil
}

func (f *fakeStore) ListByLead(_ context.Context, tenantID string, leadID uuid.UUID) ([]Appointment, error) {
	var data []Appointment
	for _, a := range f.appointments {
		if a.TenantID == tenantID && a.LeadID == leadID {
			data = append(data, *a)
		}
	}
	return data, nil
}

func (f *fakeStore) ListByProfessional(_ context.Context, tenantID string, professionalID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	var data []Appointment
	for _, a := range f.appointments {
		if a.TenantID == tenantID && a.ProfessionalID != nil && *a.ProfessionalID == professionalID &&
			!a.ScheduledDate.Before(from) && !a.ScheduledDate.After(to) {
			data = append(data, *a)
		}
	}
	return data, nil
}

func (f *fakeStore) ListByDate(_ context.Context, tenantID string, from, to time.Time) ([]Appointment, error) {
	var data []Appointment
	for _, a := range f.appointments {
		if a.TenantID == tenantID && !a.ScheduledDate.Before(from) && !a.ScheduledDate.After(to) {
			data = append(data, *a)
		}
	}
	return data, nil
}

func (f *fakeStore) UpdateFields(_ context.Context, tenantID string, id uuid.UUID, in UpdateInput, now time.Time) error {
	a, err := f.get(tenantID, id)
	if err != nil {
		return err
	}
	if in.ScheduledDate != nil {
		a.ScheduledDate = *in.ScheduledDate
	}
	if in.Status != nil {
		a.Status = *in.Status
	}
	if in.Notes != nil {
		a.Notes = *in.Notes
	}
	a.UpdatedAt = now
	return nil
}

func (f *fakeStore) ConfirmPayment(_ context.Context, tenantID string, id uuid.UUID, proof, method string, now time.Time) error {
	a, err := f.get(tenantID, id)
	if err != nil {
		return err
	}
	if a.PaymentStatus == PaymentPaid {
		return ErrAlreadyPaid
	}
	a.PaymentStatus = PaymentPaid
	a.Status = StatusAwaitingConfirmation
	a.PaymentProof = proof
	a.PaymentMethod = method
	a.UpdatedAt = now
	return nil
}

func (f *fakeStore) MarkAnamnesisSent(_ context.Context, tenantID string, id uuid.UUID, now time.Time) error {
	a, err := f.get(tenantID, id)
	if err != nil {
		return err
	}
	a.AnamnesisStatus = AnamnesisSent
	a.AnamnesisSentAt = &now
	return nil
}

func (f *fakeStore) SetPatientConfirmed(_ context.Context, tenantID string, id uuid.UUID, now time.Time) error {
	a, err := f.get(tenantID, id)
	if err != nil {
		return err
	}
	a.ConfirmedByPatient = true
	a.ConfirmedAt = &now
	a.Status = StatusConfirmed
	return nil
}

func (f *fakeStore) SetRescheduled(_ context.Context, tenantID string, id uuid.UUID, newDate, now time.Time) error {
	a, err := f.get(tenantID, id)
	if err != nil {
		return err
	}
	a.Status = StatusRescheduled
	a.ScheduledDate = newDate
	a.UpdatedAt = now
	return nil
}

func (f *fakeStore) SetCheckedIn(_ context.Context, tenantID string, id uuid.UUID, staffID uuid.UUID, now time.Time) error {
	a, err := f.get(tenantID, id)
	if err != nil {
		return err
	}
	a.CheckedIn = true
	a.CheckedInAt = &now
	a.CheckedInBy = &staffID
	return nil
}

func (f *fakeStore) StartAttendance(_ context.Context, tenantID string, id uuid.UUID, now time.Time) error {
	a, err := f.get(tenantID, id)
	if err != nil {
		return err
	}
	if a.Status.Terminal() {
		return ErrInvalidTransition
	}
	a.Status = StatusInProgress
	a.AttendanceStartedAt = &now
	return nil
}

func (f *fakeStore) FinalizeWithReturns(_ context.Context, tenantID string, id uuid.UUID, in FinalizeInput, now time.Time) ([]AppointmentReturn, error) {
	a, err := f.get(tenantID, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusInProgress {
		return nil, ErrInvalidTransition
	}
	a.Status = StatusFinished
	a.AttendanceEndedAt = &now
	a.HasReturn = in.HasReturn
	var returns []AppointmentReturn
	if in.HasReturn {
		returns = GenerateReturns(a, in.ReturnCount, in.ReturnFrequency, now)
	}
	f.returns[id] = append(f.returns[id], returns...)
	return returns, nil
}

func (f *fakeStore) CancelWithCascade(_ context.Context, tenantID string, id uuid.UUID, userID uuid.UUID, reason string, now time.Time) (int64, error) {
	a, err := f.get(tenantID, id)
	if err != nil {
		return 0, err
	}
	if a.Status.Terminal() {
		return 0, ErrInvalidTransition
	}
	a.Status = StatusCanceled
	a.CanceledAt = &now
	a.CanceledByID = &userID
	a.CancelReason = reason

	var cascaded int64
	children := f.returns[id]
	for i := range children {
		if children[i].Status.Terminal() {
			continue
		}
		children[i].Status = ReturnCanceled
		children[i].CancelReason = "parent appointment canceled"
		cascaded++
	}
	return cascaded, nil
}

func (f *fakeStore) ClaimReminder(_ context.Context, tenantID string, id uuid.UUID, kind ReminderKind) (bool, error) {
	a, err := f.get(tenantID, id)
	if err != nil {
		return false, err
	}
	switch kind {
	case Reminder1Day:
		if a.Reminder1DaySent {
			return false, nil
		}
		a.Reminder1DaySent = true
	case Reminder5Hours:
		if a.Reminder5HoursSent {
			return false, nil
		}
		a.Reminder5HoursSent = true
	default:
		return false, ErrInvalidReminderKind
	}
	return true, nil
}

func (f *fakeStore) ListReturns(_ context.Context, tenantID string, appointmentID uuid.UUID) ([]AppointmentReturn, error) {
	if _, err := f.get(tenantID, appointmentID); err != nil {
		return nil, err
	}
	return f.returns[appointmentID], nil
}

type sentNotification struct {
	tenantID string
	id       uuid.UUID
	typ      notifications.Type
	message  string
}

type fakeNotifier struct {
	sent []sentNotification
}

func (f *fakeNotifier) EnqueueForAppointment(_ context.Context, tenantID string, id uuid.UUID, typ notifications.Type, message string) error {
	f.sent = append(f.sent, sentNotification{tenantID, id, typ, message})
	return nil
}

func (f *fakeNotifier) types() []notifications.Type {
	var types []notifications.Type
	for _, n := range f.sent {
		types = append(types, n.typ)
	}
	return types
}

type leadStatusCall struct {
	leadID uuid.UUID
	status leadsync.Status
}

type fakeLeadSync struct {
	calls []leadStatusCall
}

func (f *fakeLeadSync) SetLeadStatus(_ context.Context, _ string, leadID uuid.UUID, status leadsync.Status) error {
	f.calls = append(f.calls, leadStatusCall{leadID, status})
	return nil
}

type fixture struct {
	svc      *Service
	store    *fakeStore
	notifier *fakeNotifier
	leads    *fakeLeadSync
	clock    *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newFakeStore()
	notifier := &fakeNotifier{}
	leads := &fakeLeadSync{}
	clk := clock.NewFake(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	svc := NewService(store, notifier, leads, clk, nil, nil)
	return &fixture{svc: svc, store: store, notifier: notifier, leads: leads, clock: clk}
}

func (fx *fixture) book(t *testing.T, scheduled time.Time) *Appointment {
	t.Helper()
	a, err := fx.svc.Create(context.Background(), CreateInput{
		TenantID:      "tenant-1",
		LeadID:        uuid.New(),
		ProcedureID:   uuid.New(),
		ScheduledDate: scheduled,
		Location:      LocationMainClinic,
	})
	require.NoError(t, err)
	return a
}

func TestCreateStartsAwaitingPayment(t *testing.T) {
	fx := newFixture(t)
	a := fx.book(t, time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))

	assert.Equal(t, StatusAwaitingPayment, a.Status)
	assert.Equal(t, PaymentPending, a.PaymentStatus)
	assert.Equal(t, AnamnesisPending, a.AnamnesisStatus)

	require.Len(t, fx.notifier.sent, 1)
	assert.Equal(t, notifications.TypeCreated, fx.notifier.sent[0].typ)
	require.Len(t, fx.leads.calls, 1)
	assert.Equal(t, leadsync.StatusBookingPending, fx.leads.calls[0].status)
}

func TestCreateValidation(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.Create(context.Background(), CreateInput{
		TenantID:      "tenant-1",
		LeadID:        uuid.New(),
		ProcedureID:   uuid.New(),
		ScheduledDate: time.Now(),
		Location:      Location("moonbase"),
	})
	assert.ErrorIs(t, err, ErrInvalidLocation)

	_, err = fx.svc.Create(context.Background(), CreateInput{TenantID: "tenant-1"})
	assert.ErrorIs(t, err, ErrMissingLead)
}

func TestConfirmPaymentMovesToAwaitingConfirmationAndSendsAnamnesis(t *testing.T) {
	fx := newFixture(t)
	a := fx.book(t, time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))

	updated, err := fx.svc.ConfirmPayment(context.Background(), "tenant-1", a.ID, "receipt.pdf", "pix")
	require.NoError(t, err)

	assert.Equal(t, StatusAwaitingConfirmation, updated.Status)
	assert.Equal(t, PaymentPaid, updated.PaymentStatus)
	assert.Equal(t, AnamnesisSent, updated.AnamnesisStatus)

	assert.Equal(t, []notifications.Type{
		notifications.TypeCreated,
		notifications.TypePaymentConfirmed,
		notifications.TypeAnamnesisSent,
	}, fx.notifier.types())
	assert.Equal(t, leadsync.StatusScheduled, fx.leads.calls[len(fx.leads.calls)-1].status)
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	a := fx.book(t, time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))

	_, err := fx.svc.ConfirmPayment(context.Background(), "tenant-1", a.ID, "receipt.pdf", "pix")
	require.NoError(t, err)
	sentBefore := len(fx.notifier.sent)

	_, err = fx.svc.ConfirmPayment(context.Background(), "tenant-1", a.ID, "receipt.pdf", "pix")
	assert.ErrorIs(t, err, ErrAlreadyPaid)
	assert.Len(t, fx.notifier.sent, sentBefore, "second confirm must not re-emit side effects")
}

func TestConfirmByPatientBranches(t *testing.T) {
	fx := newFixture(t)

	t.Run("confirmed", func(t *testing.T) {
		a := fx.book(t, time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))
		updated, err := fx.svc.ConfirmByPatient(context.Background(), "tenant-1", a.ID, ConfirmInput{Confirmed: true})
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, updated.Status)
		assert.True(t, updated.ConfirmedByPatient)
	})

	t.Run("reschedule", func(t *testing.T) {
		a := fx.book(t, time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))
		newDate := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)
		updated, err := fx.svc.ConfirmByPatient(context.Background(), "tenant-1", a.ID, ConfirmInput{
			Reschedule: &RescheduleInput{NewDate: newDate},
		})
		require.NoError(t, err)
		assert.Equal(t, StatusRescheduled, updated.Status)
		assert.Equal(t, newDate, updated.ScheduledDate)
		assert.False(t, updated.ConfirmedByPatient, "rescheduled slot still needs confirmation")
	})

	t.Run("neither branch is a no-op", func(t *testing.T) {
		a := fx.book(t, time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))
		before := len(fx.notifier.sent)
		updated, err := fx.svc.ConfirmByPatient(context.Background(), "tenant-1", a.ID, ConfirmInput{})
		require.NoError(t, err)
		assert.Equal(t, a.Status, updated.Status)
		assert.Len(t, fx.notifier.sent, before)
	})
}

func TestCheckInLeavesStatusUntouched(t *testing.T) {
	fx := newFixture(t)
	a := fx.book(t, time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))
	before := len(fx.notifier.sent)

	staffID := uuid.New()
	updated, err := fx.svc.CheckIn(context.Background(), "tenant-1", a.ID, staffID)
	require.NoError(t, err)

	assert.True(t, updated.CheckedIn)
	assert.Equal(t, &staffID, updated.CheckedInBy)
	assert.Equal(t, a.Status, updated.Status)
	assert.Len(t, fx.notifier.sent, before, "check-in sends nothing")
}

func TestStartAttendanceSyncsLead(t *testing.T) {
	fx := newFixture(t)
	a := fx.book(t, time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))

	updated, err := fx.svc.StartAttendance(context.Background(), "tenant-1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, updated.Status)
	assert.Equal(t, leadsync.StatusInTreatment, fx.leads.calls[len(fx.leads.calls)-1].status)
}

func TestFinalizeGeneratesReturnsAtCadence(t *testing.T) {
	fx := newFixture(t)
	scheduled := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	a := fx.book(t, scheduled)
	_, err := fx.svc.StartAttendance(context.Background(), "tenant-1", a.ID)
	require.NoError(t, err)

	updated, returns, err := fx.svc.Finalize(context.Background(), "tenant-1", a.ID, FinalizeInput{
		HasReturn:       true,
		ReturnCount:     3,
		ReturnFrequency: 30,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusFinished, updated.Status)
	require.Len(t, returns, 3)
	for i, r := range returns {
		assert.Equal(t, i+1, r.ReturnNumber)
		assert.Equal(t, scheduled.AddDate(0, 0, 30*(i+1)), r.ScheduledDate)
		assert.Equal(t, ReturnScheduled, r.Status)
		assert.Equal(t, "tenant-1", r.TenantID)
	}

	assert.Equal(t, notifications.TypeAttendanceFinished, fx.notifier.sent[len(fx.notifier.sent)-1].typ)
	assert.Equal(t, leadsync.StatusFinished, fx.leads.calls[len(fx.leads.calls)-1].status)
}

func TestFinalizeCadenceFollowsCurrentScheduledDate(t *testing.T) {
	fx := newFixture(t)
	a := fx.book(t, time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))
	_, err := fx.svc.StartAttendance(context.Background(), "tenant-1", a.ID)
	require.NoError(t, err)

	// The slot moves after the caller last saw the appointment; the plan
	// must base on the slot that actually gets committed.
	moved := time.Date(2025, 6, 12, 9, 0, 0, 0, time.UTC)
	_, err = fx.svc.Update(context.Background(), "tenant-1", a.ID, UpdateInput{ScheduledDate: &moved})
	require.NoError(t, err)

	_, returns, err := fx.svc.Finalize(context.Background(), "tenant-1", a.ID, FinalizeInput{
		HasReturn:       true,
		ReturnCount:     1,
		ReturnFrequency: 30,
	})
	require.NoError(t, err)
	require.Len(t, returns, 1)
	assert.Equal(t, moved.AddDate(0, 0, 30), returns[0].ScheduledDate)
}

func TestFinalizeWithoutReturnPlanGeneratesNothing(t *testing.T) {
	fx := newFixture(t)
	a := fx.book(t, time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))
	_, err := fx.svc.StartAttendance(context.Background(), "tenant-1", a.ID)
	require.NoError(t, err)

	_, returns, err := fx.svc.Finalize(context.Background(), "tenant-1", a.ID, FinalizeInput{
		HasReturn:       true,
		ReturnCount:     0,
		ReturnFrequency: 30,
	})
	require.NoError(t, err)
	assert.Empty(t, returns, "zero count skips generation")
}

func TestFinalizeRequiresInProgress(t *testing.T) {
	fx := newFixture(t)
	a := fx.book(t, time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))

	_, _, err := fx.svc.Finalize(context.Background(), "tenant-1", a.ID, FinalizeInput{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelCascadesToNonTerminalReturns(t *testing.T) {
	fx := newFixture(t)
	a := fx.book(t, time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))
	_, err := fx.svc.StartAttendance(context.Background(), "tenant-1", a.ID)
	require.NoError(t, err)
	_, _, err = fx.svc.Finalize(context.Background(), "tenant-1", a.ID, FinalizeInput{
		HasReturn: true, ReturnCount: 3, ReturnFrequency: 30,
	})
	require.NoError(t, err)

	// A finished parent cannot be canceled; book a second one with returns
	// still pending, then cancel it.
	b := fx.book(t, time.Date(2025, 7, 1, 14, 0, 0, 0, time.UTC))
	_, err = fx.svc.StartAttendance(context.Background(), "tenant-1", b.ID)
	require.NoError(t, err)
	fx.store.returns[b.ID] = []AppointmentReturn{
		{ID: uuid.New(), AppointmentID: b.ID, TenantID: "tenant-1", ReturnNumber: 1, Status: ReturnScheduled},
		{ID: uuid.New(), AppointmentID: b.ID, TenantID: "tenant-1", ReturnNumber: 2, Status: ReturnDone},
		{ID: uuid.New(), AppointmentID: b.ID, TenantID: "tenant-1", ReturnNumber: 3, Status: ReturnConfirmed},
	}

	userID := uuid.New()
	updated, err := fx.svc.Cancel(context.Background(), "tenant-1", b.ID, userID, "patient moved away")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, updated.Status)
	assert.Equal(t, "patient moved away", updated.CancelReason)

	children := fx.store.returns[b.ID]
	assert.Equal(t, ReturnCanceled, children[0].Status)
	assert.Equal(t, "parent appointment canceled", children[0].CancelReason)
	assert.Equal(t, ReturnDone, children[1].Status, "terminal returns stay untouched")
	assert.Equal(t, ReturnCanceled, children[2].Status)

	assert.Equal(t, leadsync.StatusCanceled, fx.leads.calls[len(fx.leads.calls)-1].status)
}

func TestCancelTerminalAppointmentFails(t *testing.T) {
	fx := newFixture(t)
	a := fx.book(t, time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))
	_, err := fx.svc.StartAttendance(context.Background(), "tenant-1", a.ID)
	require.NoError(t, err)
	_, _, err = fx.svc.Finalize(context.Background(), "tenant-1", a.ID, FinalizeInput{})
	require.NoError(t, err)

	_, err = fx.svc.Cancel(context.Background(), "tenant-1", a.ID, uuid.New(), "too late")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMarkReminderSentIsExactlyOnce(t *testing.T) {
	fx := newFixture(t)
	a := fx.book(t, time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))

	claimed, err := fx.svc.MarkReminderSent(context.Background(), "tenant-1", a.ID, Reminder1Day)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, notifications.TypeReminder1Day, fx.notifier.sent[len(fx.notifier.sent)-1].typ)
	sentAfterFirst := len(fx.notifier.sent)

	claimed, err = fx.svc.MarkReminderSent(context.Background(), "tenant-1", a.ID, Reminder1Day)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Len(t, fx.notifier.sent, sentAfterFirst, "lost claim enqueues nothing")

	// The other kind is an independent flag.
	claimed, err = fx.svc.MarkReminderSent(context.Background(), "tenant-1", a.ID, Reminder5Hours)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, notifications.TypeReminder5Hours, fx.notifier.sent[len(fx.notifier.sent)-1].typ)
}

func TestMarkReminderSentRejectsUnknownKind(t *testing.T) {
	fx := newFixture(t)
	a := fx.book(t, time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))
	_, err := fx.svc.MarkReminderSent(context.Background(), "tenant-1", a.ID, ReminderKind("2weeks"))
	assert.ErrorIs(t, err, ErrInvalidReminderKind)
}

func TestTenantIsolation(t *testing.T) {
	fx := newFixture(t)
	a := fx.book(t, time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))

	_, err := fx.svc.Get(context.Background(), "tenant-2", a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = fx.svc.ConfirmPayment(context.Background(), "tenant-2", a.ID, "p", "pix")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = fx.svc.Cancel(context.Background(), "tenant-2", a.ID, uuid.New(), "wrong tenant")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindTodayUsesClockDayBounds(t *testing.T) {
	fx := newFixture(t)
	today := fx.book(t, time.Date(2025, 6, 1, 16, 0, 0, 0, time.UTC))
	fx.book(t, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))

	got, err := fx.svc.FindToday(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, today.ID, got[0].ID)
}
