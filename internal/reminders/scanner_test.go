package reminders

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vittaclinic/agenda-platform/internal/appointments"
	"github.com/vittaclinic/agenda-platform/internal/clock"
)

type fakeSource struct {
	due []appointments.Appointment
	err error
}

func (f *fakeSource) FindNeedingReminders(context.Context, time.Time, time.Duration, time.Duration) ([]appointments.Appointment, error) {
	return f.due, f.err
}

type claimCall struct {
	tenantID string
	id       uuid.UUID
	kind     appointments.ReminderKind
}

type fakeSender struct {
	claimed map[string]bool
	calls   []claimCall
}

func newFakeSender() *fakeSender {
	return &fakeSender{claimed: make(map[string]bool)}
}

func (f *fakeSender) MarkReminderSent(_ context.Context, tenantID string, id uuid.UUID, kind appointments.ReminderKind) (bool, error) {
	f.calls = append(f.calls, claimCall{tenantID, id, kind})
	key := id.String() + ":" + string(kind)
	if f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	return true, nil
}

func testClock() *clock.Fake {
	return clock.NewFake(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
}

func dueAppointment(clk clock.Clock, in time.Duration) appointments.Appointment {
	return appointments.Appointment{
		ID:            uuid.New(),
		TenantID:      "tenant-1",
		Status:        appointments.StatusConfirmed,
		ScheduledDate: clk.Now().Add(in),
	}
}

func TestRunOnceSendsDueReminders(t *testing.T) {
	clk := testClock()
	source := &fakeSource{due: []appointments.Appointment{
		dueAppointment(clk, 20*time.Hour), // 1day only
		dueAppointment(clk, 3*time.Hour),  // both windows
	}}
	sender := newFakeSender()

	scanner := NewScanner(source, sender, nil, clk, nil, nil)
	sent := scanner.RunOnce(context.Background())

	assert.Equal(t, 3, sent)
	require.Len(t, sender.calls, 3)
	assert.Equal(t, appointments.Reminder1Day, sender.calls[0].kind)
	assert.Equal(t, appointments.Reminder1Day, sender.calls[1].kind)
	assert.Equal(t, appointments.Reminder5Hours, sender.calls[2].kind)
}

func TestRunOnceIsExactlyOnceAcrossTicks(t *testing.T) {
	clk := testClock()
	a := dueAppointment(clk, 3*time.Hour)
	source := &fakeSource{due: []appointments.Appointment{a}}
	sender := newFakeSender()

	scanner := NewScanner(source, sender, nil, clk, nil, nil)
	assert.Equal(t, 2, scanner.RunOnce(context.Background()))

	// The store still reports the row due (flags unset in the fake source
	// snapshot), but every claim is lost on the second tick.
	assert.Equal(t, 0, scanner.RunOnce(context.Background()))
}

func TestRunOnceSkipsWithoutTickLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := testClock()
	source := &fakeSource{due: []appointments.Appointment{dueAppointment(clk, 3*time.Hour)}}
	sender := newFakeSender()
	lock := NewTickLock(client, time.Minute)

	// Another instance owns the tick.
	require.NoError(t, mr.Set("agenda:reminder-scan:lock", "held"))

	scanner := NewScanner(source, sender, lock, clk, nil, nil)
	assert.Equal(t, 0, scanner.RunOnce(context.Background()))
	assert.Empty(t, sender.calls)

	// Lock released: the next tick proceeds and releases the lock after.
	mr.Del("agenda:reminder-scan:lock")
	assert.Equal(t, 2, scanner.RunOnce(context.Background()))
	assert.False(t, mr.Exists("agenda:reminder-scan:lock"))
}

func TestRunOnceSurvivesSourceError(t *testing.T) {
	clk := testClock()
	source := &fakeSource{err: context.DeadlineExceeded}
	scanner := NewScanner(source, newFakeSender(), nil, clk, nil, nil)
	assert.Equal(t, 0, scanner.RunOnce(context.Background()))
}

func TestWindowOverrides(t *testing.T) {
	clk := testClock()
	// Due in 10h: inside a 12h day window, outside the default 24h one is
	// irrelevant; the soon window shrinks to 1h so only 1day fires.
	source := &fakeSource{due: []appointments.Appointment{dueAppointment(clk, 10*time.Hour)}}
	sender := newFakeSender()

	scanner := NewScanner(source, sender, nil, clk, nil, nil).WithWindows(12*time.Hour, time.Hour)
	assert.Equal(t, 1, scanner.RunOnce(context.Background()))
	require.Len(t, sender.calls, 1)
	assert.Equal(t, appointments.Reminder1Day, sender.calls[0].kind)
}
