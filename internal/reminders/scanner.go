// Package reminders implements the periodic scan that turns reminder windows
// into notifications. The scan is safe to run from several instances at once:
// a Redis tick lock keeps ticks from overlapping, and the per-appointment
// flag claim in the appointments store guarantees each reminder kind is sent
// at most once even when the lock is lost.
package reminders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vittaclinic/agenda-platform/internal/appointments"
	"github.com/vittaclinic/agenda-platform/internal/clock"
	"github.com/vittaclinic/agenda-platform/internal/observability/metrics"
	"github.com/vittaclinic/agenda-platform/pkg/logging"
)

// Source finds appointments with an unset reminder flag inside a window.
type Source interface {
	FindNeedingReminders(ctx context.Context, now time.Time, dayWindow, soonWindow time.Duration) ([]appointments.Appointment, error)
}

// Sender claims a reminder flag and enqueues the matching notification.
// appointments.Service satisfies it.
type Sender interface {
	MarkReminderSent(ctx context.Context, tenantID string, id uuid.UUID, kind appointments.ReminderKind) (bool, error)
}

// Scanner runs one reminder pass per tick.
type Scanner struct {
	source  Source
	sender  Sender
	lock    *TickLock
	clock   clock.Clock
	metrics *metrics.AgendaMetrics
	logger  *logging.Logger
	tracer  trace.Tracer

	dayWindow  time.Duration
	soonWindow time.Duration
	timeout    time.Duration
}

// NewScanner creates a reminder scanner. lock and metrics may be nil; a nil
// lock disables cross-instance tick serialization.
func NewScanner(source Source, sender Sender, lock *TickLock, clk clock.Clock, m *metrics.AgendaMetrics, logger *logging.Logger) *Scanner {
	if source == nil {
		panic("reminders: source required")
	}
	if sender == nil {
		panic("reminders: sender required")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scanner{
		source:     source,
		sender:     sender,
		lock:       lock,
		clock:      clk,
		metrics:    m,
		logger:     logger,
		tracer:     otel.Tracer("agenda.internal.reminders"),
		dayWindow:  24 * time.Hour,
		soonWindow: 5 * time.Hour,
		timeout:    2 * time.Minute,
	}
}

// WithWindows overrides the two lookahead windows.
func (s *Scanner) WithWindows(day, soon time.Duration) *Scanner {
	if day > 0 {
		s.dayWindow = day
	}
	if soon > 0 {
		s.soonWindow = soon
	}
	return s
}

// WithTimeout overrides the per-tick deadline.
func (s *Scanner) WithTimeout(d time.Duration) *Scanner {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// RunOnce performs one scan tick and returns the number of reminders sent.
// Per-appointment failures are logged and skipped; the rest of the batch
// still runs.
func (s *Scanner) RunOnce(ctx context.Context) int {
	if s.lock != nil {
		ok, err := s.lock.Acquire(ctx)
		if err != nil {
			s.logger.Error("reminder scan lock error", "error", err)
			return 0
		}
		if !ok {
			s.logger.Debug("reminder scan tick already owned elsewhere")
			return 0
		}
		defer s.lock.Release(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "reminders.scan")
	defer span.End()

	started := time.Now()
	now := s.clock.Now()

	due, err := s.source.FindNeedingReminders(ctx, now, s.dayWindow, s.soonWindow)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("reminder scan query failed", "error", err)
		return 0
	}
	s.metrics.ObserveRemindersScanned(len(due))

	sent := 0
	for i := range due {
		a := &due[i]
		for _, kind := range a.ReminderDue(now, s.dayWindow, s.soonWindow) {
			claimed, err := s.sender.MarkReminderSent(ctx, a.TenantID, a.ID, kind)
			if err != nil {
				span.RecordError(err)
				s.logger.Error("reminder send failed",
					"error", err, "tenant_id", a.TenantID, "appointment_id", a.ID, "kind", string(kind))
				continue
			}
			if !claimed {
				continue
			}
			sent++
			s.logger.Info("reminder sent",
				"tenant_id", a.TenantID, "appointment_id", a.ID, "kind", string(kind),
				"scheduled_date", a.ScheduledDate)
		}
	}

	s.metrics.ObserveScanDuration(time.Since(started).Seconds())
	s.logger.Info("reminder scan finished", "scanned", len(due), "sent", sent)
	return sent
}
