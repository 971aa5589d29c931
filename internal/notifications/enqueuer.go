package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vittaclinic/agenda-platform/pkg/logging"
)

// Enqueuer records outbound notification intents as PENDING rows. Actual
// sending, retries and delivery callbacks belong to the delivery
// collaborator.
type Enqueuer struct {
	store  *Store
	logger *logging.Logger
}

// NewEnqueuer creates a notification enqueuer.
func NewEnqueuer(store *Store, logger *logging.Logger) *Enqueuer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Enqueuer{store: store, logger: logger}
}

// EnqueueForAppointment records a notification intent for an appointment.
func (e *Enqueuer) EnqueueForAppointment(ctx context.Context, tenantID string, appointmentID uuid.UUID, typ Type, message string) error {
	n := &Notification{
		TenantID:      tenantID,
		AppointmentID: &appointmentID,
		Type:          typ,
		Channel:       ChannelWhatsApp,
		Status:        StatusPending,
		Message:       message,
	}
	if err := e.store.Create(ctx, n); err != nil {
		return fmt.Errorf("notifications: enqueue for appointment: %w", err)
	}
	e.logger.Debug("notification enqueued",
		"id", n.ID, "tenant_id", tenantID, "appointment_id", appointmentID, "type", string(typ))
	return nil
}

// EnqueueForReturn records a notification intent for a return visit.
func (e *Enqueuer) EnqueueForReturn(ctx context.Context, tenantID string, returnID uuid.UUID, typ Type, message string) error {
	n := &Notification{
		TenantID:            tenantID,
		AppointmentReturnID: &returnID,
		Type:                typ,
		Channel:             ChannelWhatsApp,
		Status:              StatusPending,
		Message:             message,
	}
	if err := e.store.Create(ctx, n); err != nil {
		return fmt.Errorf("notifications: enqueue for return: %w", err)
	}
	e.logger.Debug("notification enqueued",
		"id", n.ID, "tenant_id", tenantID, "return_id", returnID, "type", string(typ))
	return nil
}
