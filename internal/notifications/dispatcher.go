package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vittaclinic/agenda-platform/pkg/logging"
)

// QueuePublisher hands a serialized notification to the delivery
// collaborator's queue.
type QueuePublisher interface {
	Publish(ctx context.Context, body string) error
}

// QueuedNotification is the payload published for the delivery collaborator.
type QueuedNotification struct {
	ID                  uuid.UUID  `json:"id"`
	TenantID            string     `json:"tenant_id"`
	AppointmentID       *uuid.UUID `json:"appointment_id,omitempty"`
	AppointmentReturnID *uuid.UUID `json:"appointment_return_id,omitempty"`
	Type                string     `json:"type"`
	Channel             string     `json:"channel"`
	Message             string     `json:"message"`
}

// Dispatcher polls the notification log for pending rows and publishes them
// to the delivery queue, claiming each row first so concurrent dispatchers
// cannot publish the same notification twice.
type Dispatcher struct {
	store     *Store
	publisher QueuePublisher
	logger    *logging.Logger
	batchSize int
	interval  time.Duration
}

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(store *Store, publisher QueuePublisher, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		logger:    logger,
		batchSize: 25,
		interval:  2 * time.Second,
	}
}

// WithBatchSize overrides the per-drain batch size.
func (d *Dispatcher) WithBatchSize(size int) *Dispatcher {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

// WithInterval overrides the polling interval.
func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// Start polls until ctx is canceled.
func (d *Dispatcher) Start(ctx context.Context) {
	if d.store == nil || d.publisher == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain publishes one batch of pending notifications. Per-row errors are
// logged and do not abort the batch.
func (d *Dispatcher) Drain(ctx context.Context) int {
	pending, err := d.store.FetchUnqueued(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("notification dispatch fetch failed", "error", err)
		return 0
	}

	published := 0
	for i := range pending {
		n := &pending[i]
		ok, err := d.store.ClaimEnqueue(ctx, n.ID)
		if err != nil {
			d.logger.Error("notification claim failed", "error", err, "id", n.ID)
			continue
		}
		if !ok {
			continue
		}
		if err := d.publishOne(ctx, n); err != nil {
			d.logger.Error("notification publish failed", "error", err, "id", n.ID, "type", string(n.Type))
			// Hand the row back so the next drain retries it.
			if relErr := d.store.ReleaseEnqueue(ctx, n.ID); relErr != nil {
				d.logger.Error("notification claim release failed", "error", relErr, "id", n.ID)
			}
			continue
		}
		published++
	}
	return published
}

func (d *Dispatcher) publishOne(ctx context.Context, n *Notification) error {
	payload := QueuedNotification{
		ID:                  n.ID,
		TenantID:            n.TenantID,
		AppointmentID:       n.AppointmentID,
		AppointmentReturnID: n.AppointmentReturnID,
		Type:                string(n.Type),
		Channel:             string(n.Channel),
		Message:             n.Message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notifications: encode payload: %w", err)
	}
	if err := d.publisher.Publish(ctx, string(body)); err != nil {
		return fmt.Errorf("notifications: publish: %w", err)
	}
	d.logger.Debug("notification published", "id", n.ID, "type", string(n.Type))
	return nil
}
