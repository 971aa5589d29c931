// Package notifications is the append-only outbound notification log.
// Rows are created by state-machine transitions and the reminder scanner,
// handed to the delivery collaborator through an outbox queue, and updated
// only in their delivery-status fields. They are never deleted.
package notifications

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies what lifecycle event a notification is about.
type Type string

const (
	TypeCreated               Type = "created"
	TypePaymentLink           Type = "payment_link"
	TypePaymentConfirmed      Type = "payment_confirmed"
	TypeAnamnesisSent         Type = "anamnesis_sent"
	TypeReminder1Day          Type = "reminder_1day"
	TypeReminder5Hours        Type = "reminder_5hours"
	TypeConfirmationRequested Type = "confirmation_requested"
	TypeConfirmationReceived  Type = "confirmation_received"
	TypeRescheduleConfirmed   Type = "reschedule_confirmed"
	TypeCanceled              Type = "canceled"
	TypeReturnReminder        Type = "return_reminder"
	TypeReturnConfirmed       Type = "return_confirmed"
	TypeAttendanceFinished    Type = "attendance_finished"
)

// Channel specifies how the notification is delivered.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
	ChannelPush     Channel = "push"
)

// Status tracks delivery progress, reported back by the delivery collaborator.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
	StatusError     Status = "error"
)

// Notification is one outbound message intent. Exactly one of AppointmentID
// and AppointmentReturnID is set.
type Notification struct {
	ID       uuid.UUID `json:"id"`
	TenantID string    `json:"tenant_id"`

	AppointmentID       *uuid.UUID `json:"appointment_id,omitempty"`
	AppointmentReturnID *uuid.UUID `json:"appointment_return_id,omitempty"`

	Type           Type    `json:"type"`
	Channel        Channel `json:"channel"`
	Status         Status  `json:"status"`
	RecipientPhone string  `json:"recipient_phone,omitempty"`
	Message        string  `json:"message"`

	RetryCount    int        `json:"retry_count"`
	EnqueuedAt    *time.Time `json:"enqueued_at,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
