package appointments

import "errors"

var (
	// ErrNotFound is returned when the id/tenant pair does not resolve to an
	// appointment. A record owned by another tenant is indistinguishable from
	// a missing one.
	ErrNotFound = errors.New("appointment not found")

	// ErrAlreadyPaid is returned when confirmPayment is called on an
	// appointment whose payment is already confirmed. No side effects are
	// re-emitted.
	ErrAlreadyPaid = errors.New("payment already confirmed")

	// ErrInvalidTransition is returned when an operation's precondition on the
	// current status does not hold.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrMissingTenant is returned when the tenant id is absent
	ErrMissingTenant = errors.New("tenant id is required")

	// ErrMissingLead is returned when the lead reference is absent
	ErrMissingLead = errors.New("lead id is required")

	// ErrMissingProcedure is returned when no procedure is referenced
	ErrMissingProcedure = errors.New("procedure id is required")

	// ErrMissingSchedule is returned when the scheduled date is absent
	ErrMissingSchedule = errors.New("scheduled date is required")

	// ErrInvalidLocation is returned for an unknown service site
	ErrInvalidLocation = errors.New("unknown location")

	// ErrInvalidReminderKind is returned for an unknown reminder kind
	ErrInvalidReminderKind = errors.New("unknown reminder kind")
)
