package appointments

import (
	"time"

	"github.com/google/uuid"
)

// GenerateReturns produces the follow-up visits for a finalized appointment:
// one return per step of the cadence, scheduled frequency*i days after the
// parent's scheduled date, numbered sequentially from 1. The returns inherit
// professional, location and tenant from the parent.
//
// A zero or negative count or frequency skips generation entirely; that is
// the intended guard for appointments finalized without a return plan, not an
// error.
func GenerateReturns(parent *Appointment, count, frequency int, now time.Time) []AppointmentReturn {
	if count <= 0 || frequency <= 0 {
		return nil
	}

	returns := make([]AppointmentReturn, 0, count)
	for i := 1; i <= count; i++ {
		date := parent.ScheduledDate.AddDate(0, 0, frequency*i)
		returns = append(returns, AppointmentReturn{
			ID:                    uuid.New(),
			AppointmentID:         parent.ID,
			TenantID:              parent.TenantID,
			ReturnNumber:          i,
			ScheduledDate:         date,
			OriginalScheduledDate: date,
			Status:                ReturnScheduled,
			ProfessionalID:        parent.ProfessionalID,
			Location:              parent.Location,
			CreatedAt:             now,
			UpdatedAt:             now,
		})
	}
	return returns
}
