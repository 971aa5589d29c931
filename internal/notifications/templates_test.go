package notifications

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReminderMessages(t *testing.T) {
	date := time.Date(2025, 6, 10, 14, 30, 0, 0, time.UTC)

	assert.Contains(t, Reminder1DayMessage(date), "Tuesday, June 10 at 2:30 PM")
	assert.Contains(t, Reminder5HoursMessage(date), "2:30 PM")

	assert.Equal(t, Reminder1DayMessage(date), ReminderMessage("1day", date))
	assert.Equal(t, Reminder5HoursMessage(date), ReminderMessage("5hours", date))
	assert.Equal(t, Reminder1DayMessage(date), ReminderMessage("bogus", date))
}

func TestCanceledMessage(t *testing.T) {
	assert.Equal(t, "Your appointment has been canceled.", CanceledMessage(""))
	assert.Contains(t, CanceledMessage("clinic closed"), "clinic closed")
}

func TestRescheduleConfirmedMessage(t *testing.T) {
	date := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)
	assert.Contains(t, RescheduleConfirmedMessage(date), "Sunday, June 15 at 9:00 AM")
}
