package notifications

import (
	"fmt"
	"time"
)

// Message templates for each notification type. The delivery collaborator
// substitutes the recipient before sending; content here is final otherwise.

// CreatedMessage announces a freshly booked appointment.
func CreatedMessage() string {
	return "Your appointment has been booked. We'll send a payment link to secure your slot."
}

// PaymentConfirmedMessage acknowledges the deposit.
func PaymentConfirmedMessage() string {
	return "Payment confirmed! Your appointment is reserved. Please confirm your attendance when we reach out."
}

// AnamnesisSentMessage accompanies the intake form link.
func AnamnesisSentMessage() string {
	return "Please fill in your intake form before your visit. It only takes a few minutes."
}

// ConfirmationReceivedMessage acknowledges the patient's confirmation.
func ConfirmationReceivedMessage() string {
	return "Thanks for confirming! See you at your appointment."
}

// RescheduleConfirmedMessage announces the patient's new slot.
func RescheduleConfirmedMessage(newDate time.Time) string {
	return fmt.Sprintf("Your appointment has been rescheduled to %s.", newDate.Format("Monday, January 2 at 3:04 PM"))
}

// CanceledMessage announces a cancellation with its reason.
func CanceledMessage(reason string) string {
	if reason == "" {
		return "Your appointment has been canceled."
	}
	return fmt.Sprintf("Your appointment has been canceled: %s", reason)
}

// AttendanceFinishedMessage closes out a visit.
func AttendanceFinishedMessage() string {
	return "Thanks for visiting us today! If follow-up returns were scheduled, we'll remind you closer to each date."
}

// Reminder1DayMessage is the 24-hour lookahead reminder.
func Reminder1DayMessage(scheduledDate time.Time) string {
	return fmt.Sprintf("Reminder: your appointment is tomorrow, %s. Reply YES to confirm or let us know if you need to reschedule.",
		scheduledDate.Format("Monday, January 2 at 3:04 PM"))
}

// Reminder5HoursMessage is the same-day reminder.
func Reminder5HoursMessage(scheduledDate time.Time) string {
	return fmt.Sprintf("See you soon! Your appointment is today at %s.", scheduledDate.Format("3:04 PM"))
}

// ReminderMessage picks the template for a reminder kind string ("1day" or
// "5hours"); unknown kinds fall back to the generic day template.
func ReminderMessage(kind string, scheduledDate time.Time) string {
	if kind == "5hours" {
		return Reminder5HoursMessage(scheduledDate)
	}
	return Reminder1DayMessage(scheduledDate)
}
