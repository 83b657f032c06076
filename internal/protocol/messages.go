// Package protocol defines the small message catalogue carried over the
// internal bus between the Orchestrator, Reminder Dispatcher, and Chat
// Adapter — JSON-encoded, one subject per fact-of-record.
package protocol

import "time"

const (
	SubjectEventConfirmed     = "event.confirmed"
	SubjectRemindersToggled   = "event.reminders_toggled"
	SubjectReminderDispatched = "event.reminder_dispatched"
)

// EventConfirmed announces that an event's Confirmation was just created.
type EventConfirmed struct {
	EventID               string    `json:"event_id"`
	ConfirmedStartInstant time.Time `json:"confirmed_start_instant"`
	ConfirmedEndInstant   time.Time `json:"confirmed_end_instant"`
	ConfirmedAt           time.Time `json:"confirmed_at"`
}

// RemindersToggled announces a flip of Event.RemindersEnabled.
type RemindersToggled struct {
	EventID          string `json:"event_id"`
	RemindersEnabled bool   `json:"reminders_enabled"`
}

// ReminderKind distinguishes the three Reminder Dispatcher passes.
type ReminderKind string

const (
	ReminderKindAvailabilityNudge ReminderKind = "availability_nudge"
	ReminderKindDailyCountdown    ReminderKind = "daily_countdown"
	ReminderKindImminent          ReminderKind = "imminent"
)

// ReminderDispatched records that the dispatcher emitted a reminder for an
// event, for observability and for tests asserting dedup behavior.
type ReminderDispatched struct {
	EventID string       `json:"event_id"`
	Kind    ReminderKind `json:"kind"`
	At      time.Time    `json:"at"`
}
