// Package model defines the typed rows the Store operates on and the
// constants shared by the Selector and Orchestrator. Rows are plain structs,
// not dynamic maps — the Store driver is responsible for marshalling them.
package model

import "time"

// Slot is the fixed granularity every AvailabilityBlock and confirmed block
// is aligned to.
const Slot = 30 * time.Minute

// EventState is the one-way state machine tag replacing the teacher corpus's
// inheritance-based "ConfirmedEvent extends Event" pattern.
type EventState string

const (
	EventDraft     EventState = "draft"
	EventOpen      EventState = "open"
	EventConfirmed EventState = "confirmed"
	EventPast      EventState = "past"
)

// User is created on first interaction and never deleted.
type User struct {
	ID           string
	ChatIdentity string
	DisplayName  string
	SleepStart   *string // wall time "HH:MM" in the user's local reckoning, optional
	SleepEnd     *string
}

// Event is the aggregate root of one scheduling round.
type Event struct {
	ID                    string
	Name                  string
	Description           string
	CreatorUserID         string
	WindowStartDate       string // wall date "2006-01-02" in Timezone
	WindowEndDate         string
	DailyStartTime        string // wall time "15:04" in Timezone
	DailyEndTime          string
	MinParticipants       int
	MinBlockSlots         int
	MaxBlockSlots         int
	RemindersEnabled      bool
	Timezone              string
	State                 EventState
	LastNoonNudgeDate     string     // bookkeeping for §4.4 daily-nudge dedup
	LastNoonCountdownDate string     // bookkeeping for §4.4 daily-countdown dedup
	LastImminentEmittedAt *time.Time // bookkeeping for §4.4 imminent-reminder dedup
}

// AvailabilityBlock is one 30-minute slot a user published for an event.
type AvailabilityBlock struct {
	EventID      string
	UserID       string
	StartInstant time.Time
	EndInstant   time.Time
}

// Confirmation exists iff the owning Event is in EventConfirmed state.
type Confirmation struct {
	EventID               string
	ConfirmedStartInstant time.Time
	ConfirmedEndInstant   time.Time
	ConfirmedAt           time.Time
}

// Membership is meaningful only once the event is confirmed or past; it is
// the snapshot taken at confirm time, subsequently toggleable by join/leave.
type Membership struct {
	EventID  string
	UserID   string
	JoinedAt time.Time
}

// EventChat associates a chat (and optional thread) with an event for
// broadcast purposes; set on first /share, overwritten on later shares.
type EventChat struct {
	EventID          string
	ChatID           string
	ThreadID         *string
	RemindersEnabled bool
}

// Tables enumerates the six persisted tables the Store implementations key
// rows under.
const (
	TableUsers              = "users"
	TableEvents             = "events"
	TableAvailabilityBlocks = "availability_blocks"
	TableConfirmations      = "confirmations"
	TableMemberships        = "memberships"
	TableEventChats         = "event_chats"
)
