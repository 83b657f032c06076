// Package orchestrator owns the event lifecycle: create, collect
// availability, confirm, membership toggles, reminder opt-out, and chat
// association, each implemented as a short synchronous operation that reads
// fresh Store state and holds no in-process lock, per the concurrency model.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/windowmeet/core/internal/authz"
	"github.com/windowmeet/core/internal/clock"
	"github.com/windowmeet/core/internal/model"
	"github.com/windowmeet/core/internal/protocol"
	"github.com/windowmeet/core/internal/selector"
	"github.com/windowmeet/core/internal/store"
)

// Notifier is the outbound slice of the Chat Adapter the Orchestrator needs:
// a single best-effort message to an event's creator.
type Notifier interface {
	NotifyCreator(ctx context.Context, event model.Event, text string) error
}

// Publisher is the internal event bus contract; confirm_event and
// toggle_reminders publish a fact-of-record so the Reminder Dispatcher and
// Chat Adapter can react without the Orchestrator knowing about them.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// NoopNotifier and NoopPublisher let callers (and tests) omit either
// collaborator without nil-checking at every call site.
type NoopNotifier struct{}

func (NoopNotifier) NotifyCreator(context.Context, model.Event, string) error { return nil }

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }

// Orchestrator is constructed once at startup with its collaborators
// explicitly injected, replacing the teacher corpus's module-level
// singletons.
type Orchestrator struct {
	Store     store.Store
	Clock     clock.Clock
	Authz     *authz.Authorizer
	Notifier  Notifier
	Publisher Publisher
	NewID     func() string
}

// New wires an Orchestrator with sensible defaults for the optional
// collaborators (no-op notifier/publisher, uuid.NewString ids).
func New(s store.Store, c clock.Clock, a *authz.Authorizer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		Store:     s,
		Clock:     c,
		Authz:     a,
		Notifier:  NoopNotifier{},
		Publisher: NoopPublisher{},
		NewID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option customizes an Orchestrator built with New.
type Option func(*Orchestrator)

func WithNotifier(n Notifier) Option         { return func(o *Orchestrator) { o.Notifier = n } }
func WithPublisher(p Publisher) Option       { return func(o *Orchestrator) { o.Publisher = p } }
func WithIDGenerator(f func() string) Option { return func(o *Orchestrator) { o.NewID = f } }

// CreateEventInput bundles create_event's parameters; defaults for the
// optional constraint fields are applied by Default before validation.
type CreateEventInput struct {
	CreatorUserID   string
	Name            string
	Description     string
	WindowStartDate string
	WindowEndDate   string
	DailyStartTime  string
	DailyEndTime    string
	Timezone        string
	MinParticipants int
	MinBlockSlots   int
	MaxBlockSlots   int
}

// Default fills in the §3 defaults (min_participants=2, min_block_slots=2,
// max_block_slots=4) for zero-valued fields.
func (in CreateEventInput) Default() CreateEventInput {
	if in.MinParticipants == 0 {
		in.MinParticipants = 2
	}
	if in.MinBlockSlots == 0 {
		in.MinBlockSlots = 2
	}
	if in.MaxBlockSlots == 0 {
		in.MaxBlockSlots = 4
	}
	return in
}

// CreateEvent validates §3's invariants, then creates the Event directly in
// EventOpen — draft is a transient tag the core never persists separately.
func (o *Orchestrator) CreateEvent(ctx context.Context, in CreateEventInput) (string, error) {
	in = in.Default()
	if err := validateCreateInput(in); err != nil {
		return "", err
	}
	e := model.Event{
		ID:               o.NewID(),
		Name:             in.Name,
		Description:      in.Description,
		CreatorUserID:    in.CreatorUserID,
		WindowStartDate:  in.WindowStartDate,
		WindowEndDate:    in.WindowEndDate,
		DailyStartTime:   in.DailyStartTime,
		DailyEndTime:     in.DailyEndTime,
		MinParticipants:  in.MinParticipants,
		MinBlockSlots:    in.MinBlockSlots,
		MaxBlockSlots:    in.MaxBlockSlots,
		RemindersEnabled: true,
		Timezone:         in.Timezone,
		State:            model.EventOpen,
	}
	if err := o.Store.Insert(ctx, model.TableEvents, e); err != nil {
		return "", fmt.Errorf("orchestrator: create event: %w", err)
	}
	return e.ID, nil
}

func validateCreateInput(in CreateEventInput) error {
	if in.CreatorUserID == "" || in.Name == "" {
		return model.Errorf(model.KindInvalidInput, "creator and name are required")
	}
	if in.WindowStartDate > in.WindowEndDate {
		return model.Errorf(model.KindInvalidInput, "window_start_date must be <= window_end_date")
	}
	if in.DailyStartTime >= in.DailyEndTime {
		return model.Errorf(model.KindInvalidInput, "daily_start_time must be < daily_end_time")
	}
	if in.MinParticipants < 2 {
		return model.Errorf(model.KindInvalidInput, "min_participants must be >= 2")
	}
	if in.MinBlockSlots < 1 {
		return model.Errorf(model.KindInvalidInput, "min_block_slots must be >= 1")
	}
	if in.MaxBlockSlots < in.MinBlockSlots {
		return model.Errorf(model.KindInvalidInput, "max_block_slots must be >= min_block_slots")
	}
	if in.Timezone == "" {
		return model.Errorf(model.KindInvalidInput, "timezone is required")
	}
	if _, err := time.LoadLocation(in.Timezone); err != nil {
		return model.Errorf(model.KindInvalidInput, "unknown timezone %q", in.Timezone)
	}
	return nil
}

func (o *Orchestrator) loadEvent(ctx context.Context, eventID string) (model.Event, error) {
	row, ok, err := o.Store.Get(ctx, model.TableEvents, "event_id", eventID)
	if err != nil {
		return model.Event{}, fmt.Errorf("orchestrator: load event %s: %w", eventID, err)
	}
	if !ok {
		return model.Event{}, model.Errorf(model.KindNotFound, "event %s not found", eventID)
	}
	return row.(model.Event), nil
}

// RecordAvailability replaces userID's AvailabilityBlocks for eventID with
// slotStarts, each expanded to its SLOT-aligned [start, start+SLOT) block.
// An empty slotStarts clears the user's availability entirely.
func (o *Orchestrator) RecordAvailability(ctx context.Context, eventID, userID string, slotStarts []time.Time) error {
	e, err := o.loadEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if e.State != model.EventOpen {
		return model.Errorf(model.KindInvalidState, "event %s is %s, not open", eventID, e.State)
	}
	blocks := make([]model.AvailabilityBlock, 0, len(slotStarts))
	for _, s := range slotStarts {
		if s.Truncate(model.Slot) != s {
			return model.Errorf(model.KindInvalidInput, "slot start %s is not SLOT-aligned", s)
		}
		blocks = append(blocks, model.AvailabilityBlock{
			EventID:      eventID,
			UserID:       userID,
			StartInstant: s,
			EndInstant:   s.Add(model.Slot),
		})
	}
	if err := o.Store.ReplaceAvailability(ctx, eventID, userID, blocks); err != nil {
		return fmt.Errorf("orchestrator: replace availability: %w", err)
	}
	return nil
}

// ComputeBestTime is a read-only Selector query over an event's persisted
// availability.
func (o *Orchestrator) ComputeBestTime(ctx context.Context, eventID string) ([]selector.Block, error) {
	e, err := o.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	rows, err := o.Store.GetMany(ctx, model.TableAvailabilityBlocks, "event_id", eventID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load availability: %w", err)
	}
	blocks := make([]model.AvailabilityBlock, 0, len(rows))
	for _, r := range rows {
		blocks = append(blocks, r.(model.AvailabilityBlock))
	}
	return selector.Select(blocks, selector.Constraints{
		MinParticipants: e.MinParticipants,
		MinBlockSlots:   e.MinBlockSlots,
		MaxBlockSlots:   e.MaxBlockSlots,
	}), nil
}

// ConfirmEvent transitions an open event to confirmed at the caller-chosen
// block. If a Confirmation already exists (this call or a concurrent one
// won the race), no mutation occurs and a conflict error is returned — the
// boundary treats that as "already confirmed", not as a failure.
func (o *Orchestrator) ConfirmEvent(ctx context.Context, eventID string, chosenStart, chosenEnd time.Time) (model.Confirmation, error) {
	e, err := o.loadEvent(ctx, eventID)
	if err != nil {
		return model.Confirmation{}, err
	}
	if e.State == model.EventConfirmed {
		existing, ok, err := o.Store.Get(ctx, model.TableConfirmations, "event_id", eventID)
		if err != nil {
			return model.Confirmation{}, fmt.Errorf("orchestrator: load confirmation: %w", err)
		}
		if ok {
			return existing.(model.Confirmation), model.Errorf(model.KindConflict, "event %s already confirmed", eventID)
		}
		return model.Confirmation{}, model.Errorf(model.KindConflict, "event %s already confirmed", eventID)
	}
	if e.State != model.EventOpen {
		return model.Confirmation{}, model.Errorf(model.KindInvalidState, "event %s is %s, not open", eventID, e.State)
	}
	if chosenEnd.Before(chosenStart) || chosenStart.Truncate(model.Slot) != chosenStart || chosenEnd.Truncate(model.Slot) != chosenEnd {
		return model.Confirmation{}, model.Errorf(model.KindInvalidInput, "chosen block is not SLOT-aligned")
	}
	slots := int(chosenEnd.Sub(chosenStart) / model.Slot)
	if slots < e.MinBlockSlots || slots > e.MaxBlockSlots {
		return model.Confirmation{}, model.Errorf(model.KindInvalidInput, "chosen block length %d slots is outside [%d,%d]", slots, e.MinBlockSlots, e.MaxBlockSlots)
	}

	rows, err := o.Store.GetMany(ctx, model.TableAvailabilityBlocks, "event_id", eventID)
	if err != nil {
		return model.Confirmation{}, fmt.Errorf("orchestrator: load availability: %w", err)
	}
	blocks := make([]model.AvailabilityBlock, 0, len(rows))
	for _, r := range rows {
		blocks = append(blocks, r.(model.AvailabilityBlock))
	}
	participants := selector.ParticipantsInBlock(blocks, chosenStart, chosenEnd)
	if len(participants) < e.MinParticipants {
		return model.Confirmation{}, model.Errorf(model.KindInvalidInput, "chosen block has %d participants, need %d", len(participants), e.MinParticipants)
	}

	now := o.Clock.Now()
	confirmation := model.Confirmation{
		EventID:               eventID,
		ConfirmedStartInstant: chosenStart,
		ConfirmedEndInstant:   chosenEnd,
		ConfirmedAt:           now,
	}
	inserted, err := o.Store.InsertConfirmationIfAbsent(ctx, confirmation)
	if err != nil {
		return model.Confirmation{}, fmt.Errorf("orchestrator: insert confirmation: %w", err)
	}
	if !inserted {
		existing, ok, err := o.Store.Get(ctx, model.TableConfirmations, "event_id", eventID)
		if err != nil {
			return model.Confirmation{}, fmt.Errorf("orchestrator: load confirmation: %w", err)
		}
		if ok {
			return existing.(model.Confirmation), model.Errorf(model.KindConflict, "event %s already confirmed", eventID)
		}
		return model.Confirmation{}, model.Errorf(model.KindConflict, "event %s already confirmed", eventID)
	}

	if err := o.Store.Update(ctx, model.TableEvents, "event_id", eventID, map[string]any{"state": model.EventConfirmed}); err != nil {
		return model.Confirmation{}, fmt.Errorf("orchestrator: mark event confirmed: %w", err)
	}
	memberships := make([]store.Row, 0, len(participants))
	for _, uid := range participants {
		memberships = append(memberships, model.Membership{EventID: eventID, UserID: uid, JoinedAt: now})
	}
	if len(memberships) > 0 {
		if err := o.Store.InsertMany(ctx, model.TableMemberships, memberships); err != nil {
			return model.Confirmation{}, fmt.Errorf("orchestrator: materialize memberships: %w", err)
		}
	}

	e.State = model.EventConfirmed
	if err := o.Notifier.NotifyCreator(ctx, e, fmt.Sprintf("%q is confirmed for %s", e.Name, chosenStart.Format(time.RFC3339))); err != nil {
		return confirmation, model.Wrap(model.KindTransient, err, "notify creator of confirmation")
	}
	if err := o.Publisher.Publish(ctx, protocol.SubjectEventConfirmed, confirmation); err != nil {
		return confirmation, model.Wrap(model.KindTransient, err, "publish event.confirmed")
	}
	return confirmation, nil
}

// Join adds userID to a confirmed event's Membership, insert-if-absent.
func (o *Orchestrator) Join(ctx context.Context, eventID, userID string) error {
	e, err := o.loadEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if e.State != model.EventConfirmed {
		return model.Errorf(model.KindInvalidState, "event %s is %s, not confirmed", eventID, e.State)
	}
	isMember, err := o.Authz.IsMember(ctx, eventID, userID)
	if err != nil {
		return err
	}
	if isMember {
		return nil
	}
	if err := o.Store.Insert(ctx, model.TableMemberships, model.Membership{
		EventID: eventID, UserID: userID, JoinedAt: o.Clock.Now(),
	}); err != nil {
		var merr *model.Error
		if asModelError(err, &merr) && merr.Kind == model.KindConflict {
			return nil // lost the race to a concurrent join; already a member
		}
		return fmt.Errorf("orchestrator: join: %w", err)
	}
	return nil
}

// Leave removes userID from a confirmed event's Membership, delete-if-present.
func (o *Orchestrator) Leave(ctx context.Context, eventID, userID string) error {
	e, err := o.loadEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if e.State != model.EventConfirmed {
		return model.Errorf(model.KindInvalidState, "event %s is %s, not confirmed", eventID, e.State)
	}
	if err := o.Store.Delete(ctx, model.TableMemberships, "event_id", eventID, "user_id", userID); err != nil {
		return fmt.Errorf("orchestrator: leave: %w", err)
	}
	return nil
}

// ToggleReminders flips Event.RemindersEnabled. Non-creator callers may only
// flip it while it is currently disabled (re-enabling is benign); disabling
// an active schedule is creator-only.
func (o *Orchestrator) ToggleReminders(ctx context.Context, eventID, userID string) error {
	e, err := o.loadEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if e.RemindersEnabled && e.CreatorUserID != userID {
		return model.Errorf(model.KindUnauthorized, "only the creator may disable reminders for event %s", eventID)
	}
	next := !e.RemindersEnabled
	if err := o.Store.Update(ctx, model.TableEvents, "event_id", eventID, map[string]any{"reminders_enabled": next}); err != nil {
		return fmt.Errorf("orchestrator: toggle reminders: %w", err)
	}
	if err := o.Publisher.Publish(ctx, protocol.SubjectRemindersToggled, map[string]any{"event_id": eventID, "reminders_enabled": next}); err != nil {
		return model.Wrap(model.KindTransient, err, "publish event.reminders_toggled")
	}
	return nil
}

// SetEventChat associates a chat with an event, creator-only, overwriting
// any prior association.
func (o *Orchestrator) SetEventChat(ctx context.Context, eventID, userID, chatID string, threadID *string) error {
	if err := o.Authz.RequireCreator(ctx, eventID, userID); err != nil {
		return err
	}
	ec := model.EventChat{EventID: eventID, ChatID: chatID, ThreadID: threadID, RemindersEnabled: true}
	if err := o.Store.Insert(ctx, model.TableEventChats, ec); err != nil {
		if updateErr := o.Store.Update(ctx, model.TableEventChats, "event_id", eventID, map[string]any{
			"chat_id": chatID, "thread_id": threadID, "reminders_enabled": true,
		}); updateErr != nil {
			return fmt.Errorf("orchestrator: set event chat: %w", updateErr)
		}
	}
	return nil
}

func asModelError(err error, target **model.Error) bool {
	if err == nil {
		return false
	}
	if me, ok := err.(*model.Error); ok {
		*target = me
		return true
	}
	return false
}
