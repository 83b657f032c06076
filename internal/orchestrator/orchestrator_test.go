package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/windowmeet/core/internal/authz"
	"github.com/windowmeet/core/internal/clock"
	"github.com/windowmeet/core/internal/model"
	"github.com/windowmeet/core/internal/store/memory"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *memory.Store) {
	t.Helper()
	s := memory.New()
	a := authz.New(s)
	o := New(s, clock.Fixed{At: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}, a)
	return o, s
}

func baseInput(creator string) CreateEventInput {
	return CreateEventInput{
		CreatorUserID:   creator,
		Name:            "Sprint planning",
		Description:     "quarterly sync",
		WindowStartDate: "2025-01-01",
		WindowEndDate:   "2025-01-07",
		DailyStartTime:  "09:00",
		DailyEndTime:    "17:00",
		Timezone:        "UTC",
	}
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts.UTC()
}

func TestCreateEventDefaultsAndValidation(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	id, err := o.CreateEvent(ctx, baseInput("creator-1"))
	if err != nil {
		t.Fatalf("create_event: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated event id")
	}

	bad := baseInput("creator-1")
	bad.WindowEndDate = "2024-12-31" // before start
	if _, err := o.CreateEvent(ctx, bad); err == nil {
		t.Fatal("expected invalid_input for window_end before window_start")
	}
}

func TestRecordAvailabilityReplaceAndClear(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	id, err := o.CreateEvent(ctx, baseInput("creator-1"))
	if err != nil {
		t.Fatalf("create_event: %v", err)
	}
	first := []time.Time{mustParse(t, "2025-01-01 10:00"), mustParse(t, "2025-01-01 10:30")}
	if err := o.RecordAvailability(ctx, id, "user-1", first); err != nil {
		t.Fatalf("record_availability: %v", err)
	}
	rows, err := o.Store.GetMany(ctx, model.TableAvailabilityBlocks, "event_id", id)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(rows))
	}

	if err := o.RecordAvailability(ctx, id, "user-1", nil); err != nil {
		t.Fatalf("record_availability clear: %v", err)
	}
	rows, err = o.Store.GetMany(ctx, model.TableAvailabilityBlocks, "event_id", id)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected 0 blocks after clearing, got %d", len(rows))
	}
}

func TestConfirmEventIdempotence(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	id, err := o.CreateEvent(ctx, baseInput("creator-1"))
	if err != nil {
		t.Fatalf("create_event: %v", err)
	}
	for _, u := range []string{"user-1", "user-2"} {
		if err := o.RecordAvailability(ctx, id, u, []time.Time{
			mustParse(t, "2025-01-01 10:00"), mustParse(t, "2025-01-01 10:30"),
		}); err != nil {
			t.Fatalf("record_availability(%s): %v", u, err)
		}
	}
	start := mustParse(t, "2025-01-01 10:00")
	end := mustParse(t, "2025-01-01 11:00")

	conf, err := o.ConfirmEvent(ctx, id, start, end)
	if err != nil {
		t.Fatalf("first confirm_event: %v", err)
	}
	if len(conf.EventID) == 0 {
		t.Fatal("expected a confirmation")
	}

	_, err = o.ConfirmEvent(ctx, id, start, end)
	var merr *model.Error
	if !errors.As(err, &merr) || merr.Kind != model.KindConflict {
		t.Fatalf("expected conflict on second confirm_event, got %v", err)
	}

	rows, err := o.Store.GetMany(ctx, model.TableConfirmations, "event_id", id)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one confirmation row, got %d", len(rows))
	}

	members, err := o.Store.GetMany(ctx, model.TableMemberships, "event_id", id)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 membership rows, got %d", len(members))
	}
}

func TestEventNeverTransitionsBackward(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	id, err := o.CreateEvent(ctx, baseInput("creator-1"))
	if err != nil {
		t.Fatalf("create_event: %v", err)
	}
	for _, u := range []string{"user-1", "user-2"} {
		if err := o.RecordAvailability(ctx, id, u, []time.Time{
			mustParse(t, "2025-01-01 10:00"), mustParse(t, "2025-01-01 10:30"),
		}); err != nil {
			t.Fatalf("record_availability(%s): %v", u, err)
		}
	}
	start := mustParse(t, "2025-01-01 10:00")
	end := mustParse(t, "2025-01-01 11:00")
	if _, err := o.ConfirmEvent(ctx, id, start, end); err != nil {
		t.Fatalf("confirm_event: %v", err)
	}
	if err := o.RecordAvailability(ctx, id, "user-1", []time.Time{start}); err == nil {
		t.Fatal("expected invalid_state once event is confirmed")
	}
}

func TestToggleRemindersByNonCreatorWhileEnabledRejected(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	id, err := o.CreateEvent(ctx, baseInput("creator-1"))
	if err != nil {
		t.Fatalf("create_event: %v", err)
	}
	if err := o.ToggleReminders(ctx, id, "not-the-creator"); err == nil {
		t.Fatal("expected unauthorized for non-creator toggling an enabled schedule")
	}
	row, ok, err := o.Store.Get(ctx, model.TableEvents, "event_id", id)
	if err != nil || !ok {
		t.Fatalf("load event: ok=%v err=%v", ok, err)
	}
	if !row.(model.Event).RemindersEnabled {
		t.Fatal("reminders_enabled must not have changed")
	}
}

func TestJoinLeaveIdempotentOnConfirmedEvent(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	id, err := o.CreateEvent(ctx, baseInput("creator-1"))
	if err != nil {
		t.Fatalf("create_event: %v", err)
	}
	for _, u := range []string{"user-1", "user-2"} {
		if err := o.RecordAvailability(ctx, id, u, []time.Time{
			mustParse(t, "2025-01-01 10:00"), mustParse(t, "2025-01-01 10:30"),
		}); err != nil {
			t.Fatalf("record_availability(%s): %v", u, err)
		}
	}
	start := mustParse(t, "2025-01-01 10:00")
	end := mustParse(t, "2025-01-01 11:00")
	if _, err := o.ConfirmEvent(ctx, id, start, end); err != nil {
		t.Fatalf("confirm_event: %v", err)
	}

	if err := o.Join(ctx, id, "user-3"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := o.Join(ctx, id, "user-3"); err != nil {
		t.Fatalf("repeat join should be a no-op, got %v", err)
	}
	if err := o.Leave(ctx, id, "user-3"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := o.Leave(ctx, id, "user-3"); err != nil {
		t.Fatalf("repeat leave should be a no-op, got %v", err)
	}
	isMember, err := o.Authz.IsMember(ctx, id, "user-3")
	if err != nil {
		t.Fatal(err)
	}
	if isMember {
		t.Fatal("expected user-3 to no longer be a member after leave")
	}
}
