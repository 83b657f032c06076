package reminder

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/windowmeet/core/internal/clock"
	"github.com/windowmeet/core/internal/model"
	"github.com/windowmeet/core/internal/store"
	"github.com/windowmeet/core/internal/store/memory"
)

type recordingOutbound struct {
	sent []string
}

func (r *recordingOutbound) BroadcastToEventChats(ctx context.Context, eventID, text string) error {
	r.sent = append(r.sent, eventID)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestDailyNudgeNotDuplicatedWithinSameNoonMinute(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	noon := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	mc := clock.NewMutable(noon)

	e := model.Event{
		ID: "event-1", Name: "Planning", CreatorUserID: "creator-1",
		MinParticipants: 2, MinBlockSlots: 2, MaxBlockSlots: 4,
		RemindersEnabled: true, Timezone: "UTC", State: model.EventOpen,
	}
	if err := s.Insert(ctx, model.TableEvents, e); err != nil {
		t.Fatal(err)
	}

	out := &recordingOutbound{}
	d := New(s, mc, out, nil, discardLogger(), time.Minute, 2*time.Hour)

	d.Tick(ctx)
	d.Tick(ctx)

	if len(out.sent) != 1 {
		t.Fatalf("expected exactly one daily nudge across two ticks in the same noon minute, got %d", len(out.sent))
	}
}

func TestImminentReminderFiresWithinWindow(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	mc := clock.NewMutable(now)

	e := model.Event{
		ID: "event-2", Name: "Kickoff", CreatorUserID: "creator-1",
		MinParticipants: 2, MinBlockSlots: 2, MaxBlockSlots: 4,
		RemindersEnabled: true, Timezone: "UTC", State: model.EventConfirmed,
	}
	if err := s.Insert(ctx, model.TableEvents, e); err != nil {
		t.Fatal(err)
	}
	confirmedStart := now.Add(90 * time.Minute)
	conf := model.Confirmation{
		EventID: e.ID, ConfirmedStartInstant: confirmedStart,
		ConfirmedEndInstant: confirmedStart.Add(time.Hour), ConfirmedAt: now,
	}
	if _, err := s.InsertConfirmationIfAbsent(ctx, conf); err != nil {
		t.Fatal(err)
	}

	out := &recordingOutbound{}
	d := New(s, mc, out, nil, discardLogger(), time.Minute, 2*time.Hour)
	d.Tick(ctx)

	if len(out.sent) != 1 {
		t.Fatalf("expected the imminent reminder to fire once, got %d sends", len(out.sent))
	}

	// A second tick must not re-fire: last_imminent_emitted_at is now set.
	d.Tick(ctx)
	if len(out.sent) != 1 {
		t.Fatalf("expected no duplicate imminent reminder on a second tick, got %d sends", len(out.sent))
	}
}

var _ store.Store = (*memory.Store)(nil)
