// Package reminder implements the single process-wide cooperative worker
// that polls the Store on a fixed cadence and emits outbound reminder
// messages via the Chat surface, in the ticker-driven style the teacher
// corpus uses for its heartbeat loop.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/windowmeet/core/internal/clock"
	"github.com/windowmeet/core/internal/model"
	"github.com/windowmeet/core/internal/protocol"
	"github.com/windowmeet/core/internal/store"
)

// Outbound is the slice of the Chat Adapter the dispatcher needs: a single
// best-effort broadcast to every chat associated with an event.
type Outbound interface {
	BroadcastToEventChats(ctx context.Context, eventID, text string) error
}

// Publisher mirrors orchestrator.Publisher so the dispatcher can announce a
// ReminderDispatched fact without importing the orchestrator package.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, any) error { return nil }

// Dispatcher runs the three reminder passes on a fixed tick.
type Dispatcher struct {
	store           store.Store
	clock           clock.Clock
	outbound        Outbound
	publisher       Publisher
	log             *slog.Logger
	pollInterval    time.Duration
	imminentHorizon time.Duration

	meter         metric.Meter
	sentCounter   metric.Int64Counter
	failedCounter metric.Int64Counter
}

// New builds a Dispatcher. pollInterval is the tick cadence; imminentHorizon
// is H in spec §4.4's "now ≤ confirmed_start_instant ≤ now + H" pass.
func New(s store.Store, c clock.Clock, outbound Outbound, publisher Publisher, log *slog.Logger, pollInterval, imminentHorizon time.Duration) *Dispatcher {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	d := &Dispatcher{
		store:           s,
		clock:           c,
		outbound:        outbound,
		publisher:       publisher,
		log:             log.With(slog.String("component", "reminder-dispatcher")),
		pollInterval:    pollInterval,
		imminentHorizon: imminentHorizon,
		meter:           otel.Meter("github.com/windowmeet/core/reminder"),
	}
	if err := d.initMetrics(); err != nil {
		d.log.Warn("failed to initialize reminder metrics", slog.String("error", err.Error()))
	}
	return d
}

func (d *Dispatcher) initMetrics() error {
	sent, err := d.meter.Int64Counter("reminder_dispatched_total",
		metric.WithDescription("reminders successfully sent, by kind"))
	if err != nil {
		return err
	}
	failed, err := d.meter.Int64Counter("reminder_send_failed_total",
		metric.WithDescription("reminder sends that errored, by kind"))
	if err != nil {
		return err
	}
	d.sentCounter = sent
	d.failedCounter = failed
	return nil
}

// Run blocks, ticking at pollInterval, until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs all three passes once; exported so tests and the HTTP-gated
// /api/reminders trigger can invoke it deterministically.
func (d *Dispatcher) Tick(ctx context.Context) {
	now := d.clock.Now()
	d.dailyAvailabilityNudge(ctx, now)
	d.dailyEventCountdown(ctx, now)
	d.imminentReminder(ctx, now)
}

func (d *Dispatcher) dailyAvailabilityNudge(ctx context.Context, now time.Time) {
	events, err := d.store.GetUnconfirmedActiveEventsAtLocalNoon(ctx, now)
	if err != nil {
		d.log.Error("load unconfirmed events at local noon", slog.String("error", err.Error()))
		return
	}
	for _, e := range events {
		text := fmt.Sprintf("Reminder: please fill in your availability for %q.", e.Name)
		if d.send(ctx, e, protocol.ReminderKindAvailabilityNudge, text, now) {
			d.markNoonNudgeSent(ctx, e, now)
		}
	}
}

func (d *Dispatcher) dailyEventCountdown(ctx context.Context, now time.Time) {
	events, err := d.store.GetConfirmedEventsAtLocalNoon(ctx, now)
	if err != nil {
		d.log.Error("load confirmed events at local noon", slog.String("error", err.Error()))
		return
	}
	for _, e := range events {
		text := fmt.Sprintf("%q is happening soon.", e.Name)
		if d.send(ctx, e, protocol.ReminderKindDailyCountdown, text, now) {
			d.markNoonCountdownSent(ctx, e, now)
		}
	}
}

func (d *Dispatcher) imminentReminder(ctx context.Context, now time.Time) {
	events, err := d.store.GetConfirmedEventsStartingSoon(ctx, now, d.imminentHorizon)
	if err != nil {
		d.log.Error("load events starting soon", slog.String("error", err.Error()))
		return
	}
	for _, e := range events {
		text := fmt.Sprintf("%q is happening soon.", e.Name)
		if d.send(ctx, e, protocol.ReminderKindImminent, text, now) {
			d.markImminentSent(ctx, e, now)
		}
	}
}

// send emits one reminder for one event and reports whether it should be
// marked as sent (true even on outbound failure — a transport failure is
// logged and skipped per §4.4, not retried, so bookkeeping still advances).
func (d *Dispatcher) send(ctx context.Context, e model.Event, kind protocol.ReminderKind, text string, now time.Time) bool {
	if err := d.outbound.BroadcastToEventChats(ctx, e.ID, text); err != nil {
		d.log.Error("reminder send failed", slog.String("event_id", e.ID), slog.String("kind", string(kind)), slog.String("error", err.Error()))
		d.count(d.failedCounter, kind)
		return true
	}
	d.count(d.sentCounter, kind)
	if err := d.publisher.Publish(ctx, protocol.SubjectReminderDispatched, protocol.ReminderDispatched{
		EventID: e.ID, Kind: kind, At: now,
	}); err != nil {
		d.log.Warn("publish reminder_dispatched failed", slog.String("error", err.Error()))
	}
	return true
}

func (d *Dispatcher) count(counter metric.Int64Counter, kind protocol.ReminderKind) {
	if counter == nil {
		return
	}
	counter.Add(context.Background(), 1, metric.WithAttributes(attributeKind(kind)))
}

func (d *Dispatcher) markNoonNudgeSent(ctx context.Context, e model.Event, now time.Time) {
	date := localDate(e, now)
	if err := d.store.Update(ctx, model.TableEvents, "event_id", e.ID, map[string]any{"last_noon_nudge_date": date}); err != nil {
		d.log.Error("mark noon nudge sent", slog.String("event_id", e.ID), slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) markNoonCountdownSent(ctx context.Context, e model.Event, now time.Time) {
	date := localDate(e, now)
	if err := d.store.Update(ctx, model.TableEvents, "event_id", e.ID, map[string]any{"last_noon_countdown_date": date}); err != nil {
		d.log.Error("mark noon countdown sent", slog.String("event_id", e.ID), slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) markImminentSent(ctx context.Context, e model.Event, now time.Time) {
	if err := d.store.Update(ctx, model.TableEvents, "event_id", e.ID, map[string]any{"last_imminent_emitted_at": now}); err != nil {
		d.log.Error("mark imminent sent", slog.String("event_id", e.ID), slog.String("error", err.Error()))
	}
}

func attributeKind(kind protocol.ReminderKind) attribute.KeyValue {
	return attribute.String("kind", string(kind))
}

func localDate(e model.Event, now time.Time) string {
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return now.In(loc).Format("2006-01-02")
}
