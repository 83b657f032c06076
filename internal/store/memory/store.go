// Package memory implements store.Store entirely in-process, for fast
// Selector/Orchestrator/Dispatcher unit tests that don't need a real
// database. It enforces the same at-most-once mutation contract as the
// sqlite implementation using a single mutex shared by all tables.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/windowmeet/core/internal/model"
	"github.com/windowmeet/core/internal/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu     sync.Mutex
	tables map[string][]store.Row
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{tables: make(map[string][]store.Row)}
}

func fieldOf(table, field string, row store.Row) (any, bool) {
	switch table {
	case model.TableUsers:
		u := row.(model.User)
		switch field {
		case "user_id":
			return u.ID, true
		case "chat_identity":
			return u.ChatIdentity, true
		}
	case model.TableEvents:
		e := row.(model.Event)
		switch field {
		case "event_id":
			return e.ID, true
		case "creator_user_id":
			return e.CreatorUserID, true
		case "state":
			return e.State, true
		}
	case model.TableAvailabilityBlocks:
		b := row.(model.AvailabilityBlock)
		switch field {
		case "event_id":
			return b.EventID, true
		case "user_id":
			return b.UserID, true
		}
	case model.TableConfirmations:
		c := row.(model.Confirmation)
		switch field {
		case "event_id":
			return c.EventID, true
		}
	case model.TableMemberships:
		m := row.(model.Membership)
		switch field {
		case "event_id":
			return m.EventID, true
		case "user_id":
			return m.UserID, true
		}
	case model.TableEventChats:
		ec := row.(model.EventChat)
		switch field {
		case "event_id":
			return ec.EventID, true
		case "chat_id":
			return ec.ChatID, true
		}
	}
	return nil, false
}

func primaryKeyField(table string) string {
	switch table {
	case model.TableUsers:
		return "user_id"
	case model.TableEvents:
		return "event_id"
	default:
		return "event_id"
	}
}

func (s *Store) Get(ctx context.Context, table, field string, value any) (store.Row, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.tables[table] {
		if v, ok := fieldOf(table, field, row); ok && v == value {
			return row, true, nil
		}
	}
	return nil, false, nil
}

func (s *Store) GetMany(ctx context.Context, table, field string, value any) ([]store.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Row
	for _, row := range s.tables[table] {
		if v, ok := fieldOf(table, field, row); ok && v == value {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, table string, row store.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(table, row)
}

func (s *Store) insertLocked(table string, row store.Row) error {
	key := primaryKeyField(table)
	if table == model.TableConfirmations || table == model.TableEventChats {
		key = "event_id"
	}
	if table == model.TableMemberships {
		// composite key (event_id, user_id): duplicate check below handles it.
		newEvt, _ := fieldOf(table, "event_id", row)
		newUsr, _ := fieldOf(table, "user_id", row)
		for _, existing := range s.tables[table] {
			evt, _ := fieldOf(table, "event_id", existing)
			usr, _ := fieldOf(table, "user_id", existing)
			if evt == newEvt && usr == newUsr {
				return model.Errorf(model.KindConflict, "duplicate membership for event %v user %v", newEvt, newUsr)
			}
		}
		s.tables[table] = append(s.tables[table], row)
		return nil
	}
	newVal, _ := fieldOf(table, key, row)
	for _, existing := range s.tables[table] {
		if v, ok := fieldOf(table, key, existing); ok && v == newVal {
			return model.Errorf(model.KindConflict, "duplicate key %v in table %s", newVal, table)
		}
	}
	s.tables[table] = append(s.tables[table], row)
	return nil
}

func (s *Store) InsertMany(ctx context.Context, table string, rows []store.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.tables[table] = append(s.tables[table], row)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, table, keyField string, keyValue any, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.tables[table]
	for i, row := range rows {
		v, ok := fieldOf(table, keyField, row)
		if !ok || v != keyValue {
			continue
		}
		updated, err := applyPatch(table, row, patch)
		if err != nil {
			return err
		}
		rows[i] = updated
		return nil
	}
	return store.ErrNoRows
}

func (s *Store) Delete(ctx context.Context, table, keyField string, keyValue any, otherField string, otherValue any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.tables[table]
	out := rows[:0:0]
	for _, row := range rows {
		kv, _ := fieldOf(table, keyField, row)
		ov, ok := fieldOf(table, otherField, row)
		if kv == keyValue && (!ok || ov == otherValue) {
			continue
		}
		out = append(out, row)
	}
	s.tables[table] = out
	return nil
}

func (s *Store) DeleteMany(ctx context.Context, table, keyField string, keyValue any, otherField string, otherValues []any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	match := make(map[any]bool, len(otherValues))
	for _, v := range otherValues {
		match[v] = true
	}
	rows := s.tables[table]
	out := rows[:0:0]
	for _, row := range rows {
		kv, _ := fieldOf(table, keyField, row)
		ov, _ := fieldOf(table, otherField, row)
		if kv == keyValue && match[ov] {
			continue
		}
		out = append(out, row)
	}
	s.tables[table] = out
	return nil
}

// ReplaceAvailability atomically (under the single store mutex) deletes then
// re-inserts one user's AvailabilityBlocks for one event.
func (s *Store) ReplaceAvailability(ctx context.Context, eventID, userID string, blocks []model.AvailabilityBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.tables[model.TableAvailabilityBlocks]
	out := rows[:0:0]
	for _, row := range rows {
		b := row.(model.AvailabilityBlock)
		if b.EventID == eventID && b.UserID == userID {
			continue
		}
		out = append(out, row)
	}
	for _, b := range blocks {
		out = append(out, store.Row(b))
	}
	s.tables[model.TableAvailabilityBlocks] = out
	return nil
}

// InsertConfirmationIfAbsent implements insert-if-absent under the store
// mutex so concurrent calls against the same in-process Store serialize.
func (s *Store) InsertConfirmationIfAbsent(ctx context.Context, c model.Confirmation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.tables[model.TableConfirmations] {
		if row.(model.Confirmation).EventID == c.EventID {
			return false, nil
		}
	}
	s.tables[model.TableConfirmations] = append(s.tables[model.TableConfirmations], store.Row(c))
	return true, nil
}

func (s *Store) GetUnconfirmedActiveEventsAtLocalNoon(ctx context.Context, now time.Time) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for _, row := range s.tables[model.TableEvents] {
		e := row.(model.Event)
		if e.State != model.EventOpen || !e.RemindersEnabled {
			continue
		}
		if isLocalNoon(e, now) && e.LastNoonNudgeDate != localDate(e, now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) GetConfirmedEventsAtLocalNoon(ctx context.Context, now time.Time) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for _, row := range s.tables[model.TableEvents] {
		e := row.(model.Event)
		if e.State != model.EventConfirmed {
			continue
		}
		conf := s.confirmationLocked(e.ID)
		if conf == nil || !conf.ConfirmedStartInstant.After(now) {
			continue
		}
		if isLocalNoon(e, now) && e.LastNoonCountdownDate != localDate(e, now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) GetConfirmedEventsStartingSoon(ctx context.Context, now time.Time, horizon time.Duration) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for _, row := range s.tables[model.TableEvents] {
		e := row.(model.Event)
		if e.State != model.EventConfirmed {
			continue
		}
		conf := s.confirmationLocked(e.ID)
		if conf == nil || e.LastImminentEmittedAt != nil {
			continue
		}
		if !conf.ConfirmedStartInstant.Before(now) && !conf.ConfirmedStartInstant.After(now.Add(horizon)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) confirmationLocked(eventID string) *model.Confirmation {
	for _, row := range s.tables[model.TableConfirmations] {
		c := row.(model.Confirmation)
		if c.EventID == eventID {
			return &c
		}
	}
	return nil
}

func isLocalNoon(e model.Event, now time.Time) bool {
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return local.Hour() == 12 && local.Minute() == 0
}

func localDate(e model.Event, now time.Time) string {
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return now.In(loc).Format("2006-01-02")
}

func applyPatch(table string, row store.Row, patch map[string]any) (store.Row, error) {
	switch table {
	case model.TableUsers:
		u := row.(model.User)
		for k, v := range patch {
			switch k {
			case "display_name":
				u.DisplayName = v.(string)
			case "sleep_start":
				if v == nil {
					u.SleepStart = nil
				} else {
					s := v.(string)
					u.SleepStart = &s
				}
			case "sleep_end":
				if v == nil {
					u.SleepEnd = nil
				} else {
					s := v.(string)
					u.SleepEnd = &s
				}
			}
		}
		return u, nil
	case model.TableEvents:
		e := row.(model.Event)
		for k, v := range patch {
			switch k {
			case "name":
				e.Name = v.(string)
			case "description":
				e.Description = v.(string)
			case "state":
				e.State = v.(model.EventState)
			case "reminders_enabled":
				e.RemindersEnabled = v.(bool)
			case "last_noon_nudge_date":
				e.LastNoonNudgeDate = v.(string)
			case "last_noon_countdown_date":
				e.LastNoonCountdownDate = v.(string)
			case "last_imminent_emitted_at":
				if v == nil {
					e.LastImminentEmittedAt = nil
				} else {
					t := v.(time.Time)
					e.LastImminentEmittedAt = &t
				}
			}
		}
		return e, nil
	case model.TableEventChats:
		ec := row.(model.EventChat)
		for k, v := range patch {
			switch k {
			case "chat_id":
				ec.ChatID = v.(string)
			case "thread_id":
				if v == nil {
					ec.ThreadID = nil
				} else {
					s := v.(string)
					ec.ThreadID = &s
				}
			case "reminders_enabled":
				ec.RemindersEnabled = v.(bool)
			}
		}
		return ec, nil
	}
	return row, nil
}
