package chatadapter

import (
	"testing"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	seen, err := lru.New[string, struct{}](16)
	if err != nil {
		t.Fatal(err)
	}
	return &Adapter{seen: seen}
}

func TestMarkSeenOnlyOnce(t *testing.T) {
	a := newTestAdapter(t)
	if !a.markSeen(1) {
		t.Fatal("expected update 1 to be unseen the first time")
	}
	if a.markSeen(1) {
		t.Fatal("expected update 1 to be seen the second time")
	}
	if !a.markSeen(2) {
		t.Fatal("expected update 2 to be unseen")
	}
}

func TestNewRandomIDIsUniqueAndHex(t *testing.T) {
	a, b := newRandomID(), newRandomID()
	if a == b {
		t.Fatal("expected two distinct IDs")
	}
	if len(a) != 32 {
		t.Fatalf("expected a 32-char hex ID, got %d chars", len(a))
	}
}

func TestParseRFC3339(t *testing.T) {
	got, err := parseRFC3339("2025-06-01T12:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if _, err := parseRFC3339("not-a-time"); err == nil {
		t.Fatal("expected an error for a malformed timestamp")
	}
}

func TestToInlineKeyboardEmpty(t *testing.T) {
	if toInlineKeyboard(nil) != nil {
		t.Fatal("expected a nil keyboard for no buttons")
	}
}

func TestToInlineKeyboardRows(t *testing.T) {
	kb := toInlineKeyboard([]Button{{Text: "Join", CallbackData: "join:event-1"}})
	if kb == nil || len(kb.InlineKeyboard) != 1 {
		t.Fatal("expected one row")
	}
	if kb.InlineKeyboard[0][0].CallbackData != "join:event-1" {
		t.Fatalf("unexpected callback data %q", kb.InlineKeyboard[0][0].CallbackData)
	}
}
