package sharetoken

import (
	"encoding/json"
	"testing"

	"github.com/windowmeet/core/internal/config"
)

func TestOpenRejectsEmptyAddr(t *testing.T) {
	if _, err := Open(config.ShareTokenConfig{}); err == nil {
		t.Fatal("expected error for empty redis_addr")
	}
}

func TestRandomTokenIsUniqueAndHex(t *testing.T) {
	a, err := randomToken()
	if err != nil {
		t.Fatal(err)
	}
	b, err := randomToken()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("expected distinct tokens")
	}
	if len(a) != 40 {
		t.Fatalf("expected 40 hex chars (20 bytes), got %d", len(a))
	}
}

func TestContextRoundTripsThroughJSON(t *testing.T) {
	c := Context{ChatID: "chat-1", UserID: "user-1", EventID: "event-1"}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	var got Context
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got != c {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, c)
	}
}
