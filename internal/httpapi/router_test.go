package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/windowmeet/core/internal/authz"
	"github.com/windowmeet/core/internal/clock"
	"github.com/windowmeet/core/internal/model"
	"github.com/windowmeet/core/internal/orchestrator"
	"github.com/windowmeet/core/internal/reminder"
	"github.com/windowmeet/core/internal/store/memory"
)

type noopOutbound struct{}

func (noopOutbound) BroadcastToEventChats(ctx context.Context, eventID, text string) error {
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (http.Handler, *orchestrator.Orchestrator) {
	t.Helper()
	s := memory.New()
	az := authz.New(s)
	orch := orchestrator.New(s, clock.NewMutable(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)), az)
	disp := reminder.New(s, clock.NewMutable(time.Now().UTC()), noopOutbound{}, nil, discardLogger(), time.Minute, time.Hour)
	h := NewRouter(Deps{
		Orch:         orch,
		Authz:        az,
		Store:        s,
		Dispatcher:   disp,
		TriggerToken: "secret-token",
		Log:          discardLogger(),
	})
	return h, orch
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateEventEndpoint(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/event/create", createEventRequest{
		EventName: "Standup", Creator: "user-1", Start: "2025-02-01", End: "2025-02-05",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp okResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.OK {
		t.Fatalf("expected ok=true, got %v", resp)
	}
}

func TestCreateEventEndpointRejectsMissingCreator(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/event/create", createEventRequest{
		EventName: "Standup", Start: "2025-02-01", End: "2025-02-05",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing creator, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetBestTimeEndpointNotFound(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/event/get-best-time", getBestTimeRequest{EventID: "missing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTriggerRemindersRequiresToken(t *testing.T) {
	h, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/reminders", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/reminders", nil)
	req.Header.Set("X-Reminder-Token", "secret-token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRequireWebhookSecretRejectsMismatch(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })
	r := chi.NewRouter()
	r.Post("/webhook/{secret}", requireWebhookSecret("correct-secret", next))

	req := httptest.NewRequest(http.MethodPost, "/webhook/wrong-secret", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for mismatched webhook secret, got %d", rec.Code)
	}
	if called {
		t.Fatal("expected the wrapped handler not to run on a mismatched secret")
	}

	req = httptest.NewRequest(http.MethodPost, "/webhook/correct-secret", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if !called {
		t.Fatal("expected the wrapped handler to run on a matching secret")
	}
}

func TestConfirmEventEndpointReturnsConflictAsOKWhenAlreadyConfirmed(t *testing.T) {
	h, orch := newTestServer(t)
	ctx := context.Background()
	eventID, err := orch.CreateEvent(ctx, orchestrator.CreateEventInput{
		CreatorUserID: "user-1", Name: "Sync", WindowStartDate: "2025-02-01", WindowEndDate: "2025-02-05",
		DailyStartTime: "09:00", DailyEndTime: "17:00", Timezone: "UTC",
	})
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	for _, u := range []string{"a", "b"} {
		if err := orch.RecordAvailability(ctx, eventID, u, []time.Time{start, start.Add(model.Slot)}); err != nil {
			t.Fatal(err)
		}
	}
	end := start.Add(2 * model.Slot)
	body := confirmEventRequest{EventID: eventID, BestStartTime: start.Format(time.RFC3339), BestEndTime: end.Format(time.RFC3339)}

	rec := doJSON(t, h, http.MethodPost, "/api/event/confirm", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected first confirm to succeed, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/event/confirm", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected idempotent re-confirm to be reported as ok, got %d: %s", rec.Code, rec.Body.String())
	}
}
