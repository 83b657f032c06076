package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/windowmeet/core/internal/model"
	"github.com/windowmeet/core/internal/orchestrator"
)

type handlers struct {
	Deps
}

type okResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type errResponse struct {
	Error string `json:"error"`
}

func writeOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(okResponse{OK: true, Data: data})
}

func writeErr(w http.ResponseWriter, err error) {
	kind := model.KindFatal
	var merr *model.Error
	if errors.As(err, &merr) {
		kind = merr.Kind
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForKind(kind))
	_ = json.NewEncoder(w).Encode(errResponse{Error: string(kind) + ": " + err.Error()})
}

// statusForKind maps the error taxonomy to an HTTP status, per spec.md §7.
func statusForKind(k model.Kind) int {
	switch k {
	case model.KindInvalidInput:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindInvalidState:
		return http.StatusConflict
	case model.KindUnauthorized:
		return http.StatusForbidden
	case model.KindConflict:
		return http.StatusConflict
	case model.KindTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return model.Wrap(model.KindInvalidInput, err, "malformed request body")
	}
	return nil
}

// createEventRequest matches spec.md §6's create_event body. start/end are
// calendar dates bounding the availability window (the body carries no
// per-event timezone or daily-hour-range fields, so those take the §3
// defaults: full-day hours, UTC) — resolved the way the retrieved original
// implementation's create_event defaults start_hour/end_hour to the full
// day. event_type is accepted and otherwise unused: the core has no
// scheduling behavior keyed on it.
type createEventRequest struct {
	Token        string `json:"token"`
	EventID      string `json:"event_id"`
	EventName    string `json:"event_name"`
	EventDetails string `json:"event_details"`
	EventType    string `json:"event_type"`
	Start        string `json:"start"`
	End          string `json:"end"`
	Creator      string `json:"creator"`
}

func (h *handlers) createEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	creator := req.Creator
	var shareCtx struct {
		chatID, threadID *string
	}
	if req.Token != "" && h.Share != nil {
		sc, ok, err := h.Share.Consume(r.Context(), req.Token)
		if err != nil {
			writeErr(w, model.Wrap(model.KindTransient, err, "consume share token"))
			return
		}
		if ok {
			if creator == "" {
				creator = sc.UserID
			}
			shareCtx.chatID = &sc.ChatID
			shareCtx.threadID = strPtr(sc.ThreadID)
		}
	}

	in := orchestrator.CreateEventInput{
		CreatorUserID:   creator,
		Name:            req.EventName,
		Description:     req.EventDetails,
		WindowStartDate: req.Start,
		WindowEndDate:   req.End,
		DailyStartTime:  "00:00",
		DailyEndTime:    "23:59",
		Timezone:        "UTC",
	}
	eventID, err := h.Orch.CreateEvent(r.Context(), in)
	if err != nil {
		writeErr(w, err)
		return
	}

	if shareCtx.chatID != nil {
		if err := h.Orch.SetEventChat(r.Context(), eventID, creator, *shareCtx.chatID, shareCtx.threadID); err != nil {
			h.Log.Warn("set_event_chat after create failed", slog.String("error", err.Error()))
		}
	}

	writeOK(w, map[string]string{"event_id": eventID})
}

type confirmEventRequest struct {
	EventID       string `json:"event_id"`
	BestStartTime string `json:"best_start_time"`
	BestEndTime   string `json:"best_end_time"`
}

func (h *handlers) confirmEvent(w http.ResponseWriter, r *http.Request) {
	var req confirmEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	start, err := time.Parse(time.RFC3339, req.BestStartTime)
	if err != nil {
		writeErr(w, model.Errorf(model.KindInvalidInput, "best_start_time must be RFC3339"))
		return
	}
	end, err := time.Parse(time.RFC3339, req.BestEndTime)
	if err != nil {
		writeErr(w, model.Errorf(model.KindInvalidInput, "best_end_time must be RFC3339"))
		return
	}
	confirmation, err := h.Orch.ConfirmEvent(r.Context(), req.EventID, start, end)
	if err != nil && confirmation.EventID == "" {
		writeErr(w, err)
		return
	}
	writeOK(w, confirmation)
}

type getBestTimeRequest struct {
	EventID string `json:"event_id"`
}

func (h *handlers) getBestTime(w http.ResponseWriter, r *http.Request) {
	var req getBestTimeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	blocks, err := h.Orch.ComputeBestTime(r.Context(), req.EventID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, blocks)
}

type shareRequest struct {
	Token   string `json:"token"`
	EventID string `json:"event_id"`
}

// share consumes a single-use share token, attaches the event to the
// originating chat, and renders a prompt there — the three steps spec.md
// §6's /api/share row describes.
func (h *handlers) share(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if h.Share == nil {
		writeErr(w, model.Errorf(model.KindInvalidState, "share links are not enabled"))
		return
	}
	ctx, ok, err := h.Share.Consume(r.Context(), req.Token)
	if err != nil {
		writeErr(w, model.Wrap(model.KindTransient, err, "consume share token"))
		return
	}
	if !ok {
		writeErr(w, model.Errorf(model.KindNotFound, "share token not found or already used"))
		return
	}
	if err := h.Orch.SetEventChat(r.Context(), req.EventID, ctx.UserID, ctx.ChatID, strPtr(ctx.ThreadID)); err != nil {
		writeErr(w, err)
		return
	}
	if h.Chat != nil {
		row, ok, err := h.Store.Get(r.Context(), model.TableEvents, "event_id", req.EventID)
		if err == nil && ok {
			e := row.(model.Event)
			_, _ = h.Chat.SendMessage(r.Context(), ctx.ChatID, strPtr(ctx.ThreadID), "Shared: "+e.Name, nil)
		}
	}
	writeOK(w, map[string]bool{"shared": true})
}

// triggerReminders is the header-gated manual trigger for the Reminder
// Dispatcher's tick, for environments that schedule it via an external
// cron rather than the in-process ticker.
func (h *handlers) triggerReminders(w http.ResponseWriter, r *http.Request) {
	if h.TriggerToken == "" || r.Header.Get("X-Reminder-Token") != h.TriggerToken {
		writeErr(w, model.Errorf(model.KindUnauthorized, "invalid or missing reminder trigger token"))
		return
	}
	if h.Dispatcher == nil {
		writeErr(w, model.Errorf(model.KindInvalidState, "reminder dispatcher is not configured"))
		return
	}
	h.Dispatcher.Tick(r.Context())
	writeOK(w, nil)
}
