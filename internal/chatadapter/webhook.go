package chatadapter

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/windowmeet/core/internal/orchestrator"
	"github.com/windowmeet/core/internal/sharetoken"
)

// webAppCreatePayload is dispatch tag web_app_number=0: an event-creation
// struct submitted from the webapp form.
type webAppCreatePayload struct {
	WebAppNumber    int    `json:"web_app_number"`
	EventName       string `json:"event_name"`
	EventDetails    string `json:"event_details"`
	WindowStartDate string `json:"window_start_date"`
	WindowEndDate   string `json:"window_end_date"`
	DailyStartTime  string `json:"daily_start_time"`
	DailyEndTime    string `json:"daily_end_time"`
	Timezone        string `json:"timezone"`
}

// webAppConfirmPayload is dispatch tag web_app_number=1: a confirmation
// struct submitted from the webapp's best-time picker.
type webAppConfirmPayload struct {
	WebAppNumber  int    `json:"web_app_number"`
	EventID       string `json:"event_id"`
	BestStartTime string `json:"best_start_time"`
	BestEndTime   string `json:"best_end_time"`
}

// newRandomID mints an entity ID for users first seen through the chat
// surface: 16 random bytes as 32 hex characters (the Orchestrator's default
// generator, uuid.NewString, produces a different, dashed form).
func newRandomID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// handleUpdate is the bot's default handler, registered at construction
// time in New. All business logic is delegated to the Orchestrator and
// Authorizer; this method only demultiplexes.
func (a *Adapter) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if !a.markSeen(update.ID) {
		return
	}
	switch {
	case update.Message != nil && update.Message.WebAppData != nil:
		a.handleWebAppData(ctx, update.Message.Chat.ID, update.Message.WebAppData.Data)
	case update.Message != nil:
		a.handleCommand(ctx, update.Message)
	case update.CallbackQuery != nil:
		a.handleCallback(ctx, update.CallbackQuery)
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *models.Message) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "/create":
		_, _ = a.SendMessage(ctx, chatID, nil, "Open the app to describe your event.", nil)
	case "/share":
		_, _ = a.SendMessage(ctx, chatID, nil, "Open the app to pick who to share this event with.", nil)
	case "/help":
		_, _ = a.SendMessage(ctx, chatID, nil, "/create starts a new event. /share posts an event to this chat.", nil)
	}
}

func (a *Adapter) handleWebAppData(ctx context.Context, chatID int64, raw string) {
	if a.orch == nil || a.authz == nil {
		return
	}
	var tag struct {
		WebAppNumber int `json:"web_app_number"`
	}
	if err := json.Unmarshal([]byte(raw), &tag); err != nil {
		a.log.Warn("malformed webapp payload", slog.String("error", err.Error()))
		return
	}
	switch tag.WebAppNumber {
	case 0:
		var p webAppCreatePayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			a.log.Warn("malformed create payload", slog.String("error", err.Error()))
			return
		}
		user, err := a.authz.IdentityFor(ctx, strconv.FormatInt(chatID, 10), "", newRandomID)
		if err != nil {
			a.log.Error("resolve identity", slog.String("error", err.Error()))
			return
		}
		_, err = a.orch.CreateEvent(ctx, orchestrator.CreateEventInput{
			CreatorUserID:   user.ID,
			Name:            p.EventName,
			Description:     p.EventDetails,
			WindowStartDate: p.WindowStartDate,
			WindowEndDate:   p.WindowEndDate,
			DailyStartTime:  p.DailyStartTime,
			DailyEndTime:    p.DailyEndTime,
			Timezone:        p.Timezone,
		})
		if err != nil {
			a.log.Warn("create_event failed", slog.String("error", err.Error()))
		}
	case 1:
		var p webAppConfirmPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			a.log.Warn("malformed confirm payload", slog.String("error", err.Error()))
			return
		}
		start, err1 := parseRFC3339(p.BestStartTime)
		end, err2 := parseRFC3339(p.BestEndTime)
		if err1 != nil || err2 != nil {
			a.log.Warn("malformed confirm times")
			return
		}
		if _, err := a.orch.ConfirmEvent(ctx, p.EventID, start, end); err != nil {
			a.log.Warn("confirm_event failed", slog.String("error", err.Error()))
		}
	}
}

// handleShare mints a single-use share token for eventID and answers the
// callback with the raw token text ("Share token: <token>"); no deep link
// is built from it.
func (a *Adapter) handleShare(ctx context.Context, cb *models.CallbackQuery, eventID, userID string) {
	if a.share == nil {
		_ = a.AnswerCallback(ctx, cb.ID, "Sharing is not enabled.", true)
		return
	}
	token, err := a.share.Mint(ctx, sharetoken.Context{
		ChatID:  strconv.FormatInt(cb.From.ID, 10),
		UserID:  userID,
		EventID: eventID,
	})
	if err != nil {
		a.log.Error("mint share token", slog.String("error", err.Error()))
		_ = a.AnswerCallback(ctx, cb.ID, "Could not create a share link.", true)
		return
	}
	_ = a.AnswerCallback(ctx, cb.ID, "Share token: "+token, false)
}

func (a *Adapter) handleCallback(ctx context.Context, cb *models.CallbackQuery) {
	if a.orch == nil || a.authz == nil {
		return
	}
	data := cb.Data
	userID := strconv.FormatInt(cb.From.ID, 10)
	user, err := a.authz.IdentityFor(ctx, userID, cb.From.FirstName, newRandomID)
	if err != nil {
		a.log.Error("resolve identity for callback", slog.String("error", err.Error()))
		return
	}
	switch {
	case strings.HasPrefix(data, "join:"):
		eventID := strings.TrimPrefix(data, "join:")
		if err := a.orch.Join(ctx, eventID, user.ID); err != nil {
			_ = a.AnswerCallback(ctx, cb.ID, "Could not join: "+err.Error(), true)
			return
		}
		_ = a.AnswerCallback(ctx, cb.ID, "Joined.", false)
	case strings.HasPrefix(data, "reminders:"):
		eventID := strings.TrimPrefix(data, "reminders:")
		if err := a.orch.ToggleReminders(ctx, eventID, user.ID); err != nil {
			_ = a.AnswerCallback(ctx, cb.ID, "Could not toggle reminders: "+err.Error(), true)
			return
		}
		_ = a.AnswerCallback(ctx, cb.ID, "Reminders updated.", false)
	case strings.HasPrefix(data, "share:"):
		eventID := strings.TrimPrefix(data, "share:")
		a.handleShare(ctx, cb, eventID, userID)
	default:
		_ = a.AnswerCallback(ctx, cb.ID, "", false)
	}
}
