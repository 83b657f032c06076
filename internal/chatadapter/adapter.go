// Package chatadapter is the concrete Chat Adapter collaborator described
// in spec §6: inbound command/webapp-payload demultiplexing and the three
// outbound operations (send, edit, answer-callback) the core calls against
// Telegram via go-telegram/bot.
package chatadapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/windowmeet/core/internal/authz"
	"github.com/windowmeet/core/internal/config"
	"github.com/windowmeet/core/internal/model"
	"github.com/windowmeet/core/internal/orchestrator"
	"github.com/windowmeet/core/internal/sharetoken"
	"github.com/windowmeet/core/internal/store"
)

// Button is a single inline-keyboard button; CallbackData is opaque to the
// adapter and carries the core's "join:<event_id>" / "reminders:<event_id>"
// payloads verbatim.
type Button struct {
	Text         string
	CallbackData string
}

// Adapter wraps a Telegram bot handle behind the core's three-operation
// outbound contract, rate-limited to avoid flooding chats, and deduplicates
// inbound updates with a bounded cache instead of the teacher corpus's
// global mutable set.
type Adapter struct {
	bot     *bot.Bot
	store   store.Store
	orch    *orchestrator.Orchestrator
	authz   *authz.Authorizer
	share   *sharetoken.Store
	limiter *rate.Limiter
	seen    *lru.Cache[string, struct{}]
	log     *slog.Logger
}

// New constructs an Adapter with its inbound update handler already wired
// to the Orchestrator, Authorizer, and share-token Store it dispatches
// into. share may be nil if share-link minting is not configured.
func New(cfg config.ChatConfig, s store.Store, orch *orchestrator.Orchestrator, az *authz.Authorizer, share *sharetoken.Store, log *slog.Logger) (*Adapter, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("chatadapter: bot_token must not be empty")
	}
	seen, err := lru.New[string, struct{}](cfg.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("chatadapter: create dedup cache: %w", err)
	}
	a := &Adapter{
		store:   s,
		orch:    orch,
		authz:   az,
		share:   share,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst),
		seen:    seen,
		log:     log.With(slog.String("component", "chat-adapter")),
	}
	b, err := bot.New(cfg.BotToken, bot.WithDefaultHandler(a.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("chatadapter: create bot: %w", err)
	}
	a.bot = b
	return a, nil
}

// Handler exposes the webhook HTTP endpoint the boundary mounts at
// /webhook/<secret>.
func (a *Adapter) Handler() http.HandlerFunc {
	return a.bot.WebhookHandler()
}

func toInlineKeyboard(buttons []Button) *models.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]models.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []models.InlineKeyboardButton{{Text: b.Text, CallbackData: b.CallbackData}})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// SendMessage implements the core's send_message outbound operation.
func (a *Adapter) SendMessage(ctx context.Context, chatID string, threadID *string, text string, buttons []Button) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("chatadapter: rate limit wait: %w", err)
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return "", model.Errorf(model.KindInvalidInput, "chat_id %q is not numeric", chatID)
	}
	params := &bot.SendMessageParams{ChatID: id, Text: text, ReplyMarkup: toInlineKeyboard(buttons)}
	if threadID != nil {
		if tid, err := strconv.Atoi(*threadID); err == nil {
			params.MessageThreadID = tid
		}
	}
	msg, err := a.bot.SendMessage(ctx, params)
	if err != nil {
		return "", model.Wrap(model.KindTransient, err, "send message to chat %s", chatID)
	}
	return strconv.Itoa(msg.ID), nil
}

// EditMessage implements the core's edit_message outbound operation.
func (a *Adapter) EditMessage(ctx context.Context, chatID, messageID, text string, buttons []Button) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("chatadapter: rate limit wait: %w", err)
	}
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return model.Errorf(model.KindInvalidInput, "chat_id %q is not numeric", chatID)
	}
	msgIDInt, err := strconv.Atoi(messageID)
	if err != nil {
		return model.Errorf(model.KindInvalidInput, "message_id %q is not numeric", messageID)
	}
	_, err = a.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID: chatIDInt, MessageID: msgIDInt, Text: text, ReplyMarkup: toInlineKeyboard(buttons),
	})
	if err != nil {
		return model.Wrap(model.KindTransient, err, "edit message %s in chat %s", messageID, chatID)
	}
	return nil
}

// AnswerCallback implements the core's answer_callback outbound operation.
func (a *Adapter) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	_, err := a.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID, Text: text, ShowAlert: alert,
	})
	if err != nil {
		return model.Wrap(model.KindTransient, err, "answer callback %s", callbackID)
	}
	return nil
}

// NotifyCreator implements orchestrator.Notifier: a DM to the event
// creator's chat identity.
func (a *Adapter) NotifyCreator(ctx context.Context, event model.Event, text string) error {
	row, ok, err := a.store.Get(ctx, model.TableUsers, "user_id", event.CreatorUserID)
	if err != nil {
		return fmt.Errorf("chatadapter: load creator: %w", err)
	}
	if !ok {
		return model.Errorf(model.KindNotFound, "creator %s not found", event.CreatorUserID)
	}
	_, err = a.SendMessage(ctx, row.(model.User).ChatIdentity, nil, text, nil)
	return err
}

// BroadcastToEventChats implements reminder.Outbound: a message to the one
// chat (if any) associated with eventID, provided its EventChat reminders
// are still enabled.
func (a *Adapter) BroadcastToEventChats(ctx context.Context, eventID, text string) error {
	row, ok, err := a.store.Get(ctx, model.TableEventChats, "event_id", eventID)
	if err != nil {
		return fmt.Errorf("chatadapter: load event chat: %w", err)
	}
	if !ok {
		return nil
	}
	ec := row.(model.EventChat)
	if !ec.RemindersEnabled {
		return nil
	}
	_, err = a.SendMessage(ctx, ec.ChatID, ec.ThreadID, text, nil)
	return err
}
