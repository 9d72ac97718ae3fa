package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"AirQualityNews/internal/domain"
	"AirQualityNews/internal/moderation"
)

const pollRetryDelay = 5 * time.Second

// Update is the part of a Bot API update the moderation flow reads.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// CallbackQuery is a moderator's button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data"`
	Message *Message `json:"message,omitempty"`
}

// ParseUpdate decodes a single update as delivered to the webhook.
func ParseUpdate(r io.Reader) (Update, error) {
	var u Update
	if err := json.NewDecoder(r).Decode(&u); err != nil {
		return Update{}, fmt.Errorf("decode update: %w", err)
	}
	return u, nil
}

// Decision turns a button press in chatID into a decision event.
// Updates without a recognised callback, or from another chat, yield false.
func (u Update) Decision(chatID int64) (domain.DecisionEvent, bool) {
	cq := u.CallbackQuery
	if cq == nil {
		return domain.DecisionEvent{}, false
	}
	action, pendingID, ok := moderation.ParseCallbackData(cq.Data)
	if !ok {
		return domain.DecisionEvent{}, false
	}

	ev := domain.DecisionEvent{Action: action, PendingID: pendingID, CallbackID: cq.ID}
	if cq.Message != nil {
		if chatID != 0 && cq.Message.Chat.ID != chatID {
			return domain.DecisionEvent{}, false
		}
		ev.Message = domain.MessageRef{
			ChatID:    cq.Message.Chat.ID,
			MessageID: cq.Message.MessageID,
			HasMedia:  len(cq.Message.Photo) > 0,
		}
	}
	return ev, true
}

// UpdatesPoller long-polls getUpdates and forwards moderator decisions.
type UpdatesPoller struct {
	bot     *Bot
	timeout time.Duration
	logger  *slog.Logger
	offset  int64
}

// NewUpdatesPoller wires the bot used for getUpdates calls.
func NewUpdatesPoller(bot *Bot, timeout time.Duration, log *slog.Logger) *UpdatesPoller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &UpdatesPoller{bot: bot, timeout: timeout, logger: log.With("component", "telegram_updates")}
}

// Run polls until ctx is done. Failed polls are logged and retried after a pause.
func (p *UpdatesPoller) Run(ctx context.Context, out chan<- domain.DecisionEvent) {
	for ctx.Err() == nil {
		updates, err := p.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("get updates", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollRetryDelay):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= p.offset {
				p.offset = u.UpdateID + 1
			}
			ev, ok := u.Decision(p.bot.ChatID())
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *UpdatesPoller) fetch(ctx context.Context) ([]Update, error) {
	form := url.Values{}
	form.Set("timeout", strconv.Itoa(int(p.timeout.Seconds())))
	form.Set("allowed_updates", `["callback_query"]`)
	if p.offset > 0 {
		form.Set("offset", strconv.FormatInt(p.offset, 10))
	}

	var updates []Update
	if err := p.bot.call(ctx, "getUpdates", form, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}
