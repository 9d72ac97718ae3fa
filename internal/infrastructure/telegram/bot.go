package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"AirQualityNews/internal/config"
	"AirQualityNews/internal/domain"
	"AirQualityNews/internal/ports"
)

const (
	defaultAPIBaseURL = "https://api.telegram.org"
	captionLimit      = 1024
	messageLimit      = 4096
)

// APIError is a Bot API call answered with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Bot posts moderation messages to a single chat through the Bot API.
type Bot struct {
	token   string
	chatID  int64
	baseURL string
	client  *http.Client
}

var _ ports.ModerationChannel = (*Bot)(nil)

// NewBot registers bot token and moderation chat.
func NewBot(cfg config.TelegramConfig, client *http.Client) *Bot {
	if client == nil {
		timeout := cfg.PollTimeout + 15*time.Second
		client = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimSuffix(cfg.APIBaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	return &Bot{
		token:   cfg.BotToken,
		chatID:  cfg.ChatID,
		baseURL: baseURL,
		client:  client,
	}
}

// ChatID is the moderation chat the bot posts to.
func (b *Bot) ChatID() int64 { return b.chatID }

// Message is the part of a Bot API message the moderation flow reads.
type Message struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text    string            `json:"text"`
	Caption string            `json:"caption"`
	Photo   []json.RawMessage `json:"photo"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// SendActionable posts msg with one button per row. A photo that Telegram refuses
// is dropped and the text is sent alone.
func (b *Bot) SendActionable(ctx context.Context, msg ports.ModerationMessage) (domain.MessageRef, error) {
	if b.token == "" || b.chatID == 0 {
		return domain.MessageRef{}, fmt.Errorf("telegram bot misconfigured")
	}

	rows := make([][]inlineButton, 0, len(msg.Actions))
	for _, a := range msg.Actions {
		rows = append(rows, []inlineButton{{Text: a.Label, CallbackData: a.ID}})
	}
	markup, err := json.Marshal(map[string]any{"inline_keyboard": rows})
	if err != nil {
		return domain.MessageRef{}, fmt.Errorf("marshal keyboard: %w", err)
	}

	form := url.Values{}
	form.Set("chat_id", strconv.FormatInt(b.chatID, 10))
	form.Set("reply_markup", string(markup))

	var sent Message
	if msg.MediaURL != "" {
		photoForm := cloneValues(form)
		photoForm.Set("photo", msg.MediaURL)
		photoForm.Set("caption", truncate(msg.Text, captionLimit))
		err := b.call(ctx, "sendPhoto", photoForm, &sent)
		if err == nil {
			return domain.MessageRef{ChatID: sent.Chat.ID, MessageID: sent.MessageID, HasMedia: true}, nil
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return domain.MessageRef{}, err
		}
	}

	form.Set("text", truncate(msg.Text, messageLimit))
	if err := b.call(ctx, "sendMessage", form, &sent); err != nil {
		return domain.MessageRef{}, err
	}
	return domain.MessageRef{ChatID: sent.Chat.ID, MessageID: sent.MessageID}, nil
}

// AppendStatus rewrites the message as original + status and drops its buttons.
func (b *Bot) AppendStatus(ctx context.Context, ref domain.MessageRef, original, status string) error {
	form := b.refForm(ref)
	text := original + "\n\n" + status

	if ref.HasMedia {
		form.Set("caption", truncate(text, captionLimit))
		return b.call(ctx, "editMessageCaption", form, nil)
	}
	form.Set("text", truncate(text, messageLimit))
	return b.call(ctx, "editMessageText", form, nil)
}

// Delete removes a message from the moderation chat.
func (b *Bot) Delete(ctx context.Context, ref domain.MessageRef) error {
	return b.call(ctx, "deleteMessage", b.refForm(ref), nil)
}

// Acknowledge answers a button press without showing anything to the moderator.
func (b *Bot) Acknowledge(ctx context.Context, callbackID string) error {
	form := url.Values{}
	form.Set("callback_query_id", callbackID)
	return b.call(ctx, "answerCallbackQuery", form, nil)
}

func (b *Bot) refForm(ref domain.MessageRef) url.Values {
	chatID := ref.ChatID
	if chatID == 0 {
		chatID = b.chatID
	}
	form := url.Values{}
	form.Set("chat_id", strconv.FormatInt(chatID, 10))
	form.Set("message_id", strconv.FormatInt(ref.MessageID, 10))
	return form
}

func (b *Bot) call(ctx context.Context, method string, form url.Values, result any) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", b.baseURL, b.token, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		// the token is part of the URL, keep it out of logs
		return fmt.Errorf("telegram %s: %w", method, redact(err, b.token))
	}
	defer resp.Body.Close()

	var envelope struct {
		OK          bool            `json:"ok"`
		Result      json.RawMessage `json:"result"`
		ErrorCode   int             `json:"error_code"`
		Description string          `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("telegram %s: decode response (%s): %w", method, resp.Status, err)
	}
	if !envelope.OK {
		code := envelope.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &APIError{Method: method, Code: code, Description: envelope.Description}
	}

	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<token>"), err: err}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
