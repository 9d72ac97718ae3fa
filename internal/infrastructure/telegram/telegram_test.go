package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AirQualityNews/internal/config"
	"AirQualityNews/internal/domain"
	"AirQualityNews/internal/ports"
)

type recordedCall struct {
	method string
	form   map[string]string
}

type fakeAPI struct {
	mu      sync.Mutex
	calls   []recordedCall
	handler func(method string, form map[string]string) (int, string)
}

func (f *fakeAPI) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/bottest-token/") {
			http.NotFound(w, r)
			return
		}
		method := strings.TrimPrefix(r.URL.Path, "/bottest-token/")
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}

		f.mu.Lock()
		f.calls = append(f.calls, recordedCall{method: method, form: form})
		handler := f.handler
		f.mu.Unlock()

		status, body := http.StatusOK, `{"ok":true,"result":true}`
		if handler != nil {
			status, body = handler(method, form)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestBot(t *testing.T, api *fakeAPI) *Bot {
	srv := api.serve(t)
	return NewBot(config.TelegramConfig{BotToken: "test-token", ChatID: -100, APIBaseURL: srv.URL}, srv.Client())
}

func TestSendActionablePlainText(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{handler: func(string, map[string]string) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"message_id":55,"chat":{"id":-100}}}`
	}}
	bot := newTestBot(t, api)

	ref, err := bot.SendActionable(context.Background(), ports.ModerationMessage{
		Text:    "AQI 180",
		Actions: []ports.Action{{Label: "ok", ID: "approve_1"}, {Label: "no", ID: "reject_1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageRef{ChatID: -100, MessageID: 55}, ref)

	require.Len(t, api.calls, 1)
	call := api.calls[0]
	assert.Equal(t, "sendMessage", call.method)
	assert.Equal(t, "-100", call.form["chat_id"])
	assert.Equal(t, "AQI 180", call.form["text"])

	var markup struct {
		InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
	}
	require.NoError(t, json.Unmarshal([]byte(call.form["reply_markup"]), &markup))
	assert.Equal(t, [][]inlineButton{
		{{Text: "ok", CallbackData: "approve_1"}},
		{{Text: "no", CallbackData: "reject_1"}},
	}, markup.InlineKeyboard)
}

func TestSendActionableWithPhoto(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{handler: func(string, map[string]string) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"message_id":9,"chat":{"id":-100},"photo":[{}]}}`
	}}
	bot := newTestBot(t, api)

	ref, err := bot.SendActionable(context.Background(), ports.ModerationMessage{Text: "caption", MediaURL: "https://cdn.example/1.jpg"})
	require.NoError(t, err)
	assert.True(t, ref.HasMedia)

	require.Len(t, api.calls, 1)
	assert.Equal(t, "sendPhoto", api.calls[0].method)
	assert.Equal(t, "https://cdn.example/1.jpg", api.calls[0].form["photo"])
	assert.Equal(t, "caption", api.calls[0].form["caption"])
}

func TestSendActionableFallsBackToTextWhenPhotoRefused(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{handler: func(method string, _ map[string]string) (int, string) {
		if method == "sendPhoto" {
			return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: wrong file identifier"}`
		}
		return http.StatusOK, `{"ok":true,"result":{"message_id":10,"chat":{"id":-100}}}`
	}}
	bot := newTestBot(t, api)

	ref, err := bot.SendActionable(context.Background(), ports.ModerationMessage{Text: "caption", MediaURL: "https://broken/x.jpg"})
	require.NoError(t, err)
	assert.False(t, ref.HasMedia)
	assert.Equal(t, int64(10), ref.MessageID)
	require.Len(t, api.calls, 2)
	assert.Equal(t, "sendMessage", api.calls[1].method)
}

func TestAppendStatusEditsTextOrCaption(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	bot := newTestBot(t, api)
	ctx := context.Background()

	require.NoError(t, bot.AppendStatus(ctx, domain.MessageRef{ChatID: -100, MessageID: 3}, "body", "✅"))
	require.NoError(t, bot.AppendStatus(ctx, domain.MessageRef{ChatID: -100, MessageID: 4, HasMedia: true}, "body", "❌"))

	require.Len(t, api.calls, 2)
	assert.Equal(t, "editMessageText", api.calls[0].method)
	assert.Equal(t, "body\n\n✅", api.calls[0].form["text"])
	assert.Equal(t, "3", api.calls[0].form["message_id"])
	assert.Equal(t, "editMessageCaption", api.calls[1].method)
	assert.Equal(t, "body\n\n❌", api.calls[1].form["caption"])
}

func TestDeleteAndAcknowledge(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	bot := newTestBot(t, api)
	ctx := context.Background()

	require.NoError(t, bot.Delete(ctx, domain.MessageRef{MessageID: 8}))
	require.NoError(t, bot.Acknowledge(ctx, "cb-7"))

	require.Len(t, api.calls, 2)
	assert.Equal(t, "deleteMessage", api.calls[0].method)
	assert.Equal(t, "-100", api.calls[0].form["chat_id"])
	assert.Equal(t, "answerCallbackQuery", api.calls[1].method)
	assert.Equal(t, "cb-7", api.calls[1].form["callback_query_id"])
}

func TestAPIErrorIsReturned(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{handler: func(string, map[string]string) (int, string) {
		return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"message to delete not found"}`
	}}
	bot := newTestBot(t, api)

	err := bot.Delete(context.Background(), domain.MessageRef{ChatID: -100, MessageID: 1})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "deleteMessage", apiErr.Method)
	assert.Equal(t, 400, apiErr.Code)
}

func TestMisconfiguredBotRefusesToSend(t *testing.T) {
	t.Parallel()

	bot := NewBot(config.TelegramConfig{}, nil)
	_, err := bot.SendActionable(context.Background(), ports.ModerationMessage{Text: "x"})
	require.Error(t, err)
}

func TestParseUpdateDecision(t *testing.T) {
	t.Parallel()

	body := `{"update_id":100,"callback_query":{"id":"cb-1","data":"reject_abc","message":{"message_id":12,"chat":{"id":-100},"photo":[{"file_id":"x"}]}}}`
	u, err := ParseUpdate(strings.NewReader(body))
	require.NoError(t, err)

	ev, ok := u.Decision(-100)
	require.True(t, ok)
	assert.Equal(t, domain.DecisionEvent{
		Action:     domain.ActionReject,
		PendingID:  "abc",
		CallbackID: "cb-1",
		Message:    domain.MessageRef{ChatID: -100, MessageID: 12, HasMedia: true},
	}, ev)

	_, ok = u.Decision(-200)
	assert.False(t, ok, "presses from other chats are ignored")

	u, err = ParseUpdate(strings.NewReader(`{"update_id":101,"message":{"message_id":1}}`))
	require.NoError(t, err)
	_, ok = u.Decision(-100)
	assert.False(t, ok)

	_, err = ParseUpdate(strings.NewReader("{"))
	require.Error(t, err)
}

func TestUpdatesPollerAdvancesOffset(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		offsets []string
	)
	api := &fakeAPI{handler: func(_ string, form map[string]string) (int, string) {
		mu.Lock()
		defer mu.Unlock()
		offsets = append(offsets, form["offset"])
		if len(offsets) == 1 {
			return http.StatusOK, `{"ok":true,"result":[
				{"update_id":7,"callback_query":{"id":"a","data":"approve_p1","message":{"message_id":1,"chat":{"id":-100}}}},
				{"update_id":8,"callback_query":{"id":"b","data":"garbage"}}
			]}`
		}
		return http.StatusOK, `{"ok":true,"result":[]}`
	}}
	bot := newTestBot(t, api)
	poller := NewUpdatesPoller(bot, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan domain.DecisionEvent, 4)
	done := make(chan struct{})
	go func() {
		poller.Run(ctx, events)
		close(done)
	}()

	select {
	case ev := <-events:
		assert.Equal(t, "p1", ev.PendingID)
		assert.Equal(t, domain.ActionApprove, ev.Action)
	case <-time.After(5 * time.Second):
		t.Fatal("no decision received")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(offsets) >= 2
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "", offsets[0])
	assert.Equal(t, "9", offsets[1])
}
