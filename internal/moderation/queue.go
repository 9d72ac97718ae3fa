// Package moderation routes candidate news through a human approve/reject step.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"AirQualityNews/internal/domain"
	"AirQualityNews/internal/metrics"
	"AirQualityNews/internal/ports"
)

// ErrNotFound is returned for decisions on items that are no longer pending.
var ErrNotFound = errors.New("pending item not found")

// Status lines appended to the moderation message.
const (
	StatusPublished = "✅ ОПУБЛИКОВАНО"
	StatusRejected  = "❌ ОТКЛОНЕНО"
)

const (
	approveLabel   = "✅ Запостить"
	rejectLabel    = "❌ Отклонить"
	previewRunes   = 400
	callbackSep    = "_"
	messageHeading = "🆕 Новость о качестве воздуха"
)

// Queue owns pending items between submission and the moderator's decision.
type Queue struct {
	store     ports.PendingStore
	channel   ports.ModerationChannel
	publisher ports.Publisher
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewQueue wires the pending store, the moderation channel and the publisher.
func NewQueue(store ports.PendingStore, channel ports.ModerationChannel, publisher ports.Publisher, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		store:     store,
		channel:   channel,
		publisher: publisher,
		logger:    log.With("component", "moderation"),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.NewString() },
	}
}

// Submit stores item under a fresh id and posts it to the moderator.
// If the message cannot be sent the entry is removed again.
func (q *Queue) Submit(ctx context.Context, item domain.PendingModerationItem) (string, error) {
	item.PendingID = q.newID()
	item.CreatedAt = q.now()
	item.Message = domain.MessageRef{}

	if err := q.store.Put(ctx, item); err != nil {
		return "", fmt.Errorf("store pending item: %w", err)
	}

	ref, err := q.channel.SendActionable(ctx, ports.ModerationMessage{
		Text:     FormatMessage(item),
		MediaURL: item.MediaRef,
		Actions: []ports.Action{
			{Label: approveLabel, ID: CallbackData(domain.ActionApprove, item.PendingID)},
			{Label: rejectLabel, ID: CallbackData(domain.ActionReject, item.PendingID)},
		},
	})
	if err != nil {
		if _, _, takeErr := q.store.Take(ctx, item.PendingID); takeErr != nil {
			q.logger.Error("remove unsent pending item", "pending_id", item.PendingID, "error", takeErr)
		}
		return "", fmt.Errorf("send to moderation: %w", err)
	}

	item.Message = ref
	if _, err := q.store.Update(ctx, item); err != nil {
		q.logger.Warn("record moderation message", "pending_id", item.PendingID, "error", err)
	}

	metrics.Queued.Inc()
	q.logger.Info("submitted for moderation", "pending_id", item.PendingID, "source", item.SourceID, "item_id", item.ItemID)
	return item.PendingID, nil
}

// Decide applies one moderator decision. The entry is taken before any side effect,
// so a repeated decision for the same id returns ErrNotFound and does nothing.
func (q *Queue) Decide(ctx context.Context, ev domain.DecisionEvent) (err error) {
	defer func() { metrics.RecordDecision(string(ev.Action), err) }()

	if ev.CallbackID != "" {
		if ackErr := q.channel.Acknowledge(ctx, ev.CallbackID); ackErr != nil {
			q.logger.Debug("acknowledge callback", "pending_id", ev.PendingID, "error", ackErr)
		}
	}

	if ev.Action != domain.ActionApprove && ev.Action != domain.ActionReject {
		return fmt.Errorf("unknown action %q", ev.Action)
	}

	item, ok, err := q.store.Take(ctx, ev.PendingID)
	if err != nil {
		return fmt.Errorf("take pending item: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, ev.PendingID)
	}

	ref := item.Message
	if !ev.Message.IsZero() {
		ref = ev.Message
	}
	original := FormatMessage(item)

	switch ev.Action {
	case domain.ActionApprove:
		if _, err := q.publisher.Publish(ctx, item); err != nil {
			if putErr := q.store.Put(ctx, item); putErr != nil {
				q.logger.Error("restore pending item", "pending_id", item.PendingID, "error", putErr)
			}
			return fmt.Errorf("publish %s: %w", item.PendingID, err)
		}
		if err := q.channel.AppendStatus(ctx, ref, original, StatusPublished); err != nil {
			q.logger.Warn("mark message published", "pending_id", item.PendingID, "error", err)
		}
		q.logger.Info("approved and published", "pending_id", item.PendingID)

	case domain.ActionReject:
		if err := q.channel.Delete(ctx, ref); err != nil {
			q.logger.Warn("delete rejected message, marking instead", "pending_id", item.PendingID, "error", err)
			if err := q.channel.AppendStatus(ctx, ref, original, StatusRejected); err != nil {
				q.logger.Warn("mark message rejected", "pending_id", item.PendingID, "error", err)
			}
		}
		q.logger.Info("rejected", "pending_id", item.PendingID)
	}

	return nil
}

// Run consumes decision events until ctx is done or events is closed.
func (q *Queue) Run(ctx context.Context, events <-chan domain.DecisionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := q.Decide(ctx, ev); err != nil {
				if errors.Is(err, ErrNotFound) {
					q.logger.Info("decision for unknown item ignored", "pending_id", ev.PendingID, "action", ev.Action)
					continue
				}
				q.logger.Error("apply decision", "pending_id", ev.PendingID, "action", ev.Action, "error", err)
			}
		}
	}
}

// Pending lists items awaiting a decision.
func (q *Queue) Pending(ctx context.Context) ([]domain.PendingModerationItem, error) {
	return q.store.List(ctx)
}

// CallbackData encodes a button id as "<action>_<pending id>".
func CallbackData(action domain.DecisionAction, pendingID string) string {
	return string(action) + callbackSep + pendingID
}

// ParseCallbackData decodes a button id produced by CallbackData.
func ParseCallbackData(data string) (domain.DecisionAction, string, bool) {
	action, id, ok := strings.Cut(data, callbackSep)
	if !ok || id == "" {
		return "", "", false
	}
	switch domain.DecisionAction(action) {
	case domain.ActionApprove, domain.ActionReject:
		return domain.DecisionAction(action), id, true
	default:
		return "", "", false
	}
}

// FormatMessage renders the moderator-facing preview of an item.
func FormatMessage(item domain.PendingModerationItem) string {
	text := item.Translations["ru"]
	if text == "" {
		text = item.RewrittenText
	}

	var sb strings.Builder
	sb.WriteString(messageHeading)
	sb.WriteString("\n\n📍 ")
	sb.WriteString(item.SourceID)
	sb.WriteString("\n📊 Уверенность: ")
	sb.WriteString(strconv.FormatFloat(item.Confidence, 'f', 2, 64))
	sb.WriteString("\n\n")
	sb.WriteString(truncateRunes(text, previewRunes))
	if item.Link != "" {
		sb.WriteString("\n\n🔗 ")
		sb.WriteString(item.Link)
	}
	return sb.String()
}

func truncateRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n])) + "..."
}
