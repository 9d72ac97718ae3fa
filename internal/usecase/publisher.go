package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"AirQualityNews/internal/analysis"
	"AirQualityNews/internal/domain"
	"AirQualityNews/internal/metrics"
	"AirQualityNews/internal/ports"
)

const (
	// NewsCollection holds published items in the document store.
	NewsCollection = "news"
	titleRunes     = 120
)

// Publisher writes approved items to the document store.
type Publisher struct {
	store      ports.DocumentStore
	collection string
	logger     *slog.Logger
	now        func() time.Time
}

var _ ports.Publisher = (*Publisher)(nil)

// NewPublisher writes into collection, "news" when empty.
func NewPublisher(store ports.DocumentStore, collection string, log *slog.Logger) *Publisher {
	if collection == "" {
		collection = NewsCollection
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		store:      store,
		collection: collection,
		logger:     log.With("component", "publisher"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Publish stores item under its pending id. Publishing the same id twice overwrites the record.
func (p *Publisher) Publish(ctx context.Context, item domain.PendingModerationItem) (domain.PublishedNewsItem, error) {
	summary := strings.TrimSpace(item.Translations[analysis.SourceLanguage])
	if summary == "" {
		summary = strings.TrimSpace(item.RewrittenText)
	}
	tag := item.Tag
	if tag == "" {
		tag = domain.DefaultTag
	}

	record := domain.PublishedNewsItem{
		ID:           item.PendingID,
		Title:        Title(summary),
		Summary:      summary,
		Translations: item.Translations,
		Source:       item.SourceID,
		Tag:          tag,
		Link:         item.Link,
		PublishedAt:  p.now(),
	}

	if err := p.store.Put(ctx, p.collection, record.ID, record); err != nil {
		return domain.PublishedNewsItem{}, fmt.Errorf("put %s/%s: %w", p.collection, record.ID, err)
	}

	metrics.Published.Inc()
	p.logger.Info("news published", "pending_id", record.ID, "source", record.Source)
	return record, nil
}

// Title returns the first sentence of text, cut to 120 runes.
func Title(text string) string {
	text = strings.TrimSpace(text)
	if line, _, ok := strings.Cut(text, "\n"); ok {
		text = strings.TrimSpace(line)
	}

	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		rest := text[i+utf8.RuneLen(r):]
		next, _ := utf8.DecodeRuneInString(rest)
		if rest == "" || unicode.IsSpace(next) {
			text = text[:i+utf8.RuneLen(r)]
			break
		}
	}

	if utf8.RuneCountInString(text) <= titleRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:titleRunes-1])) + "…"
}
