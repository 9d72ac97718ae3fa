package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"AirQualityNews/internal/domain"
	"AirQualityNews/internal/metrics"
	"AirQualityNews/internal/ports"
)

// FallbackRetriever asks web-search providers for candidates when every source came back empty.
type FallbackRetriever struct {
	providers []ports.SearchProvider
	ledger    ports.DedupLedger
	synth     ports.Synthesizer
	logger    *slog.Logger
	now       func() time.Time
	seq       atomic.Uint64
}

var _ ports.Retriever = (*FallbackRetriever)(nil)

// NewFallbackRetriever keeps providers in priority order.
func NewFallbackRetriever(providers []ports.SearchProvider, ledger ports.DedupLedger, log *slog.Logger) *FallbackRetriever {
	if log == nil {
		log = slog.Default()
	}
	return &FallbackRetriever{
		providers: providers,
		ledger:    ledger,
		logger:    log.With("component", "fallback"),
		now:       time.Now,
	}
}

// WithSynthesizer makes the retriever condense fresh hits into assembled news items.
func (r *FallbackRetriever) WithSynthesizer(s ports.Synthesizer) *FallbackRetriever {
	r.synth = s
	return r
}

// Retrieve runs queries in order and stops at the first one that yields items.
// Within a query the first provider with usable results wins.
func (r *FallbackRetriever) Retrieve(ctx context.Context, queries []string) []domain.CandidateItem {
	if len(r.providers) == 0 {
		r.logger.Debug("no search providers configured")
		return nil
	}

	for _, query := range queries {
		if ctx.Err() != nil {
			return nil
		}
		if items := r.search(ctx, query); len(items) > 0 {
			return items
		}
	}

	r.logger.Info("fallback search found nothing", "queries", len(queries))
	return nil
}

func (r *FallbackRetriever) search(ctx context.Context, query string) []domain.CandidateItem {
	for _, provider := range r.providers {
		if ctx.Err() != nil {
			return nil
		}

		name := provider.Name()
		results, err := provider.Search(ctx, query)
		if err != nil {
			r.logger.Warn("search provider failed", "provider", name, "query", query, "error", err)
			continue
		}

		items := r.toItems(ctx, name, results)
		if len(items) == 0 {
			r.logger.Debug("search provider returned nothing new", "provider", name, "query", query, "results", len(results))
			continue
		}

		metrics.FallbackResults.WithLabelValues(name).Add(float64(len(items)))
		r.logger.Info("fallback search results", "provider", name, "query", query, "items", len(items))
		return items
	}
	return nil
}

func (r *FallbackRetriever) toItems(ctx context.Context, provider string, results []ports.SearchResult) []domain.CandidateItem {
	now := r.now().UTC()
	fresh := make([]ports.SearchResult, 0, len(results))
	var claimed []string
	for _, res := range results {
		if resultText(res) == "" {
			continue
		}
		if !r.claimURL(ctx, res.URL, now) {
			continue
		}
		if res.URL != "" && r.ledger != nil {
			claimed = append(claimed, res.URL)
		}
		fresh = append(fresh, res)
	}
	if len(fresh) == 0 {
		return nil
	}

	if r.synth != nil {
		news, err := r.synth.Synthesize(ctx, fresh)
		if err == nil {
			items := make([]domain.CandidateItem, 0, len(news))
			for _, n := range news {
				items = append(items, r.item(provider, n, now, claimed))
			}
			return items
		}
		r.logger.Warn("synthesis failed, using raw hits", "provider", provider, "hits", len(fresh), "error", err)
	}

	items := make([]domain.CandidateItem, 0, len(fresh))
	for _, res := range fresh {
		var urls []string
		if res.URL != "" && r.ledger != nil {
			urls = []string{res.URL}
		}
		items = append(items, r.item(provider, res, now, urls))
	}
	return items
}

func (r *FallbackRetriever) item(provider string, res ports.SearchResult, now time.Time, urls []string) domain.CandidateItem {
	return domain.CandidateItem{
		SourceID:   domain.SourceWebSearch,
		ItemID:     fmt.Sprintf("%s-%d-%d", provider, now.Unix(), r.seq.Add(1)),
		Text:       resultText(res),
		OccurredAt: now,
		MediaRef:   res.ImageURL,
		Link:       res.URL,
		SearchURLs: urls,
	}
}

// claimURL records url under the search sentinel and reports whether it is new.
func (r *FallbackRetriever) claimURL(ctx context.Context, url string, now time.Time) bool {
	if url == "" || r.ledger == nil {
		return true
	}
	inserted, err := r.ledger.MarkSeen(ctx, domain.SeenRecord{
		SourceID:    domain.SourceWebSearchURL,
		ItemID:      url,
		ProcessedAt: now,
		Status:      domain.SeenExamined,
	})
	if err != nil {
		r.logger.Warn("record search url", "url", url, "error", err)
		return true
	}
	return inserted
}

func resultText(res ports.SearchResult) string {
	title := strings.TrimSpace(res.Title)
	content := strings.TrimSpace(res.Content)
	if title == "" && content == "" {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(title)
	if content != "" && content != title {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(content)
	}
	if res.URL != "" {
		sb.WriteString("\n\nИсточник: ")
		sb.WriteString(res.URL)
	}
	return sb.String()
}
