package parser

import (
	"context"
	"log/slog"
	"time"
	"unicode"

	"AirQualityNews/internal/config"
	"AirQualityNews/internal/domain"
	"AirQualityNews/internal/metrics"
	"AirQualityNews/internal/ports"
	"AirQualityNews/internal/scanner"
)

// minTextRunes is the shortest post (ignoring whitespace) worth classifying.
const minTextRunes = 10

// StrategySource implements SourcePoller via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	sources  []config.SourceConfig
	ledger   ports.DedupLedger
	logger   *slog.Logger
}

var _ ports.SourcePoller = (*StrategySource)(nil)

// NewStrategySource wires scanner registry with config-defined sources and the dedup ledger.
func NewStrategySource(reg *scanner.Registry, sources []config.SourceConfig, ledger ports.DedupLedger, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		sources:  sources,
		ledger:   ledger,
		logger:   log,
	}
}

// Poll reads the configured sources.
func (s *StrategySource) Poll(ctx context.Context, since time.Time) []domain.CandidateItem {
	return s.PollSources(ctx, s.sources, since)
}

// PollSources reads sources in order and returns items not yet in the ledger.
// A failing source is logged and skipped.
func (s *StrategySource) PollSources(ctx context.Context, sources []config.SourceConfig, since time.Time) []domain.CandidateItem {
	if s.registry == nil {
		s.warn("scanner registry is not configured")
		return nil
	}

	s.debug("poll sources", "sources", len(sources), "since", since.Format(time.RFC3339))

	var aggregated []domain.CandidateItem
	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}

		sourceID := src.ID()
		strategy, err := s.registry.Resolve(src.Kind)
		if err != nil {
			metrics.SourceErrors.WithLabelValues(sourceID).Inc()
			s.warn("resolve scanner", "source", sourceID, "kind", src.Kind, "error", err)
			continue
		}

		items, err := strategy.FetchRecent(ctx, scanner.Request{
			SourceID: sourceID,
			Channel:  src.Channel,
			URL:      src.URL,
			Since:    since,
			Limit:    src.Limit,
			Skip: func(item domain.CandidateItem) bool {
				return !s.wanted(ctx, sourceID, item)
			},
		})
		if err != nil {
			metrics.SourceErrors.WithLabelValues(sourceID).Inc()
			s.warn("poll source", "source", sourceID, "error", err)
			continue
		}
		metrics.ItemsPolled.WithLabelValues(sourceID).Add(float64(len(items)))

		for _, item := range items {
			if item.SourceID == "" {
				item.SourceID = sourceID
			}
			aggregated = append(aggregated, item)
		}
		s.debug("source produced items", "source", sourceID, "new", len(items))
	}

	s.debug("strategy source done", "total_items", len(aggregated))
	return aggregated
}

// wanted filters out short and already examined items while the scanner reads,
// so seen posts never use up the source limit.
func (s *StrategySource) wanted(ctx context.Context, sourceID string, item domain.CandidateItem) bool {
	if item.SourceID == "" {
		item.SourceID = sourceID
	}
	if !substantial(item.Text) {
		return false
	}
	if s.ledger == nil {
		return true
	}
	seen, err := s.ledger.HasSeen(ctx, item.SourceID, item.ItemID)
	if err != nil {
		// the pipeline's claim is authoritative, so keep the item
		s.warn("ledger lookup", "source", item.SourceID, "item_id", item.ItemID, "error", err)
		return true
	}
	return !seen
}

func substantial(text string) bool {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
			if n >= minTextRunes {
				return true
			}
		}
	}
	return false
}

func (s *StrategySource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *StrategySource) warn(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

