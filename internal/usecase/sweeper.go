package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"AirQualityNews/internal/metrics"
	"AirQualityNews/internal/ports"
)

// Sweeper removes published news past the retention horizon.
type Sweeper struct {
	store      ports.DocumentStore
	collection string
	logger     *slog.Logger
	now        func() time.Time
}

// NewSweeper deletes from collection, "news" when empty.
func NewSweeper(store ports.DocumentStore, collection string, log *slog.Logger) *Sweeper {
	if collection == "" {
		collection = NewsCollection
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:      store,
		collection: collection,
		logger:     log.With("component", "sweeper"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Sweep deletes documents published strictly before now - horizon.
func (s *Sweeper) Sweep(ctx context.Context, horizon time.Duration) (int, error) {
	cutoff := s.now().Add(-horizon)
	deleted, err := s.store.DeleteWhere(ctx, s.collection, ports.OlderThan{Field: "published_at", Before: cutoff})
	if err != nil {
		return 0, fmt.Errorf("sweep %s: %w", s.collection, err)
	}

	metrics.Swept.Add(float64(deleted))
	s.logger.Info("retention sweep done", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	return deleted, nil
}
