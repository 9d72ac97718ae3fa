package scanner

import (
	"context"
	"fmt"
	"time"

	"AirQualityNews/internal/domain"
)

// Request carries all parameters required to read one source.
type Request struct {
	SourceID string
	Channel  string
	URL      string
	// Since is the lookback cursor; items at or before it are not returned.
	Since time.Time
	// Limit caps the number of returned items; zero means the scanner default.
	Limit int
	// Skip drops items before they count toward Limit.
	Skip func(item domain.CandidateItem) bool
}

// Keep reports whether item survives the Skip filter.
func (r Request) Keep(item domain.CandidateItem) bool {
	return r.Skip == nil || !r.Skip(item)
}

// Scanner reads recent items from one kind of source channel (Telegram, RSS, etc.).
// Items are returned newest first.
type Scanner interface {
	Name() string
	FetchRecent(ctx context.Context, req Request) ([]domain.CandidateItem, error)
}

// Registry keeps a mapping from scanner names to their implementations.
type Registry struct {
	scanners map[string]Scanner
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{scanners: map[string]Scanner{}}
}

// Register adds or replaces a scanner implementation.
func (r *Registry) Register(scanner Scanner) {
	if r.scanners == nil {
		r.scanners = map[string]Scanner{}
	}
	r.scanners[scanner.Name()] = scanner
}

// Resolve returns a scanner by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Scanner, error) {
	if scanner, ok := r.scanners[name]; ok {
		return scanner, nil
	}
	return nil, fmt.Errorf("scanner %s is not registered", name)
}
