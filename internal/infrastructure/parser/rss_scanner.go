package parser

import (
	"cmp"
	"context"
	"fmt"
	"html"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"AirQualityNews/internal/domain"
	"AirQualityNews/internal/scanner"
)

// RSSScanner reads RSS and Atom feeds.
type RSSScanner struct {
	client *http.Client
	policy *bluemonday.Policy
}

var _ scanner.Scanner = (*RSSScanner)(nil)

// NewRSSScanner wires an HTTP client for feed downloads.
func NewRSSScanner(client *http.Client) *RSSScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &RSSScanner{client: client, policy: bluemonday.StrictPolicy()}
}

// Name identifies the strategy inside the registry.
func (r *RSSScanner) Name() string {
	return "rss"
}

// FetchRecent downloads the feed and returns entries newer than req.Since, newest first.
func (r *RSSScanner) FetchRecent(ctx context.Context, req scanner.Request) ([]domain.CandidateItem, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("no feed url provided for source %s", req.SourceID)
	}

	feed, err := r.fetchFeed(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", req.URL, err)
	}

	entries := make([]domain.CandidateItem, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		entry, ok := r.normalizeItem(item)
		if !ok {
			continue
		}
		entry.SourceID = req.SourceID
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].OccurredAt.After(entries[j].OccurredAt)
	})

	limit := req.Limit
	if limit <= 0 {
		limit = defaultPostLimit
	}

	results := make([]domain.CandidateItem, 0, limit)
	for _, entry := range entries {
		if !req.Since.IsZero() && !entry.OccurredAt.After(req.Since) {
			break
		}
		if !req.Keep(entry) {
			continue
		}
		results = append(results, entry)
		if len(results) >= limit {
			break
		}
	}

	return results, nil
}

func (r *RSSScanner) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", telegramUserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

func (r *RSSScanner) normalizeItem(item *gofeed.Item) (domain.CandidateItem, bool) {
	id := cmp.Or(item.GUID, item.Link)
	if id == "" {
		return domain.CandidateItem{}, false
	}

	var occurredAt time.Time
	switch {
	case item.PublishedParsed != nil:
		occurredAt = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		occurredAt = item.UpdatedParsed.UTC()
	default:
		return domain.CandidateItem{}, false
	}

	body := r.plainText(cmp.Or(item.Content, item.Description))
	title := r.plainText(item.Title)
	text := title
	if body != "" && body != title {
		text = strings.TrimSpace(title + "\n\n" + body)
	}

	return domain.CandidateItem{
		ItemID:     id,
		Text:       text,
		OccurredAt: occurredAt,
		MediaRef:   imageOf(item),
		Link:       item.Link,
	}, true
}

func (r *RSSScanner) plainText(s string) string {
	return strings.TrimSpace(html.UnescapeString(r.policy.Sanitize(s)))
}

func imageOf(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}
