package ports

import (
	"context"
	"time"

	"AirQualityNews/internal/domain"
)

// SourcePoller pulls unseen items from the configured source channels.
type SourcePoller interface {
	Poll(ctx context.Context, since time.Time) []domain.CandidateItem
}

// DedupLedger remembers every (source, item) pair the pipeline has examined.
type DedupLedger interface {
	HasSeen(ctx context.Context, sourceID, itemID string) (bool, error)
	MarkSeen(ctx context.Context, record domain.SeenRecord) (bool, error)
	UpdateStatus(ctx context.Context, sourceID, itemID string, status domain.SeenStatus) error
	// Release drops a claim so the item is examined again on the next cycle.
	Release(ctx context.Context, sourceID, itemID string) error
}

// SearchResult is one hit returned by a fallback search provider.
type SearchResult struct {
	Title    string
	Content  string
	URL      string
	ImageURL string
}

// SearchProvider is one entry of the fallback chain.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// Synthesizer assembles news items out of raw search hits.
type Synthesizer interface {
	Synthesize(ctx context.Context, hits []SearchResult) ([]SearchResult, error)
}

// Retriever produces candidates when the primary sources are exhausted.
type Retriever interface {
	Retrieve(ctx context.Context, queries []string) []domain.CandidateItem
}

// Prompt is a single request to the AI text service.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
}

// Invoker calls the external AI text service.
type Invoker interface {
	Invoke(ctx context.Context, prompt Prompt) (string, error)
}

// Classifier scores relevance of a text.
type Classifier interface {
	Classify(ctx context.Context, text string) domain.ClassificationResult
}

// Rewriter rephrases and translates accepted texts.
type Rewriter interface {
	Rewrite(ctx context.Context, text string) (string, error)
	Translate(ctx context.Context, text, lang string) string
}

// Action is a button offered to the moderator.
type Action struct {
	Label string
	ID    string
}

// ModerationMessage is the content of an actionable moderation message.
type ModerationMessage struct {
	Text     string
	MediaURL string
	Actions  []Action
}

// ModerationChannel delivers items to the human moderator.
type ModerationChannel interface {
	SendActionable(ctx context.Context, msg ModerationMessage) (domain.MessageRef, error)
	AppendStatus(ctx context.Context, ref domain.MessageRef, original, status string) error
	Delete(ctx context.Context, ref domain.MessageRef) error
	Acknowledge(ctx context.Context, callbackID string) error
}

// PendingStore holds items awaiting a decision. Take must remove atomically.
// Update replaces an entry only while it is still pending.
type PendingStore interface {
	Put(ctx context.Context, item domain.PendingModerationItem) error
	Update(ctx context.Context, item domain.PendingModerationItem) (bool, error)
	Take(ctx context.Context, pendingID string) (domain.PendingModerationItem, bool, error)
	List(ctx context.Context) ([]domain.PendingModerationItem, error)
}

// Publisher writes approved items to the document store.
type Publisher interface {
	Publish(ctx context.Context, item domain.PendingModerationItem) (domain.PublishedNewsItem, error)
}

// OlderThan selects documents whose Field timestamp is strictly before Before.
type OlderThan struct {
	Field  string
	Before time.Time
}

// DocumentStore is the shared store read by downstream consumers.
type DocumentStore interface {
	Put(ctx context.Context, collection, id string, record any) error
	DeleteWhere(ctx context.Context, collection string, predicate OlderThan) (int, error)
}

// Scheduler controls when jobs execute.
type Scheduler interface {
	Schedule(spec, name string, job func(ctx context.Context)) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
