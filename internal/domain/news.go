package domain

import "time"

// Sentinel source identifiers for items that do not come from a configured channel.
const (
	SourceWebSearch    = "web_search"
	SourceWebSearchURL = "web_search_url"
)

// DefaultTag marks every item produced by this pipeline for downstream readers.
const DefaultTag = "Air Quality"

// CandidateItem is a raw item pulled from a source channel or a search provider.
type CandidateItem struct {
	SourceID   string
	ItemID     string
	Text       string
	OccurredAt time.Time
	MediaRef   string
	Link       string
	// SearchURLs are the search hits claimed in the ledger on behalf of this item.
	SearchURLs []string
}

// SeenStatus enumerates what happened to an examined item.
type SeenStatus string

const (
	SeenExamined SeenStatus = "examined"
	SeenRejected SeenStatus = "rejected"
	SeenQueued   SeenStatus = "queued"
	SeenFailed   SeenStatus = "failed"
)

// SeenRecord is one entry of the dedup ledger.
type SeenRecord struct {
	SourceID    string
	ItemID      string
	ProcessedAt time.Time
	Status      SeenStatus
}

// ClassificationResult is the relevance verdict for a single text.
type ClassificationResult struct {
	IsRelevant bool
	Confidence float64
	Reason     string
	// Degraded is set when the verdict came from a fallback rather than the AI service.
	Degraded bool
}

// Accepted applies the relevance gate.
func (r ClassificationResult) Accepted(minConfidence float64) bool {
	return r.IsRelevant && r.Confidence >= minConfidence
}

// MessageRef points at a message posted to the moderation channel.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
	HasMedia  bool  `json:"has_media"`
}

// IsZero reports whether the reference was never filled in.
func (m MessageRef) IsZero() bool {
	return m.ChatID == 0 && m.MessageID == 0
}

// PendingModerationItem waits for a human decision.
type PendingModerationItem struct {
	PendingID     string            `json:"pending_id"`
	SourceID      string            `json:"source_id"`
	ItemID        string            `json:"item_id"`
	OriginalText  string            `json:"original_text"`
	RewrittenText string            `json:"rewritten_text"`
	Translations  map[string]string `json:"translations"`
	Confidence    float64           `json:"confidence"`
	Tag           string            `json:"tag"`
	Link          string            `json:"link,omitempty"`
	MediaRef      string            `json:"media_ref,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	Message       MessageRef        `json:"message"`
}

// PublishedNewsItem is the record downstream readers consume from the document store.
type PublishedNewsItem struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Summary      string            `json:"summary"`
	Translations map[string]string `json:"translations"`
	Source       string            `json:"source"`
	Tag          string            `json:"tag"`
	Link         string            `json:"originalLink,omitempty"`
	PublishedAt  time.Time         `json:"published_at"`
}

// DecisionAction is the moderator's choice.
type DecisionAction string

const (
	ActionApprove DecisionAction = "approve"
	ActionReject  DecisionAction = "reject"
)

// DecisionEvent is delivered by the moderation channel when a button is pressed.
type DecisionEvent struct {
	Action     DecisionAction
	PendingID  string
	Message    MessageRef
	CallbackID string
}

// CycleReport summarises one pipeline run.
type CycleReport struct {
	Polled     int
	Fallback   bool
	Examined   int
	Rejected   int
	Queued     int
	Failed     int
	Released   int
	StartedAt  time.Time
	FinishedAt time.Time
}
