// Package api exposes health, metrics, the Telegram webhook and operator endpoints over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"AirQualityNews/internal/domain"
	"AirQualityNews/internal/infrastructure/telegram"
	"AirQualityNews/internal/usecase"
)

// SecretHeader carries the webhook secret Telegram echoes back on every delivery.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// CycleRunner runs one pipeline cycle on demand.
type CycleRunner interface {
	RunCycle(ctx context.Context, lookback time.Duration) (domain.CycleReport, error)
}

// PendingLister lists items awaiting a moderator decision.
type PendingLister interface {
	Pending(ctx context.Context) ([]domain.PendingModerationItem, error)
}

// HandlerDeps wires the collaborators of Handler. Nil members disable their endpoints.
type HandlerDeps struct {
	Cycles        CycleRunner
	Pending       PendingLister
	Decisions     chan<- domain.DecisionEvent
	ChatID        int64
	WebhookSecret string
	APIToken      string
	Lookback      time.Duration
	Logger        *slog.Logger
}

// Handler handles HTTP requests.
type Handler struct {
	deps    HandlerDeps
	logger  *slog.Logger
	started time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps HandlerDeps) *Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handler{deps: deps, logger: log.With("component", "api"), started: time.Now().UTC()}
}

// HealthCheck reports liveness.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "airnews",
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

type pendingView struct {
	PendingID  string    `json:"pending_id"`
	Source     string    `json:"source"`
	ItemID     string    `json:"item_id"`
	Confidence float64   `json:"confidence"`
	Text       string    `json:"text"`
	Link       string    `json:"link,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListPending returns the moderation backlog, oldest first.
func (h *Handler) ListPending(c *gin.Context) {
	if h.deps.Pending == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "moderation queue not configured"})
		return
	}

	items, err := h.deps.Pending.Pending(c.Request.Context())
	if err != nil {
		h.logger.Error("list pending", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pending items"})
		return
	}

	views := make([]pendingView, 0, len(items))
	for _, it := range items {
		views = append(views, pendingView{
			PendingID:  it.PendingID,
			Source:     it.SourceID,
			ItemID:     it.ItemID,
			Confidence: it.Confidence,
			Text:       it.RewrittenText,
			Link:       it.Link,
			CreatedAt:  it.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(views), "items": views})
}

// RequireToken rejects operator requests without the configured bearer token.
func (h *Handler) RequireToken(c *gin.Context) {
	if h.deps.APIToken == "" {
		c.Next()
		return
	}

	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(h.deps.APIToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

// RunCycle runs a cycle synchronously. The lookback query parameter overrides the configured window.
func (h *Handler) RunCycle(c *gin.Context) {
	if h.deps.Cycles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pipeline not configured"})
		return
	}

	lookback := h.deps.Lookback
	if raw := c.Query("lookback"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lookback duration"})
			return
		}
		lookback = d
	}

	// the cycle outlives a dropped client; it is bounded by the cycle timeout
	report, err := h.deps.Cycles.RunCycle(context.WithoutCancel(c.Request.Context()), lookback)
	if errors.Is(err, usecase.ErrCycleRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("manual cycle", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cycle failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"polled":      report.Polled,
		"fallback":    report.Fallback,
		"examined":    report.Examined,
		"rejected":    report.Rejected,
		"queued":      report.Queued,
		"failed":      report.Failed,
		"released":    report.Released,
		"started_at":  report.StartedAt,
		"finished_at": report.FinishedAt,
	})
}

// TelegramWebhook accepts Bot API updates and forwards button presses to the moderation queue.
func (h *Handler) TelegramWebhook(c *gin.Context) {
	if h.deps.WebhookSecret != "" && c.GetHeader(SecretHeader) != h.deps.WebhookSecret {
		c.Status(http.StatusUnauthorized)
		return
	}
	if h.deps.Decisions == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}

	update, err := telegram.ParseUpdate(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed update"})
		return
	}

	ev, ok := update.Decision(h.deps.ChatID)
	if !ok {
		c.Status(http.StatusOK)
		return
	}

	select {
	case h.deps.Decisions <- ev:
		c.Status(http.StatusOK)
	case <-c.Request.Context().Done():
		// Telegram redelivers on non-2xx
		c.Status(http.StatusServiceUnavailable)
	}
}
