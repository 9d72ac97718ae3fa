package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"AirQualityNews/internal/analysis"
	"AirQualityNews/internal/config"
	"AirQualityNews/internal/domain"
	"AirQualityNews/internal/metrics"
	"AirQualityNews/internal/ports"
)

// ErrCycleRunning is returned when a cycle is requested while another one is in flight.
var ErrCycleRunning = errors.New("pipeline cycle already running")

// Submitter hands accepted items to the moderator.
type Submitter interface {
	Submit(ctx context.Context, item domain.PendingModerationItem) (string, error)
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source     ports.SourcePoller
	Fallback   ports.Retriever
	Ledger     ports.DedupLedger
	Classifier ports.Classifier
	Rewriter   ports.Rewriter
	Queue      Submitter
	Settings   config.PipelineConfig
	Queries    []string
	Logger     *slog.Logger
}

// Pipeline implements the discover, classify, rewrite and enqueue workflow.
type Pipeline struct {
	source     ports.SourcePoller
	fallback   ports.Retriever
	ledger     ports.DedupLedger
	classifier ports.Classifier
	rewriter   ports.Rewriter
	queue      Submitter
	settings   config.PipelineConfig
	queries    []string
	logger     *slog.Logger
	now        func() time.Time

	running sync.Mutex
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if deps.Settings.Tag == "" {
		deps.Settings.Tag = domain.DefaultTag
	}
	return &Pipeline{
		source:     deps.Source,
		fallback:   deps.Fallback,
		ledger:     deps.Ledger,
		classifier: deps.Classifier,
		rewriter:   deps.Rewriter,
		queue:      deps.Queue,
		settings:   deps.Settings,
		queries:    deps.Queries,
		logger:     log.With("component", "pipeline"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one cycle with the configured lookback window.
func (p *Pipeline) Run(ctx context.Context) {
	report, err := p.RunCycle(ctx, p.settings.Lookback)
	if err != nil {
		p.logger.Warn("cycle not started", "error", err)
		return
	}
	p.logger.Info("cycle finished",
		"polled", report.Polled,
		"fallback", report.Fallback,
		"examined", report.Examined,
		"rejected", report.Rejected,
		"queued", report.Queued,
		"failed", report.Failed,
		"released", report.Released,
		"duration", report.FinishedAt.Sub(report.StartedAt).String())
}

// RunCycle polls items published within lookback, falls back to web search when nothing
// new turned up and pushes every item through the per-item pipeline in order.
// Only one cycle runs at a time; collaborator failures end up in the report, not in the error.
func (p *Pipeline) RunCycle(ctx context.Context, lookback time.Duration) (domain.CycleReport, error) {
	if !p.running.TryLock() {
		return domain.CycleReport{}, ErrCycleRunning
	}
	defer p.running.Unlock()

	if p.settings.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.settings.CycleTimeout)
		defer cancel()
	}

	report := domain.CycleReport{StartedAt: p.now()}
	defer func() {
		metrics.CycleDuration.Observe(p.now().Sub(report.StartedAt).Seconds())
	}()

	since := report.StartedAt.Add(-lookback)
	var items []domain.CandidateItem
	if p.source != nil {
		items = p.source.Poll(ctx, since)
	}
	report.Polled = len(items)

	if len(items) == 0 && p.fallback != nil && ctx.Err() == nil {
		report.Fallback = true
		p.logger.Info("sources empty, running fallback search")
		items = p.fallback.Retrieve(ctx, p.queries)
	}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("cycle interrupted", "remaining", len(items)-i, "error", err)
			for _, rest := range items[i:] {
				p.releaseURLs(ctx, rest)
			}
			break
		}
		p.process(ctx, item, &report)
	}

	report.FinishedAt = p.now()
	return report, nil
}

func (p *Pipeline) process(ctx context.Context, item domain.CandidateItem, report *domain.CycleReport) {
	log := p.logger.With("source", item.SourceID, "item_id", item.ItemID)

	if p.ledger != nil {
		inserted, err := p.ledger.MarkSeen(ctx, domain.SeenRecord{
			SourceID:    item.SourceID,
			ItemID:      item.ItemID,
			ProcessedAt: p.now(),
			Status:      domain.SeenExamined,
		})
		if err != nil {
			log.Error("claim item", "error", err)
			report.Failed++
			return
		}
		if !inserted {
			log.Debug("item already examined")
			return
		}
	}
	report.Examined++

	result := p.classifier.Classify(ctx, item.Text)
	if ctx.Err() != nil {
		p.release(ctx, item, report, log)
		return
	}
	accepted := result.Accepted(p.settings.Threshold())
	metrics.RecordClassification(accepted, result.Degraded)
	if !accepted {
		log.Info("item rejected", "confidence", result.Confidence, "reason", result.Reason, "degraded", result.Degraded)
		report.Rejected++
		p.mark(ctx, item, domain.SeenRejected, log)
		return
	}

	rewritten, err := p.rewriter.Rewrite(ctx, item.Text)
	if ctx.Err() != nil {
		p.release(ctx, item, report, log)
		return
	}
	if err != nil {
		log.Error("rewrite item", "error", err)
		report.Failed++
		p.mark(ctx, item, domain.SeenFailed, log)
		return
	}

	translations := make(map[string]string, len(p.settings.Languages))
	for _, lang := range p.settings.Languages {
		if lang == analysis.SourceLanguage {
			translations[lang] = rewritten
			continue
		}
		translations[lang] = p.rewriter.Translate(ctx, rewritten, lang)
	}
	if ctx.Err() != nil {
		p.release(ctx, item, report, log)
		return
	}

	pendingID, err := p.queue.Submit(ctx, domain.PendingModerationItem{
		SourceID:      item.SourceID,
		ItemID:        item.ItemID,
		OriginalText:  item.Text,
		RewrittenText: rewritten,
		Translations:  translations,
		Confidence:    result.Confidence,
		Tag:           p.settings.Tag,
		Link:          item.Link,
		MediaRef:      item.MediaRef,
	})
	if err != nil && ctx.Err() != nil {
		p.release(ctx, item, report, log)
		return
	}
	if err != nil {
		log.Error("submit for moderation", "error", err)
		report.Failed++
		p.mark(ctx, item, domain.SeenFailed, log)
		return
	}

	report.Queued++
	p.mark(ctx, item, domain.SeenQueued, log)
	log.Info("item queued", "pending_id", pendingID, "confidence", result.Confidence)
}

func (p *Pipeline) mark(ctx context.Context, item domain.CandidateItem, status domain.SeenStatus, log *slog.Logger) {
	if p.ledger == nil {
		return
	}
	// the status is audit only, so a cancelled cycle still records it
	if err := p.ledger.UpdateStatus(context.WithoutCancel(ctx), item.SourceID, item.ItemID, status); err != nil {
		log.Warn("update seen status", "status", status, "error", err)
	}
}

// release drops the claims of an item the cycle was cancelled in the middle of,
// so the next cycle examines it again.
func (p *Pipeline) release(ctx context.Context, item domain.CandidateItem, report *domain.CycleReport, log *slog.Logger) {
	report.Released++
	log.Warn("item interrupted, claim released", "error", ctx.Err())
	if p.ledger == nil {
		return
	}
	if err := p.ledger.Release(context.WithoutCancel(ctx), item.SourceID, item.ItemID); err != nil {
		log.Warn("release item", "error", err)
	}
	p.releaseURLs(ctx, item)
}

func (p *Pipeline) releaseURLs(ctx context.Context, item domain.CandidateItem) {
	if p.ledger == nil {
		return
	}
	for _, url := range item.SearchURLs {
		if err := p.ledger.Release(context.WithoutCancel(ctx), domain.SourceWebSearchURL, url); err != nil {
			p.logger.Warn("release search url", "url", url, "error", err)
		}
	}
}
