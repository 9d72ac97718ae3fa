package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"AirQualityNews/internal/ports"
	"AirQualityNews/pkg/logger"
)

// CronScheduler runs named jobs on cron expressions.
// A job still running when its next tick fires is skipped.
type CronScheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	entries map[string]cron.EntryID
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler evaluating specs in loc.
func NewCronScheduler(loc *time.Location, log *slog.Logger) *CronScheduler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	cronLog := logger.NewCron(log, "cron")
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	ctx, cancel := context.WithCancel(context.Background())
	return &CronScheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(parser),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		parser:  parser,
		logger:  log.With("component", "scheduler"),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// Schedule registers job under name. Rescheduling a name replaces the previous entry.
func (c *CronScheduler) Schedule(spec, name string, job func(ctx context.Context)) error {
	if job == nil {
		return fmt.Errorf("job %s: nil func", name)
	}
	schedule, err := c.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("job %s: parse %q: %w", name, spec, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.entries[name]; ok {
		c.cron.Remove(id)
	}
	c.entries[name] = c.cron.Schedule(schedule, cron.FuncJob(func() {
		c.logger.Info("job triggered", "job", name)
		job(c.ctx)
	}))

	c.logger.Info("job scheduled", "job", name, "spec", spec, "next_run", schedule.Next(time.Now()).Format(time.RFC3339))
	return nil
}

// Start begins firing scheduled jobs. Jobs receive a context cancelled by Stop or by ctx.
func (c *CronScheduler) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	c.started = true

	parent := c.ctx
	go func() {
		select {
		case <-ctx.Done():
			c.cancel()
		case <-parent.Done():
		}
	}()

	c.cron.Start()
	return nil
}

// Stop halts the scheduler, cancels running jobs and waits for them until ctx expires.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	c.mu.Unlock()

	c.cancel()
	done := c.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}
