package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"AirQualityNews/internal/analysis"
	"AirQualityNews/internal/api"
	"AirQualityNews/internal/config"
	"AirQualityNews/internal/domain"
	"AirQualityNews/internal/infrastructure/llm"
	"AirQualityNews/internal/infrastructure/parser"
	"AirQualityNews/internal/infrastructure/scheduler"
	"AirQualityNews/internal/infrastructure/search"
	"AirQualityNews/internal/infrastructure/storage"
	"AirQualityNews/internal/infrastructure/telegram"
	"AirQualityNews/internal/logging"
	"AirQualityNews/internal/moderation"
	"AirQualityNews/internal/ports"
	"AirQualityNews/internal/scanner"
	"AirQualityNews/internal/usecase"
)

const shutdownTimeout = 15 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	pipeline  *usecase.Pipeline
	sweeper   *usecase.Sweeper
	queue     *moderation.Queue
	bot       *telegram.Bot
	decisions chan domain.DecisionEvent

	closers []func() error
}

// New opens every store and builds the object graph. Call Close when done.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{
		cfg:       cfg,
		logger:    baseLogger,
		decisions: make(chan domain.DecisionEvent, 16),
	}

	ledger, err := a.openLedger()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	docs, err := a.openDocuments()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	pending, err := a.openPending()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	invoker := a.newInvoker()
	policy := llm.RetryPolicy(cfg.AI)
	classifier := analysis.NewClassifier(invoker, policy, analysis.NewHeuristic(analysis.DefaultKeywords), baseLogger)
	rewriter := analysis.NewRewriter(invoker, policy, baseLogger)

	registry := scanner.NewRegistry()
	registry.Register(parser.NewTelegramScanner(nil, ""))
	registry.Register(parser.NewRSSScanner(nil))
	source := parser.NewStrategySource(registry, cfg.Sources, ledger, baseLogger.With("component", "source"))

	providers, err := a.searchProviders()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	retriever := usecase.NewFallbackRetriever(providers, ledger, baseLogger).
		WithSynthesizer(analysis.NewSynthesizer(invoker, policy, baseLogger))

	a.bot = telegram.NewBot(cfg.Moderation, nil)
	publisher := usecase.NewPublisher(docs, cfg.Documents.Collection, baseLogger)
	a.queue = moderation.NewQueue(pending, a.bot, publisher, baseLogger)

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Source:     source,
		Fallback:   retriever,
		Ledger:     ledger,
		Classifier: classifier,
		Rewriter:   rewriter,
		Queue:      a.queue,
		Settings:   cfg.Pipeline,
		Queries:    cfg.Search.Queries,
		Logger:     baseLogger,
	})
	a.sweeper = usecase.NewSweeper(docs, cfg.Documents.Collection, baseLogger)

	return a, nil
}

// Close releases stores opened by New.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// RunCycle performs one pipeline cycle over the given lookback window.
func (a *Application) RunCycle(ctx context.Context, lookback time.Duration) (domain.CycleReport, error) {
	if lookback <= 0 {
		lookback = a.cfg.Pipeline.Lookback
	}
	return a.pipeline.RunCycle(ctx, lookback)
}

// Sweep deletes published news older than the configured retention.
func (a *Application) Sweep(ctx context.Context) (int, error) {
	return a.sweeper.Sweep(ctx, a.cfg.Pipeline.Retention)
}

// Serve runs the scheduler, the decision consumer, the update source and the HTTP
// server until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.queue.Run(ctx, a.decisions)
	}()

	if a.cfg.Moderation.Updates == config.UpdatesPolling {
		poller := telegram.NewUpdatesPoller(a.bot, a.cfg.Moderation.PollTimeout, a.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx, a.decisions)
		}()
	}

	cron := scheduler.NewCronScheduler(a.cfg.Scheduler.Location(), a.logger)
	jobs := usecase.NewScheduler(cron, a.pipeline, a.sweeper, usecase.Schedule{
		CycleSpec:  a.cfg.Scheduler.CycleSpec,
		SweepSpec:  a.cfg.Scheduler.SweepSpec,
		Retention:  a.cfg.Pipeline.Retention,
		RunOnStart: a.cfg.Scheduler.StartupRun(),
	}, a.logger)
	if err := jobs.Start(ctx); err != nil {
		cancel()
		wg.Wait()
		return err
	}

	handler := api.NewHandler(api.HandlerDeps{
		Cycles:        a.pipeline,
		Pending:       a.queue,
		Decisions:     a.webhookDecisions(),
		ChatID:        a.cfg.Moderation.ChatID,
		WebhookSecret: a.cfg.Moderation.WebhookSecret,
		APIToken:      a.cfg.HTTP.APIToken,
		Lookback:      a.cfg.Pipeline.Lookback,
		Logger:        a.logger,
	})
	srv := api.NewHTTPServer(a.cfg.HTTP.Addr, api.NewServer(handler, a.logger))

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	if err := jobs.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler shutdown", "error", err)
	}
	cancel()
	wg.Wait()

	a.logger.Info("application stopped")
	return runErr
}

func (a *Application) webhookDecisions() chan<- domain.DecisionEvent {
	if a.cfg.Moderation.Updates != config.UpdatesWebhook {
		return nil
	}
	return a.decisions
}

func (a *Application) openLedger() (*storage.Ledger, error) {
	db, err := storage.Open(a.cfg.Ledger.Driver, a.cfg.Ledger.DSN)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	version, dirty, err := storage.RunMigrations(db)
	if err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	a.logger.Info("ledger ready", "driver", a.cfg.Ledger.Driver, "schema_version", version, "dirty", dirty)
	return storage.NewLedger(db), nil
}

func (a *Application) openDocuments() (ports.DocumentStore, error) {
	switch a.cfg.Documents.Driver {
	case config.StoreElastic:
		client, err := storage.NewElasticClient(storage.ElasticConfig{
			Addresses:   a.cfg.Documents.Addresses,
			Username:    a.cfg.Documents.Username,
			Password:    a.cfg.Documents.Password,
			APIKey:      a.cfg.Documents.APIKey,
			IndexPrefix: a.cfg.Documents.IndexPrefix,
			MaxRetries:  3,
		})
		if err != nil {
			return nil, err
		}
		return storage.NewElasticStore(client, a.cfg.Documents.IndexPrefix), nil
	default:
		a.logger.Warn("published news kept in memory only", "driver", a.cfg.Documents.Driver)
		return storage.NewMemoryStore(), nil
	}
}

func (a *Application) openPending() (ports.PendingStore, error) {
	if a.cfg.Pending.Driver != config.StoreRedis {
		return moderation.NewMemoryStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Pending.RedisAddr,
		Password: a.cfg.Pending.Password,
		DB:       a.cfg.Pending.DB,
	})
	a.closers = append(a.closers, client.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", a.cfg.Pending.RedisAddr, err)
	}
	return moderation.NewRedisStore(client, a.cfg.Pending.KeyPrefix, a.logger), nil
}

func (a *Application) newInvoker() ports.Invoker {
	var inner ports.Invoker
	switch a.cfg.AI.Provider {
	case config.ProviderOpenAI:
		inner = llm.NewChatGPTClient(a.cfg.AI)
	default:
		inner = llm.NewAnthropicClient(a.cfg.AI)
	}
	return llm.NewLimited(inner, a.cfg.AI.Provider, a.cfg.AI.RequestsPerSecond, 1)
}

func (a *Application) searchProviders() ([]ports.SearchProvider, error) {
	httpClient := &http.Client{Timeout: a.cfg.Search.Timeout}

	var providers []ports.SearchProvider
	for _, pc := range a.cfg.EnabledSearchProviders() {
		p, err := search.New(pc, httpClient)
		if err != nil {
			return nil, fmt.Errorf("search provider %s: %w", pc.Name, err)
		}
		providers = append(providers, p)
	}
	a.logger.Info("fallback search chain", "providers", len(providers))
	return providers, nil
}
