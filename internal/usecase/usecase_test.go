package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AirQualityNews/internal/config"
	"AirQualityNews/internal/domain"
	"AirQualityNews/internal/infrastructure/storage"
	"AirQualityNews/internal/moderation"
	"AirQualityNews/internal/ports"
)

type fakeSource struct {
	mu    sync.Mutex
	items []domain.CandidateItem
	polls int
}

func (f *fakeSource) Poll(context.Context, time.Time) []domain.CandidateItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return f.items
}

type fakeRetriever struct {
	calls int
	items []domain.CandidateItem
}

func (f *fakeRetriever) Retrieve(context.Context, []string) []domain.CandidateItem {
	f.calls++
	return f.items
}

type fixedClassifier struct {
	result domain.ClassificationResult
}

func (c fixedClassifier) Classify(context.Context, string) domain.ClassificationResult {
	return c.result
}

type echoRewriter struct {
	err error
}

func (r echoRewriter) Rewrite(_ context.Context, text string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return text, nil
}

func (r echoRewriter) Translate(_ context.Context, text, lang string) string {
	return lang + ": " + text
}

type recordingQueue struct {
	mu    sync.Mutex
	items []domain.PendingModerationItem
	err   error
}

func (q *recordingQueue) Submit(_ context.Context, item domain.PendingModerationItem) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.items = append(q.items, item)
	return fmt.Sprintf("p-%d", len(q.items)), nil
}

type silentChannel struct {
	mu     sync.Mutex
	sent   int
	nextID int64
}

func (c *silentChannel) SendActionable(context.Context, ports.ModerationMessage) (domain.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent++
	c.nextID++
	return domain.MessageRef{ChatID: -1, MessageID: c.nextID}, nil
}

func (c *silentChannel) AppendStatus(context.Context, domain.MessageRef, string, string) error {
	return nil
}

func (c *silentChannel) Delete(context.Context, domain.MessageRef) error { return nil }

func (c *silentChannel) Acknowledge(context.Context, string) error { return nil }

type stubProvider struct {
	name    string
	results []ports.SearchResult
	err     error
	calls   int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Search(context.Context, string) ([]ports.SearchResult, error) {
	p.calls++
	return p.results, p.err
}

func newLedger(t *testing.T) *storage.Ledger {
	t.Helper()
	db, err := storage.Open(storage.DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, _, err = storage.RunMigrations(db)
	require.NoError(t, err)
	return storage.NewLedger(db)
}

func settings() config.PipelineConfig {
	return config.PipelineConfig{
		Lookback:     3 * time.Hour,
		Languages:    []string{"ru", "uz", "en"},
		CycleTimeout: time.Minute,
		Tag:          domain.DefaultTag,
	}
}

func candidate(id string) domain.CandidateItem {
	return domain.CandidateItem{
		SourceID:   "@tashkent_air",
		ItemID:     id,
		Text:       "AQI в Ташкенте достиг 180 " + id,
		OccurredAt: time.Date(2025, 11, 8, 10, 0, 0, 0, time.UTC),
		Link:       "https://t.me/tashkent_air/" + id,
	}
}

func TestRunCycleTwiceQueuesOnce(t *testing.T) {
	t.Parallel()

	ledger := newLedger(t)
	source := &fakeSource{items: []domain.CandidateItem{candidate("1")}}
	channel := &silentChannel{}
	queue := moderation.NewQueue(moderation.NewMemoryStore(), channel, nil, nil)

	p := NewPipeline(PipelineDeps{
		Source:     source,
		Ledger:     ledger,
		Classifier: fixedClassifier{domain.ClassificationResult{IsRelevant: true, Confidence: 0.9}},
		Rewriter:   echoRewriter{},
		Queue:      queue,
		Settings:   settings(),
	})

	ctx := context.Background()
	first, err := p.RunCycle(ctx, time.Hour)
	require.NoError(t, err)
	second, err := p.RunCycle(ctx, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Queued)
	assert.Equal(t, 0, second.Examined)
	assert.Equal(t, 1, channel.sent)

	count, err := ledger.Count(ctx, "@tashkent_air")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	rec, ok, err := ledger.Get(ctx, "@tashkent_air", "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.SeenQueued, rec.Status)
}

func TestLowConfidenceIsSeenButNeverQueued(t *testing.T) {
	t.Parallel()

	ledger := newLedger(t)
	queue := &recordingQueue{}
	p := NewPipeline(PipelineDeps{
		Source:     &fakeSource{items: []domain.CandidateItem{candidate("7")}},
		Ledger:     ledger,
		Classifier: fixedClassifier{domain.ClassificationResult{IsRelevant: true, Confidence: 0.59}},
		Rewriter:   echoRewriter{},
		Queue:      queue,
		Settings:   settings(),
	})

	report, err := p.RunCycle(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rejected)
	assert.Empty(t, queue.items)

	rec, ok, err := ledger.Get(context.Background(), "@tashkent_air", "7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.SeenRejected, rec.Status)
}

func TestDegradedClassificationIsRejectedAndSeen(t *testing.T) {
	t.Parallel()

	ledger := newLedger(t)
	queue := &recordingQueue{}
	p := NewPipeline(PipelineDeps{
		Source:     &fakeSource{items: []domain.CandidateItem{candidate("8")}},
		Ledger:     ledger,
		Classifier: fixedClassifier{domain.ClassificationResult{Reason: "api error", Degraded: true}},
		Rewriter:   echoRewriter{},
		Queue:      queue,
		Settings:   settings(),
	})

	_, err := p.RunCycle(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Empty(t, queue.items)

	seen, err := ledger.HasSeen(context.Background(), "@tashkent_air", "8")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestFallbackRunsOnlyWhenSourcesEmpty(t *testing.T) {
	t.Parallel()

	classifier := fixedClassifier{domain.ClassificationResult{IsRelevant: true, Confidence: 0.8}}

	fallback := &fakeRetriever{}
	p := NewPipeline(PipelineDeps{
		Source:     &fakeSource{items: []domain.CandidateItem{candidate("1")}},
		Fallback:   fallback,
		Classifier: classifier,
		Rewriter:   echoRewriter{},
		Queue:      &recordingQueue{},
		Settings:   settings(),
	})
	report, err := p.RunCycle(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.False(t, report.Fallback)
	assert.Zero(t, fallback.calls)

	fallback = &fakeRetriever{}
	p = NewPipeline(PipelineDeps{
		Source:     &fakeSource{},
		Fallback:   fallback,
		Classifier: classifier,
		Rewriter:   echoRewriter{},
		Queue:      &recordingQueue{},
		Settings:   settings(),
	})
	report, err = p.RunCycle(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.True(t, report.Fallback)
	assert.Equal(t, 1, fallback.calls)
}

func TestTranslationsUseRewrittenTextForSourceLanguage(t *testing.T) {
	t.Parallel()

	queue := &recordingQueue{}
	item := candidate("3")
	item.MediaRef = "https://cdn.example/3.jpg"
	p := NewPipeline(PipelineDeps{
		Source:     &fakeSource{items: []domain.CandidateItem{item}},
		Classifier: fixedClassifier{domain.ClassificationResult{IsRelevant: true, Confidence: 0.75}},
		Rewriter:   echoRewriter{},
		Queue:      queue,
		Settings:   settings(),
	})

	_, err := p.RunCycle(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Len(t, queue.items, 1)

	got := queue.items[0]
	assert.Equal(t, item.Text, got.Translations["ru"])
	assert.Equal(t, "uz: "+item.Text, got.Translations["uz"])
	assert.Equal(t, "en: "+item.Text, got.Translations["en"])
	assert.Equal(t, 0.75, got.Confidence)
	assert.Equal(t, domain.DefaultTag, got.Tag)
	assert.Equal(t, item.MediaRef, got.MediaRef)
	assert.Equal(t, item.Link, got.Link)
}

func TestRewriteAndSubmitFailuresAreIsolated(t *testing.T) {
	t.Parallel()

	ledger := newLedger(t)
	p := NewPipeline(PipelineDeps{
		Source:     &fakeSource{items: []domain.CandidateItem{candidate("1"), candidate("2")}},
		Ledger:     ledger,
		Classifier: fixedClassifier{domain.ClassificationResult{IsRelevant: true, Confidence: 0.9}},
		Rewriter:   echoRewriter{err: errors.New("service down")},
		Queue:      &recordingQueue{},
		Settings:   settings(),
	})

	report, err := p.RunCycle(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Examined)
	assert.Equal(t, 2, report.Failed)

	rec, _, err := ledger.Get(context.Background(), "@tashkent_air", "2")
	require.NoError(t, err)
	assert.Equal(t, domain.SeenFailed, rec.Status)

	p = NewPipeline(PipelineDeps{
		Source:     &fakeSource{items: []domain.CandidateItem{candidate("9")}},
		Classifier: fixedClassifier{domain.ClassificationResult{IsRelevant: true, Confidence: 0.9}},
		Rewriter:   echoRewriter{},
		Queue:      &recordingQueue{err: errors.New("chat not found")},
		Settings:   settings(),
	})
	report, err = p.RunCycle(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Queued)
}

func TestCancelledCycleStopsBetweenItems(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	queue := &cancellingQueue{cancel: cancel}
	p := NewPipeline(PipelineDeps{
		Source:     &fakeSource{items: []domain.CandidateItem{candidate("1"), candidate("2"), candidate("3")}},
		Classifier: fixedClassifier{domain.ClassificationResult{IsRelevant: true, Confidence: 0.9}},
		Rewriter:   echoRewriter{},
		Queue:      queue,
		Settings:   settings(),
	})

	report, err := p.RunCycle(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Queued)
	assert.Equal(t, 1, queue.calls)
}

type cancellingQueue struct {
	cancel context.CancelFunc
	calls  int
}

func (q *cancellingQueue) Submit(context.Context, domain.PendingModerationItem) (string, error) {
	q.calls++
	q.cancel()
	return "p", nil
}

func TestOnlyOneCycleAtATime(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{})
	p := NewPipeline(PipelineDeps{
		Source:     blockingSource{entered: entered, release: release},
		Classifier: fixedClassifier{},
		Rewriter:   echoRewriter{},
		Queue:      &recordingQueue{},
		Settings:   settings(),
	})

	done := make(chan struct{})
	go func() {
		_, _ = p.RunCycle(context.Background(), time.Hour)
		close(done)
	}()
	<-entered

	_, err := p.RunCycle(context.Background(), time.Hour)
	require.ErrorIs(t, err, ErrCycleRunning)

	close(release)
	<-done
}

type blockingSource struct {
	entered chan struct{}
	release chan struct{}
}

func (b blockingSource) Poll(context.Context, time.Time) []domain.CandidateItem {
	close(b.entered)
	<-b.release
	return nil
}

func TestFallbackRetrieverProviderOrder(t *testing.T) {
	t.Parallel()

	failing := &stubProvider{name: "tavily", err: errors.New("quota")}
	empty := &stubProvider{name: "serpapi"}
	google := &stubProvider{name: "google", results: []ports.SearchResult{
		{Title: "Smog in Tashkent", Content: "AQI 170", URL: "https://news.example/1", ImageURL: "https://news.example/1.jpg"},
	}}
	unused := &stubProvider{name: "spare", results: []ports.SearchResult{{Title: "x", URL: "https://x"}}}

	r := NewFallbackRetriever([]ports.SearchProvider{failing, empty, google, unused}, nil, nil)
	r.now = func() time.Time { return time.Unix(1762600000, 0) }

	items := r.Retrieve(context.Background(), []string{"air quality Tashkent"})
	require.Len(t, items, 1)
	assert.Zero(t, unused.calls)

	it := items[0]
	assert.Equal(t, domain.SourceWebSearch, it.SourceID)
	assert.True(t, strings.HasPrefix(it.ItemID, "google-1762600000-"), it.ItemID)
	assert.Equal(t, "Smog in Tashkent\n\nAQI 170\n\nИсточник: https://news.example/1", it.Text)
	assert.Equal(t, "https://news.example/1.jpg", it.MediaRef)
	assert.Equal(t, "https://news.example/1", it.Link)
}

func TestFallbackRetrieverStopsAtFirstProductiveQuery(t *testing.T) {
	t.Parallel()

	provider := &queryProvider{byQuery: map[string][]ports.SearchResult{
		"second": {{Title: "A", URL: "https://a"}, {Title: "B", URL: "https://b"}},
		"third":  {{Title: "C", URL: "https://c"}},
	}}
	r := NewFallbackRetriever([]ports.SearchProvider{provider}, nil, nil)

	items := r.Retrieve(context.Background(), []string{"first", "second", "third"})
	require.Len(t, items, 2)
	assert.NotEqual(t, items[0].ItemID, items[1].ItemID)
	assert.Equal(t, []string{"first", "second"}, provider.queries)
}

func TestFallbackRetrieverSkipsKnownURLs(t *testing.T) {
	t.Parallel()

	ledger := newLedger(t)
	provider := &stubProvider{name: "tavily", results: []ports.SearchResult{{Title: "Smog", URL: "https://news.example/1"}}}
	r := NewFallbackRetriever([]ports.SearchProvider{provider}, ledger, nil)

	require.Len(t, r.Retrieve(context.Background(), []string{"q"}), 1)
	assert.Empty(t, r.Retrieve(context.Background(), []string{"q"}))

	seen, err := ledger.HasSeen(context.Background(), domain.SourceWebSearchURL, "https://news.example/1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestFallbackRetrieverAllFailing(t *testing.T) {
	t.Parallel()

	r := NewFallbackRetriever([]ports.SearchProvider{
		&stubProvider{name: "tavily", err: errors.New("down")},
		&stubProvider{name: "serpapi", err: errors.New("down")},
	}, nil, nil)
	assert.Empty(t, r.Retrieve(context.Background(), []string{"a", "b"}))
}

type queryProvider struct {
	byQuery map[string][]ports.SearchResult
	queries []string
}

func (p *queryProvider) Name() string { return "tavily" }

func (p *queryProvider) Search(_ context.Context, query string) ([]ports.SearchResult, error) {
	p.queries = append(p.queries, query)
	return p.byQuery[query], nil
}

func TestPublisherBuildsRecord(t *testing.T) {
	t.Parallel()

	docs := storage.NewMemoryStore()
	pub := NewPublisher(docs, "", nil)
	now := time.Date(2025, 11, 8, 12, 0, 0, 0, time.UTC)
	pub.now = func() time.Time { return now }

	item := domain.PendingModerationItem{
		PendingID:     "p-1",
		SourceID:      "@daryo",
		RewrittenText: "rewritten",
		Translations:  map[string]string{"ru": "Смог над Ташкентом. AQI достиг 180.", "en": "Smog."},
		Link:          "https://t.me/daryo/5",
	}

	rec, err := pub.Publish(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, "Смог над Ташкентом.", rec.Title)
	assert.Equal(t, "Смог над Ташкентом. AQI достиг 180.", rec.Summary)
	assert.Equal(t, domain.DefaultTag, rec.Tag)

	// same id again overwrites
	_, err = pub.Publish(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, 1, docs.Len(NewsCollection))

	var stored map[string]any
	ok, err := docs.Get(NewsCollection, "p-1", &stored)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://t.me/daryo/5", stored["originalLink"])
	assert.Equal(t, now.Format(time.RFC3339), stored["published_at"])
}

func TestPublisherFallsBackToRewrittenText(t *testing.T) {
	t.Parallel()

	rec, err := NewPublisher(storage.NewMemoryStore(), "", nil).Publish(context.Background(), domain.PendingModerationItem{
		PendingID:     "p-2",
		RewrittenText: "Индекс AQI 150",
	})
	require.NoError(t, err)
	assert.Equal(t, "Индекс AQI 150", rec.Summary)
	assert.Equal(t, "Индекс AQI 150", rec.Title)
}

func TestTitle(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "AQI 2.5 выше нормы!", Title("AQI 2.5 выше нормы! Подробности ниже."))
	assert.Equal(t, "Первая строка", Title("Первая строка\nвторая"))

	long := Title(strings.Repeat("смог ", 40))
	assert.Equal(t, 120, len([]rune(long)))
	assert.True(t, strings.HasSuffix(long, "…"))
}

func TestSweepBoundary(t *testing.T) {
	t.Parallel()

	docs := storage.NewMemoryStore()
	now := time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC)
	horizon := 7 * 24 * time.Hour
	ctx := context.Background()

	put := func(id string, at time.Time) {
		require.NoError(t, docs.Put(ctx, NewsCollection, id, domain.PublishedNewsItem{ID: id, PublishedAt: at}))
	}
	put("older", now.Add(-horizon-time.Second))
	put("boundary", now.Add(-horizon))
	put("fresh", now.Add(-time.Hour))

	s := NewSweeper(docs, "", nil)
	s.now = func() time.Time { return now }

	deleted, err := s.Sweep(ctx, horizon)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 2, docs.Len(NewsCollection))

	var rec domain.PublishedNewsItem
	ok, err := docs.Get(NewsCollection, "boundary", &rec)
	require.NoError(t, err)
	assert.True(t, ok)
}

type failingDocs struct{}

func (failingDocs) Put(context.Context, string, string, any) error { return errors.New("down") }

func (failingDocs) DeleteWhere(context.Context, string, ports.OlderThan) (int, error) {
	return 0, errors.New("down")
}

func TestSweepFailureIsReturned(t *testing.T) {
	t.Parallel()

	_, err := NewSweeper(failingDocs{}, "", nil).Sweep(context.Background(), time.Hour)
	require.Error(t, err)
}

type fakeDriver struct {
	mu      sync.Mutex
	specs   map[string]string
	jobs    map[string]func(context.Context)
	started bool
	stopped bool
}

func (d *fakeDriver) Schedule(spec, name string, job func(ctx context.Context)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.specs == nil {
		d.specs = map[string]string{}
		d.jobs = map[string]func(context.Context){}
	}
	d.specs[name] = spec
	d.jobs[name] = job
	return nil
}

func (d *fakeDriver) Start(context.Context) error {
	d.started = true
	return nil
}

func (d *fakeDriver) Stop(context.Context) error {
	d.stopped = true
	return nil
}

func TestSchedulerRegistersJobsAndRunsOnStart(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	p := NewPipeline(PipelineDeps{
		Source:     source,
		Classifier: fixedClassifier{},
		Rewriter:   echoRewriter{},
		Queue:      &recordingQueue{},
		Settings:   settings(),
	})
	docs := storage.NewMemoryStore()
	driver := &fakeDriver{}

	s := NewScheduler(driver, p, NewSweeper(docs, "", nil), Schedule{
		CycleSpec:  "@every 3h",
		SweepSpec:  "0 0 * * *",
		Retention:  7 * 24 * time.Hour,
		RunOnStart: true,
	}, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, driver.started)
	assert.Equal(t, map[string]string{"cycle": "@every 3h", "sweep": "0 0 * * *"}, driver.specs)

	require.Eventually(t, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return source.polls == 1
	}, time.Second, 5*time.Millisecond)

	driver.jobs["sweep"](context.Background())
	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, driver.stopped)
}

func TestEndToEndFallbackModeration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := newLedger(t)
	docs := storage.NewMemoryStore()
	channel := &silentChannel{}
	queue := moderation.NewQueue(moderation.NewMemoryStore(), channel, NewPublisher(docs, "", nil), nil)

	provider := &stubProvider{name: "tavily", results: []ports.SearchResult{
		{Title: "Смог в Ташкенте", Content: "AQI 180", URL: "https://news.example/a"},
		{Title: "Пыльная буря", Content: "PM2.5 выше нормы", URL: "https://news.example/b"},
	}}

	p := NewPipeline(PipelineDeps{
		Source:     &fakeSource{},
		Fallback:   NewFallbackRetriever([]ports.SearchProvider{provider}, ledger, nil),
		Ledger:     ledger,
		Classifier: fixedClassifier{domain.ClassificationResult{IsRelevant: true, Confidence: 0.8}},
		Rewriter:   echoRewriter{},
		Queue:      queue,
		Settings:   settings(),
		Queries:    []string{"качество воздуха Ташкент"},
	})

	report, err := p.RunCycle(ctx, time.Hour)
	require.NoError(t, err)
	assert.True(t, report.Fallback)
	assert.Equal(t, 2, report.Queued)

	pending, err := queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.NotEqual(t, pending[0].PendingID, pending[1].PendingID)

	require.NoError(t, queue.Decide(ctx, domain.DecisionEvent{Action: domain.ActionApprove, PendingID: pending[0].PendingID}))
	assert.Equal(t, 1, docs.Len(NewsCollection))

	require.NoError(t, queue.Decide(ctx, domain.DecisionEvent{Action: domain.ActionReject, PendingID: pending[1].PendingID}))
	assert.Equal(t, 1, docs.Len(NewsCollection))

	require.ErrorIs(t, queue.Decide(ctx, domain.DecisionEvent{Action: domain.ActionApprove, PendingID: pending[0].PendingID}), moderation.ErrNotFound)
	assert.Equal(t, 1, docs.Len(NewsCollection))

	left, err := queue.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}

type stallingClassifier struct{}

func (stallingClassifier) Classify(ctx context.Context, string) domain.ClassificationResult {
	<-ctx.Done()
	return domain.ClassificationResult{Reason: "api error", Degraded: true}
}

func shortCycle() config.PipelineConfig {
	s := settings()
	s.CycleTimeout = 100 * time.Millisecond
	return s
}

func TestCycleDeadlineReleasesItemUnderClassification(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := newLedger(t)
	source := &fakeSource{items: []domain.CandidateItem{candidate("1")}}

	stalled := NewPipeline(PipelineDeps{
		Source:     source,
		Ledger:     ledger,
		Classifier: stallingClassifier{},
		Rewriter:   echoRewriter{},
		Queue:      &recordingQueue{},
		Settings:   shortCycle(),
	})
	report, err := stalled.RunCycle(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Released)
	assert.Zero(t, report.Rejected)

	seen, err := ledger.HasSeen(ctx, "@tashkent_air", "1")
	require.NoError(t, err)
	assert.False(t, seen)

	queue := &recordingQueue{}
	healthy := NewPipeline(PipelineDeps{
		Source:     source,
		Ledger:     ledger,
		Classifier: fixedClassifier{domain.ClassificationResult{IsRelevant: true, Confidence: 0.9}},
		Rewriter:   echoRewriter{},
		Queue:      queue,
		Settings:   settings(),
	})
	report, err = healthy.RunCycle(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Examined)
	assert.Equal(t, 1, report.Queued)
	require.Len(t, queue.items, 1)

	rec, ok, err := ledger.Get(ctx, "@tashkent_air", "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.SeenQueued, rec.Status)
}

type stallingRewriter struct{}

func (stallingRewriter) Rewrite(ctx context.Context, string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (stallingRewriter) Translate(_ context.Context, text, _ string) string { return text }

func TestCycleDeadlineDuringRewriteIsNotAFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := newLedger(t)
	p := NewPipeline(PipelineDeps{
		Source:     &fakeSource{items: []domain.CandidateItem{candidate("4")}},
		Ledger:     ledger,
		Classifier: fixedClassifier{domain.ClassificationResult{IsRelevant: true, Confidence: 0.9}},
		Rewriter:   stallingRewriter{},
		Queue:      &recordingQueue{},
		Settings:   shortCycle(),
	})

	report, err := p.RunCycle(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 1, report.Released)

	seen, err := ledger.HasSeen(ctx, "@tashkent_air", "4")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestInterruptedFallbackCycleReleasesSearchURLs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := newLedger(t)
	provider := &stubProvider{name: "tavily", results: []ports.SearchResult{
		{Title: "Смог в Ташкенте", Content: "AQI 180", URL: "https://news.example/a"},
		{Title: "Пыльная буря", Content: "PM2.5 выше нормы", URL: "https://news.example/b"},
	}}
	retriever := NewFallbackRetriever([]ports.SearchProvider{provider}, ledger, nil)

	stalled := NewPipeline(PipelineDeps{
		Source:     &fakeSource{},
		Fallback:   retriever,
		Ledger:     ledger,
		Classifier: stallingClassifier{},
		Rewriter:   echoRewriter{},
		Queue:      &recordingQueue{},
		Settings:   shortCycle(),
		Queries:    []string{"q"},
	})
	report, err := stalled.RunCycle(ctx, time.Hour)
	require.NoError(t, err)
	assert.True(t, report.Fallback)
	assert.Equal(t, 1, report.Released)

	for _, url := range []string{"https://news.example/a", "https://news.example/b"} {
		seen, err := ledger.HasSeen(ctx, domain.SourceWebSearchURL, url)
		require.NoError(t, err)
		assert.False(t, seen, url)
	}

	queue := &recordingQueue{}
	healthy := NewPipeline(PipelineDeps{
		Source:     &fakeSource{},
		Fallback:   retriever,
		Ledger:     ledger,
		Classifier: fixedClassifier{domain.ClassificationResult{IsRelevant: true, Confidence: 0.9}},
		Rewriter:   echoRewriter{},
		Queue:      queue,
		Settings:   settings(),
		Queries:    []string{"q"},
	})
	report, err = healthy.RunCycle(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Queued)
}

type stubSynthesizer struct {
	news []ports.SearchResult
	err  error
	hits []ports.SearchResult
}

func (s *stubSynthesizer) Synthesize(_ context.Context, hits []ports.SearchResult) ([]ports.SearchResult, error) {
	s.hits = hits
	return s.news, s.err
}

func TestFallbackRetrieverSynthesisesFreshHits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := newLedger(t)
	_, err := ledger.MarkSeen(ctx, domain.SeenRecord{SourceID: domain.SourceWebSearchURL, ItemID: "https://news.example/old"})
	require.NoError(t, err)

	provider := &stubProvider{name: "tavily", results: []ports.SearchResult{
		{Title: "old", Content: "AQI 120", URL: "https://news.example/old"},
		{Title: "a", Content: "AQI 180", URL: "https://news.example/a", ImageURL: "https://img.example/a.jpg"},
		{Title: "b", Content: "PM2.5 75", URL: "https://news.example/b"},
	}}
	synth := &stubSynthesizer{news: []ports.SearchResult{
		{Title: "Смог в Ташкенте", Content: "AQI 180, PM2.5 75.", URL: "https://news.example/a", ImageURL: "https://img.example/a.jpg"},
		{Title: "Рекомендации", Content: "Носите маски.", URL: "https://news.example/b"},
	}}
	r := NewFallbackRetriever([]ports.SearchProvider{provider}, ledger, nil).WithSynthesizer(synth)

	items := r.Retrieve(ctx, []string{"q"})
	require.Len(t, items, 2)
	require.Len(t, synth.hits, 2)
	assert.Equal(t, "https://news.example/a", synth.hits[0].URL)

	assert.NotEqual(t, items[0].ItemID, items[1].ItemID)
	assert.Equal(t, "Смог в Ташкенте\n\nAQI 180, PM2.5 75.\n\nИсточник: https://news.example/a", items[0].Text)
	assert.Equal(t, "https://img.example/a.jpg", items[0].MediaRef)
	assert.Equal(t, []string{"https://news.example/a", "https://news.example/b"}, items[1].SearchURLs)
}

func TestFallbackRetrieverUsesRawHitsWhenSynthesisFails(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{name: "tavily", results: []ports.SearchResult{
		{Title: "a", Content: "AQI 180", URL: "https://news.example/a"},
		{Title: "b", Content: "PM2.5 75", URL: "https://news.example/b"},
	}}
	r := NewFallbackRetriever([]ports.SearchProvider{provider}, newLedger(t), nil).
		WithSynthesizer(&stubSynthesizer{err: errors.New("service down")})

	items := r.Retrieve(context.Background(), []string{"q"})
	require.Len(t, items, 2)
	assert.Equal(t, "a\n\nAQI 180\n\nИсточник: https://news.example/a", items[0].Text)
	assert.Equal(t, []string{"https://news.example/b"}, items[1].SearchURLs)
}
