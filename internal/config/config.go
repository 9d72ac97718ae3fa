package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv      = "AIRNEWS_CONFIG"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	moderationChatEnv  = "MODERATION_CHAT_ID"
	anthropicAPIKeyEnv = "ANTHROPIC_API_KEY"
	openAIAPIKeyEnv    = "OPENAI_API_KEY"
	tavilyAPIKeyEnv    = "TAVILY_API_KEY"
	serpAPIKeyEnv      = "SERP_API_KEY"
	googleAPIKeyEnv    = "GOOGLE_API_KEY"
	googleCXEnv        = "GOOGLE_CX"
	ledgerDSNEnv       = "LEDGER_DSN"
	elasticURLEnv      = "ELASTICSEARCH_URL"
	redisAddrEnv       = "REDIS_ADDR"
	channelsEnv        = "CHANNELS_TO_MONITOR"
	minConfidenceEnv   = "MIN_CONFIDENCE"
	apiTokenEnv        = "AIRNEWS_API_TOKEN"
)

// Store drivers and source kinds understood by the application.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"

	StoreElastic = "elasticsearch"
	StoreMemory  = "memory"
	StoreRedis   = "redis"

	SourceTelegram = "telegram"
	SourceRSS      = "rss"

	SearchTavily  = "tavily"
	SearchSerpAPI = "serpapi"
	SearchGoogle  = "google"

	UpdatesPolling = "polling"
	UpdatesWebhook = "webhook"
	UpdatesNone    = "none"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging    LoggingConfig   `yaml:"logging"`
	HTTP       HTTPConfig      `yaml:"http"`
	Ledger     LedgerConfig    `yaml:"ledger"`
	Documents  DocumentConfig  `yaml:"documents"`
	Pending    PendingConfig   `yaml:"pending"`
	AI         AIConfig        `yaml:"ai"`
	Moderation TelegramConfig  `yaml:"moderation"`
	Sources    []SourceConfig  `yaml:"sources"`
	Search     SearchConfig    `yaml:"search"`
	Pipeline   PipelineConfig  `yaml:"pipeline"`
	Scheduler  SchedulerConfig `yaml:"scheduler"`
}

// LoggingConfig selects slog level and handler format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HTTPConfig describes the gin listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// APIToken guards the operator endpoints under /api. Empty leaves them open.
	APIToken string `yaml:"apiToken"`
}

// LedgerConfig describes the dedup ledger database.
type LedgerConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// DocumentConfig selects the store published news lands in.
type DocumentConfig struct {
	Driver      string   `yaml:"driver"`
	Addresses   []string `yaml:"addresses"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	APIKey      string   `yaml:"apiKey"`
	IndexPrefix string   `yaml:"indexPrefix"`
	Collection  string   `yaml:"collection"`
}

// PendingConfig selects where items awaiting moderation are kept.
type PendingConfig struct {
	Driver    string `yaml:"driver"`
	RedisAddr string `yaml:"redisAddr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// AIConfig defines how to contact the classification and rewriting service.
type AIConfig struct {
	Provider          string        `yaml:"provider"`
	Endpoint          string        `yaml:"endpoint"`
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"apiKey"`
	Temperature       float64       `yaml:"temperature"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	MaxAttempts       int           `yaml:"maxAttempts"`
	RateLimitStep     time.Duration `yaml:"rateLimitStep"`
}

// TelegramConfig wires the moderation bot.
type TelegramConfig struct {
	BotToken      string        `yaml:"botToken"`
	ChatID        int64         `yaml:"chatId"`
	APIBaseURL    string        `yaml:"apiBaseUrl"`
	Updates       string        `yaml:"updates"`
	WebhookSecret string        `yaml:"webhookSecret"`
	PollTimeout   time.Duration `yaml:"pollTimeout"`
}

// SourceConfig describes one monitored channel or feed.
type SourceConfig struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Channel string `yaml:"channel"`
	URL     string `yaml:"url"`
	Limit   int    `yaml:"limit"`
}

// ID is the ledger source id of the source.
func (s SourceConfig) ID() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Channel != "" {
		return "@" + strings.TrimPrefix(s.Channel, "@")
	}
	return s.URL
}

// SearchConfig lists fallback providers in priority order and the queries to run.
type SearchConfig struct {
	Providers []SearchProviderConfig `yaml:"providers"`
	Queries   []string               `yaml:"queries"`
	Timeout   time.Duration          `yaml:"timeout"`
}

// SearchProviderConfig enables one fallback provider.
type SearchProviderConfig struct {
	Name     string `yaml:"name"`
	APIKey   string `yaml:"apiKey"`
	CX       string `yaml:"cx"`
	Endpoint string `yaml:"endpoint"`
	Results  int    `yaml:"results"`
}

// PipelineConfig holds cycle parameters.
type PipelineConfig struct {
	MinConfidence *float64      `yaml:"minConfidence"`
	Lookback      time.Duration `yaml:"lookback"`
	Languages     []string      `yaml:"languages"`
	CycleTimeout  time.Duration `yaml:"cycleTimeout"`
	Retention     time.Duration `yaml:"retention"`
	Tag           string        `yaml:"tag"`
}

// DefaultMinConfidence is the acceptance threshold when none is configured.
const DefaultMinConfidence = 0.6

// Threshold returns the configured acceptance threshold. An explicit 0 accepts every relevant item.
func (p PipelineConfig) Threshold() float64 {
	if p.MinConfidence == nil {
		return DefaultMinConfidence
	}
	return *p.MinConfidence
}

// SchedulerConfig defines when cycles and sweeps run.
type SchedulerConfig struct {
	CycleSpec  string         `yaml:"cycleSpec"`
	SweepSpec  string         `yaml:"sweepSpec"`
	RunOnStart *bool          `yaml:"runOnStart"`
	Timezone   string         `yaml:"timezone"`
	location   *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	return time.UTC
}

// StartupRun reports whether a cycle should run as soon as the scheduler starts.
func (s SchedulerConfig) StartupRun() bool {
	return s.RunOnStart == nil || *s.RunOnStart
}

// Load reads YAML configuration (if present) and applies environment overrides.
// path wins over AIRNEWS_CONFIG when both are set.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg = mergeConfig(cfg, fileCfg)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return cfg, err
	}
	cfg.bindTimezone()

	return cfg, nil
}

// Validate reports configuration errors the service cannot start with.
func (c Config) Validate() error {
	var errs []error

	if c.Moderation.BotToken == "" {
		errs = append(errs, errors.New("moderation.botToken is required"))
	}
	if c.Moderation.ChatID == 0 {
		errs = append(errs, errors.New("moderation.chatId is required"))
	}
	switch c.Moderation.Updates {
	case UpdatesPolling, UpdatesWebhook, UpdatesNone:
	default:
		errs = append(errs, fmt.Errorf("moderation.updates: unknown mode %q", c.Moderation.Updates))
	}

	switch c.AI.Provider {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("ai.provider: unknown provider %q", c.AI.Provider))
	}
	if c.AI.APIKey == "" {
		errs = append(errs, errors.New("ai.apiKey is required"))
	}
	if c.AI.Model == "" {
		errs = append(errs, errors.New("ai.model is required"))
	}

	switch c.Ledger.Driver {
	case LedgerSQLite, LedgerPostgres:
	default:
		errs = append(errs, fmt.Errorf("ledger.driver: unknown driver %q", c.Ledger.Driver))
	}
	if c.Ledger.DSN == "" {
		errs = append(errs, errors.New("ledger.dsn is required"))
	}

	switch c.Documents.Driver {
	case StoreMemory:
	case StoreElastic:
		if len(c.Documents.Addresses) == 0 {
			errs = append(errs, errors.New("documents.addresses is required for elasticsearch"))
		}
	default:
		errs = append(errs, fmt.Errorf("documents.driver: unknown driver %q", c.Documents.Driver))
	}

	switch c.Pending.Driver {
	case StoreMemory:
	case StoreRedis:
		if c.Pending.RedisAddr == "" {
			errs = append(errs, errors.New("pending.redisAddr is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("pending.driver: unknown driver %q", c.Pending.Driver))
	}

	for i, src := range c.Sources {
		switch src.Kind {
		case SourceTelegram:
			if src.Channel == "" {
				errs = append(errs, fmt.Errorf("sources[%d]: channel is required", i))
			}
		case SourceRSS:
			if src.URL == "" {
				errs = append(errs, fmt.Errorf("sources[%d]: url is required", i))
			}
		default:
			errs = append(errs, fmt.Errorf("sources[%d]: unknown kind %q", i, src.Kind))
		}
	}

	for i, p := range c.Search.Providers {
		switch p.Name {
		case SearchTavily, SearchSerpAPI, SearchGoogle:
		default:
			errs = append(errs, fmt.Errorf("search.providers[%d]: unknown provider %q", i, p.Name))
		}
	}

	if t := c.Pipeline.Threshold(); t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("pipeline.minConfidence %v is outside [0,1]", t))
	}

	return errors.Join(errs...)
}

// EnabledSearchProviders returns the configured providers that carry credentials, in order.
func (c Config) EnabledSearchProviders() []SearchProviderConfig {
	out := make([]SearchProviderConfig, 0, len(c.Search.Providers))
	for _, p := range c.Search.Providers {
		if p.APIKey == "" {
			continue
		}
		if p.Name == SearchGoogle && p.CX == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Moderation.BotToken = v
	}

	if v := os.Getenv(moderationChatEnv); v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", moderationChatEnv, err)
		}
		c.Moderation.ChatID = id
	}

	if v := os.Getenv(anthropicAPIKeyEnv); v != "" && c.AI.Provider == ProviderAnthropic {
		c.AI.APIKey = v
	}
	if v := os.Getenv(openAIAPIKeyEnv); v != "" && c.AI.Provider == ProviderOpenAI {
		c.AI.APIKey = v
	}

	if v := os.Getenv(tavilyAPIKeyEnv); v != "" {
		c.setSearchKey(SearchTavily, v, "")
	}
	if v := os.Getenv(serpAPIKeyEnv); v != "" {
		c.setSearchKey(SearchSerpAPI, v, "")
	}
	if v := os.Getenv(googleAPIKeyEnv); v != "" {
		c.setSearchKey(SearchGoogle, v, os.Getenv(googleCXEnv))
	} else if v := os.Getenv(googleCXEnv); v != "" {
		c.setSearchKey(SearchGoogle, "", v)
	}

	if v := os.Getenv(ledgerDSNEnv); v != "" {
		c.Ledger.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			c.Ledger.Driver = LedgerPostgres
		}
	}

	if v := os.Getenv(elasticURLEnv); v != "" {
		c.Documents.Driver = StoreElastic
		c.Documents.Addresses = splitList(v)
	}

	if v := os.Getenv(apiTokenEnv); v != "" {
		c.HTTP.APIToken = v
	}

	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Pending.Driver = StoreRedis
		c.Pending.RedisAddr = v
	}

	if v := os.Getenv(channelsEnv); v != "" {
		c.Sources = channelSources(splitList(v), c.Sources)
	}

	if v := os.Getenv(minConfidenceEnv); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%s: %w", minConfidenceEnv, err)
		}
		c.Pipeline.MinConfidence = &f
	}

	return nil
}

func (c *Config) setSearchKey(name, key, cx string) {
	for i := range c.Search.Providers {
		if c.Search.Providers[i].Name != name {
			continue
		}
		if key != "" {
			c.Search.Providers[i].APIKey = key
		}
		if cx != "" {
			c.Search.Providers[i].CX = cx
		}
		return
	}
	c.Search.Providers = append(c.Search.Providers, SearchProviderConfig{Name: name, APIKey: key, CX: cx})
}

// channelSources replaces every telegram source with the given channels, keeping other kinds.
func channelSources(channels []string, existing []SourceConfig) []SourceConfig {
	out := make([]SourceConfig, 0, len(channels)+len(existing))
	for _, ch := range channels {
		ch = strings.TrimPrefix(ch, "@")
		out = append(out, SourceConfig{Name: "@" + ch, Kind: SourceTelegram, Channel: ch})
	}
	for _, src := range existing {
		if src.Kind != SourceTelegram {
			out = append(out, src)
		}
	}
	return out
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to UTC", tz)
		loc = time.UTC
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	mergeString(&base.Logging.Level, override.Logging.Level)
	mergeString(&base.Logging.Format, override.Logging.Format)

	mergeString(&base.HTTP.Addr, override.HTTP.Addr)
	mergeString(&base.HTTP.APIToken, override.HTTP.APIToken)

	mergeString(&base.Ledger.Driver, override.Ledger.Driver)
	mergeString(&base.Ledger.DSN, override.Ledger.DSN)

	mergeString(&base.Documents.Driver, override.Documents.Driver)
	if len(override.Documents.Addresses) > 0 {
		base.Documents.Addresses = override.Documents.Addresses
	}
	mergeString(&base.Documents.Username, override.Documents.Username)
	mergeString(&base.Documents.Password, override.Documents.Password)
	mergeString(&base.Documents.APIKey, override.Documents.APIKey)
	mergeString(&base.Documents.IndexPrefix, override.Documents.IndexPrefix)
	mergeString(&base.Documents.Collection, override.Documents.Collection)

	mergeString(&base.Pending.Driver, override.Pending.Driver)
	mergeString(&base.Pending.RedisAddr, override.Pending.RedisAddr)
	mergeString(&base.Pending.Password, override.Pending.Password)
	mergeString(&base.Pending.KeyPrefix, override.Pending.KeyPrefix)
	if override.Pending.DB != 0 {
		base.Pending.DB = override.Pending.DB
	}

	if override.AI.Provider != "" && override.AI.Provider != base.AI.Provider {
		// endpoint and model defaults belong to the default provider
		base.AI = AIConfig{
			Provider:          override.AI.Provider,
			Temperature:       base.AI.Temperature,
			Timeout:           base.AI.Timeout,
			RequestsPerSecond: base.AI.RequestsPerSecond,
			MaxAttempts:       base.AI.MaxAttempts,
			RateLimitStep:     base.AI.RateLimitStep,
		}
		if override.AI.Provider == ProviderOpenAI {
			base.AI.Endpoint = "https://api.openai.com/v1/chat/completions"
			base.AI.Model = "gpt-4o-mini"
		}
	}
	mergeString(&base.AI.Endpoint, override.AI.Endpoint)
	mergeString(&base.AI.Model, override.AI.Model)
	mergeString(&base.AI.APIKey, override.AI.APIKey)
	if override.AI.Temperature != 0 {
		base.AI.Temperature = override.AI.Temperature
	}
	mergeDuration(&base.AI.Timeout, override.AI.Timeout)
	if override.AI.RequestsPerSecond != 0 {
		base.AI.RequestsPerSecond = override.AI.RequestsPerSecond
	}
	if override.AI.MaxAttempts != 0 {
		base.AI.MaxAttempts = override.AI.MaxAttempts
	}
	mergeDuration(&base.AI.RateLimitStep, override.AI.RateLimitStep)

	mergeString(&base.Moderation.BotToken, override.Moderation.BotToken)
	if override.Moderation.ChatID != 0 {
		base.Moderation.ChatID = override.Moderation.ChatID
	}
	mergeString(&base.Moderation.APIBaseURL, override.Moderation.APIBaseURL)
	mergeString(&base.Moderation.Updates, override.Moderation.Updates)
	mergeString(&base.Moderation.WebhookSecret, override.Moderation.WebhookSecret)
	mergeDuration(&base.Moderation.PollTimeout, override.Moderation.PollTimeout)

	if len(override.Sources) > 0 {
		base.Sources = override.Sources
	}

	if len(override.Search.Providers) > 0 {
		base.Search.Providers = override.Search.Providers
	}
	if len(override.Search.Queries) > 0 {
		base.Search.Queries = override.Search.Queries
	}
	mergeDuration(&base.Search.Timeout, override.Search.Timeout)

	if override.Pipeline.MinConfidence != nil {
		base.Pipeline.MinConfidence = override.Pipeline.MinConfidence
	}
	mergeDuration(&base.Pipeline.Lookback, override.Pipeline.Lookback)
	if len(override.Pipeline.Languages) > 0 {
		base.Pipeline.Languages = override.Pipeline.Languages
	}
	mergeDuration(&base.Pipeline.CycleTimeout, override.Pipeline.CycleTimeout)
	mergeDuration(&base.Pipeline.Retention, override.Pipeline.Retention)
	mergeString(&base.Pipeline.Tag, override.Pipeline.Tag)

	mergeString(&base.Scheduler.CycleSpec, override.Scheduler.CycleSpec)
	mergeString(&base.Scheduler.SweepSpec, override.Scheduler.SweepSpec)
	mergeString(&base.Scheduler.Timezone, override.Scheduler.Timezone)
	if override.Scheduler.RunOnStart != nil {
		base.Scheduler.RunOnStart = override.Scheduler.RunOnStart
	}

	return base
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Ledger:  LedgerConfig{Driver: LedgerSQLite, DSN: "file:airnews.db?_pragma=busy_timeout(5000)"},
		Documents: DocumentConfig{
			Driver:     StoreMemory,
			Collection: "news",
		},
		Pending: PendingConfig{Driver: StoreMemory, KeyPrefix: "airnews:pending"},
		AI: AIConfig{
			Provider:          ProviderAnthropic,
			Model:             "claude-3-5-haiku-latest",
			Temperature:       0.3,
			Timeout:           60 * time.Second,
			RequestsPerSecond: 1,
			MaxAttempts:       3,
			RateLimitStep:     5 * time.Second,
		},
		Moderation: TelegramConfig{
			APIBaseURL:  "https://api.telegram.org",
			Updates:     UpdatesPolling,
			PollTimeout: 30 * time.Second,
		},
		Sources: []SourceConfig{
			{Name: "@kunuzofficial", Kind: SourceTelegram, Channel: "kunuzofficial"},
			{Name: "@uza_uz", Kind: SourceTelegram, Channel: "uza_uz"},
			{Name: "@Daryo", Kind: SourceTelegram, Channel: "Daryo"},
			{Name: "@zamonuz", Kind: SourceTelegram, Channel: "zamonuz"},
		},
		Search: SearchConfig{
			Providers: []SearchProviderConfig{
				{Name: SearchTavily, Results: 5},
				{Name: SearchSerpAPI, Results: 5},
				{Name: SearchGoogle, Results: 5},
			},
			Queries: []string{
				"качество воздуха Ташкент AQI сегодня",
				"загрязнение воздуха Узбекистан смог PM2.5",
				"air quality Tashkent Uzbekistan",
			},
			Timeout: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			Lookback:     3 * time.Hour,
			Languages:    []string{"ru", "uz", "en"},
			CycleTimeout: 30 * time.Minute,
			Retention:    7 * 24 * time.Hour,
			Tag:          "Air Quality",
		},
		Scheduler: SchedulerConfig{
			CycleSpec: "@every 3h",
			SweepSpec: "0 0 * * *",
			Timezone:  "UTC",
		},
	}
}
