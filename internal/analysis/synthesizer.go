package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"AirQualityNews/internal/ports"
	"AirQualityNews/internal/retry"
)

const (
	// SynthesisHits is how many search hits go into one synthesis prompt.
	SynthesisHits  = 5
	maxSynthesised = 2
)

// ErrNothingSynthesised is returned when the reply holds no usable news item.
var ErrNothingSynthesised = errors.New("synthesis produced no news")

const synthesisSystemPrompt = `Ты профессиональный новостной редактор, специализирующийся на экологии и качестве воздуха.
Твоя задача - создать информативные новости на основе результатов поиска.`

const synthesisUserPrompt = `На основе следующих результатов поиска создай 1-2 новости о качестве воздуха в Узбекистане.

РЕЗУЛЬТАТЫ ПОИСКА:
%s
Создай новости в формате JSON:
{
    "news": [
        {
            "title": "Заголовок новости на русском (краткий, информативный)",
            "summary": "Содержание новости на русском (3-5 предложений). ОБЯЗАТЕЛЬНО сохрани все числовые данные: AQI, PM2.5, PM10, температуру и т.д.",
            "source_url": "URL источника"
        }
    ]
}

ВАЖНО:
- Сохраняй ВСЕ числовые данные из источников
- Пиши на русском языке
- Не выдумывай цифры, используй только те что есть в источниках`

// Synthesizer condenses raw search hits into a couple of assembled news items.
type Synthesizer struct {
	invoker ports.Invoker
	policy  retry.Policy
	logger  *slog.Logger
}

var _ ports.Synthesizer = (*Synthesizer)(nil)

// NewSynthesizer wires the AI invoker with the shared retry policy.
func NewSynthesizer(invoker ports.Invoker, policy retry.Policy, log *slog.Logger) *Synthesizer {
	if log == nil {
		log = slog.Default()
	}
	return &Synthesizer{
		invoker: invoker,
		policy:  policy,
		logger:  log.With("component", "synthesizer"),
	}
}

// Synthesize asks the service for up to two news items built from the first hits.
// Image URLs are handed out to the items in hit order.
func (s *Synthesizer) Synthesize(ctx context.Context, hits []ports.SearchResult) ([]ports.SearchResult, error) {
	if len(hits) > SynthesisHits {
		hits = hits[:SynthesisHits]
	}
	if len(hits) == 0 {
		return nil, ErrNothingSynthesised
	}

	prompt := ports.Prompt{
		System:    synthesisSystemPrompt,
		User:      fmt.Sprintf(synthesisUserPrompt, formatHits(hits)),
		MaxTokens: 2048,
	}

	reply, err := retry.Do(ctx, s.policy, func(ctx context.Context) (string, error) {
		return s.invoker.Invoke(ctx, prompt)
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	news, err := parseSynthesis(reply)
	if err != nil {
		return nil, err
	}

	out := make([]ports.SearchResult, 0, len(news))
	for i, n := range news {
		res := ports.SearchResult{
			Title:   n.Title,
			Content: n.Summary,
			URL:     n.SourceURL,
		}
		if res.URL == "" {
			res.URL = hits[0].URL
		}
		if i < len(hits) {
			res.ImageURL = hits[i].ImageURL
		}
		out = append(out, res)
	}

	s.logger.Debug("search hits synthesised", "hits", len(hits), "news", len(out))
	return out, nil
}

type synthesisReply struct {
	News []synthesisedNews `json:"news"`
}

type synthesisedNews struct {
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	SourceURL string `json:"source_url"`
}

func parseSynthesis(reply string) ([]synthesisedNews, error) {
	raw, ok := extractJSONObject(reply)
	if !ok {
		return nil, fmt.Errorf("%w: no json object in reply", ErrNothingSynthesised)
	}

	var parsed synthesisReply
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("decode synthesis: %w", err)
	}

	news := make([]synthesisedNews, 0, maxSynthesised)
	for _, n := range parsed.News {
		n.Title = strings.TrimSpace(n.Title)
		n.Summary = strings.TrimSpace(n.Summary)
		n.SourceURL = strings.TrimSpace(n.SourceURL)
		if n.Summary == "" {
			continue
		}
		news = append(news, n)
		if len(news) == maxSynthesised {
			break
		}
	}
	if len(news) == 0 {
		return nil, ErrNothingSynthesised
	}
	return news, nil
}

func formatHits(hits []ports.SearchResult) string {
	var sb strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&sb, "\n%d. %s\n   URL: %s\n   Содержание: %s\n", i+1, strings.TrimSpace(h.Title), h.URL, strings.TrimSpace(h.Content))
	}
	return sb.String()
}
