// Package analysis decides topic relevance and prepares accepted texts for moderation.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"AirQualityNews/internal/domain"
	"AirQualityNews/internal/ports"
	"AirQualityNews/internal/retry"
)

const apiErrorReason = "api error"

const classifySystemPrompt = `Ты эксперт по качеству воздуха и экологии.
Твоя задача - определить, является ли текст новостью или информацией о качестве воздуха.`

const classifyUserPrompt = `Проанализируй следующий текст и определи, является ли он новостью о качестве воздуха.

Текст считается новостью о качестве воздуха, если содержит информацию о:
- Индексе качества воздуха (AQI, ИКВ)
- Загрязнении воздуха, смоге
- Измерениях PM2.5, PM10, озона и других загрязнителей
- Рекомендациях по защите от загрязнения воздуха
- Экологической обстановке связанной с воздухом
- Метеорологических условиях, влияющих на качество воздуха

ТЕКСТ:
%s

Ответь СТРОГО в JSON формате:
{
    "is_air_quality_news": true/false,
    "confidence": 0.0-1.0,
    "reason": "краткое объяснение"
}`

// Classifier scores relevance through the AI service with a keyword fallback.
type Classifier struct {
	invoker   ports.Invoker
	policy    retry.Policy
	heuristic *Heuristic
	logger    *slog.Logger
}

var _ ports.Classifier = (*Classifier)(nil)

// NewClassifier wires the AI invoker, its retry policy and the fallback vocabulary.
func NewClassifier(invoker ports.Invoker, policy retry.Policy, heuristic *Heuristic, log *slog.Logger) *Classifier {
	if heuristic == nil {
		heuristic = NewHeuristic(DefaultKeywords)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{
		invoker:   invoker,
		policy:    policy,
		heuristic: heuristic,
		logger:    log.With("component", "classifier"),
	}
}

// Classify never fails: exhausted retries yield a degraded rejection,
// an unparseable reply falls back to the keyword heuristic.
func (c *Classifier) Classify(ctx context.Context, text string) domain.ClassificationResult {
	prompt := ports.Prompt{
		System:    classifySystemPrompt,
		User:      fmt.Sprintf(classifyUserPrompt, text),
		MaxTokens: 512,
	}

	reply, err := retry.Do(ctx, c.policy, func(ctx context.Context) (string, error) {
		return c.invoker.Invoke(ctx, prompt)
	})
	if err != nil {
		c.logger.Warn("classification call failed", "error", err)
		return domain.ClassificationResult{Reason: apiErrorReason, Degraded: true}
	}

	result, err := parseClassification(reply)
	if err != nil {
		c.logger.Warn("unparseable classification reply, using keywords", "error", err)
		return c.heuristic.Classify(text)
	}

	return result
}

type classificationReply struct {
	IsAirQualityNews *bool   `json:"is_air_quality_news"`
	IsRelevant       *bool   `json:"is_relevant"`
	Confidence       float64 `json:"confidence"`
	Reason           string  `json:"reason"`
}

func parseClassification(reply string) (domain.ClassificationResult, error) {
	raw, ok := extractJSONObject(reply)
	if !ok {
		return domain.ClassificationResult{}, fmt.Errorf("no json object in reply")
	}

	var parsed classificationReply
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("decode reply: %w", err)
	}

	relevant := parsed.IsAirQualityNews
	if relevant == nil {
		relevant = parsed.IsRelevant
	}
	if relevant == nil {
		return domain.ClassificationResult{}, fmt.Errorf("reply has no relevance verdict")
	}

	return domain.ClassificationResult{
		IsRelevant: *relevant,
		Confidence: clamp01(parsed.Confidence),
		Reason:     strings.TrimSpace(parsed.Reason),
	}, nil
}

// extractJSONObject returns the first balanced {...} in s, ignoring braces inside strings.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false

	scan:
		for i := start; i < len(s); i++ {
			ch := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case ch == '\\':
					escaped = true
				case ch == '"':
					inString = false
				}
				continue
			}

			switch ch {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate, true
					}
					break scan
				}
			}
		}

		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
