package analysis

import (
	"strings"

	ahocorasick "github.com/cloudflare/ahocorasick"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"AirQualityNews/internal/domain"
)

const (
	heuristicMatchConfidence = 0.6
	heuristicMissConfidence  = 0.3
	heuristicReason          = "keyword fallback"
)

// DefaultKeywords is the trilingual vocabulary used when the AI reply cannot be parsed.
var DefaultKeywords = []string{
	// ru
	"качество воздуха", "загрязнение воздуха", "загрязнение", "воздух", "смог", "выбросы", "пыльная буря",
	// uz
	"havo sifati", "havo ifloslanishi", "havo", "ifloslanish",
	// en
	"air quality", "air pollution", "smog", "aqi", "pm2.5", "pm10", "pm 2.5", "emissions",
}

// Heuristic is a keyword matcher over normalised text.
type Heuristic struct {
	matcher  *ahocorasick.Matcher
	keywords []string
}

// NewHeuristic builds an Aho-Corasick automaton from keywords.
func NewHeuristic(keywords []string) *Heuristic {
	normalized := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = normalizeText(kw); kw != "" {
			normalized = append(normalized, kw)
		}
	}

	h := &Heuristic{keywords: normalized}
	if len(normalized) > 0 {
		h.matcher = ahocorasick.NewStringMatcher(normalized)
	}
	return h
}

// Matched returns the keywords found in text.
func (h *Heuristic) Matched(text string) []string {
	if h == nil || h.matcher == nil {
		return nil
	}

	hits := h.matcher.Match([]byte(normalizeText(text)))
	out := make([]string, 0, len(hits))
	for _, idx := range hits {
		if idx < len(h.keywords) {
			out = append(out, h.keywords[idx])
		}
	}
	return out
}

// Classify returns a degraded result: relevant at 0.6 on any keyword hit, 0.3 otherwise.
func (h *Heuristic) Classify(text string) domain.ClassificationResult {
	if len(h.Matched(text)) > 0 {
		return domain.ClassificationResult{
			IsRelevant: true,
			Confidence: heuristicMatchConfidence,
			Reason:     heuristicReason,
			Degraded:   true,
		}
	}
	return domain.ClassificationResult{
		Confidence: heuristicMissConfidence,
		Reason:     heuristicReason,
		Degraded:   true,
	}
}

// normalizeText applies NFKC, case folding and whitespace collapsing.
// A Caser is stateful, so one is built per call.
func normalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
