package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"AirQualityNews/internal/ports"
	"AirQualityNews/internal/retry"
)

// SourceLanguage is the language rewritten texts are produced in.
const SourceLanguage = "ru"

// ErrEmptyRewrite is returned when the service answered with nothing usable.
var ErrEmptyRewrite = errors.New("rewrite produced empty text")

const rewriteSystemPrompt = `Ты профессиональный новостной редактор.
Твоя задача - переписать новость своими словами, сохранив все факты и цифры.`

const rewriteUserPrompt = `Перефразируй эту новость про качество воздуха.

ВАЖНЫЕ ТРЕБОВАНИЯ:
1. Сохрани ВСЕ числовые данные (AQI, PM2.5, температура и т.д.)
2. Сохрани названия районов и локаций
3. Сохрани рекомендации для населения
4. Пиши на том же языке, что и оригинал
5. Сделай текст уникальным, но информативным
6. Текст должен быть 3-5 предложений
7. Не добавляй хэштеги или эмодзи
8. Не добавляй источники или ссылки

ОРИГИНАЛЬНЫЙ ТЕКСТ:
%s

ПЕРЕФОРМУЛИРОВАННАЯ ВЕРСИЯ:`

const translateSystemPrompt = `You are a professional translator specializing in environmental and air quality news.
Translate the text accurately to %s.`

const translateUserPrompt = `Translate the following air quality news text to %s.

IMPORTANT REQUIREMENTS:
1. Keep ALL numerical data (AQI, PM2.5, temperature, etc.) exactly as is
2. Keep location names accurate
3. Preserve the meaning and tone
4. Output ONLY the translation, nothing else

TEXT TO TRANSLATE:
%s

TRANSLATION:`

var rewritePrefixes = []string{
	"Переформулированная версия:",
	"Перефразированная версия:",
	"Вот переформулированная версия:",
	"ПЕРЕФОРМУЛИРОВАННАЯ ВЕРСИЯ:",
	"Here is the rephrased version:",
}

var translationPrefixes = []string{
	"Translation:",
	"TRANSLATION:",
	"Tarjima:",
	"Перевод:",
}

var numberExpr = regexp.MustCompile(`\d+(?:[.,]\d+)*`)

// languageNames override display names where the script matters.
var languageNames = map[string]string{
	"uz": "O'zbek tilida (lotin alifbosida)",
	"en": "English",
	"ru": "Russian",
}

// Rewriter rephrases accepted texts and translates them.
type Rewriter struct {
	invoker ports.Invoker
	policy  retry.Policy
	logger  *slog.Logger
}

var _ ports.Rewriter = (*Rewriter)(nil)

// NewRewriter wires the AI invoker with the shared retry policy.
func NewRewriter(invoker ports.Invoker, policy retry.Policy, log *slog.Logger) *Rewriter {
	if log == nil {
		log = slog.Default()
	}
	return &Rewriter{
		invoker: invoker,
		policy:  policy,
		logger:  log.With("component", "rewriter"),
	}
}

// Rewrite rephrases text. When the rephrased version loses a number the original is returned.
func (r *Rewriter) Rewrite(ctx context.Context, text string) (string, error) {
	prompt := ports.Prompt{
		System:    rewriteSystemPrompt,
		User:      fmt.Sprintf(rewriteUserPrompt, text),
		MaxTokens: 1024,
	}

	reply, err := r.invoke(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("rewrite: %w", err)
	}

	out := stripPrefixes(reply, rewritePrefixes)
	if out == "" {
		return "", ErrEmptyRewrite
	}

	if missing := MissingNumbers(text, out); len(missing) > 0 {
		r.logger.Warn("rewrite dropped numbers, keeping original", "missing", missing)
		return strings.TrimSpace(text), nil
	}

	return out, nil
}

// Translate returns text in lang. Any failure copies text unchanged into the slot.
func (r *Rewriter) Translate(ctx context.Context, text, lang string) string {
	name := LanguageName(lang)
	prompt := ports.Prompt{
		System:    fmt.Sprintf(translateSystemPrompt, name),
		User:      fmt.Sprintf(translateUserPrompt, name, text),
		MaxTokens: 1024,
	}

	reply, err := r.invoke(ctx, prompt)
	if err != nil {
		r.logger.Warn("translation failed, copying source", "lang", lang, "error", err)
		return text
	}

	out := stripPrefixes(reply, translationPrefixes)
	if out == "" {
		r.logger.Warn("empty translation, copying source", "lang", lang)
		return text
	}
	if missing := MissingNumbers(text, out); len(missing) > 0 {
		r.logger.Warn("translation dropped numbers, copying source", "lang", lang, "missing", missing)
		return text
	}

	return out
}

func (r *Rewriter) invoke(ctx context.Context, prompt ports.Prompt) (string, error) {
	return retry.Do(ctx, r.policy, func(ctx context.Context) (string, error) {
		return r.invoker.Invoke(ctx, prompt)
	})
}

// MissingNumbers lists numeric tokens of src that do not occur in out.
func MissingNumbers(src, out string) []string {
	present := map[string]struct{}{}
	for _, n := range numberExpr.FindAllString(out, -1) {
		present[n] = struct{}{}
	}

	var missing []string
	for _, n := range numberExpr.FindAllString(src, -1) {
		if _, ok := present[n]; !ok {
			missing = append(missing, n)
			present[n] = struct{}{}
		}
	}
	return missing
}

// LanguageName returns the prompt-facing name of an ISO language code.
func LanguageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}

func stripPrefixes(reply string, prefixes []string) string {
	out := strings.TrimSpace(reply)
	for _, prefix := range prefixes {
		if strings.HasPrefix(out, prefix) {
			out = strings.TrimSpace(strings.TrimPrefix(out, prefix))
		}
	}
	return out
}
