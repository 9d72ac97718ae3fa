package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"AirQualityNews/internal/domain"
	"AirQualityNews/internal/scanner"
)

const (
	telegramBaseURL   = "https://t.me"
	defaultPostLimit  = 20
	defaultMaxPages   = 5
	telegramUserAgent = "AirQualityNews/1.0"
)

var backgroundURLExpr = regexp.MustCompile(`background-image:\s*url\(['"]?([^'")]+)['"]?\)`)

// TelegramScanner reads public channels through their web preview (t.me/s/<channel>).
type TelegramScanner struct {
	client   *http.Client
	baseURL  string
	maxPages int
}

var _ scanner.Scanner = (*TelegramScanner)(nil)

// NewTelegramScanner wires an HTTP client; baseURL defaults to https://t.me.
func NewTelegramScanner(client *http.Client, baseURL string) *TelegramScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if baseURL == "" {
		baseURL = telegramBaseURL
	}
	return &TelegramScanner{client: client, baseURL: strings.TrimSuffix(baseURL, "/"), maxPages: defaultMaxPages}
}

// Name identifies the strategy inside the registry.
func (t *TelegramScanner) Name() string {
	return "telegram"
}

// FetchRecent walks the channel preview newest-first, paging back with ?before=<id>
// until a post at or before req.Since shows up.
func (t *TelegramScanner) FetchRecent(ctx context.Context, req scanner.Request) ([]domain.CandidateItem, error) {
	channel := strings.TrimPrefix(strings.TrimSpace(req.Channel), "@")
	if channel == "" {
		return nil, fmt.Errorf("no channel provided for source %s", req.SourceID)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultPostLimit
	}

	results := make([]domain.CandidateItem, 0, limit)
	before := int64(0)

	for page := 0; page < t.maxPages; page++ {
		pageURL, err := t.buildPageURL(channel, before)
		if err != nil {
			return nil, err
		}

		doc, err := t.fetchDocument(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", channel, err)
		}

		posts := extractPosts(doc, t.baseURL)
		if len(posts) == 0 {
			break
		}

		reachedCursor := false
		for i := len(posts) - 1; i >= 0; i-- {
			post := posts[i]
			if !req.Since.IsZero() && !post.OccurredAt.After(req.Since) {
				reachedCursor = true
				break
			}
			post.SourceID = req.SourceID
			if !req.Keep(post.CandidateItem) {
				continue
			}
			results = append(results, post.CandidateItem)
			if len(results) >= limit {
				return results, nil
			}
		}
		if reachedCursor {
			break
		}

		oldest := posts[0].postID
		if oldest <= 1 || (before != 0 && oldest >= before) {
			break
		}
		before = oldest
	}

	return results, nil
}

func (t *TelegramScanner) buildPageURL(channel string, before int64) (string, error) {
	parsed, err := url.Parse(t.baseURL + "/s/" + url.PathEscape(channel))
	if err != nil {
		return "", fmt.Errorf("invalid channel url for %s: %w", channel, err)
	}
	if before > 0 {
		query := parsed.Query()
		query.Set("before", strconv.FormatInt(before, 10))
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func (t *TelegramScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", telegramUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

type channelPost struct {
	domain.CandidateItem
	postID int64
}

// extractPosts returns posts in page order (oldest first).
func extractPosts(doc *goquery.Document, baseURL string) []channelPost {
	var posts []channelPost

	doc.Find(".tgme_widget_message[data-post]").Each(func(_ int, msg *goquery.Selection) {
		post, ok := parsePost(msg, baseURL)
		if ok {
			posts = append(posts, post)
		}
	})

	return posts
}

func parsePost(msg *goquery.Selection, baseURL string) (channelPost, bool) {
	dataPost, _ := msg.Attr("data-post")
	slash := strings.LastIndex(dataPost, "/")
	if slash < 0 {
		return channelPost{}, false
	}
	id, err := strconv.ParseInt(dataPost[slash+1:], 10, 64)
	if err != nil {
		return channelPost{}, false
	}

	occurredAt := time.Time{}
	if dt, ok := msg.Find(".tgme_widget_message_date time[datetime]").First().Attr("datetime"); ok {
		if parsed, err := time.Parse(time.RFC3339, dt); err == nil {
			occurredAt = parsed.UTC()
		}
	}
	if occurredAt.IsZero() {
		return channelPost{}, false
	}

	textSel := msg.Find(".tgme_widget_message_text").First()
	textSel.Find("br").ReplaceWithHtml("\n")
	text := strings.TrimSpace(textSel.Text())

	var media string
	if style, ok := msg.Find(".tgme_widget_message_photo_wrap").First().Attr("style"); ok {
		if m := backgroundURLExpr.FindStringSubmatch(style); len(m) == 2 {
			media = m[1]
		}
	}

	return channelPost{
		CandidateItem: domain.CandidateItem{
			ItemID:     strconv.FormatInt(id, 10),
			Text:       text,
			OccurredAt: occurredAt,
			MediaRef:   media,
			Link:       baseURL + "/" + dataPost,
		},
		postID: id,
	}, true
}
