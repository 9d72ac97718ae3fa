// Package search implements the web-search providers of the fallback chain.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"AirQualityNews/internal/config"
	"AirQualityNews/internal/ports"
)

const defaultResults = 5

var plain = bluemonday.StrictPolicy()

// New builds the provider named by cfg.
func New(cfg config.SearchProviderConfig, httpClient *http.Client) (ports.SearchProvider, error) {
	switch cfg.Name {
	case config.SearchTavily:
		return NewTavily(httpClient, cfg), nil
	case config.SearchSerpAPI:
		return NewSerpAPI(httpClient, cfg), nil
	case config.SearchGoogle:
		return NewGoogle(httpClient, cfg), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.Name)
	}
}

// client talks JSON over HTTP to a search API.
type client struct {
	http *http.Client
}

func newClient(httpClient *http.Client) *client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &client{http: httpClient}
}

func (c *client) post(ctx context.Context, endpoint string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, v)
}

func (c *client) get(ctx context.Context, endpoint string, params url.Values, v any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	return c.do(req, v)
}

func (c *client) do(req *http.Request, v any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func resultCount(n int) int {
	if n <= 0 {
		return defaultResults
	}
	return n
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(plain.Sanitize(s))), " ")
}

// fillImages gives image-less results the loose images a provider returned, in order.
func fillImages(results []ports.SearchResult, images []string) {
	next := 0
	for i := range results {
		if results[i].ImageURL != "" {
			continue
		}
		for next < len(images) && images[next] == "" {
			next++
		}
		if next >= len(images) {
			return
		}
		results[i].ImageURL = images[next]
		next++
	}
}
