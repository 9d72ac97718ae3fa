package search

import (
	"context"
	"fmt"
	"net/http"

	"AirQualityNews/internal/config"
	"AirQualityNews/internal/ports"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// Tavily queries the Tavily search API.
type Tavily struct {
	client   *client
	endpoint string
	apiKey   string
	results  int
}

var _ ports.SearchProvider = (*Tavily)(nil)

// NewTavily builds the provider from its configuration entry.
func NewTavily(httpClient *http.Client, cfg config.SearchProviderConfig) *Tavily {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tavilyEndpoint
	}
	return &Tavily{client: newClient(httpClient), endpoint: endpoint, apiKey: cfg.APIKey, results: resultCount(cfg.Results)}
}

// Name identifies the provider in ids and logs.
func (t *Tavily) Name() string { return config.SearchTavily }

// Search runs an advanced search with images.
func (t *Tavily) Search(ctx context.Context, query string) ([]ports.SearchResult, error) {
	payload := map[string]any{
		"api_key":        t.apiKey,
		"query":          query,
		"search_depth":   "advanced",
		"include_images": true,
		"max_results":    t.results,
	}

	var resp struct {
		Results []struct {
			Title   string `json:"title"`
			Content string `json:"content"`
			URL     string `json:"url"`
			Image   string `json:"image"`
		} `json:"results"`
		Images []string `json:"images"`
	}
	if err := t.client.post(ctx, t.endpoint, payload, &resp); err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}

	out := make([]ports.SearchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, ports.SearchResult{
			Title:    cleanText(r.Title),
			Content:  cleanText(r.Content),
			URL:      r.URL,
			ImageURL: r.Image,
		})
	}
	fillImages(out, resp.Images)

	return out, nil
}
