package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"AirQualityNews/internal/config"
	"AirQualityNews/internal/ports"
)

const googleEndpoint = "https://www.googleapis.com/customsearch/v1"

// Google queries a Google Custom Search engine.
type Google struct {
	client   *client
	endpoint string
	apiKey   string
	cx       string
	results  int
}

var _ ports.SearchProvider = (*Google)(nil)

// NewGoogle builds the provider from its configuration entry.
func NewGoogle(httpClient *http.Client, cfg config.SearchProviderConfig) *Google {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = googleEndpoint
	}
	results := resultCount(cfg.Results)
	if results > 10 {
		results = 10
	}
	return &Google{client: newClient(httpClient), endpoint: endpoint, apiKey: cfg.APIKey, cx: cfg.CX, results: results}
}

// Name identifies the provider in ids and logs.
func (g *Google) Name() string { return config.SearchGoogle }

// Search returns Russian-language results with their pagemap thumbnail.
func (g *Google) Search(ctx context.Context, query string) ([]ports.SearchResult, error) {
	params := url.Values{}
	params.Set("key", g.apiKey)
	params.Set("cx", g.cx)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(g.results))
	params.Set("lr", "lang_ru")

	var resp struct {
		Items []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
			Link    string `json:"link"`
			Pagemap struct {
				CSEImage []struct {
					Src string `json:"src"`
				} `json:"cse_image"`
			} `json:"pagemap"`
		} `json:"items"`
	}
	if err := g.client.get(ctx, g.endpoint, params, &resp); err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}

	out := make([]ports.SearchResult, 0, len(resp.Items))
	for _, it := range resp.Items {
		r := ports.SearchResult{
			Title:   cleanText(it.Title),
			Content: cleanText(it.Snippet),
			URL:     it.Link,
		}
		if len(it.Pagemap.CSEImage) > 0 {
			r.ImageURL = it.Pagemap.CSEImage[0].Src
		}
		out = append(out, r)
	}

	return out, nil
}
