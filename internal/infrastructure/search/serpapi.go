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

const serpAPIEndpoint = "https://serpapi.com/search"

// SerpAPI queries Google results through serpapi.com.
type SerpAPI struct {
	client   *client
	endpoint string
	apiKey   string
	results  int
}

var _ ports.SearchProvider = (*SerpAPI)(nil)

// NewSerpAPI builds the provider from its configuration entry.
func NewSerpAPI(httpClient *http.Client, cfg config.SearchProviderConfig) *SerpAPI {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = serpAPIEndpoint
	}
	return &SerpAPI{client: newClient(httpClient), endpoint: endpoint, apiKey: cfg.APIKey, results: resultCount(cfg.Results)}
}

// Name identifies the provider in ids and logs.
func (s *SerpAPI) Name() string { return config.SearchSerpAPI }

// Search returns organic results; image results fill in thumbnails.
func (s *SerpAPI) Search(ctx context.Context, query string) ([]ports.SearchResult, error) {
	params := url.Values{}
	params.Set("api_key", s.apiKey)
	params.Set("q", query)
	params.Set("engine", "google")
	params.Set("num", strconv.Itoa(s.results))
	params.Set("hl", "ru")

	var resp struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
			Link    string `json:"link"`
		} `json:"organic_results"`
		ImagesResults []struct {
			Original string `json:"original"`
		} `json:"images_results"`
	}
	if err := s.client.get(ctx, s.endpoint, params, &resp); err != nil {
		return nil, fmt.Errorf("serpapi: %w", err)
	}

	out := make([]ports.SearchResult, 0, len(resp.OrganicResults))
	for _, r := range resp.OrganicResults {
		out = append(out, ports.SearchResult{
			Title:   cleanText(r.Title),
			Content: cleanText(r.Snippet),
			URL:     r.Link,
		})
	}

	images := make([]string, 0, 3)
	for i, img := range resp.ImagesResults {
		if i == 3 {
			break
		}
		images = append(images, img.Original)
	}
	fillImages(out, images)

	return out, nil
}
