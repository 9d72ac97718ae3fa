package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"

	"AirQualityNews/internal/ports"
)

// ElasticConfig describes how to reach the document store cluster.
type ElasticConfig struct {
	Addresses   []string
	Username    string
	Password    string
	APIKey      string
	IndexPrefix string
	MaxRetries  int
}

// ElasticStore keeps published documents in Elasticsearch, one index per collection.
type ElasticStore struct {
	client *es.Client
	prefix string
}

var _ ports.DocumentStore = (*ElasticStore)(nil)

// NewElasticClient builds a client from configuration.
func NewElasticClient(cfg ElasticConfig) (*es.Client, error) {
	clientCfg := es.Config{
		Addresses:  cfg.Addresses,
		MaxRetries: cfg.MaxRetries,
	}
	switch {
	case cfg.APIKey != "":
		clientCfg.APIKey = cfg.APIKey
	case cfg.Username != "" && cfg.Password != "":
		clientCfg.Username = cfg.Username
		clientCfg.Password = cfg.Password
	}

	client, err := es.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return client, nil
}

// NewElasticStore wires an Elasticsearch client.
func NewElasticStore(client *es.Client, indexPrefix string) *ElasticStore {
	return &ElasticStore{client: client, prefix: indexPrefix}
}

func (s *ElasticStore) index(collection string) string {
	if s.prefix == "" {
		return collection
	}
	return s.prefix + "_" + collection
}

// Put indexes the record under id, replacing any previous version.
func (s *ElasticStore) Put(ctx context.Context, collection, id string, record any) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", id, err)
	}

	res, err := s.client.Index(
		s.index(collection),
		bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(id),
		s.client.Index.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("index document %s: %w", id, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index document %s: %s", id, res.String())
	}

	return nil
}

// DeleteWhere removes every document whose timestamp field is strictly older than the cutoff.
func (s *ElasticStore) DeleteWhere(ctx context.Context, collection string, predicate ports.OlderThan) (int, error) {
	query := map[string]any{
		"query": map[string]any{
			"range": map[string]any{
				predicate.Field: map[string]any{
					"lt": predicate.Before.UTC().Format(time.RFC3339Nano),
				},
			},
		},
	}

	body, err := json.Marshal(query)
	if err != nil {
		return 0, fmt.Errorf("marshal delete query: %w", err)
	}

	res, err := s.client.DeleteByQuery(
		[]string{s.index(collection)},
		bytes.NewReader(body),
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithConflicts("proceed"),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return 0, fmt.Errorf("delete by query: %w", err)
	}
	defer res.Body.Close()

	// nothing was ever published
	if res.StatusCode == http.StatusNotFound && strings.Contains(res.String(), "index_not_found") {
		return 0, nil
	}
	if res.IsError() {
		return 0, fmt.Errorf("delete by query: %s", res.String())
	}

	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode delete response: %w", err)
	}

	return out.Deleted, nil
}
