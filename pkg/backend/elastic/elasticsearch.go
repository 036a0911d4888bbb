package elastic

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/mouradhm/index-transfert/pkg/backend"
)

// NewElasticsearch creates an adapter backed by the official Elasticsearch client.
// Credentials are sent as basic auth when Username is set.
func NewElasticsearch(cfg Config) (*Adapter, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid elasticsearch config: %w", err)
	}
	cfg = cfg.withDefaults()
	maxRetries, disableRetry := cfg.transportRetries()

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     cfg.Addresses,
		Username:      cfg.Username,
		Password:      cfg.Password,
		Transport:     cfg.Transport,
		RetryOnStatus: retryStatuses,
		DisableRetry:  disableRetry,
		MaxRetries:    maxRetries,
		RetryBackoff:  newRetryBackoff(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	return newAdapter(backend.KindElasticsearch, cfg, &esAPI{client: client}), nil
}

type esAPI struct {
	client *elasticsearch.Client
}

func fromES(res *esapi.Response, err error) (*response, error) {
	if err != nil {
		return nil, err
	}
	return &response{StatusCode: res.StatusCode, Body: res.Body}, nil
}

func (e *esAPI) exists(ctx context.Context, index string) (*response, error) {
	es := e.client
	return fromES(es.Indices.Exists([]string{index}, es.Indices.Exists.WithContext(ctx)))
}

func (e *esAPI) create(ctx context.Context, index string, body io.Reader) (*response, error) {
	es := e.client
	opts := []func(*esapi.IndicesCreateRequest){es.Indices.Create.WithContext(ctx)}
	if body != nil {
		opts = append(opts, es.Indices.Create.WithBody(body))
	}
	return fromES(es.Indices.Create(index, opts...))
}

func (e *esAPI) search(ctx context.Context, index string, body io.Reader, size int, keepAlive time.Duration) (*response, error) {
	es := e.client
	return fromES(es.Search(
		es.Search.WithContext(ctx),
		es.Search.WithIndex(index),
		es.Search.WithBody(body),
		es.Search.WithSize(size),
		es.Search.WithScroll(keepAlive),
	))
}

func (e *esAPI) scroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*response, error) {
	es := e.client
	return fromES(es.Scroll(
		es.Scroll.WithContext(ctx),
		es.Scroll.WithScrollID(scrollID),
		es.Scroll.WithScroll(keepAlive),
	))
}

func (e *esAPI) clearScroll(ctx context.Context, scrollID string) (*response, error) {
	es := e.client
	return fromES(es.ClearScroll(
		es.ClearScroll.WithContext(ctx),
		es.ClearScroll.WithScrollID(scrollID),
	))
}

func (e *esAPI) bulk(ctx context.Context, body io.Reader) (*response, error) {
	es := e.client
	return fromES(es.Bulk(body, es.Bulk.WithContext(ctx)))
}
